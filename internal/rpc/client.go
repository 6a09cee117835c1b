package rpc

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"gunlayer/broker/internal/lead"
)

// Client calls LeadService over an established connection.
type Client struct {
	cc       grpc.ClientConnInterface
	secret   string
	callOpts []grpc.CallOption
}

// ClientOption customises a Client.
type ClientOption func(*Client)

// WithSharedSecret attaches secret to every outgoing call.
func WithSharedSecret(secret string) ClientOption {
	return func(c *Client) { c.secret = strings.TrimSpace(secret) }
}

// WithCompression asks for zstd-compressed request messages.
func WithCompression() ClientOption {
	return func(c *Client) { c.callOpts = append(c.callOpts, grpc.UseCompressor(CompressorName)) }
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface, opts ...ClientOption) *Client {
	client := &Client{cc: cc}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client
}

// Solve requests a lead without firing.
func (c *Client) Solve(ctx context.Context, req lead.Request) (Reply, error) {
	return c.call(ctx, SolveMethod, req)
}

// Fire tracks req.Target on the server's station and engages it.
func (c *Client) Fire(ctx context.Context, req lead.Request) (Reply, error) {
	return c.call(ctx, FireMethod, req)
}

func (c *Client) call(ctx context.Context, method string, req lead.Request) (Reply, error) {
	in, err := toStruct(req)
	if err != nil {
		return Reply{}, fmt.Errorf("encode request: %w", err)
	}
	if c.secret != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, SharedSecretMetadataKey, c.secret)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, in, out, c.callOpts...); err != nil {
		return Reply{}, err
	}
	var reply Reply
	if err := fromStruct(out, &reply); err != nil {
		return Reply{}, fmt.Errorf("decode reply: %w", err)
	}
	return reply, nil
}
