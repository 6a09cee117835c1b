package rpc

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"google.golang.org/grpc/encoding"
)

// CompressorName is the grpc-encoding value advertised for zstd payloads.
const CompressorName = "zstd"

func init() {
	encoding.RegisterCompressor(zstdCompressor{})
}

// zstdCompressor plugs klauspost zstd into the gRPC message compression registry.
type zstdCompressor struct{}

// Name reports the identifier used in the grpc-encoding header.
func (zstdCompressor) Name() string { return CompressorName }

// Compress wraps w in a single-threaded zstd encoder.
func (zstdCompressor) Compress(w io.Writer) (io.WriteCloser, error) {
	encoder, err := zstd.NewWriter(w, zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	return encoder, nil
}

// Decompress wraps r in a zstd decoder that releases itself at end of stream.
func (zstdCompressor) Decompress(r io.Reader) (io.Reader, error) {
	decoder, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("zstd reader: %w", err)
	}
	return &zstdReader{decoder: decoder}, nil
}

type zstdReader struct {
	decoder *zstd.Decoder
}

func (r *zstdReader) Read(p []byte) (int, error) {
	n, err := r.decoder.Read(p)
	//1.- The decoder holds buffers until closed; give them back once the message ends.
	if err == io.EOF {
		r.decoder.Close()
	}
	return n, err
}
