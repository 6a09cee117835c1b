package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"gunlayer/broker/internal/ballistics"
	"gunlayer/broker/internal/lead"
	"gunlayer/broker/internal/logging"
	"gunlayer/broker/internal/physics"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "gunlayer.v1.LeadService"
	// SolveMethod is the full method name of Solve.
	SolveMethod = "/" + ServiceName + "/Solve"
	// FireMethod is the full method name of Fire.
	FireMethod = "/" + ServiceName + "/Fire"
	// SharedSecretMetadataKey carries the shared secret on every call.
	SharedSecretMetadataKey = "x-gunlayer-shared-secret"
)

// LeadServer is the server API of LeadService. Messages are free-form structs whose
// fields follow the JSON shape of lead.Request and Reply.
type LeadServer interface {
	Solve(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Fire(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// Gunnery is the slice of a gunnery station Fire drives.
type Gunnery interface {
	ID() string
	Track(target physics.KinematicState)
	SetMotion(motion physics.KinematicState)
	SetModel(model lead.Model)
	Engage(ctx context.Context) (lead.Solution, error)
}

// Reply is the response shape of both methods.
type Reply struct {
	Mount    string        `json:"mount,omitempty"`
	Solution lead.Solution `json:"solution"`
	Report   *lead.Report  `json:"report,omitempty"`
}

// Option customises the service.
type Option func(*Service)

// WithGunnery enables Fire against station.
func WithGunnery(station Gunnery) Option {
	return func(s *Service) { s.station = station }
}

// WithDefaults fills request fields the caller omitted.
func WithDefaults(defaults lead.Defaults) Option {
	return func(s *Service) { s.defaults = defaults }
}

// WithLogger routes service diagnostics to logger.
func WithLogger(logger *logging.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service implements LeadServer on top of a lead.Solver.
type Service struct {
	solver   *lead.Solver
	provider ballistics.Provider
	defaults lead.Defaults
	station  Gunnery
	logger   *logging.Logger
}

// NewService wires the solver and ballistics provider into a LeadServer.
func NewService(solver *lead.Solver, provider ballistics.Provider, opts ...Option) *Service {
	if solver == nil {
		solver = lead.NewSolver()
	}
	service := &Service{solver: solver, provider: provider}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service
}

// Solve computes a lead for the request and returns it without firing.
func (s *Service) Solve(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.FromContextError(err).Err()
	}
	request, err := decodeRequest(req)
	if err != nil {
		return nil, err
	}
	//1.- Resolve catalogue ballistics, then run the solver.
	in, err := request.Resolve(s.provider, s.defaults)
	if err != nil {
		return nil, s.toStatus(err)
	}
	solution, err := s.solver.Solve(in)
	if err != nil {
		return nil, s.toStatus(err)
	}
	reply := Reply{Mount: request.Mount, Solution: solution}
	if in.Target != nil {
		report := lead.LeadReport(solution, *in.Target)
		reply.Report = &report
	}
	return encode(reply)
}

// Fire tracks the request's target on the attached station and engages it.
func (s *Service) Fire(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if s.station == nil {
		return nil, status.Error(codes.Unimplemented, "no gunnery station attached")
	}
	request, err := decodeRequest(req)
	if err != nil {
		return nil, err
	}
	if model := strings.TrimSpace(request.Model); model != "" {
		s.station.SetModel(lead.ParseModel(model))
	}
	if request.Shooter != nil {
		s.station.SetMotion(*request.Shooter)
	}
	if request.Target != nil {
		s.station.Track(*request.Target)
	}
	solution, err := s.station.Engage(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, status.FromContextError(ctxErr).Err()
		}
		return nil, s.toStatus(err)
	}
	return encode(Reply{Mount: s.station.ID(), Solution: solution})
}

// toStatus maps solver and catalogue errors onto gRPC codes.
func (s *Service) toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, lead.ErrMissingInput):
		code = codes.InvalidArgument
	case errors.Is(err, lead.ErrInvalidBallistics):
		code = codes.FailedPrecondition
	case errors.Is(err, ballistics.ErrUnknownCannon), errors.Is(err, ballistics.ErrUnknownProjectile):
		code = codes.NotFound
	}
	if code == codes.Internal {
		s.log().Error("lead rpc failed", logging.Error(err))
	}
	return status.Error(code, err.Error())
}

func (s *Service) log() *logging.Logger {
	if s.logger == nil {
		return logging.L()
	}
	return s.logger
}

func decodeRequest(req *structpb.Struct) (lead.Request, error) {
	var request lead.Request
	if req == nil {
		return request, status.Error(codes.InvalidArgument, "empty request")
	}
	raw, err := json.Marshal(req.AsMap())
	if err != nil {
		return request, status.Errorf(codes.InvalidArgument, "encode request: %v", err)
	}
	if err := json.Unmarshal(raw, &request); err != nil {
		return request, status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return request, nil
}

// toStruct converts any JSON-encodable value into a protobuf Struct.
func toStruct(value any) (*structpb.Struct, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	fields := map[string]any{}
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, err
	}
	return structpb.NewStruct(fields)
}

// fromStruct decodes a protobuf Struct into dst through its JSON form.
func fromStruct(msg *structpb.Struct, dst any) error {
	if msg == nil {
		return errors.New("empty message")
	}
	raw, err := json.Marshal(msg.AsMap())
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

func encode(reply Reply) (*structpb.Struct, error) {
	out, err := toStruct(reply)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode reply: %v", err)
	}
	return out, nil
}

// RegisterLeadServer attaches srv to registrar.
func RegisterLeadServer(registrar grpc.ServiceRegistrar, srv LeadServer) {
	registrar.RegisterService(&LeadServiceDesc, srv)
}

// LeadServiceDesc describes LeadService without generated code; both methods are
// unary and exchange google.protobuf.Struct messages.
var LeadServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LeadServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Solve", Handler: unaryHandler(SolveMethod, LeadServer.Solve)},
		{MethodName: "Fire", Handler: unaryHandler(FireMethod, LeadServer.Fire)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gunlayer/v1/lead.proto",
}

func unaryHandler(fullMethod string, call func(LeadServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		server, ok := srv.(LeadServer)
		if !ok {
			return nil, status.Error(codes.Internal, fmt.Sprintf("%T does not implement LeadServer", srv))
		}
		if interceptor == nil {
			return call(server, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(server, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}
