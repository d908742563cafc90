package remote

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/banshee-data/pointgen/internal/model"
	"github.com/banshee-data/pointgen/internal/monitoring"
)

const (
	serviceName  = "pointgen.Decoder"
	methodLoad   = "/" + serviceName + "/Load"
	methodSample = "/" + serviceName + "/Sample"
	methodUnload = "/" + serviceName + "/Unload"
	maxMsgSize   = 64 * 1024 * 1024 // large batches of 1024-point clouds
)

// decoderService is the server-side contract of the Decoder service.
type decoderService interface {
	Load(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Sample(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Unload(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*decoderService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Load", Handler: unaryHandler(methodLoad, decoderService.Load)},
		{MethodName: "Sample", Handler: unaryHandler(methodSample, decoderService.Sample)},
		{MethodName: "Unload", Handler: unaryHandler(methodUnload, decoderService.Unload)},
	},
	Metadata: "pointgen/decoder",
}

type unaryMethod func(decoderService, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(fullMethod string, call unaryMethod) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		svc := srv.(decoderService)
		if interceptor == nil {
			return call(svc, ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(svc, ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Server exposes a model.Backend as the Decoder gRPC service.
type Server struct {
	backend model.Backend
}

// NewServer wraps backend.
func NewServer(backend model.Backend) *Server {
	return &Server{backend: backend}
}

// Register attaches the service to a gRPC server.
func (s *Server) Register(r grpc.ServiceRegistrar) {
	r.RegisterService(&serviceDesc, s)
}

// ServerOptions returns the options a model server should be created with.
func ServerOptions() []grpc.ServerOption {
	return []grpc.ServerOption{
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	}
}

// Load acquires the backend on the requested device.
func (s *Server) Load(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	device, ckpt, err := decodeLoad(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode load request: %v", err)
	}
	if _, err := model.ParseDevice(string(device)); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.backend.Acquire(ctx, device, ckpt); err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "acquire: %v", err)
	}
	monitoring.Diagf("model server: loaded model on %s", device)
	return &structpb.Struct{}, nil
}

// Sample decodes one batch.
func (s *Server) Sample(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := decodeRequest(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "decode sample request: %v", err)
	}
	batch, err := s.backend.Decode(ctx, r)
	switch {
	case errors.Is(err, model.ErrNotAcquired):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, status.FromContextError(err).Err()
	case err != nil:
		return nil, status.Errorf(codes.Internal, "decode: %v", err)
	}
	return encodeBatch(batch), nil
}

// Unload releases the backend.
func (s *Server) Unload(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.backend.Release(); err != nil {
		return nil, status.Errorf(codes.Internal, "release: %v", err)
	}
	monitoring.Diagf("model server: unloaded model")
	return &structpb.Struct{}, nil
}
