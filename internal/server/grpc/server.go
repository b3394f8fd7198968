// Package grpc exposes the STT service as the whisperd.v1.Engine gRPC
// service. Requests and replies are google.protobuf.Struct values holding the
// same payloads and envelopes as the HTTP API.
package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ekisa-team/whisperd/internal/service"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "whisperd.v1.Engine"

// EngineServer is the server API of whisperd.v1.Engine.
type EngineServer interface {
	LoadModel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UnloadModel(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetModelStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetModels(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateTranscription(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateTranslation(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes whisperd.v1.Engine for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*EngineServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("LoadModel", EngineServer.LoadModel),
		unary("UnloadModel", EngineServer.UnloadModel),
		unary("GetModelStatus", EngineServer.GetModelStatus),
		unary("GetModels", EngineServer.GetModels),
		unary("CreateTranscription", EngineServer.CreateTranscription),
		unary("CreateTranslation", EngineServer.CreateTranslation),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "whisperd/v1/engine.proto",
}

type method func(EngineServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call method) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(EngineServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(EngineServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Engine implements EngineServer on top of the STT service.
type Engine struct {
	stt *service.STT
}

// NewEngine creates an Engine.
func NewEngine(stt *service.STT) *Engine {
	return &Engine{stt: stt}
}

func (e *Engine) serve(ctx context.Context, fn func(context.Context, service.Payload) service.Reply, in *structpb.Struct) (*structpb.Struct, error) {
	reply := fn(ctx, in.AsMap())

	data, err := json.Marshal(reply)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode reply: %v", err)
	}

	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode reply: %v", err)
	}
	return out, nil
}

func (e *Engine) LoadModel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.serve(ctx, e.stt.LoadModel, in)
}

func (e *Engine) UnloadModel(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.serve(ctx, e.stt.UnloadModel, in)
}

func (e *Engine) GetModelStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.serve(ctx, e.stt.GetModelStatus, in)
}

func (e *Engine) GetModels(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.serve(ctx, e.stt.GetModels, in)
}

func (e *Engine) CreateTranscription(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.serve(ctx, e.stt.CreateTranscription, in)
}

func (e *Engine) CreateTranslation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	return e.serve(ctx, e.stt.CreateTranslation, in)
}

// Server is the gRPC façade.
type Server struct {
	server *grpc.Server
}

// NewServer creates a gRPC server with the Engine service registered.
func NewServer(stt *service.STT, opts ...grpc.ServerOption) *Server {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(logUnary)}, opts...)

	s := grpc.NewServer(opts...)
	s.RegisterService(&ServiceDesc, NewEngine(stt))

	return &Server{server: s}
}

// Serve accepts connections on lis until the server stops.
func (s *Server) Serve(lis net.Listener) error {
	slog.Info("Starting gRPC server", "address", lis.Addr().String())

	if err := s.server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("grpc: %w", err)
	}
	return nil
}

// ListenAndServe listens on addr and serves.
func (s *Server) ListenAndServe(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("grpc: failed to listen on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Shutdown stops accepting calls and waits for the running ones until ctx
// is done, then stops hard.
func (s *Server) Shutdown(ctx context.Context) {
	slog.Info("Stopping gRPC server")

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
	}
}

func logUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	if err != nil {
		slog.Error("gRPC call failed", "method", info.FullMethod, "elapsed", time.Since(start), "error", err)
	} else {
		slog.Debug("gRPC call served", "method", info.FullMethod, "elapsed", time.Since(start))
	}

	return resp, err
}
