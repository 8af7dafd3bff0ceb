package grpcserver

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"dmeRoutePlanner/internal/auth"
	"dmeRoutePlanner/internal/config"
)

const healthService = "/grpc.health.v1.Health/"

// NewGRPCServer builds a server with the JWT interceptor, request logging,
// the standard health service and the dispatch service registered.
func NewGRPCServer(secret string, srv DispatchServer, log *zap.Logger) *grpc.Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(
		auth.NewUnaryAuthInterceptor(secret, healthService),
		loggingInterceptor(log),
	))
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	RegisterDispatchServer(s, srv)
	return s
}

func loggingInterceptor(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.Duration("elapsed", time.Since(start)),
		}
		if p, ok := auth.FromContext(ctx); ok && p != nil {
			fields = append(fields, zap.String("user_id", p.Name))
		}
		if err != nil {
			log.Warn("rpc failed", append(fields, zap.String("code", status.Code(err).String()), zap.Error(err))...)
		} else {
			log.Debug("rpc", fields...)
		}
		return resp, err
	}
}

// StartGRPC starts the gRPC server on the configured address and returns a shutdown function.
func StartGRPC(cfg *config.Config, srv DispatchServer, log *zap.Logger) (func(context.Context) error, error) {
	if cfg == nil {
		panic("config is required")
	}

	addr := cfg.GRPC.Address
	if addr == "" {
		addr = ":50051"
	}

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	// Plaintext; terminate TLS in front of the server.
	s := NewGRPCServer(cfg.Auth.JWTSecret, srv, log)

	go func() {
		if err := s.Serve(lis); err != nil && log != nil {
			log.Error("grpc serve", zap.Error(err))
		}
	}()

	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() { s.GracefulStop(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		}
	}, nil
}
