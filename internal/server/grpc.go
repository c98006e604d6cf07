package server

import (
	"log/slog"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"account-auth/backend/internal/health"
	"account-auth/backend/internal/server/interceptors"
)

const healthCheckMethod = "/grpc.health.v1.Health/Check"

// NewGRPCServer returns a gRPC server exposing the standard health service
// backed by checker, instrumented with the otelgrpc stats handler.
func NewGRPCServer(checker *health.Checker, logger *slog.Logger) *grpc.Server {
	s := grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			interceptors.LoggingUnary(logger, map[string]bool{healthCheckMethod: true}),
		),
	)
	healthpb.RegisterHealthServer(s, checker.GRPCServer())
	reflection.Register(s)
	return s
}
