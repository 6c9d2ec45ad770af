// Package grpc exposes the billing service's liveness over the standard gRPC
// health protocol so orchestrators can probe it without HTTP.
package grpc

import (
	"context"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-checked service; "" reports the whole server.
const ServiceName = "billing.CreditLedger"

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthServer struct {
	server *grpc.Server
	health *health.Server
	store  Pinger
	logger *slog.Logger
}

func NewHealthServer(store Pinger, logger *slog.Logger, opts ...grpc.ServerOption) *HealthServer {
	s := &HealthServer{
		server: grpc.NewServer(opts...),
		health: health.NewServer(),
		store:  store,
		logger: logger.With("component", "grpc_health_server"),
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	reflection.Register(s.server)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Server returns the underlying gRPC server for Serve and GracefulStop.
func (s *HealthServer) Server() *grpc.Server {
	return s.server
}

// Check pings the store once and publishes the result.
func (s *HealthServer) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := s.store.Ping(ctx); err != nil {
		s.logger.WarnContext(ctx, "Store ping failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.setStatus(status)
	return status
}

// Watch re-checks the store every interval until ctx ends, then marks the
// server as shutting down.
func (s *HealthServer) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

func (s *HealthServer) setStatus(status healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(ServiceName, status)
}
