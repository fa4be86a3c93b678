// Package grpcapi serves the gRPC health service used by orchestrators to
// probe the relay.
package grpcapi

import (
	"net"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"meetmind-asr-relay/internal/observability"
	"meetmind-asr-relay/internal/observability/metrics"
)

// ServiceName is the health service name reported for the relay.
const ServiceName = "meetmind.asr.Relay"

// Server wraps a gRPC server exposing health and reflection.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
}

// New creates the server with logging and metrics interceptors.
func New(m *metrics.Metrics) *Server {
	g := grpc.NewServer(
		grpc.UnaryInterceptor(observability.UnaryServerInterceptor(m)),
		grpc.StreamInterceptor(observability.StreamServerInterceptor(m)),
	)

	// Register gRPC health check service
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(g, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)

	return &Server{grpc: g, health: hs}
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) {
	go func() {
		log.Info().Str("addr", lis.Addr().String()).Msg("Starting gRPC health server")
		if err := s.grpc.Serve(lis); err != nil && err != grpc.ErrServerStopped {
			log.Error().Err(err).Msg("gRPC serve failed")
		}
	}()
}

// SetNotServing marks every service NOT_SERVING, e.g. while draining.
func (s *Server) SetNotServing() {
	s.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	s.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
}

// Stop flips health to NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	s.SetNotServing()
	s.grpc.GracefulStop()
}
