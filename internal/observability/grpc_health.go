package observability

import (
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealth serves the standard gRPC health protocol so orchestrators can
// probe the relay without speaking HTTP.
type GRPCHealth struct {
	server *grpc.Server
	health *health.Server
	logger zerolog.Logger
}

// NewGRPCHealth creates a health server reporting NOT_SERVING until SetServing.
func NewGRPCHealth(logger zerolog.Logger) *GRPCHealth {
	h := &GRPCHealth{
		server: grpc.NewServer(),
		health: health.NewServer(),
		logger: logger,
	}
	healthpb.RegisterHealthServer(h.server, h.health)
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	return h
}

// Serve blocks serving on lis until Stop is called.
func (h *GRPCHealth) Serve(lis net.Listener) error {
	h.logger.Info().Str("addr", lis.Addr().String()).Msg("gRPC health server listening")
	return h.server.Serve(lis)
}

// SetServing flips the overall service status.
func (h *GRPCHealth) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(serviceName, status)
}

// Stop marks the service NOT_SERVING and drains the server.
func (h *GRPCHealth) Stop() {
	h.health.Shutdown()
	h.server.GracefulStop()
}
