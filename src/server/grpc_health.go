package server

import (
	"fmt"
	"net"

	"queue-sync/src/logger"
	"queue-sync/src/models"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ChannelService is the health service name tracking the live channel.
const ChannelService = "queue-sync.channel"

// -----------------------------------------------------------------------------
// HealthServer
// -----------------------------------------------------------------------------

// HealthServer exports the connection-health signal over the standard gRPC
// health protocol so supervisors can probe it.
type HealthServer struct {
	Config *models.MConfig
	Logger *logger.Logger

	grpcServer *grpc.Server
	health     *health.Server
}

func NewHealthServer(cfg *models.MConfig, log *logger.Logger) *HealthServer {
	h := &HealthServer{
		Config:     cfg,
		Logger:     log,
		grpcServer: grpc.NewServer(),
		health:     health.NewServer(),
	}
	h.health.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	h.health.SetServingStatus(ChannelService, grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	grpc_health_v1.RegisterHealthServer(h.grpcServer, h.health)
	return h
}

// -----------------------------------------------------------------------------

// ObserveTransition flips the channel service to SERVING while the channel is
// open. Its signature matches the connection manager's observer.
func (h *HealthServer) ObserveTransition(ev models.MConnectionEvent, _ models.MConnectionHealth) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if ev.To == models.PhaseOpen {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(ChannelService, status)
}

// -----------------------------------------------------------------------------

// Start blocks serving gRPC on grpc_port until Stop.
func (h *HealthServer) Start() error {
	addr := fmt.Sprintf("%s:%d", h.Config.Host, h.Config.GrpcPort)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	h.Logger.Info("gRPC health listening on %s", addr)
	return h.grpcServer.Serve(lis)
}

// -----------------------------------------------------------------------------

func (h *HealthServer) Stop() {
	h.health.Shutdown()
	h.grpcServer.GracefulStop()
}

// Checker exposes the in-process health implementation.
func (h *HealthServer) Checker() grpc_health_v1.HealthServer {
	return h.health
}
