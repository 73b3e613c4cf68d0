// Package admin exposes the matchmaking server's state over gRPC using the
// standard grpc.health.v1 service.
package admin

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/cory-johannsen/matchrelay/internal/config"
)

// ServiceName is the health service name that tracks the matchmaking listener.
// The empty name reports the same status.
const ServiceName = "matchrelay.Matchmaking"

// Health follows the matchmaking server's running state.
type Health struct {
	srv    *health.Server
	logger *zap.Logger
}

// NewHealth returns a Health reporting NOT_SERVING until SetRunning(true).
func NewHealth(logger *zap.Logger) *Health {
	h := &Health{srv: health.NewServer(), logger: logger}
	h.SetRunning(false)
	return h
}

// SetRunning updates the reported status. It matches the signature of a
// match server status listener.
func (h *Health) SetRunning(running bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if running {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(ServiceName, status)
	h.logger.Debug("health status changed", zap.String("status", status.String()))
}

// Server is the admin gRPC server. It implements the lifecycle Service interface.
type Server struct {
	addr   string
	grpc   *grpc.Server
	health *Health
	logger *zap.Logger
}

// NewServer creates an admin server bound to cfg's address on Start.
//
// Precondition: health and logger must not be nil.
func NewServer(cfg config.AdminConfig, h *Health, logger *zap.Logger) *Server {
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, h.srv)
	return &Server{addr: cfg.Addr(), grpc: gs, health: h, logger: logger}
}

// Start listens on the configured address and serves until Stop.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.logger.Info("admin gRPC server listening", zap.String("addr", lis.Addr().String()))
	return s.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains in-flight calls.
func (s *Server) Stop() {
	s.health.srv.Shutdown()
	s.grpc.GracefulStop()
}
