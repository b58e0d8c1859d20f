// Package grpcserver exposes component health over the standard gRPC health protocol
package grpcserver

import (
	"context"
	"dlob_engine/internal/core"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// HealthSource reports component health transitions
type HealthSource interface {
	OnChange(fn func(component string, healthy bool))
}

// Server is a gRPC server carrying the health and reflection services
type Server struct {
	port   int
	srv    *grpc.Server
	health *health.Server
	logger core.ILogger
}

// NewServer creates a server whose health statuses mirror src. The empty service
// name carries overall health; every component is also a service name.
func NewServer(port int, src HealthSource, logger core.ILogger, opts ...grpc.ServerOption) *Server {
	srv := grpc.NewServer(opts...)
	healthSrv := health.NewServer()
	healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(srv, healthSrv)
	reflection.Register(srv)

	s := &Server{
		port:   port,
		srv:    srv,
		health: healthSrv,
		logger: logger.WithField("component", "grpc_server"),
	}
	if src != nil {
		src.OnChange(s.setStatus)
	}
	return s
}

func (s *Server) setStatus(component string, healthy bool) {
	status := healthpb.HealthCheckResponse_SERVING
	if !healthy {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus(component, status)
}

// Start listens on the configured port and serves until ctx is done
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.port, err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on lis until ctx is done, then drains in-flight RPCs
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting gRPC server", "addr", lis.Addr().String())
		errCh <- s.srv.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("Stopping gRPC server")
		s.health.Shutdown()
		s.srv.GracefulStop()
		return nil
	}
}
