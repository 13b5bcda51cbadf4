package healthcheck

import (
	"context"
	"errors"
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/oshokin/eve-alert/internal/logger"
)

// ServiceName is the health service name tracking the detection run.
const ServiceName = "eve-alert"

// Server is a gRPC server exposing only the health service.
type Server struct {
	// grpc is the underlying gRPC server.
	grpc *grpc.Server
	// health holds the reported statuses.
	health *health.Server
}

// New creates a server reporting the run as not serving.
func New() *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
	}

	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return s
}

// SetRunning reports whether a detection run is active.
func (s *Server) SetRunning(running bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if running {
		status = healthpb.HealthCheckResponse_SERVING
	}

	s.health.SetServingStatus(ServiceName, status)
}

// Serve listens on address and blocks until ctx is canceled or the server stops.
func (s *Server) Serve(ctx context.Context, address string) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "grpc-health")

	// Setup TCP listener for gRPC server.
	lc := net.ListenConfig{}

	lis, err := lc.Listen(context.WithoutCancel(ctx), "tcp", address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", address, err)
	}

	return s.ServeListener(ctx, lis)
}

// ServeListener serves on lis until ctx is canceled.
func (s *Server) ServeListener(ctx context.Context, lis net.Listener) error {
	logger.InfoKV(ctx, "Health server listening", "listen_address", lis.Addr().String())

	// Done channel is closed after GracefulStop finishes to ensure we block
	// until the server fully stops before returning.
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(done)

		select {
		case <-ctx.Done():
		case <-stopped:
			return
		}

		logger.Info(ctx, "Shutting down health server")

		// Watchers must see the shutdown before the connection goes away.
		s.health.Shutdown()
		s.grpc.GracefulStop()
	}()

	err := s.grpc.Serve(lis)

	close(stopped)
	<-done

	if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve gRPC: %w", err)
	}

	logger.Info(ctx, "Health server stopped")

	return nil
}
