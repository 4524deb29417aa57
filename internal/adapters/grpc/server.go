package grpc

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// Probe reports whether a dependency is usable.
type Probe func(ctx context.Context) error

// Server is the internal gRPC endpoint. It serves the standard health
// service, with the status driven by the same probes as /readyz.
type Server struct {
	logger      *slog.Logger
	server      *grpc.Server
	health      *health.Server
	serviceName string
	probes      []Probe
}

func NewServer(logger *slog.Logger, serviceName string, probes ...Probe) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		logger:      logger,
		health:      health.NewServer(),
		serviceName: serviceName,
		probes:      probes,
	}
	s.server = grpc.NewServer(grpc.ChainUnaryInterceptor(s.recoverInterceptor, s.loggingInterceptor))
	healthpb.RegisterHealthServer(s.server, s.health)
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	return s
}

func (s *Server) GRPC() *grpc.Server {
	return s.server
}

// MonitorHealth re-runs the probes every interval until ctx is done.
func (s *Server) MonitorHealth(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		s.refresh(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) refresh(ctx context.Context) {
	for _, probe := range s.probes {
		probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := probe(probeCtx)
		cancel()
		if err != nil {
			s.logger.WarnContext(ctx, "dependency probe failed",
				"module", "grpc",
				"layer", "adapter",
				"operation", "health_probe",
				"outcome", "failure",
				"error", err,
			)
			s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
			return
		}
	}
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	if s.serviceName != "" {
		s.health.SetServingStatus(s.serviceName, st)
	}
}

// Shutdown marks the server not serving and drains in-flight calls.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.server.GracefulStop()
}

func (s *Server) loggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.logger.DebugContext(ctx, "grpc call completed",
		"module", "grpc",
		"layer", "adapter",
		"operation", info.FullMethod,
		"outcome", outcome,
		"code", status.Code(err).String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return resp, err
}

func (s *Server) recoverInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.ErrorContext(ctx, "panic recovered",
				"module", "grpc",
				"layer", "adapter",
				"operation", info.FullMethod,
				"outcome", "failure",
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			err = status.Error(codes.Internal, "internal error")
		}
	}()
	return handler(ctx, req)
}
