// Package server provides gRPC server lifecycle management.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/solatis/rulekeeper/internal/core/api"
	"github.com/solatis/rulekeeper/internal/core/config"
	"github.com/solatis/rulekeeper/internal/core/metrics"
)

// GRPCServer manages gRPC server lifecycle and the optional metrics endpoint.
type GRPCServer struct {
	server   *grpc.Server
	health   *health.Server
	listener net.Listener
	metrics  *metrics.Metrics
	http     *http.Server
	config   *config.ServerConfig
	logger   zerolog.Logger
}

// NewGRPCServer creates gRPC server with interceptors and service registration.
// m may be nil; the metrics endpoint is then never started.
func NewGRPCServer(cfg *config.ServerConfig, service api.AudienceServer, m *metrics.Metrics, logger zerolog.Logger) (*GRPCServer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}

	// Outermost first: the timeout bounds everything the logger measures.
	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			timeoutInterceptor(cfg.RequestTimeout),
			observeInterceptor(logger, m),
		),
	}

	server := grpc.NewServer(opts...)
	RegisterAudienceServer(server, service)

	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)
	healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	return &GRPCServer{
		server:  server,
		health:  healthServer,
		metrics: m,
		config:  cfg,
		logger:  logger,
	}, nil
}

// Start binds listener and serves gRPC requests.
// Serve blocks until Shutdown is called.
func (s *GRPCServer) Start(ctx context.Context) error {
	addr := s.config.Addr()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	if err := s.startMetrics(); err != nil {
		listener.Close()
		return err
	}
	return s.Serve(listener)
}

// Serve serves gRPC requests on an existing listener.
func (s *GRPCServer) Serve(listener net.Listener) error {
	s.listener = listener
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("serving gRPC")
	return s.server.Serve(listener)
}

// startMetrics serves /metrics on metrics_port when enabled.
func (s *GRPCServer) startMetrics() error {
	if s.metrics == nil || s.config.MetricsPort == 0 {
		return nil
	}
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.MetricsPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to bind metrics %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", s.metrics.Handler())
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("metrics endpoint stopped")
		}
	}()
	s.logger.Info().Str("addr", addr).Msg("serving metrics")
	return nil
}

// Shutdown gracefully stops server with 30-second timeout.
func (s *GRPCServer) Shutdown(ctx context.Context) error {
	s.health.Shutdown()
	if s.http != nil {
		if err := s.http.Shutdown(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("metrics endpoint shutdown")
		}
	}

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		return nil
	case <-ctx.Done():
		s.server.Stop()
		return fmt.Errorf("shutdown cancelled by context: %w", ctx.Err())
	case <-time.After(30 * time.Second):
		s.server.Stop()
		return fmt.Errorf("graceful shutdown timeout, forced stop")
	}
}
