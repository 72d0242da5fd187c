package serve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	grpchealth "google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Config holds serve configuration.
type Config struct {
	// HTTPAddr is the listen address of the HTTP API.
	// Default: ":8080"
	HTTPAddr string

	// GRPCAddr is the listen address of the gRPC API. Empty disables it.
	GRPCAddr string

	// GracefulTimeout is the maximum duration to wait for active requests
	// to complete during graceful shutdown.
	// Default: 10 seconds
	GracefulTimeout time.Duration

	// TLSCertFile and TLSKeyFile enable TLS on the gRPC listener when both are set.
	TLSCertFile string
	TLSKeyFile  string
}

// DefaultConfig returns default serve configuration.
func DefaultConfig() *Config {
	return &Config{
		HTTPAddr:        ":8080",
		GRPCAddr:        ":50051",
		GracefulTimeout: 10 * time.Second,
	}
}

// Server runs the HTTP and gRPC APIs with lifecycle management.
type Server struct {
	config       *Config
	logger       *slog.Logger
	healthCheck  HealthCheck
	interval     time.Duration
	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcListener net.Listener
	healthServer *grpchealth.Server
}

// NewServer binds the listeners and wires a into both APIs.
func NewServer(cfg *Config, a Annotator, opts ...Option) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.GracefulTimeout <= 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = newRegistry()
	}
	m := newMetrics(o.metrics)

	httpAddr := cfg.HTTPAddr
	if httpAddr == "" {
		httpAddr = ":8080"
	}
	httpListener, err := net.Listen("tcp", httpAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", httpAddr, err)
	}

	s := &Server{
		config:       cfg,
		logger:       o.logger,
		healthCheck:  o.healthCheck,
		interval:     o.healthInterval,
		httpListener: httpListener,
		httpServer: &http.Server{
			Handler:           newHandler(a, o, m),
			ReadHeaderTimeout: 10 * time.Second,
		},
		healthServer: grpchealth.NewServer(),
	}

	if cfg.GRPCAddr == "" {
		return s, nil
	}

	grpcOpts := []grpc.ServerOption{grpc.ChainUnaryInterceptor(m.unaryInterceptor())}
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertFile, cfg.TLSKeyFile)
		if err != nil {
			httpListener.Close()
			return nil, fmt.Errorf("failed to load TLS credentials: %w", err)
		}
		grpcOpts = append(grpcOpts, grpc.Creds(creds))
	}

	grpcListener, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		httpListener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.GRPCAddr, err)
	}

	s.grpcListener = grpcListener
	s.grpcServer = grpc.NewServer(grpcOpts...)
	RegisterGRPC(s.grpcServer, a, o.logger)
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.healthServer)

	return s, nil
}

// GRPCServer returns the underlying gRPC server, or nil when gRPC is disabled.
func (s *Server) GRPCServer() *grpc.Server {
	return s.grpcServer
}

// HealthServer returns the gRPC health server.
func (s *Server) HealthServer() *grpchealth.Server {
	return s.healthServer
}

// HTTPPort returns the port the HTTP API listens on.
// This is useful when using port 0 to get an available port.
func (s *Server) HTTPPort() int {
	return listenerPort(s.httpListener)
}

// GRPCPort returns the port the gRPC API listens on, or 0 when disabled.
func (s *Server) GRPCPort() int {
	return listenerPort(s.grpcListener)
}

func listenerPort(l net.Listener) int {
	if l == nil {
		return 0
	}
	if addr, ok := l.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Serve starts both APIs and blocks until shutdown.
// It handles graceful shutdown on SIGINT/SIGTERM signals.
// The context can be used to initiate shutdown programmatically.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if s.grpcServer != nil {
		go func() {
			if err := s.grpcServer.Serve(s.grpcListener); err != nil {
				errCh <- fmt.Errorf("gRPC server error: %w", err)
			}
		}()
	}

	s.logger.Info("annotator serving", "http_port", s.HTTPPort(), "grpc_port", s.GRPCPort())

	healthCtx, stopHealth := context.WithCancel(ctx)
	defer stopHealth()
	go s.watchHealth(healthCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		s.GracefulStop()
		return ctx.Err()
	case sig := <-sigCh:
		s.logger.Info("received signal, shutting down gracefully", "signal", sig.String())
		s.GracefulStop()
		return nil
	case err := <-errCh:
		s.Stop()
		return err
	}
}

// watchHealth refreshes the gRPC health status until ctx ends.
func (s *Server) watchHealth(ctx context.Context) {
	s.refreshHealth(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refreshHealth(ctx)
		}
	}
}

func (s *Server) refreshHealth(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	st := s.healthCheck(checkCtx)
	serving := grpc_health_v1.HealthCheckResponse_SERVING
	if st.IsUnhealthy() {
		serving = grpc_health_v1.HealthCheckResponse_NOT_SERVING
		s.logger.Warn("service unhealthy", "message", st.Message, "details", st.Details)
	}
	s.healthServer.SetServingStatus("", serving)
	s.healthServer.SetServingStatus(ServiceName, serving)
}

// Stop immediately stops both APIs. Active requests are terminated.
func (s *Server) Stop() {
	s.healthServer.Shutdown()
	if s.grpcServer != nil {
		s.grpcServer.Stop()
	}
	s.httpServer.Close()
}

// GracefulStop stops accepting new requests and waits for active ones to
// complete within the configured timeout, then forces the rest closed.
func (s *Server) GracefulStop() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.GracefulTimeout)
	defer cancel()

	s.healthServer.Shutdown()

	done := make(chan struct{})
	go func() {
		if s.grpcServer != nil {
			s.grpcServer.GracefulStop()
		}
		close(done)
	}()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("HTTP shutdown incomplete", "error", err)
		s.httpServer.Close()
	}

	select {
	case <-done:
		s.logger.Info("server stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("graceful shutdown timeout, forcing stop")
		if s.grpcServer != nil {
			s.grpcServer.Stop()
		}
	}
}
