// Command annotator serves BioThings annotations for CURIEs and TRAPI
// knowledge graphs over HTTP and gRPC.
//
// Configuration is read from the file named by ANNOTATOR_CONFIG (a path to
// annotator.yaml or a directory containing it); see package config for the
// environment overrides.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.opentelemetry.io/otel"

	"github.com/zero-day-ai/annotator"
	"github.com/zero-day-ai/annotator/config"
	"github.com/zero-day-ai/annotator/serve"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "annotator: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := newLogger(os.Stdout, cfg.Log)
	slog.SetDefault(logger)

	tp := serve.NewTracerProvider("annotator", version, logger)
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			logger.Warn("failed to shut down tracer provider", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	srv, err := serve.NewServer(serverConfig(cfg.Server), app.annotator,
		serve.WithLogger(logger),
		serve.WithHealthCheck(app.healthCheck),
	)
	if err != nil {
		return err
	}

	if err := app.register(ctx, srv.HTTPPort(), srv.GRPCPort()); err != nil {
		srv.Stop()
		return err
	}

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serverConfig maps the server section onto listener settings.
func serverConfig(sc *config.ServerConfig) *serve.Config {
	out := &serve.Config{
		HTTPAddr:        fmt.Sprintf(":%d", sc.GetHTTPPort()),
		GRPCAddr:        grpcAddr(sc.GetGRPCPort()),
		GracefulTimeout: sc.GetGracefulTimeout(),
	}
	if sc.TLSEnabled() {
		out.TLSCertFile = sc.TLSCertFile
		out.TLSKeyFile = sc.TLSKeyFile
	}
	return out
}

func grpcAddr(port int) string {
	if port == 0 {
		return ""
	}
	return fmt.Sprintf(":%d", port)
}

// newLogger builds the process logger from the log section.
func newLogger(w io.Writer, cfg *config.LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.GetLevel()}
	if cfg.GetFormat() == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

var _ serve.Annotator = (*annotator.Annotator)(nil)
