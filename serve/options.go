package serve

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zero-day-ai/annotator/health"
)

// HealthCheck reports the health of the service and its dependencies.
type HealthCheck func(ctx context.Context) health.Status

// Option configures a Server or Handler.
type Option func(*options)

type options struct {
	logger         *slog.Logger
	healthCheck    HealthCheck
	metrics        *prometheus.Registry
	healthInterval time.Duration
}

func defaultOptions() *options {
	return &options{
		logger: slog.Default(),
		healthCheck: func(context.Context) health.Status {
			return health.Healthy("no checks configured")
		},
		healthInterval: 30 * time.Second,
	}
}

// WithLogger sets the logger used for access logs and lifecycle events.
// If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithHealthCheck sets the check behind GET /health and the gRPC health
// service.
//
// Example:
//
//	serve.WithHealthCheck(func(ctx context.Context) health.Status {
//	    return health.Soften(health.EndpointCheck(ctx, "https://mygene.info/v3"))
//	})
func WithHealthCheck(check HealthCheck) Option {
	return func(o *options) {
		if check != nil {
			o.healthCheck = check
		}
	}
}

// WithMetricsRegistry sets the Prometheus registry that request metrics are
// registered with and /metrics is served from. A fresh registry with Go and
// process collectors is used otherwise.
func WithMetricsRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.metrics = reg
	}
}

// WithHealthInterval sets how often the gRPC health status is refreshed
// while serving. Default: 30s
func WithHealthInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.healthInterval = d
		}
	}
}
