package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/zero-day-ai/annotator"
	"github.com/zero-day-ai/annotator/biothings"
	"github.com/zero-day-ai/annotator/cache"
	"github.com/zero-day-ai/annotator/config"
	"github.com/zero-day-ai/annotator/dispatch"
	"github.com/zero-day-ai/annotator/health"
	"github.com/zero-day-ai/annotator/registry"
	"github.com/zero-day-ai/annotator/source"
)

// app holds the wired service and the resources it must release.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	sources   *source.Registry
	cache     *cache.Cache
	annotator *annotator.Annotator
	registry  *registry.Client
	instance  registry.ServiceInfo
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	sources, err := source.NewRegistry(cfg.SourceConfigs()...)
	if err != nil {
		return nil, annotator.NewConfigurationError("newApp", err)
	}

	a := &app{cfg: cfg, logger: logger, sources: sources}

	if cfg.Cache.Enabled() {
		c, err := cache.NewRedisCache(cache.RedisOptions{
			URL:    cfg.Cache.RedisURL,
			TTL:    cfg.Cache.GetTTL(),
			Prefix: cfg.Cache.GetPrefix(),
			Logger: logger,
		})
		if err != nil {
			return nil, err
		}
		a.cache = c
		logger.Info("redis cache enabled", "ttl", cfg.Cache.GetTTL().String(), "prefix", cfg.Cache.GetPrefix())
	}

	clients := make(map[string]biothings.Querier)
	for _, typ := range sources.Types() {
		src, _ := sources.Get(typ)
		client, err := biothings.NewClient(biothings.Options{
			Endpoint:  src.Endpoint,
			Timeout:   cfg.Upstream.GetTimeout(),
			BatchSize: cfg.Upstream.GetBatchSize(),
			Logger:    logger,
		})
		if err != nil {
			a.Close()
			return nil, annotator.NewConfigurationError("newApp", err)
		}

		var q biothings.Querier = client
		if a.cache != nil {
			q = a.cache.Wrap(typ, q)
		}
		clients[typ] = q
		logger.Debug("annotation source configured", "type", typ, "endpoint", src.Endpoint)
	}

	d, err := dispatch.New(sources, clients,
		dispatch.WithLogger(logger),
		dispatch.WithTracer(otel.Tracer("annotator/dispatch")),
		dispatch.WithMeter(otel.Meter("annotator/dispatch")),
	)
	if err != nil {
		a.Close()
		return nil, annotator.NewConfigurationError("newApp", err)
	}

	a.annotator, err = annotator.New(d,
		annotator.WithLogger(logger),
		annotator.WithTracer(otel.Tracer("annotator")),
		annotator.WithConcurrency(cfg.Annotate.GetConcurrency()),
	)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Registry.Enabled() {
		rc, err := registry.NewClient(registryConfig(cfg.Registry, logger))
		if err != nil {
			a.Close()
			return nil, err
		}
		a.registry = rc
	}

	return a, nil
}

// healthCheck reports degraded when an upstream or the cache is unreachable;
// annotation still works for the remaining sources.
func (a *app) healthCheck(ctx context.Context) health.Status {
	var checks []health.Status
	for _, typ := range a.sources.Types() {
		src, _ := a.sources.Get(typ)
		checks = append(checks, health.Soften(health.EndpointCheck(ctx, src.Endpoint)))
	}
	if a.cache != nil {
		checks = append(checks, health.Soften(health.PingCheck(ctx, "redis cache", a.cache)))
	}
	return health.Combine(checks...)
}

// register announces this instance in etcd when a registry is configured.
func (a *app) register(ctx context.Context, httpPort, grpcPort int) error {
	if a.registry == nil {
		return nil
	}

	host, err := os.Hostname()
	if err != nil {
		host = "localhost"
	}

	a.instance = registry.ServiceInfo{
		Name:       "annotator",
		Version:    version,
		InstanceID: uuid.NewString(),
		Endpoint:   fmt.Sprintf("%s:%d", host, httpPort),
		Metadata: map[string]string{
			"types": strings.Join(a.sources.Types(), ","),
		},
		StartedAt: time.Now().UTC(),
	}
	if grpcPort > 0 {
		a.instance.Metadata["grpc_endpoint"] = host + ":" + strconv.Itoa(grpcPort)
	}

	if err := a.registry.Register(ctx, a.instance); err != nil {
		return fmt.Errorf("failed to register instance: %w", err)
	}
	return nil
}

// Close deregisters the instance and releases connections.
func (a *app) Close() {
	if a.registry != nil {
		if a.instance.InstanceID != "" {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := a.registry.Deregister(ctx, a.instance); err != nil {
				a.logger.Warn("failed to deregister instance", "error", err)
			}
			cancel()
		}
		annotator.CloseWithLog(a.registry, a.logger, "etcd registry")
	}
	if a.cache != nil {
		annotator.CloseWithLog(a.cache, a.logger, "redis cache")
	}
}

// registryConfig maps the registry section onto the etcd client settings.
func registryConfig(rc *config.RegistryConfig, logger *slog.Logger) registry.Config {
	out := registry.Config{
		Endpoints: rc.Endpoints,
		Namespace: rc.GetNamespace(),
		TTL:       rc.GetTTL(),
		Logger:    logger,
	}
	if t := rc.GetTLS(); t.Enabled() {
		out.TLS = &registry.TLSConfig{
			Enabled:  true,
			CertFile: t.CertFile,
			KeyFile:  t.KeyFile,
			CAFile:   t.CAFile,
		}
	}
	return out
}
