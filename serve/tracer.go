package serve

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// NewTracerProvider creates a TracerProvider whose resource names the
// service. Exporters are attached through processors; without any, spans
// are recorded but not exported.
func NewTracerProvider(serviceName, version string, logger *slog.Logger, processors ...sdktrace.SpanProcessor) *sdktrace.TracerProvider {
	if logger == nil {
		logger = slog.Default()
	}

	res, err := resource.New(
		context.Background(),
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		logger.Warn("failed to create resource, using default", "error", err)
		res = resource.Default()
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	for _, p := range processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}

	return sdktrace.NewTracerProvider(opts...)
}
