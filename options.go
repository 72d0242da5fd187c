package annotator

import (
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Option configures an Annotator.
type Option func(*config)

// config holds configuration for an Annotator instance.
type config struct {
	logger      *slog.Logger
	tracer      trace.Tracer
	concurrency int
}

// WithLogger sets a custom logger for the annotator.
// If not provided, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithTracer sets an OpenTelemetry tracer for annotation spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *config) {
		c.tracer = tracer
	}
}

// WithConcurrency caps how many semantic-type batches of one graph are
// queried at the same time. Values below 1 are ignored. Default: 3.
func WithConcurrency(n int) Option {
	return func(c *config) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// AnnotateOptions controls a single annotation request.
type AnnotateOptions struct {
	// Append adds the annotation entry to a node's existing attributes
	// instead of replacing them. Only used by AnnotateGraph.
	Append bool

	// Raw returns records exactly as the source sent them.
	Raw bool

	// Fields overrides the default fields requested from the source.
	Fields []string
}
