// Package dispatch sends batches of identifiers of one semantic type to the
// annotation source registered for that type and reshapes the flat result
// list into records keyed by the identifier they answered.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/zero-day-ai/annotator/biothings"
	"github.com/zero-day-ai/annotator/record"
	"github.com/zero-day-ai/annotator/source"
)

// ErrUnknownSource indicates no source or client is registered for a semantic type.
// Callers are expected to check Supports first.
var ErrUnknownSource = errors.New("no annotation source registered for type")

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithTracer sets the tracer used for dispatch spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(d *Dispatcher) {
		d.tracer = tracer
	}
}

// WithMeter records dispatch metrics with meter.
func WithMeter(meter metric.Meter) Option {
	return func(d *Dispatcher) {
		d.meter = meter
	}
}

// Dispatcher routes batch queries to per-type sources. It is safe for
// concurrent use once constructed.
type Dispatcher struct {
	sources *source.Registry
	clients map[string]biothings.Querier

	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	metrics *instruments
}

// New creates a Dispatcher. Every client must belong to a registered source type.
func New(sources *source.Registry, clients map[string]biothings.Querier, opts ...Option) (*Dispatcher, error) {
	if sources == nil {
		return nil, fmt.Errorf("dispatch: source registry is required")
	}
	for typ := range clients {
		if _, ok := sources.Get(typ); !ok {
			return nil, fmt.Errorf("dispatch: client for %q has no source configuration", typ)
		}
	}

	d := &Dispatcher{
		sources: sources,
		clients: clients,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.tracer == nil {
		d.tracer = noop.NewTracerProvider().Tracer("annotator/dispatch")
	}

	m, err := newInstruments(d.meter)
	if err != nil {
		return nil, fmt.Errorf("dispatch: %w", err)
	}
	d.metrics = m

	return d, nil
}

// Supports reports whether typ can be dispatched.
func (d *Dispatcher) Supports(typ string) bool {
	_, hasSource := d.sources.Get(typ)
	_, hasClient := d.clients[typ]
	return hasSource && hasClient
}

// Query looks up ids of semantic type typ. When fields is empty the source's
// default fields are requested. The result maps each answered id to its
// records in the order the source returned them; ids without any record are
// absent from the map.
func (d *Dispatcher) Query(ctx context.Context, typ string, ids, fields []string) (map[string][]record.Record, error) {
	cfg, ok := d.sources.Get(typ)
	client, hasClient := d.clients[typ]
	if !ok || !hasClient {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, typ)
	}
	if len(fields) == 0 {
		fields = cfg.Fields
	}

	ctx, span := d.tracer.Start(ctx, "annotator.dispatch",
		trace.WithAttributes(
			attribute.String("annotator.type", typ),
			attribute.Int("annotator.ids", len(ids)),
		),
	)
	defer span.End()

	d.logger.InfoContext(ctx, "querying annotations", "type", typ, "count", len(ids))
	start := time.Now()

	records, err := client.QueryMany(ctx, ids, cfg.Scopes, fields)
	d.metrics.record(ctx, typ, len(ids), len(records), time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "annotation query failed")
		return nil, fmt.Errorf("query %s annotations: %w", typ, err)
	}

	d.logger.InfoContext(ctx, "annotation query done", "type", typ, "records", len(records))

	records, failed := d.sources.Filter(typ).Apply(records)
	if len(failed) > 0 {
		span.AddEvent("records dropped by filter", trace.WithAttributes(attribute.Int("annotator.dropped", len(failed))))
		d.logger.WarnContext(ctx, "dropped records the filter could not evaluate",
			"type", typ,
			"count", len(failed),
			"error", failed[0])
	}

	grouped, err := record.GroupByQuery(records)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "malformed upstream response")
		return nil, fmt.Errorf("malformed %s response: %w", typ, err)
	}

	span.SetAttributes(
		attribute.Int("annotator.records", len(records)),
		attribute.Int("annotator.matched_ids", len(grouped)),
	)
	span.SetStatus(codes.Ok, "")

	return grouped, nil
}
