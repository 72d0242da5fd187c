package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instruments holds the metric instruments for dispatched queries.
// A nil *instruments records nothing.
type instruments struct {
	idsQueried      metric.Int64Counter
	recordsReturned metric.Int64Counter
	failures        metric.Int64Counter
	duration        metric.Float64Histogram
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	if meter == nil {
		return nil, nil
	}

	m := &instruments{}
	var err error

	m.idsQueried, err = meter.Int64Counter(
		"annotator.ids.queried",
		metric.WithDescription("Identifiers sent to annotation sources"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create ids counter: %w", err)
	}

	m.recordsReturned, err = meter.Int64Counter(
		"annotator.records.returned",
		metric.WithDescription("Annotation records returned by annotation sources"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create records counter: %w", err)
	}

	m.failures, err = meter.Int64Counter(
		"annotator.dispatch.failures",
		metric.WithDescription("Failed annotation source queries"),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, fmt.Errorf("create failures counter: %w", err)
	}

	m.duration, err = meter.Float64Histogram(
		"annotator.dispatch.duration",
		metric.WithDescription("Annotation source query duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, fmt.Errorf("create duration histogram: %w", err)
	}

	return m, nil
}

func (m *instruments) record(ctx context.Context, typ string, ids, records int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}

	opts := metric.WithAttributes(attribute.String("type", typ))
	m.idsQueried.Add(ctx, int64(ids), opts)
	m.duration.Record(ctx, milliseconds(elapsed), opts)
	if err != nil {
		m.failures.Add(ctx, 1, opts)
		return
	}
	m.recordsReturned.Add(ctx, int64(records), opts)
}

// milliseconds converts d to fractional milliseconds.
func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
