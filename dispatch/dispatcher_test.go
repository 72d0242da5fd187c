package dispatch

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric/noop"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zero-day-ai/annotator/biothings"
	"github.com/zero-day-ai/annotator/record"
	"github.com/zero-day-ai/annotator/source"
)

type call struct {
	ids    []string
	scopes []string
	fields []string
}

// fakeSource returns the canned records and remembers every call.
func fakeSource(calls *[]call, records []record.Record, err error) biothings.Querier {
	return biothings.QuerierFunc(func(ctx context.Context, ids, scopes, fields []string) ([]record.Record, error) {
		*calls = append(*calls, call{ids: ids, scopes: scopes, fields: fields})
		return records, err
	})
}

func TestNew(t *testing.T) {
	t.Run("requires registry", func(t *testing.T) {
		_, err := New(nil, nil)
		require.Error(t, err)
	})

	t.Run("rejects client without source", func(t *testing.T) {
		var calls []call
		_, err := New(source.DefaultRegistry(), map[string]biothings.Querier{
			"pathway": fakeSource(&calls, nil, nil),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "pathway")
	})

	t.Run("with meter", func(t *testing.T) {
		d, err := New(source.DefaultRegistry(), nil, WithMeter(noop.NewMeterProvider().Meter("test")))
		require.NoError(t, err)
		assert.NotNil(t, d.metrics)
	})
}

func TestDispatcher_Supports(t *testing.T) {
	var calls []call
	d, err := New(source.DefaultRegistry(), map[string]biothings.Querier{
		"gene": fakeSource(&calls, nil, nil),
	})
	require.NoError(t, err)

	assert.True(t, d.Supports("gene"))
	assert.False(t, d.Supports("chem"), "source without client")
	assert.False(t, d.Supports("pathway"))
}

func TestDispatcher_Query_GroupsByQueryKey(t *testing.T) {
	var calls []call
	d, err := New(source.DefaultRegistry(), map[string]biothings.Querier{
		"chem": fakeSource(&calls, []record.Record{
			{"query": "CHEBI:15377", "_id": "first"},
			{"query": "CHEMBL25", "_id": "aspirin"},
			{"query": "CHEBI:15377", "_id": "second"},
		}, nil),
	})
	require.NoError(t, err)

	out, err := d.Query(context.Background(), "chem", []string{"CHEBI:15377", "CHEMBL25", "CHEMBL1"}, nil)
	require.NoError(t, err)

	require.Len(t, out, 2)
	require.Len(t, out["CHEBI:15377"], 2)
	assert.Equal(t, "first", out["CHEBI:15377"][0]["_id"])
	assert.Equal(t, "second", out["CHEBI:15377"][1]["_id"])
	_, ok := out["CHEMBL1"]
	assert.False(t, ok, "ids without results are absent")

	chem, _ := source.DefaultRegistry().Get("chem")
	require.Len(t, calls, 1)
	assert.Equal(t, chem.Scopes, calls[0].scopes)
	assert.Equal(t, chem.Fields, calls[0].fields, "default fields used")
}

func TestDispatcher_Query_FieldOverride(t *testing.T) {
	var calls []call
	d, err := New(source.DefaultRegistry(), map[string]biothings.Querier{
		"gene": fakeSource(&calls, nil, nil),
	})
	require.NoError(t, err)

	_, err = d.Query(context.Background(), "gene", []string{"1017"}, []string{"symbol"})
	require.NoError(t, err)
	assert.Equal(t, []string{"symbol"}, calls[0].fields)
}

func TestDispatcher_Query_UnknownType(t *testing.T) {
	d, err := New(source.DefaultRegistry(), nil)
	require.NoError(t, err)

	_, err = d.Query(context.Background(), "gene", []string{"1017"}, nil)
	assert.ErrorIs(t, err, ErrUnknownSource)

	_, err = d.Query(context.Background(), "pathway", []string{"x"}, nil)
	assert.ErrorIs(t, err, ErrUnknownSource)
}

func TestDispatcher_Query_UpstreamError(t *testing.T) {
	boom := errors.New("connection refused")
	var calls []call
	d, err := New(source.DefaultRegistry(), map[string]biothings.Querier{
		"gene": fakeSource(&calls, nil, boom),
	}, WithMeter(noop.NewMeterProvider().Meter("test")))
	require.NoError(t, err)

	_, err = d.Query(context.Background(), "gene", []string{"1017"}, nil)
	assert.ErrorIs(t, err, boom)
}

func TestDispatcher_Query_MalformedResponse(t *testing.T) {
	var calls []call
	d, err := New(source.DefaultRegistry(), map[string]biothings.Querier{
		"gene": fakeSource(&calls, []record.Record{{"_id": "no query"}}, nil),
	})
	require.NoError(t, err)

	_, err = d.Query(context.Background(), "gene", []string{"1017"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "malformed gene response")
}

func TestDispatcher_Query_AppliesFilter(t *testing.T) {
	cfgs := source.Merge(source.Defaults(), source.Config{Type: "gene", Filter: "!has(record.notfound)"})
	reg, err := source.NewRegistry(cfgs...)
	require.NoError(t, err)

	var calls []call
	d, err := New(reg, map[string]biothings.Querier{
		"gene": fakeSource(&calls, []record.Record{
			{"query": "1017", "_id": "1017"},
			{"query": "0", "notfound": true},
		}, nil),
	})
	require.NoError(t, err)

	out, err := d.Query(context.Background(), "gene", []string{"1017", "0"}, nil)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Contains(t, out, "1017")
}

func TestDispatcher_Query_FilterErrorDropsRecord(t *testing.T) {
	cfgs := source.Merge(source.Defaults(), source.Config{Type: "gene", Filter: `record.type_of_gene == "protein-coding"`})
	reg, err := source.NewRegistry(cfgs...)
	require.NoError(t, err)

	var logs bytes.Buffer
	var calls []call
	d, err := New(reg, map[string]biothings.Querier{
		"gene": fakeSource(&calls, []record.Record{
			{"query": "1017", "_id": "1017", "type_of_gene": "protein-coding"},
			{"query": "0", "notfound": true},
		}, nil),
	}, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, err)

	out, err := d.Query(context.Background(), "gene", []string{"1017", "0"}, nil)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Contains(t, out, "1017")
	assert.Contains(t, logs.String(), "dropped records the filter could not evaluate")
}

func TestDispatcher_Query_Telemetry(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer tp.Shutdown(context.Background())

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	var calls []call
	d, err := New(source.DefaultRegistry(), map[string]biothings.Querier{
		"disease": fakeSource(&calls, []record.Record{{"query": "0005148"}}, nil),
	}, WithTracer(tp.Tracer("test")), WithLogger(logger))
	require.NoError(t, err)

	_, err = d.Query(context.Background(), "disease", []string{"0005148"}, nil)
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "annotator.dispatch", spans[0].Name())
	assert.Equal(t, codes.Ok, spans[0].Status().Code)

	assert.Contains(t, logs.String(), "querying annotations")
	assert.Contains(t, logs.String(), "count=1")
	assert.Contains(t, logs.String(), "records=1")
}
