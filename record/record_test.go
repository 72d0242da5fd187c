package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransform(t *testing.T) {
	r := Record{
		"query":  "1017",
		"_score": 22.5,
		"_id":    "1017",
		"symbol": "CDK2",
	}

	out := Transform(r)

	assert.Equal(t, Record{"_id": "1017", "symbol": "CDK2"}, out)
	// Mutation happens in place.
	assert.NotContains(t, r, "query")
	assert.NotContains(t, r, "_score")
}

func TestTransform_Idempotent(t *testing.T) {
	records := []Record{
		{"query": "a", "_score": 1.0, "name": "x"},
		{"name": "no bookkeeping"},
		{},
	}
	for _, r := range records {
		once := Transform(cloneRecord(r))
		twice := Transform(Transform(cloneRecord(r)))
		assert.Equal(t, once, twice)
	}
}

func TestTransformAll(t *testing.T) {
	rs := TransformAll([]Record{{"query": "a", "x": 1}, {"_score": 2.0, "y": 2}})
	assert.Equal(t, []Record{{"x": 1}, {"y": 2}}, rs)
}

func TestRecord_Query(t *testing.T) {
	tests := []struct {
		name   string
		r      Record
		want   string
		wantOK bool
	}{
		{name: "string", r: Record{"query": "1017"}, want: "1017", wantOK: true},
		{name: "json number", r: Record{"query": float64(2244)}, want: "2244", wantOK: true},
		{name: "missing", r: Record{"_id": "x"}, wantOK: false},
		{name: "nil", r: Record{"query": nil}, wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.r.Query()
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecord_NotFound(t *testing.T) {
	assert.True(t, Record{"query": "x", "notfound": true}.NotFound())
	assert.False(t, Record{"query": "x"}.NotFound())
}

func TestGroupByQuery(t *testing.T) {
	records := []Record{
		{"query": "1017", "_id": "1017"},
		{"query": "CHEBI:15377", "_id": "a"},
		{"query": "CHEBI:15377", "_id": "b"},
	}

	grouped, err := GroupByQuery(records)
	require.NoError(t, err)

	require.Len(t, grouped, 2)
	assert.Len(t, grouped["1017"], 1)
	require.Len(t, grouped["CHEBI:15377"], 2)
	assert.Equal(t, "a", grouped["CHEBI:15377"][0]["_id"])
	assert.Equal(t, "b", grouped["CHEBI:15377"][1]["_id"])
	_, ok := grouped["missing"]
	assert.False(t, ok)
}

func TestGroupByQuery_MissingQuery(t *testing.T) {
	_, err := GroupByQuery([]Record{{"query": "a"}, {"_id": "b"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 1")
}

func cloneRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
