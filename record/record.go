// Package record defines annotation records returned by BioThings sources
// and the transformations applied before they are exposed to clients.
package record

import (
	"fmt"
)

// Bookkeeping fields set by the BioThings query API.
const (
	// QueryField names the query term a record answered.
	QueryField = "query"

	// ScoreField is the relevance score of a match.
	ScoreField = "_score"
)

// Record is a single annotation object keyed by field path.
type Record map[string]any

// Query returns the query term the record answered.
// Numeric terms are formatted as strings; ok is false when the field is missing.
func (r Record) Query() (string, bool) {
	v, ok := r[QueryField]
	if !ok || v == nil {
		return "", false
	}
	switch q := v.(type) {
	case string:
		return q, true
	case float64:
		return fmt.Sprintf("%.0f", q), true
	default:
		return fmt.Sprint(q), true
	}
}

// NotFound reports whether the source flagged the query term as unmatched.
func (r Record) NotFound() bool {
	nf, _ := r["notfound"].(bool)
	return nf
}

// Transform strips bookkeeping fields from r in place and returns it.
// Applying it more than once has no further effect.
func Transform(r Record) Record {
	delete(r, QueryField)
	delete(r, ScoreField)
	return r
}

// TransformAll applies Transform to every record.
func TransformAll(records []Record) []Record {
	for i := range records {
		records[i] = Transform(records[i])
	}
	return records
}

// GroupByQuery groups records by the query term they answered, keeping the
// order in which records were returned. A record without a query term is an
// error since it cannot be attributed to any input.
func GroupByQuery(records []Record) (map[string][]Record, error) {
	out := make(map[string][]Record)
	for i, r := range records {
		q, ok := r.Query()
		if !ok {
			return nil, fmt.Errorf("record %d has no %q field", i, QueryField)
		}
		out[q] = append(out[q], r)
	}
	return out, nil
}
