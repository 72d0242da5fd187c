package source

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/zero-day-ai/annotator/record"
)

// Filter is a compiled CEL predicate over a single annotation record.
//
// The record is bound to the variable `record`. Selecting a key the record
// lacks is an evaluation error, so guard optional fields with has():
//
//	!has(record.notfound)
//	has(record.symbol) && record.type_of_gene == "protein-coding"
type Filter struct {
	expr    string
	program cel.Program
}

// CompileFilter parses and checks expr.
func CompileFilter(expr string) (*Filter, error) {
	env, err := cel.NewEnv(
		cel.Variable("record", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("create cel environment: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("compile filter %q: %w", expr, iss.Err())
	}

	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("build filter program %q: %w", expr, err)
	}

	return &Filter{expr: expr, program: prg}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	return f.expr
}

// Match evaluates the filter against r. A nil filter matches everything.
func (f *Filter) Match(r record.Record) (bool, error) {
	if f == nil {
		return true, nil
	}

	out, _, err := f.program.Eval(map[string]any{"record": map[string]any(r)})
	if err != nil {
		return false, fmt.Errorf("evaluate filter %q: %w", f.expr, err)
	}

	keep, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("filter %q returned %T, want bool", f.expr, out.Value())
	}
	return keep, nil
}

// Apply returns the records that match f, preserving order. A record the
// filter cannot be evaluated against (a missing key, a non-bool result) is
// dropped and its evaluation error returned alongside the kept records.
func (f *Filter) Apply(records []record.Record) ([]record.Record, []error) {
	if f == nil {
		return records, nil
	}

	out := records[:0:0]
	var failed []error
	for _, r := range records {
		keep, err := f.Match(r)
		if err != nil {
			failed = append(failed, err)
			continue
		}
		if keep {
			out = append(out, r)
		}
	}
	return out, failed
}
