package dataset

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// Filter is a compiled jq expression evaluated against each row. A row is
// kept only when the first result of the expression is truthy.
//
// Example: `.value | tonumber > 1000`
type Filter struct {
	expr string
	code *gojq.Code
}

// NewFilter compiles expr. An empty expression returns a nil filter.
func NewFilter(expr string) (*Filter, error) {
	if expr == "" {
		return nil, nil
	}
	query, err := gojq.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", expr, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", expr, err)
	}
	return &Filter{expr: expr, code: code}, nil
}

// String returns the source expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}

// Match reports whether row passes the filter. A nil filter matches everything.
func (f *Filter) Match(row Row) bool {
	if f == nil {
		return true
	}
	input := make(map[string]any, len(row))
	for k, v := range row {
		input[k] = jqValue(v)
	}
	return Truthy(f.code, input)
}

// Truthy runs code against input and reports whether the first result is
// truthy in the jq sense. Errors and empty results count as false.
func Truthy(code *gojq.Code, input any) bool {
	iter := code.Run(input)
	v, ok := iter.Next()
	if !ok {
		return false
	}
	if _, isErr := v.(error); isErr {
		return false
	}
	return isTruthy(v)
}

func isTruthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	default:
		return true
	}
}

// jqValue converts decoder output into types gojq accepts.
func jqValue(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i)
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = jqValue(x[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = jqValue(e)
		}
		return out
	default:
		return v
	}
}
