package scenario

import (
	"context"
	"fmt"
	"reflect"

	"github.com/corestore/corestore/internal/store"
)

// evaluateAssertions checks every assertion in turn, returning the first
// failure.
func evaluateAssertions(ctx context.Context, st *store.Store, res *Result, root string, vars map[string]interface{}, assertions []Assertion) error {
	for i, a := range assertions {
		if err := evaluateOne(ctx, st, res, root, vars, &a); err != nil {
			return fmt.Errorf("scenario: assertions[%d] (%s): %w", i, a.Type, err)
		}
	}
	return nil
}

func evaluateOne(ctx context.Context, st *store.Store, res *Result, root string, vars map[string]interface{}, a *Assertion) error {
	switch a.Type {
	case AssertTraceContains:
		want := resolveExpect(a.Args, vars)
		for _, ev := range res.Trace {
			if ev.Action == a.Action && subsetMatch(ev.Args, want) == nil {
				return nil
			}
		}
		return fmt.Errorf("no trace event matches action %q with args %v", a.Action, want)

	case AssertTraceOrder:
		idx := 0
		for _, ev := range res.Trace {
			if idx >= len(a.Actions) {
				break
			}
			if ev.Action == a.Actions[idx] {
				idx++
			}
		}
		if idx != len(a.Actions) {
			return fmt.Errorf("trace does not contain actions %v in order", a.Actions)
		}
		return nil

	case AssertTraceCount:
		n := 0
		for _, ev := range res.Trace {
			if ev.Action == a.Action {
				n++
			}
		}
		if n != a.Count {
			return fmt.Errorf("action %q occurred %d times, want %d", a.Action, n, a.Count)
		}
		return nil

	case AssertFinalState:
		where := resolveArgs(a.Where, root, vars)
		result, caseName, err := dispatch(ctx, st, a.Table, args(where))
		if err != nil && caseName == "Error" {
			return fmt.Errorf("querying %q: %w", a.Table, err)
		}
		redacted, _ := redactRoot(toGeneric(result), root).(map[string]interface{})
		return subsetMatch(redacted, resolveExpect(a.Expect, vars))

	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

// subsetMatch checks that every field named in want is present in got with
// an equal (after numeric normalization) value. Fields in got that want
// doesn't mention are ignored.
func subsetMatch(got, want map[string]interface{}) error {
	for k, w := range want {
		g, ok := got[k]
		if !ok {
			return fmt.Errorf("missing field %q in result %v", k, got)
		}
		if !reflect.DeepEqual(normalize(g), normalize(w)) {
			return fmt.Errorf("field %q: got %v, want %v", k, g, w)
		}
	}
	return nil
}

// normalize collapses the numeric type differences between a YAML-decoded
// value and a value a store operation actually returned (int64, int) so
// subsetMatch compares by value, not by underlying Go type.
func normalize(v interface{}) interface{} {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		if x == float64(int64(x)) {
			return int64(x)
		}
		return x
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	case []string:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out
	case []int64:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	case map[string]int64:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	default:
		return v
	}
}
