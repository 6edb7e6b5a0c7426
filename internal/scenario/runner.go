package scenario

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/corestore/corestore/internal/config"
	"github.com/corestore/corestore/internal/signing"
	"github.com/corestore/corestore/internal/store"
)

// rootPlaceholder is the token a fixture uses in place of the scratch
// directory Run allocates for it, since a fixture is authored without
// knowing where that directory will land. It is substituted with the real
// path before a step's args reach dispatch, and the real path is redacted
// back to the placeholder in every recorded result, so a trace — and the
// golden file built from it — is stable no matter where the temp directory
// the run happened to get actually was.
const rootPlaceholder = "{{root}}"

// Run executes a scenario against a fresh store opened under a scratch
// directory and returns the recorded trace. Setup steps are assumed to
// succeed: a failing setup step aborts the run. Flow steps are invoked
// against the real store and checked against their expect clause, if any,
// before the run proceeds to the next step.
func Run(sc *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "scenario-*")
	if err != nil {
		return nil, fmt.Errorf("scenario: mkdtemp: %w", err)
	}
	defer os.RemoveAll(dir)

	ext := filepath.Join(dir, "ext")
	if err := os.MkdirAll(ext, 0o755); err != nil {
		return nil, fmt.Errorf("scenario: mkdir ext: %w", err)
	}

	cfg := &config.Config{
		StoreRoot: filepath.Join(dir, "store"),
		StateRoot: filepath.Join(dir, "state"),
		DBRoot:    filepath.Join(dir, "db"),
	}

	var opts []store.Option
	if sc.Sign {
		priv, err := signing.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("scenario: generate signing key: %w", err)
		}
		opts = append(opts, store.WithSigner(signing.NewRSASigner(priv, &priv.PublicKey)))
	}

	st, err := store.Open(cfg, opts...)
	if err != nil {
		return nil, fmt.Errorf("scenario: open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	res := &Result{ScenarioName: sc.Name}
	vars := make(map[string]interface{})
	seq := 0

	for _, step := range sc.Setup {
		seq++
		ev := execute(ctx, st, dir, vars, seq, "setup", step.Action, step.Args)
		res.Trace = append(res.Trace, ev)
		if step.As != "" {
			vars[step.As] = ev.Result
		}
		if ev.Error != "" {
			return res, fmt.Errorf("scenario: setup step %q failed: %s", step.Action, ev.Error)
		}
	}

	for _, step := range sc.Flow {
		seq++
		ev := execute(ctx, st, dir, vars, seq, "flow", step.Invoke, step.Args)
		res.Trace = append(res.Trace, ev)
		if step.As != "" {
			vars[step.As] = ev.Result
		}
		if step.Expect != nil {
			if err := checkExpect(ev, step.Expect, vars); err != nil {
				return res, fmt.Errorf("scenario: flow step %q: %w", step.Invoke, err)
			}
		}
	}

	if err := evaluateAssertions(ctx, st, res, dir, vars, sc.Assertions); err != nil {
		return res, err
	}
	return res, nil
}

func execute(ctx context.Context, st *store.Store, root string, vars map[string]interface{}, seq int, phase, action string, rawArgs map[string]interface{}) TraceEvent {
	ev := TraceEvent{Seq: seq, Phase: phase, Action: action, Args: rawArgs}

	resolvedArgs := resolveArgs(rawArgs, root, vars)
	result, caseName, err := dispatch(ctx, st, action, args(resolvedArgs))
	ev.Case = caseName
	if result != nil {
		ev.Result, _ = redactRoot(toGeneric(result), root).(map[string]interface{})
	}
	if err != nil {
		ev.Error = strings.ReplaceAll(err.Error(), root, rootPlaceholder)
	}
	return ev
}

// checkExpect compares a step's actual outcome against its expect clause.
// expect.Result is resolved against vars first, since a captured
// variable's value is the natural way to say "this step's result should
// match what an earlier step produced."
func checkExpect(ev TraceEvent, expect *ExpectClause, vars map[string]interface{}) error {
	if ev.Case != expect.Case {
		return fmt.Errorf("got case %q, want %q (error: %s)", ev.Case, expect.Case, ev.Error)
	}
	return subsetMatch(ev.Result, resolveExpect(expect.Result, vars))
}

// redactRoot is resolveArgs's inverse for the "root" token, applied to a
// dispatch result before it is recorded or checked: any absolute path a
// store operation returned is rewritten back to the placeholder form a
// fixture's expect clause, a captured variable, and a golden file all use.
func redactRoot(v interface{}, root string) interface{} {
	switch x := v.(type) {
	case string:
		return strings.ReplaceAll(x, root, rootPlaceholder)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = redactRoot(e, root)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[strings.ReplaceAll(k, root, rootPlaceholder)] = redactRoot(e, root)
		}
		return out
	default:
		return x
	}
}

// toGeneric round-trips v through JSON so every typed result a store
// operation returned (pathname.ComponentPath, []string, map[string]int64,
// []registry.Substitute, ...) becomes the same generic
// string/float64/bool/[]interface{}/map[string]interface{} shape
// redactRoot and subsetMatch already know how to walk.
func toGeneric(v interface{}) interface{} {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}
