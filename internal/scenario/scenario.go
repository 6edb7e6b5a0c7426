// Package scenario drives end-to-end conformance scenarios against a real
// *store.Store from declarative YAML fixtures, recording every step's
// outcome as a trace that can be asserted on directly or compared against a
// golden file.
//
// Unlike a harness fronting a sync engine still under construction, every
// action name here resolves to an operation *store.Store already fully
// implements, so a flow step's "expect" clause is checked against a real
// result rather than one manufactured from the fixture itself.
package scenario

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario defines one conformance scenario: a setup phase that establishes
// state assumed to succeed, a flow phase of invocations checked against
// expectations, and a final set of assertions over the recorded trace and
// the store's resulting state.
type Scenario struct {
	Name        string       `yaml:"name"`
	Description string       `yaml:"description"`
	Sign        bool         `yaml:"sign,omitempty"`
	Setup       []ActionStep `yaml:"setup,omitempty"`
	Flow        []FlowStep   `yaml:"flow"`
	Assertions  []Assertion  `yaml:"assertions"`
}

// ActionStep is a single setup invocation, assumed to succeed. As, if set,
// names a variable under which the step's result is captured so a later
// step's args can reference a value — a computed content-addressed path,
// say — that no fixture could know ahead of time, via "{{vars.<as>.<field>}}".
type ActionStep struct {
	Action string                 `yaml:"action"`
	Args   map[string]interface{} `yaml:"args"`
	As     string                 `yaml:"as,omitempty"`
}

// FlowStep invokes one store operation and optionally checks its outcome.
type FlowStep struct {
	Invoke string                 `yaml:"invoke"`
	Args   map[string]interface{} `yaml:"args"`
	Expect *ExpectClause          `yaml:"expect,omitempty"`
	As     string                 `yaml:"as,omitempty"`
}

// ExpectClause names the expected outcome case and a subset of result
// fields a flow step's actual result must match.
type ExpectClause struct {
	Case   string                 `yaml:"case"`
	Result map[string]interface{} `yaml:"result,omitempty"`
}

// Assertion checks the recorded trace or the store's final state.
type Assertion struct {
	Type    string                 `yaml:"type"`
	Action  string                 `yaml:"action,omitempty"`
	Args    map[string]interface{} `yaml:"args,omitempty"`
	Table   string                 `yaml:"table,omitempty"`
	Where   map[string]interface{} `yaml:"where,omitempty"`
	Expect  map[string]interface{} `yaml:"expect,omitempty"`
	Count   int                    `yaml:"count,omitempty"`
	Actions []string               `yaml:"actions,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// LoadScenario reads and strictly parses a scenario fixture: unknown fields
// (a typo'd key) are a load error, not a silently ignored one.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: read %s: %w", path, err)
	}
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("scenario: parse %s: %w", path, err)
	}
	if err := validateScenario(&sc); err != nil {
		return nil, fmt.Errorf("scenario: %s: %w", path, err)
	}
	return &sc, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	for i, step := range s.Setup {
		if step.Action == "" {
			return fmt.Errorf("setup[%d]: action is required", i)
		}
		if step.Args == nil {
			return fmt.Errorf("setup[%d]: args is required (use {} if no args)", i)
		}
	}
	for i, step := range s.Flow {
		if step.Invoke == "" {
			return fmt.Errorf("flow[%d]: invoke is required", i)
		}
		if step.Args == nil {
			return fmt.Errorf("flow[%d]: args is required (use {} if no args)", i)
		}
		if step.Expect != nil && step.Expect.Case == "" {
			return fmt.Errorf("flow[%d].expect: case is required", i)
		}
	}
	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" {
			return fmt.Errorf("assertions[%d]: table is required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
