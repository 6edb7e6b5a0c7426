package scenario

// TraceEvent records one setup or flow step's invocation and outcome.
type TraceEvent struct {
	Seq    int                    `json:"seq"`
	Phase  string                 `json:"phase"`
	Action string                 `json:"action"`
	Args   map[string]interface{} `json:"args,omitempty"`
	Case   string                 `json:"case,omitempty"`
	Result map[string]interface{} `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// Result is everything a scenario run produced: the full trace, available
// for both inline assertions and golden-file comparison.
type Result struct {
	ScenarioName string       `json:"scenarioName"`
	Trace        []TraceEvent `json:"trace"`
}
