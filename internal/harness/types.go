package harness

// TraceEvent is one statement execution observed during a scenario run.
type TraceEvent struct {
	Seq    int      `json:"seq"`
	SQL    string   `json:"sql"`
	Params []string `json:"params"`
}

// OpResult is the outcome of one flow step.
type OpResult struct {
	Op     string `json:"op"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// TraceSnapshot is the complete deterministic record of a scenario run:
// every operation outcome and every statement issued, in order.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	Ops          []OpResult   `json:"ops"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonicalMap converts the snapshot to plain maps and slices for
// canonical JSON serialization.
func (s *TraceSnapshot) toCanonicalMap() map[string]any {
	ops := make([]any, len(s.Ops))
	for i, op := range s.Ops {
		m := map[string]any{"op": op.Op}
		if op.Output != "" {
			m["output"] = op.Output
		}
		if op.Error != "" {
			m["error"] = op.Error
		}
		ops[i] = m
	}
	trace := make([]any, len(s.Trace))
	for i, ev := range s.Trace {
		params := make([]any, len(ev.Params))
		for j, p := range ev.Params {
			params[j] = p
		}
		trace[i] = map[string]any{
			"seq":    ev.Seq,
			"sql":    ev.SQL,
			"params": params,
		}
	}
	return map[string]any{
		"scenario_name": s.ScenarioName,
		"ops":           ops,
		"trace":         trace,
	}
}
