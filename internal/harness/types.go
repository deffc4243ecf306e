package harness

// TraceEvent is one entry in a scenario trace: either a step ("step") or a
// remote call the step caused ("call").
type TraceEvent struct {
	Seq        int    `json:"seq"`
	Type       string `json:"type"`
	Step       string `json:"step,omitempty"`
	Op         string `json:"op,omitempty"`
	EntityType string `json:"entity_type,omitempty"`
	ID         string `json:"id,omitempty"`
	Key        string `json:"key,omitempty"`
	Outcome    string `json:"outcome,omitempty"`
	Count      *int   `json:"count,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every step expectation and assertion held.
	Pass bool `json:"pass"`

	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(ev TraceEvent) {
	ev.Seq = len(r.Trace) + 1
	r.Trace = append(r.Trace, ev)
}
