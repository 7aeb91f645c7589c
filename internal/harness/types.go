package harness

// TraceEvent records the outcome of one step.
type TraceEvent struct {
	Step int    `json:"step"`
	Kind string `json:"kind"` // transact | query | check

	Tx      int64            `json:"tx,omitempty"`
	Tempids map[string]int64 `json:"tempids,omitempty"`
	Datoms  []string         `json:"datoms,omitempty"`

	AsOf     int64               `json:"as_of,omitempty"`
	Bindings []map[string]string `json:"bindings,omitempty"`

	Consistent *bool    `json:"consistent,omitempty"`
	Problems   []string `json:"problems,omitempty"`

	Error string `json:"error,omitempty"` // error code
}

// Result is the outcome of a scenario.
type Result struct {
	// Pass is true when every expectation held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	// Errors describes each failed expectation.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{Pass: true, Trace: []TraceEvent{}}
}

// AddError records a failed expectation.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
