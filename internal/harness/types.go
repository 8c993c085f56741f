package harness

import (
	"github.com/roach88/laurels/internal/engine"
)

// TraceEvent records one step of a scenario run.
//
// Sequential event steps record their own outcome. A concurrent step records
// only aggregate counts, since the order its events commit in is not fixed.
type TraceEvent struct {
	Seq       int64  `json:"seq"`
	Type      string `json:"type"` // event type, or "concurrent_registrations"
	EventID   string `json:"event_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	State     string `json:"state,omitempty"`
	Rejection string `json:"rejection,omitempty"`
	// Allocations are "<pool>=<status>[:<rank>]" for an event, or
	// "<pool> <status>=<n>" for a concurrent step.
	Allocations []string `json:"allocations,omitempty"`
	Granted     []string `json:"granted,omitempty"`
	Count       int      `json:"count,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace contains one entry per step, in step order.
	Trace []TraceEvent `json:"trace"`

	// Outcomes holds every dispatch outcome, including those of
	// concurrent steps.
	Outcomes []engine.Outcome `json:"-"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
