package harness

import (
	"github.com/roach88/zenddiff/internal/engine"
	"github.com/roach88/zenddiff/internal/ir"
)

// Result is the outcome of running a scenario.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Errors holds one message per failed assertion.
	Errors []string `json:"errors,omitempty"`

	Summary   engine.Summary        `json:"summary"`
	Bugs      []ir.BugRecord        `json:"bugs"`
	Stability []ir.StabilityFinding `json:"stability"`
}

// NewResult creates a passing result.
func NewResult() *Result {
	return &Result{
		Pass:      true,
		Errors:    []string{},
		Bugs:      []ir.BugRecord{},
		Stability: []ir.StabilityFinding{},
	}
}

// AddError records a failed assertion.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Counter returns a run counter by its exported name.
func (r *Result) Counter(name string) int64 {
	return r.Summary.Counters[name]
}
