package harness

import (
	"context"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/stats"
)

// Report is the golden rendering of a scenario result. It holds what the
// run concluded, not content-addressed IDs or candidate sources.
type Report struct {
	ScenarioName string
	Iterations   int64
	Counters     map[string]int64
	Bugs         []ir.BugRecord
	Stability    []ir.StabilityFinding
}

// NewReport builds the report for a result.
func NewReport(name string, result *Result) *Report {
	return &Report{
		ScenarioName: name,
		Iterations:   result.Summary.Iterations,
		Counters:     result.Summary.Counters,
		Bugs:         result.Bugs,
		Stability:    result.Stability,
	}
}

// toCanonicalMap converts the report for ir.MarshalCanonical, which only
// accepts plain maps, slices and scalars. Zero counters are dropped.
func (r *Report) toCanonicalMap() map[string]any {
	counters := map[string]any{}
	for _, name := range stats.Names(r.Counters) {
		if v := r.Counters[name]; v != 0 {
			counters[name] = v
		}
	}

	bugs := make([]any, len(r.Bugs))
	for i, b := range r.Bugs {
		entry := map[string]any{
			"pair":          b.Pair.Name(),
			"confirmations": b.Confirmations,
			"reruns":        b.Reruns,
			"quorum":        b.Quorum,
		}
		if d := b.Verdict.Divergence; d != nil {
			entry["kind"] = string(d.Kind)
			entry["left"] = d.Left
			entry["right"] = d.Right
			if d.ProbeID != "" {
				entry["probe"] = d.ProbeID
			}
		}
		bugs[i] = entry
	}

	stability := make([]any, len(r.Stability))
	for i, f := range r.Stability {
		stability[i] = map[string]any{
			"pair": f.Pair.Name(),
			"kind": string(f.Kind),
			"side": string(f.Side),
		}
	}

	return map[string]any{
		"scenario_name": r.ScenarioName,
		"iterations":    r.Iterations,
		"counters":      counters,
		"bugs":          bugs,
		"stability":     stability,
	}
}

// Marshal renders the report as canonical JSON.
func (r *Report) Marshal() ([]byte, error) {
	return ir.MarshalCanonical(r.toCanonicalMap())
}

// RunWithGolden runs a scenario and compares its report against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(context.Background(), scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := NewReport(name, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, data)
	return nil
}
