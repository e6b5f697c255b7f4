package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/zenddiff/internal/ir"
)

// createTestStore creates a new store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPair() ir.ConfigPair {
	return ir.ConfigPair{
		Left:  ir.ExecutionConfig{Name: "jit-off", Flags: map[string]string{"opcache.jit": "off"}},
		Right: ir.ExecutionConfig{Name: "jit-on-tracing", Flags: map[string]string{"opcache.jit": "tracing"}},
	}
}

// createTestBug builds a bug record with a content-addressed ID.
func createTestBug(t *testing.T, source, probeID string) ir.BugRecord {
	t.Helper()
	pair := testPair()
	div := ir.Divergence{Kind: ir.DivergeSnapshot, ProbeID: probeID, Left: `{"x":1}`, Right: `{"x":2}`}
	id, err := ir.BugID(source, pair, div)
	if err != nil {
		t.Fatalf("BugID() failed: %v", err)
	}
	cand := ir.CandidateProgram{ID: "cand-" + probeID, Source: source, Fusion: ir.FusionSingle, RNGSeed: 7}
	return ir.BugRecord{
		ID:           id,
		Candidate:    cand,
		Instrumented: ir.InstrumentedProgram{Candidate: cand, Source: source},
		Pair:         pair,
		Left:         ir.ExecutionRecord{Config: "jit-off", Stdout: "1", Status: ir.ExitStatus{Kind: ir.StatusNormal}},
		Right:        ir.ExecutionRecord{Config: "jit-on-tracing", Stdout: "2", Status: ir.ExitStatus{Kind: ir.StatusNormal}},
		Verdict: ir.DiffVerdict{
			Outcome:    ir.OutcomeMismatch,
			Divergence: &div,
			Detail:     "snapshot " + probeID,
		},
		Confirmations: 5,
		Reruns:        5,
		Quorum:        5,
	}
}

// createTestFinding builds a stability finding with a content-addressed ID.
func createTestFinding(t *testing.T, source string, side ir.Side) ir.StabilityFinding {
	t.Helper()
	pair := testPair()
	id, err := ir.StabilityID(source, pair, ir.StabilityCrash, side)
	if err != nil {
		t.Fatalf("StabilityID() failed: %v", err)
	}
	return ir.StabilityFinding{
		ID:        id,
		Kind:      ir.StabilityCrash,
		Side:      side,
		Candidate: ir.CandidateProgram{ID: "cand", Source: source},
		Pair:      pair,
		Right:     ir.ExecutionRecord{Status: ir.ExitStatus{Kind: ir.StatusCrash, Signal: "segmentation fault"}},
	}
}

func createTestSeed(name, source string) ir.SeedProgram {
	return ir.SeedProgram{
		ID:      ir.MustSeedID(name, source),
		Name:    name,
		Source:  source,
		Fusable: true,
	}
}
