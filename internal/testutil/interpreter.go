package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/roach88/zenddiff/internal/ir"
)

// Script decides what a scripted run produces. run counts previous runs of
// the same candidate under the same configuration, starting at 0.
type Script func(prog ir.InstrumentedProgram, cfg ir.ExecutionConfig, run int) ir.ExecutionRecord

// ScriptedInterpreter implements executor.Interpreter without spawning
// processes. Records come from a Script; Config is always filled in.
//
// Thread-safety: safe for concurrent use.
type ScriptedInterpreter struct {
	script Script

	// Fail, when set, is consulted before the script. A non-nil error is
	// returned instead of a record, the way a spawn failure would be.
	Fail func(prog ir.InstrumentedProgram, cfg ir.ExecutionConfig) error

	mu    sync.Mutex
	runs  map[string]int
	total int
}

// NewScriptedInterpreter creates an interpreter driven by script.
func NewScriptedInterpreter(script Script) *ScriptedInterpreter {
	return &ScriptedInterpreter{script: script, runs: make(map[string]int)}
}

// Run implements executor.Interpreter.
func (s *ScriptedInterpreter) Run(ctx context.Context, prog ir.InstrumentedProgram, cfg ir.ExecutionConfig, _ time.Duration) (ir.ExecutionRecord, error) {
	if err := ctx.Err(); err != nil {
		return ir.ExecutionRecord{}, err
	}
	if s.Fail != nil {
		if err := s.Fail(prog, cfg); err != nil {
			return ir.ExecutionRecord{}, err
		}
	}
	key := prog.Candidate.ID + "\x00" + cfg.Name
	s.mu.Lock()
	n := s.runs[key]
	s.runs[key]++
	s.total++
	s.mu.Unlock()

	rec := s.script(prog, cfg, n)
	rec.Config = cfg.Name
	if rec.Status.Kind == "" {
		rec.Status.Kind = ir.StatusNormal
	}
	return rec, nil
}

// Runs returns how often candidateID ran under config.
func (s *ScriptedInterpreter) Runs(candidateID, config string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs[candidateID+"\x00"+config]
}

// Total returns the number of runs across all candidates and configs.
func (s *ScriptedInterpreter) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

// Echo is a Script that prints the candidate source and reports
// no snapshots: every configuration agrees.
func Echo(prog ir.InstrumentedProgram, _ ir.ExecutionConfig, _ int) ir.ExecutionRecord {
	return ir.ExecutionRecord{Stdout: prog.Candidate.Source}
}

// Normal builds a normally terminated record.
func Normal(stdout string) ir.ExecutionRecord {
	return ir.ExecutionRecord{Stdout: stdout, Status: ir.ExitStatus{Kind: ir.StatusNormal}}
}
