package testutil

import (
	"context"
	"sync"

	"github.com/roach88/zenddiff/internal/ir"
)

// MemorySink collects bugs and stability findings in memory. Recording
// the same ID twice keeps the first, like the SQLite store.
type MemorySink struct {
	mu        sync.Mutex
	bugs      []ir.BugRecord
	stability []ir.StabilityFinding
	seen      map[string]bool

	// Err, when set, is returned by every Record call.
	Err error
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{seen: make(map[string]bool)}
}

// Record stores bug unless its ID is already present.
func (s *MemorySink) Record(_ context.Context, bug ir.BugRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	if !s.seen[bug.ID] {
		s.seen[bug.ID] = true
		s.bugs = append(s.bugs, bug)
	}
	return bug.ID, nil
}

// RecordStability stores f unless its ID is already present.
func (s *MemorySink) RecordStability(_ context.Context, f ir.StabilityFinding) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return "", s.Err
	}
	if !s.seen[f.ID] {
		s.seen[f.ID] = true
		s.stability = append(s.stability, f)
	}
	return f.ID, nil
}

// Bugs returns the recorded bugs in insertion order.
func (s *MemorySink) Bugs() []ir.BugRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ir.BugRecord(nil), s.bugs...)
}

// Stability returns the recorded stability findings in insertion order.
func (s *MemorySink) Stability() []ir.StabilityFinding {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ir.StabilityFinding(nil), s.stability...)
}
