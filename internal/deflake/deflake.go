// Package deflake separates reproducible divergences from nondeterministic
// ones.
//
// A mismatch is re-executed up to Reruns times under the same pair. A rerun
// reproduces the original iff its verdict is a mismatch whose divergence
// signature (kind, probe, index, offset and digests of both values) equals
// the original's. The mismatch is confirmed iff at least Quorum reruns
// reproduce it. Inconclusive reruns never count. Reruns stop as soon as the
// decision is settled either way.
package deflake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/zenddiff/internal/executor"
	"github.com/roach88/zenddiff/internal/ir"
)

// DefaultReruns is the number of confirmation runs.
const DefaultReruns = 5

// Comparer is the oracle as seen by the filter.
type Comparer interface {
	Compare(prog ir.InstrumentedProgram, left, right ir.ExecutionRecord) ir.DiffVerdict
}

// ErrNotMismatch is returned when Confirm is given a verdict it cannot
// confirm.
var ErrNotMismatch = errors.New("deflake: verdict is not a mismatch")

// Filter re-runs mismatches to confirm them.
type Filter struct {
	interp  executor.Interpreter
	oracle  Comparer
	reruns  int
	quorum  int
	timeout time.Duration
	logger  *slog.Logger
}

// Option configures a Filter.
type Option func(*Filter)

// WithReruns sets the number of confirmation runs.
func WithReruns(n int) Option {
	return func(f *Filter) {
		if n > 0 {
			f.reruns = n
		}
	}
}

// WithQuorum sets how many reruns must reproduce. Zero means all of them.
func WithQuorum(q int) Option {
	return func(f *Filter) {
		f.quorum = q
	}
}

// WithTimeout sets the per-run timeout.
func WithTimeout(d time.Duration) Option {
	return func(f *Filter) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Filter) {
		if l != nil {
			f.logger = l
		}
	}
}

// New creates a Filter. The quorum must lie in [1, reruns].
func New(interp executor.Interpreter, oracle Comparer, opts ...Option) (*Filter, error) {
	f := &Filter{
		interp:  interp,
		oracle:  oracle,
		reruns:  DefaultReruns,
		timeout: 10 * time.Second,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.quorum == 0 {
		f.quorum = f.reruns
	}
	if f.quorum < 1 || f.quorum > f.reruns {
		return nil, fmt.Errorf("deflake: quorum %d outside [1, %d]", f.quorum, f.reruns)
	}
	return f, nil
}

// Reruns returns the configured number of confirmation runs.
func (f *Filter) Reruns() int { return f.reruns }

// Quorum returns the configured quorum.
func (f *Filter) Quorum() int { return f.quorum }

// Result is the outcome of one confirmation.
type Result struct {
	Confirmed     bool
	Reproductions int
	Runs          int

	// Bug is set when Confirmed.
	Bug *ir.BugRecord
}

// Confirm decides whether the mismatch in first reproduces. left and right
// are the records that produced it and end up on the bug record.
func (f *Filter) Confirm(ctx context.Context, prog ir.InstrumentedProgram, pair ir.ConfigPair, left, right ir.ExecutionRecord, first ir.DiffVerdict) (Result, error) {
	if first.Outcome != ir.OutcomeMismatch || first.Divergence == nil {
		return Result{}, ErrNotMismatch
	}
	want, err := ir.DivergenceSignature(*first.Divergence)
	if err != nil {
		return Result{}, err
	}

	var res Result
	for res.Runs < f.reruns {
		if res.Reproductions >= f.quorum {
			break
		}
		if res.Reproductions+(f.reruns-res.Runs) < f.quorum {
			break
		}

		l, r, err := executor.RunPair(ctx, f.interp, prog, pair, f.timeout)
		if err != nil {
			return Result{}, err
		}
		res.Runs++

		v := f.oracle.Compare(prog, l, r)
		if reproduces(v, want) {
			res.Reproductions++
			continue
		}
		f.logger.Debug("rerun did not reproduce",
			"candidate", prog.Candidate.ID, "pair", pair.Name(), "run", res.Runs, "outcome", v.Outcome)
	}

	if res.Reproductions < f.quorum {
		return res, nil
	}
	res.Confirmed = true

	id, err := ir.BugID(prog.Candidate.Source, pair, *first.Divergence)
	if err != nil {
		return Result{}, err
	}
	res.Bug = &ir.BugRecord{
		ID:            id,
		Candidate:     prog.Candidate,
		Instrumented:  prog,
		Pair:          pair,
		Left:          left,
		Right:         right,
		Verdict:       first,
		Confirmations: res.Reproductions,
		Reruns:        res.Runs,
		Quorum:        f.quorum,
	}
	return res, nil
}

func reproduces(v ir.DiffVerdict, want string) bool {
	if v.Outcome != ir.OutcomeMismatch || v.Divergence == nil {
		return false
	}
	sig, err := ir.DivergenceSignature(*v.Divergence)
	return err == nil && sig == want
}
