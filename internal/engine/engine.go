package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/zenddiff/internal/deflake"
	"github.com/roach88/zenddiff/internal/executor"
	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/mutate"
	"github.com/roach88/zenddiff/internal/oracle"
	"github.com/roach88/zenddiff/internal/probe"
	"github.com/roach88/zenddiff/internal/seed"
	"github.com/roach88/zenddiff/internal/stats"
)

// Sink receives confirmed bugs and stability findings. *store.Store
// implements it.
type Sink interface {
	Record(ctx context.Context, bug ir.BugRecord) (string, error)
	RecordStability(ctx context.Context, f ir.StabilityFinding) (string, error)
}

// DefaultTimeout bounds one interpreter execution.
const DefaultTimeout = 5 * time.Second

// Options configures an Engine.
type Options struct {
	// Workers is the number of concurrent pipelines.
	Workers int

	// MaxIterations bounds generated candidates. Zero is unbounded.
	MaxIterations int64

	// Duration bounds wall time. Zero is unbounded.
	Duration time.Duration

	// Timeout bounds each execution.
	Timeout time.Duration

	// MasterSeed derives every worker's random source.
	MasterSeed int64

	// RunID is stamped on every finding.
	RunID string

	Pairs   []ir.ConfigPair
	Oracle  deflake.Comparer
	Deflake []deflake.Option
	Mutator []mutate.Option
	Stats   *stats.Stats
	Clock   Clock
	Logger  *slog.Logger
}

// Option configures an Engine.
type Option func(*Options)

// DefaultOptions returns the engine defaults. Pairs have no default.
func DefaultOptions() Options {
	return Options{
		Workers: 1,
		Timeout: DefaultTimeout,
		Clock:   systemClock{},
		Logger:  slog.Default(),
	}
}

// WithWorkers sets the worker count.
func WithWorkers(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.Workers = n
		}
	}
}

// WithIterations sets the iteration budget.
func WithIterations(n int64) Option {
	return func(o *Options) {
		o.MaxIterations = n
	}
}

// WithDuration sets the time budget.
func WithDuration(d time.Duration) Option {
	return func(o *Options) {
		o.Duration = d
	}
}

// WithTimeout sets the per-execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithMasterSeed sets the seed all worker random sources derive from.
func WithMasterSeed(seed int64) Option {
	return func(o *Options) {
		o.MasterSeed = seed
	}
}

// WithRunID sets the run ID stamped on findings.
func WithRunID(id string) Option {
	return func(o *Options) {
		o.RunID = id
	}
}

// WithPairs sets the config pairs one is drawn from per candidate.
func WithPairs(pairs ...ir.ConfigPair) Option {
	return func(o *Options) {
		o.Pairs = pairs
	}
}

// WithOracle replaces the default oracle.
func WithOracle(c deflake.Comparer) Option {
	return func(o *Options) {
		o.Oracle = c
	}
}

// WithDeflake passes options to the nondeterminism filter.
func WithDeflake(opts ...deflake.Option) Option {
	return func(o *Options) {
		o.Deflake = append(o.Deflake, opts...)
	}
}

// WithMutator passes options to every worker's Mutator.
func WithMutator(opts ...mutate.Option) Option {
	return func(o *Options) {
		o.Mutator = append(o.Mutator, opts...)
	}
}

// WithStats shares counters with the caller, e.g. for a metrics endpoint.
func WithStats(s *stats.Stats) Option {
	return func(o *Options) {
		o.Stats = s
	}
}

// WithClock sets the time source for the time budget.
func WithClock(c Clock) Option {
	return func(o *Options) {
		if c != nil {
			o.Clock = c
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// Engine is the worker pool.
//
// Thread-safety model:
//   - Run: call once
//   - Stats: safe from any goroutine while Run is in progress
type Engine struct {
	corpus *seed.Corpus
	interp executor.Interpreter
	sink   Sink
	oracle deflake.Comparer
	filter *deflake.Filter
	stats  *stats.Stats
	budget *Budget
	queue  *findingQueue
	opts   Options
	logger *slog.Logger

	halted atomic.Int64
}

// New creates an Engine. The corpus is shared read-only by all workers.
func New(corpus *seed.Corpus, interp executor.Interpreter, sink Sink, opts ...Option) (*Engine, error) {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if corpus == nil || corpus.Len() == 0 {
		return nil, &RunError{Code: ErrCodeSetup, Message: "corpus is empty", Worker: -1, Err: mutate.ErrEmptyCorpus}
	}
	if len(o.Pairs) == 0 {
		return nil, &RunError{Code: ErrCodeSetup, Message: "no config pairs", Worker: -1}
	}
	if o.Oracle == nil {
		o.Oracle = oracle.New()
	}
	if o.Stats == nil {
		o.Stats = stats.New()
	}

	filterOpts := append([]deflake.Option{
		deflake.WithTimeout(o.Timeout),
		deflake.WithLogger(o.Logger),
	}, o.Deflake...)
	filter, err := deflake.New(interp, o.Oracle, filterOpts...)
	if err != nil {
		return nil, &RunError{Code: ErrCodeSetup, Message: "nondeterminism filter", Worker: -1, Err: err}
	}

	return &Engine{
		corpus: corpus,
		interp: interp,
		sink:   sink,
		oracle: o.Oracle,
		filter: filter,
		stats:  o.Stats,
		budget: NewBudget(o.MaxIterations),
		queue:  newFindingQueue(),
		opts:   o,
		logger: o.Logger,
	}, nil
}

// Stats returns the run counters.
func (e *Engine) Stats() *stats.Stats {
	return e.stats
}

// Summary describes a finished run.
type Summary struct {
	RunID      string           `json:"run_id,omitempty"`
	Iterations int64            `json:"iterations"`
	Elapsed    time.Duration    `json:"elapsed"`
	Halted     int              `json:"halted"`
	Counters   map[string]int64 `json:"counters"`
	Bugs       []string         `json:"bugs"`
	Stability  []string         `json:"stability"`
}

// Run drives the workers until a budget runs out or ctx is done.
//
// A worker that hits a fatal error stops and the rest keep going. Run
// returns an error only when every worker halted or when findings could
// not be written; the summary is valid either way.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	start := e.opts.Clock.Now()
	e.logger.Info("engine starting",
		"workers", e.opts.Workers,
		"pairs", len(e.opts.Pairs),
		"seeds", e.corpus.Len(),
		"seed", e.opts.MasterSeed)

	var summary Summary
	summary.RunID = e.opts.RunID

	sinkDone := make(chan error, 1)
	go func() {
		sinkDone <- e.drain(context.WithoutCancel(ctx), &summary)
	}()

	var g errgroup.Group
	for i := 0; i < e.opts.Workers; i++ {
		id := i
		g.Go(func() error {
			if err := e.work(ctx, id, start); err != nil {
				e.halted.Add(1)
				e.stats.Inc(stats.WorkerHalts)
				e.logger.Error("worker halted", "worker", id, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	e.queue.Close()
	sinkErr := <-sinkDone

	summary.Iterations = e.budget.Claimed()
	summary.Elapsed = e.opts.Clock.Now().Sub(start)
	summary.Halted = int(e.halted.Load())
	summary.Counters = e.stats.Snapshot()

	e.logger.Info("engine stopped", e.stats.Summary()...)

	if summary.Halted == e.opts.Workers && ctx.Err() == nil && !e.exhausted(start) {
		return summary, &RunError{
			Code:    ErrCodeAllHalted,
			Message: fmt.Sprintf("all %d workers halted", summary.Halted),
			Worker:  -1,
		}
	}
	if sinkErr != nil {
		return summary, &RunError{Code: ErrCodeSink, Message: "recording findings", Worker: -1, Err: sinkErr}
	}
	return summary, nil
}

// exhausted reports whether a budget has run out.
func (e *Engine) exhausted(start time.Time) bool {
	if e.opts.MaxIterations > 0 && e.budget.Claimed() >= e.opts.MaxIterations {
		return true
	}
	return e.opts.Duration > 0 && e.opts.Clock.Now().Sub(start) >= e.opts.Duration
}

// drain is the single writer. Write failures are logged and the first
// one is returned after the queue is empty.
func (e *Engine) drain(ctx context.Context, summary *Summary) error {
	var firstErr error
	for {
		f, ok := e.queue.Dequeue()
		if !ok {
			return firstErr
		}

		var err error
		switch {
		case f.bug != nil:
			var id string
			if id, err = e.sink.Record(ctx, *f.bug); err == nil {
				summary.Bugs = append(summary.Bugs, id)
			}
		case f.stability != nil:
			var id string
			if id, err = e.sink.RecordStability(ctx, *f.stability); err == nil {
				summary.Stability = append(summary.Stability, id)
			}
		}
		if err != nil {
			e.logger.Error("recording finding failed", "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
}

// workerSeed spreads worker indices across the seed space so neighbouring
// workers do not draw correlated sequences.
func workerSeed(master int64, worker int) int64 {
	return int64(uint64(master) + uint64(worker)*0x9E3779B97F4A7C15)
}

// worker is the per-goroutine pipeline state.
type worker struct {
	id  int
	rng *rand.Rand
	mut *mutate.Mutator
	inj *probe.Injector
}

// work runs iterations until a stop condition. A non-nil error means the
// worker halted.
func (e *Engine) work(ctx context.Context, id int, start time.Time) error {
	w, err := e.newWorker(id)
	if err != nil {
		return err
	}
	defer w.close()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if e.opts.Duration > 0 && e.opts.Clock.Now().Sub(start) >= e.opts.Duration {
			return nil
		}
		n, ok := e.budget.Claim()
		if !ok {
			return nil
		}

		outcome, err := e.iterate(ctx, w)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if executor.IsSpawnError(err) {
				return newHaltError(id, err)
			}
			// Anything else is local to this candidate.
			e.logger.Warn("iteration failed", "worker", id, "iteration", n, "error", err)
			continue
		}
		e.logger.Debug("iteration done", "worker", id, "iteration", n, "outcome", outcome)
	}
}
