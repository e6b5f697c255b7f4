package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"

	"github.com/roach88/zenddiff/internal/executor"
	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/mutate"
	"github.com/roach88/zenddiff/internal/probe"
	"github.com/roach88/zenddiff/internal/stats"
)

func (e *Engine) newWorker(id int) (*worker, error) {
	m, err := mutate.New(e.corpus, e.opts.Mutator...)
	if err != nil {
		return nil, fmt.Errorf("worker %d: %w", id, err)
	}
	inj, err := probe.NewInjector()
	if err != nil {
		m.Close()
		return nil, fmt.Errorf("worker %d: %w", id, err)
	}
	return &worker{
		id:  id,
		rng: rand.New(rand.NewSource(workerSeed(e.opts.MasterSeed, id))),
		mut: m,
		inj: inj,
	}, nil
}

func (w *worker) close() {
	w.mut.Close()
	w.inj.Close()
}

// iterate runs one candidate through the pipeline. Errors are returned
// only for failures outside the candidate itself: spawn failures and
// cancellation.
func (e *Engine) iterate(ctx context.Context, w *worker) (Outcome, error) {
	cand, err := w.mut.Generate(w.rng.Int63())
	if err != nil {
		return OutcomeSkipped, fmt.Errorf("generate: %w", err)
	}
	e.stats.Inc(stats.Candidates)
	pair := e.opts.Pairs[w.rng.Intn(len(e.opts.Pairs))]
	log := e.logger.With("worker", w.id, "candidate", cand.ID, "pair", pair.Name())

	prog, err := w.inj.Instrument(cand)
	if err != nil {
		e.stats.Inc(stats.InjectFailures)
		log.Debug("instrumentation failed", "error", err)
		return OutcomeSkipped, nil
	}

	left, right, err := executor.RunPair(ctx, e.interp, prog, pair, e.opts.Timeout)
	if err != nil {
		return "", err
	}
	e.observe(left)
	e.observe(right)

	v := e.oracle.Compare(prog, left, right)
	switch v.Outcome {
	case ir.OutcomeMatch:
		if v.Stability {
			return e.stability(log, prog, pair, left, right), nil
		}
		e.stats.Inc(stats.Matches)
		return OutcomeMatch, nil

	case ir.OutcomeInconclusive:
		if v.Noise != "" {
			e.stats.Inc(stats.Noise)
			log.Debug("mismatch explained by noise", "rule", v.Noise)
			return OutcomeNoise, nil
		}
		if v.Stability {
			return e.stability(log, prog, pair, left, right), nil
		}
		e.stats.Inc(stats.Inconclusive)
		return OutcomeInconclusive, nil
	}

	e.stats.Inc(stats.Mismatches)
	if v.Divergence != nil {
		log = log.With("probe", v.Divergence.ProbeID)
	}
	log.Debug("mismatch, confirming", "detail", v.Detail)

	res, err := e.filter.Confirm(ctx, prog, pair, left, right, v)
	if err != nil {
		return "", err
	}
	if !res.Confirmed {
		e.stats.Inc(stats.Discarded)
		log.Debug("discarded as nondeterministic",
			"reproductions", res.Reproductions, "runs", res.Runs)
		return OutcomeDiscarded, nil
	}

	bug := *res.Bug
	bug.RunID = e.opts.RunID
	e.queue.Enqueue(finding{bug: &bug})
	e.stats.Inc(stats.Confirmed)
	log.Info("bug confirmed", "bug", bug.ID, "outcome", OutcomeConfirmed, "detail", v.Detail)
	return OutcomeConfirmed, nil
}

func (e *Engine) observe(rec ir.ExecutionRecord) {
	e.stats.ObserveExecution(rec.Duration)
	switch rec.Status.Kind {
	case ir.StatusTimeout:
		e.stats.Inc(stats.Timeouts)
	case ir.StatusCrash:
		e.stats.Inc(stats.Crashes)
	}
}

// stability records a crash or timeout as a stability finding. Symmetric
// timeouts are not recorded: both modes agree the program does not finish.
func (e *Engine) stability(log *slog.Logger, prog ir.InstrumentedProgram, pair ir.ConfigPair, left, right ir.ExecutionRecord) Outcome {
	f, ok := stabilityFinding(prog, pair, left, right)
	if !ok {
		e.stats.Inc(stats.Matches)
		return OutcomeMatch
	}
	f.RunID = e.opts.RunID
	e.queue.Enqueue(finding{stability: &f})
	e.stats.Inc(stats.Stability)
	log.Info("stability finding", "kind", f.Kind, "side", f.Side, "outcome", OutcomeStability)
	return OutcomeStability
}

func stabilityFinding(prog ir.InstrumentedProgram, pair ir.ConfigPair, left, right ir.ExecutionRecord) (ir.StabilityFinding, bool) {
	l, r := left.Status.Kind, right.Status.Kind

	var side ir.Side
	switch {
	case l != ir.StatusNormal && r == ir.StatusNormal:
		side = ir.SideLeft
	case l == ir.StatusNormal && r != ir.StatusNormal:
		side = ir.SideRight
	case l != ir.StatusNormal && r != ir.StatusNormal:
		side = ir.SideBoth
	default:
		return ir.StabilityFinding{}, false
	}

	kind := ir.StabilityTimeout
	if l == ir.StatusCrash || r == ir.StatusCrash {
		kind = ir.StabilityCrash
	}
	if left.Status.Sanitizer || right.Status.Sanitizer {
		kind = ir.StabilitySanitizer
	}
	if side == ir.SideBoth && kind == ir.StabilityTimeout {
		return ir.StabilityFinding{}, false
	}

	id, err := ir.StabilityID(prog.Candidate.Source, pair, kind, side)
	if err != nil {
		return ir.StabilityFinding{}, false
	}
	return ir.StabilityFinding{
		ID:        id,
		Kind:      kind,
		Side:      side,
		Candidate: prog.Candidate,
		Pair:      pair,
		Left:      left,
		Right:     right,
	}, true
}
