package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/zenddiff/internal/config"
	"github.com/roach88/zenddiff/internal/deflake"
	"github.com/roach88/zenddiff/internal/engine"
	"github.com/roach88/zenddiff/internal/ids"
	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/mutate"
	"github.com/roach88/zenddiff/internal/seed"
	"github.com/roach88/zenddiff/internal/store"
	"github.com/roach88/zenddiff/internal/testutil"
)

// Harness holds the per-scenario fixtures.
type Harness struct {
	store    *store.Store
	clock    *testutil.FakeClock
	interp   *testutil.ScriptedInterpreter
	logger   *slog.Logger
	scenario *Scenario
}

// Run executes a scenario and evaluates its assertions.
//
// Each scenario gets a fresh in-memory store, a fake clock and a sequence
// ID generator, so two runs of the same scenario record the same findings.
//
// Execution flow:
//  1. Build the corpus from the inline seeds
//  2. Resolve the pair against the built-in execution configs
//  3. Run the engine with one worker until the iteration budget is spent
//  4. Read findings back from the store
//  5. Evaluate assertions
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	corpus, err := buildCorpus(scenario.Seeds)
	if err != nil {
		return nil, err
	}

	cfg, err := config.Default()
	if err != nil {
		return nil, fmt.Errorf("loading built-in configs: %w", err)
	}
	left, err := cfg.ExecutionConfig(scenario.Pair[0])
	if err != nil {
		return nil, err
	}
	right, err := cfg.ExecutionConfig(scenario.Pair[1])
	if err != nil {
		return nil, err
	}
	orc, err := cfg.BuildOracle()
	if err != nil {
		return nil, err
	}

	st, err := store.Open(store.MemoryPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		store:    st,
		clock:    testutil.NewFakeClock(time.Time{}),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		scenario: scenario,
	}
	h.interp = testutil.NewScriptedInterpreter(h.script)

	iterations := scenario.Iterations
	if iterations == 0 {
		iterations = 1
	}
	runID := "scenario-" + scenario.Name
	if err := st.BeginRun(ctx, runID, scenario.Seed, scenario, h.clock.Now()); err != nil {
		return nil, err
	}

	eng, err := engine.New(corpus, h.interp, st,
		engine.WithWorkers(1),
		engine.WithIterations(iterations),
		engine.WithMasterSeed(scenario.Seed),
		engine.WithRunID(runID),
		engine.WithPairs(ir.ConfigPair{Left: left, Right: right}),
		engine.WithOracle(orc),
		engine.WithMutator(h.mutatorOptions()...),
		engine.WithDeflake(deflake.WithReruns(scenario.Reruns), deflake.WithQuorum(scenario.Quorum)),
		engine.WithClock(h.clock),
		engine.WithLogger(h.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	summary, runErr := eng.Run(ctx)
	status := store.RunFinished
	if runErr != nil {
		status = store.RunFailed
	}
	if err := st.FinishRun(ctx, runID, status, summary, h.clock.Now()); err != nil {
		return nil, err
	}
	if runErr != nil {
		return nil, fmt.Errorf("engine run failed: %w", runErr)
	}

	result := NewResult()
	result.Summary = summary
	if err := h.collect(ctx, runID, result); err != nil {
		return nil, err
	}

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

func buildCorpus(files []SeedFile) (*seed.Corpus, error) {
	seeds := make([]ir.SeedProgram, 0, len(files))
	for _, f := range files {
		s, err := seed.NewSeed(f.Name, f.Source, f.Meta)
		if err != nil {
			return nil, fmt.Errorf("seed %s: %w", f.Name, err)
		}
		seeds = append(seeds, s)
	}
	return seed.NewCorpus(seeds), nil
}

func (h *Harness) mutatorOptions() []mutate.Option {
	m := h.scenario.Mutation
	opts := []mutate.Option{
		mutate.WithIDGenerator(ids.NewSequenceGenerator("cand")),
		mutate.WithLogger(h.logger),
	}
	if m.MaxFuse > 0 {
		opts = append(opts, mutate.WithMaxFuse(m.MaxFuse))
	}
	if m.MaxOps != nil {
		opts = append(opts, mutate.WithMaxOps(*m.MaxOps))
	}
	if m.Weights != nil {
		opts = append(opts, mutate.WithWeights(m.Weights))
	}
	return opts
}

// script is the ScriptedInterpreter callback. Every run advances the fake
// clock by one second.
func (h *Harness) script(prog ir.InstrumentedProgram, cfg ir.ExecutionConfig, run int) ir.ExecutionRecord {
	h.clock.Advance(time.Second)

	rec := ir.ExecutionRecord{
		Stdout:   prog.Candidate.Source,
		Status:   ir.ExitStatus{Kind: ir.StatusNormal},
		Duration: time.Second,
	}
	for _, b := range h.scenario.Behaviors {
		if !b.matches(cfg.Name, run) {
			continue
		}
		if b.Stdout != nil {
			rec.Stdout = strings.ReplaceAll(*b.Stdout, "{run}", strconv.Itoa(run))
		}
		if b.Status != "" {
			rec.Status.Kind = ir.StatusKind(b.Status)
		}
		rec.Status.ExitCode = b.ExitCode
		rec.Status.Signal = b.Signal
		for _, s := range b.Snapshots {
			rec.Snapshots = append(rec.Snapshots, ir.Snapshot{
				ProbeID: s.Probe,
				Depth:   s.Depth,
				Vars:    json.RawMessage(s.Vars),
			})
		}
		break
	}
	return rec
}

// collect reads the run's findings back in store order.
func (h *Harness) collect(ctx context.Context, runID string, result *Result) error {
	filter := store.Filter{RunID: runID}

	bugs, err := h.store.ListBugs(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing bugs: %w", err)
	}
	for _, b := range bugs {
		rec, err := h.store.GetBug(ctx, b.ID)
		if err != nil {
			return err
		}
		result.Bugs = append(result.Bugs, rec)
	}

	found, err := h.store.ListStability(ctx, filter)
	if err != nil {
		return fmt.Errorf("listing stability findings: %w", err)
	}
	for _, f := range found {
		rec, err := h.store.GetStability(ctx, f.ID)
		if err != nil {
			return err
		}
		result.Stability = append(result.Stability, rec)
	}
	return nil
}
