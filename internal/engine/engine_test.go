package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zenddiff/internal/deflake"
	"github.com/roach88/zenddiff/internal/executor"
	"github.com/roach88/zenddiff/internal/ids"
	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/mutate"
	"github.com/roach88/zenddiff/internal/oracle"
	"github.com/roach88/zenddiff/internal/seed"
	"github.com/roach88/zenddiff/internal/stats"
	"github.com/roach88/zenddiff/internal/testutil"
)

var (
	jitOff     = ir.ExecutionConfig{Name: "jit-off", Flags: map[string]string{"opcache.jit": "disable"}}
	jitTracing = ir.ExecutionConfig{Name: "jit-on-tracing", Flags: map[string]string{"opcache.jit": "tracing"}}
)

func testCorpus(t *testing.T) *seed.Corpus {
	t.Helper()
	sources := map[string]string{
		"add.php":   "<?php\n$a = 1 + 2;\necho $a, \"\\n\";\n",
		"loop.php":  "<?php\n$s = 0;\nfor ($i = 0; $i < 10; $i++) { $s += $i; }\necho $s;\n",
		"float.php": "<?php\n$x = 0.1 + 0.2;\nvar_dump($x);\n",
	}
	var seeds []ir.SeedProgram
	for _, name := range []string{"add.php", "loop.php", "float.php"} {
		s, err := seed.NewSeed(name, sources[name], ir.SeedMeta{})
		require.NoError(t, err)
		seeds = append(seeds, s)
	}
	return seed.NewCorpus(seeds)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newEngine(t *testing.T, interp executor.Interpreter, sink Sink, opts ...Option) *Engine {
	t.Helper()
	base := []Option{
		WithPairs(ir.ConfigPair{Left: jitOff, Right: jitTracing}),
		WithMutator(mutate.WithIDGenerator(ids.NewSequenceGenerator("cand"))),
		WithOracle(oracle.New(oracle.WithNoise(nil))),
		WithLogger(quietLogger()),
	}
	e, err := New(testCorpus(t), interp, sink, append(base, opts...)...)
	require.NoError(t, err)
	return e
}

// byConfig prints the config name: every candidate diverges the same way
// on every run.
func byConfig(_ ir.InstrumentedProgram, cfg ir.ExecutionConfig, _ int) ir.ExecutionRecord {
	return testutil.Normal(cfg.Name)
}

func TestNew_Validation(t *testing.T) {
	interp := testutil.NewScriptedInterpreter(testutil.Echo)
	sink := testutil.NewMemorySink()

	_, err := New(seed.NewCorpus(nil), interp, sink, WithPairs(ir.ConfigPair{Left: jitOff, Right: jitOff}))
	require.Error(t, err)
	assert.ErrorIs(t, err, mutate.ErrEmptyCorpus)

	_, err = New(testCorpus(t), interp, sink)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no config pairs")

	_, err = New(testCorpus(t), interp, sink,
		WithPairs(ir.ConfigPair{Left: jitOff, Right: jitOff}),
		WithDeflake(deflake.WithReruns(3), deflake.WithQuorum(4)),
	)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quorum")
}

func TestRun_SanityPairingNeverFindsBugs(t *testing.T) {
	interp := testutil.NewScriptedInterpreter(testutil.Echo)
	sink := testutil.NewMemorySink()
	e := newEngine(t, interp, sink,
		WithPairs(ir.ConfigPair{Left: jitOff, Right: jitOff}),
		WithWorkers(3),
		WithIterations(30),
	)

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(30), summary.Iterations)
	assert.Empty(t, sink.Bugs())
	assert.Empty(t, sink.Stability())
	assert.Equal(t, int64(0), summary.Counters["mismatches"])
	assert.Equal(t, summary.Counters["candidates"], summary.Counters["matches"]+summary.Counters["inject_failures"])
}

func TestRun_ExactIterationBudget(t *testing.T) {
	interp := testutil.NewScriptedInterpreter(testutil.Echo)
	e := newEngine(t, interp, testutil.NewMemorySink(), WithWorkers(4), WithIterations(50))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(50), summary.Iterations)
	assert.Equal(t, int64(50), e.Stats().Get(stats.Candidates))
}

func TestRun_ConfirmsReproducibleMismatch(t *testing.T) {
	interp := testutil.NewScriptedInterpreter(byConfig)
	sink := testutil.NewMemorySink()
	e := newEngine(t, interp, sink,
		WithIterations(3),
		WithRunID("run-1"),
		WithMutator(mutate.WithMaxOps(0)),
	)

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	bugs := sink.Bugs()
	require.NotEmpty(t, bugs)
	assert.Len(t, summary.Bugs, int(e.Stats().Get(stats.Confirmed)))
	for _, bug := range bugs {
		assert.Equal(t, "run-1", bug.RunID)
		assert.Equal(t, deflake.DefaultReruns, bug.Confirmations)
		assert.Equal(t, deflake.DefaultReruns, bug.Quorum)
		require.NotNil(t, bug.Verdict.Divergence)
		assert.Equal(t, ir.DivergeStdout, bug.Verdict.Divergence.Kind)
		assert.Equal(t, "jit-off/jit-on-tracing", bug.Pair.Name())
	}
	assert.Equal(t, executed(e), e.Stats().Get(stats.Confirmed))
}

// executed counts candidates that made it past instrumentation.
func executed(e *Engine) int64 {
	return e.Stats().Get(stats.Candidates) - e.Stats().Get(stats.InjectFailures)
}

func TestRun_DiscardsFlakyMismatch(t *testing.T) {
	flaky := func(_ ir.InstrumentedProgram, cfg ir.ExecutionConfig, run int) ir.ExecutionRecord {
		if run == 0 && cfg.Name == jitTracing.Name {
			return testutil.Normal("glitch")
		}
		return testutil.Normal("stable")
	}
	interp := testutil.NewScriptedInterpreter(flaky)
	sink := testutil.NewMemorySink()
	e := newEngine(t, interp, sink, WithIterations(4))

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, sink.Bugs())
	assert.Equal(t, e.Stats().Get(stats.Mismatches), e.Stats().Get(stats.Discarded))
	assert.Positive(t, e.Stats().Get(stats.Discarded))
}

func TestRun_AsymmetricCrashIsStabilityFinding(t *testing.T) {
	crashRight := func(_ ir.InstrumentedProgram, cfg ir.ExecutionConfig, _ int) ir.ExecutionRecord {
		if cfg.Name == jitTracing.Name {
			return ir.ExecutionRecord{Status: ir.ExitStatus{Kind: ir.StatusCrash, ExitCode: -1, Signal: "segmentation fault"}}
		}
		return testutil.Normal("ok")
	}
	interp := testutil.NewScriptedInterpreter(crashRight)
	sink := testutil.NewMemorySink()
	e := newEngine(t, interp, sink, WithIterations(2), WithMutator(mutate.WithMaxOps(0)))

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, sink.Bugs(), "stability findings are never bugs")
	found := sink.Stability()
	require.NotEmpty(t, found)
	assert.Equal(t, ir.SideRight, found[0].Side)
	assert.Equal(t, ir.StabilityCrash, found[0].Kind)
	assert.Equal(t, executed(e), e.Stats().Get(stats.Crashes))
}

func TestRun_SymmetricTimeoutIsMatch(t *testing.T) {
	hang := func(_ ir.InstrumentedProgram, _ ir.ExecutionConfig, _ int) ir.ExecutionRecord {
		return ir.ExecutionRecord{Status: ir.ExitStatus{Kind: ir.StatusTimeout, ExitCode: -1}}
	}
	sink := testutil.NewMemorySink()
	e := newEngine(t, testutil.NewScriptedInterpreter(hang), sink, WithIterations(3))

	_, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, sink.Stability())
	assert.Equal(t, 2*executed(e), e.Stats().Get(stats.Timeouts))
}

func TestRun_NoiseIsNotConfirmed(t *testing.T) {
	interp := testutil.NewScriptedInterpreter(byConfig)
	sink := testutil.NewMemorySink()
	noise, err := oracle.CompileNoise([]oracle.NoiseSpec{{Name: "everything", Source: "php"}})
	require.NoError(t, err)
	e := newEngine(t, interp, sink, WithIterations(3), WithOracle(oracle.New(oracle.WithNoise(noise))))

	_, err = e.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, sink.Bugs())
	assert.Equal(t, executed(e), e.Stats().Get(stats.Noise))
}

func TestRun_SpawnErrorHaltsWorkers(t *testing.T) {
	interp := testutil.NewScriptedInterpreter(testutil.Echo)
	interp.Fail = func(_ ir.InstrumentedProgram, cfg ir.ExecutionConfig) error {
		return &executor.SpawnError{Config: cfg.Name, Attempts: 3, Err: errors.New("fork: resource temporarily unavailable")}
	}
	e := newEngine(t, interp, testutil.NewMemorySink(), WithWorkers(2), WithIterations(100))

	summary, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsWorkerHalted(err))
	assert.Equal(t, 2, summary.Halted)
	assert.Equal(t, int64(2), e.Stats().Get(stats.WorkerHalts))
}

func TestRun_OneWorkerHaltsOthersContinue(t *testing.T) {
	var once sync.Once
	interp := testutil.NewScriptedInterpreter(testutil.Echo)
	interp.Fail = func(_ ir.InstrumentedProgram, cfg ir.ExecutionConfig) error {
		var err error
		once.Do(func() {
			err = &executor.SpawnError{Config: cfg.Name, Attempts: 1, Err: errors.New("exec format error")}
		})
		return err
	}
	e := newEngine(t, interp, testutil.NewMemorySink(), WithWorkers(3), WithIterations(30))

	summary, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Halted)
	assert.Equal(t, int64(30), summary.Iterations)
}

func TestRun_TimeBudget(t *testing.T) {
	clock := testutil.NewFakeClock(time.Time{})
	ticking := func(prog ir.InstrumentedProgram, cfg ir.ExecutionConfig, run int) ir.ExecutionRecord {
		clock.Advance(time.Second)
		return testutil.Echo(prog, cfg, run)
	}
	e := newEngine(t, testutil.NewScriptedInterpreter(ticking), testutil.NewMemorySink(),
		WithDuration(10*time.Second),
		WithClock(clock),
	)

	summary, err := e.Run(context.Background())
	require.NoError(t, err)

	// Two executions per iteration, one fake second each.
	assert.Equal(t, int64(5), executed(e))
	assert.Equal(t, summary.Iterations, e.Stats().Get(stats.Candidates))
	assert.Equal(t, 10*time.Second, summary.Elapsed)
}

func TestRun_CancelledContextStopsImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	interp := testutil.NewScriptedInterpreter(testutil.Echo)
	e := newEngine(t, interp, testutil.NewMemorySink(), WithWorkers(2))

	summary, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), summary.Iterations)
	assert.Equal(t, 0, interp.Total())
}

func TestRun_SingleWorkerIsReproducible(t *testing.T) {
	collect := func() []string {
		var mu sync.Mutex
		var sources []string
		record := func(prog ir.InstrumentedProgram, cfg ir.ExecutionConfig, run int) ir.ExecutionRecord {
			if cfg.Name == jitOff.Name {
				mu.Lock()
				sources = append(sources, prog.Source)
				mu.Unlock()
			}
			return testutil.Echo(prog, cfg, run)
		}
		e := newEngine(t, testutil.NewScriptedInterpreter(record), testutil.NewMemorySink(),
			WithIterations(15),
			WithMasterSeed(1234),
		)
		_, err := e.Run(context.Background())
		require.NoError(t, err)
		return sources
	}

	first := collect()
	require.NotEmpty(t, first)
	assert.Equal(t, first, collect())
}

func TestRun_SinkFailureIsReported(t *testing.T) {
	sink := testutil.NewMemorySink()
	sink.Err = errors.New("database is locked")
	e := newEngine(t, testutil.NewScriptedInterpreter(byConfig), sink, WithIterations(4))

	summary, err := e.Run(context.Background())
	require.Error(t, err)
	assert.True(t, IsSinkError(err))
	assert.Empty(t, summary.Bugs)
}

func TestStabilityFinding(t *testing.T) {
	normal := ir.ExecutionRecord{Status: ir.ExitStatus{Kind: ir.StatusNormal}}
	crash := ir.ExecutionRecord{Status: ir.ExitStatus{Kind: ir.StatusCrash}}
	timeout := ir.ExecutionRecord{Status: ir.ExitStatus{Kind: ir.StatusTimeout}}
	asan := ir.ExecutionRecord{Status: ir.ExitStatus{Kind: ir.StatusCrash, Reason: "asan", Sanitizer: true}}
	prog := ir.InstrumentedProgram{Candidate: ir.CandidateProgram{ID: "c", Source: "<?php echo 1;"}}
	pair := ir.ConfigPair{Left: jitOff, Right: jitTracing}

	tests := []struct {
		name        string
		left, right ir.ExecutionRecord
		ok          bool
		side        ir.Side
		kind        ir.StabilityKind
	}{
		{"both normal", normal, normal, false, "", ""},
		{"right crash", normal, crash, true, ir.SideRight, ir.StabilityCrash},
		{"left timeout", timeout, normal, true, ir.SideLeft, ir.StabilityTimeout},
		{"both crash", crash, crash, true, ir.SideBoth, ir.StabilityCrash},
		{"crash and timeout", crash, timeout, true, ir.SideBoth, ir.StabilityCrash},
		{"both timeout", timeout, timeout, false, "", ""},
		{"right sanitizer", normal, asan, true, ir.SideRight, ir.StabilitySanitizer},
		{"sanitizer and crash", crash, asan, true, ir.SideBoth, ir.StabilitySanitizer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, ok := stabilityFinding(prog, pair, tt.left, tt.right)
			require.Equal(t, tt.ok, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.side, f.Side)
			assert.Equal(t, tt.kind, f.Kind)
			want, err := ir.StabilityID(prog.Candidate.Source, pair, tt.kind, tt.side)
			require.NoError(t, err)
			assert.Equal(t, want, f.ID)
		})
	}
}
