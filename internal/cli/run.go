package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/zenddiff/internal/config"
	"github.com/roach88/zenddiff/internal/engine"
	"github.com/roach88/zenddiff/internal/executor"
	"github.com/roach88/zenddiff/internal/ids"
	"github.com/roach88/zenddiff/internal/mutate"
	"github.com/roach88/zenddiff/internal/stats"
	"github.com/roach88/zenddiff/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigFile  string
	Database    string
	Corpus      string
	PHP         string
	Workers     int
	Duration    string
	Iterations  int64
	Timeout     string
	Reruns      int
	Quorum      int
	Pairs       []string
	Seed        int64
	MetricsAddr string

	// Interpreter overrides the PHP interpreter (for testing).
	// If nil, the configured binary is used.
	Interpreter executor.Interpreter

	// IDs overrides the run ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	IDs ids.Generator
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fuzz the JIT against the interpreter",
		Long: `Run the differential fuzzing loop.

Candidates are generated from the seed corpus, instrumented, and executed
under each configured pair. Mismatches that reproduce on every rerun are
recorded as bugs in the database; asymmetric crashes and timeouts are
recorded as stability findings.

The run stops when the iteration or time budget is spent, or on Ctrl-C.
Exit status is 1 when the run recorded a bug.

Example:
  zenddiff run --corpus ./seeds --db ./zenddiff.db --iterations 10000
  zenddiff run --config run.cue --pair jit-off,jit-on-tracing --duration 1h`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFuzz(opts, cmd)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.ConfigFile, "config", "", "path to a CUE config file")
	f.StringVar(&opts.Database, "db", "", "path to SQLite database")
	f.StringVar(&opts.Corpus, "corpus", "", "seed corpus directory (default: seeds in the database)")
	f.StringVar(&opts.PHP, "php", "", "PHP CLI binary")
	f.IntVar(&opts.Workers, "workers", 0, "number of workers")
	f.StringVar(&opts.Duration, "duration", "", "time budget (0 for unbounded)")
	f.Int64Var(&opts.Iterations, "iterations", 0, "iteration budget (0 for unbounded)")
	f.StringVar(&opts.Timeout, "timeout", "", "per-execution timeout")
	f.IntVar(&opts.Reruns, "reruns", 0, "confirmation reruns per mismatch")
	f.IntVar(&opts.Quorum, "quorum", 0, "reproductions required to confirm (0 for all reruns)")
	f.StringArrayVar(&opts.Pairs, "pair", nil, "config pair as left,right (repeatable)")
	f.Int64Var(&opts.Seed, "seed", 0, "master seed (0 picks one from the clock)")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

// applyRunFlags overrides config fields with the flags the user set, then
// re-validates.
func applyRunFlags(cmd *cobra.Command, opts *RunOptions, cfg *config.Config) error {
	f := cmd.Flags()
	if f.Changed("db") {
		cfg.Store.DB = opts.Database
	}
	if f.Changed("corpus") {
		cfg.Seeds.Corpus = opts.Corpus
	}
	if f.Changed("php") {
		cfg.Executor.PHP = opts.PHP
	}
	if f.Changed("workers") {
		cfg.Run.Workers = opts.Workers
	}
	if f.Changed("duration") {
		cfg.Run.Duration = opts.Duration
	}
	if f.Changed("iterations") {
		cfg.Run.Iterations = opts.Iterations
	}
	if f.Changed("timeout") {
		cfg.Run.Timeout = opts.Timeout
	}
	if f.Changed("reruns") {
		cfg.Run.Reruns = opts.Reruns
	}
	if f.Changed("quorum") {
		cfg.Run.Quorum = opts.Quorum
	}
	if f.Changed("seed") {
		cfg.Run.Seed = opts.Seed
	}
	if f.Changed("metrics-addr") {
		cfg.Run.MetricsAddr = opts.MetricsAddr
	}
	if f.Changed("pair") {
		pairs, err := parsePairs(opts.Pairs)
		if err != nil {
			return err
		}
		cfg.SetPairs(pairs)
	}
	if cfg.Run.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	return cfg.Validate()
}

func runFuzz(opts *RunOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	out := formatter(opts.RootOptions, cmd)

	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if err := applyRunFlags(cmd, opts, cfg); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	logger.Info("opening database", "path", cfg.Store.DB)
	st, err := openStore(cfg.Store.DB)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	corpus, err := loadCorpus(ctx, cfg, st, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load seeds", err)
	}
	if corpus.Len() == 0 {
		return NewExitError(ExitCommandError, "seed corpus is empty")
	}
	apis, err := loadAPIs(ctx, st)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load builtins", err)
	}

	pairs, err := cfg.ConfigPairs()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	orc, err := cfg.BuildOracle()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	interp := opts.Interpreter
	if interp == nil {
		php, err := newPHP(cfg, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid configuration", err)
		}
		interp = php
	}

	masterSeed := cfg.Run.Seed
	if masterSeed == 0 {
		masterSeed = time.Now().UnixNano()
	}
	gen := opts.IDs
	if gen == nil {
		gen = ids.UUIDv7Generator{}
	}
	runID := gen.Generate()

	if err := st.BeginRun(ctx, runID, masterSeed, cfg, time.Now()); err != nil {
		return WrapExitError(ExitCommandError, "failed to record run", err)
	}
	logger.Info("run starting", "run", runID, "seed", masterSeed, "seeds", corpus.Len())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
			// Parent context cancelled (e.g., from test)
		}
	}()

	counters := stats.New()
	if addr := cfg.Run.MetricsAddr; addr != "" {
		go func() {
			if err := counters.Serve(ctx, addr, logger); err != nil {
				logger.Error("metrics server failed", "addr", addr, "error", err)
			}
		}()
	}

	mutatorOpts := cfg.MutatorOptions(logger)
	if apis != nil {
		mutatorOpts = append(mutatorOpts, mutate.WithAPIs(apis))
	}

	eng, err := engine.New(corpus, interp, st,
		engine.WithWorkers(cfg.Run.Workers),
		engine.WithIterations(cfg.Run.Iterations),
		engine.WithDuration(cfg.Run.TimeBudget),
		engine.WithTimeout(cfg.Run.ExecTimeout),
		engine.WithMasterSeed(masterSeed),
		engine.WithRunID(runID),
		engine.WithPairs(pairs...),
		engine.WithOracle(orc),
		engine.WithDeflake(cfg.DeflakeOptions(logger)...),
		engine.WithMutator(mutatorOpts...),
		engine.WithStats(counters),
		engine.WithLogger(logger),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create engine", err)
	}

	summary, runErr := eng.Run(ctx)

	status := store.RunFinished
	if runErr != nil {
		status = store.RunFailed
	}
	// The run row is closed even when ctx was cancelled by a signal.
	if err := st.FinishRun(context.WithoutCancel(ctx), runID, status, summary, time.Now()); err != nil {
		logger.Error("failed to finish run", "run", runID, "error", err)
	}
	if runErr != nil {
		return WrapExitError(ExitCommandError, "run failed", runErr)
	}

	if len(summary.Bugs) > 0 {
		if out.Format == "json" {
			if err := out.Failure(summary, ErrCodeBugsFound, fmt.Sprintf("%d bug(s) found", len(summary.Bugs))); err != nil {
				return err
			}
		} else {
			printSummary(out.Writer, summary)
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d bug(s) found", len(summary.Bugs)))
	}

	if out.Format == "json" {
		return out.Success(summary)
	}
	printSummary(out.Writer, summary)
	return nil
}

// printSummary renders a run summary as text.
func printSummary(w io.Writer, s engine.Summary) {
	fmt.Fprintf(w, "Run %s: %d iteration(s) in %s\n", s.RunID, s.Iterations, s.Elapsed.Round(time.Millisecond))
	if s.Halted > 0 {
		fmt.Fprintf(w, "  %d worker(s) halted\n", s.Halted)
	}
	for _, name := range stats.Names(s.Counters) {
		if v := s.Counters[name]; v != 0 {
			fmt.Fprintf(w, "  %-24s %d\n", name, v)
		}
	}
	for _, id := range s.Bugs {
		fmt.Fprintf(w, "  bug %s\n", id)
	}
	for _, id := range s.Stability {
		fmt.Fprintf(w, "  stability %s\n", id)
	}
}
