package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/zenddiff/internal/config"
	"github.com/roach88/zenddiff/internal/deflake"
	"github.com/roach88/zenddiff/internal/executor"
	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/mutate"
	"github.com/roach88/zenddiff/internal/probe"
	"github.com/roach88/zenddiff/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database   string
	ConfigFile string
	PHP        string
	Corpus     string
	RunID      string
	Regenerate bool

	// Interpreter overrides the PHP interpreter (for testing).
	Interpreter executor.Interpreter
}

// ReplayBugResult holds the replay result for a single bug.
type ReplayBugResult struct {
	ID            string `json:"id"`
	Pair          string `json:"pair"`
	Reproduced    bool   `json:"reproduced"`
	Reproductions int    `json:"reproductions"`
	Runs          int    `json:"runs"`

	// Regenerated is set with --regenerate: whether the mutator rebuilt the
	// same candidate and probes from the stored seeds.
	Regenerated *bool  `json:"regenerated,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Bugs          []ReplayBugResult `json:"bugs"`
	TotalBugs     int               `json:"total_bugs"`
	AllReproduced bool              `json:"all_reproduced"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	return newReplayCommand(&ReplayOptions{RootOptions: rootOpts})
}

func newReplayCommand(opts *ReplayOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [id...]",
		Short: "Re-run stored bugs through the flakiness filter",
		Long: `Re-run stored bugs against the current interpreter and report which
still reproduce.

Each bug's instrumented program is executed under its pair as many times as
the rerun policy asks, and counts as reproduced when the same divergence
reaches the quorum. With --regenerate, the candidate is first rebuilt from
its RNG seed over the stored corpus to check that generation is
deterministic.

Exit codes:
  0 - Every bug reproduced
  1 - At least one bug no longer reproduces
  2 - Command error (database not found, etc.)

Examples:
  zenddiff replay --db ./zenddiff.db
  zenddiff replay --db ./zenddiff.db --php ./sapi/cli/php 3f2a...
  zenddiff replay --db ./zenddiff.db --run 0192... --regenerate --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to a CUE config file")
	cmd.Flags().StringVar(&opts.PHP, "php", "", "PHP CLI binary")
	cmd.Flags().StringVar(&opts.Corpus, "corpus", "", "corpus directory for --regenerate (default: seeds in the database)")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "replay bugs from this run only")
	cmd.Flags().BoolVar(&opts.Regenerate, "regenerate", false, "rebuild each candidate from its RNG seed first")

	return cmd
}

func runReplay(opts *ReplayOptions, ids []string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	out := formatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if cmd.Flags().Changed("php") {
		cfg.Executor.PHP = opts.PHP
	}
	if cmd.Flags().Changed("corpus") {
		cfg.Seeds.Corpus = opts.Corpus
	}

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	// Get bugs to process
	if len(ids) == 0 {
		bugs, err := st.ListBugs(ctx, store.Filter{RunID: opts.RunID})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list bugs", err)
		}
		for _, b := range bugs {
			ids = append(ids, b.ID)
		}
	}

	if len(ids) == 0 {
		result := ReplayResult{Bugs: []ReplayBugResult{}, AllReproduced: true}
		if opts.Format == "json" {
			return out.Success(result)
		}
		fmt.Fprintln(out.Writer, "No bugs found in database.")
		return nil
	}

	interp := opts.Interpreter
	if interp == nil {
		php, err := newPHP(cfg, logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid configuration", err)
		}
		interp = php
	}
	orc, err := cfg.BuildOracle()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	filter, err := deflake.New(interp, orc, cfg.DeflakeOptions(logger)...)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	var regen *regenerator
	if opts.Regenerate {
		regen, err = newRegenerator(ctx, cfg, st, logger)
		if err != nil {
			return err
		}
		defer regen.close()
	}

	result := ReplayResult{
		Bugs:          make([]ReplayBugResult, 0, len(ids)),
		TotalBugs:     len(ids),
		AllReproduced: true,
	}
	for _, id := range ids {
		bug, err := st.GetBug(ctx, id)
		if err != nil {
			return notFound(id, err)
		}
		bugResult, err := replayBug(ctx, filter, regen, bug)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay bug %s", id), err)
		}
		logger.Debug("bug replayed", "bug", id, "reproduced", bugResult.Reproduced,
			"reproductions", bugResult.Reproductions, "runs", bugResult.Runs)

		result.Bugs = append(result.Bugs, bugResult)
		if !bugResult.Reproduced {
			result.AllReproduced = false
		}
	}

	// Output results
	if opts.Format == "json" {
		return outputReplayJSON(out, result)
	}
	return outputReplayText(out, result)
}

// replayBug confirms one stored bug again.
func replayBug(ctx context.Context, filter *deflake.Filter, regen *regenerator, bug ir.BugRecord) (ReplayBugResult, error) {
	res := ReplayBugResult{ID: bug.ID, Pair: bug.Pair.Name()}

	if regen != nil {
		same, err := regen.check(bug)
		if err != nil {
			res.Error = err.Error()
		}
		res.Regenerated = &same
	}

	confirmed, err := filter.Confirm(ctx, bug.Instrumented, bug.Pair, bug.Left, bug.Right, bug.Verdict)
	if err != nil {
		return ReplayBugResult{}, err
	}
	res.Reproduced = confirmed.Confirmed
	res.Reproductions = confirmed.Reproductions
	res.Runs = confirmed.Runs
	return res, nil
}

// regenerator rebuilds candidates from their RNG seeds.
type regenerator struct {
	mutator  *mutate.Mutator
	injector *probe.Injector
}

func newRegenerator(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) (*regenerator, error) {
	corpus, err := loadCorpus(ctx, cfg, st, logger)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load seeds", err)
	}
	apis, err := loadAPIs(ctx, st)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load builtins", err)
	}
	mopts := cfg.MutatorOptions(logger)
	if apis != nil {
		mopts = append(mopts, mutate.WithAPIs(apis))
	}
	m, err := mutate.New(corpus, mopts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create mutator", err)
	}
	inj, err := probe.NewInjector()
	if err != nil {
		m.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create injector", err)
	}
	return &regenerator{mutator: m, injector: inj}, nil
}

// check reports whether the bug's candidate and instrumented program are
// rebuilt byte for byte.
func (r *regenerator) check(bug ir.BugRecord) (bool, error) {
	c, err := r.mutator.Replay(bug.Candidate)
	if errors.Is(err, mutate.ErrReplayMismatch) {
		return false, err
	}
	if err != nil {
		return false, fmt.Errorf("regenerating candidate: %w", err)
	}
	prog, err := r.injector.Instrument(c)
	if err != nil {
		return false, fmt.Errorf("instrumenting candidate: %w", err)
	}
	if prog.Source != bug.Instrumented.Source {
		return false, fmt.Errorf("instrumented program differs from the stored one")
	}
	return true, nil
}

func (r *regenerator) close() {
	r.injector.Close()
	r.mutator.Close()
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(out *OutputFormatter, result ReplayResult) error {
	if result.AllReproduced {
		return out.Success(result)
	}
	if err := out.Failure(result, ErrCodeReplay, "bug(s) no longer reproduce"); err != nil {
		return err
	}
	return NewExitError(ExitFailure, "bug(s) no longer reproduce")
}

// outputReplayText outputs the replay result as text.
func outputReplayText(out *OutputFormatter, result ReplayResult) error {
	w := out.Writer

	fmt.Fprintf(w, "Replay Summary: %d bug(s)\n", result.TotalBugs)
	fmt.Fprintln(w)

	for _, bug := range result.Bugs {
		status := "✓"
		if !bug.Reproduced {
			status = "✗"
		}

		fmt.Fprintf(w, "%s Bug: %s (%s)\n", status, bug.ID, bug.Pair)
		fmt.Fprintf(w, "  Reproduced: %d/%d\n", bug.Reproductions, bug.Runs)
		if bug.Regenerated != nil {
			fmt.Fprintf(w, "  Regenerated: %v\n", *bug.Regenerated)
		}
		if bug.Error != "" && out.Verbose {
			fmt.Fprintf(w, "  %s\n", bug.Error)
		}
		fmt.Fprintln(w)
	}

	if result.AllReproduced {
		fmt.Fprintln(w, "✓ All bugs reproduced")
		return nil
	}

	fmt.Fprintln(w, "✗ Some bugs no longer reproduce")
	return NewExitError(ExitFailure, "bug(s) no longer reproduce")
}

