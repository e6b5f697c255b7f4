package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/zenddiff/internal/config"
	"github.com/roach88/zenddiff/internal/deflake"
	"github.com/roach88/zenddiff/internal/executor"
	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/oracle"
	"github.com/roach88/zenddiff/internal/probe"
	"github.com/roach88/zenddiff/internal/seed"
)

// DiffOptions holds flags for the diff command.
type DiffOptions struct {
	*RootOptions
	ConfigFile string
	PHP        string
	Pair       string
	Timeout    string
	Confirm    bool

	// Interpreter overrides the PHP interpreter (for testing).
	Interpreter executor.Interpreter
}

// DiffResult is the outcome of one differential execution.
type DiffResult struct {
	Candidate    string             `json:"candidate"`
	Pair         string             `json:"pair"`
	Verdict      ir.DiffVerdict     `json:"verdict"`
	Left         ir.ExecutionRecord `json:"left"`
	Right        ir.ExecutionRecord `json:"right"`
	Confirmation *Confirmation      `json:"confirmation,omitempty"`
	Diff         string             `json:"diff,omitempty"`
}

// Confirmation reports the rerun filter's decision.
type Confirmation struct {
	Confirmed     bool `json:"confirmed"`
	Reproductions int  `json:"reproductions"`
	Runs          int  `json:"runs"`
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	return newDiffCommand(&DiffOptions{RootOptions: rootOpts})
}

func newDiffCommand(opts *DiffOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "diff <file.php>",
		Short: "Run one program under a config pair and compare",
		Long: `Instrument a single program, run it under both configs of a pair, and
report the first divergence.

With --confirm, a mismatch is rerun through the flakiness filter and only
reported when it reproduces. Exit status is 1 when a mismatch is reported.

Example:
  zenddiff diff --php ./sapi/cli/php test.php
  zenddiff diff --pair jit-off,jit-on-function --confirm test.php`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to a CUE config file")
	cmd.Flags().StringVar(&opts.PHP, "php", "", "PHP CLI binary")
	cmd.Flags().StringVar(&opts.Pair, "pair", "", "config pair as left,right (default: first configured pair)")
	cmd.Flags().StringVar(&opts.Timeout, "timeout", "", "per-execution timeout")
	cmd.Flags().BoolVar(&opts.Confirm, "confirm", false, "rerun a mismatch through the flakiness filter")

	return cmd
}

func runDiff(opts *DiffOptions, path string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	out := formatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if err := applyDiffFlags(cmd, opts, cfg); err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	pairs, err := cfg.ConfigPairs()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	pair := pairs[0]
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

	prog, err := instrumentFile(path)
	if err != nil {
		return err
	}

	left, right, err := executor.RunPair(ctx, interp, prog, pair, cfg.Run.ExecTimeout)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to execute program", err)
	}
	verdict := orc.Compare(prog, left, right)
	logger.Debug("compared", "candidate", prog.Candidate.ID, "pair", pair.Name(), "outcome", verdict.Outcome)

	result := DiffResult{
		Candidate: prog.Candidate.ID,
		Pair:      pair.Name(),
		Verdict:   verdict,
		Left:      left,
		Right:     right,
	}
	if left.Stdout != right.Stdout {
		result.Diff, err = oracle.UnifiedDiff(pair.Left.Name, pair.Right.Name, left.Stdout, right.Stdout)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to render diff", err)
		}
	}

	reported := verdict.Outcome == ir.OutcomeMismatch
	if reported && opts.Confirm {
		filter, err := deflake.New(interp, orc, cfg.DeflakeOptions(logger)...)
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid configuration", err)
		}
		res, err := filter.Confirm(ctx, prog, pair, left, right, verdict)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to confirm mismatch", err)
		}
		result.Confirmation = &Confirmation{Confirmed: res.Confirmed, Reproductions: res.Reproductions, Runs: res.Runs}
		reported = res.Confirmed
	}

	if !reported {
		if out.Format == "json" {
			return out.Success(result)
		}
		printDiff(out.Writer, result)
		return nil
	}

	if out.Format == "json" {
		if err := out.Failure(result, ErrCodeMismatch, verdict.Detail); err != nil {
			return err
		}
	} else {
		printDiff(out.Writer, result)
	}
	return NewExitError(ExitFailure, "mismatch: "+verdict.Detail)
}

func applyDiffFlags(cmd *cobra.Command, opts *DiffOptions, cfg *config.Config) error {
	if cmd.Flags().Changed("php") {
		cfg.Executor.PHP = opts.PHP
	}
	if cmd.Flags().Changed("timeout") {
		cfg.Run.Timeout = opts.Timeout
	}
	if cmd.Flags().Changed("pair") {
		pairs, err := parsePairs([]string{opts.Pair})
		if err != nil {
			return err
		}
		cfg.SetPairs(pairs)
	}
	return cfg.Validate()
}

// instrumentFile loads a single program and inserts probes.
func instrumentFile(path string) (ir.InstrumentedProgram, error) {
	s, err := seed.LoadFile(path)
	if err != nil {
		if seed.IsValidationError(err) {
			return ir.InstrumentedProgram{}, WrapExitError(ExitCommandError, "invalid program", err)
		}
		return ir.InstrumentedProgram{}, WrapExitError(ExitCommandError, "failed to read program", err)
	}

	inj, err := probe.NewInjector()
	if err != nil {
		return ir.InstrumentedProgram{}, WrapExitError(ExitCommandError, "failed to create injector", err)
	}
	defer inj.Close()

	prog, err := inj.Instrument(seed.AsCandidate(s))
	if err != nil {
		return ir.InstrumentedProgram{}, WrapExitError(ExitCommandError, "failed to instrument program", err)
	}
	return prog, nil
}

// printDiff renders a diff result as text.
func printDiff(w io.Writer, r DiffResult) {
	fmt.Fprintf(w, "%s %s: %s\n", r.Pair, r.Candidate, r.Verdict.Outcome)
	if r.Verdict.Detail != "" {
		fmt.Fprintf(w, "  %s\n", r.Verdict.Detail)
	}
	if r.Verdict.Noise != "" {
		fmt.Fprintf(w, "  noise: %s\n", r.Verdict.Noise)
	}
	if c := r.Confirmation; c != nil {
		fmt.Fprintf(w, "  reproduced %d/%d (confirmed: %t)\n", c.Reproductions, c.Runs, c.Confirmed)
	}
	if r.Diff != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, r.Diff)
	}
}
