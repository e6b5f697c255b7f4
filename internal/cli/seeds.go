package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/zenddiff/internal/executor"
	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/phpsyntax"
	"github.com/roach88/zenddiff/internal/seed"
	"github.com/roach88/zenddiff/internal/store"
)

// SeedsOptions holds flags for the seeds commands.
type SeedsOptions struct {
	*RootOptions
	Database string
	Git      string
	Ref      string
	Subdir   string
	Depth    int
	APIs     string
	PHP      string
}

// ImportResult reports a seeds import.
type ImportResult struct {
	Loaded      int                `json:"loaded"`
	Imported    int                `json:"imported"`
	APIs        int                `json:"apis"`
	Quarantined []seed.Quarantined `json:"quarantined"`
}

// CheckResult reports a corpus validation.
type CheckResult struct {
	Valid       int                `json:"valid"`
	Quarantined []seed.Quarantined `json:"quarantined"`
}

// NewSeedsCommand creates the seeds command group.
func NewSeedsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seeds",
		Short: "Manage the seed corpus",
	}
	cmd.AddCommand(newSeedsImportCommand(rootOpts))
	cmd.AddCommand(newSeedsCheckCommand(rootOpts))
	return cmd
}

func newSeedsImportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "import [dir]",
		Short: "Validate seeds and store them in the database",
		Long: `Load a corpus from a directory or a git repository, quarantine files
that do not parse, and store the rest in the database. Seeds already
present are kept. With --apis, a JSON list of {"name", "arity"} builtins
is imported for the api-call mutation.

Example:
  zenddiff seeds import --db ./zenddiff.db ./seeds
  zenddiff seeds import --db ./zenddiff.db --git https://github.com/php/php-src --ref PHP-8.3 --subdir Zend/tests --depth 1`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				dir = args[0]
			}
			return runSeedsImport(opts, dir, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	cmd.Flags().StringVar(&opts.Git, "git", "", "clone the corpus from this repository URL")
	cmd.Flags().StringVar(&opts.Ref, "ref", "", "branch or tag to clone")
	cmd.Flags().StringVar(&opts.Subdir, "subdir", "", "directory inside the repository")
	cmd.Flags().IntVar(&opts.Depth, "depth", 1, "clone depth (0 for full history)")
	cmd.Flags().StringVar(&opts.APIs, "apis", "", "JSON file of builtin functions")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSeedsImport(opts *SeedsOptions, dir string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	out := formatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	if (dir == "") == (opts.Git == "") {
		return NewExitError(ExitCommandError, "give either a corpus directory or --git")
	}

	var res *seed.LoadResult
	var err error
	if opts.Git != "" {
		logger.Info("cloning corpus", "url", opts.Git, "ref", opts.Ref)
		res, err = seed.LoadGit(ctx, seed.GitSource{URL: opts.Git, Ref: opts.Ref, Subdir: opts.Subdir, Depth: opts.Depth})
	} else {
		res, err = seed.LoadDir(dir)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load seeds", err)
	}

	var apis []store.API
	if opts.APIs != "" {
		data, err := os.ReadFile(opts.APIs)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read builtins", err)
		}
		if err := json.Unmarshal(data, &apis); err != nil {
			return WrapExitError(ExitCommandError, "invalid builtins file", err)
		}
	}

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	imported, err := st.ImportSeeds(ctx, res.Seeds)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to import seeds", err)
	}
	result := ImportResult{
		Loaded:      len(res.Seeds),
		Imported:    imported,
		Quarantined: res.Quarantined,
	}
	if len(apis) > 0 {
		if result.APIs, err = st.ImportAPIs(ctx, apis); err != nil {
			return WrapExitError(ExitCommandError, "failed to import builtins", err)
		}
	}
	if result.Quarantined == nil {
		result.Quarantined = []seed.Quarantined{}
	}

	if out.Format == "json" {
		return out.Success(result)
	}
	fmt.Fprintf(out.Writer, "Imported %d of %d seed(s)", result.Imported, result.Loaded)
	if result.APIs > 0 {
		fmt.Fprintf(out.Writer, " and %d builtin(s)", result.APIs)
	}
	fmt.Fprintln(out.Writer)
	printQuarantined(out, result.Quarantined)
	return nil
}

func newSeedsCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check <dir>",
		Short: "Validate a corpus directory",
		Long: `Validate every seed in a directory and report quarantined files.
With --php, seeds the bundled grammar accepts are also checked with
"php -l" to catch grammar drift in the interpreter under test. Exit status
is 1 when any file is quarantined.

Example:
  zenddiff seeds check ./seeds
  zenddiff seeds check --php ./sapi/cli/php ./seeds`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeedsCheck(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.PHP, "php", "", "also lint seeds with this PHP binary")

	return cmd
}

func runSeedsCheck(opts *SeedsOptions, dir string, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd)

	res, err := seed.LoadDir(dir)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load seeds", err)
	}
	valid := res.Seeds
	if opts.PHP != "" {
		var linted []seed.Quarantined
		valid, linted = lintSeeds(commandContext(cmd), executor.PHPLinter{Binary: opts.PHP}, valid)
		res.Quarantined = append(res.Quarantined, linted...)
	}
	result := CheckResult{Valid: len(valid), Quarantined: res.Quarantined}
	if result.Quarantined == nil {
		result.Quarantined = []seed.Quarantined{}
	}

	msg := fmt.Sprintf("%d seed(s) quarantined", len(result.Quarantined))
	if out.Format == "json" {
		if len(result.Quarantined) == 0 {
			return out.Success(result)
		}
		if err := out.Failure(result, ErrCodeQuarantined, msg); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	fmt.Fprintf(out.Writer, "%d valid seed(s)\n", result.Valid)
	printQuarantined(out, result.Quarantined)
	if len(result.Quarantined) > 0 {
		return NewExitError(ExitFailure, msg)
	}
	return nil
}

// lintSeeds splits seeds into those the linter accepts and quarantine
// entries for the rest.
func lintSeeds(ctx context.Context, linter phpsyntax.Linter, seeds []ir.SeedProgram) ([]ir.SeedProgram, []seed.Quarantined) {
	var ok []ir.SeedProgram
	var bad []seed.Quarantined
	for _, s := range seeds {
		if err := linter.Lint(ctx, s.Source); err != nil {
			bad = append(bad, seed.Quarantined{Path: s.Name, Reason: err.Error()})
			continue
		}
		ok = append(ok, s)
	}
	return ok, bad
}

func printQuarantined(out *OutputFormatter, q []seed.Quarantined) {
	if len(q) == 0 {
		return
	}
	fmt.Fprintf(out.Writer, "Quarantined (%d):\n", len(q))
	for _, entry := range q {
		fmt.Fprintf(out.Writer, "  %s: %s\n", entry.Path, entry.Reason)
	}
}
