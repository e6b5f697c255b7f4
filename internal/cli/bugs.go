package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/roach88/zenddiff/internal/config"
	"github.com/roach88/zenddiff/internal/executor"
	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/oracle"
	"github.com/roach88/zenddiff/internal/probe"
	"github.com/roach88/zenddiff/internal/store"
)

// BugsOptions holds flags for the bugs commands.
type BugsOptions struct {
	*RootOptions
	Database   string
	RunID      string
	Kind       string
	Limit      int
	Stability  bool
	Out        string
	ConfigFile string
}

// NewBugsCommand creates the bugs command group.
func NewBugsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BugsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bugs",
		Short: "Inspect recorded bugs",
	}
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkPersistentFlagRequired("db")

	cmd.AddCommand(newBugsListCommand(opts))
	cmd.AddCommand(newBugsShowCommand(opts))
	cmd.AddCommand(newBugsExportCommand(opts))
	return cmd
}

func newBugsListCommand(opts *BugsOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded bugs or stability findings",
		Long: `List recorded bugs in recording order. With --stability, list crash
and timeout findings instead.

Example:
  zenddiff bugs list --db ./zenddiff.db
  zenddiff bugs list --db ./zenddiff.db --kind snapshot --limit 20
  zenddiff bugs list --db ./zenddiff.db --stability`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBugsList(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.RunID, "run", "", "only findings from this run")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "only this divergence or stability kind")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "maximum number of rows (0 for all)")
	cmd.Flags().BoolVar(&opts.Stability, "stability", false, "list stability findings")

	return cmd
}

func runBugsList(opts *BugsOptions, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	out := formatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	filter := store.Filter{RunID: opts.RunID, Kind: opts.Kind, Limit: opts.Limit}

	if opts.Stability {
		found, err := st.ListStability(ctx, filter)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list stability findings", err)
		}
		if found == nil {
			found = []store.StabilitySummary{}
		}
		if out.Format == "json" {
			return out.Success(found)
		}
		tw := tabwriter.NewWriter(out.Writer, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "ID\tKIND\tSIDE\tPAIR\tCANDIDATE")
		for _, f := range found {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s/%s\t%s\n", f.ID, f.Kind, f.Side, f.LeftConfig, f.RightConfig, f.CandidateID)
		}
		return tw.Flush()
	}

	bugs, err := st.ListBugs(ctx, filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list bugs", err)
	}
	if bugs == nil {
		bugs = []store.BugSummary{}
	}
	if out.Format == "json" {
		return out.Success(bugs)
	}
	tw := tabwriter.NewWriter(out.Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tKIND\tPROBE\tPAIR\tCONFIRMED\tDETAIL")
	for _, b := range bugs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s/%s\t%d/%d\t%s\n",
			b.ID, b.Kind, b.ProbeID, b.LeftConfig, b.RightConfig, b.Confirmations, b.Reruns, b.Detail)
	}
	return tw.Flush()
}

func newBugsShowCommand(opts *BugsOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one bug",
		Long: `Show the full record of a bug or stability finding.

Example:
  zenddiff bugs show --db ./zenddiff.db 3f2a...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBugsShow(opts, args[0], cmd)
		},
	}
}

func runBugsShow(opts *BugsOptions, id string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	out := formatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	bug, err := st.GetBug(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		f, ferr := st.GetStability(ctx, id)
		if ferr != nil {
			return notFound(id, ferr)
		}
		if out.Format == "json" {
			return out.Success(f)
		}
		printStability(out, f)
		return nil
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read bug", err)
	}

	if out.Format == "json" {
		return out.Success(bug)
	}
	printBug(out, bug)
	return nil
}

func notFound(id string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return WrapExitError(ExitCommandError, fmt.Sprintf("no bug or stability finding with id %s", id), err)
	}
	return WrapExitError(ExitCommandError, "failed to read finding", err)
}

func printBug(out *OutputFormatter, b ir.BugRecord) {
	w := out.Writer
	fmt.Fprintf(w, "Bug %s\n", b.ID)
	fmt.Fprintf(w, "  pair:       %s\n", b.Pair.Name())
	fmt.Fprintf(w, "  candidate:  %s (rng %d, %s, ops [%s])\n",
		b.Candidate.ID, b.Candidate.RNGSeed, b.Candidate.Fusion, strings.Join(b.Candidate.Operators, " "))
	fmt.Fprintf(w, "  confirmed:  %d/%d (quorum %d)\n", b.Confirmations, b.Reruns, b.Quorum)
	if b.RunID != "" {
		fmt.Fprintf(w, "  run:        %s\n", b.RunID)
	}
	fmt.Fprintf(w, "  divergence: %s\n", b.Verdict.Detail)
	fmt.Fprintln(w)
	fmt.Fprintln(w, b.Candidate.Source)
}

func printStability(out *OutputFormatter, f ir.StabilityFinding) {
	w := out.Writer
	fmt.Fprintf(w, "Stability finding %s\n", f.ID)
	fmt.Fprintf(w, "  pair:      %s\n", f.Pair.Name())
	fmt.Fprintf(w, "  kind:      %s on %s\n", f.Kind, f.Side)
	fmt.Fprintf(w, "  left:      %s\n", describeStatus(f.Left.Status))
	fmt.Fprintf(w, "  right:     %s\n", describeStatus(f.Right.Status))
	fmt.Fprintf(w, "  candidate: %s\n", f.Candidate.ID)
	fmt.Fprintln(w)
	fmt.Fprintln(w, f.Candidate.Source)
}

func describeStatus(s ir.ExitStatus) string {
	switch {
	case s.Signal != "" && s.Reason != "":
		return fmt.Sprintf("%s (%s, %s)", s.Kind, s.Signal, s.Reason)
	case s.Signal != "":
		return fmt.Sprintf("%s (%s)", s.Kind, s.Signal)
	case s.Reason != "":
		return fmt.Sprintf("%s (%s)", s.Kind, s.Reason)
	default:
		return fmt.Sprintf("%s (exit %d)", s.Kind, s.ExitCode)
	}
}

func newBugsExportCommand(opts *BugsOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export <id>",
		Short: "Write a bug to a directory for reporting",
		Long: `Write a bug to OUT/<id>/:

  test.php    the candidate as generated
  main.php    the instrumented program
  prelude.php the probe runtime
  left.out    output under the left config
  right.out   output under the right config
  diff        unified diff of the two outputs
  bug.json    the full record
  test.sh     runs main.php under both configs

Example:
  zenddiff bugs export --db ./zenddiff.db --out ./reports 3f2a...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBugsExport(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Out, "out", "bugs", "directory to export into")
	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to a CUE config file (interpreter and probe limits)")

	return cmd
}

func runBugsExport(opts *BugsOptions, id string, cmd *cobra.Command) error {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	out := formatter(opts.RootOptions, cmd)
	ctx := commandContext(cmd)

	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	st, err := openStore(opts.Database)
	if err != nil {
		return err
	}
	defer closeStore(st, logger)

	bug, err := st.GetBug(ctx, id)
	if err != nil {
		return notFound(id, err)
	}

	php, err := newPHP(cfg, logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid configuration", err)
	}

	dir := filepath.Join(opts.Out, bug.ID)
	if err := exportBug(cfg, php, bug, dir); err != nil {
		return WrapExitError(ExitCommandError, "failed to export bug", err)
	}
	logger.Debug("bug exported", "bug", bug.ID, "dir", dir)

	if out.Format == "json" {
		return out.Success(map[string]string{"id": bug.ID, "dir": dir})
	}
	fmt.Fprintf(out.Writer, "Exported %s to %s\n", bug.ID, dir)
	return nil
}

// exportBug writes the bug folder.
func exportBug(cfg *config.Config, php *executor.PHP, bug ir.BugRecord, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	diff, err := oracle.UnifiedDiff(bug.Pair.Left.Name, bug.Pair.Right.Name, bug.Left.Stdout, bug.Right.Stdout)
	if err != nil {
		return err
	}
	record, err := json.MarshalIndent(bug, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bug: %w", err)
	}

	files := []struct {
		name string
		data string
		mode os.FileMode
	}{
		{"test.php", bug.Candidate.Source, 0644},
		{"main.php", bug.Instrumented.Source, 0644},
		{"prelude.php", probe.Prelude(cfg.Limits()), 0644},
		{"left.out", bug.Left.Stdout, 0644},
		{"right.out", bug.Right.Stdout, 0644},
		{"diff", diff, 0644},
		{"bug.json", string(record) + "\n", 0644},
		{"test.sh", reproScript(php, bug), 0755},
	}
	for _, f := range files {
		if err := os.WriteFile(filepath.Join(dir, f.name), []byte(f.data), f.mode); err != nil {
			return fmt.Errorf("failed to write %s: %w", f.name, err)
		}
	}
	return nil
}

// reproScript renders a shell script that runs the exported program under
// both configs of the pair from inside the bug folder.
func reproScript(php *executor.PHP, bug ir.BugRecord) string {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("# " + bug.ID + " " + bug.Pair.Name() + "\n")
	b.WriteString("cd \"$(dirname \"$0\")\" || exit 2\n")
	fmt.Fprintf(&b, "export %s=/dev/null\n", probe.OutputEnv)
	for _, cfg := range []ir.ExecutionConfig{bug.Pair.Left, bug.Pair.Right} {
		b.WriteString("\necho '== " + cfg.Name + " =='\n")
		for _, k := range sortedKeys(cfg.Env) {
			b.WriteString(k + "=" + shellQuote(cfg.Env[k]) + " ")
		}
		b.WriteString(shellQuote(php.Binary()))
		for _, arg := range php.Args(bug.Instrumented, cfg, ".") {
			b.WriteString(" " + shellQuote(arg))
		}
		b.WriteString("\n")
	}
	return b.String()
}

func shellQuote(s string) string {
	if s != "" && !strings.ContainsAny(s, " \t\n'\"\\$`!*?[]{}()<>|&;#~") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
