package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/zenddiff/internal/ids"
	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/mutate"
	"github.com/roach88/zenddiff/internal/seed"
)

// MutateOptions holds flags for the mutate command.
type MutateOptions struct {
	*RootOptions
	ConfigFile string
	Corpus     string
	Seed       int64
	Count      int
	Ops        []string
}

// MutatedFile is the result of applying named operators to one file.
type MutatedFile struct {
	Source  string            `json:"source"`
	Applied []string          `json:"applied"`
	INI     map[string]string `json:"ini,omitempty"`
}

// NewMutateCommand creates the mutate command.
func NewMutateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MutateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "mutate [file.php]",
		Short: "Print generated candidates without running them",
		Long: `Generate candidates from a corpus and print them. Nothing is executed.

Candidate i is generated from seed+i, so the same flags always print the
same programs. Given a file and --op, the named operators are applied to
that file in order instead.

Example:
  zenddiff mutate --corpus ./seeds --seed 42 --count 5
  zenddiff mutate --op hot-loop --op operand-type test.php`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				return runMutateFile(opts, args[0], cmd)
			}
			return runMutate(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to a CUE config file (mutation settings)")
	cmd.Flags().StringVar(&opts.Corpus, "corpus", "", "seed corpus directory")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 1, "RNG seed of the first candidate")
	cmd.Flags().IntVar(&opts.Count, "count", 1, "number of candidates to generate")
	cmd.Flags().StringArrayVar(&opts.Ops, "op", nil, "operator to apply to the file (repeatable)")

	return cmd
}

func newMutator(opts *MutateOptions, cmd *cobra.Command, corpus *seed.Corpus) (*mutate.Mutator, error) {
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	cfg, err := loadConfig(opts.ConfigFile)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	mopts := append(cfg.MutatorOptions(logger), mutate.WithIDGenerator(ids.NewSequenceGenerator("cand")))
	m, err := mutate.New(corpus, mopts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to create mutator", err)
	}
	return m, nil
}

func runMutate(opts *MutateOptions, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd)
	logger := newLogger(opts.RootOptions, cmd.ErrOrStderr())

	if opts.Corpus == "" {
		return NewExitError(ExitCommandError, "--corpus is required when no file is given")
	}
	if opts.Count < 1 {
		return NewExitError(ExitCommandError, "--count must be at least 1")
	}

	res, err := seed.LoadDir(opts.Corpus)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load seeds", err)
	}
	for _, q := range res.Quarantined {
		logger.Warn("seed quarantined", "path", q.Path, "reason", q.Reason)
	}

	m, err := newMutator(opts, cmd, seed.NewCorpus(res.Seeds))
	if err != nil {
		return err
	}
	defer m.Close()

	candidates := make([]ir.CandidateProgram, 0, opts.Count)
	for i := 0; i < opts.Count; i++ {
		c, err := m.Generate(opts.Seed + int64(i))
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to generate candidate", err)
		}
		candidates = append(candidates, c)
	}

	if out.Format == "json" {
		return out.Success(candidates)
	}
	for _, c := range candidates {
		fmt.Fprintf(out.Writer, "// %s rng=%d fusion=%s ops=[%s]\n", c.ID, c.RNGSeed, c.Fusion, strings.Join(c.Operators, " "))
		printINI(out.Writer, c.INI)
		fmt.Fprintln(out.Writer, c.Source)
	}
	return nil
}

func runMutateFile(opts *MutateOptions, path string, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd)

	if len(opts.Ops) == 0 {
		return NewExitError(ExitCommandError, "--op is required when a file is given")
	}
	s, err := seed.LoadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid program", err)
	}

	m, err := newMutator(opts, cmd, seed.NewCorpus([]ir.SeedProgram{s}))
	if err != nil {
		return err
	}
	defer m.Close()

	mut, err := m.Mutate(s.Source, opts.Ops, opts.Seed)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to mutate program", err)
	}
	result := MutatedFile{Source: mut.Source, Applied: mut.Applied, INI: mut.INI}
	if result.Applied == nil {
		result.Applied = []string{}
	}

	if out.Format == "json" {
		return out.Success(result)
	}
	fmt.Fprintf(out.Writer, "// applied: [%s]\n", strings.Join(result.Applied, " "))
	printINI(out.Writer, result.INI)
	fmt.Fprint(out.Writer, result.Source)
	return nil
}


// printINI writes settings as "// -d key=value" lines in key order.
func printINI(w io.Writer, ini map[string]string) {
	keys := make([]string, 0, len(ini))
	for k := range ini {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "// -d %s=%s\n", k, ini[k])
	}
}
