package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/probe"
)

// InstrumentOptions holds flags for the instrument command.
type InstrumentOptions struct {
	*RootOptions
	ConfigFile string
	Prelude    bool
}

// InstrumentResult is the instrumented program and its probe table.
type InstrumentResult struct {
	Candidate string         `json:"candidate"`
	Source    string         `json:"source"`
	Probes    []ir.ProbeSite `json:"probes"`
	Prelude   string         `json:"prelude,omitempty"`
}

// NewInstrumentCommand creates the instrument command.
func NewInstrumentCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InstrumentOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "instrument <file.php>",
		Short: "Print a program with probes inserted",
		Long: `Insert state probes into a program and print the result with its
probe table. With --prelude, the probe runtime prepended to every run is
printed as well.

Example:
  zenddiff instrument test.php
  zenddiff instrument --prelude --format json test.php`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstrument(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.ConfigFile, "config", "", "path to a CUE config file (probe limits)")
	cmd.Flags().BoolVar(&opts.Prelude, "prelude", false, "also print the probe runtime")

	return cmd
}

func runInstrument(opts *InstrumentOptions, path string, cmd *cobra.Command) error {
	out := formatter(opts.RootOptions, cmd)

	prog, err := instrumentFile(path)
	if err != nil {
		return err
	}

	result := InstrumentResult{
		Candidate: prog.Candidate.ID,
		Source:    prog.Source,
		Probes:    prog.Probes,
	}
	if result.Probes == nil {
		result.Probes = []ir.ProbeSite{}
	}
	if opts.Prelude {
		cfg, err := loadConfig(opts.ConfigFile)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		result.Prelude = probe.Prelude(cfg.Limits())
	}

	if out.Format == "json" {
		return out.Success(result)
	}

	w := out.Writer
	fmt.Fprint(w, result.Source)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Probes (%d):\n", len(result.Probes))
	for _, p := range result.Probes {
		fmt.Fprintf(w, "  %-6s %-10s line %d\n", p.ID, p.Kind, p.Line)
	}
	if result.Prelude != "" {
		fmt.Fprintln(w)
		fmt.Fprint(w, result.Prelude)
	}
	return nil
}
