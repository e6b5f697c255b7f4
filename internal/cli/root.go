package cli

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/zenddiff/internal/config"
	"github.com/roach88/zenddiff/internal/executor"
	"github.com/roach88/zenddiff/internal/mutate"
	"github.com/roach88/zenddiff/internal/probe"
	"github.com/roach88/zenddiff/internal/seed"
	"github.com/roach88/zenddiff/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the zenddiff CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "zenddiff",
		Short: "zenddiff - differential testing for the PHP JIT",
		Long: `Differential testing for the PHP opcache JIT.

zenddiff mutates seed programs, instruments them with state probes, runs
each candidate with the JIT disabled and enabled, and records every
reproducible divergence as a bug.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewDiffCommand(opts))
	cmd.AddCommand(NewInstrumentCommand(opts))
	cmd.AddCommand(NewMutateCommand(opts))
	cmd.AddCommand(NewSeedsCommand(opts))
	cmd.AddCommand(NewBugsCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))

	return cmd
}

// Execute runs cmd. In JSON mode a command error is also written to
// stdout as an error response; results that carry data and an error were
// already written by the command itself.
func Execute(cmd *cobra.Command) error {
	err := cmd.Execute()
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Code != ExitCommandError {
		return err
	}
	if format, _ := cmd.PersistentFlags().GetString("format"); format == "json" {
		out := &OutputFormatter{Format: format, Writer: cmd.OutOrStdout()}
		_ = out.Error(errorCode(err), err.Error(), nil)
	}
	return err
}

// errorCode maps a command error to its JSON error code.
func errorCode(err error) string {
	var (
		loadErr   *config.LoadError
		injectErr *probe.InjectError
		spawnErr  *executor.SpawnError
	)
	switch {
	case errors.As(err, &loadErr):
		return ErrCodeConfig
	case errors.Is(err, store.ErrNotFound):
		return ErrCodeNotFound
	case errors.Is(err, mutate.ErrEmptyCorpus), seed.IsValidationError(err):
		return ErrCodeSeeds
	case errors.As(err, &injectErr):
		return ErrCodeInstrument
	case errors.As(err, &spawnErr):
		return ErrCodeExecute
	default:
		return ErrCodeGeneric
	}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// newLogger builds the text logger every command logs through. Verbose
// enables debug output.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// formatter returns the output formatter for a command.
func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
