package cli

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/zenddiff/internal/config"
	"github.com/roach88/zenddiff/internal/executor"
	"github.com/roach88/zenddiff/internal/mutate"
	"github.com/roach88/zenddiff/internal/seed"
	"github.com/roach88/zenddiff/internal/store"
)

// loadConfig reads path, or returns the built-in configuration when path
// is empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default()
	}
	return config.Load(path)
}

// parsePairs parses "left,right" flag values.
func parsePairs(values []string) ([][]string, error) {
	pairs := make([][]string, 0, len(values))
	for _, v := range values {
		parts := strings.Split(v, ",")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid pair %q: want left,right", v)
		}
		pairs = append(pairs, []string{strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])})
	}
	return pairs, nil
}

// openStore opens the SQLite store, wrapping failures as command errors.
func openStore(path string) (*store.Store, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// closeStore closes st and logs a failure.
func closeStore(st *store.Store, logger *slog.Logger) {
	if err := st.Close(); err != nil {
		logger.Error("error closing database", "error", err)
	}
}

// loadCorpus loads seeds from the configured corpus directory, or from the
// store when no directory is set, and drops seeds needing unavailable
// features. Quarantined files are logged.
func loadCorpus(ctx context.Context, cfg *config.Config, st *store.Store, logger *slog.Logger) (*seed.Corpus, error) {
	var quarantined []seed.Quarantined
	var corpus *seed.Corpus
	if dir := cfg.Seeds.Corpus; dir != "" {
		res, err := seed.LoadDir(dir)
		if err != nil {
			return nil, err
		}
		quarantined = res.Quarantined
		corpus = seed.NewCorpus(res.Seeds)
	} else {
		stored, err := st.LoadSeeds(ctx)
		if err != nil {
			return nil, err
		}
		corpus = seed.NewCorpus(stored)
	}
	for _, q := range quarantined {
		logger.Warn("seed quarantined", "path", q.Path, "reason", q.Reason)
	}

	if len(cfg.Seeds.Features) > 0 {
		before := corpus.Len()
		corpus = corpus.Filter(cfg.Seeds.Features)
		if dropped := before - corpus.Len(); dropped > 0 {
			logger.Info("seeds skipped for missing features", "count", dropped)
		}
	}
	return corpus, nil
}

// loadAPIs returns the imported builtin table, or nil to keep the
// mutator's defaults when none was imported.
func loadAPIs(ctx context.Context, st *store.Store) ([]mutate.API, error) {
	stored, err := st.LoadAPIs(ctx)
	if err != nil {
		return nil, err
	}
	if len(stored) == 0 {
		return nil, nil
	}
	apis := make([]mutate.API, len(stored))
	for i, a := range stored {
		apis[i] = mutate.API{Name: a.Name, Arity: a.Arity}
	}
	return apis, nil
}

// newPHP builds the PHP interpreter from the executor section.
func newPHP(cfg *config.Config, logger *slog.Logger) (*executor.PHP, error) {
	opts, err := cfg.ExecutorOptions(logger)
	if err != nil {
		return nil, err
	}
	return executor.NewPHP(cfg.Executor.PHP, opts...), nil
}

// commandContext returns the command's context, or Background when the
// command was run without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
