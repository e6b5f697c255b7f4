package config

import (
	"log/slog"

	"github.com/roach88/zenddiff/internal/deflake"
	"github.com/roach88/zenddiff/internal/executor"
	"github.com/roach88/zenddiff/internal/mutate"
	"github.com/roach88/zenddiff/internal/oracle"
	"github.com/roach88/zenddiff/internal/probe"
)

// CrashPatterns compiles the crash classifiers, defaults first.
func (c *Config) CrashPatterns() (executor.CrashPatterns, error) {
	var out executor.CrashPatterns
	if c.Executor.DefaultCrash {
		out = append(out, executor.DefaultCrashPatterns()...)
	}
	user, err := executor.CompileCrashPatterns(c.Executor.Crash)
	if err != nil {
		return nil, err
	}
	return append(out, user...), nil
}

// Limits returns the probe runtime caps.
func (c *Config) Limits() probe.Limits {
	return probe.Limits{
		MaxDepth:     c.Probe.MaxDepth,
		MaxWidth:     c.Probe.MaxWidth,
		MaxString:    c.Probe.MaxString,
		MaxSnapshots: c.Probe.MaxSnapshots,
	}
}

// ExecutorOptions translates the executor section. The config must have
// been validated.
func (c *Config) ExecutorOptions(logger *slog.Logger) ([]executor.Option, error) {
	crash, err := c.CrashPatterns()
	if err != nil {
		return nil, err
	}
	return []executor.Option{
		executor.WithBaseArgs(c.Executor.BaseArgs...),
		executor.WithMaxOutput(c.Executor.MaxOutput),
		executor.WithLimits(c.Limits()),
		executor.WithCrashPatterns(crash),
		executor.WithSpawnRetry(c.Executor.SpawnAttempts, c.Executor.BackoffDuration),
		executor.WithMinFreeMemory(uint64(c.Executor.MinFreeMemoryMB) << 20),
		executor.WithLogger(logger),
	}, nil
}

// MutatorOptions translates the mutation section.
func (c *Config) MutatorOptions(logger *slog.Logger) []mutate.Option {
	return []mutate.Option{
		mutate.WithMaxFuse(c.Mutation.MaxFuse),
		mutate.WithMaxOps(c.Mutation.MaxOps),
		mutate.WithThresholds(c.Mutation.HotLoop, c.Mutation.HotFunc),
		mutate.WithWeights(c.Mutation.Weights),
		mutate.WithLogger(logger),
	}
}

// BuildOracle builds the comparison oracle.
func (c *Config) BuildOracle() (*oracle.Oracle, error) {
	rules, err := c.NormalizeRules()
	if err != nil {
		return nil, err
	}
	noise, err := c.NoiseRules()
	if err != nil {
		return nil, err
	}
	return oracle.New(oracle.WithRules(rules), oracle.WithNoise(noise)), nil
}

// DeflakeOptions translates the rerun policy.
func (c *Config) DeflakeOptions(logger *slog.Logger) []deflake.Option {
	return []deflake.Option{
		deflake.WithReruns(c.Run.Reruns),
		deflake.WithQuorum(c.Run.Quorum),
		deflake.WithTimeout(c.Run.ExecTimeout),
		deflake.WithLogger(logger),
	}
}
