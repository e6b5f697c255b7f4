package executor

import (
	"log/slog"
	"time"

	"github.com/roach88/zenddiff/internal/probe"
)

// Options tunes process execution.
type Options struct {
	// BaseArgs precede every run's arguments, e.g. "-n" to ignore php.ini.
	BaseArgs []string

	// TempDir is the parent of per-run working directories. Empty means
	// the system default.
	TempDir string

	// MaxOutput caps captured stdout and stderr, each.
	MaxOutput int

	Limits probe.Limits
	Crash  CrashPatterns

	// SpawnAttempts bounds start attempts per run; Backoff is the delay
	// before the second one and doubles after each failure.
	SpawnAttempts int
	Backoff       time.Duration

	// MinFreeMemory refuses to spawn while less than this many bytes are
	// available. Zero disables the check.
	MinFreeMemory uint64

	// WaitDelay bounds how long Wait waits for output pipes after the
	// process group has been killed.
	WaitDelay time.Duration

	Logger *slog.Logger
}

// Option configures an interpreter.
type Option func(*Options)

// DefaultOptions returns the execution defaults.
func DefaultOptions() Options {
	return Options{
		BaseArgs:      []string{"-n"},
		MaxOutput:     1 << 20,
		Limits:        probe.DefaultLimits(),
		Crash:         DefaultCrashPatterns(),
		SpawnAttempts: 3,
		Backoff:       200 * time.Millisecond,
		MinFreeMemory: 256 << 20,
		WaitDelay:     time.Second,
		Logger:        slog.Default(),
	}
}

// WithBaseArgs replaces the leading interpreter arguments.
func WithBaseArgs(args ...string) Option {
	return func(o *Options) {
		o.BaseArgs = args
	}
}

// WithTempDir sets the parent directory for workdirs.
func WithTempDir(dir string) Option {
	return func(o *Options) {
		o.TempDir = dir
	}
}

// WithMaxOutput sets the per-stream output cap.
func WithMaxOutput(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxOutput = n
		}
	}
}

// WithLimits sets the probe limits written into the prelude.
func WithLimits(l probe.Limits) Option {
	return func(o *Options) {
		o.Limits = l
	}
}

// WithCrashPatterns replaces the crash classification patterns.
func WithCrashPatterns(c CrashPatterns) Option {
	return func(o *Options) {
		o.Crash = c
	}
}

// WithSpawnRetry sets the start attempts and initial backoff.
func WithSpawnRetry(attempts int, backoff time.Duration) Option {
	return func(o *Options) {
		if attempts > 0 {
			o.SpawnAttempts = attempts
		}
		if backoff > 0 {
			o.Backoff = backoff
		}
	}
}

// WithMinFreeMemory sets the free-memory guard in bytes.
func WithMinFreeMemory(n uint64) Option {
	return func(o *Options) {
		o.MinFreeMemory = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}
