package mutate

import (
	"log/slog"

	"github.com/roach88/zenddiff/internal/ids"
)

// API is a builtin function the api-call operator may invoke.
type API struct {
	Name  string `json:"name"`
	Arity int    `json:"arity"`
}

// Options tunes fusion and mutation.
type Options struct {
	// MaxFuse bounds how many seeds are fused into one candidate.
	MaxFuse int

	// MaxOps bounds how many operators are applied after fusion.
	MaxOps int

	// Retries bounds attempts per mutation step before giving up on it.
	Retries int

	// HotLoop and HotFunc mirror opcache.jit_hot_loop and
	// opcache.jit_hot_func. Loop bounds are moved across these.
	HotLoop int
	HotFunc int

	// HotCalls is how many times the hot-function wrapper calls the body.
	HotCalls int

	// HotIterations is how many times the hot-loop wrapper runs the body.
	HotIterations int

	// Weights overrides operator selection weights by name. A zero weight
	// disables an operator.
	Weights map[string]int

	// APIs are the builtins api-call draws from.
	APIs []API

	IDs    ids.Generator
	Logger *slog.Logger
}

// Option configures a Mutator.
type Option func(*Options)

// DefaultOptions returns the defaults used when no config overrides them.
func DefaultOptions() Options {
	return Options{
		MaxFuse:       3,
		MaxOps:        3,
		Retries:       4,
		HotLoop:       64,
		HotFunc:       127,
		HotCalls:      4,
		HotIterations: 2,
		APIs:          DefaultAPIs(),
		IDs:           ids.UUIDv7Generator{},
		Logger:        slog.Default(),
	}
}

// WithMaxFuse sets the maximum number of fused seeds.
func WithMaxFuse(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxFuse = n
		}
	}
}

// WithMaxOps sets the maximum number of mutation steps.
func WithMaxOps(n int) Option {
	return func(o *Options) {
		if n >= 0 {
			o.MaxOps = n
		}
	}
}

// WithThresholds sets the JIT hot thresholds the operators target.
func WithThresholds(hotLoop, hotFunc int) Option {
	return func(o *Options) {
		if hotLoop > 0 {
			o.HotLoop = hotLoop
		}
		if hotFunc > 0 {
			o.HotFunc = hotFunc
		}
	}
}

// WithWeights overrides operator weights.
func WithWeights(w map[string]int) Option {
	return func(o *Options) {
		o.Weights = w
	}
}

// WithAPIs replaces the builtin list for api-call.
func WithAPIs(apis []API) Option {
	return func(o *Options) {
		if len(apis) > 0 {
			o.APIs = apis
		}
	}
}

// WithIDGenerator sets the candidate ID generator.
func WithIDGenerator(g ids.Generator) Option {
	return func(o *Options) {
		o.IDs = g
	}
}

// WithLogger sets the logger for discarded mutations.
func WithLogger(l *slog.Logger) Option {
	return func(o *Options) {
		if l != nil {
			o.Logger = l
		}
	}
}

// DefaultAPIs lists deterministic builtins: no time, randomness,
// filesystem or by-reference parameters.
func DefaultAPIs() []API {
	return []API{
		{"abs", 1}, {"intdiv", 2}, {"round", 2}, {"floor", 1}, {"ceil", 1},
		{"fmod", 2}, {"pow", 2}, {"max", 2}, {"min", 2}, {"intval", 1},
		{"floatval", 1}, {"strval", 1}, {"is_numeric", 1}, {"gettype", 1},
		{"array_sum", 1}, {"array_product", 1}, {"count", 1}, {"array_reverse", 1},
		{"array_keys", 1}, {"array_values", 1}, {"array_flip", 1}, {"array_merge", 2},
		{"array_slice", 2}, {"range", 2}, {"strlen", 1}, {"strrev", 1},
		{"str_repeat", 2}, {"str_pad", 2}, {"implode", 2}, {"number_format", 2},
		{"sprintf", 2}, {"bin2hex", 1}, {"crc32", 1}, {"md5", 1},
		{"json_encode", 1}, {"serialize", 1},
	}
}
