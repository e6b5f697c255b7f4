// Package config loads zenddiff run configuration.
//
// Configuration is CUE: an embedded schema carries every default and the
// built-in execution configs, and a user file is unified on top of it.
// Unknown fields are rejected because #Config is closed. Command-line flags
// are applied to the decoded Config and then re-validated.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"slices"
	"sort"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/oracle"
)

//go:embed schema.cue
var schemaCUE string

// Config is the decoded run configuration.
type Config struct {
	Run      Run                   `json:"run"`
	Store    Store                 `json:"store"`
	Seeds    Seeds                 `json:"seeds"`
	Mutation Mutation              `json:"mutation"`
	Probe    Probe                 `json:"probe"`
	Oracle   Oracle                `json:"oracle"`
	Executor Executor              `json:"executor"`
	Configs  map[string]ExecConfig `json:"configs"`
	Pairs    [][]string            `json:"pairs"`
}

// Run holds scheduler settings. Durations are Go duration strings; zero
// Duration and zero Iterations mean unbounded.
type Run struct {
	Workers     int    `json:"workers"`
	Duration    string `json:"duration"`
	Iterations  int64  `json:"iterations"`
	Timeout     string `json:"timeout"`
	Reruns      int    `json:"reruns"`
	Quorum      int    `json:"quorum"`
	Seed        int64  `json:"seed"`
	MetricsAddr string `json:"metrics_addr"`

	// Parsed by Validate.
	TimeBudget  time.Duration `json:"-"`
	ExecTimeout time.Duration `json:"-"`
}

type Store struct {
	DB string `json:"db"`
}

type Seeds struct {
	Corpus string `json:"corpus"`

	// Features lists extensions the interpreter has; seeds needing others
	// are skipped. Empty keeps every seed.
	Features []string `json:"features"`
}

type Mutation struct {
	MaxFuse int            `json:"max_fuse"`
	MaxOps  int            `json:"max_ops"`
	HotLoop int            `json:"hot_loop"`
	HotFunc int            `json:"hot_func"`
	Weights map[string]int `json:"weights"`
}

type Probe struct {
	MaxDepth     int `json:"max_depth"`
	MaxWidth     int `json:"max_width"`
	MaxString    int `json:"max_string"`
	MaxSnapshots int `json:"max_snapshots"`
}

type Oracle struct {
	DefaultRules bool               `json:"default_rules"`
	DefaultNoise bool               `json:"default_noise"`
	Normalize    []oracle.RuleSpec  `json:"normalize"`
	Noise        []oracle.NoiseSpec `json:"noise"`
}

type Executor struct {
	PHP             string            `json:"php"`
	BaseArgs        []string          `json:"base_args"`
	MaxOutput       int               `json:"max_output"`
	SpawnAttempts   int               `json:"spawn_attempts"`
	Backoff         string            `json:"backoff"`
	MinFreeMemoryMB int               `json:"min_free_memory_mb"`
	DefaultCrash    bool              `json:"default_crash"`
	Crash           map[string]string `json:"crash"`

	BackoffDuration time.Duration `json:"-"`
}

// ExecConfig is the uncompiled form of an ir.ExecutionConfig.
type ExecConfig struct {
	Flags map[string]string `json:"flags"`
	Env   map[string]string `json:"env"`
}

// Default returns the built-in configuration.
func Default() (*Config, error) {
	return Parse(nil, "")
}

// Load reads and unifies a CUE config file with the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, &LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("config file not found: %s", path)}
	}
	if err != nil {
		return nil, &LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("reading config: %v", err)}
	}
	return Parse(data, path)
}

// Parse unifies CUE source with the schema and decodes it. Empty data
// yields the defaults.
func Parse(data []byte, filename string) (*Config, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fromCUE(ErrCodeBuildFailed, err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config"))

	if len(data) > 0 {
		user := ctx.CompileBytes(data, cue.Filename(filename))
		if err := user.Err(); err != nil {
			return nil, fromCUE(ErrCodeLoadFailed, err)
		}
		v = v.Unify(user)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fromCUE(ErrCodeBuildFailed, err)
	}

	var cfg Config
	if err := v.Decode(&cfg); err != nil {
		return nil, fromCUE(ErrCodeBuildFailed, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints the schema cannot express and
// parses durations. Call it again after overriding fields.
func (c *Config) Validate() error {
	var err error
	if c.Run.TimeBudget, err = parseDuration("run.duration", c.Run.Duration); err != nil {
		return err
	}
	if c.Run.ExecTimeout, err = parseDuration("run.timeout", c.Run.Timeout); err != nil {
		return err
	}
	if c.Run.ExecTimeout <= 0 {
		return &LoadError{Code: ErrCodeDuration, Message: "run.timeout must be positive"}
	}
	if c.Executor.BackoffDuration, err = parseDuration("executor.backoff", c.Executor.Backoff); err != nil {
		return err
	}

	if c.Run.Quorum > c.Run.Reruns {
		return &LoadError{
			Code:    ErrCodeQuorum,
			Message: fmt.Sprintf("run.quorum %d exceeds run.reruns %d", c.Run.Quorum, c.Run.Reruns),
		}
	}

	if len(c.Pairs) == 0 {
		return &LoadError{Code: ErrCodeEmptyPairs, Message: "no config pairs"}
	}
	for _, p := range c.Pairs {
		if len(p) != 2 {
			return &LoadError{Code: ErrCodeUnknownConfig, Message: fmt.Sprintf("pair %v must name two configs", p)}
		}
		for _, name := range p {
			if _, ok := c.Configs[name]; !ok {
				return &LoadError{Code: ErrCodeUnknownConfig, Message: fmt.Sprintf("pair %v: unknown config %q", p, name)}
			}
		}
	}

	if _, err := c.NormalizeRules(); err != nil {
		return &LoadError{Code: ErrCodePattern, Message: err.Error()}
	}
	if _, err := c.NoiseRules(); err != nil {
		return &LoadError{Code: ErrCodePattern, Message: err.Error()}
	}
	if _, err := c.CrashPatterns(); err != nil {
		return &LoadError{Code: ErrCodePattern, Message: err.Error()}
	}
	return nil
}

func parseDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &LoadError{Code: ErrCodeDuration, Message: fmt.Sprintf("%s: %v", field, err)}
	}
	if d < 0 {
		return 0, &LoadError{Code: ErrCodeDuration, Message: fmt.Sprintf("%s: negative duration %s", field, s)}
	}
	return d, nil
}

// ExecutionConfig returns the named config.
func (c *Config) ExecutionConfig(name string) (ir.ExecutionConfig, error) {
	ec, ok := c.Configs[name]
	if !ok {
		return ir.ExecutionConfig{}, &LoadError{Code: ErrCodeUnknownConfig, Message: fmt.Sprintf("unknown config %q", name)}
	}
	return ir.ExecutionConfig{Name: name, Flags: ec.Flags, Env: ec.Env}, nil
}

// ConfigNames lists the defined configs in sorted order.
func (c *Config) ConfigNames() []string {
	names := make([]string, 0, len(c.Configs))
	for name := range c.Configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ConfigPairs resolves the configured pairs in declaration order.
func (c *Config) ConfigPairs() ([]ir.ConfigPair, error) {
	out := make([]ir.ConfigPair, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		if len(p) != 2 {
			return nil, &LoadError{Code: ErrCodeUnknownConfig, Message: fmt.Sprintf("pair %v must name two configs", p)}
		}
		left, err := c.ExecutionConfig(p[0])
		if err != nil {
			return nil, err
		}
		right, err := c.ExecutionConfig(p[1])
		if err != nil {
			return nil, err
		}
		out = append(out, ir.ConfigPair{Left: left, Right: right})
	}
	return out, nil
}

// SetPairs replaces the configured pairs. Duplicates are dropped.
func (c *Config) SetPairs(pairs [][]string) {
	var out [][]string
	for _, p := range pairs {
		if !slices.ContainsFunc(out, func(q []string) bool { return slices.Equal(p, q) }) {
			out = append(out, p)
		}
	}
	c.Pairs = out
}

// NormalizeRules compiles the stdout normalization rules, defaults first.
func (c *Config) NormalizeRules() ([]oracle.Rule, error) {
	var rules []oracle.Rule
	if c.Oracle.DefaultRules {
		rules = append(rules, oracle.DefaultRules()...)
	}
	user, err := oracle.CompileRules(c.Oracle.Normalize)
	if err != nil {
		return nil, err
	}
	return append(rules, user...), nil
}

// NoiseRules compiles the noise rules, defaults first.
func (c *Config) NoiseRules() ([]oracle.NoiseRule, error) {
	var rules []oracle.NoiseRule
	if c.Oracle.DefaultNoise {
		rules = append(rules, oracle.DefaultNoise()...)
	}
	user, err := oracle.CompileNoise(c.Oracle.Noise)
	if err != nil {
		return nil, err
	}
	return append(rules, user...), nil
}
