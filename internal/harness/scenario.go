package harness

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/stats"
)

// Scenario is one end-to-end run against scripted interpreter behavior.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	Description string `yaml:"description"`

	// Seeds is the corpus. Sources are normalized and validated like files
	// loaded from disk.
	Seeds []SeedFile `yaml:"seeds"`

	// Pair names the two built-in execution configs to compare.
	Pair []string `yaml:"pair"`

	// Iterations is the number of candidates to generate. Defaults to 1.
	Iterations int64 `yaml:"iterations,omitempty"`

	// Seed is the master seed.
	Seed int64 `yaml:"seed,omitempty"`

	Mutation Mutation `yaml:"mutation,omitempty"`

	// Reruns and Quorum configure confirmation; zero keeps the defaults.
	Reruns int `yaml:"reruns,omitempty"`
	Quorum int `yaml:"quorum,omitempty"`

	// Behaviors script the interpreter. The first matching behavior wins;
	// runs no behavior matches echo the candidate source.
	Behaviors []Behavior `yaml:"behaviors"`

	Assertions []Assertion `yaml:"assertions"`
}

// SeedFile is an inline seed program.
type SeedFile struct {
	Name   string      `yaml:"name"`
	Source string      `yaml:"source"`
	Meta   ir.SeedMeta `yaml:"meta,omitempty"`
}

// Mutation overrides mutator settings. Unset fields keep the defaults.
type Mutation struct {
	MaxFuse int            `yaml:"max_fuse,omitempty"`
	MaxOps  *int           `yaml:"max_ops,omitempty"`
	Weights map[string]int `yaml:"weights,omitempty"`
}

// Behavior is what one interpreter mode does.
type Behavior struct {
	// Config is the execution config name. Empty matches both sides.
	Config string `yaml:"config,omitempty"`

	// Runs restricts the behavior to these run indices. Run 0 is the
	// first execution, later ones are confirmation reruns.
	Runs []int `yaml:"runs,omitempty"`

	// Stdout replaces the output. {run} expands to the run index.
	Stdout *string `yaml:"stdout,omitempty"`

	// Status is normal, crash or timeout. Defaults to normal.
	Status   string `yaml:"status,omitempty"`
	ExitCode int    `yaml:"exit_code,omitempty"`
	Signal   string `yaml:"signal,omitempty"`

	Snapshots []ScriptedSnapshot `yaml:"snapshots,omitempty"`
}

// ScriptedSnapshot is a probe snapshot in a behavior. Vars must be JSON.
type ScriptedSnapshot struct {
	Probe string `yaml:"probe"`
	Depth int64  `yaml:"depth,omitempty"`
	Vars  string `yaml:"vars"`
}

// matches reports whether b applies to the given run.
func (b Behavior) matches(config string, run int) bool {
	if b.Config != "" && b.Config != config {
		return false
	}
	return len(b.Runs) == 0 || slices.Contains(b.Runs, run)
}

// Assertion checks what a scenario recorded.
type Assertion struct {
	// Type is one of bugs, stability, counter or divergence.
	Type string `yaml:"type"`

	// Count is the expected number of bugs, stability findings or the
	// counter value.
	Count int64 `yaml:"count,omitempty"`

	// Counter names a run counter (counter).
	Counter string `yaml:"counter,omitempty"`

	// Kind is the divergence kind (divergence) or stability kind
	// (stability).
	Kind string `yaml:"kind,omitempty"`

	// Probe is the expected probe of every bug's divergence (divergence).
	Probe string `yaml:"probe,omitempty"`

	// Side is the expected side of every stability finding (stability).
	Side string `yaml:"side,omitempty"`
}

// Assertion types.
const (
	AssertBugs       = "bugs"
	AssertStability  = "stability"
	AssertCounter    = "counter"
	AssertDivergence = "divergence"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(s.Seeds) == 0 {
		return fmt.Errorf("seeds must not be empty")
	}
	for i, seed := range s.Seeds {
		if seed.Name == "" {
			return fmt.Errorf("seeds[%d]: name is required", i)
		}
		if seed.Source == "" {
			return fmt.Errorf("seeds[%d]: source is required", i)
		}
	}
	if len(s.Pair) != 2 {
		return fmt.Errorf("pair must name exactly two configs, got %d", len(s.Pair))
	}
	if s.Iterations < 0 {
		return fmt.Errorf("iterations must be non-negative")
	}
	for i, b := range s.Behaviors {
		if err := validateBehavior(i, b); err != nil {
			return err
		}
	}
	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateBehavior(index int, b Behavior) error {
	switch ir.StatusKind(b.Status) {
	case "", ir.StatusNormal, ir.StatusCrash, ir.StatusTimeout:
	default:
		return fmt.Errorf("behaviors[%d]: unknown status %q", index, b.Status)
	}
	for _, r := range b.Runs {
		if r < 0 {
			return fmt.Errorf("behaviors[%d]: negative run index %d", index, r)
		}
	}
	for j, snap := range b.Snapshots {
		if snap.Probe == "" {
			return fmt.Errorf("behaviors[%d].snapshots[%d]: probe is required", index, j)
		}
		if !json.Valid([]byte(snap.Vars)) {
			return fmt.Errorf("behaviors[%d].snapshots[%d]: vars is not valid JSON", index, j)
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	if a.Count < 0 {
		return fmt.Errorf("assertions[%d]: count must be non-negative", index)
	}
	switch a.Type {
	case AssertBugs:
	case AssertStability:
		switch ir.StabilityKind(a.Kind) {
		case "", ir.StabilityCrash, ir.StabilityTimeout, ir.StabilitySanitizer:
		default:
			return fmt.Errorf("assertions[%d]: unknown stability kind %q", index, a.Kind)
		}
	case AssertCounter:
		if !slices.Contains(stats.Counters(), stats.Counter(a.Counter)) {
			return fmt.Errorf("assertions[%d]: unknown counter %q", index, a.Counter)
		}
	case AssertDivergence:
		if a.Kind == "" {
			return fmt.Errorf("assertions[%d]: kind is required for divergence", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
