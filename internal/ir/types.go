package ir

import (
	"encoding/json"
	"time"
)

// SeedMeta is the optional metadata attached to a seed program.
type SeedMeta struct {
	// Features lists interpreter extensions the seed needs (e.g. "bcmath").
	Features []string `json:"features,omitempty" yaml:"features"`

	// Expect is the expected baseline output, when the corpus provides one.
	Expect *string `json:"expect,omitempty" yaml:"expect"`

	// INI holds runtime settings the seed needs, applied to both sides.
	INI map[string]string `json:"ini,omitempty" yaml:"ini"`

	// Weight biases sampling. Zero is treated as 1.
	Weight int `json:"weight,omitempty" yaml:"weight"`

	Description string `json:"description,omitempty" yaml:"description"`
}

// SeedProgram is a syntactically valid program from the corpus.
// Immutable once loaded.
type SeedProgram struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Source string   `json:"source"`
	Meta   SeedMeta `json:"meta"`

	// Fusable is false for programs that only make sense alone, such as
	// namespaced code or files with inline markup.
	Fusable bool `json:"fusable"`
}

// EffectiveWeight returns the sampling weight, never less than 1.
func (s SeedProgram) EffectiveWeight() int {
	if s.Meta.Weight < 1 {
		return 1
	}
	return s.Meta.Weight
}

// FusionMode is how the fragments of a candidate were combined.
type FusionMode string

const (
	FusionSingle   FusionMode = "single"
	FusionConcat   FusionMode = "concat"
	FusionFunction FusionMode = "function-scope"
	FusionDataflow FusionMode = "dataflow"
)

// CandidateProgram is a fused and mutated program ready for instrumentation.
// Operators and RNGSeed are enough to rebuild it from the same seeds.
type CandidateProgram struct {
	ID         string            `json:"id"`
	Source     string            `json:"source"`
	SeedIDs    []string          `json:"seed_ids"`
	Fusion     FusionMode        `json:"fusion"`
	Operators  []string          `json:"operators"`
	RNGSeed    int64             `json:"rng_seed"`
	INI        map[string]string `json:"ini,omitempty"`
	Features   []string          `json:"features,omitempty"`
	Expect     *string           `json:"expect,omitempty"`
}

// ProbeKind distinguishes statement probes from return probes.
type ProbeKind string

const (
	ProbeStatement ProbeKind = "statement"
	ProbeReturn    ProbeKind = "return"
	ProbeExit      ProbeKind = "exit"
)

// ProbeSite is one inserted probe call.
type ProbeSite struct {
	ID   string    `json:"id"`
	Kind ProbeKind `json:"kind"`
	Line int       `json:"line"`
}

// InstrumentedProgram is a candidate with probe calls inserted.
// Probe IDs are assigned in source order, so they are identical for both
// executions of a pair.
type InstrumentedProgram struct {
	Candidate CandidateProgram `json:"candidate"`
	Source    string           `json:"source"`
	Probes    []ProbeSite      `json:"probes"`
}

// ExecutionConfig is one named interpreter mode.
type ExecutionConfig struct {
	Name  string            `json:"name"`
	Flags map[string]string `json:"flags"`
	Env   map[string]string `json:"env,omitempty"`
}

// ConfigPair is the two modes a candidate is executed under.
type ConfigPair struct {
	Left  ExecutionConfig `json:"left"`
	Right ExecutionConfig `json:"right"`
}

// Name renders the pair as "left/right".
func (p ConfigPair) Name() string {
	return p.Left.Name + "/" + p.Right.Name
}

// Snapshot is one serialized state capture emitted by a probe.
// Vars is the compacted JSON the probe runtime wrote, compared byte for byte.
type Snapshot struct {
	ProbeID string          `json:"id"`
	Depth   int64           `json:"depth"`
	Vars    json.RawMessage `json:"vars"`
	Value   json.RawMessage `json:"value,omitempty"`
}

// StatusKind is how an execution terminated.
type StatusKind string

const (
	StatusNormal  StatusKind = "normal"
	StatusCrash   StatusKind = "crash"
	StatusTimeout StatusKind = "timeout"
)

// ExitStatus is the termination of one execution.
type ExitStatus struct {
	Kind     StatusKind `json:"kind"`
	ExitCode int        `json:"exit_code"`
	Signal   string     `json:"signal,omitempty"`

	// Reason names the output pattern that classified a crash, if any.
	Reason string `json:"reason,omitempty"`

	// Sanitizer is set when Reason is a sanitizer report.
	Sanitizer bool `json:"sanitizer,omitempty"`
}

// ExecutionRecord is everything observed from one execution.
type ExecutionRecord struct {
	Config    string        `json:"config"`
	Snapshots []Snapshot    `json:"snapshots"`
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	Status    ExitStatus    `json:"status"`
	Duration  time.Duration `json:"duration"`

	// ProbeOverflow is set when the snapshot cap was hit and later
	// snapshots were dropped.
	ProbeOverflow bool `json:"probe_overflow,omitempty"`
}

// Outcome is the oracle's classification.
type Outcome string

const (
	OutcomeMatch        Outcome = "match"
	OutcomeMismatch     Outcome = "mismatch"
	OutcomeInconclusive Outcome = "inconclusive"
)

// DivergenceKind names where two executions first disagreed.
type DivergenceKind string

const (
	DivergeSnapshotCount DivergenceKind = "snapshot-count"
	DivergeSnapshot      DivergenceKind = "snapshot"
	DivergeStdout        DivergenceKind = "stdout"
	DivergeExit          DivergenceKind = "exit"
	DivergeStatus        DivergenceKind = "status"
)

// Divergence is the first point where two records disagree.
type Divergence struct {
	Kind DivergenceKind `json:"kind"`

	// ProbeID and Index locate snapshot divergences.
	ProbeID string `json:"probe_id,omitempty"`
	Index   int    `json:"index"`

	// Offset is the first differing byte for stdout divergences.
	Offset int `json:"offset"`

	// Left and Right are excerpts clipped for display.
	Left  string `json:"left"`
	Right string `json:"right"`

	// LeftDigest and RightDigest hash the unclipped values, so two
	// divergences that only differ past the excerpt stay apart.
	LeftDigest  string `json:"left_digest,omitempty"`
	RightDigest string `json:"right_digest,omitempty"`
}

// DiffVerdict is the result of comparing two records.
type DiffVerdict struct {
	Outcome    Outcome     `json:"outcome"`
	Divergence *Divergence `json:"divergence,omitempty"`

	// Stability marks verdicts involving a crash or timeout on either side.
	Stability bool `json:"stability,omitempty"`

	// Detail is a short human-readable rendering of the divergence.
	Detail string `json:"detail,omitempty"`

	// Noise names the rule that downgraded a mismatch to inconclusive.
	Noise string `json:"noise,omitempty"`
}

// BugRecord is a confirmed, reproducible divergence.
type BugRecord struct {
	ID            string              `json:"id"`
	Candidate     CandidateProgram    `json:"candidate"`
	Instrumented  InstrumentedProgram `json:"instrumented"`
	Pair          ConfigPair          `json:"pair"`
	Left          ExecutionRecord     `json:"left"`
	Right         ExecutionRecord     `json:"right"`
	Verdict       DiffVerdict         `json:"verdict"`
	Confirmations int                 `json:"confirmations"`
	Reruns        int                 `json:"reruns"`
	Quorum        int                 `json:"quorum"`
	RunID         string              `json:"run_id,omitempty"`
}

// StabilityKind classifies a stability finding.
type StabilityKind string

const (
	StabilityCrash     StabilityKind = "crash"
	StabilityTimeout   StabilityKind = "timeout"
	StabilitySanitizer StabilityKind = "sanitizer"
)

// Side names which execution of a pair misbehaved.
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
	SideBoth  Side = "both"
)

// StabilityFinding is a crash, sanitizer report or asymmetric timeout.
// Never a semantic bug.
type StabilityFinding struct {
	ID        string           `json:"id"`
	Kind      StabilityKind    `json:"kind"`
	Side      Side             `json:"side"`
	Candidate CandidateProgram `json:"candidate"`
	Pair      ConfigPair       `json:"pair"`
	Left      ExecutionRecord  `json:"left"`
	Right     ExecutionRecord  `json:"right"`
	RunID     string           `json:"run_id,omitempty"`
}
