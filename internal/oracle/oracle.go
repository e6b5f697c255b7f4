// Package oracle decides whether two executions of the same instrumented
// program agree.
//
// Comparison order is fixed: process status, then the probe snapshots,
// then stdout, then the exit code. The first difference found is the
// verdict's divergence. Snapshots come before stdout so that a divergence
// in internal state wins over a coincidentally equal output.
//
// Compare is a pure function of its inputs.
package oracle

import (
	"bytes"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/roach88/zenddiff/internal/ir"
)

// excerpt bounds divergence values kept on a verdict.
const excerpt = 160

// Oracle compares execution records.
type Oracle struct {
	norm  Normalizer
	noise []NoiseRule
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithRules replaces the stdout normalization rules.
func WithRules(rules []Rule) Option {
	return func(o *Oracle) {
		o.norm = NewNormalizer(rules...)
	}
}

// WithNoise replaces the noise rules.
func WithNoise(rules []NoiseRule) Option {
	return func(o *Oracle) {
		o.noise = rules
	}
}

// New creates an Oracle with the default normalization and noise rules.
func New(opts ...Option) *Oracle {
	o := &Oracle{norm: NewNormalizer(DefaultRules()...), noise: DefaultNoise()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Compare returns the verdict for left and right, both produced from prog.
// A mismatch explained by a noise rule is downgraded to inconclusive.
func (o *Oracle) Compare(prog ir.InstrumentedProgram, left, right ir.ExecutionRecord) ir.DiffVerdict {
	v := compare(o.norm, left, right)
	if v.Outcome != ir.OutcomeMismatch {
		return v
	}
	if name := noiseMatch(o.noise, prog.Candidate.Source, left, right); name != "" {
		v.Outcome = ir.OutcomeInconclusive
		v.Noise = name
		v.Detail = fmt.Sprintf("noise(%s): %s", name, v.Detail)
	}
	return v
}

// Compare compares two records without normalization or noise rules.
func Compare(left, right ir.ExecutionRecord) ir.DiffVerdict {
	return compare(Normalizer{}, left, right)
}

func compare(norm Normalizer, left, right ir.ExecutionRecord) ir.DiffVerdict {
	if v, done := compareStatus(left.Status, right.Status); done {
		return v
	}
	if d := compareSnapshots(left.Snapshots, right.Snapshots); d != nil {
		return mismatch(d)
	}
	if d := compareStdout(norm.Apply(left.Stdout), norm.Apply(right.Stdout)); d != nil {
		return mismatch(d)
	}
	if left.Status.ExitCode != right.Status.ExitCode {
		return mismatch(&ir.Divergence{
			Kind:  ir.DivergeExit,
			Left:  strconv.Itoa(left.Status.ExitCode),
			Right: strconv.Itoa(right.Status.ExitCode),
		})
	}
	return ir.DiffVerdict{Outcome: ir.OutcomeMatch}
}

// compareStatus settles every verdict where a side did not terminate
// normally. Equal abnormal statuses match; anything asymmetric cannot be
// compared and goes to the stability path.
func compareStatus(l, r ir.ExitStatus) (ir.DiffVerdict, bool) {
	if l.Kind == ir.StatusNormal && r.Kind == ir.StatusNormal {
		return ir.DiffVerdict{}, false
	}
	if l.Kind == r.Kind {
		return ir.DiffVerdict{
			Outcome:   ir.OutcomeMatch,
			Stability: true,
			Detail:    fmt.Sprintf("both sides %s", l.Kind),
		}, true
	}
	d := &ir.Divergence{Kind: ir.DivergeStatus, Left: statusText(l), Right: statusText(r)}
	return ir.DiffVerdict{
		Outcome:    ir.OutcomeInconclusive,
		Divergence: d,
		Stability:  true,
		Detail:     describe(d),
	}, true
}

func statusText(s ir.ExitStatus) string {
	switch {
	case s.Signal != "":
		return fmt.Sprintf("%s (%s)", s.Kind, s.Signal)
	case s.Reason != "":
		return fmt.Sprintf("%s (%s)", s.Kind, s.Reason)
	}
	return string(s.Kind)
}

func compareSnapshots(l, r []ir.Snapshot) *ir.Divergence {
	n := min(len(l), len(r))
	for i := 0; i < n; i++ {
		a, b := l[i], r[i]
		if a.ProbeID == b.ProbeID && a.Depth == b.Depth &&
			bytes.Equal(a.Vars, b.Vars) && bytes.Equal(a.Value, b.Value) {
			continue
		}
		left, right := snapshotText(a), snapshotText(b)
		return &ir.Divergence{
			Kind:        ir.DivergeSnapshot,
			ProbeID:     a.ProbeID,
			Index:       i,
			Left:        clip(left),
			Right:       clip(right),
			LeftDigest:  ir.ContentDigest([]byte(left)),
			RightDigest: ir.ContentDigest([]byte(right)),
		}
	}
	if len(l) == len(r) {
		return nil
	}
	d := &ir.Divergence{
		Kind:  ir.DivergeSnapshotCount,
		Index: n,
		Left:  strconv.Itoa(len(l)),
		Right: strconv.Itoa(len(r)),
	}
	if len(l) > n {
		d.ProbeID = l[n].ProbeID
	} else {
		d.ProbeID = r[n].ProbeID
	}
	return d
}

func snapshotText(s ir.Snapshot) string {
	text := fmt.Sprintf("%s@%d %s", s.ProbeID, s.Depth, s.Vars)
	if len(s.Value) > 0 {
		text += " => " + string(s.Value)
	}
	return text
}

func compareStdout(l, r string) *ir.Divergence {
	if l == r {
		return nil
	}
	off := commonPrefix(l, r)
	return &ir.Divergence{
		Kind:        ir.DivergeStdout,
		Offset:      off,
		Left:        clip(l[off:]),
		Right:       clip(r[off:]),
		LeftDigest:  ir.ContentDigest([]byte(l[off:])),
		RightDigest: ir.ContentDigest([]byte(r[off:])),
	}
}

func mismatch(d *ir.Divergence) ir.DiffVerdict {
	return ir.DiffVerdict{Outcome: ir.OutcomeMismatch, Divergence: d, Detail: describe(d)}
}

func clip(s string) string {
	if len(s) <= excerpt {
		return s
	}
	cut := excerpt
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
