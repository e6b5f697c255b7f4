package harness

import (
	"fmt"
	"strings"
)

// AssertionError describes a failed assertion.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string

	// Findings lists what the run recorded, for context.
	Findings []string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)
	if len(e.Findings) > 0 {
		fmt.Fprintf(&buf, "\nRecorded findings:\n")
		for i, f := range e.Findings {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, f)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		var err error
		switch a.Type {
		case AssertBugs:
			err = assertBugs(result, a)
		case AssertStability:
			err = assertStability(result, a)
		case AssertCounter:
			err = assertCounter(result, a)
		case AssertDivergence:
			err = assertDivergence(result, a)
		default:
			err = fmt.Errorf("unknown assertion type %q", a.Type)
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d (%s): %v", i, a.Type, err))
		}
	}
	return errs
}

func assertBugs(result *Result, a Assertion) error {
	if int64(len(result.Bugs)) == a.Count {
		return nil
	}
	return &AssertionError{
		Type:     AssertBugs,
		Expected: fmt.Sprintf("%d bug(s)", a.Count),
		Actual:   fmt.Sprintf("%d bug(s)", len(result.Bugs)),
		Findings: describeFindings(result),
	}
}

func assertStability(result *Result, a Assertion) error {
	if int64(len(result.Stability)) != a.Count {
		return &AssertionError{
			Type:     AssertStability,
			Expected: fmt.Sprintf("%d stability finding(s)", a.Count),
			Actual:   fmt.Sprintf("%d stability finding(s)", len(result.Stability)),
			Findings: describeFindings(result),
		}
	}
	for _, f := range result.Stability {
		if a.Kind != "" && string(f.Kind) != a.Kind {
			return &AssertionError{
				Type:     AssertStability,
				Expected: "kind " + a.Kind,
				Actual:   "kind " + string(f.Kind),
				Findings: describeFindings(result),
			}
		}
		if a.Side != "" && string(f.Side) != a.Side {
			return &AssertionError{
				Type:     AssertStability,
				Expected: "side " + a.Side,
				Actual:   "side " + string(f.Side),
				Findings: describeFindings(result),
			}
		}
	}
	return nil
}

func assertCounter(result *Result, a Assertion) error {
	if got := result.Counter(a.Counter); got != a.Count {
		return &AssertionError{
			Type:     AssertCounter,
			Expected: fmt.Sprintf("%s = %d", a.Counter, a.Count),
			Actual:   fmt.Sprintf("%s = %d", a.Counter, got),
		}
	}
	return nil
}

// assertDivergence requires at least one bug, and that every bug diverged
// the expected way.
func assertDivergence(result *Result, a Assertion) error {
	if len(result.Bugs) == 0 {
		return &AssertionError{
			Type:     AssertDivergence,
			Expected: fmt.Sprintf("bugs diverging by %s", a.Kind),
			Actual:   "no bugs",
		}
	}
	for _, b := range result.Bugs {
		d := b.Verdict.Divergence
		if d == nil {
			return fmt.Errorf("bug %s has no divergence", b.ID)
		}
		if string(d.Kind) != a.Kind || (a.Probe != "" && d.ProbeID != a.Probe) {
			return &AssertionError{
				Type:     AssertDivergence,
				Expected: fmt.Sprintf("kind %s probe %q", a.Kind, a.Probe),
				Actual:   fmt.Sprintf("kind %s probe %q", d.Kind, d.ProbeID),
				Findings: describeFindings(result),
			}
		}
	}
	return nil
}

func describeFindings(result *Result) []string {
	var out []string
	for _, b := range result.Bugs {
		out = append(out, fmt.Sprintf("bug %s %s: %s", b.Candidate.ID, b.Pair.Name(), b.Verdict.Detail))
	}
	for _, f := range result.Stability {
		out = append(out, fmt.Sprintf("stability %s %s: %s on %s", f.Candidate.ID, f.Pair.Name(), f.Kind, f.Side))
	}
	return out
}
