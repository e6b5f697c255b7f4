package mutate

import (
	"fmt"
	"math"
	"math/rand"
	"regexp"
	"strconv"
	"strings"

	"github.com/roach88/zenddiff/internal/phpsyntax"
)

// Operator names. They are recorded on every candidate, so renaming one
// breaks replay of stored bugs.
const (
	OpLoopThreshold = "loop-threshold"
	OpOperandType   = "operand-type"
	OpBoundary      = "boundary-literal"
	OpHotFunction   = "hot-function"
	OpHotLoop       = "hot-loop"
	OpStrictTypes   = "strict-types"
	OpOptionalArg   = "optional-arg"
	OpINIToggle     = "ini-toggle"
	OpINIStartup    = "ini-startup"
	OpAPICall       = "api-call"
)

// Operator is a named, syntax-preserving transformation. Apply returns
// false when the program offers nothing to mutate. Operators are stateless;
// all randomness comes from rng.
//
// An operator with Startup set leaves the source alone and instead draws a
// setting for the candidate's INI.
type Operator struct {
	Name    string
	Weight  int
	Apply   func(f *phpsyntax.File, rng *rand.Rand, o *Options) (string, bool)
	Startup func(rng *rand.Rand) (key, value string)
}

// Operators returns the built-in operator set with default weights.
func Operators() []Operator {
	return []Operator{
		{Name: OpLoopThreshold, Weight: 10, Apply: loopThreshold},
		{Name: OpOperandType, Weight: 10, Apply: operandType},
		{Name: OpBoundary, Weight: 6, Apply: boundaryLiteral},
		{Name: OpHotFunction, Weight: 8, Apply: hotFunction},
		{Name: OpHotLoop, Weight: 8, Apply: hotLoop},
		{Name: OpStrictTypes, Weight: 3, Apply: strictTypes},
		{Name: OpOptionalArg, Weight: 4, Apply: optionalArg},
		{Name: OpINIToggle, Weight: 3, Apply: iniToggle},
		{Name: OpINIStartup, Weight: 3, Startup: iniStartup},
		{Name: OpAPICall, Weight: 6, Apply: apiCall},
	}
}

// loopThreshold moves a for-loop bound across the JIT hot-loop and
// hot-function thresholds.
func loopThreshold(f *phpsyntax.File, rng *rand.Rand, o *Options) (string, bool) {
	if len(f.Loops) == 0 {
		return "", false
	}
	l := f.Loops[rng.Intn(len(f.Loops))]
	targets := []int{o.HotLoop - 1, o.HotLoop + 1, o.HotLoop*2 + 1, o.HotFunc + 1}
	v := int64(targets[rng.Intn(len(targets))])
	if v == l.Value {
		v++
	}
	return phpsyntax.ApplyEdits(f.Source, []phpsyntax.Edit{
		phpsyntax.Replace(l.Bound, strconv.FormatInt(v, 10)),
	}), true
}

var numericString = regexp.MustCompile(`^[0-9]*\.?[0-9]+([eE][+-]?[0-9]+)?$`)

// operandType swaps a literal between int, float and numeric string so the
// JIT sees a different operand type on the same expression.
func operandType(f *phpsyntax.File, rng *rand.Rand, _ *Options) (string, bool) {
	lits := mutableLiterals(f)
	if len(lits) == 0 {
		return "", false
	}
	lit := lits[rng.Intn(len(lits))]

	var choices []string
	switch lit.Kind {
	case phpsyntax.LiteralInt:
		v, ok := phpsyntax.ParseInt(lit.Text)
		if !ok {
			return "", false
		}
		dec := strconv.FormatInt(v, 10)
		choices = []string{dec + ".0", "'" + dec + "'"}
	case phpsyntax.LiteralFloat:
		text := strings.ReplaceAll(lit.Text, "_", "")
		choices = []string{"'" + text + "'"}
		if fv, err := strconv.ParseFloat(text, 64); err == nil && math.Abs(fv) < 1e15 {
			choices = append(choices, strconv.FormatInt(int64(fv), 10))
		}
	case phpsyntax.LiteralString:
		inner := strings.Trim(lit.Text, "'")
		if !numericString.MatchString(inner) {
			return "", false
		}
		choices = []string{inner}
	}
	if len(choices) == 0 {
		return "", false
	}
	return phpsyntax.ApplyEdits(f.Source, []phpsyntax.Edit{
		phpsyntax.Replace(lit.Span, choices[rng.Intn(len(choices))]),
	}), true
}

var boundaryValues = []string{
	"PHP_INT_MAX", "PHP_INT_MIN", "0", "(-1)", "2147483647", "2147483648",
	"9007199254740993", "PHP_FLOAT_EPSILON", "PHP_FLOAT_MAX", "PHP_FLOAT_MIN",
	"(-0.0)", "0.1", "NAN", "INF", "(-INF)",
}

// boundaryLiteral replaces a numeric literal with an extreme value, where
// overflow checks and float/int promotion differ between compiled and
// interpreted paths.
func boundaryLiteral(f *phpsyntax.File, rng *rand.Rand, _ *Options) (string, bool) {
	var nums []phpsyntax.Literal
	for _, l := range mutableLiterals(f) {
		if l.Kind != phpsyntax.LiteralString {
			nums = append(nums, l)
		}
	}
	if len(nums) == 0 {
		return "", false
	}
	lit := nums[rng.Intn(len(nums))]
	return phpsyntax.ApplyEdits(f.Source, []phpsyntax.Edit{
		phpsyntax.Replace(lit.Span, boundaryValues[rng.Intn(len(boundaryValues))]),
	}), true
}

// hotFunction moves the top level into a function and calls it repeatedly.
func hotFunction(f *phpsyntax.File, _ *rand.Rand, o *Options) (string, bool) {
	if !f.Wrappable() {
		return "", false
	}
	body := StripTag(f.Source)
	return fmt.Sprintf("<?php\nfunction __zd_hot() {\n%s\n}\nfor ($__zd_i = 0; $__zd_i < %d; $__zd_i++) {\n    __zd_hot();\n}\n",
		body, o.HotCalls), true
}

// hotLoop moves the top level into a loop body.
func hotLoop(f *phpsyntax.File, _ *rand.Rand, o *Options) (string, bool) {
	if !f.Wrappable() {
		return "", false
	}
	body := StripTag(f.Source)
	return fmt.Sprintf("<?php\nfor ($__zd_l = 0; $__zd_l < %d; $__zd_l++) {\n%s\n}\n",
		o.HotIterations, body), true
}

// strictTypes toggles declare(strict_types=1).
func strictTypes(f *phpsyntax.File, _ *rand.Rand, _ *Options) (string, bool) {
	if f.HasStrictTypes {
		for _, s := range f.Statements {
			if s.Kind == "declare_statement" && strings.Contains(strings.ToLower(s.Text(f.Source)), "strict_types") {
				return phpsyntax.ApplyEdits(f.Source, []phpsyntax.Edit{phpsyntax.Replace(s.Span, "")}), true
			}
		}
		return "", false
	}
	if f.HasInlineHTML {
		return "", false
	}
	return phpsyntax.ApplyEdits(f.Source, []phpsyntax.Edit{
		phpsyntax.Insert(tagEnd(f.Source), "\ndeclare(strict_types=1);"),
	}), true
}

var namedArg = regexp.MustCompile(`^\s*[A-Za-z_][A-Za-z0-9_]*\s*:[^:]`)

// optionalArg drops the last argument of a call or repeats it, probing
// default-parameter handling and argument count checks.
func optionalArg(f *phpsyntax.File, rng *rand.Rand, _ *Options) (string, bool) {
	var calls []phpsyntax.Call
	for _, c := range f.Calls {
		if len(c.ArgList) == 0 || strings.Contains(c.Args.Text(f.Source), "...") {
			continue
		}
		named := false
		for _, a := range c.ArgList {
			if namedArg.MatchString(a.Text(f.Source)) {
				named = true
				break
			}
		}
		if !named {
			calls = append(calls, c)
		}
	}
	if len(calls) == 0 {
		return "", false
	}
	c := calls[rng.Intn(len(calls))]
	last := c.ArgList[len(c.ArgList)-1]

	if rng.Intn(2) == 0 {
		drop := last
		if len(c.ArgList) > 1 {
			drop.Start = c.ArgList[len(c.ArgList)-2].End
		}
		return phpsyntax.ApplyEdits(f.Source, []phpsyntax.Edit{phpsyntax.Replace(drop, "")}), true
	}
	return phpsyntax.ApplyEdits(f.Source, []phpsyntax.Edit{
		phpsyntax.Insert(last.End, ", "+last.Text(f.Source)),
	}), true
}

// apiCall appends guarded builtin calls fed with the program's own
// top-level variables.
func apiCall(f *phpsyntax.File, rng *rand.Rand, o *Options) (string, bool) {
	if len(o.APIs) == 0 || f.HasNamespace || f.HasInlineHTML || f.HasHaltCompiler {
		return "", false
	}
	vars := f.TopLevelVariables()
	if len(vars) == 0 {
		return "", false
	}

	var b strings.Builder
	calls := 1 + rng.Intn(3)
	for i := 0; i < calls; i++ {
		api := o.APIs[rng.Intn(len(o.APIs))]
		args := make([]string, api.Arity)
		for j := range args {
			args[j] = "$" + vars[rng.Intn(len(vars))]
		}
		fmt.Fprintf(&b, "\ntry { var_dump(%s(%s)); } catch (\\Throwable $e) { echo get_class($e), \"\\n\"; }",
			api.Name, strings.Join(args, ", "))
	}
	src := strings.TrimRight(f.Source, " \t\n")
	return src + b.String() + "\n", true
}

// mutableLiterals excludes literals whose replacement would be rejected at
// compile time, such as the level of break and continue.
func mutableLiterals(f *phpsyntax.File) []phpsyntax.Literal {
	var out []phpsyntax.Literal
	for _, l := range f.Literals {
		before := strings.TrimRight(f.Source[:l.Start], " \t\n")
		lower := strings.ToLower(before)
		if strings.HasSuffix(lower, "break") || strings.HasSuffix(lower, "continue") {
			continue
		}
		out = append(out, l)
	}
	return out
}

// StripTag removes the leading open tag.
func StripTag(src string) string {
	if len(src) >= 5 && strings.EqualFold(src[:5], "<?php") {
		src = src[5:]
	}
	return strings.TrimLeft(src, " \t\n")
}

func tagEnd(src string) int {
	if len(src) >= 5 && strings.EqualFold(src[:5], "<?php") {
		return 5
	}
	return 0
}

// preambleEnd is the first offset where an ordinary statement may be
// inserted: after the open tag and any leading declare statements.
// Namespaced programs have no such offset.
func preambleEnd(f *phpsyntax.File) (int, bool) {
	if f.HasNamespace || f.HasInlineHTML {
		return 0, false
	}
	at := tagEnd(f.Source)
	for _, s := range f.Statements {
		if s.Kind != "declare_statement" {
			break
		}
		at = s.End
	}
	return at, true
}
