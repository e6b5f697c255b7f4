package oracle

import (
	"fmt"
	"regexp"

	"github.com/roach88/zenddiff/internal/ir"
)

// NoiseRule marks divergences that come from the environment rather than
// the interpreter. Source is matched against the candidate program, Output
// against stdout and stderr of either side; a rule may set one or both.
type NoiseRule struct {
	Name   string
	Source *regexp.Regexp
	Output *regexp.Regexp
}

// NoiseSpec is the uncompiled form of a NoiseRule.
type NoiseSpec struct {
	Name   string `json:"name"`
	Source string `json:"source,omitempty"`
	Output string `json:"output,omitempty"`
}

// CompileNoise compiles specs in order.
func CompileNoise(specs []NoiseSpec) ([]NoiseRule, error) {
	out := make([]NoiseRule, 0, len(specs))
	for _, s := range specs {
		r := NoiseRule{Name: s.Name}
		var err error
		if s.Source != "" {
			if r.Source, err = regexp.Compile(s.Source); err != nil {
				return nil, fmt.Errorf("oracle: noise %s: %w", s.Name, err)
			}
		}
		if s.Output != "" {
			if r.Output, err = regexp.Compile(s.Output); err != nil {
				return nil, fmt.Errorf("oracle: noise %s: %w", s.Name, err)
			}
		}
		if r.Source == nil && r.Output == nil {
			return nil, fmt.Errorf("oracle: noise %s: needs source or output", s.Name)
		}
		out = append(out, r)
	}
	return out, nil
}

// DefaultNoise lists known false-positive sources: clocks, randomness,
// object identities, opcache introspection, refcount dumps, leak reports of
// debug builds and error handlers that observe engine internals.
func DefaultNoise() []NoiseRule {
	src := func(name, pattern string) NoiseRule {
		return NoiseRule{Name: name, Source: regexp.MustCompile(pattern)}
	}
	out := func(name, pattern string) NoiseRule {
		return NoiseRule{Name: name, Output: regexp.MustCompile(pattern)}
	}
	return []NoiseRule{
		src("clock", `\b(time|microtime|hrtime|gmmktime|mktime|gmdate|date|strtotime|getdate|localtime|gettimeofday)\s*\(`),
		src("random", `\b(rand|mt_rand|random_int|random_bytes|uniqid|lcg_value|shuffle|str_shuffle|array_rand)\s*\(`),
		src("object-identity", `\bspl_object_(id|hash)\s*\(`),
		src("opcache-introspection", `\bopcache_(get_status|get_configuration|compile_file|is_script_cached|invalidate)\s*\(`),
		src("self-read", `php_strip_whitespace\s*\(\s*__FILE__`),
		src("error-handler", `\bset_error_handler\s*\(`),
		src("process", `\b(getmypid|memory_get_usage|memory_get_peak_usage|getrusage|sys_getloadavg)\s*\(`),
		out("refcount", `refcount\(`),
		out("memory-leak", `leaked in |memory leaks? detected`),
		out("jit-disabled", `JIT is disabled`),
		out("epoch", `Seconds since Unix Epoch`),
		out("server", `Server is not running`),
	}
}

// noiseMatch returns the name of the first rule that applies.
func noiseMatch(rules []NoiseRule, source string, left, right ir.ExecutionRecord) string {
	for _, r := range rules {
		if r.Source != nil && r.Source.MatchString(source) {
			return r.Name
		}
		if r.Output != nil && outputMatches(r.Output, left, right) {
			return r.Name
		}
	}
	return ""
}

func outputMatches(re *regexp.Regexp, records ...ir.ExecutionRecord) bool {
	for _, rec := range records {
		if re.MatchString(rec.Stdout) || re.MatchString(rec.Stderr) {
			return true
		}
	}
	return false
}
