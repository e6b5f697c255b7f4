package executor

import (
	"bytes"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// WorkdirPlaceholder replaces the per-run directory in captured output so
// that the two sides of a pair print the same paths.
const WorkdirPlaceholder = "%WORKDIR%"

// TruncatedMarker ends output that hit the capture cap.
const TruncatedMarker = "\n%TRUNCATED%"

// cleanOutput makes captured bytes comparable across runs: workdir paths
// are replaced and invalid UTF-8 is decoded as ISO-8859-1.
func cleanOutput(b []byte, dir string, truncated bool) string {
	out := bytes.ReplaceAll(b, []byte(dir), []byte(WorkdirPlaceholder))
	if real, err := filepath.EvalSymlinks(dir); err == nil && real != dir {
		out = bytes.ReplaceAll(out, []byte(real), []byte(WorkdirPlaceholder))
	}
	s := decodeOutput(out)
	if truncated {
		s += TruncatedMarker
	}
	return s
}

func decodeOutput(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(bytes.ToValidUTF8(b, []byte("\uFFFD")))
	}
	return string(decoded)
}

// CrashPattern classifies stderr as a crash even when the process exited
// normally, as sanitizer builds do.
type CrashPattern struct {
	Name string
	Re   *regexp.Regexp

	// Sanitizer marks reports from ASan, UBSan, MSan and the like.
	Sanitizer bool
}

// CrashPatterns is an ordered list; the first match names the crash.
type CrashPatterns []CrashPattern

// DefaultCrashPatterns matches the headers sanitizers and the C runtime
// print when a check fires. They are anchored to line starts so a program
// echoing the same words to stderr is not mistaken for a report.
func DefaultCrashPatterns() CrashPatterns {
	return CrashPatterns{
		{Name: "asan", Re: regexp.MustCompile(`(?m)^==\d+==ERROR: AddressSanitizer`), Sanitizer: true},
		{Name: "ubsan", Re: regexp.MustCompile(`(?m)^SUMMARY: UndefinedBehaviorSanitizer`), Sanitizer: true},
		{Name: "msan", Re: regexp.MustCompile(`(?m)^==\d+==WARNING: MemorySanitizer`), Sanitizer: true},
		{Name: "zend-assert", Re: regexp.MustCompile(`(?m)^\S+: \S+:\d+: .*: Assertion .+ failed\.$`)},
		{Name: "core", Re: regexp.MustCompile(`(?m)\(core dumped\)$`)},
	}
}

// CompileCrashPatterns builds patterns from name/regexp pairs. A pattern
// mentioning "Sanitizer" counts as a sanitizer report.
func CompileCrashPatterns(specs map[string]string) (CrashPatterns, error) {
	names := make([]string, 0, len(specs))
	for name := range specs {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make(CrashPatterns, 0, len(names))
	for _, name := range names {
		re, err := regexp.Compile(specs[name])
		if err != nil {
			return nil, fmt.Errorf("executor: crash pattern %s: %w", name, err)
		}
		out = append(out, CrashPattern{
			Name:      name,
			Re:        re,
			Sanitizer: strings.Contains(specs[name], "Sanitizer"),
		})
	}
	return out, nil
}

// Find returns the first pattern found in stderr. Stdout belongs to the
// program and is never scanned.
func (c CrashPatterns) Find(stderr string) (CrashPattern, bool) {
	for _, p := range c {
		if p.Re.MatchString(stderr) {
			return p, true
		}
	}
	return CrashPattern{}, false
}

// Match returns the name of the first pattern found in stderr, or "".
func (c CrashPatterns) Match(stderr string) string {
	p, _ := c.Find(stderr)
	return p.Name
}
