package oracle

import (
	"fmt"
	"regexp"
)

// Rule rewrites every match of Pattern with Replace before comparison.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Replace string
}

// Normalizer applies rules in order. The zero value leaves text unchanged.
type Normalizer struct {
	rules []Rule
}

// NewNormalizer compiles a normalizer from rules.
func NewNormalizer(rules ...Rule) Normalizer {
	return Normalizer{rules: append([]Rule(nil), rules...)}
}

// RuleSpec is the uncompiled form of a Rule, as read from config.
type RuleSpec struct {
	Name    string `json:"name"`
	Pattern string `json:"pattern"`
	Replace string `json:"replace"`
}

// CompileRules compiles specs in order.
func CompileRules(specs []RuleSpec) ([]Rule, error) {
	out := make([]Rule, 0, len(specs))
	for _, s := range specs {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			return nil, fmt.Errorf("oracle: rule %s: %w", s.Name, err)
		}
		out = append(out, Rule{Name: s.Name, Pattern: re, Replace: s.Replace})
	}
	return out, nil
}

// DefaultRules hide values that legitimately differ between two processes
// running the same program: object handles and resource ids. Printed
// spl_object_hash values are left to the object-identity noise rule, since
// no pattern tells them apart from md5 digests.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "object-handle", Pattern: regexp.MustCompile(`(object\([^)]*\))#\d+`), Replace: "${1}#%d"},
		{Name: "resource-id", Pattern: regexp.MustCompile(`resource\(\d+\)`), Replace: "resource(%d)"},
	}
}

// Apply returns s with every rule applied.
func (n Normalizer) Apply(s string) string {
	for _, r := range n.rules {
		s = r.Pattern.ReplaceAllString(s, r.Replace)
	}
	return s
}
