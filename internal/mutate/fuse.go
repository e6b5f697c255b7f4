package mutate

import (
	"fmt"
	"math/rand"
	"sort"
	"strings"

	"github.com/roach88/zenddiff/internal/ir"
	"github.com/roach88/zenddiff/internal/phpsyntax"
)

// fragment is a seed prepared for fusion.
type fragment struct {
	seed ir.SeedProgram
	file *phpsyntax.File
}

// fusion is the combined program before mutation.
type fusion struct {
	source string
	seeds  []ir.SeedProgram
	mode   ir.FusionMode
}

// fuse draws seeds and combines them. A single seed is returned unchanged.
func (m *Mutator) fuse(rng *rand.Rand) (fusion, error) {
	n := 1 + rng.Intn(m.opts.MaxFuse)
	if n > 1 {
		if frags := m.fragments(m.corpus.PickFusable(rng, n)); len(frags) > 1 {
			mode := []ir.FusionMode{ir.FusionConcat, ir.FusionFunction, ir.FusionDataflow}[rng.Intn(3)]
			f := fusion{mode: mode}
			for _, fr := range frags {
				f.seeds = append(f.seeds, fr.seed)
			}
			switch mode {
			case ir.FusionConcat:
				f.source = concat(frags)
			case ir.FusionFunction:
				f.source = functionScope(frags)
			case ir.FusionDataflow:
				f.source = dataflow(frags, rng)
			}
			return f, nil
		}
	}

	s, ok := m.corpus.Pick(rng)
	if !ok {
		return fusion{}, ErrEmptyCorpus
	}
	return fusion{source: s.Source, seeds: []ir.SeedProgram{s}, mode: ir.FusionSingle}, nil
}

// fragments parses the drawn seeds and drops any that would redeclare a
// function or class declared by an earlier one.
func (m *Mutator) fragments(seeds []ir.SeedProgram) []fragment {
	declared := make(map[string]bool)
	var out []fragment
	for _, s := range seeds {
		file, err := m.parser.Parse(s.Source)
		if err != nil {
			continue
		}
		clash := false
		for _, name := range file.Declared {
			if declared[name] {
				clash = true
				break
			}
		}
		if clash {
			continue
		}
		for _, name := range file.Declared {
			declared[name] = true
		}
		out = append(out, fragment{seed: s, file: file})
	}
	return out
}

// concat shares one global scope between all fragments.
func concat(frags []fragment) string {
	var b strings.Builder
	b.WriteString("<?php\n")
	for _, fr := range frags {
		b.WriteString(StripTag(fr.file.Source))
		b.WriteString("\n")
	}
	return b.String()
}

// functionScope nests every fragment inside one enclosing function. Fragments
// that cannot live in a function body stay at top level.
func functionScope(frags []fragment) string {
	var outer, inner strings.Builder
	for _, fr := range frags {
		if fr.file.Wrappable() {
			inner.WriteString(StripTag(fr.file.Source))
			inner.WriteString("\n")
		} else {
			outer.WriteString(StripTag(fr.file.Source))
			outer.WriteString("\n")
		}
	}
	if inner.Len() == 0 {
		return "<?php\n" + outer.String()
	}
	return "<?php\n" + outer.String() + "function __zd_fused() {\n" + inner.String() + "}\n__zd_fused();\n"
}

// dataflow links adjacent fragments through a shared variable: a value from
// fragment i is bound to $fusionN after it, and one variable occurrence in
// fragment i+1 reads $fusionN instead.
func dataflow(frags []fragment, rng *rand.Rand) string {
	bodies := make([]string, len(frags))
	for i, fr := range frags {
		bodies[i] = fr.file.Source
	}

	for i := 0; i+1 < len(frags); i++ {
		from := frags[i].file.TopLevelVariables()
		to := topLevelOccurrences(frags[i+1].file)
		if len(from) == 0 || len(to) == 0 {
			continue
		}
		name := fmt.Sprintf("fusion%d", i+1)
		src := from[rng.Intn(len(from))]
		bodies[i] = strings.TrimRight(bodies[i], " \t\n") + fmt.Sprintf("\n$%s = $%s;\n", name, src)

		occ := to[rng.Intn(len(to))]
		bodies[i+1] = phpsyntax.ApplyEdits(bodies[i+1], []phpsyntax.Edit{
			phpsyntax.Replace(occ.Span, "$"+name),
		})
	}

	var b strings.Builder
	b.WriteString("<?php\n")
	for _, body := range bodies {
		b.WriteString(StripTag(body))
		b.WriteString("\n")
	}
	return b.String()
}

// topLevelOccurrences returns top-level variable uses that may be renamed,
// in source order.
func topLevelOccurrences(f *phpsyntax.File) []phpsyntax.Variable {
	var out []phpsyntax.Variable
	for _, v := range f.Variables {
		if v.Func == -1 && !v.Binding {
			out = append(out, v)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// mergeSeedMeta merges INI settings (later seeds win) and unions features.
func mergeSeedMeta(seeds []ir.SeedProgram) (map[string]string, []string) {
	var ini map[string]string
	seen := make(map[string]bool)
	var features []string
	for _, s := range seeds {
		for k, v := range s.Meta.INI {
			if ini == nil {
				ini = make(map[string]string)
			}
			ini[k] = v
		}
		for _, f := range s.Meta.Features {
			if !seen[f] {
				seen[f] = true
				features = append(features, f)
			}
		}
	}
	sort.Strings(features)
	return ini, features
}
