package seed

import (
	"math/rand"
	"sort"

	"github.com/roach88/zenddiff/internal/ir"
)

// Corpus is an immutable set of validated seed programs.
// Safe for concurrent reads; workers share one Corpus for a whole run.
type Corpus struct {
	seeds   []ir.SeedProgram
	byID    map[string]int
	cum     []int
	fusable []int
	fusCum  []int
}

// NewCorpus builds a corpus from already validated seeds. Duplicate IDs are
// collapsed to their first occurrence.
func NewCorpus(seeds []ir.SeedProgram) *Corpus {
	c := &Corpus{byID: make(map[string]int, len(seeds))}
	for _, s := range seeds {
		if _, dup := c.byID[s.ID]; dup {
			continue
		}
		c.byID[s.ID] = len(c.seeds)
		c.seeds = append(c.seeds, s)
	}

	total, fusTotal := 0, 0
	for i, s := range c.seeds {
		total += s.EffectiveWeight()
		c.cum = append(c.cum, total)
		if s.Fusable {
			fusTotal += s.EffectiveWeight()
			c.fusable = append(c.fusable, i)
			c.fusCum = append(c.fusCum, fusTotal)
		}
	}
	return c
}

// Len returns the number of seeds.
func (c *Corpus) Len() int { return len(c.seeds) }

// Seeds returns a copy of all seeds in load order.
func (c *Corpus) Seeds() []ir.SeedProgram {
	out := make([]ir.SeedProgram, len(c.seeds))
	copy(out, c.seeds)
	return out
}

// Get returns the seed with the given ID.
func (c *Corpus) Get(id string) (ir.SeedProgram, bool) {
	i, ok := c.byID[id]
	if !ok {
		return ir.SeedProgram{}, false
	}
	return c.seeds[i], true
}

// Filter returns the seeds whose required features are all available.
// A nil available set keeps every seed.
func (c *Corpus) Filter(available []string) *Corpus {
	if available == nil {
		return c
	}
	have := make(map[string]bool, len(available))
	for _, f := range available {
		have[f] = true
	}
	var kept []ir.SeedProgram
	for _, s := range c.seeds {
		ok := true
		for _, f := range s.Meta.Features {
			if !have[f] {
				ok = false
				break
			}
		}
		if ok {
			kept = append(kept, s)
		}
	}
	return NewCorpus(kept)
}

// Pick draws one seed by weight.
func (c *Corpus) Pick(rng *rand.Rand) (ir.SeedProgram, bool) {
	if len(c.seeds) == 0 {
		return ir.SeedProgram{}, false
	}
	return c.seeds[pickIndex(rng, c.cum)], true
}

// PickFusable draws up to n distinct fusable seeds by weight.
// Fewer are returned when the corpus has fewer fusable seeds.
func (c *Corpus) PickFusable(rng *rand.Rand, n int) []ir.SeedProgram {
	if len(c.fusable) == 0 || n <= 0 {
		return nil
	}
	if n > len(c.fusable) {
		n = len(c.fusable)
	}

	chosen := make(map[int]bool, n)
	var out []ir.SeedProgram
	for attempts := 0; len(out) < n && attempts < n*8; attempts++ {
		i := c.fusable[pickIndex(rng, c.fusCum)]
		if chosen[i] {
			continue
		}
		chosen[i] = true
		out = append(out, c.seeds[i])
	}
	return out
}

// pickIndex walks cumulative weights with a binary search.
func pickIndex(rng *rand.Rand, cum []int) int {
	x := rng.Intn(cum[len(cum)-1])
	return sort.SearchInts(cum, x+1)
}
