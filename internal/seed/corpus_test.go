package seed

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/zenddiff/internal/ir"
)

func testSeed(t *testing.T, name, src string, weight int, features ...string) ir.SeedProgram {
	t.Helper()
	s, err := NewSeed(name, src, ir.SeedMeta{Weight: weight, Features: features})
	require.NoError(t, err)
	return s
}

func TestCorpusCollapsesDuplicates(t *testing.T) {
	a := testSeed(t, "a.php", "<?php echo 1;", 1)
	c := NewCorpus([]ir.SeedProgram{a, a})
	assert.Equal(t, 1, c.Len())

	got, ok := c.Get(a.ID)
	require.True(t, ok)
	assert.Equal(t, "a.php", got.Name)
}

func TestCorpusPickFollowsWeights(t *testing.T) {
	light := testSeed(t, "light.php", "<?php echo 1;", 1)
	heavy := testSeed(t, "heavy.php", "<?php echo 2;", 9)
	c := NewCorpus([]ir.SeedProgram{light, heavy})

	rng := rand.New(rand.NewSource(1))
	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		s, ok := c.Pick(rng)
		require.True(t, ok)
		counts[s.Name]++
	}
	assert.Greater(t, counts["heavy.php"], counts["light.php"]*4)
}

func TestCorpusPickIsReproducible(t *testing.T) {
	var seeds []ir.SeedProgram
	for i, src := range []string{"<?php echo 1;", "<?php echo 2;", "<?php echo 3;", "<?php echo 4;"} {
		seeds = append(seeds, testSeed(t, string(rune('a'+i))+".php", src, i+1))
	}
	c := NewCorpus(seeds)

	draw := func() []string {
		rng := rand.New(rand.NewSource(42))
		var names []string
		for _, s := range c.PickFusable(rng, 3) {
			names = append(names, s.Name)
		}
		return names
	}
	first := draw()
	assert.Len(t, first, 3)
	assert.Equal(t, first, draw())
}

func TestCorpusPickFusableSkipsNonFusable(t *testing.T) {
	ns := testSeed(t, "ns.php", "<?php\nnamespace A;\necho 1;\n", 100)
	plain := testSeed(t, "plain.php", "<?php echo 1;", 1)
	c := NewCorpus([]ir.SeedProgram{ns, plain})

	got := c.PickFusable(rand.New(rand.NewSource(7)), 2)
	require.Len(t, got, 1)
	assert.Equal(t, "plain.php", got[0].Name)
}

func TestCorpusFilterByFeatures(t *testing.T) {
	plain := testSeed(t, "plain.php", "<?php echo 1;", 1)
	bc := testSeed(t, "bc.php", "<?php echo bcadd('1', '2');", 1, "bcmath")
	c := NewCorpus([]ir.SeedProgram{plain, bc})

	assert.Equal(t, 2, c.Filter(nil).Len())
	assert.Equal(t, 1, c.Filter([]string{"json"}).Len())
	assert.Equal(t, 2, c.Filter([]string{"bcmath"}).Len())
}

func TestEmptyCorpusPick(t *testing.T) {
	c := NewCorpus(nil)
	_, ok := c.Pick(rand.New(rand.NewSource(1)))
	assert.False(t, ok)
	assert.Nil(t, c.PickFusable(rand.New(rand.NewSource(1)), 2))
}
