package engine

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBudget_ClaimsAreUnique(t *testing.T) {
	b := NewBudget(0)

	seen := make(map[int64]bool)
	for i := 0; i < 1000; i++ {
		n, ok := b.Claim()
		assert.True(t, ok)
		assert.False(t, seen[n], "iteration %d claimed twice", n)
		seen[n] = true
	}
	assert.Equal(t, int64(1000), b.Claimed())
}

func TestBudget_ExactLimitUnderContention(t *testing.T) {
	const limit = 100
	b := NewBudget(limit)

	var granted atomic.Int64
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, ok := b.Claim(); !ok {
					return
				}
				granted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), granted.Load())
	assert.Equal(t, int64(limit), b.Claimed())
}

func TestBudget_ZeroLimitNeverRunsOut(t *testing.T) {
	b := NewBudget(0)
	for i := 0; i < 10; i++ {
		_, ok := b.Claim()
		assert.True(t, ok)
	}
}

func TestWorkerSeed_Distinct(t *testing.T) {
	seen := make(map[int64]bool)
	for w := 0; w < 64; w++ {
		s := workerSeed(42, w)
		assert.False(t, seen[s], "worker %d seed collides", w)
		seen[s] = true
	}
	assert.Equal(t, int64(42), workerSeed(42, 0))
	assert.Equal(t, workerSeed(7, 3), workerSeed(7, 3))
}
