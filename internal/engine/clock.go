package engine

import (
	"sync/atomic"
	"time"
)

// Budget hands out iteration numbers to workers.
//
// Claims are linearizable: each call returns a unique, increasing number,
// and once the limit is reached every later claim fails. A limit of zero
// means unbounded.
type Budget struct {
	claimed atomic.Int64
	limit   int64
}

// NewBudget creates a budget of limit iterations.
func NewBudget(limit int64) *Budget {
	return &Budget{limit: limit}
}

// Claim reserves the next iteration. Returns false once the budget is
// spent.
func (b *Budget) Claim() (int64, bool) {
	n := b.claimed.Add(1)
	if b.limit > 0 && n > b.limit {
		return 0, false
	}
	return n, true
}

// Claimed returns how many iterations were handed out.
func (b *Budget) Claimed() int64 {
	n := b.claimed.Load()
	if b.limit > 0 && n > b.limit {
		return b.limit
	}
	return n
}

// Clock supplies wall time for the time budget. testutil.FakeClock
// implements it for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
