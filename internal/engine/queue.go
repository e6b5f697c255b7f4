package engine

import (
	"sync"

	"github.com/roach88/zenddiff/internal/ir"
)

// finding is one item for the sink: a bug or a stability finding.
type finding struct {
	bug       *ir.BugRecord
	stability *ir.StabilityFinding
}

// findingQueue is a thread-safe FIFO between the workers and the single
// sink goroutine.
//
// The queue is unbounded so a slow store never blocks a worker in the
// middle of an iteration.
type findingQueue struct {
	mu     sync.Mutex
	items  []finding
	closed bool
	signal chan struct{} // Signals availability (buffered, size 1)
}

func newFindingQueue() *findingQueue {
	return &findingQueue{signal: make(chan struct{}, 1)}
}

// Enqueue adds f to the back of the queue.
// Returns false if the queue is closed.
func (q *findingQueue) Enqueue(f finding) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.items = append(q.items, f)

	// Non-blocking: the buffer of 1 coalesces signals.
	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// Dequeue removes and returns the front item, blocking until one is
// available. Returns false once the queue is closed and empty.
func (q *findingQueue) Dequeue() (finding, bool) {
	for {
		if f, ok := q.TryDequeue(); ok {
			return f, true
		}

		q.mu.Lock()
		if q.closed && len(q.items) == 0 {
			q.mu.Unlock()
			return finding{}, false
		}
		q.mu.Unlock()

		<-q.signal
	}
}

// TryDequeue removes the front item without blocking.
func (q *findingQueue) TryDequeue() (finding, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 {
		return finding{}, false
	}
	f := q.items[0]

	// Clear the slot so the record can be collected.
	q.items[0] = finding{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return f, true
}

// Len returns the current queue length.
func (q *findingQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close signals that no more findings will be enqueued and wakes the
// sink.
func (q *findingQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
