// Package engine runs the zenddiff fuzzing loop.
//
// An Engine drives a fixed pool of workers. Each worker owns its random
// source, Mutator and Injector and repeats one pipeline:
//
//  1. claim an iteration from the shared budget
//  2. generate a candidate from the corpus
//  3. instrument it with state probes
//  4. run it under a randomly chosen config pair
//  5. compare the two records
//  6. on mismatch, rerun through the nondeterminism filter
//  7. hand confirmed bugs and stability findings to the sink queue
//
// Shared state is limited to the read-only corpus, atomic counters and the
// findings queue. A single sink goroutine drains the queue, so the store
// sees one writer no matter how many workers run.
//
// Stop conditions: context cancellation, the time budget, and the
// iteration budget. Iterations are claimed atomically, so a run with
// MaxIterations N generates exactly N candidates.
//
// Worker seeds derive from the master seed and the worker index. A run with
// one worker and a fixed seed generates the same candidates every time.
package engine
