// Package store provides SQLite-backed durable storage for zenddiff runs.
//
// The store is the bug sink of the pipeline and holds:
//   - Bugs: confirmed JIT/VM divergences, one row per content-addressed ID
//   - Stability findings: asymmetric crashes and timeouts
//   - Runs: one row per fuzzing run with its configuration and counters
//   - Seeds and APIs: an imported seed corpus and the builtin list used by
//     the api-call mutation
//
// # Rules
//
// Idempotent recording: every insert uses ON CONFLICT DO NOTHING on the
// content-addressed ID, so recording the same bug twice keeps one row and
// returns the same ID.
//
// Deterministic ordering: every listing orders by seq ASC, id ASC COLLATE
// BINARY. seq is assigned on insert from a per-table counter; timestamps are
// informational only.
//
// Full records: the complete BugRecord and StabilityFinding are stored as
// JSON next to the indexed summary columns, so a stored bug can be replayed
// or exported without the run that found it.
//
// # Database Configuration
//
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//   - a single connection: SQLite has one writer, workers share the Store
package store
