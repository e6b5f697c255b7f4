// Package harness runs end-to-end fuzzing scenarios against a scripted
// interpreter.
//
// A scenario is a YAML file naming a small seed corpus, a config pair and
// the behavior of each interpreter mode. The harness drives the real
// engine (mutator, probe injector, oracle and nondeterminism filter) with
// one worker and a fixed master seed, records findings into an in-memory
// store, and evaluates the scenario's assertions against what was
// recorded.
//
// Behaviors replace the PHP binary. Each one matches a config name and,
// optionally, a set of run indices, and produces stdout, an exit status and
// probe snapshots. The placeholder {run} in stdout is replaced by the run
// index, which is how a scenario models output that changes between runs.
//
// # Golden reports
//
// RunWithGolden renders the recorded findings as canonical JSON and compares
// them with testdata/golden/<name>.golden. Content-addressed IDs and
// candidate sources are left out of the report so that it only changes when
// classification changes.
//
//	go test ./internal/harness -update
package harness
