// Package executor runs instrumented programs under an interpreter
// configuration and captures what they did.
//
// Every run gets its own temporary working directory and process group. A
// run that outlives its timeout has its whole process group killed and is
// recorded as a timeout; the directory is removed on every exit path.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/zenddiff/internal/ir"
)

// Interpreter executes one instrumented program under one configuration.
//
// Run returns an error only when the program could not be executed at all.
// Crashes and timeouts are outcomes, reported through the record's Status.
type Interpreter interface {
	Run(ctx context.Context, prog ir.InstrumentedProgram, cfg ir.ExecutionConfig, timeout time.Duration) (ir.ExecutionRecord, error)
}

// SpawnError reports a run that could not be started after bounded retries.
// A worker receiving one should stop.
type SpawnError struct {
	Config   string
	Attempts int
	Err      error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("executor: spawning %s failed after %d attempt(s): %v", e.Config, e.Attempts, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// IsSpawnError checks if an error is a SpawnError.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}

// RunPair executes prog under both configurations of pair concurrently and
// returns the left and right records.
func RunPair(ctx context.Context, interp Interpreter, prog ir.InstrumentedProgram, pair ir.ConfigPair, timeout time.Duration) (ir.ExecutionRecord, ir.ExecutionRecord, error) {
	var left, right ir.ExecutionRecord
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		left, err = interp.Run(gctx, prog, pair.Left, timeout)
		return err
	})
	g.Go(func() error {
		var err error
		right, err = interp.Run(gctx, prog, pair.Right, timeout)
		return err
	})
	if err := g.Wait(); err != nil {
		return ir.ExecutionRecord{}, ir.ExecutionRecord{}, err
	}
	return left, right, nil
}
