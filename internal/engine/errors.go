package engine

import (
	"errors"
	"fmt"
)

// Outcome classifies one pipeline iteration.
type Outcome string

const (
	// OutcomeMatch means both executions agreed.
	OutcomeMatch Outcome = "match"

	// OutcomeInconclusive means the executions could not be compared.
	OutcomeInconclusive Outcome = "inconclusive"

	// OutcomeNoise means a mismatch was explained by a noise rule.
	OutcomeNoise Outcome = "noise"

	// OutcomeStability means a crash or timeout was recorded as a
	// stability finding.
	OutcomeStability Outcome = "stability"

	// OutcomeDiscarded means a mismatch did not reproduce in quorum.
	OutcomeDiscarded Outcome = "discarded"

	// OutcomeConfirmed means a mismatch reproduced and became a bug.
	OutcomeConfirmed Outcome = "confirmed"

	// OutcomeSkipped means the candidate never ran: generation or probe
	// injection failed.
	OutcomeSkipped Outcome = "skipped"
)

// RunError is a failure of the run as a whole.
type RunError struct {
	Code    RunErrorCode
	Message string

	// Worker identifies the worker for per-worker errors, -1 otherwise.
	Worker int

	Err error
}

// RunErrorCode categorizes run errors.
type RunErrorCode string

const (
	// ErrCodeWorkerHalted indicates a worker stopped on a fatal error.
	ErrCodeWorkerHalted RunErrorCode = "WORKER_HALTED"

	// ErrCodeAllHalted indicates every worker stopped before the budget
	// ran out.
	ErrCodeAllHalted RunErrorCode = "ALL_WORKERS_HALTED"

	// ErrCodeSink indicates findings could not be written.
	ErrCodeSink RunErrorCode = "SINK_FAILED"

	// ErrCodeSetup indicates the engine could not start.
	ErrCodeSetup RunErrorCode = "SETUP_FAILED"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Worker >= 0 {
		msg = fmt.Sprintf("%s (worker=%d)", msg, e.Worker)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// IsWorkerHalted reports whether err is a worker or whole-pool halt.
// Uses errors.As to handle wrapped errors.
func IsWorkerHalted(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == ErrCodeWorkerHalted || re.Code == ErrCodeAllHalted
	}
	return false
}

// IsSinkError reports whether err is a sink write failure.
func IsSinkError(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == ErrCodeSink
	}
	return false
}

// newHaltError wraps the error that stopped a worker.
func newHaltError(worker int, err error) *RunError {
	return &RunError{
		Code:    ErrCodeWorkerHalted,
		Message: "worker stopped on fatal error",
		Worker:  worker,
		Err:     err,
	}
}
