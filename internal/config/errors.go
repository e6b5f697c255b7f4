package config

import (
	"errors"
	"fmt"

	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Error codes for configuration failures.
const (
	ErrCodeGeneric       = "E001" // Generic/unknown error
	ErrCodeLoadFailed    = "E004" // CUE parse failed
	ErrCodeNotFound      = "E005" // Config file not found
	ErrCodeBuildFailed   = "E006" // Unification or decoding failed
	ErrCodeDuration      = "E201" // Unparseable duration
	ErrCodeUnknownConfig = "E202" // Pair names an undefined execution config
	ErrCodeQuorum        = "E203" // Quorum outside [1, reruns]
	ErrCodePattern       = "E204" // Regex rule does not compile
	ErrCodeEmptyPairs    = "E205" // No config pairs to run
)

// LoadError is a configuration failure with a stable code and, when CUE
// knows it, the source position.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsLoadError checks if an error is a *LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// fromCUE converts a CUE error into a LoadError, keeping the first position.
func fromCUE(code string, err error) *LoadError {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Code: code, Message: err.Error()}
	}
	first := errs[0]
	le := &LoadError{Code: code, Message: first.Error()}
	if pos := cueerrors.Positions(first); len(pos) > 0 {
		le.Pos = pos[0]
	}
	return le
}
