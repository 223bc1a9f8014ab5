package domain

import (
	"errors"
	"fmt"
)

// ErrInterrupted is returned by the orchestrator when an external
// interrupt stopped the run. The process exits 130 without cleanup;
// manual recovery is the accepted outcome.
var ErrInterrupted = errors.New("run interrupted")

// SetupError aborts the entire run before any phase starts
// (missing tooling, not a git repository, unauthenticated).
type SetupError struct {
	Err error
}

func (e *SetupError) Error() string { return "setup: " + e.Err.Error() }
func (e *SetupError) Unwrap() error { return e.Err }

// Setupf creates a SetupError.
func Setupf(format string, args ...any) error {
	return &SetupError{Err: fmt.Errorf(format, args...)}
}

// SkipError converts a phase step failure into a recorded skip.
// The run continues with the next phase.
type SkipError struct {
	Reason string
	Err    error // optional underlying cause
}

func (e *SkipError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *SkipError) Unwrap() error { return e.Err }

// Skipf creates a SkipError with just a reason.
func Skipf(format string, args ...any) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// SkipWrap creates a SkipError carrying an underlying cause.
func SkipWrap(reason string, err error) error {
	return &SkipError{Reason: reason, Err: err}
}

// AsSkip extracts a SkipError from an error chain.
func AsSkip(err error) (*SkipError, bool) {
	var se *SkipError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
