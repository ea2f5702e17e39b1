// Package errs defines the engine's error taxonomy.
//
// Gate failures are not errors: they travel as values and become COOLDOWN
// transitions. Everything here aborts the current tick.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrSessionBusy       = errors.New("session is being evaluated")
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ValidationError means market data was missing or malformed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid market data (%s): %s", e.Field, e.Reason)
}

func Validation(field, format string, a ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, a...)}
}

// DependencyError wraps a failure of an external collaborator.
type DependencyError struct {
	Dependency string
	Err        error
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("%s unavailable: %v", e.Dependency, e.Err)
}

func (e *DependencyError) Unwrap() error { return e.Err }

func Dependency(name string, err error) error {
	if err == nil {
		return nil
	}
	var de *DependencyError
	if errors.As(err, &de) {
		return err
	}
	return &DependencyError{Dependency: name, Err: err}
}

// StateConsistencyError means the persisted session no longer matches what the
// writer observed, or violates the transition graph.
type StateConsistencyError struct {
	SessionID string
	Expected  string
	Actual    string
}

func (e *StateConsistencyError) Error() string {
	return fmt.Sprintf("session %s: expected %s, found %s", e.SessionID, e.Expected, e.Actual)
}

func IsValidation(err error) bool {
	var e *ValidationError
	return errors.As(err, &e)
}

func IsDependency(err error) bool {
	var e *DependencyError
	return errors.As(err, &e)
}

func IsStateConsistency(err error) bool {
	var e *StateConsistencyError
	return errors.As(err, &e)
}

// GateFailure is a failed admission check. It is a value, never returned as error.
type GateFailure struct {
	Gate   string
	Reason string
}

func (g GateFailure) String() string {
	if g.Gate == "" {
		return g.Reason
	}
	return g.Gate + ": " + g.Reason
}
