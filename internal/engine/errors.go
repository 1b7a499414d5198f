package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrPreflightFailed aborts a run before any component is touched.
	ErrPreflightFailed = errors.New("preflight checks failed")
	// ErrNotResumable is returned when a run's status does not allow resume.
	ErrNotResumable = errors.New("run cannot be resumed")
	// ErrNotRollbackable is returned when a run's status does not allow rollback.
	ErrNotRollbackable = errors.New("run cannot be rolled back")
)

// HealthTimeoutError means the component could not be reached during a
// probe cycle.
type HealthTimeoutError struct {
	Component string
	Cycle     int
	Err       error
}

func (e *HealthTimeoutError) Error() string {
	return fmt.Sprintf("health of %s unknown after probe cycle %d: %v", e.Component, e.Cycle, e.Err)
}

func (e *HealthTimeoutError) Unwrap() error { return e.Err }

// HealthUnhealthyError means the component answered with a failing status.
type HealthUnhealthyError struct {
	Component string
	Cycle     int
	Err       error
}

func (e *HealthUnhealthyError) Error() string {
	return fmt.Sprintf("%s unhealthy after probe cycle %d: %v", e.Component, e.Cycle, e.Err)
}

func (e *HealthUnhealthyError) Unwrap() error { return e.Err }

// PreflightError lists the failing preflight checks.
type PreflightError struct {
	Failures map[string]error
}

func (e *PreflightError) Error() string {
	return fmt.Sprintf("%s: %d check(s) failing", ErrPreflightFailed, len(e.Failures))
}

func (e *PreflightError) Unwrap() []error {
	out := []error{ErrPreflightFailed}
	for _, err := range e.Failures {
		out = append(out, err)
	}
	return out
}
