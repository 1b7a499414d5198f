package run

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned for state changes the lifecycle forbids.
var ErrInvalidTransition = errors.New("invalid state transition")

// Detail markers carried on transitions with special replay meaning.
const (
	DetailResumed        = "resumed"
	DetailApplied        = "applied"
	DetailAlreadyApplied = "already-applied"
	DetailSkipPrefix     = "skipped: "
)

var allowed = map[ComponentState][]ComponentState{
	StatePending:   {StateApplying, StateSkipped},
	StateApplying:  {StateApplying, StateVerifying, StateFailed, StatePending},
	StateVerifying: {StateVerifying, StateHealthy, StateFailed, StatePending},
	StateHealthy:   {StateRolledBack, StateRollbackFailed},
	StateFailed:    {StatePending},
	StateSkipped:   {StatePending},
	// A failed teardown may be retried by a later rollback request.
	StateRollbackFailed: {StateRolledBack, StateRollbackFailed},
}

// ValidateTransition checks a component state change. Moves back to Pending
// are only legal as part of resuming a run.
func ValidateTransition(from, to ComponentState) error {
	for _, next := range allowed[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
