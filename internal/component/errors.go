package component

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrDuplicateName      = errors.New("duplicate component name")
	ErrInvalidComponent   = errors.New("invalid component")
	ErrCyclicDependency   = errors.New("cyclic dependency")
	ErrWaveOrderViolation = errors.New("wave order violation")
	ErrUnknownDependency  = errors.New("unknown dependency")
	ErrUnknownComponent   = errors.New("unknown component")
	ErrUnknownStage       = errors.New("unknown stage")
	ErrFrozen             = errors.New("registry is frozen")
)

// Violation is one invariant breach found by Freeze.
type Violation struct {
	Kind      error
	Component string
	Detail    string
}

func (v Violation) Error() string {
	if v.Detail == "" {
		return fmt.Sprintf("%s: %s", v.Component, v.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", v.Component, v.Kind, v.Detail)
}

func (v Violation) Unwrap() error { return v.Kind }

// ValidationError aggregates every violation found while freezing.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if e == nil || len(e.Violations) == 0 {
		return "component registry is invalid"
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Error())
	}
	return fmt.Sprintf("component registry is invalid (%d violations): %s",
		len(e.Violations), strings.Join(parts, "; "))
}

// Unwrap exposes every violation so errors.Is matches any violation kind.
func (e *ValidationError) Unwrap() []error {
	out := make([]error, 0, len(e.Violations))
	for _, v := range e.Violations {
		out = append(out, v)
	}
	return out
}
