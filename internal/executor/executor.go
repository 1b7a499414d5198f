package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/time/rate"

	"wavectl/internal/component"
	"wavectl/pkg/logging"
)

// ApplyResult is the successful outcome of Apply.
type ApplyResult string

const (
	Applied        ApplyResult = "Applied"
	AlreadyApplied ApplyResult = "AlreadyApplied"
)

// TeardownResult is the successful outcome of Teardown.
type TeardownResult string

const (
	Removed    TeardownResult = "Removed"
	NotPresent TeardownResult = "NotPresent"
)

var (
	ErrUnsupportedAction = errors.New("unsupported action kind")
	ErrNoTeardown        = errors.New("component has no teardown action")
)

// ApplyError is the Failed outcome of Apply.
type ApplyError struct {
	Component string
	Err       error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply %s: %v", e.Component, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// TeardownError is the Failed outcome of Teardown.
type TeardownError struct {
	Component string
	Err       error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown %s: %v", e.Component, e.Err)
}

func (e *TeardownError) Unwrap() error { return e.Err }

// Executor performs a component's deploy or teardown against the system that
// owns it. Both operations are idempotent: applying something already in
// place reports AlreadyApplied, removing something absent reports NotPresent.
// A non-nil error is the Failed outcome.
type Executor interface {
	Apply(ctx context.Context, c component.Component) (ApplyResult, error)
	Teardown(ctx context.Context, c component.Component) (TeardownResult, error)
}

// Router dispatches to an Executor by action kind.
type Router struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRouter creates a router that handles noop actions out of the box.
func NewRouter() *Router {
	r := &Router{executors: make(map[string]Executor)}
	r.Register(component.ActionNoop, Noop{})
	return r
}

// Register binds kind to e, replacing any previous binding.
func (r *Router) Register(kind string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[kind] = e
}

// Kinds lists registered action kinds.
func (r *Router) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.executors))
	for k := range r.executors {
		out = append(out, k)
	}
	return out
}

func (r *Router) lookup(kind string) (Executor, bool) {
	if kind == "" {
		kind = component.ActionNoop
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[kind]
	return e, ok
}

// Apply implements Executor.
func (r *Router) Apply(ctx context.Context, c component.Component) (ApplyResult, error) {
	e, ok := r.lookup(c.Deploy.Kind)
	if !ok {
		return "", &ApplyError{Component: c.Name, Err: fmt.Errorf("%w: %q", ErrUnsupportedAction, c.Deploy.Kind)}
	}
	return e.Apply(ctx, c)
}

// Teardown implements Executor.
func (r *Router) Teardown(ctx context.Context, c component.Component) (TeardownResult, error) {
	kind := c.TeardownAction().Kind
	e, ok := r.lookup(kind)
	if !ok {
		return "", &TeardownError{Component: c.Name, Err: fmt.Errorf("%w: %q", ErrUnsupportedAction, kind)}
	}
	return e.Teardown(ctx, c)
}

// Noop handles components whose lifecycle is managed elsewhere; wavectl only
// verifies their health.
type Noop struct{}

// Apply implements Executor.
func (Noop) Apply(context.Context, component.Component) (ApplyResult, error) {
	return AlreadyApplied, nil
}

// Teardown implements Executor.
func (Noop) Teardown(context.Context, component.Component) (TeardownResult, error) {
	return NotPresent, nil
}

type throttled struct {
	next    Executor
	limiter *rate.Limiter
}

// Throttle makes every call to next wait on limiter first, so that a wave of
// concurrent components stays within the control plane's request budget.
func Throttle(next Executor, limiter *rate.Limiter) Executor {
	if limiter == nil {
		return next
	}
	return &throttled{next: next, limiter: limiter}
}

func (t *throttled) Apply(ctx context.Context, c component.Component) (ApplyResult, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", &ApplyError{Component: c.Name, Err: err}
	}
	logging.Debug("Executor", "Applying %s (%s)", c.Name, c.Deploy.Kind)
	return t.next.Apply(ctx, c)
}

func (t *throttled) Teardown(ctx context.Context, c component.Component) (TeardownResult, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return "", &TeardownError{Component: c.Name, Err: err}
	}
	logging.Debug("Executor", "Tearing down %s (%s)", c.Name, c.TeardownAction().Kind)
	return t.next.Teardown(ctx, c)
}
