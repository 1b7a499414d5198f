package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wavectl/internal/component"
	"wavectl/pkg/logging"
)

// Status is the classified outcome of a probe.
type Status string

const (
	StatusHealthy   Status = "Healthy"
	StatusUnhealthy Status = "Unhealthy"
	// StatusTimeout means the target could not be reached at all, as opposed
	// to responding with a failing status.
	StatusTimeout Status = "Timeout"
)

// ErrUnreachable is wrapped by checkers that could not reach their target.
var ErrUnreachable = errors.New("target unreachable")

// Unreachable wraps err so that it classifies as StatusTimeout.
func Unreachable(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnreachable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrUnreachable, err)
}

// IsUnreachable reports whether a check error means "no response".
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable) || errors.Is(err, context.DeadlineExceeded)
}

// Checker performs a single health check.
type Checker interface {
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) error

// Check implements Checker.
func (f CheckerFunc) Check(ctx context.Context) error { return f(ctx) }

// Factory builds the checker for a component's health contract.
type Factory interface {
	For(hc component.HealthCheck) (Checker, error)
}

// Result is what Probe reports back to the engine.
type Result struct {
	Status      Status
	Checks      int
	Consecutive int
	// Err is the last check error; nil when Healthy.
	Err error
}

// Default polling parameters used when a health contract leaves them unset.
const (
	DefaultInterval         = 5 * time.Second
	DefaultCheckTimeout     = 10 * time.Second
	DefaultSuccessThreshold = 1
)

// Prober runs health contracts.
type Prober struct {
	factory Factory
}

// NewProber creates a prober backed by factory.
func NewProber(factory Factory) *Prober {
	return &Prober{factory: factory}
}

// Probe polls the component's check every interval until SuccessThreshold
// consecutive checks pass (Healthy) or the deadline passes. At the deadline,
// a target that answered on the last check is Unhealthy; one that did not
// answer is Timeout. Cancelling ctx ends the probe with ctx's error.
func (p *Prober) Probe(ctx context.Context, c component.Component, deadline time.Time) Result {
	subsystem := "Probe-" + c.Name
	hc := c.Health

	checker, err := p.factory.For(hc)
	if err != nil {
		return Result{Status: StatusUnhealthy, Err: fmt.Errorf("building %q check: %w", hc.Kind, err)}
	}

	interval := hc.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	timeout := hc.Timeout
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	threshold := hc.SuccessThreshold
	if threshold <= 0 {
		threshold = DefaultSuccessThreshold
	}

	probeCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var res Result
	answered := false
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-probeCtx.Done():
			return finish(ctx, res, answered, subsystem)
		case <-timer.C:
		}

		checkCtx, checkCancel := context.WithTimeout(probeCtx, timeout)
		err := checker.Check(checkCtx)
		checkCancel()
		res.Checks++

		if err == nil {
			res.Consecutive++
			res.Err = nil
			answered = true
			logging.Debug(subsystem, "Check passed (%d/%d)", res.Consecutive, threshold)
			if res.Consecutive >= threshold {
				res.Status = StatusHealthy
				return res
			}
		} else {
			res.Consecutive = 0
			res.Err = err
			answered = !IsUnreachable(err)
			logging.Debug(subsystem, "Check failed (answered=%t): %v", answered, err)
		}

		timer.Reset(interval)
	}
}

func finish(parent context.Context, res Result, answered bool, subsystem string) Result {
	if err := parent.Err(); err != nil {
		res.Status = StatusTimeout
		res.Err = err
		return res
	}
	if answered {
		res.Status = StatusUnhealthy
		if res.Err == nil {
			res.Err = fmt.Errorf("success threshold not reached (%d consecutive)", res.Consecutive)
		}
	} else {
		res.Status = StatusTimeout
		if res.Err == nil {
			res.Err = Unreachable(context.DeadlineExceeded)
		}
	}
	logging.Debug(subsystem, "Probe deadline reached after %d checks: %s", res.Checks, res.Status)
	return res
}
