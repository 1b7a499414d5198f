package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"wavectl/internal/component"
	"wavectl/internal/executor"
	"wavectl/internal/health"
	"wavectl/internal/run"
	"wavectl/pkg/logging"
)

// readiness decides whether c may start. It returns done when c is no longer
// Pending, and a non-empty blocker naming the dependency that prevents it.
func (rs *runState) readiness(c component.Component) (done bool, blocker string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	cs := rs.run.Components[c.Name]
	if cs == nil || cs.State != run.StatePending {
		return true, ""
	}
	for _, dep := range c.DependsOn {
		ds, ok := rs.run.Components[dep]
		if !ok {
			continue
		}
		switch ds.State {
		case run.StateHealthy:
		case run.StateSkipped:
			if _, isComponent := rs.run.Components[ds.SkipReason]; isComponent {
				return false, ds.SkipReason
			}
			return false, dep
		default:
			return false, dep
		}
	}
	return false, ""
}

func (rs *runState) markFailed(c component.Component, cause error) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if c.Optional {
		return
	}
	if !rs.failed {
		rs.failure = fmt.Sprintf("component %s failed: %v", c.Name, cause)
	}
	rs.failed = true
}

// reconcile drives one component from Pending to a terminal state. Only
// recorder failures are returned; component failures are recorded.
func (e *Engine) reconcile(ctx context.Context, rs *runState, c component.Component) error {
	if ctx.Err() != nil {
		return nil
	}
	done, blocker := rs.readiness(c)
	if done {
		return nil
	}
	if blocker != "" {
		logging.Info("Engine", "Skipping %s: dependency %s is not healthy", c.Name, blocker)
		return e.recordFrom(ctx, rs, run.StatePending, run.Transition{
			Component: c.Name,
			To:        run.StateSkipped,
			Detail:    run.DetailSkipPrefix + blocker,
		})
	}

	ctx, span := tracer.Start(ctx, "component "+c.Name,
		trace.WithAttributes(
			attribute.String("component.name", c.Name),
			attribute.Int("component.wave", c.Wave),
			attribute.Bool("component.optional", c.Optional),
		))
	defer span.End()

	attempt, err := e.applyPhase(ctx, rs, c)
	if err != nil || attempt == 0 {
		span.SetStatus(codes.Error, "apply failed")
		return err
	}
	healthy, err := e.verifyPhase(ctx, rs, c, attempt)
	if err != nil {
		return err
	}
	if !healthy {
		span.SetStatus(codes.Error, "verification failed")
	}
	return nil
}

// applyPhase returns the attempt that succeeded, or 0 when the component
// ended Failed.
func (e *Engine) applyPhase(ctx context.Context, rs *runState, c component.Component) (int, error) {
	policy := e.policy.forComponent(c).Apply
	attempt := 1
	if err := e.record(ctx, rs, run.Transition{Component: c.Name, To: run.StateApplying, Attempt: attempt}); err != nil {
		return 0, err
	}
	logging.Info("Engine", "Applying %s", c.Name)

	for {
		start := e.now()
		res, err := e.exec.Apply(ctx, c)
		if err == nil {
			e.metrics.ApplyDone(c.Name, string(res), e.now().Sub(start))
			detail := run.DetailApplied
			if res == executor.AlreadyApplied {
				detail = run.DetailAlreadyApplied
			}
			return attempt, e.record(ctx, rs, run.Transition{
				Component: c.Name,
				To:        run.StateVerifying,
				Attempt:   attempt,
				Detail:    detail,
			})
		}
		e.metrics.ApplyDone(c.Name, "Failed", e.now().Sub(start))

		if ctx.Err() != nil {
			return 0, e.fail(ctx, rs, c, attempt, fmt.Errorf("apply interrupted: %w", ctx.Err()))
		}
		if attempt >= policy.Attempts {
			return 0, e.fail(ctx, rs, c, attempt, fmt.Errorf("retry budget exhausted after %d attempts: %w", attempt, err))
		}

		delay := policy.Backoff.Delay(attempt)
		logging.Warn("Engine", "Apply of %s failed (attempt %d/%d), retrying in %s: %v",
			c.Name, attempt, policy.Attempts, delay, err)
		if serr := sleep(ctx, delay); serr != nil {
			return 0, e.fail(ctx, rs, c, attempt, fmt.Errorf("apply interrupted: %w", serr))
		}

		attempt++
		if rerr := e.record(ctx, rs, run.Transition{
			Component: c.Name,
			To:        run.StateApplying,
			Attempt:   attempt,
			Error:     err.Error(),
		}); rerr != nil {
			return 0, rerr
		}
	}
}

// verifyPhase probes until Healthy or the cycle budget is spent.
func (e *Engine) verifyPhase(ctx context.Context, rs *runState, c component.Component, attempt int) (bool, error) {
	policy := e.policy.forComponent(c).Verify
	timeouts := 0
	for cycle := 1; ; cycle++ {
		res := e.prober.Probe(ctx, c, e.now().Add(policy.Deadline))
		if res.Status == health.StatusHealthy {
			e.metrics.ProbeSettled(c.Name, cycle)
			logging.Info("Engine", "%s is healthy", c.Name)
			return true, e.record(ctx, rs, run.Transition{Component: c.Name, To: run.StateHealthy, Attempt: attempt})
		}

		var (
			herr  error
			delay time.Duration
		)
		if res.Status == health.StatusTimeout {
			timeouts++
			herr = &HealthTimeoutError{Component: c.Name, Cycle: cycle, Err: res.Err}
			delay = policy.TimeoutBackoff.Delay(timeouts)
		} else {
			herr = &HealthUnhealthyError{Component: c.Name, Cycle: cycle, Err: res.Err}
			delay = policy.UnhealthyBackoff
		}

		if ctx.Err() != nil {
			return false, e.fail(ctx, rs, c, attempt, fmt.Errorf("verification interrupted: %w", ctx.Err()))
		}
		if cycle >= policy.Cycles {
			e.metrics.ProbeSettled(c.Name, cycle)
			return false, e.fail(ctx, rs, c, attempt, herr)
		}

		logging.Warn("Engine", "%v; re-probing in %s", herr, delay)
		if err := e.record(ctx, rs, run.Transition{
			Component: c.Name,
			To:        run.StateVerifying,
			Attempt:   attempt,
			Error:     herr.Error(),
		}); err != nil {
			return false, err
		}
		if err := sleep(ctx, delay); err != nil {
			return false, e.fail(ctx, rs, c, attempt, fmt.Errorf("verification interrupted: %w", err))
		}
	}
}

// fail records the terminal failure and skips every dependent that has not
// started.
func (e *Engine) fail(ctx context.Context, rs *runState, c component.Component, attempt int, cause error) error {
	if err := e.record(ctx, rs, run.Transition{
		Component: c.Name,
		To:        run.StateFailed,
		Attempt:   attempt,
		Error:     cause.Error(),
	}); err != nil {
		return err
	}
	logging.Error("Engine", cause, "Component %s failed", c.Name)
	rs.markFailed(c, cause)

	for _, dep := range e.catalog.Dependents(c.Name) {
		if err := e.recordFrom(ctx, rs, run.StatePending, run.Transition{
			Component: dep,
			To:        run.StateSkipped,
			Detail:    run.DetailSkipPrefix + c.Name,
		}); err != nil {
			return err
		}
	}
	return nil
}
