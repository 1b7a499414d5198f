package engine

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"wavectl/internal/run"
	"wavectl/pkg/logging"
)

// Rollback tears down what the run brought up. See PrepareRollback and
// ExecuteRollback.
func (e *Engine) Rollback(ctx context.Context, runID string) (*run.DeploymentRun, error) {
	r, err := e.PrepareRollback(ctx, runID)
	if err != nil {
		return nil, err
	}
	return e.ExecuteRollback(ctx, r)
}

// PrepareRollback checks that the run is finished and marks it RollingBack.
func (e *Engine) PrepareRollback(ctx context.Context, runID string) (*run.DeploymentRun, error) {
	r, err := e.rec.Load(ctx, runID)
	if err != nil {
		return nil, err
	}
	switch r.Status {
	case run.StatusSucceeded, run.StatusFailed, run.StatusCancelled:
	default:
		return nil, fmt.Errorf("%w: run %s is %s", ErrNotRollbackable, runID, r.Status)
	}
	if err := e.rec.SetStatus(ctx, runID, run.StatusRollingBack); err != nil {
		return nil, err
	}
	r.Status = run.StatusRollingBack
	r.Error = ""
	r.FinishedAt = nil
	e.metrics.RunStarted()
	e.publish(Event{RunID: runID, Status: run.StatusRollingBack})
	return r, nil
}

// rollbackTargets lists, in reverse plan order, the components that became
// healthy in this run. Pre-existing components are never included.
func rollbackTargets(r *run.DeploymentRun) []string {
	var out []string
	for i := len(r.Order) - 1; i >= 0; i-- {
		cs := r.Components[r.Order[i]]
		if cs == nil || cs.PreExisting {
			continue
		}
		if cs.State == run.StateHealthy || cs.State == run.StateRollbackFailed {
			out = append(out, cs.Name)
		}
	}
	return out
}

// ExecuteRollback tears components down one at a time, strictly in reverse
// wave order, and records each outcome. The run ends RolledBack when every
// teardown succeeded and Failed otherwise.
func (e *Engine) ExecuteRollback(ctx context.Context, r *run.DeploymentRun) (*run.DeploymentRun, error) {
	rs := &runState{run: r.Clone()}
	targets := rollbackTargets(r)

	ctx, span := tracer.Start(ctx, "rollback",
		trace.WithAttributes(
			attribute.String("run.id", r.ID),
			attribute.StringSlice("rollback.targets", targets),
		))
	defer span.End()
	logging.Info("Engine", "Rolling back run %s: %s", r.ID, strings.Join(targets, ", "))

	var failed []string
	for i, name := range targets {
		if ctx.Err() != nil {
			failed = append(failed, targets[i:]...)
			break
		}
		ok, err := e.teardown(ctx, rs, name)
		if err != nil {
			span.RecordError(err)
			return e.finish(ctx, rs, run.StatusFailed, err.Error()), err
		}
		if !ok {
			failed = append(failed, name)
		}
	}

	if len(failed) > 0 {
		msg := "rollback incomplete: " + strings.Join(failed, ", ")
		span.SetStatus(codes.Error, msg)
		return e.finish(ctx, rs, run.StatusFailed, msg), nil
	}
	return e.finish(ctx, rs, run.StatusRolledBack, ""), nil
}

// teardown retries like apply does. It returns false when the component
// ended RollbackFailed.
func (e *Engine) teardown(ctx context.Context, rs *runState, name string) (bool, error) {
	c, ok := e.catalog.Get(name)
	if !ok {
		return false, e.record(ctx, rs, run.Transition{
			Component: name,
			To:        run.StateRollbackFailed,
			Error:     "component no longer defined",
		})
	}

	ctx, span := tracer.Start(ctx, "teardown "+name)
	defer span.End()

	policy := e.policy.forComponent(c).Apply
	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		res, err := e.exec.Teardown(ctx, c)
		if err == nil {
			logging.Info("Engine", "Rolled back %s (%s)", name, res)
			return true, e.record(ctx, rs, run.Transition{
				Component: name,
				To:        run.StateRolledBack,
				Attempt:   attempt,
				Detail:    string(res),
			})
		}
		lastErr = err
		if ctx.Err() != nil || attempt == policy.Attempts {
			break
		}
		delay := policy.Backoff.Delay(attempt)
		logging.Warn("Engine", "Teardown of %s failed (attempt %d/%d), retrying in %s: %v",
			name, attempt, policy.Attempts, delay, err)
		if sleep(ctx, delay) != nil {
			break
		}
	}

	span.SetStatus(codes.Error, lastErr.Error())
	logging.Error("Engine", lastErr, "Rollback of %s failed", name)
	return false, e.record(ctx, rs, run.Transition{
		Component: name,
		To:        run.StateRollbackFailed,
		Error:     lastErr.Error(),
	})
}
