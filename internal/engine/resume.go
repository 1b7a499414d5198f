package engine

import (
	"context"
	"fmt"

	"wavectl/internal/run"
	"wavectl/internal/scheduler"
	"wavectl/pkg/logging"
)

// Resume continues an interrupted or failed run under the same ID.
func (e *Engine) Resume(ctx context.Context, runID string) (*run.DeploymentRun, error) {
	r, plan, err := e.PrepareResume(ctx, runID)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, r, plan)
}

// PrepareResume re-plans the run from its recorded targets and moves every
// component that is not Healthy back to Pending. Runs left Running by a
// crashed process, and Failed or Cancelled runs, may be resumed.
func (e *Engine) PrepareResume(ctx context.Context, runID string) (*run.DeploymentRun, *scheduler.Plan, error) {
	r, err := e.rec.Load(ctx, runID)
	if err != nil {
		return nil, nil, err
	}
	switch r.Status {
	case run.StatusRunning, run.StatusFailed, run.StatusCancelled:
	default:
		return nil, nil, fmt.Errorf("%w: run %s is %s", ErrNotResumable, runID, r.Status)
	}

	plan, err := scheduler.Build(e.catalog, r.Targets)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range plan.Order() {
		if _, ok := r.Components[name]; !ok {
			return nil, nil, fmt.Errorf("%w: component %s was added to the plan after run %s started", ErrNotResumable, name, runID)
		}
	}

	if err := e.rec.SetStatus(ctx, runID, run.StatusRunning); err != nil {
		return nil, nil, err
	}
	r.Status = run.StatusRunning
	r.Error = ""
	r.FinishedAt = nil

	reset := 0
	for _, name := range r.Order {
		cs := r.Components[name]
		if run.ValidateTransition(cs.State, run.StatePending) != nil {
			continue
		}
		stored, err := e.rec.Append(ctx, runID, run.Transition{
			Component: name,
			From:      cs.State,
			To:        run.StatePending,
			Detail:    run.DetailResumed,
		})
		if err != nil {
			return nil, nil, err
		}
		r.Apply(stored)
		reset++
	}
	logging.Info("Engine", "Resuming run %s: %d component(s) back to Pending", runID, reset)
	return r, plan, nil
}
