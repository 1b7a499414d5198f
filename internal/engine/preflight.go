package engine

import (
	"context"
	"fmt"
	"time"

	"wavectl/internal/component"
	"wavectl/internal/health"
	"wavectl/pkg/logging"
)

const defaultPreflightDeadline = 30 * time.Second

func (e *Engine) runPreflight(ctx context.Context) error {
	if len(e.preflight) == 0 {
		return nil
	}
	failures := map[string]error{}
	for _, chk := range e.preflight {
		deadline := chk.Deadline
		if deadline <= 0 {
			deadline = defaultPreflightDeadline
		}
		res := e.prober.Probe(ctx, component.Component{Name: "preflight-" + chk.Name, Health: chk.Health}, e.now().Add(deadline))
		if res.Status == health.StatusHealthy {
			logging.Debug("Engine", "Preflight %s passed", chk.Name)
			continue
		}
		cause := res.Err
		if cause == nil {
			cause = fmt.Errorf("%s", res.Status)
		}
		failures[chk.Name] = fmt.Errorf("%s: %w", chk.Name, cause)
		logging.Warn("Engine", "Preflight %s failed: %v", chk.Name, cause)
	}
	if len(failures) > 0 {
		return &PreflightError{Failures: failures}
	}
	return nil
}
