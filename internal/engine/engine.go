package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"wavectl/internal/component"
	"wavectl/internal/executor"
	"wavectl/internal/health"
	"wavectl/internal/metrics"
	"wavectl/internal/notify"
	"wavectl/internal/recorder"
	"wavectl/internal/run"
	"wavectl/internal/scheduler"
	"wavectl/pkg/logging"
)

var tracer = otel.Tracer("wavectl/engine")

// Skip reasons for components that never started.
const (
	ReasonCancelled = "run cancelled"
	ReasonAborted   = "run aborted"
)

// DefaultMaxConcurrency caps how many components of one group run at once.
const DefaultMaxConcurrency = 8

// Prober is the health contract runner used during Verifying.
type Prober interface {
	Probe(ctx context.Context, c component.Component, deadline time.Time) health.Result
}

// PreflightCheck gates the start of every run.
type PreflightCheck struct {
	Name     string
	Health   component.HealthCheck
	Deadline time.Duration
}

// Config wires an Engine.
type Config struct {
	Catalog        *component.Catalog
	Recorder       recorder.Recorder
	Executor       executor.Executor
	Prober         Prober
	Policy         Policy
	MaxConcurrency int
	Preflight      []PreflightCheck
	Notifier       notify.Notifier
	Metrics        *metrics.Metrics
}

// Engine drives deployment runs: it plans, applies, verifies, records every
// transition and rolls back on request.
type Engine struct {
	catalog        *component.Catalog
	rec            recorder.Recorder
	exec           executor.Executor
	prober         Prober
	policy         Policy
	maxConcurrency int
	preflight      []PreflightCheck
	notifier       notify.Notifier
	metrics        *metrics.Metrics
	now            func() time.Time

	subMu       sync.RWMutex
	subscribers []chan Event
}

// New creates an engine. Catalog, Recorder, Executor and Prober are required.
func New(cfg Config) (*Engine, error) {
	switch {
	case cfg.Catalog == nil:
		return nil, errors.New("engine: catalog is required")
	case cfg.Recorder == nil:
		return nil, errors.New("engine: recorder is required")
	case cfg.Executor == nil:
		return nil, errors.New("engine: executor is required")
	case cfg.Prober == nil:
		return nil, errors.New("engine: prober is required")
	}
	maxConc := cfg.MaxConcurrency
	if maxConc <= 0 {
		maxConc = DefaultMaxConcurrency
	}
	n := cfg.Notifier
	if n == nil {
		n = notify.Log{}
	}
	return &Engine{
		catalog:        cfg.Catalog,
		rec:            cfg.Recorder,
		exec:           cfg.Executor,
		prober:         cfg.Prober,
		policy:         cfg.Policy.withDefaults(),
		maxConcurrency: maxConc,
		preflight:      cfg.Preflight,
		notifier:       n,
		metrics:        cfg.Metrics,
		now:            time.Now,
	}, nil
}

// Catalog returns the frozen component catalog.
func (e *Engine) Catalog() *component.Catalog { return e.catalog }

// Recorder returns the run recorder.
func (e *Engine) Recorder() recorder.Recorder { return e.rec }

// Plan expands stage (optionally narrowed to only) and schedules it.
func (e *Engine) Plan(stage string, only []string) (*scheduler.Plan, error) {
	if stage == "" {
		stage = component.StageAll
	}
	targets, err := e.catalog.StageTargets(stage, only)
	if err != nil {
		return nil, &scheduler.PlanningError{Msg: fmt.Sprintf("stage %q", stage), Err: err}
	}
	return scheduler.Build(e.catalog, targets)
}

// Prepare plans the run and records its header. Components that were
// already healthy before now are marked pre-existing. A dry run is recorded
// as Planned and needs no Execute.
func (e *Engine) Prepare(ctx context.Context, id, stage string, opts run.Options) (*run.DeploymentRun, *scheduler.Plan, error) {
	if stage == "" {
		stage = component.StageAll
	}
	plan, err := e.Plan(stage, opts.Components)
	if err != nil {
		return nil, nil, err
	}

	now := e.now()
	r := &run.DeploymentRun{
		ID:         id,
		Stage:      stage,
		Targets:    plan.Targets,
		Options:    opts,
		Status:     run.StatusRunning,
		Order:      plan.Order(),
		Components: make(map[string]*run.ComponentStatus, plan.Len()),
		StartedAt:  now,
	}
	for _, name := range r.Order {
		wave, _ := plan.WaveOf(name)
		cs := run.NewComponentStatus(name, wave)
		at, ok, err := e.rec.LatestHealthy(ctx, name)
		if err != nil {
			return nil, nil, err
		}
		cs.PreExisting = ok && at.Before(now)
		r.Components[name] = cs
	}
	if opts.DryRun {
		r.Status = run.StatusPlanned
		r.FinishedAt = run.Stamp(now)
	}

	if err := e.rec.CreateRun(ctx, r); err != nil {
		return nil, nil, err
	}
	logging.Info("Engine", "Run %s planned for stage %s: %s", id, stage, plan)
	if opts.DryRun {
		e.publish(Event{RunID: id, Status: run.StatusPlanned})
		e.notifyDone(ctx, r)
	}
	return r, plan, nil
}

// Run is Prepare followed by Execute.
func (e *Engine) Run(ctx context.Context, id, stage string, opts run.Options) (*run.DeploymentRun, error) {
	r, plan, err := e.Prepare(ctx, id, stage, opts)
	if err != nil {
		return nil, err
	}
	if opts.DryRun {
		return r, nil
	}
	return e.Execute(ctx, r, plan)
}

// runState is the engine's in-memory view of one run. mu serialises every
// recorder write for the run.
type runState struct {
	mu      sync.Mutex
	run     *run.DeploymentRun
	failed  bool
	failure string
	fatal   error
}

func (rs *runState) aborted() bool {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.fatal != nil || (rs.run.Options.FailFast && rs.failed)
}

// Execute drives a prepared run to a terminal status. The returned error is
// non-nil only for preflight and recorder failures; component failures are
// reported through the run status.
func (e *Engine) Execute(ctx context.Context, r *run.DeploymentRun, plan *scheduler.Plan) (*run.DeploymentRun, error) {
	if r.Status.Terminal() {
		return r, nil
	}
	rs := &runState{run: r.Clone()}

	ctx, span := tracer.Start(ctx, "run",
		trace.WithAttributes(
			attribute.String("run.id", r.ID),
			attribute.String("run.stage", r.Stage),
			attribute.Int("run.components", plan.Len()),
		))
	defer span.End()

	e.metrics.RunStarted()
	e.publish(Event{RunID: r.ID, Status: run.StatusRunning})

	if err := e.runPreflight(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return e.finish(ctx, rs, run.StatusFailed, err.Error()), err
	}

	for _, w := range plan.Waves {
		if ctx.Err() != nil || rs.aborted() {
			break
		}
		logging.Info("Engine", "Run %s: starting wave %d", r.ID, w.Number)
		for _, g := range w.Groups {
			if ctx.Err() != nil || rs.aborted() {
				break
			}
			if err := e.runGroup(ctx, rs, g); err != nil {
				break
			}
		}
	}

	status, msg := e.outcome(ctx, rs)
	if rs.fatal == nil {
		reason := ReasonAborted
		if status == run.StatusCancelled {
			reason = ReasonCancelled
		}
		e.skipRemaining(ctx, rs, reason)
	}
	if status != run.StatusSucceeded {
		span.SetStatus(codes.Error, msg)
	}
	final := e.finish(ctx, rs, status, msg)

	if rs.fatal != nil {
		return final, rs.fatal
	}
	if status == run.StatusFailed && r.Options.RollbackOnFailure {
		logging.Info("Engine", "Run %s failed; rolling back", r.ID)
		rb, err := e.PrepareRollback(ctx, r.ID)
		if err != nil {
			return final, err
		}
		return e.ExecuteRollback(ctx, rb)
	}
	return final, nil
}

func (e *Engine) runGroup(ctx context.Context, rs *runState, g scheduler.Group) error {
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(min(len(g.Components), e.maxConcurrency))
	for _, name := range g.Components {
		c, ok := e.catalog.Get(name)
		if !ok {
			return fmt.Errorf("component %s vanished from the catalog", name)
		}
		eg.Go(func() error {
			return e.reconcile(gctx, rs, c)
		})
	}
	return eg.Wait()
}

func (e *Engine) outcome(ctx context.Context, rs *runState) (run.Status, string) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	switch {
	case rs.fatal != nil:
		return run.StatusFailed, rs.fatal.Error()
	case ctx.Err() != nil:
		return run.StatusCancelled, ReasonCancelled
	case rs.failed:
		return run.StatusFailed, rs.failure
	default:
		return run.StatusSucceeded, ""
	}
}

// skipRemaining moves components that never started to Skipped.
func (e *Engine) skipRemaining(ctx context.Context, rs *runState, reason string) {
	for _, name := range rs.run.Order {
		err := e.recordFrom(ctx, rs, run.StatePending, run.Transition{
			Component: name,
			To:        run.StateSkipped,
			Detail:    run.DetailSkipPrefix + reason,
		})
		if err != nil {
			return
		}
	}
}

// finish records the terminal status and tells everyone about it.
func (e *Engine) finish(ctx context.Context, rs *runState, status run.Status, msg string) *run.DeploymentRun {
	ctx = context.WithoutCancel(ctx)
	at := e.now()
	if err := e.rec.FinishRun(ctx, rs.run.ID, status, msg, at); err != nil {
		logging.Error("Engine", err, "Failed to record final status of run %s", rs.run.ID)
	}

	rs.mu.Lock()
	rs.run.Status = status
	rs.run.Error = msg
	rs.run.FinishedAt = run.Stamp(at)
	final := rs.run.Clone()
	rs.mu.Unlock()

	e.metrics.RunFinished(final.Stage, string(status), at.Sub(final.StartedAt))
	e.publish(Event{RunID: final.ID, Status: status, Error: msg})
	switch {
	case status == run.StatusSucceeded:
		logging.Info("Engine", "Run %s succeeded", final.ID)
	case status == run.StatusRolledBack:
		logging.Info("Engine", "Run %s rolled back", final.ID)
	case msg == "":
		logging.Warn("Engine", "Run %s ended %s", final.ID, status)
	default:
		logging.Warn("Engine", "Run %s ended %s: %s", final.ID, status, msg)
	}
	e.notifyDone(ctx, final)
	return final
}

func (e *Engine) notifyDone(ctx context.Context, r *run.DeploymentRun) {
	if err := e.notifier.Notify(context.WithoutCancel(ctx), r); err != nil {
		logging.Warn("Engine", "Notification for run %s failed: %v", r.ID, err)
	}
}

func (e *Engine) record(ctx context.Context, rs *runState, t run.Transition) error {
	return e.recordFrom(ctx, rs, "", t)
}

// recordFrom validates t against the component's current state, persists it
// and folds it into the run. When from is set and the component is in a
// different state, nothing happens.
func (e *Engine) recordFrom(ctx context.Context, rs *runState, from run.ComponentState, t run.Transition) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.fatal != nil {
		return rs.fatal
	}

	cs, ok := rs.run.Components[t.Component]
	if !ok && from != "" {
		// Guarded transitions may name components outside this run's plan.
		return nil
	}
	if !ok {
		return fmt.Errorf("component %s is not part of run %s", t.Component, rs.run.ID)
	}
	if from != "" && cs.State != from {
		return nil
	}
	t.From = cs.State
	if err := run.ValidateTransition(t.From, t.To); err != nil {
		rs.fatal = fmt.Errorf("%s: %w", t.Component, err)
		return rs.fatal
	}

	stored, err := e.rec.Append(context.WithoutCancel(ctx), rs.run.ID, t)
	if err != nil {
		rs.fatal = err
		return err
	}
	rs.run.Apply(stored)
	e.metrics.Transition(stored.Component, string(stored.To))
	e.publish(Event{RunID: rs.run.ID, Transition: &stored})
	logging.Debug("Engine", "%s: %s -> %s (attempt %d)", stored.Component, stored.From, stored.To, stored.Attempt)
	return nil
}
