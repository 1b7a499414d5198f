package api

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"wavectl/internal/component"
	"wavectl/internal/engine"
	"wavectl/internal/run"
	"wavectl/internal/scheduler"
	"wavectl/pkg/logging"
)

// Operator is the operator-facing run API. Service implements it in
// process; Client implements it against a remote `wavectl serve`.
type Operator interface {
	StartRun(ctx context.Context, stage string, opts run.Options) (string, error)
	GetRunStatus(ctx context.Context, runID string) (*run.DeploymentRun, error)
	CancelRun(ctx context.Context, runID string) error
	RollbackRun(ctx context.Context, runID string) error
	ResumeRun(ctx context.Context, runID string) error
	ListRuns(ctx context.Context, limit int) ([]run.Summary, error)
	Plan(ctx context.Context, stage string, components []string) (*scheduler.Plan, error)
	Wait(ctx context.Context, runID string) (*run.DeploymentRun, error)
}

type execution struct {
	runID  string
	cancel context.CancelFunc
	done   chan struct{}
}

// Service runs deployments in the background, one at a time, and answers
// status queries from the recorder.
type Service struct {
	engine *engine.Engine
	newID  func() string

	mu     sync.Mutex
	active *execution
	execs  map[string]*execution
}

// NewService creates a service driving e.
func NewService(e *engine.Engine) *Service {
	return &Service{
		engine: e,
		newID:  func() string { return uuid.NewString() },
		execs:  make(map[string]*execution),
	}
}

// Engine returns the underlying engine.
func (s *Service) Engine() *engine.Engine { return s.engine }

// Components lists the catalog in registration order.
func (s *Service) Components() []component.Component {
	return s.engine.Catalog().All()
}

// ComponentInfos lists the catalog in its wire form.
func (s *Service) ComponentInfos() []ComponentInfo {
	comps := s.Components()
	out := make([]ComponentInfo, 0, len(comps))
	for _, comp := range comps {
		out = append(out, componentInfo(comp))
	}
	return out
}

// StartRun plans and records a run, then executes it in the background.
// Planning errors are returned synchronously. Dry runs complete before
// StartRun returns.
func (s *Service) StartRun(ctx context.Context, stage string, opts run.Options) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return "", fmt.Errorf("%w: %s", ErrRunInProgress, s.active.runID)
	}

	id := s.newID()
	r, plan, err := s.engine.Prepare(ctx, id, stage, opts)
	if err != nil {
		return "", err
	}
	if opts.DryRun {
		return id, nil
	}
	s.launch(id, func(ctx context.Context) (*run.DeploymentRun, error) {
		return s.engine.Execute(ctx, r, plan)
	})
	return id, nil
}

// GetRunStatus returns the full per-component breakdown of a run.
func (s *Service) GetRunStatus(ctx context.Context, runID string) (*run.DeploymentRun, error) {
	return s.engine.Recorder().Load(ctx, runID)
}

// CancelRun stops an executing run or rollback. Components in flight end
// Failed, components not yet started end Skipped.
func (s *Service) CancelRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	exec := s.active
	s.mu.Unlock()
	if exec != nil && exec.runID == runID {
		logging.Info("API", "Cancelling run %s", runID)
		exec.cancel()
		return nil
	}
	if _, err := s.GetRunStatus(ctx, runID); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrRunNotActive, runID)
}

// RollbackRun tears down, in the background, what the run brought up.
func (s *Service) RollbackRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return fmt.Errorf("%w: %s", ErrRunInProgress, s.active.runID)
	}
	r, err := s.engine.PrepareRollback(ctx, runID)
	if err != nil {
		return err
	}
	s.launch(runID, func(ctx context.Context) (*run.DeploymentRun, error) {
		return s.engine.ExecuteRollback(ctx, r)
	})
	return nil
}

// ResumeRun continues a failed, cancelled or interrupted run in the
// background.
func (s *Service) ResumeRun(ctx context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return fmt.Errorf("%w: %s", ErrRunInProgress, s.active.runID)
	}
	r, plan, err := s.engine.PrepareResume(ctx, runID)
	if err != nil {
		return err
	}
	s.launch(runID, func(ctx context.Context) (*run.DeploymentRun, error) {
		return s.engine.Execute(ctx, r, plan)
	})
	return nil
}

// ListRuns returns the most recent runs first.
func (s *Service) ListRuns(ctx context.Context, limit int) ([]run.Summary, error) {
	return s.engine.Recorder().ListRuns(ctx, limit)
}

// Plan previews the execution layout of a stage.
func (s *Service) Plan(_ context.Context, stage string, components []string) (*scheduler.Plan, error) {
	return s.engine.Plan(stage, components)
}

// Wait blocks until the run's current execution ends, then returns its
// recorded state.
func (s *Service) Wait(ctx context.Context, runID string) (*run.DeploymentRun, error) {
	s.mu.Lock()
	exec := s.execs[runID]
	s.mu.Unlock()
	if exec != nil {
		select {
		case <-exec.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.GetRunStatus(ctx, runID)
}

// Shutdown cancels the active execution and waits for it to record its
// final state.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	exec := s.active
	s.mu.Unlock()
	if exec == nil {
		return nil
	}
	exec.cancel()
	select {
	case <-exec.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// launch must be called with s.mu held.
func (s *Service) launch(runID string, fn func(context.Context) (*run.DeploymentRun, error)) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &execution{runID: runID, cancel: cancel, done: make(chan struct{})}
	s.active = exec
	s.execs[runID] = exec

	go func() {
		defer cancel()
		r, err := fn(ctx)
		if err != nil {
			logging.Error("API", err, "Run %s aborted", runID)
		} else {
			logging.Info("API", "Run %s finished: %s", runID, r.Status)
		}
		s.mu.Lock()
		if s.active == exec {
			s.active = nil
		}
		if s.execs[runID] == exec {
			delete(s.execs, runID)
		}
		s.mu.Unlock()
		close(exec.done)
	}()
}
