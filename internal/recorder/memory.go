package recorder

import (
	"context"
	"sort"
	"sync"
	"time"

	"wavectl/internal/run"
)

type memRun struct {
	header      *run.DeploymentRun
	transitions []run.Transition
}

// Memory keeps runs in process memory. Used by tests and by `--dry-run`
// invocations that should leave no trace.
type Memory struct {
	mu      sync.Mutex
	runs    map[string]*memRun
	healthy map[string]time.Time
	now     func() time.Time
}

// NewMemory creates an empty in-memory recorder.
func NewMemory() *Memory {
	return &Memory{
		runs:    make(map[string]*memRun),
		healthy: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (m *Memory) CreateRun(_ context.Context, r *run.DeploymentRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = &memRun{header: r.Clone()}
	return nil
}

func (m *Memory) Append(_ context.Context, runID string, t run.Transition) (run.Transition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.runs[runID]
	if !ok {
		return t, ErrRunNotFound
	}
	t.RunID = runID
	t.Seq = int64(len(mr.transitions) + 1)
	if t.At.IsZero() {
		t.At = m.now()
	}
	mr.transitions = append(mr.transitions, t)

	switch t.To {
	case run.StateHealthy:
		m.healthy[t.Component] = t.At
	case run.StateRolledBack:
		delete(m.healthy, t.Component)
	}
	return t, nil
}

func (m *Memory) SetStatus(_ context.Context, runID string, status run.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	mr.header.Status = status
	if !status.Terminal() {
		mr.header.FinishedAt = nil
		mr.header.Error = ""
	}
	return nil
}

func (m *Memory) FinishRun(_ context.Context, runID string, status run.Status, runErr string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.runs[runID]
	if !ok {
		return ErrRunNotFound
	}
	mr.header.Status = status
	mr.header.Error = runErr
	mr.header.FinishedAt = run.Stamp(at)
	return nil
}

func (m *Memory) Load(_ context.Context, runID string) (*run.DeploymentRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.runs[runID]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run.Replay(mr.header, mr.transitions), nil
}

func (m *Memory) LatestHealthy(_ context.Context, component string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	at, ok := m.healthy[component]
	return at, ok, nil
}

func (m *Memory) ListRuns(_ context.Context, limit int) ([]run.Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]run.Summary, 0, len(m.runs))
	for _, mr := range m.runs {
		out = append(out, mr.header.Summary())
	}
	sortSummaries(out)
	return truncate(out, limit), nil
}

func (m *Memory) Close() error { return nil }

func sortSummaries(s []run.Summary) {
	sort.SliceStable(s, func(i, j int) bool {
		if !s[i].StartedAt.Equal(s[j].StartedAt) {
			return s[i].StartedAt.After(s[j].StartedAt)
		}
		return s[i].ID > s[j].ID
	})
}

func truncate(s []run.Summary, limit int) []run.Summary {
	if limit > 0 && len(s) > limit {
		return s[:limit]
	}
	return s
}
