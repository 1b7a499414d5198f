package api

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"wavectl/internal/component"
	"wavectl/internal/engine"
	"wavectl/internal/executor"
	"wavectl/internal/health"
	"wavectl/internal/recorder"
)

// gateExecutor holds components listed in gated until release is closed
// or the run is cancelled.
type gateExecutor struct {
	mu      sync.Mutex
	gated   map[string]bool
	release chan struct{}
	started chan string
}

func (g *gateExecutor) Apply(ctx context.Context, c component.Component) (executor.ApplyResult, error) {
	g.mu.Lock()
	gated := g.gated[c.Name]
	g.mu.Unlock()
	if gated {
		g.started <- c.Name
		select {
		case <-g.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return executor.Applied, nil
}

func (g *gateExecutor) Teardown(context.Context, component.Component) (executor.TeardownResult, error) {
	return executor.Removed, nil
}

type healthyProber struct{}

func (healthyProber) Probe(context.Context, component.Component, time.Time) health.Result {
	return health.Result{Status: health.StatusHealthy, Checks: 1, Consecutive: 1}
}

type apiFixture struct {
	svc  *Service
	exec *gateExecutor
	rec  *recorder.Memory
}

// newAPIFixture registers db (wave 0) and app (wave 1, needs db) with a
// "data" stage covering wave 0. Components named in gated block in Apply.
func newAPIFixture(t *testing.T, gated ...string) *apiFixture {
	t.Helper()
	reg := component.NewRegistry()
	require.NoError(t, reg.Register(component.Component{Name: "db", Wave: 0}))
	require.NoError(t, reg.Register(component.Component{Name: "app", Wave: 1, DependsOn: []string{"db"}}))
	require.NoError(t, reg.AddStage(component.Stage{Name: "data", Waves: []int{0}}))
	cat, err := reg.Freeze()
	require.NoError(t, err)

	ex := &gateExecutor{
		gated:   map[string]bool{},
		release: make(chan struct{}),
		started: make(chan string, 4),
	}
	for _, name := range gated {
		ex.gated[name] = true
	}
	rec := recorder.NewMemory()
	e, err := engine.New(engine.Config{
		Catalog:  cat,
		Recorder: rec,
		Executor: ex,
		Prober:   healthyProber{},
		Policy: engine.Policy{
			Apply:  engine.ApplyPolicy{Attempts: 1, Backoff: engine.Backoff{Initial: time.Millisecond, Factor: 2, Max: time.Millisecond}},
			Verify: engine.VerifyPolicy{Deadline: time.Second, Cycles: 1, UnhealthyBackoff: time.Millisecond},
		},
	})
	require.NoError(t, err)

	svc := NewService(e)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(ctx)
	})
	return &apiFixture{svc: svc, exec: ex, rec: rec}
}

func (f *apiFixture) waitStarted(t *testing.T, name string) {
	t.Helper()
	select {
	case got := <-f.exec.started:
		require.Equal(t, name, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("%s never started", name)
	}
}

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
