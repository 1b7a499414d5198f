package engine

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavectl/internal/component"
	"wavectl/internal/executor"
	"wavectl/internal/health"
	"wavectl/internal/recorder"
	"wavectl/internal/run"
	"wavectl/pkg/logging"
)

type fakeExecutor struct {
	mu          sync.Mutex
	script      map[string][]error
	already     map[string]bool
	block       map[string]bool
	teardownErr map[string]error
	started     chan string

	applies   map[string]int
	teardowns []string
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		script:      map[string][]error{},
		already:     map[string]bool{},
		block:       map[string]bool{},
		teardownErr: map[string]error{},
		started:     make(chan string, 8),
		applies:     map[string]int{},
	}
}

func (f *fakeExecutor) Apply(ctx context.Context, c component.Component) (executor.ApplyResult, error) {
	f.mu.Lock()
	n := f.applies[c.Name]
	f.applies[c.Name]++
	script := f.script[c.Name]
	blocking := f.block[c.Name]
	already := f.already[c.Name]
	f.mu.Unlock()

	if blocking {
		f.started <- c.Name
		<-ctx.Done()
		return "", ctx.Err()
	}
	if len(script) > 0 {
		if err := script[min(n, len(script)-1)]; err != nil {
			return "", err
		}
	}
	if already {
		return executor.AlreadyApplied, nil
	}
	return executor.Applied, nil
}

func (f *fakeExecutor) Teardown(_ context.Context, c component.Component) (executor.TeardownResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.teardowns = append(f.teardowns, c.Name)
	if err := f.teardownErr[c.Name]; err != nil {
		return "", err
	}
	return executor.Removed, nil
}

func (f *fakeExecutor) appliesOf(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applies[name]
}

func (f *fakeExecutor) tornDown() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.teardowns...)
}

// fakeProber answers Healthy unless a status is scripted for the component;
// the last scripted status repeats.
type fakeProber struct {
	mu     sync.Mutex
	script map[string][]health.Status
	calls  map[string]int
}

func newFakeProber() *fakeProber {
	return &fakeProber{script: map[string][]health.Status{}, calls: map[string]int{}}
}

func (p *fakeProber) Probe(_ context.Context, c component.Component, _ time.Time) health.Result {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := p.calls[c.Name]
	p.calls[c.Name]++
	script := p.script[c.Name]
	if len(script) == 0 {
		return health.Result{Status: health.StatusHealthy, Checks: 1, Consecutive: 1}
	}
	st := script[min(n, len(script)-1)]
	if st == health.StatusHealthy {
		return health.Result{Status: st, Checks: 1, Consecutive: 1}
	}
	return health.Result{Status: st, Checks: 1, Err: errors.New("probe says " + string(st))}
}

type recordingNotifier struct {
	mu   sync.Mutex
	seen []run.Status
}

func (n *recordingNotifier) Notify(_ context.Context, r *run.DeploymentRun) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, r.Status)
	return nil
}

func fastPolicy() Policy {
	return Policy{
		Apply: ApplyPolicy{
			Attempts: 3,
			Backoff:  Backoff{Initial: time.Millisecond, Factor: 2, Max: 5 * time.Millisecond},
		},
		Verify: VerifyPolicy{
			Deadline:         50 * time.Millisecond,
			Cycles:           3,
			UnhealthyBackoff: time.Millisecond,
			TimeoutBackoff:   Backoff{Initial: time.Millisecond, Factor: 2, Max: 5 * time.Millisecond},
		},
	}
}

// abc is the registry used throughout: A (wave 0), B (wave 1, needs A) and
// the optional, independent C (wave 1).
func abc() []component.Component {
	return []component.Component{
		{Name: "A", Wave: 0},
		{Name: "B", Wave: 1, DependsOn: []string{"A"}},
		{Name: "C", Wave: 1, Optional: true},
	}
}

type fixture struct {
	engine   *Engine
	exec     *fakeExecutor
	prober   *fakeProber
	rec      *recorder.Memory
	notifier *recordingNotifier
}

func newFixture(t *testing.T, comps []component.Component, mutate ...func(*Config)) *fixture {
	t.Helper()
	reg := component.NewRegistry()
	for _, c := range comps {
		require.NoError(t, reg.Register(c))
	}
	cat, err := reg.Freeze()
	require.NoError(t, err)

	f := &fixture{
		exec:     newFakeExecutor(),
		prober:   newFakeProber(),
		rec:      recorder.NewMemory(),
		notifier: &recordingNotifier{},
	}
	cfg := Config{
		Catalog:  cat,
		Recorder: f.rec,
		Executor: f.exec,
		Prober:   f.prober,
		Policy:   fastPolicy(),
		Notifier: f.notifier,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.engine, err = New(cfg)
	require.NoError(t, err)
	return f
}

func states(r *run.DeploymentRun) map[string]run.ComponentState {
	out := map[string]run.ComponentState{}
	for name, cs := range r.Components {
		out[name] = cs.State
	}
	return out
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestRun_MandatoryFailureDoesNotStopIndependentComponents(t *testing.T) {
	f := newFixture(t, abc())
	f.prober.script["A"] = []health.Status{health.StatusTimeout}

	r, err := f.engine.Run(context.Background(), "r1", "", run.Options{})
	require.NoError(t, err)

	assert.Equal(t, run.StatusFailed, r.Status)
	assert.Equal(t, map[string]run.ComponentState{
		"A": run.StateFailed,
		"B": run.StateSkipped,
		"C": run.StateHealthy,
	}, states(r))
	assert.Equal(t, "A", r.Components["B"].SkipReason)
	assert.Contains(t, r.Components["A"].LastError, "unknown after probe cycle 3")
	assert.Equal(t, 3, f.prober.calls["A"])
	assert.Zero(t, f.exec.appliesOf("B"))
	assert.Contains(t, r.Error, "component A failed")

	loaded, err := f.rec.Load(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, states(r), states(loaded))
	assert.Equal(t, run.StatusFailed, loaded.Status)
	assert.Equal(t, []run.Status{run.StatusFailed}, f.notifier.seen)
}

func TestRun_TransientApplyFailuresWithinBudget(t *testing.T) {
	f := newFixture(t, abc())
	f.exec.script["B"] = []error{errors.New("conflict"), errors.New("conflict"), nil}

	r, err := f.engine.Run(context.Background(), "r1", "", run.Options{})
	require.NoError(t, err)

	assert.Equal(t, run.StatusSucceeded, r.Status)
	assert.Equal(t, run.StateHealthy, r.Components["B"].State)
	assert.Equal(t, 3, r.Components["B"].Attempt)
	assert.Empty(t, r.Components["B"].LastError)
	assert.Empty(t, r.Error)
}

func TestRun_ApplyRetryBudgetExhausted(t *testing.T) {
	f := newFixture(t, abc())
	f.exec.script["A"] = []error{errors.New("quota exceeded")}

	r, err := f.engine.Run(context.Background(), "r1", "", run.Options{})
	require.NoError(t, err)

	assert.Equal(t, run.StatusFailed, r.Status)
	a := r.Components["A"]
	assert.Equal(t, run.StateFailed, a.State)
	assert.Equal(t, 3, a.Attempt)
	assert.Contains(t, a.LastError, "retry budget exhausted after 3 attempts: quota exceeded")
	assert.Equal(t, 3, f.exec.appliesOf("A"))
}

func TestRun_ComponentRetryOverride(t *testing.T) {
	f := newFixture(t, []component.Component{
		{Name: "patient", Retry: component.Retry{ApplyAttempts: 5}},
		{Name: "default"},
		{Name: "slow", Retry: component.Retry{VerifyCycles: 6}},
		{Name: "hasty"},
	})
	flaky := []error{errors.New("conflict"), errors.New("conflict"), errors.New("conflict"), errors.New("conflict"), nil}
	f.exec.script["patient"] = flaky
	f.exec.script["default"] = flaky
	warming := []health.Status{
		health.StatusUnhealthy, health.StatusUnhealthy, health.StatusUnhealthy,
		health.StatusUnhealthy, health.StatusUnhealthy, health.StatusHealthy,
	}
	f.prober.script["slow"] = warming
	f.prober.script["hasty"] = warming

	r, err := f.engine.Run(context.Background(), "r1", "", run.Options{})
	require.NoError(t, err)

	assert.Equal(t, run.StateHealthy, r.Components["patient"].State)
	assert.Equal(t, 5, r.Components["patient"].Attempt)
	assert.Equal(t, 5, f.exec.appliesOf("patient"))

	assert.Equal(t, run.StateFailed, r.Components["default"].State)
	assert.Equal(t, 3, f.exec.appliesOf("default"))

	assert.Equal(t, run.StateHealthy, r.Components["slow"].State)
	assert.Equal(t, 6, f.prober.calls["slow"])

	assert.Equal(t, run.StateFailed, r.Components["hasty"].State)
	assert.Equal(t, 3, f.prober.calls["hasty"])
}

func TestRollback_ComponentRetryOverride(t *testing.T) {
	f := newFixture(t, []component.Component{
		{Name: "X", Retry: component.Retry{ApplyAttempts: 1}},
	})
	f.exec.teardownErr["X"] = errors.New("finalizer stuck")
	ctx := context.Background()

	_, err := f.engine.Run(ctx, "r1", "", run.Options{})
	require.NoError(t, err)

	rolled, err := f.engine.Rollback(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StateRollbackFailed, rolled.Components["X"].State)
	assert.Equal(t, []string{"X"}, f.exec.tornDown())
}

func TestRun_CancelWhileApplying(t *testing.T) {
	comps := abc()
	f := newFixture(t, comps)
	f.exec.block["C"] = true
	events := f.engine.Subscribe()
	defer f.engine.Unsubscribe(events)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		<-f.exec.started
		for ev := range events {
			if ev.Transition != nil && ev.Transition.Component == "B" && ev.Transition.To == run.StateHealthy {
				cancel()
				return
			}
		}
	}()

	r, err := f.engine.Run(ctx, "r1", "", run.Options{RollbackOnFailure: true})
	require.NoError(t, err)

	assert.Equal(t, run.StatusCancelled, r.Status)
	assert.Equal(t, run.StateHealthy, r.Components["A"].State)
	assert.Equal(t, run.StateHealthy, r.Components["B"].State)
	assert.Equal(t, run.StateFailed, r.Components["C"].State)
	assert.Contains(t, r.Components["C"].LastError, context.Canceled.Error())
	assert.Empty(t, f.exec.tornDown())
}

func TestRun_CancelSkipsLaterWaves(t *testing.T) {
	f := newFixture(t, []component.Component{
		{Name: "A", Wave: 0},
		{Name: "B", Wave: 1},
	})
	f.exec.block["A"] = true

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-f.exec.started
		cancel()
	}()

	r, err := f.engine.Run(ctx, "r1", "", run.Options{})
	require.NoError(t, err)

	assert.Equal(t, run.StatusCancelled, r.Status)
	assert.Equal(t, run.StateFailed, r.Components["A"].State)
	assert.Equal(t, run.StateSkipped, r.Components["B"].State)
	assert.Equal(t, ReasonCancelled, r.Components["B"].SkipReason)
}

func TestRun_FailFast(t *testing.T) {
	f := newFixture(t, abc())
	f.exec.script["A"] = []error{errors.New("boom")}

	r, err := f.engine.Run(context.Background(), "r1", "", run.Options{FailFast: true})
	require.NoError(t, err)

	assert.Equal(t, run.StatusFailed, r.Status)
	assert.Equal(t, run.StateSkipped, r.Components["B"].State)
	assert.Equal(t, "A", r.Components["B"].SkipReason)
	assert.Equal(t, run.StateSkipped, r.Components["C"].State)
	assert.Equal(t, ReasonAborted, r.Components["C"].SkipReason)
	assert.Zero(t, f.exec.appliesOf("C"))
}

func TestRun_OptionalFailureOnlySkipsDependents(t *testing.T) {
	f := newFixture(t, []component.Component{
		{Name: "A", Wave: 0},
		{Name: "C", Wave: 0, Optional: true},
		{Name: "D", Wave: 1, DependsOn: []string{"C"}},
		{Name: "E", Wave: 2, DependsOn: []string{"D"}},
	})
	f.prober.script["C"] = []health.Status{health.StatusUnhealthy}

	r, err := f.engine.Run(context.Background(), "r1", "", run.Options{})
	require.NoError(t, err)

	assert.Equal(t, run.StatusSucceeded, r.Status)
	assert.Equal(t, run.StateFailed, r.Components["C"].State)
	assert.Contains(t, r.Components["C"].LastError, "unhealthy after probe cycle 3")
	assert.Equal(t, run.StateSkipped, r.Components["D"].State)
	assert.Equal(t, run.StateSkipped, r.Components["E"].State)
	// Skips name the root cause, not the nearest skipped dependency.
	assert.Equal(t, "C", r.Components["E"].SkipReason)
}

func TestRun_VerifyRecoversWithinCycles(t *testing.T) {
	f := newFixture(t, abc())
	f.prober.script["A"] = []health.Status{health.StatusTimeout, health.StatusUnhealthy, health.StatusHealthy}

	r, err := f.engine.Run(context.Background(), "r1", "", run.Options{})
	require.NoError(t, err)

	assert.Equal(t, run.StatusSucceeded, r.Status)
	assert.Equal(t, 3, r.Components["A"].ProbeCycles)
	assert.Equal(t, 1, r.Components["A"].Attempt)
}

func TestRun_DryRun(t *testing.T) {
	f := newFixture(t, abc())

	r, err := f.engine.Run(context.Background(), "r1", "", run.Options{DryRun: true})
	require.NoError(t, err)

	assert.Equal(t, run.StatusPlanned, r.Status)
	assert.Equal(t, []string{"A", "B", "C"}, r.Order)
	for _, cs := range r.Components {
		assert.Equal(t, run.StatePending, cs.State)
	}
	assert.Zero(t, f.exec.appliesOf("A"))
	assert.Equal(t, []run.Status{run.StatusPlanned}, f.notifier.seen)

	loaded, err := f.rec.Load(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusPlanned, loaded.Status)
}

func TestRun_StageAndComponentSelection(t *testing.T) {
	reg := abc()
	f := newFixture(t, reg)

	r, err := f.engine.Run(context.Background(), "r1", "", run.Options{Components: []string{"B"}})
	require.NoError(t, err)

	assert.Equal(t, []string{"A", "B"}, r.Order)
	assert.Zero(t, f.exec.appliesOf("C"))

	_, err = f.engine.Run(context.Background(), "r2", "nope", run.Options{})
	assert.Error(t, err)
}

func TestRun_Preflight(t *testing.T) {
	f := newFixture(t, abc(), func(c *Config) {
		c.Preflight = []PreflightCheck{
			{Name: "cluster", Health: component.HealthCheck{Kind: component.CheckTCP}},
			{Name: "registry", Health: component.HealthCheck{Kind: component.CheckHTTP}},
		}
	})
	f.prober.script["preflight-registry"] = []health.Status{health.StatusTimeout}

	r, err := f.engine.Run(context.Background(), "r1", "", run.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPreflightFailed)

	var pf *PreflightError
	require.ErrorAs(t, err, &pf)
	assert.Contains(t, pf.Failures, "registry")
	assert.NotContains(t, pf.Failures, "cluster")

	assert.Equal(t, run.StatusFailed, r.Status)
	assert.Zero(t, f.exec.appliesOf("A"))
}

// failingRecorder lets the first ok appends through, then fails every one
// after that.
type failingRecorder struct {
	*recorder.Memory
	mu sync.Mutex
	ok int
}

func (r *failingRecorder) Append(ctx context.Context, runID string, t run.Transition) (run.Transition, error) {
	r.mu.Lock()
	if r.ok == 0 {
		r.mu.Unlock()
		return run.Transition{}, &recorder.RecorderError{Op: "append", Err: errors.New("disk full")}
	}
	r.ok--
	r.mu.Unlock()
	return r.Memory.Append(ctx, runID, t)
}

func TestRun_RecorderFailureIsFatal(t *testing.T) {
	var failing *failingRecorder
	f := newFixture(t, abc(), func(c *Config) {
		// A's three transitions are stored; B and C never start.
		failing = &failingRecorder{Memory: c.Recorder.(*recorder.Memory), ok: 3}
		c.Recorder = failing
	})

	r, err := f.engine.Run(context.Background(), "r1", "", run.Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, recorder.ErrRecorder)
	require.NotNil(t, r)

	assert.Equal(t, run.StatusFailed, r.Status)
	assert.Contains(t, r.Error, "disk full")
	assert.Equal(t, map[string]run.ComponentState{
		"A": run.StateHealthy,
		"B": run.StatePending,
		"C": run.StatePending,
	}, states(r))
	assert.Equal(t, 1, f.exec.appliesOf("A"))
	assert.Zero(t, f.exec.appliesOf("B"))
	assert.Zero(t, f.exec.appliesOf("C"))

	loaded, err := f.rec.Load(context.Background(), "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, loaded.Status)
	assert.Equal(t, states(r), states(loaded))
	assert.Equal(t, []run.Status{run.StatusFailed}, f.notifier.seen)
}

func TestRun_AlreadyHealthyComponentsArePreExisting(t *testing.T) {
	f := newFixture(t, abc())
	ctx := context.Background()

	first, err := f.engine.Run(ctx, "r1", "", run.Options{})
	require.NoError(t, err)
	require.Equal(t, run.StatusSucceeded, first.Status)
	for _, cs := range first.Components {
		assert.False(t, cs.PreExisting, cs.Name)
	}

	second, err := f.engine.Run(ctx, "r2", "", run.Options{})
	require.NoError(t, err)
	assert.Equal(t, run.StatusSucceeded, second.Status)
	for _, cs := range second.Components {
		assert.True(t, cs.PreExisting, cs.Name)
		assert.Equal(t, run.StateHealthy, cs.State)
	}

	rolled, err := f.engine.Rollback(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, run.StatusRolledBack, rolled.Status)
	assert.Empty(t, f.exec.tornDown())
}

func TestRollback_ReverseOrderSparesPreExisting(t *testing.T) {
	f := newFixture(t, []component.Component{
		{Name: "P", Wave: 0},
		{Name: "X", Wave: 1, DependsOn: []string{"P"}},
		{Name: "Y", Wave: 2, DependsOn: []string{"X"}},
	})
	ctx := context.Background()

	r0, err := f.engine.Run(ctx, "r0", "", run.Options{Components: []string{"P"}})
	require.NoError(t, err)
	require.Equal(t, run.StatusSucceeded, r0.Status)

	f.exec.already["P"] = true
	r, err := f.engine.Run(ctx, "r1", "", run.Options{})
	require.NoError(t, err)
	require.Equal(t, run.StatusSucceeded, r.Status)
	assert.True(t, r.Components["P"].PreExisting)
	assert.False(t, r.Components["X"].PreExisting)
	assert.Equal(t, run.ApplyResultAlreadyApplied, r.Components["P"].ApplyResult)

	rolled, err := f.engine.Rollback(ctx, "r1")
	require.NoError(t, err)

	assert.Equal(t, []string{"Y", "X"}, f.exec.tornDown())
	assert.Equal(t, run.StatusRolledBack, rolled.Status)
	assert.Equal(t, run.StateHealthy, rolled.Components["P"].State)
	assert.Equal(t, run.StateRolledBack, rolled.Components["X"].State)
	assert.Equal(t, run.StateRolledBack, rolled.Components["Y"].State)

	_, err = f.engine.Rollback(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotRollbackable)
}

func TestRollback_TearsDownLeftoverFromFailedRun(t *testing.T) {
	f := newFixture(t, []component.Component{{Name: "X", Wave: 0}})
	ctx := context.Background()

	// The first run leaves X applied but never healthy.
	f.prober.script["X"] = []health.Status{health.StatusUnhealthy}
	r1, err := f.engine.Run(ctx, "r1", "", run.Options{})
	require.NoError(t, err)
	require.Equal(t, run.StateFailed, r1.Components["X"].State)

	f.prober.mu.Lock()
	delete(f.prober.script, "X")
	f.prober.mu.Unlock()
	f.exec.already["X"] = true

	r2, err := f.engine.Run(ctx, "r2", "", run.Options{})
	require.NoError(t, err)
	require.Equal(t, run.StatusSucceeded, r2.Status)
	x := r2.Components["X"]
	assert.Equal(t, run.StateHealthy, x.State)
	assert.Equal(t, run.ApplyResultAlreadyApplied, x.ApplyResult)
	assert.False(t, x.PreExisting)

	rolled, err := f.engine.Rollback(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, run.StatusRolledBack, rolled.Status)
	assert.Equal(t, []string{"X"}, f.exec.tornDown())
	assert.Equal(t, run.StateRolledBack, rolled.Components["X"].State)
}

func TestRollback_LogsCompletionAtInfo(t *testing.T) {
	f := newFixture(t, []component.Component{{Name: "X"}})
	ctx := context.Background()
	_, err := f.engine.Run(ctx, "r1", "", run.Options{})
	require.NoError(t, err)

	logs := logging.InitForTUI(logging.LevelDebug)
	_, err = f.engine.Rollback(ctx, "r1")
	logging.CloseTUIChannel()
	logging.InitForCLI(logging.Config{Output: io.Discard})
	require.NoError(t, err)

	levels := map[string]logging.LogLevel{}
	for entry := range logs {
		if entry.Subsystem == "Engine" && strings.HasPrefix(entry.Message, "Run r1 ") {
			levels[entry.Message] = entry.Level
		}
	}
	assert.Equal(t, map[string]logging.LogLevel{"Run r1 rolled back": logging.LevelInfo}, levels)
}

func TestRollback_PartialFailureCanBeRetried(t *testing.T) {
	f := newFixture(t, []component.Component{
		{Name: "X", Wave: 0},
		{Name: "Y", Wave: 1},
	})
	f.exec.teardownErr["X"] = errors.New("finalizer stuck")
	ctx := context.Background()

	_, err := f.engine.Run(ctx, "r1", "", run.Options{})
	require.NoError(t, err)

	rolled, err := f.engine.Rollback(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusFailed, rolled.Status)
	assert.Equal(t, "rollback incomplete: X", rolled.Error)
	assert.Equal(t, run.StateRollbackFailed, rolled.Components["X"].State)
	assert.Equal(t, "finalizer stuck", rolled.Components["X"].LastError)
	assert.Equal(t, run.StateRolledBack, rolled.Components["Y"].State)
	assert.Equal(t, []string{"Y", "X", "X", "X"}, f.exec.tornDown())

	f.exec.mu.Lock()
	delete(f.exec.teardownErr, "X")
	f.exec.teardowns = nil
	f.exec.mu.Unlock()

	rolled, err = f.engine.Rollback(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, run.StatusRolledBack, rolled.Status)
	assert.Equal(t, []string{"X"}, f.exec.tornDown())
}

func TestRun_RollbackOnFailure(t *testing.T) {
	f := newFixture(t, abc())
	f.exec.script["B"] = []error{errors.New("bad chart")}

	r, err := f.engine.Run(context.Background(), "r1", "", run.Options{RollbackOnFailure: true})
	require.NoError(t, err)

	assert.Equal(t, run.StatusRolledBack, r.Status)
	assert.Equal(t, []string{"C", "A"}, f.exec.tornDown())
	assert.Equal(t, run.StateFailed, r.Components["B"].State)
	assert.Equal(t, []run.Status{run.StatusFailed, run.StatusRolledBack}, f.notifier.seen)
}

func TestResume(t *testing.T) {
	f := newFixture(t, abc())
	f.exec.script["A"] = []error{errors.New("api down")}
	ctx := context.Background()

	r, err := f.engine.Run(ctx, "r1", "", run.Options{})
	require.NoError(t, err)
	require.Equal(t, run.StatusFailed, r.Status)
	require.Equal(t, run.StateHealthy, r.Components["C"].State)

	f.exec.mu.Lock()
	delete(f.exec.script, "A")
	f.exec.mu.Unlock()

	resumed, err := f.engine.Resume(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, "r1", resumed.ID)
	assert.Equal(t, run.StatusSucceeded, resumed.Status)
	assert.Empty(t, resumed.Error)
	for name, st := range states(resumed) {
		assert.Equal(t, run.StateHealthy, st, name)
	}
	assert.Empty(t, resumed.Components["B"].SkipReason)
	assert.Equal(t, 1, f.exec.appliesOf("C"))

	_, err = f.engine.Resume(ctx, "r1")
	assert.ErrorIs(t, err, ErrNotResumable)

	_, err = f.engine.Resume(ctx, "missing")
	assert.ErrorIs(t, err, recorder.ErrRunNotFound)
}

func TestEvents(t *testing.T) {
	f := newFixture(t, []component.Component{{Name: "A"}})
	events := f.engine.Subscribe()

	_, err := f.engine.Run(context.Background(), "r1", "", run.Options{})
	require.NoError(t, err)
	f.engine.Unsubscribe(events)

	var (
		statuses []run.Status
		states   []run.ComponentState
	)
	for ev := range events {
		assert.Equal(t, "r1", ev.RunID)
		if ev.Transition != nil {
			states = append(states, ev.Transition.To)
			continue
		}
		statuses = append(statuses, ev.Status)
	}
	assert.Equal(t, []run.Status{run.StatusRunning, run.StatusSucceeded}, statuses)
	assert.Equal(t, []run.ComponentState{run.StateApplying, run.StateVerifying, run.StateHealthy}, states)
}

func TestBackoff_Delay(t *testing.T) {
	b := Backoff{Initial: 5 * time.Second, Factor: 2, Max: 60 * time.Second}
	tests := []struct {
		n    int
		want time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{5, 60 * time.Second},
		{60, 60 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Delay(tt.n), "n=%d", tt.n)
	}
}

func TestPolicy_WithDefaults(t *testing.T) {
	p := Policy{Apply: ApplyPolicy{Attempts: 7}}.withDefaults()
	d := DefaultPolicy()
	assert.Equal(t, 7, p.Apply.Attempts)
	assert.Equal(t, d.Apply.Backoff, p.Apply.Backoff)
	assert.Equal(t, d.Verify, p.Verify)
}

func TestPolicy_ForComponent(t *testing.T) {
	base := DefaultPolicy()
	assert.Equal(t, base, base.forComponent(component.Component{Name: "plain"}))

	p := base.forComponent(component.Component{Name: "etl", Retry: component.Retry{
		ApplyAttempts:       10,
		ApplyInitialBackoff: time.Second,
		VerifyCycles:        10,
	}})
	assert.Equal(t, 10, p.Apply.Attempts)
	assert.Equal(t, time.Second, p.Apply.Backoff.Initial)
	assert.Equal(t, base.Apply.Backoff.Max, p.Apply.Backoff.Max)
	assert.Equal(t, base.Apply.Backoff.Factor, p.Apply.Backoff.Factor)
	assert.Equal(t, 10, p.Verify.Cycles)
	assert.Equal(t, base.Verify.Deadline, p.Verify.Deadline)
	assert.Equal(t, 3, base.Apply.Attempts, "the receiver is not modified")
}
