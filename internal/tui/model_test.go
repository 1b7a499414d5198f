package tui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavectl/internal/engine"
	"wavectl/internal/run"
	"wavectl/pkg/logging"
)

func sampleRun() *run.DeploymentRun {
	return &run.DeploymentRun{
		ID:     "run-1",
		Stage:  "platform",
		Status: run.StatusRunning,
		Order:  []string{"vault", "ingress", "apps"},
		Components: map[string]*run.ComponentStatus{
			"vault":   run.NewComponentStatus("vault", 0),
			"ingress": run.NewComponentStatus("ingress", 0),
			"apps":    run.NewComponentStatus("apps", 1),
		},
	}
}

func keyPress(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_AppliesEvents(t *testing.T) {
	m := NewModel(Options{Run: sampleRun()})

	m.Update(runEventMsg(engine.Event{RunID: "run-1", Transition: &run.Transition{
		Component: "vault", From: run.StatePending, To: run.StateApplying, Attempt: 1,
	}}))
	m.Update(runEventMsg(engine.Event{RunID: "run-1", Transition: &run.Transition{
		Component: "ingress", From: run.StatePending, To: run.StateSkipped, Detail: run.DetailSkipPrefix + "vault",
	}}))
	m.Update(runEventMsg(engine.Event{RunID: "other", Transition: &run.Transition{
		Component: "apps", From: run.StatePending, To: run.StateApplying,
	}}))

	r, err := m.Result()
	require.NoError(t, err)
	assert.Equal(t, run.StateApplying, r.Components["vault"].State)
	assert.Equal(t, run.StateSkipped, r.Components["ingress"].State)
	assert.Equal(t, "vault", r.Components["ingress"].SkipReason)
	assert.Equal(t, run.StatePending, r.Components["apps"].State, "events of other runs are ignored")

	m.Update(runEventMsg(engine.Event{RunID: "run-1", Status: run.StatusFailed, Error: "boom"}))
	assert.Equal(t, run.StatusFailed, r.Status)
	assert.Equal(t, "boom", r.Error)
}

func TestModel_DoesNotMutateInitialSnapshot(t *testing.T) {
	initial := sampleRun()
	m := NewModel(Options{Run: initial})
	m.Update(runEventMsg(engine.Event{RunID: "run-1", Transition: &run.Transition{
		Component: "vault", From: run.StatePending, To: run.StateApplying,
	}}))
	assert.Equal(t, run.StatePending, initial.Components["vault"].State)
}

func TestModel_RunDone(t *testing.T) {
	m := NewModel(Options{Run: sampleRun()})

	final := sampleRun()
	final.Status = run.StatusSucceeded
	m.Update(runDoneMsg{run: final})

	r, err := m.Result()
	require.NoError(t, err)
	assert.Equal(t, run.StatusSucceeded, r.Status)
	assert.Contains(t, m.View(), "Press q to exit")

	m.Update(runDoneMsg{err: errors.New("server went away")})
	_, err = m.Result()
	assert.EqualError(t, err, "server went away")
}

func TestModel_WaitCmd(t *testing.T) {
	final := sampleRun()
	final.Status = run.StatusSucceeded
	m := NewModel(Options{
		Run: sampleRun(),
		Wait: func(context.Context) (*run.DeploymentRun, error) {
			return final, nil
		},
	})
	msg := m.waitCmd()()
	done, ok := msg.(runDoneMsg)
	require.True(t, ok)
	assert.Equal(t, run.StatusSucceeded, done.run.Status)
}

func TestModel_CancelKey(t *testing.T) {
	cancelled := false
	m := NewModel(Options{Run: sampleRun(), Cancel: func() error {
		cancelled = true
		return nil
	}})

	_, cmd := m.Update(keyPress("x"))
	require.NotNil(t, cmd)
	msg := cmd()
	assert.True(t, cancelled)
	assert.Equal(t, statusMsg{text: "Cancellation requested"}, msg)

	m.Update(msg)
	assert.Contains(t, m.View(), "Cancellation requested")

	m.Update(runDoneMsg{run: sampleRun()})
	_, cmd = m.Update(keyPress("x"))
	assert.Nil(t, cmd, "finished runs cannot be cancelled")
}

func TestModel_QuitStopsWaiting(t *testing.T) {
	m := NewModel(Options{Run: sampleRun()})
	_, cmd := m.Update(keyPress("q"))
	require.NotNil(t, cmd)
	assert.Equal(t, tea.QuitMsg{}, cmd())
	assert.Error(t, m.ctx.Err())
}

func TestModel_Navigation(t *testing.T) {
	m := NewModel(Options{Run: sampleRun()})
	m.Update(keyPress("k"))
	assert.Equal(t, 0, m.cursor)
	m.Update(keyPress("j"))
	m.Update(keyPress("j"))
	m.Update(keyPress("j"))
	assert.Equal(t, 2, m.cursor)
}

func TestModel_LogPane(t *testing.T) {
	m := NewModel(Options{Run: sampleRun()})
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	assert.Greater(t, m.viewport.Height, 0)

	m.Update(logEntryMsg(logging.LogEntry{
		Timestamp: time.Date(2026, 1, 2, 15, 4, 5, 0, time.UTC),
		Level:     logging.LevelInfo,
		Subsystem: "Engine",
		Message:   "wave 0 started",
	}))
	require.Len(t, m.activity, 1)
	assert.True(t, strings.HasPrefix(m.activity[0], "[15:04:05]"))
	assert.Contains(t, m.activity[0], "Engine: wave 0 started")

	m.Update(keyPress("L"))
	assert.Equal(t, 0, m.viewport.Height)

	m.Update(keyPress("L"))
	m.Update(tea.WindowSizeMsg{Width: 120, Height: 10})
	assert.Equal(t, 0, m.viewport.Height, "short terminals hide the log")
}

func TestModel_ActivityLogIsBounded(t *testing.T) {
	m := NewModel(Options{Run: sampleRun()})
	for i := 0; i < maxActivityLogLines+10; i++ {
		m.appendLog("line")
	}
	assert.Len(t, m.activity, maxActivityLogLines)
}

func TestModel_StatusClears(t *testing.T) {
	m := NewModel(Options{Run: sampleRun()})
	m.Update(statusMsg{text: "first"})
	m.Update(statusMsg{text: "second"})
	m.Update(clearStatusMsg{seq: 1})
	assert.Equal(t, "second", m.status.text, "stale clears are ignored")
	m.Update(clearStatusMsg{seq: 2})
	assert.Empty(t, m.status.text)
}

func TestModel_RefreshPolls(t *testing.T) {
	updated := sampleRun()
	updated.Components["vault"].State = run.StateHealthy
	calls := 0
	m := NewModel(Options{
		Run: sampleRun(),
		Refresh: func(context.Context) (*run.DeploymentRun, error) {
			calls++
			return updated, nil
		},
		RefreshInterval: time.Millisecond,
	})

	_, cmd := m.Update(refreshTickMsg{})
	require.NotNil(t, cmd)
	msg := cmd()
	assert.Equal(t, 1, calls)

	_, next := m.Update(msg)
	assert.NotNil(t, next, "polling continues while the run is in progress")
	r, _ := m.Result()
	assert.Equal(t, run.StateHealthy, r.Components["vault"].State)

	m.Update(runDoneMsg{run: updated})
	_, cmd = m.Update(refreshTickMsg{})
	assert.Nil(t, cmd)
}
