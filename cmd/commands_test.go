package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavectl/internal/run"
	"wavectl/internal/scheduler"
)

// setupWorkspace writes a config with two noop components backed by a
// sqlite store in a temporary directory and isolates the user and project
// config layers from the real home directory.
func setupWorkspace(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Chdir(dir)

	path := filepath.Join(dir, "wavectl.yaml")
	content := fmt.Sprintf(`
settings:
  store:
    type: sqlite
    dsn: %s
components:
  - name: db
    wave: 0
    deploy: {kind: noop}
  - name: app
    wave: 1
    dependsOn: [db]
    deploy: {kind: noop}
stages:
  - name: data
    waves: [0]
`, filepath.Join(dir, "runs.db"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommands_RunLifecycle(t *testing.T) {
	cfg := setupWorkspace(t)

	out, err := execute(t, "--config", cfg, "components", "--validate")
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration valid: 2 components")

	out, err = execute(t, "--config", cfg, "plan", "-o", "json")
	require.NoError(t, err)
	var plan scheduler.Plan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.Equal(t, []string{"db", "app"}, plan.Order())

	out, err = execute(t, "--config", cfg, "run", "-o", "json")
	require.NoError(t, err)
	var finished run.DeploymentRun
	require.NoError(t, json.Unmarshal([]byte(out), &finished))
	assert.Equal(t, run.StatusSucceeded, finished.Status)
	assert.Equal(t, run.StateHealthy, finished.Components["app"].State)

	out, err = execute(t, "--config", cfg, "runs", "-o", "json")
	require.NoError(t, err)
	var summaries []run.Summary
	require.NoError(t, json.Unmarshal([]byte(out), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, finished.ID, summaries[0].ID)

	out, err = execute(t, "--config", cfg, "status", finished.ID)
	require.NoError(t, err)
	assert.Contains(t, out, finished.ID)
	assert.Contains(t, out, "COMPONENT")

	out, err = execute(t, "--config", cfg, "rollback", finished.ID, "-o", "json")
	require.NoError(t, err)
	var rolledBack run.DeploymentRun
	require.NoError(t, json.Unmarshal([]byte(out), &rolledBack))
	assert.Equal(t, run.StatusRolledBack, rolledBack.Status)

	_, err = execute(t, "--config", cfg, "resume", finished.ID)
	assert.Error(t, err, "rolled back runs cannot be resumed")
}

func TestCommands_DryRunAndStage(t *testing.T) {
	cfg := setupWorkspace(t)

	out, err := execute(t, "--config", cfg, "run", "data", "--dry-run", "-o", "json")
	require.NoError(t, err)
	var planned run.DeploymentRun
	require.NoError(t, json.Unmarshal([]byte(out), &planned))
	assert.Equal(t, run.StatusPlanned, planned.Status)
	assert.Equal(t, []string{"db"}, planned.Order)
	assert.Equal(t, run.StatePending, planned.Components["db"].State)
}

func TestCommands_Errors(t *testing.T) {
	cfg := setupWorkspace(t)

	_, err := execute(t, "--config", cfg, "run", "--component", "missing")
	assert.Error(t, err)

	_, err = execute(t, "--config", cfg, "status", "no-such-run")
	assert.Error(t, err)

	_, err = execute(t, "--config", cfg, "cancel", "no-such-run")
	assert.Error(t, err)

	_, err = execute(t, "--config", cfg, "plan", "-o", "xml")
	assert.Error(t, err)

	_, err = execute(t, "--server", "http://127.0.0.1:1", "serve")
	assert.Error(t, err)
}

func TestCommands_ComponentsTable(t *testing.T) {
	cfg := setupWorkspace(t)

	out, err := execute(t, "--config", cfg, "components")
	require.NoError(t, err)
	assert.Contains(t, out, "db")
	assert.Contains(t, out, "app")
}

func TestOutcome(t *testing.T) {
	r := &run.DeploymentRun{ID: "r1", Status: run.StatusSucceeded}
	assert.NoError(t, outcome(r, ""))
	assert.Error(t, outcome(r, run.StatusRolledBack))

	r.Status = run.StatusFailed
	assert.EqualError(t, outcome(r, ""), "run r1 finished Failed")

	r.Status = run.StatusRunning
	assert.EqualError(t, outcome(r, ""), "run r1 is still Running")
}
