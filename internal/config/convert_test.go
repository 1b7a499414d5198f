package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wavectl/internal/component"
	"wavectl/internal/engine"
	"wavectl/internal/notify"
)

func TestCatalog(t *testing.T) {
	cfg := GetDefaultConfig()
	_, err := cfg.Catalog()
	assert.ErrorIs(t, err, ErrNoComponents)

	cfg.Components = []ComponentDefinition{
		{Name: "db", Deploy: ActionDefinition{Kind: component.ActionNoop}},
		{
			Name:      "api",
			Wave:      1,
			DependsOn: []string{"db"},
			Optional:  true,
			Deploy:    ActionDefinition{Kind: component.ActionCommand, Command: []string{"deploy", "api"}, Check: []string{"probe"}},
			Teardown:  &ActionDefinition{Kind: component.ActionCommand, Command: []string{"undeploy", "api"}},
			Health:    HealthDefinition{Kind: component.CheckHTTP, URL: "http://api/healthz", Interval: time.Second},
			Retry:     RetryDefinition{ApplyAttempts: 10, ApplyMaxBackoff: 2 * time.Minute, VerifyCycles: 8},
		},
	}
	cfg.Stages = []StageDefinition{{Name: "data", Waves: []int{0}}}

	cat, err := cfg.Catalog()
	require.NoError(t, err)

	api, ok := cat.Get("api")
	require.True(t, ok)
	assert.True(t, api.Optional)
	assert.Equal(t, []string{"db"}, api.DependsOn)
	assert.Equal(t, []string{"undeploy", "api"}, api.TeardownAction().Command)
	assert.Equal(t, "http://api/healthz", api.Health.URL)
	assert.Equal(t, time.Second, api.Health.Interval)
	assert.Equal(t, component.Retry{ApplyAttempts: 10, ApplyMaxBackoff: 2 * time.Minute, VerifyCycles: 8}, api.Retry)

	db, ok := cat.Get("db")
	require.True(t, ok)
	assert.Zero(t, db.Retry)

	targets, err := cat.StageTargets("data", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"db"}, targets)

	cfg.Components[0].DependsOn = []string{"api"}
	_, err = cfg.Catalog()
	assert.ErrorIs(t, err, component.ErrCyclicDependency)
}

func TestSettings_Policy(t *testing.T) {
	p := GetDefaultConfig().Settings.Policy()
	assert.Equal(t, engine.DefaultPolicy(), p)
}

func TestSettings_Notifier(t *testing.T) {
	s := GetDefaultConfig().Settings
	assert.IsType(t, notify.Log{}, s.Notifier())

	s.Notify.WebhookURL = "https://hooks.example.com"
	assert.IsType(t, notify.Multi{}, s.Notifier())
}

func TestSettings_Limiter(t *testing.T) {
	l := GetDefaultConfig().Settings.Limiter()
	assert.InDelta(t, 10, float64(l.Limit()), 0.001)
	assert.Equal(t, 20, l.Burst())
}

func TestNeedsKube(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Components = []ComponentDefinition{{Name: "a", Deploy: ActionDefinition{Kind: component.ActionNoop}}}
	assert.False(t, cfg.NeedsKube())

	cfg.Preflight = []PreflightDefinition{{Name: "argo", Health: HealthDefinition{Kind: component.CheckArgoApps}}}
	assert.True(t, cfg.NeedsKube())

	checks := cfg.PreflightChecks()
	require.Len(t, checks, 1)
	assert.Equal(t, "argo", checks[0].Name)
	assert.Equal(t, component.CheckArgoApps, checks[0].Health.Kind)
}
