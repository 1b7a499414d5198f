package app

import (
	"fmt"

	"wavectl/internal/api"
	"wavectl/internal/component"
	"wavectl/internal/config"
	"wavectl/internal/engine"
	"wavectl/internal/executor"
	"wavectl/internal/health"
	"wavectl/internal/kube"
	"wavectl/internal/metrics"
	"wavectl/internal/recorder"
	"wavectl/internal/utils"
	"wavectl/pkg/logging"
)

// Services holds all the initialized collaborators of a run.
type Services struct {
	Catalog  *component.Catalog
	Recorder recorder.Recorder
	Executor executor.Executor
	Metrics  *metrics.Metrics
	Engine   *engine.Engine
	Service  *api.Service
}

// Close releases the recorder.
func (s *Services) Close() error {
	if s.Recorder == nil {
		return nil
	}
	return s.Recorder.Close()
}

// NewExecutor builds the executor router for every deploy kind. The
// manifest executor is only registered when a kube provider is given.
func NewExecutor(cfg config.Settings, kubeProvider kube.Provider) executor.Executor {
	runner := utils.ExecRunner{}
	router := executor.NewRouter()
	router.Register(component.ActionNoop, executor.Noop{})
	router.Register(component.ActionCommand, executor.NewCommandExecutor(runner))
	router.Register(component.ActionTerraform, executor.NewTerraformExecutor(runner, ""))
	if kubeProvider != nil {
		router.Register(component.ActionManifest, executor.NewManifestExecutor(kubeProvider))
	}
	return executor.Throttle(router, cfg.Limiter())
}

// InitializeServices creates the engine and everything it needs from a
// loaded configuration.
func InitializeServices(cfg config.WavectlConfig) (*Services, error) {
	cat, err := cfg.Catalog()
	if err != nil {
		return nil, err
	}

	var kubeProvider kube.Provider
	if cfg.NeedsKube() {
		kubeProvider = kube.NewLazyProvider(cfg.Settings.Kube.Context, cfg.Settings.KubeOptions())
		logging.Debug("Bootstrap", "Kubernetes access enabled (context %q)", cfg.Settings.Kube.Context)
	}

	rec, err := recorder.Open(cfg.Settings.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	m := metrics.New()
	exec := NewExecutor(cfg.Settings, kubeProvider)
	e, err := engine.New(engine.Config{
		Catalog:        cat,
		Recorder:       rec,
		Executor:       exec,
		Prober:         health.NewProber(health.NewFactory(kubeProvider)),
		Policy:         cfg.Settings.Policy(),
		MaxConcurrency: cfg.Settings.MaxConcurrency,
		Preflight:      cfg.PreflightChecks(),
		Notifier:       cfg.Settings.Notifier(),
		Metrics:        m,
	})
	if err != nil {
		_ = rec.Close()
		return nil, err
	}

	logging.Info("Bootstrap", "Loaded %d components (%s store)", cat.Len(), cfg.Settings.Store.Type)
	return &Services{
		Catalog:  cat,
		Recorder: rec,
		Executor: exec,
		Metrics:  m,
		Engine:   e,
		Service:  api.NewService(e),
	}, nil
}
