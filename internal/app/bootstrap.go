package app

import (
	"context"
	"errors"
	"fmt"

	"wavectl/internal/config"
	"wavectl/internal/telemetry"
	"wavectl/pkg/logging"
)

// Application is the main application structure that bootstraps wavectl
type Application struct {
	config   *Config
	services *Services
	shutdown func(context.Context) error
}

// NewApplication loads the configuration and wires the engine.
func NewApplication(ctx context.Context, cfg *Config) (*Application, error) {
	wcfg, err := config.LoadConfig(config.LoadOptions{
		ConfigPath: cfg.ConfigPath,
		Overrides:  cfg.Overrides,
	})
	if err != nil {
		logging.Error("Bootstrap", err, "Failed to load wavectl configuration")
		return nil, fmt.Errorf("failed to load wavectl configuration: %w", err)
	}
	cfg.WavectlConfig = &wcfg

	shutdown, err := telemetry.Init(ctx, wcfg.Settings.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	services, err := InitializeServices(wcfg)
	if err != nil {
		_ = shutdown(ctx)
		logging.Error("Bootstrap", err, "Failed to initialize services")
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	return &Application{
		config:   cfg,
		services: services,
		shutdown: shutdown,
	}, nil
}

// Config returns the loaded configuration.
func (a *Application) Config() config.WavectlConfig {
	return *a.config.WavectlConfig
}

// Services returns the wired services.
func (a *Application) Services() *Services {
	return a.services
}

// Close stops any active run, flushes spans and closes the run store.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	if err := a.services.Service.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop active run: %w", err))
	}
	if err := a.shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("flush telemetry: %w", err))
	}
	if err := a.services.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close run store: %w", err))
	}
	return errors.Join(errs...)
}
