package app

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"wavectl/internal/api"
	"wavectl/internal/color"
	"wavectl/internal/engine"
	"wavectl/internal/run"
	"wavectl/internal/tui"
	"wavectl/pkg/logging"
)

// Serve exposes the operator API over HTTP and, when configured, MCP until
// ctx is cancelled.
func (a *Application) Serve(ctx context.Context) error {
	settings := a.config.WavectlConfig.Settings
	svc := a.services.Service

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.NewServer(svc, a.services.Metrics).ListenAndServe(ctx, settings.Server.Listen)
	})
	if settings.Server.MCPListen != "" {
		mcpServer := api.NewMCPServer(svc, a.config.Version, baseURL(settings.Server.MCPListen))
		g.Go(func() error {
			return mcpServer.ListenAndServe(ctx, settings.Server.MCPListen)
		})
	}
	logging.Info("Serve", "Serving %d components. Press Ctrl+C to stop.", a.services.Catalog.Len())
	return g.Wait()
}

// baseURL turns a listen address into the URL advertised to MCP clients.
func baseURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "http://localhost" + listen
	}
	return "http://" + listen
}

// WatchOptions select what the TUI shows.
type WatchOptions struct {
	Operator api.Operator
	RunID    string
	// Events is nil when watching a remote run.
	Events   <-chan engine.Event
	LogLevel logging.LogLevel
	Theme    color.Theme
}

// Watch shows a live view of the run until the user quits.
func Watch(ctx context.Context, opts WatchOptions) (*run.DeploymentRun, error) {
	r, err := opts.Operator.GetRunStatus(ctx, opts.RunID)
	if err != nil {
		return nil, err
	}

	color.Apply(opts.Theme)
	logChan := logging.InitForTUI(opts.LogLevel)
	defer logging.CloseTUIChannel()

	tuiOpts := tui.Options{
		Run:    r,
		Events: opts.Events,
		Logs:   logChan,
		Wait: func(waitCtx context.Context) (*run.DeploymentRun, error) {
			return opts.Operator.Wait(waitCtx, opts.RunID)
		},
		Cancel: func() error {
			return opts.Operator.CancelRun(ctx, opts.RunID)
		},
	}
	if opts.Events == nil {
		tuiOpts.Refresh = func(refreshCtx context.Context) (*run.DeploymentRun, error) {
			return opts.Operator.GetRunStatus(refreshCtx, opts.RunID)
		}
	}

	m, err := tui.Run(tuiOpts)
	if err != nil {
		logging.Error("TUI-Lifecycle", err, "Error running TUI program")
		return nil, err
	}
	final, waitErr := m.Result()
	if waitErr != nil {
		return final, fmt.Errorf("waiting for run %s: %w", opts.RunID, waitErr)
	}
	return final, nil
}
