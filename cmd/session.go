package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"wavectl/internal/api"
	"wavectl/internal/app"
	"wavectl/internal/cli"
	"wavectl/internal/color"
	"wavectl/internal/engine"
	"wavectl/internal/run"
	"wavectl/pkg/logging"
)

// operator is what every run command talks to.
type operator interface {
	api.Operator
	Components(ctx context.Context) ([]api.ComponentInfo, error)
}

type localOperator struct {
	*api.Service
}

func (l localOperator) Components(context.Context) ([]api.ComponentInfo, error) {
	return l.ComponentInfos(), nil
}

// session is either an in-process engine over the local run store or a
// client of a remote server.
type session struct {
	op          operator
	application *app.Application
}

func openSession(ctx context.Context) (*session, error) {
	if serverURL != "" {
		logging.Debug("CLI", "Using server %s", serverURL)
		return &session{op: api.NewClient(serverURL)}, nil
	}

	application, err := app.NewApplication(ctx, app.NewConfig(configPath, rootCmd.Version, overrides))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize application: %w", err)
	}
	return &session{
		op:          localOperator{application.Services().Service},
		application: application,
	}, nil
}

// local reports whether runs execute in this process. Local runs die with
// the process, so commands always wait for them.
func (s *session) local() bool { return s.application != nil }

type subscription struct {
	ch          <-chan engine.Event
	unsubscribe func()
}

// subscribeIf returns engine events for local sessions when want is set.
// Remote sessions have no event stream and the TUI falls back to polling.
func (s *session) subscribeIf(want bool) subscription {
	if !want || !s.local() {
		return subscription{unsubscribe: func() {}}
	}
	e := s.application.Services().Engine
	ch := e.Subscribe()
	return subscription{ch: ch, unsubscribe: func() { e.Unsubscribe(ch) }}
}

func (s *session) Close(ctx context.Context) {
	if s.application == nil {
		return
	}
	if err := s.application.Close(context.WithoutCancel(ctx)); err != nil {
		logging.Error("CLI", err, "Failed to shut down cleanly")
	}
}

func newPrinter(cmd *cobra.Command) (*cli.Printer, error) {
	format, err := cli.ParseOutputFormat(outputFormat)
	if err != nil {
		return nil, err
	}
	p := cli.NewPrinter(format)
	p.Out = cmd.OutOrStdout()
	p.Quiet = quiet
	return p, nil
}

// followOptions control how a started run is followed.
type followOptions struct {
	wait bool
	tui  bool
	// events must be subscribed before the run starts.
	events <-chan engine.Event
	// want is the status that counts as success; Succeeded when empty.
	want run.Status
}

// follow prints a run that was just started, rolled back or resumed.
// Without waiting only the ID is printed.
func follow(ctx context.Context, s *session, p *cli.Printer, runID string, opts followOptions) error {
	if !opts.wait && !opts.tui && !s.local() {
		return p.RunStarted(runID)
	}

	var (
		final *run.DeploymentRun
		err   error
	)
	if opts.tui {
		th, themeErr := color.ParseTheme(theme)
		if themeErr != nil {
			return themeErr
		}
		final, err = app.Watch(ctx, app.WatchOptions{
			Operator: s.op,
			RunID:    runID,
			Events:   opts.events,
			LogLevel: logging.ParseLevel(logLevel),
			Theme:    th,
		})
	} else {
		p.Message("Run %s started, waiting for it to finish...", runID)
		final, err = s.op.Wait(ctx, runID)
	}
	if err != nil {
		return err
	}
	if err := p.Run(final); err != nil {
		return err
	}
	return outcome(final, opts.want)
}

// outcome turns any status other than want into an error so the process
// exits non-zero.
func outcome(r *run.DeploymentRun, want run.Status) error {
	if want == "" {
		want = run.StatusSucceeded
	}
	switch {
	case r.Status == want:
		return nil
	case !r.Status.Terminal():
		return fmt.Errorf("run %s is still %s", r.ID, r.Status)
	default:
		return fmt.Errorf("run %s finished %s", r.ID, r.Status)
	}
}
