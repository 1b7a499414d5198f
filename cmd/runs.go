package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"wavectl/internal/run"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status RUN_ID",
		Short: "Show the status of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			r, err := s.op.GetRunStatus(ctx, args[0])
			if err != nil {
				return err
			}
			return p.Run(r)
		},
	}
}

func newRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			runs, err := s.op.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			return p.Runs(runs)
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of runs to list (0 for all)")
	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel RUN_ID",
		Short: "Cancel an active run",
		Long: `Cancels a run executing on the server. Components being applied are
interrupted and marked failed; components not started yet are skipped.
Only runs executing in a 'wavectl serve' process can be cancelled, so this
command needs --server.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			if err := s.op.CancelRun(ctx, args[0]); err != nil {
				return err
			}
			p.Message("Cancellation of run %s requested", args[0])
			return nil
		},
	}
}

// newLifecycleCmd builds commands that restart work on a recorded run.
func newLifecycleCmd(use, short, long string, want run.Status, start func(ctx context.Context, op operator, runID string) error) *cobra.Command {
	var (
		wait bool
		tui  bool
	)

	cmd := &cobra.Command{
		Use:   use + " RUN_ID",
		Short: short,
		Long:  long,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			events := s.subscribeIf(tui)
			defer events.unsubscribe()

			if err := start(ctx, s.op, args[0]); err != nil {
				return err
			}
			return follow(ctx, s, p, args[0], followOptions{wait: wait, tui: tui, events: events.ch, want: want})
		},
	}

	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for a remote run to finish")
	cmd.Flags().BoolVar(&tui, "tui", false, "Follow the run in an interactive terminal UI")
	return cmd
}

func newRollbackCmd() *cobra.Command {
	return newLifecycleCmd("rollback", "Roll back the components a run deployed",
		`Tears down, in reverse deployment order, every component the run brought
to healthy, leaving pre-existing components alone. Allowed for succeeded,
failed and cancelled runs.`,
		run.StatusRolledBack,
		func(ctx context.Context, op operator, runID string) error {
			return op.RollbackRun(ctx, runID)
		})
}

func newResumeCmd() *cobra.Command {
	return newLifecycleCmd("resume", "Resume an interrupted or failed run",
		`Continues a run from its recorded state. Healthy components are kept,
everything else is deployed again in wave order. Allowed for runs that were
interrupted while running, failed or were cancelled.`,
		run.StatusSucceeded,
		func(ctx context.Context, op operator, runID string) error {
			return op.ResumeRun(ctx, runID)
		})
}
