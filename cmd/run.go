package cmd

import (
	"github.com/spf13/cobra"

	"wavectl/internal/component"
	"wavectl/internal/run"
)

func newRunCmd() *cobra.Command {
	var (
		components        []string
		dryRun            bool
		rollbackOnFailure bool
		failFast          bool
		tui               bool
		wait              bool
	)

	cmd := &cobra.Command{
		Use:   "run [stage]",
		Short: "Start a deployment run",
		Long: `Deploys the components of a stage (default "all") wave by wave.

Dependencies of the selected components are included automatically. With
--dry-run the plan is recorded without touching anything. Without --server
the run executes in this process and the command waits for it to finish.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stage := component.StageAll
			if len(args) == 1 {
				stage = args[0]
			}
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

			events := s.subscribeIf(tui && !dryRun)
			defer events.unsubscribe()

			id, err := s.op.StartRun(ctx, stage, run.Options{
				DryRun:            dryRun,
				Components:        components,
				RollbackOnFailure: rollbackOnFailure,
				FailFast:          failFast,
			})
			if err != nil {
				return err
			}

			if dryRun {
				r, err := s.op.GetRunStatus(ctx, id)
				if err != nil {
					return err
				}
				return p.Run(r)
			}
			return follow(ctx, s, p, id, followOptions{wait: wait, tui: tui, events: events.ch})
		},
	}

	cmd.Flags().StringSliceVarP(&components, "component", "c", nil, "Deploy only these components and their dependencies")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Record the plan without deploying")
	cmd.Flags().BoolVar(&rollbackOnFailure, "rollback-on-failure", false, "Roll back automatically when the run fails")
	cmd.Flags().BoolVar(&failFast, "fail-fast", false, "Stop scheduling new work after the first mandatory failure")
	cmd.Flags().BoolVar(&tui, "tui", false, "Follow the run in an interactive terminal UI")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for a remote run to finish")
	return cmd
}
