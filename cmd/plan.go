package cmd

import (
	"github.com/spf13/cobra"

	"wavectl/internal/component"
)

func newPlanCmd() *cobra.Command {
	var components []string

	cmd := &cobra.Command{
		Use:   "plan [stage]",
		Short: "Show the waves a run would execute",
		Long: `Resolves the stage (default "all") and any --component selection,
including dependencies, and prints the resulting waves without recording a run.`,
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

			plan, err := s.op.Plan(ctx, stage, components)
			if err != nil {
				return err
			}
			return p.Plan(plan)
		},
	}

	cmd.Flags().StringSliceVarP(&components, "component", "c", nil, "Plan only these components and their dependencies")
	return cmd
}
