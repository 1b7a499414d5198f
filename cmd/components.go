package cmd

import (
	"github.com/spf13/cobra"

	"wavectl/internal/config"
)

func newComponentsCmd() *cobra.Command {
	var validate bool

	cmd := &cobra.Command{
		Use:   "components",
		Short: "List the component catalog",
		Long: `Lists every registered component with its wave, dependencies and
checks. With --validate only the local configuration is loaded and checked
for unknown dependencies, cycles and wave violations.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := newPrinter(cmd)
			if err != nil {
				return err
			}

			if validate {
				cfg, err := config.LoadConfig(config.LoadOptions{ConfigPath: configPath, Overrides: overrides})
				if err != nil {
					return err
				}
				cat, err := cfg.Catalog()
				if err != nil {
					return err
				}
				p.Message("Configuration valid: %d components in %d waves, %d stages",
					cat.Len(), len(cat.Waves()), len(cat.Stages()))
				return nil
			}

			ctx := cmd.Context()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close(ctx)

			comps, err := s.op.Components(ctx)
			if err != nil {
				return err
			}
			return p.Components(comps)
		},
	}

	cmd.Flags().BoolVar(&validate, "validate", false, "Only validate the local configuration")
	return cmd
}
