package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"wavectl/internal/config"
	"wavectl/pkg/logging"
)

var (
	configPath   string
	logLevel     string
	logFormat    string
	outputFormat string
	serverURL    string
	quiet        bool
	theme        string

	// overrides carries WAVECTL_* variables and the flags bound below into
	// the settings layer of the configuration.
	overrides = config.NewOverrides()
)

// rootCmd represents the base command when called without any subcommands
var rootCmd *cobra.Command

func init() {
	rootCmd = newRootCmd()
}

// SetVersion sets the version for the root command
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) {
	rootCmd.SetVersionTemplate(`{{printf "wavectl version %s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Cobra prints the error, we just exit non-zero
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Flag variables are reset to their
// defaults each time.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wavectl",
		Short: "Deploy platform components in dependency-ordered waves",
		Long: `wavectl deploys a catalog of platform components (manifests, terraform
modules, commands) in waves. Components of a wave run concurrently once every
earlier wave has finished, and each one has to pass its health check before
its dependents start. Every run is recorded so it can be inspected, resumed
or rolled back later.

Commands run against the local run store by default. Use --server to talk to
a 'wavectl serve' instance instead.`,
		// SilenceUsage is set to true to prevent printing usage message on errors
		// handled by us (e.g. failed runs, unknown components)
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logging.InitForCLI(logging.Config{
				Level:  logging.ParseLevel(logLevel),
				Format: logFormat,
				Output: os.Stderr,
			})
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Additional config file layered over the user and project config")
	flags.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flags.StringVar(&logFormat, "log-format", "text", "Log format (text, json)")
	flags.StringVarP(&outputFormat, "output", "o", "table", "Output format (table, json, yaml)")
	flags.StringVar(&serverURL, "server", "", "URL of a running 'wavectl serve' (e.g. http://localhost:8080)")
	flags.BoolVarP(&quiet, "quiet", "q", false, "Suppress informational messages")
	flags.StringVar(&theme, "theme", "auto", "Terminal background for --tui (auto, dark, light)")

	flags.String("kube-context", "", "Kubernetes context for manifest and workload checks")
	flags.Int("max-concurrency", 0, "Maximum components deployed at once")
	_ = overrides.BindPFlag("kube.context", flags.Lookup("kube-context"))
	_ = overrides.BindPFlag("maxConcurrency", flags.Lookup("max-concurrency"))

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newSelfUpdateCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newRunsCmd())
	cmd.AddCommand(newCancelCmd())
	cmd.AddCommand(newRollbackCmd())
	cmd.AddCommand(newResumeCmd())
	cmd.AddCommand(newComponentsCmd())
	return cmd
}
