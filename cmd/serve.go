package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API over HTTP and MCP",
		Long: `Starts a long-running wavectl server. Runs started through it keep
executing independently of the client that started them.

The HTTP API is served on settings.server.listen (default :8080)
together with /metrics and /healthz. When settings.server.mcpListen is set the
same operations are exposed as MCP tools over SSE for AI assistants.

Other wavectl commands talk to the server with --server.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if serverURL != "" {
				return fmt.Errorf("--server cannot be used with serve")
			}
			ctx := cmd.Context()
			s, err := openSession(ctx)
			if err != nil {
				return err
			}
			defer s.Close(ctx)
			return s.application.Serve(ctx)
		},
	}

	cmd.Flags().String("listen", "", "Address of the HTTP API (overrides settings.server.listen)")
	cmd.Flags().String("mcp-listen", "", "Address of the MCP SSE server (overrides settings.server.mcpListen)")
	_ = overrides.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))
	_ = overrides.BindPFlag("server.mcpListen", cmd.Flags().Lookup("mcp-listen"))
	return cmd
}
