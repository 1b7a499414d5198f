package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"wavectl/internal/run"
	"wavectl/pkg/logging"
)

// MCPTools exposes an Operator as MCP tools.
type MCPTools struct {
	op Operator
}

// NewMCPTools wraps op.
func NewMCPTools(op Operator) *MCPTools {
	return &MCPTools{op: op}
}

// ServerTools returns the tools with their handlers.
func (t *MCPTools) ServerTools() []server.ServerTool {
	return []server.ServerTool{
		{
			Tool: mcp.NewTool("run_start",
				mcp.WithDescription("Start a deployment run for a stage. Returns the run ID; the run executes in the background."),
				mcp.WithString("stage", mcp.Description("Stage to deploy; empty deploys every component")),
				mcp.WithString("components", mcp.Description("Comma-separated subset of components to deploy")),
				mcp.WithBoolean("dry_run", mcp.Description("Plan and record the run without deploying")),
				mcp.WithBoolean("rollback_on_failure", mcp.Description("Roll back automatically if the run fails")),
				mcp.WithBoolean("fail_fast", mcp.Description("Stop scheduling after the first mandatory failure")),
			),
			Handler: t.handleRunStart,
		},
		{
			Tool: mcp.NewTool("run_status",
				mcp.WithDescription("Get the status of a run with its per-component breakdown"),
				mcp.WithString("run_id", mcp.Required(), mcp.Description("Run ID")),
			),
			Handler: t.handleRunStatus,
		},
		{
			Tool: mcp.NewTool("run_cancel",
				mcp.WithDescription("Cancel the executing run"),
				mcp.WithString("run_id", mcp.Required(), mcp.Description("Run ID")),
			),
			Handler: t.handleRunCancel,
		},
		{
			Tool: mcp.NewTool("run_rollback",
				mcp.WithDescription("Tear down the components a finished run brought up, in reverse order"),
				mcp.WithString("run_id", mcp.Required(), mcp.Description("Run ID")),
			),
			Handler: t.handleRunRollback,
		},
		{
			Tool: mcp.NewTool("run_resume",
				mcp.WithDescription("Resume a failed, cancelled or interrupted run"),
				mcp.WithString("run_id", mcp.Required(), mcp.Description("Run ID")),
			),
			Handler: t.handleRunResume,
		},
		{
			Tool: mcp.NewTool("run_list",
				mcp.WithDescription("List recent runs, newest first"),
				mcp.WithNumber("limit", mcp.Description("Maximum number of runs to return")),
			),
			Handler: t.handleRunList,
		},
		{
			Tool: mcp.NewTool("plan_show",
				mcp.WithDescription("Show the waves and groups a run of the stage would execute"),
				mcp.WithString("stage", mcp.Description("Stage to plan")),
				mcp.WithString("components", mcp.Description("Comma-separated subset of components")),
			),
			Handler: t.handlePlanShow,
		},
	}
}

func (t *MCPTools) handleRunStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	opts := run.Options{
		DryRun:            boolArg(args, "dry_run"),
		Components:        splitList(stringArg(args, "components")),
		RollbackOnFailure: boolArg(args, "rollback_on_failure"),
		FailFast:          boolArg(args, "fail_fast"),
	}
	id, err := t.op.StartRun(ctx, stringArg(args, "stage"), opts)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to start run: %v", err)), nil
	}
	return jsonResult(StartRunResponse{RunID: id})
}

func (t *MCPTools) handleRunStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	r, err := t.op.GetRunStatus(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to get run: %v", err)), nil
	}
	return jsonResult(r)
}

func (t *MCPTools) handleRunCancel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	if err := t.op.CancelRun(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to cancel run: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Cancellation requested for run '%s'", id)), nil
}

func (t *MCPTools) handleRunRollback(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	if err := t.op.RollbackRun(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to roll back run: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Rollback started for run '%s'", id)), nil
}

func (t *MCPTools) handleRunResume(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("run_id")
	if err != nil {
		return mcp.NewToolResultError("run_id is required"), nil
	}
	if err := t.op.ResumeRun(ctx, id); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to resume run: %v", err)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Resumed run '%s'", id)), nil
}

func (t *MCPTools) handleRunList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := 0
	if v, ok := req.GetArguments()["limit"].(float64); ok && v > 0 {
		limit = int(v)
	}
	runs, err := t.op.ListRuns(ctx, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to list runs: %v", err)), nil
	}
	if runs == nil {
		runs = []run.Summary{}
	}
	return jsonResult(map[string]interface{}{
		"runs":  runs,
		"total": len(runs),
	})
}

func (t *MCPTools) handlePlanShow(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	plan, err := t.op.Plan(ctx, stringArg(args, "stage"), splitList(stringArg(args, "components")))
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to plan: %v", err)), nil
	}
	return jsonResult(plan)
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func stringArg(args map[string]interface{}, key string) string {
	if s, ok := args[key].(string); ok {
		return s
	}
	return ""
}

func boolArg(args map[string]interface{}, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// MCPServer serves the operator tools over SSE.
type MCPServer struct {
	sse *server.SSEServer
}

// NewMCPServer builds an SSE MCP server for op. baseURL is the externally
// reachable address advertised to clients.
func NewMCPServer(op Operator, version, baseURL string) *MCPServer {
	s := server.NewMCPServer(
		"wavectl",
		version,
		server.WithToolCapabilities(true),
	)
	s.AddTools(NewMCPTools(op).ServerTools()...)

	sse := server.NewSSEServer(
		s,
		server.WithBaseURL(baseURL),
		server.WithSSEEndpoint("/sse"),
		server.WithMessageEndpoint("/message"),
		server.WithKeepAlive(true),
		server.WithKeepAliveInterval(30*time.Second),
	)
	return &MCPServer{sse: sse}
}

// ListenAndServe serves on addr until ctx is cancelled.
func (m *MCPServer) ListenAndServe(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info("MCP", "Starting MCP server on %s", addr)
		errCh <- m.sse.Start(addr)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.sse.Shutdown(shutdownCtx); err != nil {
		logging.Warn("MCP", "Shutdown: %v", err)
	}
	return nil
}
