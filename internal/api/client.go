package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"wavectl/internal/run"
	"wavectl/internal/scheduler"
)

// DefaultPollInterval is how often Client.Wait polls the server.
const DefaultPollInterval = 2 * time.Second

// Client talks to a `wavectl serve` instance.
type Client struct {
	http         *resty.Client
	PollInterval time.Duration
}

// NewClient creates a client for the server at baseURL.
func NewClient(baseURL string) *Client {
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Accept", "application/json").
		SetTimeout(30 * time.Second)
	return &Client{http: c, PollInterval: DefaultPollInterval}
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, query map[string]string) error {
	req := c.http.R().SetContext(ctx).SetError(&ErrorResponse{})
	if body != nil {
		req.SetBody(body)
	}
	if out != nil {
		req.SetResult(out)
	}
	for k, v := range query {
		if v != "" {
			req.SetQueryParam(k, v)
		}
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	if !resp.IsError() {
		return nil
	}
	if e, ok := resp.Error().(*ErrorResponse); ok && e.Code != "" {
		return &RemoteError{Status: resp.StatusCode(), Code: e.Code, Msg: e.Error}
	}
	return &RemoteError{
		Status: resp.StatusCode(),
		Code:   CodeInternal,
		Msg:    fmt.Sprintf("%s %s: unexpected status %s", method, path, resp.Status()),
	}
}

// StartRun starts a run on the server and returns its ID.
func (c *Client) StartRun(ctx context.Context, stage string, opts run.Options) (string, error) {
	req := StartRunRequest{
		Stage:             stage,
		Components:        opts.Components,
		DryRun:            opts.DryRun,
		RollbackOnFailure: opts.RollbackOnFailure,
		FailFast:          opts.FailFast,
	}
	var resp StartRunResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/runs", req, &resp, nil); err != nil {
		return "", err
	}
	return resp.RunID, nil
}

// GetRunStatus fetches a run with its per-component breakdown.
func (c *Client) GetRunStatus(ctx context.Context, runID string) (*run.DeploymentRun, error) {
	var r run.DeploymentRun
	if err := c.do(ctx, http.MethodGet, "/api/v1/runs/"+runID, nil, &r, nil); err != nil {
		return nil, err
	}
	return &r, nil
}

// CancelRun asks the server to cancel the run.
func (c *Client) CancelRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/runs/"+runID+"/cancel", nil, nil, nil)
}

// RollbackRun asks the server to roll the run back.
func (c *Client) RollbackRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/runs/"+runID+"/rollback", nil, nil, nil)
}

// ResumeRun asks the server to resume the run.
func (c *Client) ResumeRun(ctx context.Context, runID string) error {
	return c.do(ctx, http.MethodPost, "/api/v1/runs/"+runID+"/resume", nil, nil, nil)
}

// ListRuns lists recent runs, newest first.
func (c *Client) ListRuns(ctx context.Context, limit int) ([]run.Summary, error) {
	var out []run.Summary
	query := map[string]string{}
	if limit > 0 {
		query["limit"] = strconv.Itoa(limit)
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/runs", nil, &out, query); err != nil {
		return nil, err
	}
	return out, nil
}

// Plan previews the execution layout of a stage.
func (c *Client) Plan(ctx context.Context, stage string, components []string) (*scheduler.Plan, error) {
	var p scheduler.Plan
	query := map[string]string{"stage": stage, "component": strings.Join(components, ",")}
	if err := c.do(ctx, http.MethodGet, "/api/v1/plan", nil, &p, query); err != nil {
		return nil, err
	}
	return &p, nil
}

// Components lists the server's catalog.
func (c *Client) Components(ctx context.Context) ([]ComponentInfo, error) {
	var out []ComponentInfo
	if err := c.do(ctx, http.MethodGet, "/api/v1/components", nil, &out, nil); err != nil {
		return nil, err
	}
	return out, nil
}

// Wait polls until the run reaches a terminal status.
func (c *Client) Wait(ctx context.Context, runID string) (*run.DeploymentRun, error) {
	interval := c.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		r, err := c.GetRunStatus(ctx, runID)
		if err != nil {
			return nil, err
		}
		if r.Status.Terminal() {
			return r, nil
		}
		select {
		case <-ctx.Done():
			return r, ctx.Err()
		case <-ticker.C:
		}
	}
}

