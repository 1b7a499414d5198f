package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"wavectl/internal/component"
	"wavectl/internal/metrics"
	"wavectl/internal/run"
	"wavectl/pkg/logging"
)

// StartRunRequest is the body of POST /api/v1/runs.
type StartRunRequest struct {
	Stage             string   `json:"stage"`
	Components        []string `json:"components,omitempty" binding:"omitempty,dive,required"`
	DryRun            bool     `json:"dryRun,omitempty"`
	RollbackOnFailure bool     `json:"rollbackOnFailure,omitempty"`
	FailFast          bool     `json:"failFast,omitempty"`
}

// Options converts the request into run options.
func (r StartRunRequest) Options() run.Options {
	return run.Options{
		DryRun:            r.DryRun,
		Components:        r.Components,
		RollbackOnFailure: r.RollbackOnFailure,
		FailFast:          r.FailFast,
	}
}

// StartRunResponse carries the new run's ID.
type StartRunResponse struct {
	RunID string `json:"runId"`
}

// ComponentInfo is the wire form of a catalog entry.
type ComponentInfo struct {
	Name        string   `json:"name"`
	Wave        int      `json:"wave"`
	DependsOn   []string `json:"dependsOn,omitempty"`
	Optional    bool     `json:"optional,omitempty"`
	DeployKind  string   `json:"deployKind"`
	HealthCheck string   `json:"healthCheck,omitempty"`
}

func componentInfo(c component.Component) ComponentInfo {
	return ComponentInfo{
		Name:        c.Name,
		Wave:        c.Wave,
		DependsOn:   c.DependsOn,
		Optional:    c.Optional,
		DeployKind:  c.Deploy.Kind,
		HealthCheck: c.Health.Kind,
	}
}

// Server exposes a Service over HTTP.
type Server struct {
	svc     *Service
	metrics *metrics.Metrics
	router  *gin.Engine
}

// NewServer builds the router. m may be nil, in which case /metrics is not
// served.
func NewServer(svc *Service, m *metrics.Metrics) *Server {
	s := &Server{svc: svc, metrics: m, router: gin.New()}
	s.router.Use(gin.Recovery(), requestLogger())
	s.registerRoutes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// registerRoutes registers the operator endpoints:
//
//	POST /api/v1/runs                - start a run
//	GET  /api/v1/runs                - list runs, newest first (?limit=n)
//	GET  /api/v1/runs/:id            - run status with per-component breakdown
//	POST /api/v1/runs/:id/cancel     - cancel the executing run
//	POST /api/v1/runs/:id/rollback   - roll back a finished run
//	POST /api/v1/runs/:id/resume     - resume a failed or interrupted run
//	GET  /api/v1/plan                - preview a plan (?stage=&component=)
//	GET  /api/v1/components          - list the catalog
//	GET  /healthz
//	GET  /metrics
func (s *Server) registerRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	v1.POST("/runs", s.handleStartRun)
	v1.GET("/runs", s.handleListRuns)
	v1.GET("/runs/:id", s.handleGetRun)
	v1.POST("/runs/:id/cancel", s.handleCancelRun)
	v1.POST("/runs/:id/rollback", s.handleRollbackRun)
	v1.POST("/runs/:id/resume", s.handleResumeRun)
	v1.GET("/plan", s.handlePlan)
	v1.GET("/components", s.handleComponents)
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info("API", "Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logging.Debug("API", "%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code := errorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case CodeRunNotFound:
		status = http.StatusNotFound
	case CodeRunInProgress, CodeRunNotActive, CodeNotRollbackable, CodeNotResumable:
		status = http.StatusConflict
	case CodePlanning:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logging.Error("API", err, "%s %s failed", c.Request.Method, c.Request.URL.Path)
	}
	c.JSON(status, ErrorResponse{Code: code, Error: err.Error()})
}

func (s *Server) handleStartRun(c *gin.Context) {
	var req StartRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: CodeBadRequest, Error: err.Error()})
		return
	}
	id, err := s.svc.StartRun(c.Request.Context(), req.Stage, req.Options())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, StartRunResponse{RunID: id})
}

func (s *Server) handleListRuns(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: CodeBadRequest, Error: "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	runs, err := s.svc.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	if runs == nil {
		runs = []run.Summary{}
	}
	c.JSON(http.StatusOK, runs)
}

func (s *Server) handleGetRun(c *gin.Context) {
	r, err := s.svc.GetRunStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) handleCancelRun(c *gin.Context) {
	if err := s.svc.CancelRun(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleRollbackRun(c *gin.Context) {
	if err := s.svc.RollbackRun(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handleResumeRun(c *gin.Context) {
	if err := s.svc.ResumeRun(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

func (s *Server) handlePlan(c *gin.Context) {
	var names []string
	for _, v := range c.QueryArray("component") {
		for _, n := range strings.Split(v, ",") {
			if n = strings.TrimSpace(n); n != "" {
				names = append(names, n)
			}
		}
	}
	plan, err := s.svc.Plan(c.Request.Context(), c.Query("stage"), names)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

func (s *Server) handleComponents(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.ComponentInfos())
}
