// Package api exposes the platform over HTTP under /api/nexus. The server
// is a thin collaborator: each handler validates its request, delegates to
// one subsystem handle and renders JSON. Endpoints whose subsystem is not
// wired degrade to an empty payload instead of failing.
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/theanh97/nexus-nuance-sub001/internal/action"
	"github.com/theanh97/nexus-nuance-sub001/internal/backup"
	"github.com/theanh97/nexus-nuance-sub001/internal/budget"
	"github.com/theanh97/nexus-nuance-sub001/internal/bus"
	"github.com/theanh97/nexus-nuance-sub001/internal/config"
	"github.com/theanh97/nexus-nuance-sub001/internal/debugger"
	"github.com/theanh97/nexus-nuance-sub001/internal/learning"
	"github.com/theanh97/nexus-nuance-sub001/internal/loop"
	"github.com/theanh97/nexus-nuance-sub001/internal/memory"
	"github.com/theanh97/nexus-nuance-sub001/internal/metrics"
	"github.com/theanh97/nexus-nuance-sub001/internal/nexuserr"
	"github.com/theanh97/nexus-nuance-sub001/internal/proposal"
	"github.com/theanh97/nexus-nuance-sub001/internal/ratelimit"
	"github.com/theanh97/nexus-nuance-sub001/internal/scout"
	"github.com/theanh97/nexus-nuance-sub001/internal/skills"
	"github.com/theanh97/nexus-nuance-sub001/internal/storage"
)

// Deps are the subsystem handles the server renders.
type Deps struct {
	Config    *config.Config
	Memory    *memory.Store
	Cache     *memory.QueryCache
	Skills    *skills.Tracker
	Tasks     *loop.Loop
	Learning  *learning.Loop
	Actions   *action.Executor
	Proposals *proposal.Engine
	Debug     *debugger.Debugger
	Budget    *budget.Tracker
	Scout     *scout.Scout
	Backups   *backup.Manager
	Bus       *bus.Bus
	Metrics   *metrics.Requests
	Limiter   *ratelimit.Limiter
	Store     *storage.Store

	// Start launches the background loops once and reports whether this
	// call started them; Running reports the current state.
	Start   func() bool
	Running func() bool

	// Health captures the platform health snapshot on demand.
	Health func(context.Context) storage.HealthSnapshot
}

// Server carries the handles and the clock.
type Server struct {
	deps    Deps
	log     *zap.Logger
	now     func() time.Time
	started time.Time
}

// NewServer wires the handlers around deps. Missing metrics and limiter
// handles get working defaults so the middleware chain is always complete.
func NewServer(deps Deps, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Limiter == nil {
		perMinute := 30
		if deps.Config != nil && deps.Config.API.RateLimitPerMinute > 0 {
			perMinute = deps.Config.API.RateLimitPerMinute
		}
		deps.Limiter = ratelimit.New(perMinute, time.Minute)
	}
	return &Server{deps: deps, log: log, now: time.Now, started: time.Now().UTC()}
}

// Router builds the gin engine with the full route table.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.timing())

	g := r.Group("/api/nexus")
	g.GET("/status", s.Status)
	g.POST("/start", s.StartLoops)
	g.POST("/learn", s.rateLimited(), s.Learn)
	g.POST("/feedback", s.rateLimited(), s.Feedback)
	g.POST("/task", s.rateLimited(), s.ReportTask)
	g.POST("/search", s.rateLimited(), s.Search)
	g.GET("/skills", s.Skills)
	g.GET("/memory", s.Memory)
	g.GET("/cycles", s.Cycles)
	g.POST("/execute", s.rateLimited(), s.Execute)
	g.GET("/safety", s.Safety)
	g.GET("/trust-metrics", s.TrustMetrics)
	g.GET("/skill-recommendation/:task_type", s.SkillRecommendation)
	g.GET("/budget-projection", s.BudgetProjection)
	g.GET("/source-quality", s.SourceQuality)
	g.GET("/system-overview", s.SystemOverview)
	g.GET("/health", s.Health)
	g.GET("/self-diagnostic", s.SelfDiagnostic)
	g.POST("/maintenance", s.Maintenance)
	g.GET("/metrics", s.Metrics)
	g.GET("/events", s.Events)
	g.POST("/backup", s.CreateBackup)
	g.GET("/backups", s.ListBackups)
	g.POST("/restore/:backup_name", s.Restore)
	g.GET("/system-health", s.SystemHealth)
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests within
// the configured shutdown grace.
func (s *Server) Run(ctx context.Context) error {
	addr := ":8300"
	grace := 10 * time.Second
	if cfg := s.deps.Config; cfg != nil {
		if cfg.API.Addr != "" {
			addr = cfg.API.Addr
		}
		if cfg.API.GracefulShutdownSeconds > 0 {
			grace = time.Duration(cfg.API.GracefulShutdownSeconds) * time.Second
		}
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info("api listening", zap.String("addr", addr))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	<-errCh
	s.log.Info("api stopped")
	return nil
}

// renderError maps an error kind onto an HTTP status.
func (s *Server) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch nexuserr.KindOf(err) {
	case nexuserr.KindValidation:
		status = http.StatusUnprocessableEntity
	case nexuserr.KindNotFound:
		status = http.StatusNotFound
	case nexuserr.KindPolicyDenied:
		status = http.StatusForbidden
	case nexuserr.KindTimeout:
		status = http.StatusGatewayTimeout
	case nexuserr.KindTransient:
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// notWired answers 503 for an endpoint whose subsystem handle is missing.
func notWired(c *gin.Context, what string) {
	c.JSON(http.StatusServiceUnavailable, gin.H{"error": what + " not wired"})
}

// bindJSON decodes the body and validates it. A false return means the 422
// response has already been written.
func bindJSON[T interface{ Validate() *FieldError }](c *gin.Context, req T) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid json: " + err.Error()})
		return false
	}
	if ferr := req.Validate(); ferr != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": ferr.Message, "field": ferr.Field})
		return false
	}
	return true
}

// queryInt parses an optional non-negative integer query parameter.
func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
