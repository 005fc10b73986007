// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/riskwatch/internal/circuitbreaker"
	"github.com/mbd888/riskwatch/internal/config"
	"github.com/mbd888/riskwatch/internal/detection"
	"github.com/mbd888/riskwatch/internal/health"
	"github.com/mbd888/riskwatch/internal/kvstore"
	"github.com/mbd888/riskwatch/internal/logging"
	"github.com/mbd888/riskwatch/internal/metrics"
	"github.com/mbd888/riskwatch/internal/ratelimit"
	"github.com/mbd888/riskwatch/internal/risk"
	"github.com/mbd888/riskwatch/internal/security"
	"github.com/mbd888/riskwatch/internal/validation"
)

// Version is reported by the health endpoint. Overridden at build time.
var Version = "0.1.0"

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg     *config.Config
	backend kvstore.Store
	store   *kvstore.Instrumented
	closers []func() error
	db      *sql.DB // nil unless using postgres
	configs *risk.ConfigStore
	runner  *detection.Runner
	timer   *detection.Timer
	health  *health.Registry
	limiter *ratelimit.Limiter
	router  *gin.Engine
	httpSrv *http.Server
	logger  *slog.Logger

	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore uses store instead of the configured backend (for testing)
func WithStore(store kvstore.Store) Option {
	return func(s *Server) {
		s.backend = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, cfg.LogFormat),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	if s.backend == nil {
		store, err := s.openStore(ctx)
		if err != nil {
			return nil, err
		}
		s.backend = store
	}
	guarded := s.backend
	if bc := cfg.Store.Breaker; bc.Threshold > 0 {
		guarded = kvstore.Guard(s.backend, circuitbreaker.New(bc.Threshold, bc.OpenDuration))
	}
	s.store = kvstore.Instrument(guarded)

	riskCfg := risk.DefaultConfig()
	riskCfg.RiskThreshold = cfg.Risk.Threshold
	riskCfg.CooldownDays = cfg.Risk.CooldownDays
	configs, err := risk.NewConfigStore(riskCfg)
	if err != nil {
		s.closeStore()
		return nil, fmt.Errorf("initial risk config: %w", err)
	}
	s.configs = configs

	s.runner = detection.NewRunner(s.store, s.configs, s.logger,
		detection.WithWorkers(cfg.Jobs.ComputeWorkers))
	s.timer = detection.NewTimer(s.runner, cfg.Jobs.Interval, cfg.Jobs.WindowDays, s.logger)
	s.logger.Info("detection runner configured",
		"workers", cfg.Jobs.ComputeWorkers,
		"interval", cfg.Jobs.Interval,
		"window_days", cfg.Jobs.WindowDays,
	)

	s.health = health.NewRegistry()
	s.health.Register("kvstore", health.PingChecker("kvstore", s.store, 3*time.Second))
	s.health.Register("job_runner", s.runnerChecker)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

// runnerChecker reports the runner unhealthy when its last job failed.
func (s *Server) runnerChecker(_ context.Context) health.Status {
	st := health.Status{Name: "job_runner", Healthy: true, Detail: string(s.runner.State())}
	if last := s.runner.LastResult(); last != nil && last.Status == detection.StatusFailed {
		st.Healthy = false
		st.Detail = fmt.Sprintf("last %s job failed: %s", last.JobType, last.Error)
	}
	return st
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	s.router.Use(security.HeadersMiddleware())

	if len(s.cfg.HTTP.CORSOrigins) > 0 {
		s.router.Use(security.CORSMiddleware(s.cfg.HTTP.CORSOrigins))
	}

	s.router.Use(validation.RequestSizeMiddleware(s.cfg.HTTP.MaxBodyBytes))

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Debug("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health and metrics
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	if s.cfg.HTTP.RateLimitPerMinute > 0 {
		s.limiter = ratelimit.New(ratelimit.Config{
			RequestsPerMinute: s.cfg.HTTP.RateLimitPerMinute,
			BurstSize:         s.cfg.HTTP.RateLimitBurst,
			CleanupInterval:   time.Minute,
		})
		v1.Use(s.limiter.Middleware())
	}
	v1.Use(validation.IDParamMiddleware())
	risk.NewHandler(s.configs, s.logger).RegisterRoutes(v1)
	detection.NewHandler(s.runner, s.cfg.Jobs.WindowDays).RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.health.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy: " + st.Detail
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Addr(),
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// job triggers run synchronously
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server",
			"addr", s.cfg.Addr(),
			"store", s.cfg.Store.Backend,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.timer.Start(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.ready.Store(true)
	s.logger.Info("server ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		_ = s.Shutdown()
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server. In-flight jobs see their context
// cancelled and finish as failed runs.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	s.timer.Stop()

	var shutdownErr error
	if s.httpSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			shutdownErr = err
		}
	}

	if s.limiter != nil {
		s.limiter.Stop()
	}

	s.closeStore()

	s.logger.Info("server stopped")
	return shutdownErr
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Runner returns the job runner.
func (s *Server) Runner() *detection.Runner {
	return s.runner
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
