// Package http provides the HTTP server, router assembly and middleware.
package http

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/allisson/syncbridge/internal/metrics"
	traceHTTP "github.com/allisson/syncbridge/internal/trace/http"
	webhookHTTP "github.com/allisson/syncbridge/internal/webhook/http"
)

// RouterConfig holds the handlers and middleware knobs for router assembly.
type RouterConfig struct {
	WebhookHandler *webhookHTTP.WebhookHandler
	TraceHandler   *traceHTTP.TraceHandler

	// MeterProvider enables HTTP request metrics when non-nil.
	MeterProvider    otelmetric.MeterProvider
	MetricsNamespace string

	// RateLimitRPS enables per-sender webhook rate limiting when > 0.
	RateLimitRPS   float64
	RateLimitBurst int

	CORSEnabled      bool
	CORSAllowOrigins string
}

// Server represents the HTTP server.
type Server struct {
	db     *sql.DB
	server *http.Server
	router *gin.Engine
	logger *slog.Logger
}

// NewServer creates a new HTTP server. The router is assembled by
// SetupRouter; Start falls back to a minimal health-only router when
// SetupRouter was never called.
func NewServer(
	db *sql.DB,
	host string,
	port int,
	logger *slog.Logger,
) *Server {
	return &Server{
		db:     db,
		logger: logger,
		server: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", host, port),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// SetupRouter assembles the Gin router: request ids, recovery, logging,
// optional CORS, metrics and rate limiting, then the application routes.
func (s *Server) SetupRouter(cfg RouterConfig) {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(s.logger))

	if corsMiddleware := createCORSMiddleware(cfg.CORSEnabled, cfg.CORSAllowOrigins, s.logger); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}
	if cfg.MeterProvider != nil {
		router.Use(metrics.HTTPMetricsMiddleware(cfg.MeterProvider, cfg.MetricsNamespace))
	}

	// Health and readiness endpoints
	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)

	// Webhook ingress, rate limited per sender
	if cfg.WebhookHandler != nil {
		webhooks := router.Group("/webhooks")
		if cfg.RateLimitRPS > 0 {
			webhooks.Use(RateLimitMiddleware(cfg.RateLimitRPS, cfg.RateLimitBurst, s.logger))
		}
		webhooks.POST("/fieldpro", cfg.WebhookHandler.FieldProHandler)
		webhooks.POST("/taskhub", cfg.WebhookHandler.TaskHubHandler)
	}

	// Read-only trace inspection API
	if cfg.TraceHandler != nil {
		v1 := router.Group("/v1")
		v1.GET("/traces/:trace_id", cfg.TraceHandler.GetHandler)
		v1.GET("/flows", cfg.TraceHandler.ListHandler)
	}

	s.router = router
}

// GetHandler returns the http.Handler for testing purposes.
func (s *Server) GetHandler() http.Handler {
	if s.router == nil {
		s.SetupRouter(RouterConfig{})
	}
	return s.router
}

// Start starts the HTTP server. Blocks until the listener fails or Shutdown
// is called.
func (s *Server) Start(ctx context.Context) error {
	if s.router == nil {
		s.SetupRouter(RouterConfig{})
	}
	s.server.Handler = s.router

	s.logger.Info("starting http server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}

// healthHandler reports process liveness.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessHandler reports readiness to take traffic: the database must be
// reachable, because every accepted webhook records an execution trace.
func (s *Server) readinessHandler(c *gin.Context) {
	components := gin.H{"database": "ok"}

	ready := s.db != nil
	if ready {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := s.db.PingContext(pingCtx); err != nil {
			ready = false
		}
	}

	if !ready {
		components["database"] = "error"
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "components": components})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ready", "components": components})
}
