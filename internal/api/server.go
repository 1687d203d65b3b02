package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GilMM/caseflow/internal/config"
	"github.com/GilMM/caseflow/internal/ingest"
	"github.com/GilMM/caseflow/internal/logging"
	"github.com/GilMM/caseflow/internal/mailbox"
	"github.com/GilMM/caseflow/internal/metrics"
	"github.com/GilMM/caseflow/internal/store"
	"github.com/GilMM/caseflow/internal/vault"
)

// Dependencies carries the wired pipeline components the server exposes.
type Dependencies struct {
	Store       store.Store
	Vault       *vault.Vault
	Factory     mailbox.Factory
	Pipeline    *ingest.Pipeline
	Coordinator *ingest.Coordinator
	RelayAuth   *ingest.RelayAuthenticator
	SheetAuth   *ingest.SheetAuthenticator
	Metrics     *metrics.Metrics
	Logger      *logging.Logger
}

// Server is the HTTP surface of the ingestion pipeline.
type Server struct {
	router     *gin.Engine
	config     config.ServerConfig
	apiConfig  config.APIConfig
	deps       Dependencies
	logger     *logging.Logger
	metrics    *metrics.Metrics
	limiter    *IPRateLimiter
	httpServer *http.Server
}

// Router returns the gin router for testing purposes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer creates the API server with all middleware and routes wired.
func NewServer(cfg config.ServerConfig, apiCfg config.APIConfig, deps Dependencies) *Server {
	gin.SetMode(gin.ReleaseMode)

	logger := deps.Logger
	if logger == nil {
		logger = logging.NewLogger()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewMetrics("caseflow")
	}

	server := &Server{
		router:    gin.New(),
		config:    cfg,
		apiConfig: apiCfg,
		deps:      deps,
		logger:    logger,
		metrics:   m,
		limiter:   newIPRateLimiter(time.Minute/1000, 100),
	}
	server.router.HandleMethodNotAllowed = true

	server.router.Use(gin.Recovery())
	server.router.Use(rateLimitMiddleware(server.limiter))
	server.router.Use(bodyLimitMiddleware(1 << 20))
	server.router.Use(metrics.Middleware(m, logger))
	server.router.Use(loggingMiddleware(logger))

	server.setupRoutes()
	return server
}

// loggingMiddleware attaches a correlation ID and logs request completion.
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}
		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		logger.InfoWithContext(ctx, "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(start).Seconds(),
		)
	}
}

func (s *Server) setupRoutes() {
	// Unauthenticated: liveness and Prometheus scrape.
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	s.router.GET("/healthz", s.handleHealth)

	adminAuth := APIKeyAuth(s.apiConfig.Auth.APIKeys, s.apiConfig.Auth.HeaderName, s.logger)
	dispatchAuth := DispatchAuth(s.apiConfig.Auth.DispatchSecret, s.logger)

	// Scheduler-facing dispatch endpoints.
	dispatchGroup := s.router.Group("")
	dispatchGroup.Use(dispatchAuth)
	{
		dispatchGroup.GET("/ingest/poll-sweep", s.handlePollSweep)
		dispatchGroup.POST("/ingest/poll", s.handlePoll)
	}

	// Tenant-admin operations.
	adminGroup := s.router.Group("")
	adminGroup.Use(adminAuth)
	{
		adminGroup.POST("/ingest/check-now", s.handleCheckNow)
		adminGroup.POST("/ingest/mailbox/connect", s.handleMailboxConnect)
		adminGroup.POST("/ingest/mailbox/enable", s.handleMailboxEnable)
		adminGroup.POST("/ingest/mailbox/disconnect", s.handleMailboxDisconnect)
		adminGroup.GET("/ingest/status", s.handleStatus)
	}

	// Push channels authenticate per request, not per route group: the
	// relay signature lives in the form body, the sheet secret in a header.
	s.router.POST("/ingest/email-relay", s.handleEmailRelay)
	s.router.POST("/ingest/sheet-row", s.handleSheetRow)
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)
	if s.httpServer == nil {
		s.httpServer = NewHTTPServer(addr, s.router)
	}
	s.logger.Info("starting HTTP server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// StartWithServer starts the server with a pre-configured http.Server.
func (s *Server) StartWithServer(srv *http.Server) error {
	s.httpServer = srv
	s.logger.Info("starting HTTP server", "addr", srv.Addr)
	return srv.ListenAndServe()
}

// Shutdown gracefully stops the HTTP listener and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	if s.httpServer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.httpServer.Shutdown(ctx); err != nil {
				errs <- fmt.Errorf("http shutdown: %w", err)
			}
		}()
	}

	if s.deps.Store != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.deps.Store.Close(); err != nil {
				errs <- fmt.Errorf("store close: %w", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	close(errs)
	var errList []error
	for err := range errs {
		errList = append(errList, err)
	}
	if len(errList) > 0 {
		return fmt.Errorf("shutdown errors: %v", errList)
	}

	s.logger.Info("graceful shutdown completed")
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	stats := s.deps.Store.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":       "healthy",
		"timestamp":    time.Now().UTC(),
		"integrations": stats.IntegrationCount,
		"cases":        stats.CaseCount,
	})
}
