// Package api serves the admin HTTP API: a safe configuration view and
// update, ledger statistics and feed health.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/evdnx/golog"
	"github.com/gin-gonic/gin"

	"github.com/kylerberry/JACT/config"
	"github.com/kylerberry/JACT/exchange"
	"github.com/kylerberry/JACT/internal/logutil"
	"github.com/kylerberry/JACT/ledger"
	"github.com/kylerberry/JACT/security"
	"github.com/kylerberry/JACT/trader"
)

const (
	apiComponent        = "admin_api"
	shutdownTimeout     = 5 * time.Second
	RequestIDContextKey = "request_id"
	RequestIDHeaderKey  = "X-Request-ID"
)

// ConfigStore reads and updates the running configuration.
type ConfigStore interface {
	SafeView() config.Config
	Set(key string, value interface{}) error
}

// StatsSource provides the ledger summary.
type StatsSource interface {
	Info() ledger.Summary
}

// SnapshotSource provides the controller state.
type SnapshotSource interface {
	Snapshot() trader.Snapshot
}

// HealthSource reports the market data feed status.
type HealthSource interface {
	Health() exchange.FeedHealth
}

// Deps are the sources the API reads from. Snapshot and Health may be nil.
type Deps struct {
	Config   ConfigStore
	Stats    StatsSource
	Snapshot SnapshotSource
	Health   HealthSource
	// Auth protects everything except /health when set.
	Auth *security.TokenMiddleware
}

// Server is the admin HTTP server.
type Server struct {
	deps   Deps
	logger *golog.Logger
	server *http.Server
}

// NewServer creates a server bound to listen.
func NewServer(listen string, deps Deps) *Server {
	s := &Server{deps: deps, logger: logutil.Default()}
	s.server = &http.Server{
		Addr:              listen,
		Handler:           s.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// SetupRoutes configures all API routes
func (s *Server) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(requestIDMiddleware())
	router.Use(s.loggerMiddleware())
	router.Use(gin.Recovery())

	router.GET("/health", s.HealthCheck)

	protected := router.Group("/")
	if s.deps.Auth != nil {
		protected.Use(s.deps.Auth.Handler())
	}
	protected.GET("/config", s.GetConfig)
	protected.PATCH("/config", s.PatchConfig)
	protected.GET("/stats", s.GetStats)

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not Found"})
	})
	return router
}

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin api listening",
			golog.String("component", apiComponent),
			golog.String("addr", s.server.Addr),
		)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	}
}
