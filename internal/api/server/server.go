// Package server serves the operations endpoints of the ledger worker: liveness with the
// committed event cursor, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/feral-file/ff-margin-indexer/internal/api/middleware"
	"github.com/feral-file/ff-margin-indexer/internal/domain"
	"github.com/feral-file/ff-margin-indexer/internal/logger"
	"github.com/feral-file/ff-margin-indexer/internal/store"
)

const healthCheckTimeout = 3 * time.Second

// Config holds the server configuration
type Config struct {
	Debug         bool
	ListenAddress string
	Service       string
	Chain         domain.Chain
}

// Server wraps the HTTP server
type Server struct {
	config     Config
	cursors    store.CursorStore
	gatherer   prometheus.Gatherer
	httpServer *http.Server
}

// New creates a new operations server
func New(cfg Config, cursors store.CursorStore, gatherer prometheus.Gatherer) *Server {
	return &Server{
		config:   cfg,
		cursors:  cursors,
		gatherer: gatherer,
	}
}

// Handler builds the router serving the operations endpoints
func (s *Server) Handler() http.Handler {
	// Set Gin mode based on debug flag
	if s.config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger())

	router.GET("/healthz", s.healthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	return router
}

// healthCheck reports the position of the last committed event.
// The database being unreachable makes the worker unhealthy.
func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	cursor, err := s.cursors.GetEventCursor(ctx, string(s.config.Chain))
	if err != nil {
		logger.WarnCtx(ctx, "Health check failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "unavailable",
			"service": s.config.Service,
			"error":   err.Error(),
		})
		return
	}

	body := gin.H{
		"status":  "ok",
		"service": s.config.Service,
		"chain":   s.config.Chain,
	}
	if cursor != nil {
		body["cursor"] = cursor.String()
	}

	c.JSON(http.StatusOK, body)
}

// Start initializes and starts the HTTP server
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Starting operations server",
		zap.String("address", s.config.ListenAddress),
	)

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	logger.Info("Shutting down operations server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown server: %w", err)
		}
	}

	return nil
}
