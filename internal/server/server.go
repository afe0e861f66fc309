// Package server exposes the HTTP API for submitting and inspecting
// analysis requests, plus health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/analyzd/internal/analysis"
	"github.com/fyrsmithlabs/analyzd/internal/config"
	"github.com/fyrsmithlabs/analyzd/internal/logging"
	"github.com/fyrsmithlabs/analyzd/internal/orchestrator"
	"github.com/fyrsmithlabs/analyzd/internal/store"
)

// Server is the analyzd HTTP API.
type Server struct {
	echo         *echo.Echo
	cfg          config.ServerConfig
	store        store.Store
	consolidator *orchestrator.Consolidator
	correlation  *orchestrator.Correlation
	prompts      *analysis.PromptRegistry
	logger       *logging.Logger
}

// New builds the server and registers its routes.
func New(
	cfg config.ServerConfig,
	st store.Store,
	consolidator *orchestrator.Consolidator,
	correlation *orchestrator.Correlation,
	prompts *analysis.PromptRegistry,
	logger *logging.Logger,
) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:         e,
		cfg:          cfg,
		store:        st,
		consolidator: consolidator,
		correlation:  correlation,
		prompts:      prompts,
		logger:       logger.Named("server"),
	}

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api")
	api.POST("/requests", s.handleCreateRequest)
	api.GET("/requests", s.handleListRequests)
	api.GET("/requests/:id", s.handleGetRequest)
	api.GET("/requests/:id/findings", s.handleListFindings)
	api.GET("/requests/:id/summary", s.handleGetSummary)

	return s
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.logger.Info(context.Background(), "http server starting", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout.Duration())
	defer cancel()
	return s.echo.Shutdown(ctx)
}
