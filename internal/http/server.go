// Package http provides the knowledged HTTP API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/logging"
	"github.com/fyrsmithlabs/knowledged/internal/orchestrator"
	"github.com/fyrsmithlabs/knowledged/internal/store"
	"github.com/fyrsmithlabs/knowledged/internal/tenant"
	"github.com/fyrsmithlabs/knowledged/internal/workflows"
)

// Service is the orchestrator surface the API drives.
type Service interface {
	Setup(ctx context.Context, in orchestrator.SetupInput) (*orchestrator.Result, error)
	UpdateAgentConfig(ctx context.Context, tenantID string) (*orchestrator.Result, error)
	UpdateServicesConfig(ctx context.Context, tenantID string) (*orchestrator.Result, error)
	Resync(ctx context.Context, tenantID string) (*orchestrator.Result, error)
	Offboard(ctx context.Context, tenantID string) (*orchestrator.Result, error)
	Status(ctx context.Context, tenantID string) (*orchestrator.Status, error)
	Search(ctx context.Context, tenantID, query string, topK int) ([]orchestrator.Match, error)
}

// Rows writes tenant rows ahead of an update and reads the journal.
type Rows interface {
	SaveProfile(ctx context.Context, tenantID string, p tenant.Profile) error
	SaveServices(ctx context.Context, tenantID string, services []tenant.Service) error
	Operations(ctx context.Context, tenantID string, limit int) ([]store.Operation, error)
	OperationHistory(ctx context.Context, operationID string) ([]store.Operation, error)
}

// FleetStarter starts a fleet resync workflow and returns its id.
type FleetStarter interface {
	StartFleetResync(ctx context.Context, in workflows.FleetResyncInput) (string, error)
}

// FleetStarterFunc adapts a function to FleetStarter.
type FleetStarterFunc func(ctx context.Context, in workflows.FleetResyncInput) (string, error)

// StartFleetResync calls f.
func (f FleetStarterFunc) StartFleetResync(ctx context.Context, in workflows.FleetResyncInput) (string, error) {
	return f(ctx, in)
}

// Server provides HTTP endpoints for knowledged.
type Server struct {
	echo   *echo.Echo
	svc    Service
	rows   Rows
	fleet  FleetStarter
	logger *logging.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(svc Service, rows Rows, logger *logging.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("knowledge service cannot be nil")
	}
	if rows == nil {
		return nil, fmt.Errorf("row store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8420,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(requestLogger(logger))

	s := &Server{
		echo:   e,
		svc:    svc,
		rows:   rows,
		logger: logger,
		config: cfg,
	}
	s.registerRoutes()
	return s, nil
}

// SetFleetStarter enables POST /api/v1/fleet/resync. Must be called
// before Start.
func (s *Server) SetFleetStarter(f FleetStarter) {
	s.fleet = f
}

// requestLogger attaches the request id to the request context and logs
// each request once it finishes.
func requestLogger(logger *logging.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			ctx := logging.WithRequestID(req.Context(), c.Response().Header().Get(echo.HeaderXRequestID))
			c.SetRequest(req.WithContext(ctx))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info(ctx, "http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
			)
			return nil
		}
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/tenants", s.handleSetup)
	v1.PUT("/tenants/:id/config", s.handleUpdateConfig)
	v1.PUT("/tenants/:id/services", s.handleUpdateServices)
	v1.POST("/tenants/:id/resync", s.handleResync)
	v1.DELETE("/tenants/:id", s.handleOffboard)
	v1.GET("/tenants/:id/status", s.handleStatus)
	v1.POST("/tenants/:id/search", s.handleSearch)
	v1.GET("/tenants/:id/operations", s.handleOperations)
	v1.GET("/operations/:op", s.handleOperation)
	v1.POST("/fleet/resync", s.handleFleetResync)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns nil after Shutdown.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
