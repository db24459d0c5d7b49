// Package http provides the HTTP API for issuerag.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/document"
	"github.com/fyrsmithlabs/issuerag/internal/feedback"
	"github.com/fyrsmithlabs/issuerag/internal/logging"
	"github.com/fyrsmithlabs/issuerag/internal/relevance"
	"github.com/fyrsmithlabs/issuerag/internal/retrieval"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// Backend is the retrieval service as seen by the HTTP layer.
type Backend interface {
	Ingest(ctx context.Context, docs []document.Document) (*retrieval.IngestionReport, error)
	Query(ctx context.Context, req retrieval.Request) (*retrieval.Response, error)
	Feedback(ctx context.Context, req retrieval.FeedbackRequest) (*feedback.Entry, error)
	Metrics(ctx context.Context, w feedback.Window) (feedback.Metrics, error)
	Recalibrate(ctx context.Context, w feedback.Window) (*relevance.Outcome, error)
	ResetCalibration(ctx context.Context) (*relevance.Params, error)
	Calibration() *relevance.Params
	Study(ctx context.Context, cases []relevance.StudyCase) (*relevance.StudyReport, error)
	Stats(ctx context.Context) retrieval.Stats
	Health(ctx context.Context) error
}

var _ Backend = (*retrieval.Service)(nil)

// Server provides HTTP endpoints for issuerag.
type Server struct {
	echo    *echo.Echo
	backend Backend
	logger  *zap.Logger
	config  *Config
	metrics *apiMetrics
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// BodyLimit caps request bodies, in echo's size syntax ("8M").
	BodyLimit string

	// Version is reported by the status endpoint.
	Version string

	// Meter records API metrics; nil uses the global meter provider.
	Meter metric.Meter
}

// NewServer creates a new HTTP server.
func NewServer(backend Backend, logger *zap.Logger, cfg *Config) (*Server, error) {
	if backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	if cfg.BodyLimit == "" {
		cfg.BodyLimit = "8M"
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	metrics := newAPIMetrics(cfg.Meter, logger)
	e.Use(metrics.middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			id := c.Response().Header().Get(echo.HeaderXRequestID)
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))

			err := next(c)
			if err != nil {
				// Resolve the status before logging it.
				c.Error(err)
				err = nil
			}

			logger.Info("http request",
				zap.String("method", req.Method),
				zap.String("uri", req.RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", id),
			)
			return err
		}
	})

	s := &Server{
		echo:    e,
		backend: backend,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/status", s.handleStatus)
	v1.POST("/ingest", s.handleIngest)
	v1.POST("/query", s.handleQuery)
	v1.POST("/feedback", s.handleFeedback)
	v1.GET("/feedback/metrics", s.handleFeedbackMetrics)
	v1.GET("/calibration", s.handleCalibration)
	v1.POST("/calibration/recalibrate", s.handleRecalibrate)
	v1.POST("/calibration/reset", s.handleResetCalibration)
	v1.POST("/calibration/study", s.handleStudy)
}

// Echo exposes the router for extra routes and tests.
func (s *Server) Echo() *echo.Echo { return s.echo }

// Addr is the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := s.Addr()
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// ServeHTTP lets the server be mounted or driven by httptest.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}
