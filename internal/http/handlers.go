package http

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/retrieval"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// handleHealth reports whether the vector store answers.
func (s *Server) handleHealth(c echo.Context) error {
	if err := s.backend.Health(c.Request().Context()); err != nil {
		s.logger.Warn("health check failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "unavailable", Error: err.Error()})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleStatus(c echo.Context) error {
	ctx := c.Request().Context()
	stats := s.backend.Stats(ctx)

	resp := StatusResponse{
		Status:   "ok",
		Version:  s.config.Version,
		Services: map[string]string{"vectorstore": "ok", "generator": "disabled"},
		Counts: StatusCounts{
			Chunks:   stats.Chunks,
			Feedback: stats.FeedbackCount,
		},
		Calibration: s.backend.Calibration(),
	}
	if stats.Generator {
		resp.Services["generator"] = "ok"
	}
	if err := s.backend.Health(ctx); err != nil {
		resp.Status = "degraded"
		resp.Services["vectorstore"] = "unavailable"
	}
	return c.JSON(http.StatusOK, resp)
}

// handleIngest indexes the posted documents. An aborted ingestion still
// returns the partial report alongside the error.
func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return badRequest("invalid request body")
	}
	if len(req.Documents) == 0 {
		return badRequest("documents field is required")
	}

	ctx := c.Request().Context()
	report, err := s.backend.Ingest(ctx, req.Documents)
	s.metrics.ingest(ctx, report)
	if err != nil {
		status, body := s.errorBody(c, "ingest", err)
		return c.JSON(status, IngestResponse{Report: report, Error: &body})
	}
	return c.JSON(http.StatusOK, IngestResponse{Report: report})
}

func (s *Server) handleQuery(c echo.Context) error {
	var req retrieval.Request
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid query request", zap.Error(err))
		return badRequest("invalid request body")
	}
	ctx := c.Request().Context()
	resp, err := s.backend.Query(ctx, req)
	if err != nil {
		return s.fail(c, "query", err)
	}
	s.metrics.query(ctx, resp)
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleFeedback(c echo.Context) error {
	var req retrieval.FeedbackRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid feedback request", zap.Error(err))
		return badRequest("invalid request body")
	}
	ctx := c.Request().Context()
	entry, err := s.backend.Feedback(ctx, req)
	if err != nil {
		return s.fail(c, "feedback", err)
	}
	s.metrics.feedback(ctx, entry)
	return c.JSON(http.StatusCreated, entry)
}

// handleFeedbackMetrics reads the window from ?since=<RFC3339>&limit=<n>.
func (s *Server) handleFeedbackMetrics(c echo.Context) error {
	var (
		since time.Time
		w     WindowRequest
	)
	err := echo.QueryParamsBinder(c).
		Int("limit", &w.Limit).
		Time("since", &since, time.RFC3339).
		BindError()
	if err != nil {
		return badRequest("invalid window: since must be RFC 3339 and limit an integer")
	}
	if !since.IsZero() {
		w.Since = &since
	}
	if w.Limit < 0 {
		return badRequest("limit must be >= 0")
	}

	m, err := s.backend.Metrics(c.Request().Context(), w.window())
	if err != nil {
		return s.fail(c, "feedback metrics", err)
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) handleCalibration(c echo.Context) error {
	return c.JSON(http.StatusOK, s.backend.Calibration())
}

// handleRecalibrate accepts an optional WindowRequest body.
func (s *Server) handleRecalibrate(c echo.Context) error {
	var w WindowRequest
	if err := c.Bind(&w); err != nil && !errors.Is(err, io.EOF) {
		s.logger.Warn("invalid recalibrate request", zap.Error(err))
		return badRequest("invalid request body")
	}
	if w.Limit < 0 {
		return badRequest("limit must be >= 0")
	}
	out, err := s.backend.Recalibrate(c.Request().Context(), w.window())
	if err != nil {
		return s.fail(c, "recalibrate", err)
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleResetCalibration(c echo.Context) error {
	p, err := s.backend.ResetCalibration(c.Request().Context())
	if err != nil {
		return s.fail(c, "reset calibration", err)
	}
	return c.JSON(http.StatusOK, p)
}

func (s *Server) handleStudy(c echo.Context) error {
	var req StudyRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid study request", zap.Error(err))
		return badRequest("invalid request body")
	}
	if len(req.Cases) == 0 {
		return badRequest("cases field is required")
	}
	report, err := s.backend.Study(c.Request().Context(), req.Cases)
	if err != nil {
		return s.fail(c, "study", err)
	}
	return c.JSON(http.StatusOK, report)
}
