package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fyrsmithlabs/issuerag/internal/chunker"
	"github.com/fyrsmithlabs/issuerag/internal/document"
	"github.com/fyrsmithlabs/issuerag/internal/embeddings"
	"github.com/fyrsmithlabs/issuerag/internal/feedback"
	"github.com/fyrsmithlabs/issuerag/internal/logging"
	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"github.com/fyrsmithlabs/issuerag/internal/relevance"
	"github.com/fyrsmithlabs/issuerag/internal/retrieval"
	"github.com/fyrsmithlabs/issuerag/internal/vectorstore"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const testDim = 64

func newTestService(t *testing.T) *retrieval.Service {
	t.Helper()

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		InMemory:   true,
		Collection: "http-test",
		Dimension:  testDim,
	}, nil)
	require.NoError(t, err)
	embedder, err := embeddings.NewHashProvider(testDim)
	require.NoError(t, err)
	ch, err := chunker.New(chunker.DefaultConfig())
	require.NoError(t, err)
	cal, err := relevance.NewCalibrator(relevance.DefaultConfig(), nil, nil)
	require.NoError(t, err)

	svc, err := retrieval.NewService(retrieval.DefaultConfig(), retrieval.Deps{
		Chunker:    ch,
		Embedder:   embedder,
		Store:      store,
		Calibrator: cal,
		Feedback:   feedback.NewMemoryStore(),
	}, nil)
	require.NoError(t, err)
	return svc
}

func setupTestServer(t *testing.T) *Server {
	t.Helper()
	server, err := NewServer(newTestService(t), zap.NewNop(), &Config{Host: "localhost", Port: 0, Version: "test"})
	require.NoError(t, err)
	return server
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func sampleDocuments() []document.Document {
	return []document.Document{
		document.NewIssue("PRJ-1", "Refund fails", "Refund request fails with timeout when the bank gateway is slow.",
			document.IssueInfo{Key: "PRJ-1", ProjectKey: "PRJ", Status: "open"}),
		document.NewIssue("PRJ-2", "Dark mode", "Add a dark mode toggle to the settings page.",
			document.IssueInfo{Key: "PRJ-2", ProjectKey: "PRJ", Status: "done"}),
	}
}

// stubBackend overrides only what a test needs; other calls panic.
type stubBackend struct {
	Backend
	health      error
	ingest      func() (*retrieval.IngestionReport, error)
	recalibrate error
}

func (s stubBackend) Health(context.Context) error { return s.health }

func (s stubBackend) Ingest(context.Context, []document.Document) (*retrieval.IngestionReport, error) {
	return s.ingest()
}

func (s stubBackend) Recalibrate(context.Context, feedback.Window) (*relevance.Outcome, error) {
	return nil, s.recalibrate
}

func TestNewServer(t *testing.T) {
	t.Run("creates server with valid config", func(t *testing.T) {
		cfg := &Config{Host: "localhost", Port: 9090}
		server, err := NewServer(newTestService(t), zap.NewNop(), cfg)
		require.NoError(t, err)
		assert.NotNil(t, server.echo)
		assert.Equal(t, cfg, server.config)
		assert.Equal(t, "8M", server.config.BodyLimit)
		assert.Equal(t, "localhost:9090", server.Addr())
	})

	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, err := NewServer(newTestService(t), zap.NewNop(), nil)
		require.NoError(t, err)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9090, server.config.Port)
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(newTestService(t), nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "logger is required")
	})

	t.Run("returns error when backend is nil", func(t *testing.T) {
		_, err := NewServer(nil, zap.NewNop(), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "backend cannot be nil")
	})
}

func TestHandleHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		rec := do(t, setupTestServer(t), http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "ok", decode[HealthResponse](t, rec).Status)
	})

	t.Run("unavailable", func(t *testing.T) {
		server, err := NewServer(stubBackend{health: errors.New("store down")}, zap.NewNop(), nil)
		require.NoError(t, err)
		rec := do(t, server, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		resp := decode[HealthResponse](t, rec)
		assert.Equal(t, "unavailable", resp.Status)
		assert.Equal(t, "store down", resp.Error)
	})
}

func TestIngestQueryFeedbackFlow(t *testing.T) {
	server := setupTestServer(t)

	rec := do(t, server, http.MethodPost, "/api/v1/ingest", IngestRequest{Documents: sampleDocuments()})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ingest := decode[IngestResponse](t, rec)
	require.NotNil(t, ingest.Report)
	assert.Nil(t, ingest.Error)
	assert.Equal(t, 2, ingest.Report.Succeeded)
	assert.Positive(t, ingest.Report.TotalChunks)

	rec = do(t, server, http.MethodPost, "/api/v1/query", retrieval.Request{Text: "refund timeout bank gateway", K: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	query := decode[retrieval.Response](t, rec)
	require.NotEmpty(t, query.QueryID)
	require.NotEmpty(t, query.Results)
	assert.Equal(t, "PRJ-1", query.Results[0].DocumentID)
	assert.Equal(t, 1, query.ParamsVersion)

	rec = do(t, server, http.MethodPost, "/api/v1/feedback", retrieval.FeedbackRequest{QueryID: query.QueryID, Rating: feedback.Rate(5)})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	entry := decode[feedback.Entry](t, rec)
	assert.Equal(t, "refund timeout bank gateway", entry.Query)
	assert.Len(t, entry.Scores, len(query.Results))

	rec = do(t, server, http.MethodGet, "/api/v1/feedback/metrics?limit=10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	m := decode[feedback.Metrics](t, rec)
	assert.Equal(t, 1, m.Samples)
	assert.Equal(t, 1, m.Rated)
	assert.Equal(t, 5.0, m.MeanRating)

	rec = do(t, server, http.MethodGet, "/api/v1/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	status := decode[StatusResponse](t, rec)
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, ingest.Report.TotalChunks, status.Counts.Chunks)
	assert.Equal(t, 1, status.Counts.Feedback)
	assert.Equal(t, "disabled", status.Services["generator"])
	require.NotNil(t, status.Calibration)
	assert.Equal(t, 1, status.Calibration.Version)
}

func TestHandleIngest_Invalid(t *testing.T) {
	server := setupTestServer(t)

	rec := do(t, server, http.MethodPost, "/api/v1/ingest", IngestRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, KindValidation, decode[ErrorResponse](t, rec).Kind)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/ingest", bytes.NewBufferString("{not json"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleIngest_AbortedReturnsPartialReport(t *testing.T) {
	partial := &retrieval.IngestionReport{Succeeded: 1, Failed: 3}
	server, err := NewServer(stubBackend{ingest: func() (*retrieval.IngestionReport, error) {
		return partial, ragerrors.Storage("vectorstore.upsert", errors.New("disk full"))
	}}, zap.NewNop(), nil)
	require.NoError(t, err)

	rec := do(t, server, http.MethodPost, "/api/v1/ingest", IngestRequest{Documents: sampleDocuments()})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode[IngestResponse](t, rec)
	require.NotNil(t, resp.Report)
	assert.Equal(t, 1, resp.Report.Succeeded)
	assert.Equal(t, 3, resp.Report.Failed)
	require.NotNil(t, resp.Error)
	assert.Equal(t, KindStorage, resp.Error.Kind)
	assert.Contains(t, resp.Error.Error, "disk full")
}

func TestHandleQuery_Invalid(t *testing.T) {
	server := setupTestServer(t)

	rec := do(t, server, http.MethodPost, "/api/v1/query", retrieval.Request{Text: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, KindValidation, decode[ErrorResponse](t, rec).Kind)

	rec = do(t, server, http.MethodPost, "/api/v1/query", retrieval.Request{Text: "refund", K: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFeedback_Invalid(t *testing.T) {
	server := setupTestServer(t)

	rec := do(t, server, http.MethodPost, "/api/v1/feedback", retrieval.FeedbackRequest{Query: "refund"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[ErrorResponse](t, rec).Error, "rating")

	rec = do(t, server, http.MethodPost, "/api/v1/feedback", retrieval.FeedbackRequest{Query: "refund", Rating: feedback.Rate(9)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFeedbackMetrics_InvalidWindow(t *testing.T) {
	server := setupTestServer(t)

	for _, q := range []string{"since=yesterday", "limit=ten", "limit=-1"} {
		rec := do(t, server, http.MethodGet, "/api/v1/feedback/metrics?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec := do(t, server, http.MethodGet, "/api/v1/feedback/metrics?since=2026-01-02T15:04:05Z", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCalibrationEndpoints(t *testing.T) {
	server := setupTestServer(t)

	rec := do(t, server, http.MethodGet, "/api/v1/calibration", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	p := decode[relevance.Params](t, rec)
	assert.Equal(t, 1, p.Version)
	assert.Equal(t, 0.8, p.MinDistance)
	assert.Equal(t, 2.0, p.MaxDistance)

	rec = do(t, server, http.MethodPost, "/api/v1/calibration/recalibrate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	out := decode[relevance.Outcome](t, rec)
	assert.False(t, out.Changed)
	assert.Contains(t, out.Reason, "insufficient samples")

	rec = do(t, server, http.MethodPost, "/api/v1/calibration/recalibrate", WindowRequest{Limit: -1})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, server, http.MethodPost, "/api/v1/calibration/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[relevance.Params](t, rec).Version)
}

func TestHandleRecalibrate_Degenerate(t *testing.T) {
	server, err := NewServer(stubBackend{
		recalibrate: fmt.Errorf("%w: min 1.500 >= max 1.200", relevance.ErrDegenerateRange),
	}, zap.NewNop(), nil)
	require.NoError(t, err)

	rec := do(t, server, http.MethodPost, "/api/v1/calibration/recalibrate", WindowRequest{Limit: 50})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, KindConflict, decode[ErrorResponse](t, rec).Kind)
}

func TestHandleStudy(t *testing.T) {
	server := setupTestServer(t)
	rec := do(t, server, http.MethodPost, "/api/v1/ingest", IngestRequest{Documents: sampleDocuments()})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, server, http.MethodPost, "/api/v1/calibration/study", StudyRequest{Cases: []relevance.StudyCase{
		{Query: "refund fails with timeout", Expected: relevance.ExpectHigh},
		{Query: "quarterly marketing budget", Expected: relevance.ExpectVeryLow},
	}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	report := decode[relevance.StudyReport](t, rec)
	require.Len(t, report.Groups, len(relevance.Expectations))
	assert.Equal(t, 1, report.Groups[0].Count)

	rec = do(t, server, http.MethodPost, "/api/v1/calibration/study", StudyRequest{Cases: []relevance.StudyCase{
		{Query: "refund", Expected: "SOMETIMES"},
	}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, server, http.MethodPost, "/api/v1/calibration/study", StudyRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, setupTestServer(t), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMiddleware(t *testing.T) {
	logs := logging.NewTestLogger()
	server, err := NewServer(newTestService(t), logs.Underlying(), nil)
	require.NoError(t, err)

	rec := do(t, server, http.MethodPost, "/api/v1/query", retrieval.Request{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	logs.AssertLogged(t, zapcore.InfoLevel, "http request")
	logs.AssertField(t, "http request", "status", int64(http.StatusBadRequest))
	logs.AssertField(t, "http request", "uri", "/api/v1/query")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"validation", ragerrors.Validationf("op", "bad"), http.StatusBadRequest, KindValidation},
		{"transient", ragerrors.Transient("op", "embedder", errors.New("503")), http.StatusServiceUnavailable, KindTransient},
		{"storage", ragerrors.Storage("op", errors.New("io")), http.StatusInternalServerError, KindStorage},
		{"degenerate", fmt.Errorf("%w: x", relevance.ErrDegenerateRange), http.StatusConflict, KindConflict},
		{"canceled", context.Canceled, http.StatusServiceUnavailable, KindCanceled},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, KindTransient},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, kind := classify(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.kind, kind)
		})
	}
}
