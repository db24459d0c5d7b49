package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/feedback"
	"github.com/fyrsmithlabs/issuerag/internal/retrieval"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/issuerag/internal/http"

// apiMetrics records what each API operation did: its outcome and
// latency, and for the data-bearing operations what they produced.
type apiMetrics struct {
	requests  metric.Int64Counter
	duration  metric.Float64Histogram
	results   metric.Int64Histogram
	fallbacks metric.Int64Counter
	documents metric.Int64Counter
	judgement metric.Int64Counter
}

// newAPIMetrics creates the instruments on meter, or on the global meter
// provider when meter is nil. Instrument errors are logged; the returned
// instruments are usable either way.
func newAPIMetrics(meter metric.Meter, logger *zap.Logger) *apiMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	m := &apiMetrics{}
	var errs []error
	add := func(err error) { errs = append(errs, err) }

	var err error
	m.requests, err = meter.Int64Counter("issuerag.api.requests",
		metric.WithDescription("API requests by operation and outcome (ok, invalid, not_found, unavailable, error)"),
		metric.WithUnit("{request}"))
	add(err)
	m.duration, err = meter.Float64Histogram("issuerag.api.duration",
		metric.WithDescription("API request latency by operation"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30))
	add(err)
	m.results, err = meter.Int64Histogram("issuerag.api.query.results",
		metric.WithDescription("Results returned per query, by route"),
		metric.WithUnit("{result}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5, 10, 20, 50))
	add(err)
	m.fallbacks, err = meter.Int64Counter("issuerag.api.query.fallbacks",
		metric.WithDescription("Queries that asked for an answer and got raw results, by reason"),
		metric.WithUnit("{query}"))
	add(err)
	m.documents, err = meter.Int64Counter("issuerag.api.ingest.documents",
		metric.WithDescription("Documents posted for ingestion, by status (succeeded, skipped, failed)"),
		metric.WithUnit("{document}"))
	add(err)
	m.judgement, err = meter.Int64Counter("issuerag.api.feedback.entries",
		metric.WithDescription("Feedback entries accepted, by judgement (rated, positive, negative)"),
		metric.WithUnit("{entry}"))
	add(err)

	if err := errors.Join(errs...); err != nil && logger != nil {
		logger.Warn("creating api metrics", zap.Error(err))
	}
	return m
}

// middleware records the outcome and latency of every request. It must
// run outside the handler that resolves errors into a status.
func (m *apiMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			op := attribute.String("operation", operation(c.Path()))
			ctx := c.Request().Context()
			m.requests.Add(ctx, 1, metric.WithAttributes(op,
				attribute.String("outcome", outcome(c.Response().Status))))
			m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(op))
			return err
		}
	}
}

func (m *apiMetrics) query(ctx context.Context, resp *retrieval.Response) {
	m.results.Record(ctx, int64(len(resp.Results)),
		metric.WithAttributes(attribute.String("route", string(resp.Route))))
	if resp.Fallback {
		m.fallbacks.Add(ctx, 1,
			metric.WithAttributes(attribute.String("reason", retrieval.FallbackLabel(resp.FallbackReason))))
	}
}

func (m *apiMetrics) ingest(ctx context.Context, r *retrieval.IngestionReport) {
	if r == nil {
		return
	}
	for status, n := range map[string]int{"succeeded": r.Succeeded, "skipped": r.Skipped, "failed": r.Failed} {
		if n > 0 {
			m.documents.Add(ctx, int64(n), metric.WithAttributes(attribute.String("status", status)))
		}
	}
}

func (m *apiMetrics) feedback(ctx context.Context, e *feedback.Entry) {
	kind := "rated"
	if e.Rating == nil {
		kind = string(e.Signal)
	}
	m.judgement.Add(ctx, 1, metric.WithAttributes(attribute.String("judgement", kind)))
}

// operation names a route template: "/api/v1/calibration/reset" becomes
// "calibration_reset". Requests that matched no route are "unmatched".
func operation(path string) string {
	if path == "" {
		return "unmatched"
	}
	path = strings.TrimPrefix(path, "/api/v1")
	return strings.ReplaceAll(strings.Trim(path, "/"), "/", "_")
}

func outcome(status int) string {
	switch {
	case status < http.StatusBadRequest:
		return "ok"
	case status == http.StatusNotFound, status == http.StatusMethodNotAllowed:
		return "not_found"
	case status < http.StatusInternalServerError:
		return "invalid"
	case status == http.StatusServiceUnavailable:
		return "unavailable"
	}
	return "error"
}
