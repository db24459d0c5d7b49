package retrieval

import (
	"context"
	"strings"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/document"
	"github.com/fyrsmithlabs/issuerag/internal/feedback"
	"github.com/fyrsmithlabs/issuerag/internal/generation"
	"github.com/fyrsmithlabs/issuerag/internal/logging"
	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"github.com/fyrsmithlabs/issuerag/internal/relevance"
	"github.com/fyrsmithlabs/issuerag/internal/vectorstore"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Fallback reasons reported in Response.FallbackReason.
const (
	FallbackNoGenerator = "no generator configured"
	FallbackNoResults   = "no results to answer from"
)

// Request is a retrieval query.
type Request struct {
	Text string `json:"query"`

	// K is the number of results; 0 means the default, values above the
	// maximum are capped.
	K int `json:"k,omitempty"`

	// Filter restricts results by exact metadata match.
	Filter vectorstore.Filter `json:"filter,omitempty"`

	// Category selects a calibration override for scoring and is
	// attached to feedback on this query. Empty scores each hit by its
	// document kind.
	Category string `json:"category,omitempty"`

	// Generate asks for an answer from the generator.
	Generate bool `json:"generate,omitempty"`

	// Route selects the search strategy; empty picks one from the text.
	Route Route `json:"route,omitempty"`
}

// Result is one scored hit.
type Result struct {
	ChunkID    string            `json:"chunk_id"`
	DocumentID string            `json:"document_id"`
	Kind       document.Kind     `json:"kind"`
	Text       string            `json:"text"`
	Score      float64           `json:"score"`
	Distance   float64           `json:"distance"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Response is the answer to a Request.
type Response struct {
	QueryID string   `json:"query_id"`
	Query   string   `json:"query"`
	Route   Route    `json:"route"`
	Results []Result `json:"results"`

	// Answer is the generated answer, or the formatted raw results when
	// generation was requested but fell back.
	Answer         string `json:"answer,omitempty"`
	Generated      bool   `json:"generated"`
	Fallback       bool   `json:"fallback"`
	FallbackReason string `json:"fallback_reason,omitempty"`

	// ParamsVersion is the calibration version every score was computed
	// with.
	ParamsVersion int `json:"params_version"`
}

// QuerySummary is what feedback needs to know about an earlier query.
type QuerySummary struct {
	Query         string
	Category      string
	Scores        []float64
	Distances     []float64
	ParamsVersion int
}

func (r *Response) summary(category string) QuerySummary {
	sum := QuerySummary{
		Query:         r.Query,
		Category:      category,
		Scores:        make([]float64, len(r.Results)),
		Distances:     make([]float64, len(r.Results)),
		ParamsVersion: r.ParamsVersion,
	}
	for i, res := range r.Results {
		sum.Scores[i] = res.Score
		sum.Distances[i] = res.Distance
	}
	return sum
}

func (s *Service) resolveK(k int) (int, error) {
	switch {
	case k < 0:
		return 0, ragerrors.Validationf("retrieval.query", "k must not be negative, got %d", k)
	case k == 0:
		return s.cfg.DefaultK, nil
	case k > s.cfg.MaxK:
		return s.cfg.MaxK, nil
	}
	return k, nil
}

// Query embeds req.Text, searches and scores the hits with a single
// calibration snapshot. Generation failures never fail the query: the
// raw results are returned with Fallback set.
func (s *Service) Query(ctx context.Context, req Request) (resp *Response, err error) {
	start := time.Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
		}
		queriesTotal.WithLabelValues(result).Inc()
		queryDuration.Observe(time.Since(start).Seconds())
	}()

	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ragerrors.Validationf("retrieval.query", "query text is required")
	}
	k, err := s.resolveK(req.K)
	if err != nil {
		return nil, err
	}
	route, err := resolveRoute(string(req.Route), text)
	if err != nil {
		return nil, err
	}

	queryID := uuid.NewString()
	ctx = logging.WithQueryID(ctx, queryID)
	ctx, span := s.tracer.Start(ctx, "retrieval.Query", trace.WithAttributes(
		attribute.String("query.id", queryID),
		attribute.Int("k", k),
		attribute.String("route", string(route)),
		attribute.Bool("generate", req.Generate),
	))
	defer span.End()
	log := logging.Ctx(ctx, s.logger)

	results, snap, err := s.routed(ctx, route, text, k, req.Filter, req.Category)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, err
	}
	resp = &Response{
		QueryID:       queryID,
		Query:         text,
		Route:         route,
		Results:       results,
		ParamsVersion: snap.Version,
	}
	queriesRouted.WithLabelValues(string(route)).Inc()
	if len(resp.Results) > 0 {
		topScore.Observe(resp.Results[0].Score)
	}

	if req.Generate {
		s.answer(ctx, resp)
	}

	category := feedbackCategory(req.Category, resp.Results)
	s.queries.Set(queryID, resp.summary(category))
	if s.cfg.RecordImpressions {
		s.recordImpression(ctx, resp, category)
	}

	span.SetAttributes(
		attribute.Int("results", len(resp.Results)),
		attribute.Int("params.version", snap.Version),
		attribute.Bool("fallback", resp.Fallback),
	)
	log.Info("query served",
		zap.Int("k", k),
		zap.String("route", string(route)),
		zap.Int("results", len(resp.Results)),
		zap.Int("params_version", snap.Version),
		zap.Bool("generated", resp.Generated),
		zap.Bool("fallback", resp.Fallback),
		zap.Duration("duration", time.Since(start)))
	return resp, nil
}

// search embeds text, finds the k nearest chunks and scores them with one
// calibration snapshot, which is returned alongside.
func (s *Service) search(ctx context.Context, text string, k int, filter vectorstore.Filter, category string) ([]Result, *relevance.Params, error) {
	vector, err := s.embedQuery(ctx, text)
	if err != nil {
		return nil, nil, err
	}
	hits, err := s.store.Search(ctx, vector, k, filter)
	if err != nil {
		return nil, nil, err
	}
	snap := s.calibrator.Snapshot()
	return score(hits, snap, category), snap, nil
}

func (s *Service) embedQuery(ctx context.Context, text string) ([]float32, error) {
	var vector []float32
	err := s.withRetry(ctx, "embed_query", func(ctx context.Context) error {
		v, err := s.embedder.EmbedQuery(ctx, text)
		vector = v
		return err
	})
	return vector, err
}

// score converts hits to results. Every hit is scored with snap.
func score(hits []vectorstore.Hit, snap *relevance.Params, category string) []Result {
	results := make([]Result, len(hits))
	for i, h := range hits {
		kind := document.Kind(h.Metadata[vectorstore.KeyKind])
		cat := category
		if cat == "" {
			cat = string(kind)
		}
		results[i] = Result{
			ChunkID:    h.ChunkID,
			DocumentID: h.Metadata[vectorstore.KeyDocumentID],
			Kind:       kind,
			Text:       h.Text,
			Score:      snap.Normalize(h.Distance, cat),
			Distance:   h.Distance,
			Metadata:   h.Metadata,
		}
	}
	return results
}

// feedbackCategory is the category feedback on a query is filed under:
// the requested one, else the kind of the best result.
func feedbackCategory(requested string, results []Result) string {
	if requested != "" || len(results) == 0 {
		return requested
	}
	return string(results[0].Kind)
}

func passages(results []Result, n int) []generation.Passage {
	if len(results) > n {
		results = results[:n]
	}
	out := make([]generation.Passage, len(results))
	for i, r := range results {
		out[i] = generation.Passage{Kind: string(r.Kind), Text: r.Text, Score: r.Score, Metadata: r.Metadata}
	}
	return out
}

// answer fills the generated answer, or the formatted results when the
// generator is missing or fails.
func (s *Service) answer(ctx context.Context, resp *Response) {
	ctxPassages := passages(resp.Results, s.cfg.ContextResults)
	fallback := func(reason string) {
		generationFallbacks.WithLabelValues(FallbackLabel(reason)).Inc()
		resp.Fallback = true
		resp.FallbackReason = reason
		resp.Answer = generation.FormatFallback(ctxPassages, len(resp.Results))
	}

	switch {
	case s.generator == nil:
		fallback(FallbackNoGenerator)
		return
	case len(resp.Results) == 0:
		fallback(FallbackNoResults)
		return
	}

	answer, err := s.generator.Generate(ctx, generation.BuildPrompt(resp.Query, ctxPassages))
	if err != nil {
		logging.Ctx(ctx, s.logger).Warn("generation failed, returning raw results",
			zap.String("generator", s.generator.Name()),
			zap.Error(err))
		fallback(err.Error())
		return
	}
	resp.Answer = answer
	resp.Generated = true
}

// FallbackLabel reduces a fallback reason to a low-cardinality label.
func FallbackLabel(reason string) string {
	switch reason {
	case FallbackNoGenerator:
		return "no_generator"
	case FallbackNoResults:
		return "no_results"
	}
	return "generator_error"
}

// recordImpression logs an unrated entry for the query. Failures are
// logged and swallowed.
func (s *Service) recordImpression(ctx context.Context, resp *Response, category string) {
	sum := resp.summary(category)
	err := s.feedback.Record(ctx, feedback.Entry{
		QueryID:       resp.QueryID,
		Query:         resp.Query,
		Scores:        sum.Scores,
		Distances:     sum.Distances,
		Signal:        feedback.SignalNone,
		Category:      category,
		ParamsVersion: resp.ParamsVersion,
	})
	if err != nil {
		feedbackRecorded.WithLabelValues("impression", "error").Inc()
		logging.Ctx(ctx, s.logger).Warn("recording impression failed", zap.Error(err))
		return
	}
	feedbackRecorded.WithLabelValues("impression", "success").Inc()
}
