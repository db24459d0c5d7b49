package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/chunker"
	"github.com/fyrsmithlabs/issuerag/internal/document"
	"github.com/fyrsmithlabs/issuerag/internal/embeddings"
	"github.com/fyrsmithlabs/issuerag/internal/feedback"
	"github.com/fyrsmithlabs/issuerag/internal/generation"
	"github.com/fyrsmithlabs/issuerag/internal/logging"
	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"github.com/fyrsmithlabs/issuerag/internal/relevance"
	"github.com/fyrsmithlabs/issuerag/internal/secrets"
	"github.com/fyrsmithlabs/issuerag/internal/telemetry"
	"github.com/fyrsmithlabs/issuerag/internal/vectorstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

const testDim = 64

type harness struct {
	svc      *Service
	store    vectorstore.Store
	feedback *feedback.MemoryStore
	logs     *logging.TestLogger
}

type option func(*Config, *Deps)

func withGenerator(g generation.Generator) option {
	return func(_ *Config, d *Deps) { d.Generator = g }
}

func withEmbedder(e embeddings.Embedder) option {
	return func(_ *Config, d *Deps) { d.Embedder = e }
}

func withStore(s vectorstore.Store) option {
	return func(_ *Config, d *Deps) { d.Store = s }
}

func withRedactor(r Redactor) option {
	return func(_ *Config, d *Deps) { d.Redactor = r }
}

func withConfig(fn func(*Config)) option {
	return func(c *Config, _ *Deps) { fn(c) }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()

	store, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{
		InMemory:   true,
		Collection: "test",
		Dimension:  testDim,
	}, nil)
	require.NoError(t, err)

	embedder, err := embeddings.NewHashProvider(testDim)
	require.NoError(t, err)

	ch, err := chunker.New(chunker.DefaultConfig())
	require.NoError(t, err)

	cal, err := relevance.NewCalibrator(relevance.DefaultConfig(), nil, nil)
	require.NoError(t, err)

	fb := feedback.NewMemoryStore()
	cfg := DefaultConfig()
	cfg.RetryBackoff = time.Millisecond
	deps := Deps{
		Chunker:    ch,
		Embedder:   embedder,
		Store:      store,
		Calibrator: cal,
		Feedback:   fb,
	}
	for _, o := range opts {
		o(&cfg, &deps)
	}

	logs := logging.NewTestLogger()
	svc, err := NewService(cfg, deps, logs.Underlying())
	require.NoError(t, err)
	return &harness{svc: svc, store: deps.Store, feedback: fb, logs: logs}
}

func sampleDocs() []document.Document {
	return []document.Document{
		document.NewProject("PRJ", "Payments", "Payments platform handling invoices and refunds.",
			document.ProjectInfo{Key: "PRJ", Name: "Payments"}),
		document.NewIssue("PRJ-1", "Refund fails", "Refund request fails with timeout when the bank gateway is slow.",
			document.IssueInfo{Key: "PRJ-1", ProjectKey: "PRJ", Status: "open"}),
		document.NewComment("PRJ-1-c1", "Increased the gateway timeout to thirty seconds as a workaround.",
			document.CommentInfo{IssueKey: "PRJ-1", ProjectKey: "PRJ", Author: "dev"}),
	}
}

func TestNewService_MissingDependencies(t *testing.T) {
	_, err := NewService(DefaultConfig(), Deps{}, nil)
	assert.ErrorIs(t, err, ErrMissingDependency)
}

func TestIngest_EmptyInput(t *testing.T) {
	h := newHarness(t)

	report, err := h.svc.Ingest(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, report.TotalChunks)
	assert.Empty(t, report.Documents)

	n, err := h.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestIngest_ReportsEveryDocument(t *testing.T) {
	h := newHarness(t)
	docs := sampleDocs()

	report, err := h.svc.Ingest(context.Background(), docs)
	require.NoError(t, err)
	require.Len(t, report.Documents, 3)
	assert.Equal(t, 3, report.Succeeded)
	assert.Equal(t, 3, report.TotalChunks)
	assert.Equal(t, map[document.Kind]int{
		document.KindProject: 1,
		document.KindIssue:   1,
		document.KindComment: 1,
	}, report.ChunkCounts)

	for i, d := range report.Documents {
		assert.Equal(t, docs[i].ID, d.ID, "input order is kept")
		assert.Equal(t, StatusSucceeded, d.Status)
		assert.Len(t, d.ChunkIDs, d.Chunks)
	}
}

func TestIngest_PartialFailure(t *testing.T) {
	h := newHarness(t)
	docs := sampleDocs()
	docs[1].Kind = "epic"

	report, err := h.svc.Ingest(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, StatusFailed, report.Documents[1].Status)
	assert.True(t, ragerrors.IsValidation(report.Documents[1].Err()))
	assert.NotEmpty(t, report.Documents[1].Error)

	n, err := h.store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestIngest_EmptyBodySkipped(t *testing.T) {
	h := newHarness(t)
	doc := document.NewIssue("PRJ-2", "Empty", "   ", document.IssueInfo{Key: "PRJ-2"})

	report, err := h.svc.Ingest(context.Background(), []document.Document{doc})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, StatusSkipped, report.Documents[0].Status)
}

func TestIngest_Idempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Ingest(ctx, sampleDocs())
	require.NoError(t, err)
	first, err := h.store.Count(ctx)
	require.NoError(t, err)

	_, err = h.svc.Ingest(ctx, sampleDocs())
	require.NoError(t, err)
	second, err := h.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestIngest_ReplacesStaleChunks(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	doc := sampleDocs()[1]

	first, err := h.svc.Ingest(ctx, []document.Document{doc})
	require.NoError(t, err)

	doc.Body = "Refund request now succeeds after the gateway upgrade."
	second, err := h.svc.Ingest(ctx, []document.Document{doc})
	require.NoError(t, err)
	assert.NotEqual(t, first.Documents[0].ChunkIDs, second.Documents[0].ChunkIDs)

	n, err := h.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

// flakyEmbedder fails the first failures calls with a TransientError.
type flakyEmbedder struct {
	embeddings.Embedder
	failures int32
	calls    atomic.Int32
}

func (f *flakyEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, ragerrors.Transient("embed", "fake", errors.New("503"))
	}
	return f.Embedder.EmbedDocuments(ctx, texts)
}

func TestIngest_RetriesTransientEmbeddingErrors(t *testing.T) {
	hash, err := embeddings.NewHashProvider(testDim)
	require.NoError(t, err)
	flaky := &flakyEmbedder{Embedder: hash, failures: 2}
	h := newHarness(t, withEmbedder(flaky))

	report, err := h.svc.Ingest(context.Background(), sampleDocs()[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, int32(3), flaky.calls.Load())
}

func TestIngest_ExhaustedRetriesFailDocument(t *testing.T) {
	hash, err := embeddings.NewHashProvider(testDim)
	require.NoError(t, err)
	flaky := &flakyEmbedder{Embedder: hash, failures: 100}
	h := newHarness(t, withEmbedder(flaky), withConfig(func(c *Config) { c.MaxRetries = 2 }))

	report, err := h.svc.Ingest(context.Background(), sampleDocs()[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.True(t, ragerrors.IsTransient(report.Documents[0].Err()))
	assert.Equal(t, int32(3), flaky.calls.Load())
}

// brokenStore fails every upsert with a StorageError.
type brokenStore struct {
	vectorstore.Store
	upserts atomic.Int32
}

func (b *brokenStore) Upsert(context.Context, []chunker.Chunk, [][]float32) error {
	b.upserts.Add(1)
	return ragerrors.Storage("vectorstore.upsert", errors.New("disk full"))
}

func TestIngest_StorageErrorAborts(t *testing.T) {
	inner, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{InMemory: true, Collection: "broken", Dimension: testDim}, nil)
	require.NoError(t, err)
	broken := &brokenStore{Store: inner}
	h := newHarness(t, withStore(broken), withConfig(func(c *Config) { c.Workers = 1 }))

	var docs []document.Document
	for i := 0; i < 10; i++ {
		docs = append(docs, document.NewIssue(fmt.Sprintf("PRJ-%d", i), "t", fmt.Sprintf("body number %d", i), document.IssueInfo{Key: "k"}))
	}

	report, err := h.svc.Ingest(context.Background(), docs)
	require.Error(t, err)
	assert.True(t, ragerrors.IsStorage(err))
	require.NotNil(t, report)
	assert.Equal(t, 10, report.Failed)
	assert.Less(t, broken.upserts.Load(), int32(10), "remaining work is canceled")
	h.logs.AssertLogged(t, zapcore.ErrorLevel, "ingestion aborted by storage failure")
}

func TestIngest_CallerCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := h.svc.Ingest(ctx, sampleDocs())
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, report)
	assert.Equal(t, 3, report.Failed)
}

// wordRedactor masks one fixed word.
type wordRedactor struct{ word string }

func (w wordRedactor) Redact(content string) secrets.Result {
	n := strings.Count(content, w.word)
	if n == 0 {
		return secrets.Result{Content: content}
	}
	res := secrets.Result{Content: strings.ReplaceAll(content, w.word, "[REDACTED:test]")}
	for i := 0; i < n; i++ {
		res.Findings = append(res.Findings, secrets.Finding{RuleID: "test", Length: len(w.word)})
	}
	return res
}

func TestIngest_RedactsSecrets(t *testing.T) {
	h := newHarness(t, withRedactor(wordRedactor{word: "hunter2"}))
	ctx := context.Background()

	doc := document.NewIssue("PRJ-9", "Login with hunter2 fails",
		"Staging login rejects the shared password hunter2 after the auth migration.",
		document.IssueInfo{Key: "PRJ-9"})
	report, err := h.svc.Ingest(ctx, []document.Document{doc})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Redacted)
	assert.Equal(t, 2, report.Documents[0].Redacted)
	h.logs.AssertLogged(t, zapcore.InfoLevel, "secrets redacted")

	resp, err := h.svc.Query(ctx, Request{Text: "staging login rejects password", K: 5})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	for _, r := range resp.Results {
		assert.NotContains(t, r.Text, "hunter2")
	}
	assert.Contains(t, resp.Results[0].Text, "[REDACTED:test]")
}

func TestQuery_SelfQueryRoundTrip(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	docs := sampleDocs()
	_, err := h.svc.Ingest(ctx, docs)
	require.NoError(t, err)

	resp, err := h.svc.Query(ctx, Request{Text: docs[1].Body, K: 3})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)

	top := resp.Results[0]
	assert.Equal(t, "PRJ-1", top.DocumentID)
	assert.Equal(t, document.KindIssue, top.Kind)
	assert.InDelta(t, 0, top.Distance, 1e-5)
	assert.Equal(t, 1.0, top.Score)
	assert.Equal(t, 1, resp.ParamsVersion)
	assert.NotEmpty(t, resp.QueryID)
	assert.False(t, resp.Fallback)
	assert.Empty(t, resp.Answer)

	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i].Distance, resp.Results[i-1].Distance)
		assert.LessOrEqual(t, resp.Results[i].Score, resp.Results[i-1].Score)
	}
}

func TestQuery_Validation(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.Query(context.Background(), Request{Text: "  "})
	assert.True(t, ragerrors.IsValidation(err))

	_, err = h.svc.Query(context.Background(), Request{Text: "refund", K: -1})
	assert.True(t, ragerrors.IsValidation(err))
}

func TestQuery_EmptyStore(t *testing.T) {
	h := newHarness(t)

	resp, err := h.svc.Query(context.Background(), Request{Text: "anything"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}

func TestQuery_KCappedAndFiltered(t *testing.T) {
	h := newHarness(t, withConfig(func(c *Config) { c.MaxK = 2 }))
	ctx := context.Background()
	_, err := h.svc.Ingest(ctx, sampleDocs())
	require.NoError(t, err)

	resp, err := h.svc.Query(ctx, Request{Text: "refund gateway timeout", K: 50})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 2)

	resp, err = h.svc.Query(ctx, Request{Text: "refund gateway timeout", Filter: vectorstore.Filter{vectorstore.KeyKind: "comment"}})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "PRJ-1-c1", resp.Results[0].DocumentID)
}

func TestQuery_Generation(t *testing.T) {
	var prompt string
	gen := generation.Func(func(_ context.Context, p string) (string, error) {
		prompt = p
		return "Raise the gateway timeout.", nil
	})
	h := newHarness(t, withGenerator(gen))
	ctx := context.Background()
	_, err := h.svc.Ingest(ctx, sampleDocs())
	require.NoError(t, err)

	resp, err := h.svc.Query(ctx, Request{Text: "why do refunds fail?", Generate: true})
	require.NoError(t, err)
	assert.True(t, resp.Generated)
	assert.False(t, resp.Fallback)
	assert.Equal(t, "Raise the gateway timeout.", resp.Answer)
	assert.Contains(t, prompt, "DEVELOPER QUESTION: why do refunds fail?")
}

func TestQuery_GenerationFallback(t *testing.T) {
	gen := generation.Func(func(context.Context, string) (string, error) {
		return "", ragerrors.Transient("gemini.generate", "gemini", errors.New("quota exceeded"))
	})
	h := newHarness(t, withGenerator(gen))
	ctx := context.Background()
	_, err := h.svc.Ingest(ctx, sampleDocs())
	require.NoError(t, err)

	resp, err := h.svc.Query(ctx, Request{Text: "refund timeout", Generate: true})
	require.NoError(t, err, "generation failures never fail the query")
	assert.True(t, resp.Fallback)
	assert.False(t, resp.Generated)
	assert.Contains(t, resp.FallbackReason, "quota exceeded")
	assert.Contains(t, resp.Answer, "Search Results (3 found)")
	assert.NotEmpty(t, resp.Results)
	h.logs.AssertLogged(t, zapcore.WarnLevel, "generation failed, returning raw results")
}

func TestQuery_NoGeneratorFallback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Ingest(ctx, sampleDocs())
	require.NoError(t, err)

	resp, err := h.svc.Query(ctx, Request{Text: "refund", Generate: true})
	require.NoError(t, err)
	assert.True(t, resp.Fallback)
	assert.Equal(t, FallbackNoGenerator, resp.FallbackReason)
}

func TestQuery_RecordsImpressions(t *testing.T) {
	h := newHarness(t, withConfig(func(c *Config) { c.RecordImpressions = true }))
	ctx := context.Background()
	_, err := h.svc.Ingest(ctx, sampleDocs())
	require.NoError(t, err)

	resp, err := h.svc.Query(ctx, Request{Text: "refund"})
	require.NoError(t, err)

	entries, err := h.feedback.Window(ctx, feedback.Window{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, resp.QueryID, entries[0].QueryID)
	assert.Nil(t, entries[0].Rating)
	assert.Equal(t, feedback.SignalNone, entries[0].Signal)
}

// failingFeedback rejects every write.
type failingFeedback struct{ feedback.MemoryStore }

func (*failingFeedback) Record(context.Context, feedback.Entry) error {
	return errors.New("database is locked")
}

func TestQuery_ImpressionFailureDoesNotFailQuery(t *testing.T) {
	h := newHarness(t,
		withConfig(func(c *Config) { c.RecordImpressions = true }),
		func(_ *Config, d *Deps) { d.Feedback = &failingFeedback{} },
	)

	_, err := h.svc.Query(context.Background(), Request{Text: "refund"})
	require.NoError(t, err)
	h.logs.AssertLogged(t, zapcore.WarnLevel, "recording impression failed")
}

func TestFeedback_ResolvesQuery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Ingest(ctx, sampleDocs())
	require.NoError(t, err)

	resp, err := h.svc.Query(ctx, Request{Text: "refund gateway timeout"})
	require.NoError(t, err)

	entry, err := h.svc.Feedback(ctx, FeedbackRequest{QueryID: resp.QueryID, Rating: feedback.Rate(5)})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "refund gateway timeout", entry.Query)
	assert.Len(t, entry.Scores, len(resp.Results))
	assert.Len(t, entry.Distances, len(resp.Results))
	assert.Equal(t, string(resp.Results[0].Kind), entry.Category)
	assert.Equal(t, 1, entry.ParamsVersion)
	assert.Equal(t, 1, h.feedback.Len())
}

func TestFeedback_Validation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Feedback(ctx, FeedbackRequest{Query: "q"})
	assert.True(t, ragerrors.IsValidation(err), "rating or signal required")

	_, err = h.svc.Feedback(ctx, FeedbackRequest{Query: "q", Rating: feedback.Rate(7)})
	assert.True(t, ragerrors.IsValidation(err))

	_, err = h.svc.Feedback(ctx, FeedbackRequest{QueryID: "unknown", Signal: feedback.SignalPositive})
	assert.True(t, ragerrors.IsValidation(err), "query text cannot be resolved")

	entry, err := h.svc.Feedback(ctx, FeedbackRequest{Query: "q", Signal: feedback.SignalNegative, Scores: []float64{0.4}})
	require.NoError(t, err)
	assert.Equal(t, feedback.SignalNegative, entry.Signal)
	assert.Equal(t, 1, h.feedback.Len())
}

func recordRated(t *testing.T, fb feedback.Store, n, rating int, distance float64) {
	t.Helper()
	score := relevance.DefaultParams(0.8, 2.0).Normalize(distance, "")
	for i := 0; i < n; i++ {
		require.NoError(t, fb.Record(context.Background(), feedback.Entry{
			Query:     fmt.Sprintf("q-%d-%d", rating, i),
			Scores:    []float64{score},
			Distances: []float64{distance},
			Rating:    feedback.Rate(rating),
		}))
	}
}

func TestRecalibrate_ShiftsTowardFeedback(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	recordRated(t, h.feedback, 10, 5, 1.2)
	recordRated(t, h.feedback, 10, 1, 1.7)

	metrics, err := h.svc.Metrics(ctx, feedback.Window{})
	require.NoError(t, err)
	assert.Equal(t, 20, metrics.Samples)
	assert.Greater(t, metrics.CalibrationError, 0.2)

	out, err := h.svc.Recalibrate(ctx, feedback.Window{})
	require.NoError(t, err)
	require.True(t, out.Changed)
	assert.Equal(t, 2, out.Current.Version)
	assert.InDelta(t, 1.2, out.Current.MinDistance, 1e-9)
	assert.InDelta(t, 1.7, out.Current.MaxDistance, 1e-9)

	// The window is unchanged; measured against the new params it is calibrated.
	metrics, err = h.svc.Metrics(ctx, feedback.Window{})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, metrics.CalibrationError, 1e-9)
	assert.Greater(t, metrics.RecordedCalibrationError, 0.2)

	again, err := h.svc.Recalibrate(ctx, feedback.Window{})
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, 2, h.svc.Calibration().Version)

	_, err = h.svc.Ingest(ctx, sampleDocs())
	require.NoError(t, err)
	resp, err := h.svc.Query(ctx, Request{Text: "refund"})
	require.NoError(t, err)
	assert.Equal(t, 2, resp.ParamsVersion)
	assert.Equal(t, 2, h.svc.Calibration().Version)

	reset, err := h.svc.ResetCalibration(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, reset.Version)
	assert.Equal(t, 0.8, reset.MinDistance)
}

func TestRecalibrate_InsufficientSamples(t *testing.T) {
	h := newHarness(t)
	recordRated(t, h.feedback, 2, 5, 1.5)

	out, err := h.svc.Recalibrate(context.Background(), feedback.Window{})
	require.NoError(t, err)
	assert.False(t, out.Changed)
	assert.Contains(t, out.Reason, "insufficient samples")
}

func TestStudy(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	docs := sampleDocs()
	_, err := h.svc.Ingest(ctx, docs)
	require.NoError(t, err)

	report, err := h.svc.Study(ctx, []relevance.StudyCase{
		{Query: docs[1].Body, Expected: relevance.ExpectHigh},
		{Query: "zebra xylophone quantum", Expected: relevance.ExpectVeryLow},
	})
	require.NoError(t, err)
	require.Len(t, report.Groups, 4)
	assert.Equal(t, 1, report.Groups[0].Count)
	assert.Equal(t, 1.0, report.Groups[0].MaxScore)
	assert.Equal(t, 1, report.Groups[3].Count)
	assert.Less(t, report.Groups[3].AvgScore, report.Groups[0].AvgScore)

	_, err = h.svc.Study(ctx, []relevance.StudyCase{{Query: "x", Expected: "SOMEWHAT"}})
	assert.True(t, ragerrors.IsValidation(err))
}

func TestWithRetry_StopsOnCancel(t *testing.T) {
	h := newHarness(t, withConfig(func(c *Config) { c.RetryBackoff = time.Hour }))
	ctx, cancel := context.WithCancel(context.Background())

	var calls int
	done := make(chan error, 1)
	go func() {
		done <- h.svc.withRetry(ctx, "test", func(context.Context) error {
			calls++
			return ragerrors.Transient("test", "fake", errors.New("down"))
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, calls)
	case <-time.After(time.Second):
		t.Fatal("withRetry did not observe cancellation")
	}
}

type uncountedFeedback struct{ feedback.Store }

func TestStats(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	st := h.svc.Stats(ctx)
	assert.Equal(t, 0, st.Chunks)
	assert.Equal(t, 0, st.FeedbackCount)
	assert.Equal(t, 1, st.ParamsVersion)
	assert.False(t, st.Generator)

	_, err := h.svc.Ingest(ctx, []document.Document{
		document.NewIssue("PROJ-1", "Login fails", "Users cannot log in after the password reset.", document.IssueInfo{Key: "PROJ-1"}),
	})
	require.NoError(t, err)
	_, err = h.svc.Feedback(ctx, FeedbackRequest{Query: "login", Rating: feedback.Rate(4)})
	require.NoError(t, err)

	st = h.svc.Stats(ctx)
	assert.Positive(t, st.Chunks)
	assert.Equal(t, 1, st.FeedbackCount)
}

func TestStats_UncountableStore(t *testing.T) {
	h := newHarness(t, func(_ *Config, d *Deps) { d.Feedback = uncountedFeedback{feedback.NewMemoryStore()} })
	assert.Equal(t, -1, h.svc.Stats(context.Background()).FeedbackCount)
}

func TestSpans(t *testing.T) {
	tt := telemetry.NewTestTelemetry()
	h := newHarness(t, func(_ *Config, d *Deps) { d.Tracer = tt.Tracer("issuerag.retrieval") })
	ctx := context.Background()

	_, err := h.svc.Ingest(ctx, sampleDocs())
	require.NoError(t, err)
	_, err = h.svc.Query(ctx, Request{Text: "refund timeout", K: 3})
	require.NoError(t, err)

	tt.AssertSpanExists(t, "retrieval.Ingest")
	tt.AssertSpanAttribute(t, "retrieval.Ingest", "documents", int64(len(sampleDocs())))
	tt.AssertSpanExists(t, "retrieval.Query")
	tt.AssertSpanAttribute(t, "retrieval.Query", "k", int64(3))
}

func routedDocs() []document.Document {
	day := func(d int) time.Time { return time.Date(2024, 3, d, 9, 0, 0, 0, time.UTC) }
	return []document.Document{
		document.NewProject("PRJ", "Payments", "Payments platform handling invoices and refunds.",
			document.ProjectInfo{Key: "PRJ", Name: "Payments", Lead: "ana", Members: []string{"li"}, Components: []string{"Gateway", "Ledger"}}),
		document.NewIssue("PRJ-1", "Refund fails", "Refund request fails with a gateway error.",
			document.IssueInfo{Key: "PRJ-1", ProjectKey: "PRJ", Type: "Bug", Created: day(1)}),
		document.NewIssue("PRJ-2", "Ledger drift", "Ledger totals drift after a partial refund bug.",
			document.IssueInfo{Key: "PRJ-2", ProjectKey: "PRJ", Type: "Bug", Created: day(9)}),
		document.NewIssue("PRJ-3", "Invoice export", "Export invoices as CSV.",
			document.IssueInfo{Key: "PRJ-3", ProjectKey: "PRJ", Type: "Task"}),
		document.NewComment("PRJ-1-c1", "Seeing the same error on staging.",
			document.CommentInfo{IssueKey: "PRJ-1", ProjectKey: "PRJ", Author: "dev"}),
	}
}

func TestDetectRoute(t *testing.T) {
	tests := []struct {
		text string
		want Route
	}{
		{"recent bugs in payments", RouteBugs},
		{"Why the ERROR on refund?", RouteBugs},
		{"who is on the team", RouteTeam},
		{"list project members", RouteTeam},
		{"refund timeout", RouteHybrid},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DetectRoute(tt.text), tt.text)
	}
}

func TestParseRoute(t *testing.T) {
	r, err := ParseRoute("")
	require.NoError(t, err)
	assert.Equal(t, RouteAuto, r)

	r, err = ParseRoute(" Team ")
	require.NoError(t, err)
	assert.Equal(t, RouteTeam, r)

	_, err = ParseRoute("semantic")
	assert.True(t, ragerrors.IsValidation(err))
}

func TestQuery_BugsRouteNewestFirst(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Ingest(ctx, routedDocs())
	require.NoError(t, err)

	resp, err := h.svc.Query(ctx, Request{Text: "refund bug", K: 10})
	require.NoError(t, err)
	assert.Equal(t, RouteBugs, resp.Route)

	ids := make([]string, len(resp.Results))
	for i, r := range resp.Results {
		assert.Equal(t, document.KindIssue, r.Kind)
		ids[i] = r.DocumentID
	}
	assert.Equal(t, []string{"PRJ-2", "PRJ-1", "PRJ-3"}, ids)
}

func TestQuery_BugsRouteFallsBackWithoutIssues(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Ingest(ctx, sampleDocs()[2:])
	require.NoError(t, err)

	resp, err := h.svc.Query(ctx, Request{Text: "timeout", Route: RouteBugs})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, document.KindComment, resp.Results[0].Kind)
}

func TestQuery_TeamRoute(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Ingest(ctx, routedDocs())
	require.NoError(t, err)

	resp, err := h.svc.Query(ctx, Request{Text: "who works on the ledger team", K: 10})
	require.NoError(t, err)
	assert.Equal(t, RouteTeam, resp.Route)
	require.Len(t, resp.Results, 3)

	sections := map[string]int{}
	for i, r := range resp.Results {
		assert.Equal(t, document.KindProject, r.Kind)
		sections[r.Metadata[chunker.MetaSection]]++
		if i > 0 {
			assert.GreaterOrEqual(t, r.Distance, resp.Results[i-1].Distance)
		}
	}
	assert.Equal(t, map[string]int{chunker.SectionTeam: 1, chunker.SectionComponent: 2}, sections)
}

func TestQuery_ExplicitRouteOverridesWording(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Ingest(ctx, routedDocs())
	require.NoError(t, err)

	resp, err := h.svc.Query(ctx, Request{Text: "refund bug", K: 10, Route: RouteHybrid})
	require.NoError(t, err)
	assert.Equal(t, RouteHybrid, resp.Route)
	kinds := map[document.Kind]bool{}
	for _, r := range resp.Results {
		kinds[r.Kind] = true
	}
	assert.True(t, kinds[document.KindComment])
	assert.True(t, kinds[document.KindProject])

	_, err = h.svc.Query(ctx, Request{Text: "refund", Route: "semantic"})
	assert.True(t, ragerrors.IsValidation(err))
}
