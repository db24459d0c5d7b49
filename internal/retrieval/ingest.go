package retrieval

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/chunker"
	"github.com/fyrsmithlabs/issuerag/internal/document"
	"github.com/fyrsmithlabs/issuerag/internal/logging"
	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Status is the outcome of ingesting one document.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// DocumentResult reports one document.
type DocumentResult struct {
	ID       string        `json:"id"`
	Kind     document.Kind `json:"kind"`
	Status   Status        `json:"status"`
	Chunks   int           `json:"chunks"`
	ChunkIDs []string      `json:"chunk_ids,omitempty"`
	Redacted int           `json:"redacted,omitempty"`
	Error    string        `json:"error,omitempty"`

	err error
}

// Err returns the failure cause, nil unless Status is StatusFailed.
func (r DocumentResult) Err() error { return r.err }

// IngestionReport summarizes an Ingest call. Documents keeps input order.
type IngestionReport struct {
	Documents   []DocumentResult      `json:"documents"`
	ChunkCounts map[document.Kind]int `json:"chunk_counts"`
	TotalChunks int                   `json:"total_chunks"`
	Succeeded   int                   `json:"succeeded"`
	Skipped     int                   `json:"skipped"`
	Failed      int                   `json:"failed"`
	Redacted    int                   `json:"redacted"`
	Duration    time.Duration         `json:"duration"`
}

func newReport(results []DocumentResult, took time.Duration) *IngestionReport {
	r := &IngestionReport{
		Documents:   results,
		ChunkCounts: make(map[document.Kind]int, len(document.Kinds)),
		Duration:    took,
	}
	for _, k := range document.Kinds {
		r.ChunkCounts[k] = 0
	}
	for _, d := range results {
		r.Redacted += d.Redacted
		switch d.Status {
		case StatusSucceeded:
			r.Succeeded++
			r.ChunkCounts[d.Kind] += d.Chunks
			r.TotalChunks += d.Chunks
		case StatusSkipped:
			r.Skipped++
		default:
			r.Failed++
		}
	}
	return r
}

// Ingest chunks, embeds and stores docs on at most Workers goroutines.
//
// A failing document is reported and never stops its siblings. A
// StorageError cancels the remaining work and is returned with the
// partial report, as is the caller's cancellation. Chunks already
// upserted stay in the store in both cases. Re-ingesting a document
// replaces its chunks.
func (s *Service) Ingest(ctx context.Context, docs []document.Document) (*IngestionReport, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "retrieval.Ingest",
		trace.WithAttributes(attribute.Int("documents", len(docs))))
	defer span.End()

	if len(docs) == 0 {
		return newReport(nil, time.Since(start)), nil
	}

	// A StorageError returned from a worker cancels workCtx.
	g, workCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	results := make([]DocumentResult, len(docs))
	for i := range docs {
		if err := workCtx.Err(); err != nil {
			results[i] = failed(docs[i], err)
			continue
		}
		g.Go(func() error {
			if err := workCtx.Err(); err != nil {
				results[i] = failed(docs[i], err)
				return nil
			}
			res := s.ingestOne(workCtx, docs[i])
			results[i] = res
			if res.err != nil && ragerrors.IsStorage(res.err) {
				return res.err
			}
			return nil
		})
	}
	fatal := g.Wait()

	report := newReport(results, time.Since(start))
	for _, d := range results {
		documentsIngested.WithLabelValues(string(d.Kind), string(d.Status)).Inc()
	}
	span.SetAttributes(
		attribute.Int("succeeded", report.Succeeded),
		attribute.Int("skipped", report.Skipped),
		attribute.Int("failed", report.Failed),
		attribute.Int("chunks", report.TotalChunks),
	)

	log := logging.Ctx(ctx, s.logger)
	switch {
	case fatal != nil:
		span.RecordError(fatal)
		span.SetStatus(codes.Error, "storage failure")
		log.Error("ingestion aborted by storage failure",
			zap.Int("succeeded", report.Succeeded),
			zap.Int("failed", report.Failed),
			zap.Error(fatal))
		return report, fatal
	case ctx.Err() != nil:
		span.SetStatus(codes.Error, "canceled")
		log.Warn("ingestion canceled", zap.Int("succeeded", report.Succeeded))
		return report, ctx.Err()
	}

	log.Info("ingestion complete",
		zap.Int("documents", len(docs)),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
		zap.Int("chunks", report.TotalChunks),
		zap.Duration("duration", report.Duration))
	return report, nil
}

func failed(doc document.Document, err error) DocumentResult {
	return DocumentResult{ID: doc.ID, Kind: doc.Kind, Status: StatusFailed, Error: err.Error(), err: err}
}

// ingestOne runs validate, chunk, embed, upsert and purge for one document.
func (s *Service) ingestOne(ctx context.Context, doc document.Document) DocumentResult {
	ctx = logging.WithDocumentID(ctx, doc.ID)
	log := logging.Ctx(ctx, s.logger)

	if err := ctx.Err(); err != nil {
		return failed(doc, err)
	}
	doc, redacted := s.redact(doc)
	if redacted > 0 {
		log.Info("secrets redacted", zap.String("document", doc.ID), zap.Int("count", redacted))
	}
	chunks, err := s.chunker.Chunk(doc)
	if err != nil {
		log.Warn("document rejected", zap.String("document", doc.ID), zap.Error(err))
		return failed(doc, err)
	}
	if len(chunks) == 0 {
		log.Debug("document has no content, skipped", zap.String("document", doc.ID))
		return DocumentResult{ID: doc.ID, Kind: doc.Kind, Status: StatusSkipped}
	}

	vectors, err := s.embedChunks(ctx, chunks)
	if err != nil {
		log.Warn("embedding failed", zap.String("document", doc.ID), zap.Error(err))
		return failed(doc, err)
	}

	if err := ctx.Err(); err != nil {
		return failed(doc, err)
	}
	if err := s.store.Upsert(ctx, chunks, vectors); err != nil {
		log.Warn("upsert failed", zap.String("document", doc.ID), zap.Error(err))
		return failed(doc, err)
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}
	if err := s.store.PurgeDocument(ctx, doc.ID, ids...); err != nil {
		log.Warn("purging stale chunks failed", zap.String("document", doc.ID), zap.Error(err))
		return failed(doc, err)
	}

	log.Debug("document ingested", zap.String("document", doc.ID), zap.Int("chunks", len(chunks)))
	return DocumentResult{
		ID:       doc.ID,
		Kind:     doc.Kind,
		Status:   StatusSucceeded,
		Chunks:   len(chunks),
		ChunkIDs: ids,
		Redacted: redacted,
	}
}

// redact masks secrets in the title and body.
func (s *Service) redact(doc document.Document) (document.Document, int) {
	if s.redactor == nil {
		return doc, 0
	}
	var n int
	for _, field := range []*string{&doc.Title, &doc.Body} {
		res := s.redactor.Redact(*field)
		if res.Redacted() == 0 {
			continue
		}
		*field = res.Content
		n += res.Redacted()
		for rule, c := range res.Rules() {
			secretsRedacted.WithLabelValues(rule).Add(float64(c))
		}
	}
	return doc, n
}

func (s *Service) embedChunks(ctx context.Context, chunks []chunker.Chunk) ([][]float32, error) {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	var vectors [][]float32
	err := s.withRetry(ctx, "embed_documents", func(ctx context.Context) error {
		v, err := s.embedder.EmbedDocuments(ctx, texts)
		vectors = v
		return err
	})
	return vectors, err
}
