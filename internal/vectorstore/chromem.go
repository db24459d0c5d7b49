package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/chunker"
	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

const backendChromem = "chromem"

var chromemTracer = otel.Tracer("issuerag.vectorstore.chromem")

// errNoEmbedding guards the collection's embedding func: every write and
// query supplies its own vector, so chromem must never embed by itself.
var errNoEmbedding = errors.New("chromem store embeds nothing itself; supply vectors")

// ChromemConfig holds configuration for the embedded chromem-go database.
type ChromemConfig struct {
	// Path is the persistence directory. Ignored when InMemory.
	Path string

	// Compress gzips persisted records.
	Compress bool

	// InMemory keeps everything in memory; used by tests and one-shot CLI runs.
	InMemory bool

	Collection string
	Dimension  int
}

// Validate validates the configuration.
func (c ChromemConfig) Validate() error {
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection name required", ErrInvalidConfig)
	}
	if !c.InMemory && c.Path == "" {
		return fmt.Errorf("%w: path required for persistent store", ErrInvalidConfig)
	}
	return nil
}

// ChromemStore implements Store on chromem-go.
//
// Search is exhaustive over the collection, so results are exact. A
// store-wide RWMutex keeps Count and Query consistent with each other,
// since chromem rejects a result count above the collection size.
type ChromemStore struct {
	mu         sync.RWMutex
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     *zap.Logger
}

// NewChromemStore opens (or creates) the chromem collection in cfg.
func NewChromemStore(cfg ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		db  *chromem.DB
		err error
	)
	if cfg.InMemory {
		db = chromem.NewDB()
	} else {
		if err := os.MkdirAll(cfg.Path, 0o700); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", cfg.Path, err)
		}
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, ragerrors.Storage("open chromem", err)
		}
	}

	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, func(context.Context, string) ([]float32, error) {
		return nil, errNoEmbedding
	})
	if err != nil {
		return nil, ragerrors.Storage("open chromem collection", err)
	}

	logger.Info("chromem store ready",
		zap.String("path", cfg.Path),
		zap.Bool("in_memory", cfg.InMemory),
		zap.Bool("compress", cfg.Compress),
		zap.String("collection", cfg.Collection),
		zap.Int("dimension", cfg.Dimension),
		zap.Int("records", collection.Count()),
	)

	return &ChromemStore{db: db, collection: collection, config: cfg, logger: logger}, nil
}

// Dimension returns the configured vector length.
func (s *ChromemStore) Dimension() int { return s.config.Dimension }

// Upsert writes the chunks with their vectors.
func (s *ChromemStore) Upsert(ctx context.Context, chunks []chunker.Chunk, vectors [][]float32) (err error) {
	if len(chunks) == 0 && len(vectors) == 0 {
		return nil
	}
	if err := validateUpsert("vectorstore.upsert", chunks, vectors, s.config.Dimension); err != nil {
		return err
	}

	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))
	start := time.Now()
	defer func() { observe(backendChromem, "upsert", start, err) }()

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Text,
			Metadata:  recordMetadata(c),
			Embedding: vectors[i],
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ragerrors.Storage("vectorstore.upsert", err)
	}

	recordsWritten.WithLabelValues(backendChromem).Add(float64(len(docs)))
	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("upserted chunks", zap.Int("count", len(docs)))
	return nil
}

// Search returns the k nearest chunks to query.
func (s *ChromemStore) Search(ctx context.Context, query []float32, k int, filter Filter) (hits []Hit, err error) {
	if err := validateSearch("vectorstore.search", query, k, s.config.Dimension); err != nil {
		return nil, err
	}

	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k), attribute.Int("filter_keys", len(filter)))
	start := time.Now()
	defer func() { observe(backendChromem, "search", start, err) }()

	hits, err = s.query(ctx, query, filter)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	// All matching records are scored, so the cut happens after the
	// deterministic sort rather than inside chromem.
	hits = SortHits(hits, k)

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// query scores every record matching filter.
func (s *ChromemStore) query(ctx context.Context, vec []float32, filter Filter) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := s.collection.Count()
	if n == 0 {
		return []Hit{}, nil
	}
	results, err := s.collection.QueryEmbedding(ctx, vec, n, map[string]string(filter), nil)
	if err != nil {
		return nil, ragerrors.Storage("vectorstore.search", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		hits = append(hits, Hit{
			ChunkID:  r.ID,
			Distance: distanceFromSimilarity(r.Similarity),
			Text:     r.Content,
			Metadata: r.Metadata,
		})
	}
	return hits, nil
}

// PurgeDocument removes documentID's records except the chunk IDs in keep.
func (s *ChromemStore) PurgeDocument(ctx context.Context, documentID string, keep ...string) (err error) {
	if documentID == "" {
		return ragerrors.Validationf("vectorstore.purge", "document id is required")
	}

	ctx, span := chromemTracer.Start(ctx, "ChromemStore.PurgeDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentID), attribute.Int("keep", len(keep)))
	start := time.Now()
	defer func() { observe(backendChromem, "purge", start, err) }()

	// chromem has no metadata listing, so the document's records are found
	// with a filtered query against an arbitrary unit vector.
	anchor := make([]float32, s.config.Dimension)
	anchor[0] = 1
	existing, err := s.query(ctx, anchor, Filter{KeyDocumentID: documentID})
	if err != nil {
		span.RecordError(err)
		return err
	}

	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}
	var stale []string
	for _, h := range existing {
		if _, ok := keepSet[h.ChunkID]; !ok {
			stale = append(stale, h.ChunkID)
		}
	}
	if len(stale) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.collection.Delete(ctx, nil, nil, stale...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ragerrors.Storage("vectorstore.purge", err)
	}
	s.logger.Debug("purged stale chunks",
		zap.String("document_id", documentID),
		zap.Int("removed", len(stale)),
	)
	return nil
}

// Count returns the number of records in the collection.
func (s *ChromemStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.collection.Count(), nil
}

// Close is a no-op: chromem persists each write immediately.
func (s *ChromemStore) Close() error { return nil }
