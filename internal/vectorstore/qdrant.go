package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fyrsmithlabs/issuerag/internal/chunker"
	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const backendQdrant = "qdrant"

var tracer = otel.Tracer("issuerag.vectorstore.qdrant")

// pointNamespace derives stable Qdrant point UUIDs from chunk IDs.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("issuerag/chunk"))

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host and Port address the gRPC endpoint (6334), not the REST one.
	Host   string
	Port   int
	UseTLS bool
	APIKey string

	Collection string
	Dimension  int

	// MaxRetries bounds retries of transient gRPC failures.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per attempt.
	RetryBackoff time.Duration

	// MaxMessageSize is the gRPC send/receive limit in bytes.
	MaxMessageSize int
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.Collection == "" {
		return fmt.Errorf("%w: collection name required", ErrInvalidConfig)
	}
	if c.Dimension <= 0 {
		return fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return nil
}

// IsTransientError reports whether a gRPC error is worth retrying.
func IsTransientError(err error) bool {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// retrier runs an operation with exponential backoff on transient errors.
type retrier struct {
	backend    string
	maxRetries int
	backoff    time.Duration
	logger     *zap.Logger
}

func (r retrier) do(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.backoff
	b.Multiplier = 2
	b.RandomizationFactor = 0

	retries := max(r.maxRetries, 0)
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err != nil && !IsTransientError(err) {
			return struct{}{}, backoff.Permanent(ragerrors.Storage(op, err))
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(retries)+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			attempt++
			retriesTotal.WithLabelValues(r.backend, op).Inc()
			r.logger.Warn("transient vectorstore failure, retrying",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Duration("backoff", wait),
				zap.Error(err),
			)
		}),
	)

	var permanent *backoff.PermanentError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &permanent):
		return permanent.Err
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return ragerrors.Storage(op, ragerrors.Transient(op, r.backend,
		fmt.Errorf("failed after %d retries: %w", retries, err)))
}

// QdrantStore implements Store on Qdrant's native gRPC client.
//
// Point IDs are UUIDv5 values derived from chunk IDs so re-ingesting a
// chunk overwrites its point. The chunk ID and text travel in the payload.
// Searches run exact (no HNSW) so results match ChromemStore's.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
	retry  retrier
	logger *zap.Logger
}

// NewQdrantStore connects, health-checks and ensures the collection exists
// with a matching vector size.
func NewQdrantStore(ctx context.Context, cfg QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !cfg.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)", zap.String("host", cfg.Host))
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(cfg.MaxMessageSize),
				grpc.MaxCallSendMsgSize(cfg.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, ragerrors.Storage("connect qdrant", err)
	}

	s := &QdrantStore{
		client: client,
		config: cfg,
		retry:  retrier{backend: backendQdrant, maxRetries: cfg.MaxRetries, backoff: cfg.RetryBackoff, logger: logger},
		logger: logger,
	}

	hctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Healthy(hctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := s.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant store ready",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("collection", cfg.Collection),
		zap.Int("dimension", cfg.Dimension),
	)
	return s, nil
}

// Healthy pings Qdrant.
func (s *QdrantStore) Healthy(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "QdrantStore.Healthy")
	defer span.End()

	if _, err := s.client.HealthCheck(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ragerrors.Storage("qdrant health", err)
	}
	return nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	var exists bool
	err := s.retry.do(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, s.config.Collection)
		return err
	})
	if err != nil {
		return err
	}

	if !exists {
		return s.retry.do(ctx, "create_collection", func() error {
			return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
				CollectionName: s.config.Collection,
				VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
					Size:     uint64(s.config.Dimension),
					Distance: qdrant.Distance_Cosine,
				}),
			})
		})
	}

	var info *qdrant.CollectionInfo
	if err := s.retry.do(ctx, "collection_info", func() error {
		var err error
		info, err = s.client.GetCollectionInfo(ctx, s.config.Collection)
		return err
	}); err != nil {
		return err
	}
	size := info.GetConfig().GetParams().GetVectorsConfig().GetParams().GetSize()
	if size != 0 && int(size) != s.config.Dimension {
		return fmt.Errorf("%w: collection %s has vector size %d, embedder produces %d",
			ErrInvalidConfig, s.config.Collection, size, s.config.Dimension)
	}
	return nil
}

// Dimension returns the configured vector length.
func (s *QdrantStore) Dimension() int { return s.config.Dimension }

// PointID maps a chunk ID to its Qdrant point UUID.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func toPoint(c chunker.Chunk, vec []float32) *qdrant.PointStruct {
	md := recordMetadata(c)
	payload := make(map[string]any, len(md)+1)
	for k, v := range md {
		payload[k] = v
	}
	payload[keyText] = c.Text
	return &qdrant.PointStruct{
		Id:      qdrant.NewIDUUID(PointID(c.ID)),
		Vectors: qdrant.NewVectors(vec...),
		Payload: qdrant.NewValueMap(payload),
	}
}

func buildFilter(f Filter) *qdrant.Filter {
	if len(f) == 0 {
		return nil
	}
	conds := make([]*qdrant.Condition, 0, len(f))
	for k, v := range f {
		conds = append(conds, qdrant.NewMatch(k, v))
	}
	return &qdrant.Filter{Must: conds}
}

func hitFromPoint(p *qdrant.ScoredPoint) Hit {
	md := make(map[string]string, len(p.GetPayload()))
	var text string
	for k, v := range p.GetPayload() {
		if k == keyText {
			text = v.GetStringValue()
			continue
		}
		md[k] = v.GetStringValue()
	}
	return Hit{
		ChunkID:  md[KeyChunkID],
		Distance: distanceFromSimilarity(p.GetScore()),
		Text:     text,
		Metadata: md,
	}
}

// Upsert writes the chunks with their vectors in one request.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []chunker.Chunk, vectors [][]float32) (err error) {
	if len(chunks) == 0 && len(vectors) == 0 {
		return nil
	}
	if err := validateUpsert("vectorstore.upsert", chunks, vectors, s.config.Dimension); err != nil {
		return err
	}

	ctx, span := tracer.Start(ctx, "QdrantStore.Upsert")
	defer span.End()
	span.SetAttributes(attribute.Int("chunk_count", len(chunks)))
	start := time.Now()
	defer func() { observe(backendQdrant, "upsert", start, err) }()

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = toPoint(c, vectors[i])
	}

	err = s.retry.do(ctx, "vectorstore.upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	recordsWritten.WithLabelValues(backendQdrant).Add(float64(len(points)))
	span.SetStatus(codes.Ok, "success")
	return nil
}

// Search returns the k nearest chunks to query.
func (s *QdrantStore) Search(ctx context.Context, query []float32, k int, filter Filter) (hits []Hit, err error) {
	if err := validateSearch("vectorstore.search", query, k, s.config.Dimension); err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "QdrantStore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k), attribute.Int("filter_keys", len(filter)))
	start := time.Now()
	defer func() { observe(backendQdrant, "search", start, err) }()

	var points []*qdrant.ScoredPoint
	err = s.retry.do(ctx, "vectorstore.search", func() error {
		var err error
		points, err = s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.config.Collection,
			Query:          qdrant.NewQuery(query...),
			Limit:          qdrant.PtrOf(uint64(fetchLimit(k))),
			Filter:         buildFilter(filter),
			WithPayload:    qdrant.NewWithPayload(true),
			Params:         &qdrant.SearchParams{Exact: qdrant.PtrOf(true)},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	hits = make([]Hit, 0, len(points))
	for _, p := range points {
		hits = append(hits, hitFromPoint(p))
	}
	hits = SortHits(hits, k)

	span.SetAttributes(attribute.Int("results_count", len(hits)))
	span.SetStatus(codes.Ok, "success")
	return hits, nil
}

// PurgeDocument deletes documentID's points except those in keep.
func (s *QdrantStore) PurgeDocument(ctx context.Context, documentID string, keep ...string) (err error) {
	if documentID == "" {
		return ragerrors.Validationf("vectorstore.purge", "document id is required")
	}

	ctx, span := tracer.Start(ctx, "QdrantStore.PurgeDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentID), attribute.Int("keep", len(keep)))
	start := time.Now()
	defer func() { observe(backendQdrant, "purge", start, err) }()

	filter := &qdrant.Filter{Must: []*qdrant.Condition{qdrant.NewMatch(KeyDocumentID, documentID)}}
	if len(keep) > 0 {
		ids := make([]*qdrant.PointId, len(keep))
		for i, id := range keep {
			ids[i] = qdrant.NewIDUUID(PointID(id))
		}
		filter.MustNot = []*qdrant.Condition{qdrant.NewHasID(ids...)}
	}

	err = s.retry.do(ctx, "vectorstore.purge", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         qdrant.NewPointsSelectorFilter(filter),
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	var n uint64
	err := s.retry.do(ctx, "vectorstore.count", func() error {
		var err error
		n, err = s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.config.Collection,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	return int(n), err
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

var (
	_ Store         = (*QdrantStore)(nil)
	_ Store         = (*ChromemStore)(nil)
	_ HealthChecker = (*QdrantStore)(nil)
)
