package retrieval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fyrsmithlabs/issuerag/internal/cache"
	"github.com/fyrsmithlabs/issuerag/internal/chunker"
	"github.com/fyrsmithlabs/issuerag/internal/embeddings"
	"github.com/fyrsmithlabs/issuerag/internal/feedback"
	"github.com/fyrsmithlabs/issuerag/internal/generation"
	"github.com/fyrsmithlabs/issuerag/internal/logging"
	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"github.com/fyrsmithlabs/issuerag/internal/relevance"
	"github.com/fyrsmithlabs/issuerag/internal/secrets"
	"github.com/fyrsmithlabs/issuerag/internal/vectorstore"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "issuerag.retrieval"

// ErrMissingDependency is returned by NewService when a required
// collaborator is nil.
var ErrMissingDependency = errors.New("missing dependency")

const (
	defaultQueryCacheSize = 1024
	defaultQueryCacheTTL  = time.Hour
)

// Config tunes the orchestrator.
type Config struct {
	Workers      int
	MaxRetries   int
	RetryBackoff time.Duration

	DefaultK       int
	MaxK           int
	ContextResults int

	// RecordImpressions logs an unrated feedback entry for every query.
	RecordImpressions bool

	// FeedbackWindow is the number of recent entries used by Metrics and
	// Recalibrate when the caller gives no window.
	FeedbackWindow int

	Metrics feedback.MetricsConfig
}

// DefaultConfig returns 4 workers, 3 retries from 500ms, k=5 capped at 50,
// 5 context results and a 500 entry feedback window.
func DefaultConfig() Config {
	return Config{
		Workers:        4,
		MaxRetries:     3,
		RetryBackoff:   500 * time.Millisecond,
		DefaultK:       5,
		MaxK:           50,
		ContextResults: 5,
		FeedbackWindow: 500,
		Metrics:        feedback.DefaultMetricsConfig(),
	}
}

func (c *Config) applyDefaults() {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = d.RetryBackoff
	}
	if c.DefaultK <= 0 {
		c.DefaultK = d.DefaultK
	}
	if c.MaxK <= 0 {
		c.MaxK = d.MaxK
	}
	if c.DefaultK > c.MaxK {
		c.DefaultK = c.MaxK
	}
	if c.ContextResults <= 0 {
		c.ContextResults = d.ContextResults
	}
	if c.FeedbackWindow <= 0 {
		c.FeedbackWindow = d.FeedbackWindow
	}
	if c.Metrics.K <= 0 {
		c.Metrics.K = d.Metrics.K
	}
	if c.Metrics.RelevantRating <= 0 {
		c.Metrics.RelevantRating = d.Metrics.RelevantRating
	}
	if c.Metrics.ErrorThreshold <= 0 {
		c.Metrics.ErrorThreshold = d.Metrics.ErrorThreshold
	}
}

// Redactor masks secrets in document text before chunking.
type Redactor interface {
	Redact(content string) secrets.Result
}

// Deps are the Service's collaborators. Generator, QueryCache and Redactor
// are optional.
type Deps struct {
	Chunker    *chunker.Chunker
	Embedder   embeddings.Embedder
	Store      vectorstore.Store
	Calibrator *relevance.Calibrator
	Feedback   feedback.Store
	Generator  generation.Generator
	QueryCache cache.Cache[string, QuerySummary]
	Redactor   Redactor

	// Tracer defaults to the global provider's.
	Tracer trace.Tracer
}

// Service is the retrieval orchestrator. It is safe for concurrent use.
type Service struct {
	cfg        Config
	chunker    *chunker.Chunker
	embedder   embeddings.Embedder
	store      vectorstore.Store
	calibrator *relevance.Calibrator
	feedback   feedback.Store
	generator  generation.Generator
	queries    cache.Cache[string, QuerySummary]
	redactor   Redactor
	tracer     trace.Tracer
	logger     *zap.Logger
}

// NewService wires a Service.
func NewService(cfg Config, deps Deps, logger *zap.Logger) (*Service, error) {
	switch {
	case deps.Chunker == nil:
		return nil, fmt.Errorf("%w: chunker", ErrMissingDependency)
	case deps.Embedder == nil:
		return nil, fmt.Errorf("%w: embedder", ErrMissingDependency)
	case deps.Store == nil:
		return nil, fmt.Errorf("%w: vector store", ErrMissingDependency)
	case deps.Calibrator == nil:
		return nil, fmt.Errorf("%w: calibrator", ErrMissingDependency)
	case deps.Feedback == nil:
		return nil, fmt.Errorf("%w: feedback store", ErrMissingDependency)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.QueryCache == nil {
		deps.QueryCache = cache.NewTTL[string, QuerySummary](defaultQueryCacheSize, defaultQueryCacheTTL)
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(instrumentationName)
	}
	cfg.applyDefaults()

	return &Service{
		cfg:        cfg,
		chunker:    deps.Chunker,
		embedder:   deps.Embedder,
		store:      deps.Store,
		calibrator: deps.Calibrator,
		feedback:   deps.Feedback,
		generator:  deps.Generator,
		queries:    deps.QueryCache,
		redactor:   deps.Redactor,
		tracer:     deps.Tracer,
		logger:     logger,
	}, nil
}

// Config returns the effective configuration.
func (s *Service) Config() Config { return s.cfg }

// HasGenerator reports whether answers can be generated.
func (s *Service) HasGenerator() bool { return s.generator != nil }

// Health checks the vector store.
func (s *Service) Health(ctx context.Context) error {
	return vectorstore.CheckHealth(ctx, s.store)
}

// withRetry runs fn, retrying TransientErrors up to MaxRetries times with
// exponential backoff from RetryBackoff. Cancellation during the wait
// returns ctx.Err().
func (s *Service) withRetry(ctx context.Context, op string, fn func(context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.cfg.RetryBackoff
	b.Multiplier = 2
	b.RandomizationFactor = 0

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn(ctx)
		switch {
		case err == nil:
			return struct{}{}, nil
		case ctx.Err() != nil:
			return struct{}{}, backoff.Permanent(ctx.Err())
		case !ragerrors.IsTransient(err):
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(s.cfg.MaxRetries)+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			attempt++
			retriesTotal.WithLabelValues(op).Inc()
			logging.Ctx(ctx, s.logger).Warn("retrying transient failure",
				zap.String("operation", op),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", s.cfg.MaxRetries),
				zap.Duration("backoff", wait),
				zap.Error(err))
		}),
	)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
