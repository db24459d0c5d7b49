package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/issuerag/internal/chunker"
	"github.com/fyrsmithlabs/issuerag/internal/config"
	"github.com/fyrsmithlabs/issuerag/internal/embeddings"
	"github.com/fyrsmithlabs/issuerag/internal/feedback"
	"github.com/fyrsmithlabs/issuerag/internal/generation"
	"github.com/fyrsmithlabs/issuerag/internal/relevance"
	"github.com/fyrsmithlabs/issuerag/internal/retrieval"
	"github.com/fyrsmithlabs/issuerag/internal/scheduler"
	"github.com/fyrsmithlabs/issuerag/internal/secrets"
	"github.com/fyrsmithlabs/issuerag/internal/storage/sqlite"
	"github.com/fyrsmithlabs/issuerag/internal/vectorstore"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// MemoryDatabase as feedback.database_path keeps feedback and calibration
// history in memory only.
const MemoryDatabase = "memory"

// BuildOption overrides a component Build would otherwise construct.
type BuildOption func(*buildOptions)

type buildOptions struct {
	embedder     embeddings.Provider
	generator    generation.Generator
	hasGenerator bool
	tracer       trace.Tracer
}

// WithEmbedder uses p instead of the configured provider.
func WithEmbedder(p embeddings.Provider) BuildOption {
	return func(o *buildOptions) { o.embedder = p }
}

// WithGenerator uses g instead of the configured generator. A nil g
// disables generation.
func WithGenerator(g generation.Generator) BuildOption {
	return func(o *buildOptions) { o.generator, o.hasGenerator = g, true }
}

// WithTracer traces retrieval with t.
func WithTracer(t trace.Tracer) BuildOption {
	return func(o *buildOptions) { o.tracer = t }
}

// Build wires every component from cfg. On error, whatever was already
// opened is closed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...BuildOption) (_ Registry, err error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	reg := &registry{}
	defer func() {
		if err != nil {
			if cerr := reg.Close(); cerr != nil {
				logger.Warn("closing partially built services", zap.Error(cerr))
			}
		}
	}()

	reg.embedder = o.embedder
	if reg.embedder == nil {
		reg.embedder, err = newEmbedder(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("embeddings: %w", err)
		}
	}
	dim := reg.embedder.Dimension()
	if dim <= 0 {
		return nil, fmt.Errorf("embeddings: provider %q reports no dimension", cfg.Embeddings.Provider)
	}

	reg.vectorStore, err = vectorstore.NewStore(ctx, cfg.VectorStore, dim, logger)
	if err != nil {
		return nil, fmt.Errorf("vector store: %w", err)
	}

	var params relevance.ParamStore
	if cfg.Feedback.DatabasePath == MemoryDatabase {
		reg.feedback = feedback.NewMemoryStore()
	} else {
		path, perr := config.ExpandPath(cfg.Feedback.DatabasePath)
		if perr != nil {
			return nil, fmt.Errorf("feedback database path: %w", perr)
		}
		reg.database, err = sqlite.NewStore(path)
		if err != nil {
			return nil, fmt.Errorf("feedback database: %w", err)
		}
		reg.feedback = reg.database.FeedbackStore()
		params = reg.database.CalibrationStore()
	}

	reg.calibrator, err = relevance.NewCalibrator(calibrationConfig(cfg.Calibration), params, logger)
	if err != nil {
		return nil, fmt.Errorf("calibration: %w", err)
	}
	if err = reg.calibrator.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading calibration: %w", err)
	}

	gen := o.generator
	if !o.hasGenerator {
		gen, err = generation.New(ctx, cfg.Generation, logger)
		if err != nil {
			return nil, fmt.Errorf("generation: %w", err)
		}
	}

	ch, err := chunker.New(cfg.Chunker)
	if err != nil {
		return nil, fmt.Errorf("chunker: %w", err)
	}

	var redactor retrieval.Redactor
	if cfg.Secrets.Redact {
		r, err := newRedactor(cfg.Secrets)
		if err != nil {
			return nil, fmt.Errorf("secrets: %w", err)
		}
		redactor = r
	}

	reg.retrieval, err = retrieval.NewService(retrievalConfig(cfg), retrieval.Deps{
		Chunker:    ch,
		Embedder:   reg.embedder,
		Store:      reg.vectorStore,
		Calibrator: reg.calibrator,
		Feedback:   reg.feedback,
		Generator:  gen,
		Redactor:   redactor,
		Tracer:     o.tracer,
	}, logger)
	if err != nil {
		return nil, err
	}

	if spec := cfg.Calibration.Schedule; spec != "" {
		reg.scheduler = scheduler.NewCronScheduler(logger)
		job := scheduler.NewRecalibrationJob(reg.retrieval, cfg.Calibration.Window, logger)
		if err = reg.scheduler.AddJob(job, spec); err != nil {
			return nil, fmt.Errorf("calibration schedule: %w", err)
		}
	}

	logger.Info("services ready",
		zap.String("embeddings", cfg.Embeddings.Provider),
		zap.Int("dimension", dim),
		zap.String("vectorstore", cfg.VectorStore.Provider),
		zap.Bool("persistent_feedback", reg.database != nil),
		zap.Bool("generator", reg.retrieval.HasGenerator()),
		zap.Int("calibration_version", reg.calibrator.Snapshot().Version),
	)
	return reg, nil
}

func newEmbedder(ctx context.Context, cfg *config.Config, logger *zap.Logger) (embeddings.Provider, error) {
	cacheDir, err := config.ExpandPath(cfg.Embeddings.CacheDir)
	if err != nil {
		return nil, err
	}
	return embeddings.NewProvider(ctx, embeddings.ProviderConfig{
		Provider:  cfg.Embeddings.Provider,
		Model:     cfg.Embeddings.Model,
		BaseURL:   cfg.Embeddings.BaseURL,
		APIKey:    cfg.Embeddings.APIKey,
		Dimension: cfg.Embeddings.Dimension,
		CacheDir:  cacheDir,
		Cache:     cfg.Cache,
		Logger:    logger,
	})
}

func calibrationConfig(c config.CalibrationConfig) relevance.Config {
	return relevance.Config{
		MinDistance:    c.MinDistance,
		MaxDistance:    c.MaxDistance,
		ErrorThreshold: c.ErrorThreshold,
		MinSamples:     c.MinSamples,
		RelevantRating: c.RelevantRating,
	}
}

func retrievalConfig(cfg *config.Config) retrieval.Config {
	return retrieval.Config{
		Workers:           cfg.Ingest.Workers,
		MaxRetries:        cfg.Ingest.MaxRetries,
		RetryBackoff:      cfg.Ingest.RetryBackoff,
		DefaultK:          cfg.Query.DefaultK,
		MaxK:              cfg.Query.MaxK,
		ContextResults:    cfg.Query.ContextResults,
		RecordImpressions: cfg.Feedback.RecordImpressions,
		FeedbackWindow:    cfg.Calibration.Window,
		Metrics: feedback.MetricsConfig{
			K:              cfg.Feedback.PrecisionK,
			RelevantRating: cfg.Calibration.RelevantRating,
			ErrorThreshold: cfg.Calibration.ErrorThreshold,
		},
	}
}

func newRedactor(cfg config.SecretsConfig) (*secrets.Redactor, error) {
	path, err := config.ExpandPath(cfg.AllowlistPath)
	if err != nil {
		return nil, err
	}
	allow, err := secrets.LoadAllowlist(path)
	if err != nil {
		return nil, err
	}
	return secrets.New(allow.Merge(secrets.Allowlist{Regexes: cfg.Allow}))
}
