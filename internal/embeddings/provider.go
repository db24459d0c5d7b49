package embeddings

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/issuerag/internal/cache"
	"github.com/fyrsmithlabs/issuerag/internal/config"
	"go.uber.org/zap"
)

var (
	// ErrEmptyInput indicates empty or nil input texts
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmbeddingFailed indicates embedding generation failure
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// Embedder generates vector embeddings from text.
type Embedder interface {
	// EmbedDocuments generates embeddings for multiple texts.
	// Returns one embedding per input text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedQuery generates an embedding for a single query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Provider is an Embedder with a fixed output dimension.
type Provider interface {
	Embedder
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// ProviderConfig holds configuration for creating an embedding provider.
type ProviderConfig struct {
	// Provider is one of "fastembed", "tei", "gemini" or "hash".
	Provider string
	// Model is the embedding model name.
	Model string
	// BaseURL is the TEI URL (TEI only).
	BaseURL string
	// APIKey authenticates against hosted providers (Gemini).
	APIKey config.Secret
	// Dimension overrides the detected dimension. Required for "hash",
	// optional for "gemini" where it sets the output dimensionality.
	Dimension int
	// CacheDir is the model cache directory (FastEmbed only).
	CacheDir string
	// Cache fronts the provider with a TTL cache when enabled.
	Cache cache.Config
	// Logger receives provider diagnostics.
	Logger *zap.Logger
}

// NewProvider creates an embedding provider based on the configuration.
// The result is wrapped in a CachedProvider when cfg.Cache is enabled.
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var (
		p   Provider
		err error
	)
	switch strings.ToLower(cfg.Provider) {
	case "fastembed", "":
		p, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
	case "tei":
		var svc *Service
		svc, err = NewService(Config{BaseURL: cfg.BaseURL, Model: cfg.Model}, cfg.Logger)
		if err == nil {
			dim := cfg.Dimension
			if dim == 0 {
				dim = detectDimensionFromModel(cfg.Model)
			}
			p = &teiProvider{Service: svc, dimension: dim}
		}
	case "gemini":
		p, err = NewGeminiProvider(ctx, GeminiConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			Dimension: cfg.Dimension,
		}, cfg.Logger)
	case "hash":
		p, err = NewHashProvider(cfg.Dimension)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Enabled() {
		namespace := cfg.Provider + ":" + cfg.Model
		p = NewCachedProvider(p, cache.New[string, []float32](cfg.Cache), namespace, cfg.Logger)
	}
	return p, nil
}

// detectDimensionFromModel returns the embedding dimension for a model name.
// Falls back to 384 if model is unknown.
func detectDimensionFromModel(model string) int {
	if dim, ok := fastEmbedModelDimension(model); ok {
		return dim
	}
	switch {
	case strings.Contains(model, "base"):
		return 768
	case strings.Contains(model, "large"):
		return 1024
	default:
		return 384
	}
}

// teiProvider wraps Service to implement Provider interface.
type teiProvider struct {
	*Service
	dimension int
}

// Dimension returns the embedding dimension based on the configured model.
func (t *teiProvider) Dimension() int {
	return t.dimension
}

// Close is a no-op for TEI since it uses HTTP.
func (t *teiProvider) Close() error {
	return nil
}
