package embeddings

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/config"
	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultGeminiEmbedModel = "text-embedding-004"
	defaultGeminiDimension  = 768

	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// GeminiConfig configures the Gemini embedding provider.
type GeminiConfig struct {
	APIKey    config.Secret
	Model     string
	Dimension int
}

// GeminiProvider embeds text through the Gemini API.
type GeminiProvider struct {
	client    *genai.Client
	model     string
	dimension int
	metrics   *Metrics
}

// NewGeminiProvider creates a Gemini embedding client.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiProvider, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: gemini api key required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiEmbedModel
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = defaultGeminiDimension
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey.Value(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &GeminiProvider{
		client:    client,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		metrics:   NewMetrics(logger),
	}, nil
}

// EmbedDocuments embeds texts in a single batch request.
func (p *GeminiProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	return p.embed(ctx, "embed_documents", taskRetrievalDocument, texts)
}

// EmbedQuery embeds a single query.
func (p *GeminiProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}
	vectors, err := p.embed(ctx, "embed_query", taskRetrievalQuery, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (p *GeminiProvider) embed(ctx context.Context, operation, taskType string, texts []string) (vectors [][]float32, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordGeneration(ctx, p.model, operation, time.Since(start), len(texts), err)
	}()

	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = &genai.Content{Parts: []*genai.Part{{Text: t}}}
	}
	dim := int32(p.dimension)

	resp, err := p.client.Models.EmbedContent(ctx, p.model, contents, &genai.EmbedContentConfig{
		TaskType:             taskType,
		OutputDimensionality: &dim,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ragerrors.Transient("gemini.embed", "gemini", fmt.Errorf("%w: %v", ErrEmbeddingFailed, err))
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: unexpected embedding count", ErrEmbeddingFailed)
	}

	vectors = make([][]float32, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at %d", ErrEmbeddingFailed, i)
		}
		vectors[i] = e.Values
	}
	return vectors, nil
}

// Dimension returns the configured output dimensionality.
func (p *GeminiProvider) Dimension() int { return p.dimension }

// Close is a no-op; the genai client holds no persistent connection.
func (p *GeminiProvider) Close() error { return nil }
