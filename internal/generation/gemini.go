package generation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/config"
	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const (
	defaultGeminiModel       = "gemini-2.0-flash"
	defaultRequestsPerMinute = 15
	defaultTimeout           = 30 * time.Second
)

// GeminiConfig configures GeminiGenerator.
type GeminiConfig struct {
	APIKey            config.Secret
	Model             string
	RequestsPerMinute int
	Timeout           time.Duration
}

// GeminiGenerator answers prompts with a Gemini model. Requests are paced
// by a token bucket so bursts of queries do not exhaust the API quota.
type GeminiGenerator struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
}

// NewGeminiGenerator creates a Gemini client.
func NewGeminiGenerator(ctx context.Context, cfg GeminiConfig, logger *zap.Logger) (*GeminiGenerator, error) {
	if !cfg.APIKey.IsSet() {
		return nil, fmt.Errorf("%w: gemini api key required", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.RequestsPerMinute <= 0 {
		cfg.RequestsPerMinute = defaultRequestsPerMinute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey.Value(),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}

	return &GeminiGenerator{
		client:  client,
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60), 1),
		timeout: cfg.Timeout,
		logger:  logger,
	}, nil
}

// Name returns "gemini".
func (g *GeminiGenerator) Name() string { return "gemini" }

// Generate sends prompt to the model. Failures are TransientErrors so the
// caller can fall back to raw results.
func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	const op = "gemini.generate"
	if err := g.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", ragerrors.Transient(op, "gemini", fmt.Errorf("rate limiter: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: []*genai.Part{{Text: prompt}}}}, nil)
	if err != nil {
		g.logger.Warn("gemini generation failed",
			zap.String("model", g.model),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return "", ragerrors.Transient(op, "gemini", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", ragerrors.Transient(op, "gemini", fmt.Errorf("empty response"))
	}
	g.logger.Debug("gemini generation complete",
		zap.String("model", g.model),
		zap.Duration("duration", time.Since(start)),
		zap.Int("answer_length", len(text)),
	)
	return text, nil
}
