// Package generation turns retrieved passages into an answer through a
// language model, and formats raw results when no answer can be produced.
package generation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/issuerag/internal/config"
	"go.uber.org/zap"
)

// ErrInvalidConfig indicates an unusable generator configuration.
var ErrInvalidConfig = errors.New("invalid generation configuration")

// Generator produces text from a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, prompt string) (string, error)

// Generate calls f.
func (f Func) Generate(ctx context.Context, prompt string) (string, error) { return f(ctx, prompt) }

// Name returns "func".
func (f Func) Name() string { return "func" }

// Passage is one ranked result handed to the generator.
type Passage struct {
	Kind     string
	Text     string
	Score    float64
	Metadata map[string]string
}

// New builds the configured generator. Provider "none" yields a nil
// Generator and no error.
func New(ctx context.Context, cfg config.GenerationConfig, logger *zap.Logger) (Generator, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return nil, nil
	case "gemini":
		return NewGeminiGenerator(ctx, GeminiConfig{
			APIKey:            cfg.APIKey,
			Model:             cfg.Model,
			RequestsPerMinute: cfg.RequestsPerMinute,
			Timeout:           cfg.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

const promptTemplate = `You are a helpful developer assistant with expertise in issue tracking and project management.

Based on the following context from the project, answer the developer's question accurately and concisely.

CONTEXT:
%s

DEVELOPER QUESTION: %s

INSTRUCTIONS:
- Answer based on the provided context from the project
- If the context doesn't contain relevant information, say so clearly
- Be concise but comprehensive
- Format your answer with clear structure using bullet points if needed
- Focus on practical, actionable information
`

// BuildPrompt renders the question and passages into a prompt.
func BuildPrompt(question string, passages []Passage) string {
	var ctxText strings.Builder
	if len(passages) == 0 {
		ctxText.WriteString("(no matching context found)\n")
	}
	for i, p := range passages {
		fmt.Fprintf(&ctxText, "[%d] %s (relevance %.2f)\n%s\n\n", i+1, strings.ToUpper(p.Kind), p.Score, p.Text)
	}
	return fmt.Sprintf(promptTemplate, strings.TrimRight(ctxText.String(), "\n"), question)
}

// FormatFallback renders passages as a plain ranked list. total is the
// number of results found, which may exceed len(passages).
func FormatFallback(passages []Passage, total int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Search Results (%d found):\n\n", total)
	if len(passages) == 0 {
		b.WriteString("No relevant results found for your query.")
		return b.String()
	}
	for i, p := range passages {
		fmt.Fprintf(&b, "%d. [%s] (Relevance: %.2f%%)\n", i+1, strings.ToUpper(p.Kind), p.Score*100)
		fmt.Fprintf(&b, "   %s\n", p.Text)
		if md := formatMetadata(p.Metadata); md != "" {
			fmt.Fprintf(&b, "   Metadata: %s\n", md)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatMetadata(md map[string]string) string {
	keys := make([]string, 0, len(md))
	for k := range md {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+md[k])
	}
	return strings.Join(parts, ", ")
}
