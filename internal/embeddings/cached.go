package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/fyrsmithlabs/issuerag/internal/cache"
	"go.uber.org/zap"
)

// CachedProvider fronts a Provider with a TTL cache keyed by content hash.
// Cached vectors are copied on the way in and out so callers can mutate
// what they receive.
type CachedProvider struct {
	next      Provider
	cache     cache.Cache[string, []float32]
	namespace string
	metrics   *Metrics
	logger    *zap.Logger
}

// NewCachedProvider wraps next. namespace separates models sharing a cache.
func NewCachedProvider(next Provider, c cache.Cache[string, []float32], namespace string, logger *zap.Logger) *CachedProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedProvider{
		next:      next,
		cache:     c,
		namespace: namespace,
		metrics:   NewMetrics(logger),
		logger:    logger,
	}
}

func (c *CachedProvider) key(task, text string) string {
	sum := sha256.Sum256([]byte(text))
	return "embed:" + c.namespace + ":" + task + ":" + hex.EncodeToString(sum[:])
}

// EmbedDocuments serves cached vectors and embeds only the misses, in one
// batch, preserving input order.
func (c *CachedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)
	for i, t := range texts {
		if v, ok := c.cache.Get(c.key("doc", t)); ok {
			out[i] = cloneVector(v)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	c.metrics.RecordCacheLookups(ctx, len(texts)-len(missIdx), len(missIdx))

	if len(missTexts) == 0 && len(texts) > 0 {
		c.logger.Debug("embedding cache hit", zap.Int("count", len(texts)))
		return out, nil
	}

	vectors, err := c.next.EmbedDocuments(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, v := range vectors {
		i := missIdx[j]
		out[i] = v
		c.cache.Set(c.key("doc", texts[i]), cloneVector(v))
	}
	return out, nil
}

// EmbedQuery serves a cached query vector or embeds and caches it.
func (c *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	k := c.key("query", text)
	if v, ok := c.cache.Get(k); ok {
		c.metrics.RecordCacheLookups(ctx, 1, 0)
		return cloneVector(v), nil
	}
	c.metrics.RecordCacheLookups(ctx, 0, 1)

	v, err := c.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Set(k, cloneVector(v))
	return v, nil
}

// Dimension delegates to the wrapped provider.
func (c *CachedProvider) Dimension() int { return c.next.Dimension() }

// Close purges the cache and closes the wrapped provider.
func (c *CachedProvider) Close() error {
	c.cache.Purge()
	return c.next.Close()
}

func cloneVector(v []float32) []float32 {
	if len(v) == 0 {
		return nil
	}
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
