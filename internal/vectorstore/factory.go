package vectorstore

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/issuerag/internal/config"
	"go.uber.org/zap"
)

// NewStore builds the Store selected by cfg.Provider for vectors of length
// dimension:
//   - "chromem" (default): embedded, no external service
//   - "qdrant": external Qdrant server over gRPC
//
// The collection name is normalized with CollectionName.
func NewStore(ctx context.Context, cfg config.VectorStoreConfig, dimension int, logger *zap.Logger) (Store, error) {
	collection := CollectionName(cfg.Collection)
	switch cfg.Provider {
	case "chromem", "":
		path, err := config.ExpandPath(cfg.Chromem.Path)
		if err != nil {
			return nil, fmt.Errorf("expanding chromem path: %w", err)
		}
		return NewChromemStore(ChromemConfig{
			Path:       path,
			Compress:   cfg.Chromem.Compress,
			InMemory:   cfg.Chromem.InMemory,
			Collection: collection,
			Dimension:  dimension,
		}, logger)

	case "qdrant":
		return NewQdrantStore(ctx, QdrantConfig{
			Host:         cfg.Qdrant.Host,
			Port:         cfg.Qdrant.Port,
			UseTLS:       cfg.Qdrant.UseTLS,
			APIKey:       cfg.Qdrant.APIKey.Value(),
			Collection:   collection,
			Dimension:    dimension,
			MaxRetries:   cfg.Qdrant.MaxRetries,
			RetryBackoff: cfg.Qdrant.RetryBackoff,
		}, logger)

	default:
		return nil, fmt.Errorf("%w: unsupported provider %q (supported: chromem, qdrant)", ErrInvalidConfig, cfg.Provider)
	}
}
