package vectorstore

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/issuerag/internal/chunker"
)

// ErrInvalidConfig indicates a store could not be built from its config.
var ErrInvalidConfig = errors.New("invalid vectorstore configuration")

// Metadata keys written with every record in addition to the chunk's own
// metadata.
const (
	KeyChunkID    = "chunk_id"
	KeyDocumentID = "document_id"
	KeyKind       = "kind"
	KeyTags       = "tags"
	KeyLength     = "length"
	keyText       = "text"
)

// Hit is one nearest-neighbour match. Distance is cosine distance in [0,2],
// smaller meaning closer.
type Hit struct {
	ChunkID  string            `json:"chunk_id"`
	Distance float64           `json:"distance"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Filter restricts a search to records whose metadata equals every entry.
type Filter map[string]string

// Store persists chunk embeddings and answers nearest-neighbour queries.
//
// Implementations:
//   - ChromemStore: embedded chromem-go (default)
//   - QdrantStore: external Qdrant over gRPC
type Store interface {
	// Upsert writes one record per chunk. Records with an existing chunk ID
	// are replaced. Empty input is a no-op. Mismatched lengths, vectors of
	// the wrong dimension and chunks without ID or text are rejected before
	// anything is written.
	Upsert(ctx context.Context, chunks []chunker.Chunk, vectors [][]float32) error

	// Search returns at most k hits ordered by ascending distance, ties
	// broken by chunk ID. An empty store yields an empty slice.
	Search(ctx context.Context, query []float32, k int, filter Filter) ([]Hit, error)

	// PurgeDocument deletes every record of documentID whose chunk ID is
	// not in keep.
	PurgeDocument(ctx context.Context, documentID string, keep ...string) error

	// Count returns the number of stored records.
	Count(ctx context.Context) (int, error)

	// Dimension is the vector length the store accepts.
	Dimension() int

	Close() error
}
