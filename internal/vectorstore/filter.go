package vectorstore

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/fyrsmithlabs/issuerag/internal/chunker"
	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
)

// validateUpsert checks a batch before any backend call.
func validateUpsert(op string, chunks []chunker.Chunk, vectors [][]float32, dim int) error {
	if len(chunks) != len(vectors) {
		return ragerrors.Validationf(op, "%d chunks but %d vectors", len(chunks), len(vectors))
	}
	for i, c := range chunks {
		if c.ID == "" {
			return ragerrors.Validationf(op, "chunk %d has no id", i)
		}
		if c.Text == "" {
			return ragerrors.Validationf(op, "chunk %s has empty text", c.ID)
		}
		if len(vectors[i]) != dim {
			return ragerrors.Validationf(op, "chunk %s: vector dimension %d, store expects %d", c.ID, len(vectors[i]), dim)
		}
		if err := checkVector(vectors[i]); err != nil {
			return ragerrors.Validationf(op, "chunk %s: %v", c.ID, err)
		}
	}
	return nil
}

func validateSearch(op string, query []float32, k, dim int) error {
	if k <= 0 {
		return ragerrors.Validationf(op, "k must be positive, got %d", k)
	}
	if len(query) != dim {
		return ragerrors.Validationf(op, "query dimension %d, store expects %d", len(query), dim)
	}
	if err := checkVector(query); err != nil {
		return ragerrors.Validationf(op, "query: %v", err)
	}
	return nil
}

// checkVector rejects vectors cosine distance is undefined for.
func checkVector(v []float32) error {
	var norm float64
	for i, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("component %d is not finite", i)
		}
		norm += f * f
	}
	if norm == 0 {
		return errors.New("vector has zero norm")
	}
	return nil
}

// tieMargin is how many hits past k a backend fetches so that hits tied
// at the k-th distance are cut by chunk ID rather than backend order.
const tieMargin = 8

func fetchLimit(k int) int {
	return k + tieMargin
}

// recordMetadata is the flat metadata stored with a chunk's vector.
func recordMetadata(c chunker.Chunk) map[string]string {
	md := make(map[string]string, len(c.Metadata)+5)
	for k, v := range c.Metadata {
		md[k] = v
	}
	md[KeyChunkID] = c.ID
	md[KeyDocumentID] = c.DocumentID
	md[KeyKind] = string(c.Kind)
	md[KeyTags] = c.Tags
	md[KeyLength] = strconv.Itoa(c.Length)
	return md
}

// SortHits orders hits by distance then chunk ID and truncates to k. It
// sorts in place.
func SortHits(hits []Hit, k int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Distance != hits[j].Distance {
			return hits[i].Distance < hits[j].Distance
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

// distanceFromSimilarity maps cosine similarity to a distance in [0,2].
func distanceFromSimilarity(sim float32) float64 {
	d := 1 - float64(sim)
	return math.Max(0, math.Min(2, d))
}
