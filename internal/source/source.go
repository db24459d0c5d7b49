// Package source loads documents from where they live: JSON exports on
// disk or the GitHub issues API.
package source

import (
	"context"
	"fmt"
	"os"

	"github.com/fyrsmithlabs/issuerag/internal/cache"
	"github.com/fyrsmithlabs/issuerag/internal/document"
	"go.uber.org/zap"
)

// Source yields documents for ingestion.
type Source interface {
	// Documents fetches every document the source currently holds.
	Documents(ctx context.Context) ([]document.Document, error)

	// Name identifies the source in logs and cache keys.
	Name() string
}

// FileSource reads a JSON array of documents from a file.
type FileSource struct {
	path string
}

// NewFileSource creates a FileSource for path.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Name returns "file:<path>".
func (s *FileSource) Name() string { return "file:" + s.path }

// Documents decodes the file. Documents are returned unvalidated.
func (s *FileSource) Documents(_ context.Context) ([]document.Document, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", s.path, err)
	}
	defer func() { _ = f.Close() }()
	return document.LoadJSON(f)
}

// CachedSource remembers the documents of a slow source for the cache TTL.
type CachedSource struct {
	next   Source
	cache  cache.Cache[string, []document.Document]
	logger *zap.Logger
}

// NewCachedSource wraps next with c.
func NewCachedSource(next Source, c cache.Cache[string, []document.Document], logger *zap.Logger) *CachedSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedSource{next: next, cache: c, logger: logger}
}

// Name returns the wrapped source's name.
func (s *CachedSource) Name() string { return s.next.Name() }

// Documents serves from cache when possible. Errors are not cached.
func (s *CachedSource) Documents(ctx context.Context) ([]document.Document, error) {
	if docs, ok := s.cache.Get(s.next.Name()); ok {
		s.logger.Debug("source cache hit", zap.String("source", s.next.Name()), zap.Int("documents", len(docs)))
		return append([]document.Document(nil), docs...), nil
	}
	docs, err := s.next.Documents(ctx)
	if err != nil {
		return nil, err
	}
	s.cache.Set(s.next.Name(), append([]document.Document(nil), docs...))
	return docs, nil
}

// Invalidate drops the cached documents.
func (s *CachedSource) Invalidate() {
	s.cache.Remove(s.next.Name())
}
