package feedback

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Window selects the most recent Limit entries recorded at or after Since.
// Zero values mean no bound.
type Window struct {
	Since time.Time
	Limit int
}

// Store is an append-only feedback log.
type Store interface {
	// Record validates and appends e.
	Record(ctx context.Context, e Entry) error

	// Window returns entries in chronological order.
	Window(ctx context.Context, w Window) ([]Entry, error)
}

// Select applies w to chronologically ordered entries.
func Select(entries []Entry, w Window) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !w.Since.IsZero() && e.Timestamp.Before(w.Since) {
			continue
		}
		out = append(out, e)
	}
	if w.Limit > 0 && len(out) > w.Limit {
		out = out[len(out)-w.Limit:]
	}
	return out
}

// MemoryStore keeps entries in memory. Used in tests and when no database
// is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record validates and appends e.
func (s *MemoryStore) Record(_ context.Context, e Entry) error {
	prepared, err := Prepare(e)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, prepared)
	return nil
}

// Window returns the selected entries.
func (s *MemoryStore) Window(_ context.Context, w Window) ([]Entry, error) {
	s.mu.RLock()
	entries := append([]Entry(nil), s.entries...)
	s.mu.RUnlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	return Select(entries, w), nil
}

// Len returns the number of recorded entries.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Count is Len with the signature of the persistent stores.
func (s *MemoryStore) Count(context.Context) (int, error) {
	return s.Len(), nil
}

var _ Store = (*MemoryStore)(nil)
