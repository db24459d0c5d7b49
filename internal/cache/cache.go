// Package cache provides a bounded TTL cache used in front of slow external
// calls (embeddings, source fetches) and for short-lived query summaries.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Config controls cache sizing.
type Config struct {
	// TTL is the lifetime of an entry. Zero disables caching.
	TTL time.Duration `koanf:"ttl"`
	// MaxEntries bounds the number of live entries. Oldest entries are
	// evicted first. Zero disables caching.
	MaxEntries int `koanf:"max_entries"`
}

// Enabled reports whether cfg describes a usable cache.
func (c Config) Enabled() bool {
	return c.TTL > 0 && c.MaxEntries > 0
}

// Cache is a key/value store with expiry. Implementations are safe for
// concurrent use and Set is idempotent for equal values.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Remove(key K)
	Len() int
	Purge()
}

// TTL is an LRU cache whose entries expire after a fixed lifetime.
type TTL[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
}

// NewTTL creates a TTL cache holding at most size entries for ttl each.
func NewTTL[K comparable, V any](size int, ttl time.Duration) *TTL[K, V] {
	return &TTL[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl)}
}

// New returns a TTL cache for cfg, or a no-op cache when cfg is disabled.
func New[K comparable, V any](cfg Config) Cache[K, V] {
	if !cfg.Enabled() {
		return NewNoop[K, V]()
	}
	return NewTTL[K, V](cfg.MaxEntries, cfg.TTL)
}

// Get returns the live value for key.
func (c *TTL[K, V]) Get(key K) (V, bool) {
	return c.lru.Get(key)
}

// Set stores value under key, replacing any previous value and resetting
// its expiry.
func (c *TTL[K, V]) Set(key K, value V) {
	c.lru.Add(key, value)
}

// Remove drops key.
func (c *TTL[K, V]) Remove(key K) {
	c.lru.Remove(key)
}

// Len returns the number of live entries.
func (c *TTL[K, V]) Len() int {
	return c.lru.Len()
}

// Purge drops every entry.
func (c *TTL[K, V]) Purge() {
	c.lru.Purge()
}

// Noop never stores anything.
type Noop[K comparable, V any] struct{}

// NewNoop returns a cache that always misses.
func NewNoop[K comparable, V any]() *Noop[K, V] { return &Noop[K, V]{} }

func (Noop[K, V]) Get(K) (V, bool) {
	var zero V
	return zero, false
}
func (Noop[K, V]) Set(K, V) {}
func (Noop[K, V]) Remove(K) {}
func (Noop[K, V]) Len() int { return 0 }
func (Noop[K, V]) Purge()   {}
