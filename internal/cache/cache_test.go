package cache_test

import (
	"testing"
	"time"

	"github.com/fyrsmithlabs/issuerag/internal/cache"
	"github.com/stretchr/testify/assert"
)

func TestTTL_SetGet(t *testing.T) {
	c := cache.NewTTL[string, int](10, time.Minute)

	_, ok := c.Get("a")
	assert.False(t, ok)

	c.Set("a", 1)
	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)
	assert.Equal(t, 1, c.Len())

	c.Set("a", 2)
	v, _ = c.Get("a")
	assert.Equal(t, 2, v)

	c.Remove("a")
	_, ok = c.Get("a")
	assert.False(t, ok)
}

func TestTTL_Expiry(t *testing.T) {
	c := cache.NewTTL[string, string](10, 20*time.Millisecond)
	c.Set("k", "v")

	assert.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return !ok
	}, time.Second, 5*time.Millisecond)
}

func TestTTL_EvictsOldest(t *testing.T) {
	c := cache.NewTTL[int, int](2, time.Minute)
	c.Set(1, 1)
	c.Set(2, 2)
	c.Set(3, 3)

	_, ok := c.Get(1)
	assert.False(t, ok)
	assert.Equal(t, 2, c.Len())

	c.Purge()
	assert.Equal(t, 0, c.Len())
}

func TestNew_DisabledReturnsNoop(t *testing.T) {
	c := cache.New[string, int](cache.Config{})
	c.Set("a", 1)
	_, ok := c.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len())

	enabled := cache.New[string, int](cache.Config{TTL: time.Minute, MaxEntries: 5})
	enabled.Set("a", 1)
	_, ok = enabled.Get("a")
	assert.True(t, ok)
}
