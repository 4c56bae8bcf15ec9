package selector

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestCache(t *testing.T, ttl time.Duration) *Cache {
	t.Helper()
	c, err := OpenCache(filepath.Join(t.TempDir(), "selectors.db"), ttl)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCachePutGetRoundTrip(t *testing.T) {
	c := openTestCache(t, time.Hour)

	put := Candidate{Selector: ".price", Strategy: "text", Confidence: 0.75, Depth: 4}
	require.NoError(t, c.Put("shop.example.com", "price", put))

	got, err := c.Get("shop.example.com", "price")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, put.Selector, got.Selector)
	assert.Equal(t, put.Strategy, got.Strategy)
	assert.InDelta(t, put.Confidence, got.Confidence, 1e-9)
	assert.Equal(t, put.Depth, got.Depth)
}

func TestCacheMissReturnsNilNotError(t *testing.T) {
	c := openTestCache(t, time.Hour)

	got, err := c.Get("shop.example.com", "never_stored")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheTTLBoundary(t *testing.T) {
	c := openTestCache(t, time.Hour)

	base := time.Now()
	c.now = func() time.Time { return base }
	require.NoError(t, c.Put("shop.example.com", "price", Candidate{Selector: ".price", Strategy: "direct", Confidence: 1}))

	// One second inside the TTL: still served.
	c.now = func() time.Time { return base.Add(time.Hour - time.Second) }
	got, err := c.Get("shop.example.com", "price")
	require.NoError(t, err)
	assert.NotNil(t, got)

	// One second past the TTL: a miss, not an error.
	c.now = func() time.Time { return base.Add(time.Hour + time.Second) }
	got, err = c.Get("shop.example.com", "price")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCachePutReplacesWholeRow(t *testing.T) {
	c := openTestCache(t, time.Hour)

	require.NoError(t, c.Put("shop.example.com", "price", Candidate{Selector: ".old", Strategy: "text", Confidence: 0.5}))
	require.NoError(t, c.Put("shop.example.com", "price", Candidate{Selector: ".new", Strategy: "semantic", Confidence: 0.9}))

	got, err := c.Get("shop.example.com", "price")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ".new", got.Selector)
	assert.Equal(t, "semantic", got.Strategy)
}

func TestCacheInvalidate(t *testing.T) {
	c := openTestCache(t, time.Hour)

	require.NoError(t, c.Put("shop.example.com", "price", Candidate{Selector: ".price", Strategy: "direct", Confidence: 1}))
	require.NoError(t, c.Invalidate("shop.example.com", "price"))

	got, err := c.Get("shop.example.com", "price")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCacheEntriesAreSiteScoped(t *testing.T) {
	c := openTestCache(t, time.Hour)

	require.NoError(t, c.Put("a.example.com", "price", Candidate{Selector: ".a", Strategy: "direct", Confidence: 1}))

	got, err := c.Get("b.example.com", "price")
	require.NoError(t, err)
	assert.Nil(t, got)
}
