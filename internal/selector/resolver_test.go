package selector

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ferret/internal/dom"
)

const storefrontHTML = `<!DOCTYPE html>
<html>
<head><title>Storefront</title></head>
<body>
  <main>
    <h1 id="product-title">Walnut Standing Desk</h1>
    <div class="pricing">
      <span class="price-current">$849.00</span>
      <span class="price-old">$999.00</span>
    </div>
    <p class="description">A solid walnut standing desk with dual motors and a cable tray underneath.</p>
    <button class="add-to-cart">Add to cart</button>
  </main>
</body>
</html>`

func storefront(t *testing.T) *dom.Static {
	t.Helper()
	d, err := dom.ParseStatic("https://shop.example.com/desk", storefrontHTML)
	require.NoError(t, err)
	return d
}

func TestResolveDirectWinsWhenSelectorHolds(t *testing.T) {
	r := NewResolver(nil, Options{Enabled: true})
	d := storefront(t)

	cand, err := r.Resolve(context.Background(), d, Target{
		LogicalName: "price",
		Selectors:   []string{".price-current"},
	})
	require.NoError(t, err)
	assert.Equal(t, "direct", cand.Strategy)
	assert.Equal(t, ".price-current", cand.Selector)
	assert.Equal(t, 1.0, cand.Confidence)
}

func TestResolveSkipsBrokenHintsInOrder(t *testing.T) {
	// The first hint is dead; direct still wins through the second before
	// any healing strategy runs.
	r := NewResolver(nil, Options{Enabled: true})
	d := storefront(t)

	cand, err := r.Resolve(context.Background(), d, Target{
		LogicalName: "price",
		Selectors:   []string{".price-2019-redesign", ".price-current"},
	})
	require.NoError(t, err)
	assert.Equal(t, "direct", cand.Strategy)
	assert.Equal(t, ".price-current", cand.Selector)
}

func TestResolveHealsThroughTextThenHitsCache(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "selectors.db"), time.Hour)
	require.NoError(t, err)
	defer cache.Close()

	r := NewResolver(cache, Options{Enabled: true})
	d := storefront(t)
	ctx := context.Background()

	target := Target{
		LogicalName: "price",
		Selectors:   []string{".price-2019-redesign"}, // dead after markup drift
		TextHint:    "849",
	}

	// First resolution heals via the text strategy and commits the winner.
	first, err := r.Resolve(ctx, d, target)
	require.NoError(t, err)
	assert.Equal(t, "text", first.Strategy)

	n, err := d.Count(ctx, first.Selector)
	require.NoError(t, err)
	assert.Positive(t, n)

	// Second resolution replays the cached winner without healing again.
	second, err := r.Resolve(ctx, d, target)
	require.NoError(t, err)
	assert.Equal(t, "cached", second.Strategy)
	assert.Equal(t, first.Selector, second.Selector)
}

func TestResolveInvalidatesStaleCacheEntry(t *testing.T) {
	cache, err := OpenCache(filepath.Join(t.TempDir(), "selectors.db"), time.Hour)
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, cache.Put("shop.example.com", "price",
		Candidate{Selector: ".price-removed", Strategy: "direct", Confidence: 1}))

	r := NewResolver(cache, Options{Enabled: true})
	d := storefront(t)

	cand, err := r.Resolve(context.Background(), d, Target{
		LogicalName: "price",
		TextHint:    "849",
	})
	require.NoError(t, err)
	assert.NotEqual(t, ".price-removed", cand.Selector)

	// The dead entry must be gone so it cannot shadow future healing.
	entry, err := cache.Get("shop.example.com", "price")
	require.NoError(t, err)
	if entry != nil {
		assert.NotEqual(t, ".price-removed", entry.Selector)
	}
}

func TestResolveSemanticFallback(t *testing.T) {
	r := NewResolver(nil, Options{Enabled: true, SimilarityThreshold: 2.0})
	d := storefront(t)

	cand, err := r.Resolve(context.Background(), d, Target{
		LogicalName:  "title",
		SemanticHint: "product title",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, cand.Selector)

	n, err := d.Count(context.Background(), cand.Selector)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestResolveExhaustionReportsAttemptedStrategies(t *testing.T) {
	r := NewResolver(nil, Options{Enabled: true})
	d := storefront(t)

	_, err := r.Resolve(context.Background(), d, Target{
		LogicalName: "vin_number",
		Selectors:   []string{".vin"},
		TextHint:    "WVWZZZ",
	})
	require.Error(t, err)

	var fail *ResolutionFailure
	require.ErrorAs(t, err, &fail)
	assert.Equal(t, "vin_number", fail.LogicalName)
	assert.Equal(t, []string{"direct", "text", "semantic"}, fail.Attempted)
}

func TestResolveDisabledTriesOnlyFirstHint(t *testing.T) {
	r := NewResolver(nil, Options{Enabled: false})
	d := storefront(t)

	cand, err := r.Resolve(context.Background(), d, Target{
		LogicalName: "price",
		Selectors:   []string{".price-current", ".fallback"},
	})
	require.NoError(t, err)
	assert.Equal(t, "direct", cand.Strategy)

	_, err = r.Resolve(context.Background(), d, Target{
		LogicalName: "price",
		Selectors:   []string{".price-2019-redesign", ".price-current"},
		TextHint:    "849",
	})
	var fail *ResolutionFailure
	require.ErrorAs(t, err, &fail)
}

func TestResolveHonorsContextCancellation(t *testing.T) {
	r := NewResolver(nil, Options{Enabled: true})
	d := storefront(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Resolve(ctx, d, Target{LogicalName: "price", Selectors: []string{".price-current"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSiteKey(t *testing.T) {
	assert.Equal(t, "shop.example.com", SiteKey("https://shop.example.com/desk?ref=home"))
	assert.Equal(t, "localhost:8080", SiteKey("http://localhost:8080/"))
	assert.Equal(t, "not a url", SiteKey("not a url"))
}
