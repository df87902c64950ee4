package provider

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"
)

// DefaultCacheMaxBytes bounds the embedding cache at 64 MiB.
const DefaultCacheMaxBytes = 64 << 20

// CachingEmbedder memoizes embeddings by exact text. Moments are often
// re-vectorized during retrieval scoring and reconciliation, and the
// vectors are immutable for a given text, so a small cache removes
// most repeat service calls.
type CachingEmbedder struct {
	inner TextEmbedder
	cache *ristretto.Cache
}

// NewCachingEmbedder wraps inner with a cost-bounded cache. maxBytes
// caps the total cached vector bytes; non-positive values use
// DefaultCacheMaxBytes.
func NewCachingEmbedder(inner TextEmbedder, maxBytes int64) (*CachingEmbedder, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultCacheMaxBytes
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e5,
		MaxCost:     maxBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding cache: %w", err)
	}
	return &CachingEmbedder{inner: inner, cache: cache}, nil
}

// Embed returns the cached vector when present, otherwise delegates
// and stores the result. Cached slices are shared, never mutated.
func (e *CachingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if cached, ok := e.cache.Get(text); ok {
		if vec, ok := cached.([]float32); ok {
			return vec, nil
		}
	}

	vec, err := e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(text, vec, int64(4*len(vec)))
	return vec, nil
}

// Dimensions returns the inner embedder's width.
func (e *CachingEmbedder) Dimensions() int {
	return e.inner.Dimensions()
}

// Name identifies this embedder.
func (e *CachingEmbedder) Name() string {
	return "cached:" + e.inner.Name()
}

// Wait blocks until buffered cache writes are applied. Only needed by
// tests that assert on hits immediately after a Set.
func (e *CachingEmbedder) Wait() {
	e.cache.Wait()
}

// Close releases cache resources.
func (e *CachingEmbedder) Close() {
	e.cache.Close()
}
