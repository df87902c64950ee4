package provider

import (
	"context"

	"github.com/haven-health/keepsake/internal/observability/logging"
	"github.com/haven-health/keepsake/internal/observability/metrics"
)

// FallbackEmbedder tries a primary embedder and silently degrades to a
// secondary on any failure. Capture must never block on an unhealthy
// embedding service, so the error from the primary is logged and
// swallowed rather than surfaced to callers.
type FallbackEmbedder struct {
	primary   TextEmbedder
	secondary TextEmbedder
}

// NewFallbackEmbedder chains primary and secondary embedders.
func NewFallbackEmbedder(primary, secondary TextEmbedder) *FallbackEmbedder {
	return &FallbackEmbedder{primary: primary, secondary: secondary}
}

// Embed returns the primary's vector, or the secondary's when the
// primary fails.
func (e *FallbackEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.primary.Embed(ctx, text)
	if err == nil {
		return vec, nil
	}

	metrics.EmbeddingFallbacks.Inc()
	logging.Warnf("Embedder %s failed, falling back to %s: %v", e.primary.Name(), e.secondary.Name(), err)
	return e.secondary.Embed(ctx, text)
}

// Dimensions returns the secondary's width. The fallback is the only
// embedder guaranteed to answer, so its width is the one the index
// must be provisioned for; the primary is configured to match it.
func (e *FallbackEmbedder) Dimensions() int {
	return e.secondary.Dimensions()
}

// Name identifies this embedder.
func (e *FallbackEmbedder) Name() string {
	return e.primary.Name() + "+" + e.secondary.Name()
}
