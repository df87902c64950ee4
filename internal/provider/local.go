package provider

import (
	"context"
	"hash/fnv"
	"math"
)

// DefaultLocalDimensions matches the width of common small sentence
// embedding models so a later switch to a real service keeps index
// dimensionality stable.
const DefaultLocalDimensions = 384

// LocalEmbedder produces deterministic pseudo-embeddings derived from
// a hash of the input text. The same text always yields the same unit
// vector, which keeps capture and retrieval self-consistent when no
// embedding service is reachable. The vectors carry no semantic
// meaning, so nearest-neighbor quality degrades to exact-text match.
type LocalEmbedder struct {
	dimensions int
}

// NewLocalEmbedder creates a local embedder. Non-positive dims fall
// back to DefaultLocalDimensions.
func NewLocalEmbedder(dimensions int) *LocalEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultLocalDimensions
	}
	return &LocalEmbedder{dimensions: dimensions}
}

// Embed deterministically generates a unit vector from the text.
func (e *LocalEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, e.dimensions)
	var norm float32
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		val := float32(int64(seed)) / float32(math.MaxInt64)
		vec[i] = val
		norm += val * val
	}

	if norm > 0 {
		norm = float32(math.Sqrt(float64(norm)))
		for i := range vec {
			vec[i] /= norm
		}
	}
	return vec, nil
}

// Dimensions returns the vector width.
func (e *LocalEmbedder) Dimensions() int {
	return e.dimensions
}

// Name identifies this embedder.
func (e *LocalEmbedder) Name() string {
	return "local"
}
