// Package provider contains the embedding collaborators the engine
// consumes: an HTTP client for a real embedding service, a
// deterministic local fallback, and the cache/breaker/fallback wrappers
// that compose them into one resilient chain.
package provider

import "context"

// TextEmbedder produces semantic vectors for free text. Implementations
// must be safe for concurrent use.
type TextEmbedder interface {
	// Embed returns the semantic vector for the text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the width of vectors this embedder produces.
	Dimensions() int

	// Name identifies the embedder in logs and results.
	Name() string
}
