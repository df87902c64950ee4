package provider

import (
	"fmt"
	"time"

	"github.com/haven-health/keepsake/internal/observability/logging"
)

// Config selects and tunes the embedder chain.
type Config struct {
	// BaseURL of the embedding service. Empty selects the local
	// deterministic embedder only.
	BaseURL string

	// Model is the embedding model name.
	Model string

	// Dimensions is the vector width shared by every embedder in the
	// chain.
	Dimensions int

	// TimeoutSeconds bounds each service request.
	TimeoutSeconds int

	// RequestsPerSecond throttles service calls.
	RequestsPerSecond float64

	// CacheMaxBytes bounds the embedding cache. 0 uses the default,
	// negative disables caching.
	CacheMaxBytes int64
}

// NewEmbedder builds the embedder chain from config: an HTTP client
// with local fallback behind a cache, or the local embedder alone when
// no service is configured.
func NewEmbedder(config Config) (TextEmbedder, error) {
	dims := config.Dimensions
	if dims <= 0 {
		dims = DefaultLocalDimensions
	}
	local := NewLocalEmbedder(dims)

	if config.BaseURL == "" {
		logging.Infof("No embedding service configured, using local deterministic embedder (%d dims)", dims)
		return local, nil
	}

	httpEmbedder := NewHTTPEmbedder(HTTPEmbedderConfig{
		BaseURL:           config.BaseURL,
		Model:             config.Model,
		Dimensions:        dims,
		Timeout:           secondsOrZero(config.TimeoutSeconds),
		RequestsPerSecond: config.RequestsPerSecond,
	})
	chain := TextEmbedder(NewFallbackEmbedder(httpEmbedder, local))

	if config.CacheMaxBytes >= 0 {
		cached, err := NewCachingEmbedder(chain, config.CacheMaxBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to build embedder: %w", err)
		}
		chain = cached
	}

	logging.Infof("Embedding via %s (model=%s, dims=%d)", config.BaseURL, config.Model, dims)
	return chain, nil
}

func secondsOrZero(s int) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s) * time.Second
}

