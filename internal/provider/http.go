package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/haven-health/keepsake/internal/observability/metrics"
)

// HTTPEmbedderConfig holds the embedding service client configuration.
type HTTPEmbedderConfig struct {
	// BaseURL is the base URL of the embedding service
	// (default: http://localhost:11434, an Ollama-compatible API).
	BaseURL string

	// Model is the embedding model name (default: nomic-embed-text).
	Model string

	// Dimensions is the expected vector width; responses with a
	// different width are treated as provider failures. 0 disables
	// the check.
	Dimensions int

	// Timeout is the per-request timeout (default: 5s).
	Timeout time.Duration

	// RequestsPerSecond throttles outbound calls (default: 10).
	RequestsPerSecond float64

	// Burst is the limiter burst size (default: 5).
	Burst int
}

// HTTPEmbedder calls an Ollama-compatible /api/embed endpoint. Calls
// are rate limited and wrapped with circuit breaker protection so a
// failing service degrades to the fallback instead of cascading.
type HTTPEmbedder struct {
	baseURL        string
	model          string
	dimensions     int
	timeout        time.Duration
	client         *http.Client
	limiter        *rate.Limiter
	circuitBreaker *CircuitBreaker
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// embedResponse is the service reply. The embeddings field is a 2D
// array; we always use the first (and only) embedding.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewHTTPEmbedder creates a client with defaults applied.
func NewHTTPEmbedder(config HTTPEmbedderConfig) *HTTPEmbedder {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:11434"
	}
	if config.Model == "" {
		config.Model = "nomic-embed-text"
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 10
	}
	if config.Burst <= 0 {
		config.Burst = 5
	}

	return &HTTPEmbedder{
		baseURL:        config.BaseURL,
		model:          config.Model,
		dimensions:     config.Dimensions,
		timeout:        config.Timeout,
		client:         &http.Client{Timeout: config.Timeout},
		limiter:        rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		circuitBreaker: NewCircuitBreaker(),
	}
}

// Embed requests a semantic vector from the service. The call is rate
// limited, bounded by the configured timeout, and counted against the
// circuit breaker.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedder rate limit: %w", err)
	}

	result, err := e.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return e.embed(ctx, text)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("embedding service circuit open: %w", err)
		}
		return nil, err
	}
	return result.([]float32), nil
}

func (e *HTTPEmbedder) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	jsonData, err := json.Marshal(embedRequest{Model: e.model, Input: text})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", e.baseURL+"/api/embed", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(body))
	}

	var respData embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	metrics.EmbeddingLatency.Observe(time.Since(start).Seconds())

	if len(respData.Embeddings) == 0 || len(respData.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("embedding service returned no embeddings")
	}
	vec := respData.Embeddings[0]
	if e.dimensions > 0 && len(vec) != e.dimensions {
		return nil, fmt.Errorf("embedding dimension mismatch: got %d, expected %d", len(vec), e.dimensions)
	}
	return vec, nil
}

// Dimensions returns the configured vector width.
func (e *HTTPEmbedder) Dimensions() int {
	return e.dimensions
}

// Name identifies this embedder.
func (e *HTTPEmbedder) Name() string {
	return "http"
}

// BreakerState exposes the circuit state for health reporting.
func (e *HTTPEmbedder) BreakerState() string {
	return e.circuitBreaker.State()
}
