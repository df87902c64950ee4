// Package metrics exposes the engine's prometheus collectors. They are
// registered on the default registry; the service layer decides where
// to mount the scrape handler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "keepsake"

var (
	// MomentsCaptured counts moments accepted into the store.
	MomentsCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "moments_captured_total",
		Help:      "Moments persisted by the engine.",
	})

	// RetrievalRequests counts retrieval calls by outcome source.
	RetrievalRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retrieval_requests_total",
		Help:      "Retrieval calls partitioned by result source.",
	}, []string{"source"})

	// RetrievalDegraded counts retrievals that fell back past the
	// similarity index.
	RetrievalDegraded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retrieval_degraded_total",
		Help:      "Retrievals served from the degraded path.",
	})

	// EmbeddingFallbacks counts primary-embedder failures that were
	// served by the local fallback.
	EmbeddingFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embedding_fallbacks_total",
		Help:      "Embeddings produced by the deterministic fallback.",
	})

	// EmbeddingLatency observes primary embedder round trips.
	EmbeddingLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "embedding_latency_seconds",
		Help:      "Latency of primary embedding calls.",
		Buckets:   prometheus.DefBuckets,
	})

	// SignalScores counts completed scoring runs.
	SignalScores = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signal_scores_total",
		Help:      "Signal scoring runs completed.",
	})

	// SignalPartials counts categories that fell back to neutral.
	SignalPartials = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "signal_partial_categories_total",
		Help:      "Score categories defaulted to neutral after a failed evidence query.",
	})

	// LifecycleDecayed counts moments flagged by decay passes.
	LifecycleDecayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lifecycle_decayed_total",
		Help:      "Moments marked decayed by lifecycle passes.",
	})

	// LifecycleDeleted counts moments hard-deleted by cleanup.
	LifecycleDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "lifecycle_deleted_total",
		Help:      "Moments removed by cleanup passes.",
	})

	// IndexSyncRetries counts retried similarity-index writes.
	IndexSyncRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "index_sync_retries_total",
		Help:      "Similarity index writes that needed a retry.",
	})

	// IndexSyncFailures counts index writes abandoned after retries.
	IndexSyncFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "index_sync_failures_total",
		Help:      "Similarity index writes abandoned for the reconciler.",
	})

	// ContextUpdateFailures counts relational updates that degraded.
	ContextUpdateFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "context_update_failures_total",
		Help:      "Relational context updates that failed and were logged past.",
	})
)
