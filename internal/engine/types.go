// Package engine orchestrates moment capture, retrieval, scoring and
// lifecycle over the storage, index and provider layers. Capture writes
// the moment synchronously and hands index maintenance to a background
// worker pool, so the request path never waits on the similarity index.
package engine

import (
	"fmt"
	"time"
)

// SyncKind selects the index operation a sync job performs.
type SyncKind string

const (
	// SyncUpsert writes a moment vector into the similarity index.
	SyncUpsert SyncKind = "upsert"

	// SyncDelete removes a moment vector from the similarity index.
	SyncDelete SyncKind = "delete"
)

// SyncJob is one queued index maintenance operation. Jobs are queued
// when moments are captured or forgotten and processed by worker
// goroutines.
type SyncJob struct {
	// Kind selects upsert or delete.
	Kind SyncKind

	// MomentID identifies the moment the job maintains.
	MomentID string

	// ActorID scopes the index entry for per-actor queries.
	ActorID string

	// Vector is the unified embedding to upsert; unused for deletes.
	Vector []float32

	// Timestamp is when the job was queued.
	Timestamp time.Time

	// Attempt counts completed tries for this job.
	Attempt int
}

// Config holds configuration for the engine.
type Config struct {
	// SyncWorkers is the number of index sync worker goroutines
	// (default: 2).
	SyncWorkers int

	// SyncQueueSize is the size of the sync job queue buffer
	// (default: 256).
	SyncQueueSize int

	// SyncMaxAttempts is the total number of tries per sync job before
	// the moment is left for the reconciler (default: 3).
	SyncMaxAttempts int

	// ShutdownTimeout is the maximum time to wait for workers to drain
	// on shutdown (default: 30s).
	ShutdownTimeout time.Duration

	// ReconcileBatchSize is the number of unindexed moments re-queued
	// per Reconcile call (default: 100).
	ReconcileBatchSize int

	// ReinforceOnRecall reinforces retrieved moments with the default
	// boost when true (default: false).
	ReinforceOnRecall bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		SyncWorkers:        2,
		SyncQueueSize:      256,
		SyncMaxAttempts:    3,
		ShutdownTimeout:    30 * time.Second,
		ReconcileBatchSize: 100,
	}
}

// Validate checks if the config is valid.
func (c *Config) Validate() error {
	if c.SyncWorkers < 1 {
		return fmt.Errorf("SyncWorkers must be >= 1, got %d", c.SyncWorkers)
	}

	if c.SyncQueueSize < 1 {
		return fmt.Errorf("SyncQueueSize must be >= 1, got %d", c.SyncQueueSize)
	}

	if c.SyncMaxAttempts < 1 {
		return fmt.Errorf("SyncMaxAttempts must be >= 1, got %d", c.SyncMaxAttempts)
	}

	if c.ShutdownTimeout < 0 {
		return fmt.Errorf("ShutdownTimeout must be >= 0, got %v", c.ShutdownTimeout)
	}

	if c.ReconcileBatchSize < 1 {
		return fmt.Errorf("ReconcileBatchSize must be >= 1, got %d", c.ReconcileBatchSize)
	}

	return nil
}
