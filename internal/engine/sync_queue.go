package engine

import (
	"time"

	"github.com/haven-health/keepsake/internal/observability/logging"
	"github.com/haven-health/keepsake/internal/observability/metrics"
)

// enqueueSyncJob attempts to queue an index sync job.
// Returns true if the job was queued, false if the queue is full or
// shutdown is in progress.
func (e *Engine) enqueueSyncJob(job *SyncJob) bool {
	if e.workerCtx != nil && e.workerCtx.Err() != nil {
		return false
	}

	select {
	case e.syncQueue <- job:
		return true
	default:
		logging.Warnf("Index sync queue full (size=%d), leaving moment %s for the reconciler",
			e.config.SyncQueueSize, job.MomentID)
		return false
	}
}

// requeueSyncJob attempts to requeue a failed sync job for another
// attempt. Returns false once the attempt budget is spent or shutdown
// is in progress; the moment then stays unindexed for the reconciler.
func (e *Engine) requeueSyncJob(job *SyncJob) bool {
	if e.workerCtx != nil && e.workerCtx.Err() != nil {
		logging.Warnf("Not requeueing sync job for moment %s, shutdown in progress", job.MomentID)
		return false
	}

	if job.Attempt+1 >= e.config.SyncMaxAttempts {
		logging.Warnf("Index sync for moment %s failed %d times, giving up",
			job.MomentID, e.config.SyncMaxAttempts)
		metrics.IndexSyncFailures.Inc()
		return false
	}

	job.Attempt++
	metrics.IndexSyncRetries.Inc()

	// Non-blocking to avoid panicking on a closed queue during shutdown.
	select {
	case e.syncQueue <- job:
		return true
	case <-time.After(10 * time.Millisecond):
		logging.Warnf("Failed to requeue sync job for moment %s, queue timeout", job.MomentID)
		return false
	}
}
