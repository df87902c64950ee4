package engine

import (
	"context"
	"time"

	"github.com/haven-health/keepsake/internal/index"
	"github.com/haven-health/keepsake/internal/observability/logging"
)

// syncWorker processes index sync jobs until the queue is closed.
func (e *Engine) syncWorker(workerID int) {
	defer e.workerWaitGroup.Done()

	logging.Debugf("Index sync worker %d started", workerID)

	for job := range e.syncQueue {
		e.processSyncJob(workerID, job)
	}

	logging.Debugf("Index sync worker %d stopped", workerID)
}

// processSyncJob performs one index operation, backing off on retries.
// An upsert that the index confirms marks the moment indexed; a job
// that exhausts its attempts leaves the moment for the reconciler.
func (e *Engine) processSyncJob(workerID int, job *SyncJob) {
	// Background context: shutdown drains the queue and must not cancel
	// writes mid-flight.
	ctx := context.Background()

	if job.Attempt > 0 {
		backoff := time.Duration(job.Attempt*job.Attempt) * time.Second
		time.Sleep(backoff)
	}

	var err error
	switch job.Kind {
	case SyncDelete:
		err = e.idx.Delete(ctx, job.MomentID)
	default:
		err = e.idx.Upsert(ctx, index.Entry{
			ID:      job.MomentID,
			ActorID: job.ActorID,
			Vector:  job.Vector,
		})
	}

	if err != nil {
		logging.Warnf("Worker %d: index %s for moment %s failed (attempt %d/%d): %v",
			workerID, job.Kind, job.MomentID, job.Attempt+1, e.config.SyncMaxAttempts, err)
		e.requeueSyncJob(job)
		return
	}

	if job.Kind == SyncUpsert {
		if err := e.store.MarkIndexed(ctx, job.MomentID, time.Now().UTC()); err != nil {
			logging.Warnf("Worker %d: failed to mark moment %s indexed: %v", workerID, job.MomentID, err)
		}
	}
}

// startWorkers starts the sync worker goroutines.
func (e *Engine) startWorkers() {
	for i := 0; i < e.config.SyncWorkers; i++ {
		e.workerWaitGroup.Add(1)
		go e.syncWorker(i)
	}

	logging.Infof("Started %d index sync workers", e.config.SyncWorkers)
}

// stopWorkers closes the queue and waits for workers to drain, bounded
// by the shutdown timeout.
func (e *Engine) stopWorkers(ctx context.Context) error {
	close(e.syncQueue)

	done := make(chan struct{})
	go func() {
		e.workerWaitGroup.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(e.config.ShutdownTimeout):
		logging.Warnf("Shutdown timeout reached, %d index sync jobs left for the reconciler", len(e.syncQueue))
		return nil
	case <-ctx.Done():
		logging.Warnf("Shutdown cancelled, %d index sync jobs left for the reconciler", len(e.syncQueue))
		return ctx.Err()
	}
}
