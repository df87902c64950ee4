package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/haven-health/keepsake/internal/observability/logging"
)

// Service takes snapshots of the moment database on a schedule,
// prunes expired ones and restores on demand.
type Service struct {
	dbPath   string
	dir      string
	interval time.Duration
	keep     Retention
	verify   bool

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	lastRun time.Time
	nextRun time.Time
}

// New validates cfg, fills defaults and creates the snapshot
// directory. Snapshots of a health-data store get owner-only
// permissions.
func New(cfg Config) (*Service, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.Dir == "" {
		return nil, fmt.Errorf("snapshot directory is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}

	defaults := DefaultRetention()
	if cfg.Keep.Hourly == 0 {
		cfg.Keep.Hourly = defaults.Hourly
	}
	if cfg.Keep.Daily == 0 {
		cfg.Keep.Daily = defaults.Daily
	}
	if cfg.Keep.Weekly == 0 {
		cfg.Keep.Weekly = defaults.Weekly
	}
	if cfg.Keep.Monthly == 0 {
		cfg.Keep.Monthly = defaults.Monthly
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating snapshot directory: %w", err)
	}

	return &Service{
		dbPath:   cfg.DBPath,
		dir:      cfg.Dir,
		interval: cfg.Interval,
		keep:     cfg.Keep,
		verify:   cfg.Verify,
	}, nil
}

// Run blocks, snapshotting every interval until Stop is called or the
// context ends. A failed scheduled snapshot is logged and the
// schedule keeps going.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("snapshot service already running")
	}
	s.running = true
	s.stop = make(chan struct{})
	s.nextRun = time.Now().Add(s.interval)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Infof("Snapshot service running (interval=%s, dir=%s)", s.interval, s.dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.stop:
			return nil
		case <-ticker.C:
			if res, err := s.Snapshot(ctx); err != nil {
				logging.Errorf("Scheduled snapshot failed: %v", err)
			} else {
				logging.Infof("Snapshot written: %s (%d bytes in %s, verified=%v)",
					res.Path, res.SizeBytes, res.Elapsed.Round(time.Millisecond), res.Verified)
			}
			s.mu.Lock()
			s.nextRun = time.Now().Add(s.interval)
			s.mu.Unlock()
		}
	}
}

// Stop ends a running Run loop. Safe to call when not running.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running || s.stop == nil {
		return
	}
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
}

// Snapshot takes one snapshot now, verifies it when configured and
// prunes expired ones. Prune failures are logged, not returned: the
// snapshot itself already succeeded.
func (s *Service) Snapshot(ctx context.Context) (*Result, error) {
	start := time.Now()

	if _, err := os.Stat(s.dbPath); err != nil {
		return nil, fmt.Errorf("database not found: %w", err)
	}

	name := fmt.Sprintf("keepsake-%s.db", start.Format("20060102-150405.000000"))
	path := filepath.Join(s.dir, name)

	if err := snapshotDatabase(ctx, s.dbPath, path); err != nil {
		// VACUUM INTO may leave a partial file behind.
		_ = os.Remove(path)
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot size: %w", err)
	}

	verified := false
	if s.verify {
		if err := verifySnapshot(ctx, path); err != nil {
			return nil, err
		}
		verified = true
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	if err := prune(s.dir, s.keep); err != nil {
		logging.Warnf("Snapshot pruning failed: %v", err)
	}

	return &Result{
		Path:      path,
		SizeBytes: info.Size(),
		Elapsed:   time.Since(start),
		Verified:  verified,
	}, nil
}

// List returns the stored snapshots, newest first.
func (s *Service) List() ([]Snapshot, error) {
	return listSnapshots(s.dir)
}

// Restore replaces the live database with the given snapshot. The
// store must be closed and the schedule stopped first. The current
// database is kept as a .pre-restore copy and rolled back to if the
// restore fails.
func (s *Service) Restore(ctx context.Context, snapshotPath string) error {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	if running {
		return fmt.Errorf("stop the snapshot service before restoring")
	}

	if _, err := os.Stat(snapshotPath); err != nil {
		return fmt.Errorf("snapshot not found: %w", err)
	}

	keepPath := s.dbPath + ".pre-restore"
	haveCurrent := false
	if _, err := os.Stat(s.dbPath); err == nil {
		// A leftover from an earlier failed restore would make VACUUM
		// INTO fail.
		_ = os.Remove(keepPath)
		if err := snapshotDatabase(ctx, s.dbPath, keepPath); err != nil {
			return fmt.Errorf("saving current database before restore: %w", err)
		}
		haveCurrent = true
	}

	if err := restoreDatabase(ctx, snapshotPath, s.dbPath); err != nil {
		if haveCurrent {
			if rbErr := restoreDatabase(ctx, keepPath, s.dbPath); rbErr != nil {
				return fmt.Errorf("restore failed (%v) and rollback failed: %w", err, rbErr)
			}
			return fmt.Errorf("restore failed, previous database rolled back: %w", err)
		}
		return err
	}

	if haveCurrent {
		_ = os.Remove(keepPath)
	}
	logging.Infof("Database restored from %s", snapshotPath)
	return nil
}

// Health reports schedule state and stored snapshot totals. When this
// process has not taken a snapshot yet, the newest stored one stands
// in, so a cron-driven check still detects a stalled schedule. More
// than two intervals since the last snapshot degrades the status to
// warning.
func (s *Service) Health() (*Health, error) {
	s.mu.Lock()
	last, next := s.lastRun, s.nextRun
	s.mu.Unlock()

	snaps, err := listSnapshots(s.dir)
	if err != nil {
		return nil, err
	}
	var used int64
	for _, snap := range snaps {
		used += snap.SizeBytes
	}

	if last.IsZero() && len(snaps) > 0 {
		last = snaps[0].CreatedAt
	}

	h := &Health{
		Status:       "healthy",
		LastSnapshot: last,
		NextSnapshot: next,
		Snapshots:    len(snaps),
		Dir:          s.dir,
		BytesUsed:    used,
	}

	switch {
	case last.IsZero():
		h.Detail = "no snapshots yet"
	case time.Since(last) > s.interval*2:
		h.Status = "warning"
		h.Detail = fmt.Sprintf("snapshot overdue by %s", (time.Since(last) - s.interval).Round(time.Second))
	default:
		h.Detail = fmt.Sprintf("last snapshot %s ago", time.Since(last).Round(time.Minute))
	}
	return h, nil
}
