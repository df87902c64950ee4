// Package backup maintains point-in-time snapshots of the sqlite
// moment database: scheduled VACUUM INTO copies, integrity
// verification, tiered pruning and verified restore with rollback.
// It covers the sqlite backend only; postgres deployments bring their
// own backup tooling.
package backup

import (
	"time"
)

// Retention caps how many snapshots survive per age band. Snapshots
// are banded by age at prune time: under 24 hours, under 7 days,
// under 30 days, under 365 days. Anything older than a year is always
// removed.
type Retention struct {
	Hourly  int
	Daily   int
	Weekly  int
	Monthly int
}

// DefaultRetention keeps a day of hourly snapshots, a week of daily,
// a month of weekly and a year of monthly ones.
func DefaultRetention() Retention {
	return Retention{Hourly: 24, Daily: 7, Weekly: 4, Monthly: 12}
}

// Config tunes the snapshot service.
type Config struct {
	// DBPath is the sqlite database file to snapshot.
	DBPath string

	// Dir receives the snapshot files. Created if missing.
	Dir string

	// Interval between scheduled snapshots (default: 1 hour).
	Interval time.Duration

	// Keep is the per-band retention; zero fields use the defaults.
	Keep Retention

	// Verify runs an integrity check on every snapshot taken.
	Verify bool
}

// Snapshot is one stored copy of the database.
type Snapshot struct {
	Path      string
	CreatedAt time.Time
	SizeBytes int64
}

// Result reports one completed snapshot.
type Result struct {
	Path      string
	SizeBytes int64
	Elapsed   time.Duration
	Verified  bool
}

// Health summarizes the snapshot service state.
type Health struct {
	Status       string // healthy or warning
	Detail       string
	LastSnapshot time.Time
	NextSnapshot time.Time
	Snapshots    int
	Dir          string
	BytesUsed    int64
}
