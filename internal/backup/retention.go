package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// listSnapshots returns the .db files in dir, newest first.
// Subdirectories and other file types are ignored.
func listSnapshots(dir string) ([]Snapshot, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot directory: %w", err)
	}

	var snaps []Snapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".db") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snaps = append(snaps, Snapshot{
			Path:      filepath.Join(dir, entry.Name()),
			CreatedAt: info.ModTime(),
			SizeBytes: info.Size(),
		})
	}

	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.After(snaps[j].CreatedAt)
	})
	return snaps, nil
}

// prune removes snapshots beyond the per-band retention counts.
// Within a band the newest keep.N survive; snapshots older than every
// band are removed unconditionally. A failed remove does not stop the
// rest of the pass.
func prune(dir string, keep Retention) error {
	snaps, err := listSnapshots(dir)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		return nil
	}

	bands := []struct {
		maxAge time.Duration
		keep   int
	}{
		{24 * time.Hour, keep.Hourly},
		{7 * 24 * time.Hour, keep.Daily},
		{30 * 24 * time.Hour, keep.Weekly},
		{365 * 24 * time.Hour, keep.Monthly},
	}

	now := time.Now()
	seen := make([]int, len(bands))
	var doomed []string

	// snaps is newest first, so the first keep.N hits in a band are
	// the survivors.
	for _, snap := range snaps {
		age := now.Sub(snap.CreatedAt)
		band := -1
		for i, b := range bands {
			if age < b.maxAge {
				band = i
				break
			}
		}
		if band == -1 {
			doomed = append(doomed, snap.Path)
			continue
		}
		seen[band]++
		if seen[band] > bands[band].keep {
			doomed = append(doomed, snap.Path)
		}
	}

	var lastErr error
	for _, path := range doomed {
		if err := os.Remove(path); err != nil {
			lastErr = err
		}
	}
	if lastErr != nil {
		return fmt.Errorf("removing expired snapshots: %w", lastErr)
	}
	return nil
}
