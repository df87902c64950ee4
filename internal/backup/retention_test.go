package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeSnap drops a fake snapshot file into dir with the given age.
func writeSnap(t *testing.T, dir, name string, age time.Duration, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	ts := time.Now().Add(-age)
	if err := os.Chtimes(path, ts, ts); err != nil {
		t.Fatalf("chtimes %s: %v", name, err)
	}
	return path
}

func TestListSnapshotsEmpty(t *testing.T) {
	snaps, err := listSnapshots(t.TempDir())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snaps) != 0 {
		t.Errorf("expected no snapshots, got %d", len(snaps))
	}
}

func TestListSnapshotsMissingDir(t *testing.T) {
	if _, err := listSnapshots(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestListSnapshotsFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()

	// Noise that must be ignored.
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write noise file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "nested", "inner.db"), []byte("x"), 0o600); err != nil {
		t.Fatalf("write nested file: %v", err)
	}

	writeSnap(t, dir, "keepsake-b.db", 2*time.Hour, 10)
	newest := writeSnap(t, dir, "keepsake-a.db", 1*time.Hour, 20)
	writeSnap(t, dir, "keepsake-c.db", 3*time.Hour, 30)

	snaps, err := listSnapshots(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected 3 snapshots, got %d", len(snaps))
	}
	if snaps[0].Path != newest {
		t.Errorf("expected newest first, got %s", snaps[0].Path)
	}
	if snaps[0].SizeBytes != 20 {
		t.Errorf("expected size 20, got %d", snaps[0].SizeBytes)
	}
	for i := 0; i < len(snaps)-1; i++ {
		if snaps[i].CreatedAt.Before(snaps[i+1].CreatedAt) {
			t.Errorf("snapshots not sorted newest first at index %d", i)
		}
	}
}

func TestPruneEmptyDir(t *testing.T) {
	if err := prune(t.TempDir(), DefaultRetention()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestPruneRemovesAncientSnapshots(t *testing.T) {
	dir := t.TempDir()
	ancient := writeSnap(t, dir, "ancient.db", 370*24*time.Hour, 1)
	fresh := writeSnap(t, dir, "fresh.db", time.Minute, 1)

	if err := prune(dir, DefaultRetention()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(ancient); !os.IsNotExist(err) {
		t.Error("expected year-old snapshot to be removed")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Errorf("expected fresh snapshot to survive: %v", err)
	}
}

func TestPruneKeepsNewestPerBand(t *testing.T) {
	dir := t.TempDir()
	keep := Retention{Hourly: 2, Daily: 1, Weekly: 1, Monthly: 1}

	// Three in the hourly band; the two newest must survive.
	doomedHourly := writeSnap(t, dir, "hourly-3.db", 3*time.Hour, 1)
	writeSnap(t, dir, "hourly-2.db", 2*time.Hour, 1)
	writeSnap(t, dir, "hourly-1.db", 1*time.Hour, 1)

	// Two in the daily band; only the newest survives.
	doomedDaily := writeSnap(t, dir, "daily-2.db", 4*24*time.Hour, 1)
	writeSnap(t, dir, "daily-1.db", 2*24*time.Hour, 1)

	if err := prune(dir, keep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, gone := range []string{doomedHourly, doomedDaily} {
		if _, err := os.Stat(gone); !os.IsNotExist(err) {
			t.Errorf("expected %s to be pruned", filepath.Base(gone))
		}
	}

	snaps, err := listSnapshots(dir)
	if err != nil {
		t.Fatalf("list after prune: %v", err)
	}
	if len(snaps) != 3 {
		t.Errorf("expected 3 survivors, got %d", len(snaps))
	}
}

func TestPruneAcrossAllBands(t *testing.T) {
	dir := t.TempDir()
	keep := Retention{Hourly: 2, Daily: 2, Weekly: 1, Monthly: 1}

	ages := []time.Duration{
		30 * time.Minute, 90 * time.Minute, 5 * time.Hour, // hourly band, keep 2
		2 * 24 * time.Hour, 3 * 24 * time.Hour, 5 * 24 * time.Hour, // daily band, keep 2
		8 * 24 * time.Hour, 15 * 24 * time.Hour, // weekly band, keep 1
		31 * 24 * time.Hour, 121 * 24 * time.Hour, // monthly band, keep 1
	}
	for i, age := range ages {
		writeSnap(t, dir, fmt.Sprintf("snap-%02d.db", i), age, 1)
	}

	if err := prune(dir, keep); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snaps, err := listSnapshots(dir)
	if err != nil {
		t.Fatalf("list after prune: %v", err)
	}
	if len(snaps) != 6 {
		t.Errorf("expected 2+2+1+1 survivors, got %d", len(snaps))
	}
}

func TestPruneWithinBudgetRemovesNothing(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 3; i++ {
		writeSnap(t, dir, fmt.Sprintf("snap-%d.db", i), time.Duration(i)*time.Hour, 1)
	}

	if err := prune(dir, Retention{Hourly: 3, Daily: 1, Weekly: 1, Monthly: 1}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snaps, _ := listSnapshots(dir)
	if len(snaps) != 3 {
		t.Errorf("expected all 3 snapshots kept, got %d", len(snaps))
	}
}
