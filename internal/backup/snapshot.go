package backup

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// snapshotDatabase writes a consistent point-in-time copy of the
// database at srcPath to destPath. VACUUM INTO reads through the WAL,
// so a live writer in another process does not corrupt the copy.
func snapshotDatabase(ctx context.Context, srcPath, destPath string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", srcPath))
	if err != nil {
		return fmt.Errorf("opening source database: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("source database unreachable: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("VACUUM INTO '%s'", destPath)); err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}
	return nil
}

// verifySnapshot opens the snapshot read-only and runs the sqlite
// integrity check.
func verifySnapshot(ctx context.Context, path string) error {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("running integrity check: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check reported %q", result)
	}
	return nil
}

// restoreDatabase copies a verified snapshot over targetPath. The
// target database must not be open in this or any other process.
func restoreDatabase(ctx context.Context, snapshotPath, targetPath string) error {
	if err := verifySnapshot(ctx, snapshotPath); err != nil {
		return fmt.Errorf("snapshot failed verification: %w", err)
	}

	src, err := os.Open(snapshotPath)
	if err != nil {
		return fmt.Errorf("opening snapshot: %w", err)
	}
	defer func() { _ = src.Close() }()

	dst, err := os.Create(targetPath)
	if err != nil {
		return fmt.Errorf("creating target database: %w", err)
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("copying snapshot: %w", err)
	}
	if err := dst.Sync(); err != nil {
		return fmt.Errorf("flushing target database: %w", err)
	}

	// A WAL left behind by the replaced database must not be replayed
	// into the restored file on next open.
	for _, sidecar := range []string{targetPath + "-wal", targetPath + "-shm"} {
		if err := os.Remove(sidecar); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale %s: %w", filepath.Base(sidecar), err)
		}
	}

	if err := verifySnapshot(ctx, targetPath); err != nil {
		return fmt.Errorf("restored database failed verification: %w", err)
	}
	return nil
}
