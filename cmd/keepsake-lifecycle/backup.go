package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haven-health/keepsake/internal/backup"
	"github.com/haven-health/keepsake/internal/config"
	"github.com/haven-health/keepsake/internal/observability/logging"
)

var (
	backupListFlag bool
	backupRestore  string
	backupHealth   bool
	backupWatch    bool
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Snapshot, list, restore or watch the sqlite database",
	Long: `Backup takes a verified point-in-time snapshot of the sqlite moment
database and prunes expired ones. With --watch it keeps running and
snapshots on the configured interval; --list, --health and --restore
inspect and roll back the snapshot set.`,
	RunE: runBackup,
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Sync()

	if cfg.Storage.Engine == "postgres" {
		return fmt.Errorf("snapshots cover the sqlite backend; use pg_dump for postgres")
	}

	svc, err := backup.New(backup.Config{
		DBPath:   cfg.Storage.SQLitePath(),
		Dir:      cfg.BackupDir(),
		Interval: time.Duration(cfg.Backup.IntervalMinutes) * time.Minute,
		Verify:   cfg.Backup.Verify,
	})
	if err != nil {
		return err
	}

	ctx := context.Background()

	switch {
	case backupRestore != "":
		return restoreSnapshot(ctx, svc, cfg)
	case backupHealth:
		return reportBackupHealth(svc)
	case backupListFlag:
		return listSnapshots(svc)
	case backupWatch:
		return watchBackups(ctx, svc)
	default:
		res, err := svc.Snapshot(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("snapshot: %s (%d bytes in %s, verified=%v)\n",
			res.Path, res.SizeBytes, res.Elapsed.Round(time.Millisecond), res.Verified)
		return nil
	}
}

func restoreSnapshot(ctx context.Context, svc *backup.Service, cfg *config.Config) error {
	if err := svc.Restore(ctx, backupRestore); err != nil {
		return err
	}
	fmt.Printf("restored %s from %s\n", cfg.Storage.SQLitePath(), backupRestore)
	return nil
}

func reportBackupHealth(svc *backup.Service) error {
	h, err := svc.Health()
	if err != nil {
		return err
	}

	fmt.Printf("Status:    %s\n", h.Status)
	if h.Detail != "" {
		fmt.Printf("Detail:    %s\n", h.Detail)
	}
	fmt.Printf("Snapshots: %d (%.2f MB in %s)\n",
		h.Snapshots, float64(h.BytesUsed)/(1024*1024), h.Dir)
	if !h.LastSnapshot.IsZero() {
		fmt.Printf("Last:      %s (%s ago)\n",
			h.LastSnapshot.Format(time.RFC3339),
			time.Since(h.LastSnapshot).Round(time.Minute))
	} else {
		fmt.Println("Last:      never")
	}
	if !h.NextSnapshot.IsZero() {
		fmt.Printf("Next:      %s\n", h.NextSnapshot.Format(time.RFC3339))
	}

	if h.Status != "healthy" {
		os.Exit(1)
	}
	return nil
}

func listSnapshots(svc *backup.Service) error {
	snaps, err := svc.List()
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Println("no snapshots")
		return nil
	}
	for _, s := range snaps {
		fmt.Printf("%s  %8.2f MB  %s\n",
			s.CreatedAt.Format(time.RFC3339),
			float64(s.SizeBytes)/(1024*1024),
			s.Path)
	}
	return nil
}

// watchBackups runs the scheduled snapshot loop until interrupted.
func watchBackups(ctx context.Context, svc *backup.Service) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Run(ctx)
	}()

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	logging.Infof("Snapshot service watching; interrupt to stop")
	select {
	case <-done:
		svc.Stop()
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func init() {
	backupCmd.Flags().BoolVar(&backupListFlag, "list", false, "List stored snapshots")
	backupCmd.Flags().StringVar(&backupRestore, "restore", "", "Restore the database from a snapshot file")
	backupCmd.Flags().BoolVar(&backupHealth, "health", false, "Report snapshot service health")
	backupCmd.Flags().BoolVar(&backupWatch, "watch", false, "Keep running and snapshot on the configured interval")
}
