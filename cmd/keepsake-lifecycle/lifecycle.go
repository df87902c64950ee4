package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haven-health/keepsake/internal/config"
	"github.com/haven-health/keepsake/internal/engine"
	"github.com/haven-health/keepsake/internal/lifecycle"
)

var decayDryRun bool

var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Mark moments past their retention window",
	Long: `Decay scans every stored moment and marks the ones older than their
retention window: the context weight drops and the decayed flag is
set. The sweep is idempotent; decayed moments stay retrievable until
cleanup removes them.`,
	RunE: runDecay,
}

func runDecay(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, cfg *config.Config, eng *engine.Engine) error {
		res, err := eng.Decay(ctx, decayDryRun)
		if err != nil {
			return err
		}
		printSweep("decay", res)
		return nil
	})
}

var (
	cleanupGrace  float64
	cleanupDryRun bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Hard-delete moments past their grace window",
	Long: `Cleanup permanently removes moments older than their retention window
times the grace multiplier, from both the store and the similarity
index. Decay alone never deletes; this is the only sweep that does.`,
	RunE: runCleanup,
}

func runCleanup(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, cfg *config.Config, eng *engine.Engine) error {
		grace := cfg.Lifecycle.GraceMultiplier
		if cmd.Flags().Changed("grace") {
			grace = cleanupGrace
		}
		res, err := eng.Cleanup(ctx, grace, cleanupDryRun)
		if err != nil {
			return err
		}
		printSweep("cleanup", res)
		return nil
	})
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show retention statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, cfg *config.Config, eng *engine.Engine) error {
		counts, err := eng.LifecycleStats(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Moments:          %d\n", counts.Total)
		fmt.Printf("Decay eligible:   %d\n", counts.DecayEligible)
		fmt.Printf("Cleanup eligible: %d\n", counts.CleanupEligible)
		fmt.Printf("Mean intensity:   %.2f\n", counts.MeanIntensity)
		fmt.Printf("Mean TTL:         %.1f days\n", counts.MeanTTLDays)
		if counts.OldestCreatedAt != nil {
			fmt.Printf("Oldest moment:    %s\n", counts.OldestCreatedAt.Format(time.RFC3339))
		}
		return nil
	})
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Re-queue moments missing from the similarity index",
	Long: `Reconcile finds moments the similarity index has not confirmed and
queues them for another indexing pass. It closes the gap left by index
writes that failed past their retry budget or were dropped at
shutdown.`,
	RunE: runReconcile,
}

func runReconcile(cmd *cobra.Command, args []string) error {
	return withEngine(func(ctx context.Context, cfg *config.Config, eng *engine.Engine) error {
		queued, err := eng.Reconcile(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("reconcile: queued %d unindexed moments\n", queued)
		return nil
	})
}

func printSweep(name string, res lifecycle.SweepResult) {
	mode := ""
	if res.DryRun {
		mode = " (dry run)"
	}
	fmt.Printf("%s%s: scanned %d, affected %d, failed %d\n",
		name, mode, res.Scanned, res.Affected, res.Failed)
}

func init() {
	decayCmd.Flags().BoolVar(&decayDryRun, "dry-run", false, "Report without changing anything")
	cleanupCmd.Flags().Float64Var(&cleanupGrace, "grace", 2.0, "Grace multiplier over the retention window")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Report without changing anything")
}
