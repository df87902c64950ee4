// Command keepsake-lifecycle is the batch maintenance CLI for a
// keepsake data directory: retention sweeps, index reconciliation,
// risk scoring, database snapshots and the websocket event relay.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "keepsake-lifecycle",
	Short: "Batch maintenance for a keepsake memory store",
	Long: `keepsake-lifecycle runs the maintenance passes a keepsake deployment
needs outside the request path: decay and cleanup sweeps, retention
stats, index reconciliation, risk scoring, sqlite snapshots and the
websocket event relay. Configuration comes from KEEPSAKE_* environment
variables.`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(decayCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(scoreCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(eventsCmd)
}
