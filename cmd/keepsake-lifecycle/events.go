package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haven-health/keepsake/internal/notify"
	"github.com/haven-health/keepsake/internal/observability/logging"
)

var eventsAddr string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Serve relayed engine events over websocket",
	Long: `Events watches the data directory for event files written by batch
runs and other processes, and rebroadcasts them to websocket clients
on /ws. Prometheus metrics are exposed on /metrics.`,
	RunE: runEvents,
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Sync()

	hub := notify.NewHub(cfg.Notify.AllowedOrigins...)
	go hub.Run()
	defer hub.Stop()

	relay := notify.NewEventRelay(cfg.Storage.DataPath, hub)
	if err := relay.Start(); err != nil {
		return err
	}
	defer relay.Stop()

	mux := http.NewServeMux()
	mux.Handle("/ws", hub)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              eventsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logging.Infof("Event relay serving on %s", eventsAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-done:
	}

	logging.Infof("Shutting down event relay")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return err
	}
	return <-errCh
}

func init() {
	eventsCmd.Flags().StringVar(&eventsAddr, "addr", "127.0.0.1:8487", "Listen address for the event relay")
}
