package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/haven-health/keepsake/internal/config"
	"github.com/haven-health/keepsake/internal/engine"
	"github.com/haven-health/keepsake/internal/index"
	"github.com/haven-health/keepsake/internal/notify"
	"github.com/haven-health/keepsake/internal/observability/logging"
	"github.com/haven-health/keepsake/internal/provider"
	"github.com/haven-health/keepsake/internal/signal"
	"github.com/haven-health/keepsake/internal/storage"
	"github.com/haven-health/keepsake/internal/storage/postgres"
	"github.com/haven-health/keepsake/internal/storage/sqlite"
)

// loadConfig reads the environment and initializes logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	logging.Init(cfg.Log.Level)
	return cfg, nil
}

// openStore builds the configured storage backend.
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Engine {
	case "postgres":
		if cfg.Storage.PostgresDSN == "" {
			return nil, fmt.Errorf("postgres storage needs KEEPSAKE_POSTGRES_DSN")
		}
		return postgres.NewStore(cfg.Storage.PostgresDSN)
	case "sqlite", "":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		return sqlite.NewStore(cfg.Storage.SQLitePath())
	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Storage.Engine)
	}
}

// openIndex builds the similarity index. A postgres store doubles as
// its own index; "none" disables vector retrieval entirely.
func openIndex(cfg *config.Config, store storage.Store) (index.Index, error) {
	switch cfg.Index.Backend {
	case "none":
		return nil, nil
	case "postgres":
		pg, ok := store.(*postgres.Store)
		if !ok {
			return nil, fmt.Errorf("postgres index needs postgres storage")
		}
		return pg, nil
	case "chromem", "":
		return index.NewChromemIndex(cfg.Index.Path)
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Index.Backend)
	}
}

// buildEngine assembles the embedder chain and engine over the opened
// store, index and lexicons. With events enabled, batch runs broadcast
// through relay files in the data directory, so clients of a serving
// process still see them.
func buildEngine(cfg *config.Config, store storage.Store, idx index.Index, lexicons *signal.LexiconProvider) (*engine.Engine, error) {
	embedder, err := provider.NewEmbedder(provider.Config{
		BaseURL:           cfg.Embedding.ServiceURL,
		Model:             cfg.Embedding.Model,
		Dimensions:        cfg.Embedding.Dimensions,
		TimeoutSeconds:    cfg.Embedding.TimeoutSeconds,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		CacheMaxBytes:     cfg.Embedding.CacheMaxBytes,
	})
	if err != nil {
		return nil, err
	}

	var hub engine.Broadcaster
	if cfg.Notify.EventsEnabled {
		hub = notify.NewEventWriter(cfg.Storage.DataPath)
	}

	return engine.New(store, embedder, idx, lexicons, hub, engine.Config{
		SyncWorkers:        cfg.Engine.SyncWorkers,
		SyncQueueSize:      cfg.Engine.SyncQueueSize,
		SyncMaxAttempts:    cfg.Engine.SyncMaxAttempts,
		ShutdownTimeout:    time.Duration(cfg.Engine.ShutdownSeconds) * time.Second,
		ReconcileBatchSize: cfg.Engine.ReconcileBatchSize,
		ReinforceOnRecall:  cfg.Engine.ReinforceOnRecall,
	})
}

// withEngine wires config, store, index and engine, runs fn, then
// tears everything down in order.
func withEngine(fn func(ctx context.Context, cfg *config.Config, eng *engine.Engine) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	defer logging.Sync()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	idx, err := openIndex(cfg, store)
	if err != nil {
		return err
	}

	lexicons := signal.NewLexiconProvider(cfg.Signal.LexiconPath)
	if cfg.Signal.WatchLexicon {
		if lw := signal.NewLexiconWatcher(lexicons); lw != nil {
			if err := lw.Start(); err != nil {
				logging.Warnf("Lexicon watch unavailable: %v", err)
			} else {
				defer lw.Stop()
			}
		}
	}

	eng, err := buildEngine(cfg, store, idx, lexicons)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := eng.Shutdown(ctx); err != nil {
			logging.Warnf("Engine shutdown: %v", err)
		}
	}()

	return fn(ctx, cfg, eng)
}
