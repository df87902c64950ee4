// Package config provides configuration management for Keepsake.
// It loads settings from environment variables with the KEEPSAKE_ prefix
// and provides defaults that work with nothing configured: sqlite storage
// under the data path, the deterministic local embedder and an in-memory
// similarity index.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config holds all configuration settings for the Keepsake engine.
type Config struct {
	Storage   StorageConfig
	Embedding EmbeddingConfig
	Index     IndexConfig
	Engine    EngineConfig
	Lifecycle LifecycleConfig
	Signal    SignalConfig
	Notify    NotifyConfig
	Backup    BackupConfig
	Log       LogConfig
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	Engine      string // Storage engine: sqlite, postgres (default: sqlite)
	DataPath    string // Path to the data directory (default: ./data)
	PostgresDSN string // Postgres connection string, required when Engine is postgres
}

// SQLitePath is the database file location under the data path.
func (s StorageConfig) SQLitePath() string {
	return filepath.Join(s.DataPath, "keepsake.db")
}

// EmbeddingConfig contains embedding provider configuration.
type EmbeddingConfig struct {
	ServiceURL        string  // Embedding service base URL; empty selects the local embedder
	Model             string  // Embedding model name (default: nomic-embed-text)
	Dimensions        int     // Vector width; 0 uses the provider default
	TimeoutSeconds    int     // Per-request timeout in seconds (default: 30)
	RequestsPerSecond float64 // Outbound rate limit (default: 10)
	CacheMaxBytes     int64   // Embedding cache budget; 0 uses the default, negative disables
}

// IndexConfig contains similarity index configuration.
type IndexConfig struct {
	Backend string // Index backend: chromem, postgres, none (default: chromem)
	Path    string // Chromem persistence directory; empty keeps the index in memory
}

// EngineConfig contains index sync and reconciliation tuning.
type EngineConfig struct {
	SyncWorkers        int  // Index sync workers (default: 2)
	SyncQueueSize      int  // Pending index writes before captures spill to the reconciler (default: 256)
	SyncMaxAttempts    int  // Tries per index write before the reconciler takes over (default: 3)
	ShutdownSeconds    int  // Drain budget on shutdown in seconds (default: 30)
	ReconcileBatchSize int  // Unindexed moments fetched per reconcile pass (default: 100)
	ReinforceOnRecall  bool // Boost retention of recalled moments (default: false)
}

// LifecycleConfig contains retention sweep tuning.
type LifecycleConfig struct {
	GraceMultiplier float64 // Cleanup grace factor over the retention window (default: 2.0)
}

// SignalConfig contains risk scoring configuration.
type SignalConfig struct {
	LexiconPath  string // YAML lexicon override; empty uses the embedded tables
	WatchLexicon bool   // Hot-reload the lexicon file on change (default: false)
}

// NotifyConfig contains websocket and event relay configuration.
type NotifyConfig struct {
	AllowedOrigins []string // Origins allowed to open websocket connections
	EventsEnabled  bool     // Write filesystem events for the relay (default: true)
}

// BackupConfig contains sqlite snapshot configuration.
type BackupConfig struct {
	Dir             string // Snapshot directory; empty uses {data path}/backups
	IntervalMinutes int    // Minutes between scheduled snapshots (default: 60)
	Verify          bool   // Integrity-check each snapshot after writing (default: true)
}

// BackupDir is the snapshot directory, defaulting to a backups
// directory beside the database file.
func (c *Config) BackupDir() string {
	if c.Backup.Dir != "" {
		return c.Backup.Dir
	}
	return filepath.Join(c.Storage.DataPath, "backups")
}

// LogConfig contains logging configuration.
type LogConfig struct {
	Level string // Log level: debug, info, warn, error (default: info)
}

// Validate checks settings that would otherwise surface as confusing
// failures deep in the wiring. The zero value is not valid; start from
// LoadConfig.
func (c *Config) Validate() error {
	switch c.Storage.Engine {
	case "sqlite", "postgres", "":
	default:
		return fmt.Errorf("storage engine must be sqlite or postgres, got %q", c.Storage.Engine)
	}
	if c.Storage.DataPath == "" {
		return fmt.Errorf("data path must not be empty")
	}
	switch c.Index.Backend {
	case "chromem", "postgres", "none", "":
	default:
		return fmt.Errorf("index backend must be chromem, postgres or none, got %q", c.Index.Backend)
	}
	if c.Embedding.TimeoutSeconds <= 0 {
		return fmt.Errorf("embedding timeout must be positive, got %d", c.Embedding.TimeoutSeconds)
	}
	if c.Embedding.RequestsPerSecond <= 0 {
		return fmt.Errorf("embedding rate limit must be positive, got %g", c.Embedding.RequestsPerSecond)
	}
	if c.Lifecycle.GraceMultiplier < 1 {
		return fmt.Errorf("grace multiplier must be >= 1, got %g", c.Lifecycle.GraceMultiplier)
	}
	if c.Backup.IntervalMinutes < 1 {
		return fmt.Errorf("backup interval must be >= 1 minute, got %d", c.Backup.IntervalMinutes)
	}
	return nil
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the KEEPSAKE_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			Engine:      getEnv("KEEPSAKE_STORAGE_ENGINE", "sqlite"),
			DataPath:    getEnv("KEEPSAKE_DATA_PATH", "./data"),
			PostgresDSN: getEnv("KEEPSAKE_POSTGRES_DSN", ""),
		},
		Embedding: EmbeddingConfig{
			ServiceURL:        getEnv("KEEPSAKE_EMBEDDING_URL", ""),
			Model:             getEnv("KEEPSAKE_EMBEDDING_MODEL", "nomic-embed-text"),
			Dimensions:        getEnvInt("KEEPSAKE_EMBEDDING_DIMENSIONS", 0),
			TimeoutSeconds:    getEnvInt("KEEPSAKE_EMBEDDING_TIMEOUT_SECONDS", 30),
			RequestsPerSecond: getEnvFloat("KEEPSAKE_EMBEDDING_RPS", 10),
			CacheMaxBytes:     getEnvInt64("KEEPSAKE_EMBEDDING_CACHE_BYTES", 0),
		},
		Index: IndexConfig{
			Backend: getEnv("KEEPSAKE_INDEX_BACKEND", "chromem"),
			Path:    getEnv("KEEPSAKE_INDEX_PATH", ""),
		},
		Engine: EngineConfig{
			SyncWorkers:        getEnvInt("KEEPSAKE_SYNC_WORKERS", 2),
			SyncQueueSize:      getEnvInt("KEEPSAKE_SYNC_QUEUE_SIZE", 256),
			SyncMaxAttempts:    getEnvInt("KEEPSAKE_SYNC_MAX_ATTEMPTS", 3),
			ShutdownSeconds:    getEnvInt("KEEPSAKE_SHUTDOWN_SECONDS", 30),
			ReconcileBatchSize: getEnvInt("KEEPSAKE_RECONCILE_BATCH", 100),
			ReinforceOnRecall:  getEnvBool("KEEPSAKE_REINFORCE_ON_RECALL", false),
		},
		Lifecycle: LifecycleConfig{
			GraceMultiplier: getEnvFloat("KEEPSAKE_GRACE_MULTIPLIER", 2.0),
		},
		Signal: SignalConfig{
			LexiconPath:  getEnv("KEEPSAKE_LEXICON_PATH", ""),
			WatchLexicon: getEnvBool("KEEPSAKE_LEXICON_WATCH", false),
		},
		Notify: NotifyConfig{
			AllowedOrigins: getEnvList("KEEPSAKE_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
			EventsEnabled:  getEnvBool("KEEPSAKE_EVENTS_ENABLED", true),
		},
		Backup: BackupConfig{
			Dir:             getEnv("KEEPSAKE_BACKUP_DIR", ""),
			IntervalMinutes: getEnvInt("KEEPSAKE_BACKUP_INTERVAL_MINUTES", 60),
			Verify:          getEnvBool("KEEPSAKE_BACKUP_VERIFY", true),
		},
		Log: LogConfig{
			Level: getEnv("KEEPSAKE_LOG_LEVEL", "info"),
		},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvInt64 retrieves a 64-bit integer environment variable or returns a
// default value.
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. Unparseable values fall back to the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvList retrieves a comma-separated environment variable or returns a
// default value. Blank entries are dropped.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
