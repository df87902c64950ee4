package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/haven-health/keepsake/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsWorkOffline(t *testing.T) {
	_ = os.Unsetenv("KEEPSAKE_STORAGE_ENGINE")
	_ = os.Unsetenv("KEEPSAKE_EMBEDDING_URL")
	_ = os.Unsetenv("KEEPSAKE_INDEX_BACKEND")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.Engine,
		"Default storage must not require a running database")
	assert.Equal(t, "", cfg.Embedding.ServiceURL,
		"Default embedding must not require a running service")
	assert.Equal(t, "chromem", cfg.Index.Backend)
	assert.Equal(t, "", cfg.Index.Path, "Default index must be in-memory")
}

func TestLoadConfig_CanOverrideStorageEngine(t *testing.T) {
	t.Setenv("KEEPSAKE_STORAGE_ENGINE", "postgres")
	t.Setenv("KEEPSAKE_POSTGRES_DSN", "postgres://keepsake@localhost/keepsake")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.Engine)
	assert.Equal(t, "postgres://keepsake@localhost/keepsake", cfg.Storage.PostgresDSN)
}

// TestLoadConfig_EngineDefaults verifies the sync tuning matches the
// engine's own defaults when nothing is set.
func TestLoadConfig_EngineDefaults(t *testing.T) {
	for _, key := range []string{
		"KEEPSAKE_SYNC_WORKERS",
		"KEEPSAKE_SYNC_QUEUE_SIZE",
		"KEEPSAKE_SYNC_MAX_ATTEMPTS",
		"KEEPSAKE_SHUTDOWN_SECONDS",
		"KEEPSAKE_RECONCILE_BATCH",
	} {
		_ = os.Unsetenv(key)
	}

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Engine.SyncWorkers)
	assert.Equal(t, 256, cfg.Engine.SyncQueueSize)
	assert.Equal(t, 3, cfg.Engine.SyncMaxAttempts)
	assert.Equal(t, 30, cfg.Engine.ShutdownSeconds)
	assert.Equal(t, 100, cfg.Engine.ReconcileBatchSize)
	assert.False(t, cfg.Engine.ReinforceOnRecall,
		"Recall reinforcement must be opt-in")
}

// TestLoadConfig_UnparseableIntFallsBack verifies that a malformed
// numeric value degrades to the default instead of failing startup.
func TestLoadConfig_UnparseableIntFallsBack(t *testing.T) {
	t.Setenv("KEEPSAKE_SYNC_WORKERS", "not-a-number")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Engine.SyncWorkers)
}

func TestLoadConfig_FloatAndBoolParsing(t *testing.T) {
	t.Setenv("KEEPSAKE_GRACE_MULTIPLIER", "3.5")
	t.Setenv("KEEPSAKE_EMBEDDING_RPS", "2.5")
	t.Setenv("KEEPSAKE_REINFORCE_ON_RECALL", "yes")
	t.Setenv("KEEPSAKE_EVENTS_ENABLED", "0")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3.5, cfg.Lifecycle.GraceMultiplier)
	assert.Equal(t, 2.5, cfg.Embedding.RequestsPerSecond)
	assert.True(t, cfg.Engine.ReinforceOnRecall)
	assert.False(t, cfg.Notify.EventsEnabled)
}

// TestLoadConfig_OriginList verifies comma-separated origin parsing with
// whitespace and blank entries.
func TestLoadConfig_OriginList(t *testing.T) {
	t.Setenv("KEEPSAKE_ALLOWED_ORIGINS", "https://app.example.com, https://staging.example.com,, ")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t,
		[]string{"https://app.example.com", "https://staging.example.com"},
		cfg.Notify.AllowedOrigins)
}

func TestLoadConfig_DefaultOrigins(t *testing.T) {
	_ = os.Unsetenv("KEEPSAKE_ALLOWED_ORIGINS")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Notify.AllowedOrigins)
}

func TestStorageConfig_SQLitePath(t *testing.T) {
	t.Setenv("KEEPSAKE_DATA_PATH", filepath.Join("var", "keepsake"))

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("var", "keepsake", "keepsake.db"), cfg.Storage.SQLitePath())
}

// TestConfig_BackupDir verifies the snapshot directory defaults to a
// backups directory beside the database and honors the override.
func TestConfig_BackupDir(t *testing.T) {
	t.Setenv("KEEPSAKE_DATA_PATH", filepath.Join("var", "keepsake"))
	_ = os.Unsetenv("KEEPSAKE_BACKUP_DIR")

	cfg, err := config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("var", "keepsake", "backups"), cfg.BackupDir())
	assert.Equal(t, 60, cfg.Backup.IntervalMinutes)
	assert.True(t, cfg.Backup.Verify)

	t.Setenv("KEEPSAKE_BACKUP_DIR", filepath.Join("mnt", "snapshots"))
	cfg, err = config.LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, filepath.Join("mnt", "snapshots"), cfg.BackupDir())
}

func TestValidate_CatchesBadSettings(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
		want string
	}{
		{
			name: "unknown storage engine",
			env:  map[string]string{"KEEPSAKE_STORAGE_ENGINE": "etcd"},
			want: "storage engine",
		},
		{
			name: "unknown index backend",
			env:  map[string]string{"KEEPSAKE_INDEX_BACKEND": "faiss"},
			want: "index backend",
		},
		{
			name: "zero embedding timeout",
			env:  map[string]string{"KEEPSAKE_EMBEDDING_TIMEOUT_SECONDS": "0"},
			want: "embedding timeout",
		},
		{
			name: "grace below one",
			env:  map[string]string{"KEEPSAKE_GRACE_MULTIPLIER": "0.5"},
			want: "grace multiplier",
		},
		{
			name: "zero backup interval",
			env:  map[string]string{"KEEPSAKE_BACKUP_INTERVAL_MINUTES": "0"},
			want: "backup interval",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := config.LoadConfig()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}
}
