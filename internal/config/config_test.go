package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadAppliesDefaultsWhenEnvUnset(t *testing.T) {
	clearFuncdockEnv(t)

	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "./functions", cfg.FunctionsDir)
	assert.Equal(t, "./logs", cfg.LogDir)
	assert.Equal(t, "./.deployment-backups", cfg.BackupDir)
	assert.Equal(t, 250*time.Millisecond, cfg.DebounceWindow)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxLogSizeBytes)
	assert.Equal(t, 5, cfg.MaxLogFiles)
	assert.Equal(t, 1000, cfg.LogTailBufferSize)
	assert.Equal(t, 5, cfg.BackupRetention)
	assert.Equal(t, 30*time.Second, cfg.TestTimeout)
	assert.Empty(t, cfg.RedisURL)
	assert.Empty(t, cfg.JWTSecret)
}

func TestLoadReadsOverridesFromEnv(t *testing.T) {
	clearFuncdockEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("JWT_SECRET", "super-secret")
	t.Setenv("DEBOUNCE_WINDOW_MS", "1000")
	t.Setenv("MAX_LOG_FILES", "3")
	t.Setenv("REDIS_URL", "redis://localhost:6379/0")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "super-secret", cfg.JWTSecret)
	assert.Equal(t, time.Second, cfg.DebounceWindow)
	assert.Equal(t, 3, cfg.MaxLogFiles)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestLoadFallsBackOnUnparseableIntEnvVars(t *testing.T) {
	clearFuncdockEnv(t)
	t.Setenv("MAX_LOG_FILES", "not-a-number")

	cfg := Load()
	assert.Equal(t, 5, cfg.MaxLogFiles)
}

func TestLoadFallsBackOnUnparseableInt64EnvVars(t *testing.T) {
	clearFuncdockEnv(t)
	t.Setenv("MAX_LOG_SIZE_BYTES", "not-a-number")

	cfg := Load()
	assert.Equal(t, int64(10*1024*1024), cfg.MaxLogSizeBytes)
}

func clearFuncdockEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "ADMIN_USERNAME", "ADMIN_PASSWORD", "JWT_SECRET",
		"SLACK_WEBHOOK_URL", "FUNCTIONS_DIR", "LOG_DIR", "BACKUP_DIR",
		"DEBOUNCE_WINDOW_MS", "MAX_LOG_SIZE_BYTES", "MAX_LOG_FILES",
		"LOG_TAIL_BUFFER_SIZE", "BACKUP_RETENTION", "TEST_TIMEOUT_SECONDS", "REDIS_URL",
	} {
		t.Setenv(key, "")
	}
}
