// Package config centralizes funcdock's environment-variable configuration
// into a single struct, loaded once at startup.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every runtime setting the core reads from the environment.
type Config struct {
	Port     string
	LogLevel string

	AdminUsername string
	AdminPassword string
	JWTSecret     string

	SlackWebhookURL string

	FunctionsDir string
	LogDir       string
	BackupDir    string

	DebounceWindow time.Duration

	MaxLogSizeBytes   int64
	MaxLogFiles       int
	LogTailBufferSize int

	BackupRetention int
	TestTimeout     time.Duration

	RedisURL string
}

// Load reads every setting from the environment, applying the platform's
// defaults where a variable is unset.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		AdminUsername: getEnv("ADMIN_USERNAME", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		JWTSecret:     getEnv("JWT_SECRET", ""),

		SlackWebhookURL: getEnv("SLACK_WEBHOOK_URL", ""),

		FunctionsDir: getEnv("FUNCTIONS_DIR", "./functions"),
		LogDir:       getEnv("LOG_DIR", "./logs"),
		BackupDir:    getEnv("BACKUP_DIR", "./.deployment-backups"),

		DebounceWindow: time.Duration(getEnvInt("DEBOUNCE_WINDOW_MS", 250)) * time.Millisecond,

		MaxLogSizeBytes:   getEnvInt64("MAX_LOG_SIZE_BYTES", 10*1024*1024),
		MaxLogFiles:       getEnvInt("MAX_LOG_FILES", 5),
		LogTailBufferSize: getEnvInt("LOG_TAIL_BUFFER_SIZE", 1000),

		BackupRetention: getEnvInt("BACKUP_RETENTION", 5),
		TestTimeout:     time.Duration(getEnvInt("TEST_TIMEOUT_SECONDS", 30)) * time.Second,

		RedisURL: getEnv("REDIS_URL", ""),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
