// Package config loads collabd's runtime configuration from the
// environment, the same way the original server's cmd/server/main.go did.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every environment-tunable knob collabd reads at startup.
type Config struct {
	Port string

	SQLiteURI string // empty disables persistence entirely

	RedisAddr     string // empty falls back to the in-memory lock fake
	RedisPassword string
	RedisDB       int

	LockTTL      time.Duration
	LockDeadline time.Duration
	LockRetry    time.Duration

	MaxRetries int // Document Service commit-retry bound

	MaxDocumentSizeBytes int
	BroadcastBufferSize  int

	IdleExpiry      time.Duration
	CleanupInterval time.Duration

	WSReadTimeout  time.Duration
	WSWriteTimeout time.Duration
}

// Load reads Config from the environment, applying the same defaults the
// original single-writer server shipped with.
func Load() Config {
	return Config{
		Port: getEnv("PORT", "3030"),

		SQLiteURI: os.Getenv("SQLITE_URI"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		LockTTL:      getEnvDuration("LOCK_TTL_MS", 3000*time.Millisecond),
		LockDeadline: getEnvDuration("LOCK_DEADLINE_MS", 3000*time.Millisecond),
		LockRetry:    getEnvDuration("LOCK_RETRY_MS", 50*time.Millisecond),

		MaxRetries: getEnvInt("MAX_COMMIT_RETRIES", 5),

		MaxDocumentSizeBytes: getEnvInt("MAX_DOCUMENT_SIZE_KB", 256) * 1024,
		BroadcastBufferSize:  getEnvInt("BROADCAST_BUFFER_SIZE", 16),

		IdleExpiry:      time.Duration(getEnvInt("EXPIRY_DAYS", 7)) * 24 * time.Hour,
		CleanupInterval: time.Duration(getEnvInt("CLEANUP_INTERVAL_HOURS", 1)) * time.Hour,

		WSReadTimeout:  time.Duration(getEnvInt("WS_READ_TIMEOUT_SECONDS", 30)) * time.Second,
		WSWriteTimeout: time.Duration(getEnvInt("WS_WRITE_TIMEOUT_SECONDS", 10)) * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}
