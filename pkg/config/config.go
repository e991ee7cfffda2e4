// Package config loads process-level settings from the environment once at
// startup. Component-level tuning stays with each constructor's functional
// options.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the binaries need at startup.
type Config struct {
	// DatabaseURL is the sqlite DSN. Defaults to a local file.
	DatabaseURL string

	// NATSURL is the broker address for async dispatch.
	NATSURL string

	// NATSStream names the JetStream stream holding projection tasks.
	NATSStream string

	// SecretKey signs access tokens. Required outside of dev.
	SecretKey string

	// AccessTokenLifetime bounds how long an issued token is valid.
	AccessTokenLifetime time.Duration

	// SyncEventHandler runs projections in the command transaction instead
	// of enqueueing tasks.
	SyncEventHandler bool

	// HTTPAddr is the API listen address.
	HTTPAddr string

	// CORSOrigins lists origins allowed to call the API from a browser.
	// Empty means no cross-origin access.
	CORSOrigins []string

	// AllowedHosts restricts the Host header. Empty means any host.
	AllowedHosts []string

	// LogLevel is the slog level for both binaries.
	LogLevel slog.Level
}

// Load reads the environment. Unset variables fall back to dev-friendly
// defaults; malformed values are an error, not a silent fallback.
func Load() (Config, error) {
	cfg := Config{
		DatabaseURL:         getEnv("DATABASE_URL", "userd.db"),
		NATSURL:             getEnv("NATS_URL", "nats://localhost:4222"),
		NATSStream:          getEnv("NATS_STREAM", "USERD_TASKS"),
		SecretKey:           getEnv("SECRET_KEY", "dev-secret-change-me"),
		AccessTokenLifetime: 30 * time.Minute,
		SyncEventHandler:    false,
		HTTPAddr:            getEnv("HTTP_ADDR", ":8000"),
		CORSOrigins:         splitList(os.Getenv("CORS_ORIGINS")),
		AllowedHosts:        splitList(os.Getenv("ALLOWED_HOSTS")),
		LogLevel:            slog.LevelInfo,
	}

	if raw := os.Getenv("ACCESS_TOKEN_LIFETIME_MINUTES"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil || minutes <= 0 {
			return Config{}, fmt.Errorf("ACCESS_TOKEN_LIFETIME_MINUTES: %q is not a positive integer", raw)
		}
		cfg.AccessTokenLifetime = time.Duration(minutes) * time.Minute
	}

	if raw := os.Getenv("SYNC_EVENT_HANDLER"); raw != "" {
		sync, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("SYNC_EVENT_HANDLER: %q is not a boolean", raw)
		}
		cfg.SyncEventHandler = sync
	}

	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		var level slog.Level
		if err := level.UnmarshalText([]byte(raw)); err != nil {
			return Config{}, fmt.Errorf("LOG_LEVEL: %q is not a log level", raw)
		}
		cfg.LogLevel = level
	}

	return cfg, nil
}

// splitList parses a comma-separated environment value, dropping empty
// entries and surrounding whitespace.
func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
