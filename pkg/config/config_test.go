package config_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eventfold/userd/pkg/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "userd.db", cfg.DatabaseURL)
	assert.Equal(t, "nats://localhost:4222", cfg.NATSURL)
	assert.Equal(t, "USERD_TASKS", cfg.NATSStream)
	assert.Equal(t, 30*time.Minute, cfg.AccessTokenLifetime)
	assert.False(t, cfg.SyncEventHandler)
	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Empty(t, cfg.CORSOrigins)
	assert.Empty(t, cfg.AllowedHosts)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "/var/lib/userd/state.db")
	t.Setenv("ACCESS_TOKEN_LIFETIME_MINUTES", "5")
	t.Setenv("SYNC_EVENT_HANDLER", "true")
	t.Setenv("CORS_ORIGINS", "https://app.example.com, https://admin.example.com")
	t.Setenv("ALLOWED_HOSTS", "api.example.com")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/userd/state.db", cfg.DatabaseURL)
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenLifetime)
	assert.True(t, cfg.SyncEventHandler)
	assert.Equal(t, []string{"https://app.example.com", "https://admin.example.com"}, cfg.CORSOrigins)
	assert.Equal(t, []string{"api.example.com"}, cfg.AllowedHosts)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Run("TokenLifetime", func(t *testing.T) {
		t.Setenv("ACCESS_TOKEN_LIFETIME_MINUTES", "soon")
		_, err := config.Load()
		assert.Error(t, err)
	})

	t.Run("NegativeTokenLifetime", func(t *testing.T) {
		t.Setenv("ACCESS_TOKEN_LIFETIME_MINUTES", "-1")
		_, err := config.Load()
		assert.Error(t, err)
	})

	t.Run("SyncFlag", func(t *testing.T) {
		t.Setenv("SYNC_EVENT_HANDLER", "maybe")
		_, err := config.Load()
		assert.Error(t, err)
	})

	t.Run("LogLevel", func(t *testing.T) {
		t.Setenv("LOG_LEVEL", "loud")
		_, err := config.Load()
		assert.Error(t, err)
	})
}
