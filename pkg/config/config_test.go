package config

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.Equal(t, "https://api.deepseek.com/v1", cfg.APIBase)
	assert.Equal(t, "deepseek-chat", cfg.ModelName)
	assert.InDelta(t, 0.7, float64(cfg.Temperature), 0.0001)
	assert.Equal(t, 2000, cfg.MaxTokens)
	assert.Equal(t, "redis:6379", cfg.RedisAddr())
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.Equal(t, 30, cfg.Sandbox.TTLMinutes)
	assert.False(t, cfg.SearchEnabled())
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("API_KEY", "sk-test")
	t.Setenv("MODEL_NAME", "gpt-4o")
	t.Setenv("TEMPERATURE", "0.2")
	t.Setenv("MAX_TOKENS", "4096")
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("DB_HOST", "db.internal")
	t.Setenv("DB_PASSWORD", "secret")
	t.Setenv("SANDBOX_ADDRESS", "127.0.0.1:8080")
	t.Setenv("GOOGLE_SEARCH_API_KEY", "key")
	t.Setenv("GOOGLE_SEARCH_ENGINE_ID", "cx")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, "sk-test", cfg.APIKey)
	assert.Equal(t, "gpt-4o", cfg.LLM().Model)
	assert.InDelta(t, 0.2, float64(cfg.LLM().Temperature), 0.0001)
	assert.Equal(t, 4096, cfg.LLM().MaxTokens)
	assert.Equal(t, "cache.internal:6380", cfg.RedisAddr())
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, "secret", cfg.Database.Password)
	assert.Equal(t, "127.0.0.1:8080", cfg.Sandbox.Address)
	assert.True(t, cfg.SearchEnabled())
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("PORT", "not-a-number")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid PORT")
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	t.Setenv("LOG_LEVEL", "loud")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid LOG_LEVEL")
}

func TestValidate(t *testing.T) {
	cfg := Config{}
	require.Error(t, cfg.Validate())

	cfg.APIKey = "sk-test"
	require.NoError(t, cfg.Validate())
}
