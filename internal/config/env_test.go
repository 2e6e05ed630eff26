package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadFromEnvDefaults(t *testing.T) {
	for _, key := range []string{
		"DATABASE_URL", "ENCRYPTION_KEY", "JWT_SECRET_KEY", "REDIS_HOST",
		"TELEGRAM_CONNECTION_TIMEOUT", "TELEGRAM_REQUEST_TIMEOUT", "CLIENT_CACHE_TTL",
		"SESSION_TIMEOUT", "HTTP_PORT", "FORWARDER_PROJECT_NAME", "SOLANAGRAM_CONFIGS_PATH",
		"MESSAGE_LOGS_RETENTION_DAYS",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadFromEnv()

	assert.Equal(t, 8*time.Second, cfg.ConnectionTimeout)
	assert.Equal(t, 8*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 300*time.Second, cfg.ClientCacheTTL)
	assert.Equal(t, time.Hour, cfg.SessionTimeout)
	assert.Equal(t, 5000, cfg.HTTPPort)
	assert.Equal(t, "solanagram", cfg.ProjectName)
	assert.Equal(t, "./configs", cfg.ConfigsPath)
	assert.Zero(t, cfg.MessageLogsRetentionDays, "message logs are kept forever by default")
	assert.False(t, cfg.RedisEnabled())
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://solanagram:x@db/solanagram")
	t.Setenv("TELEGRAM_CONNECTION_TIMEOUT", "15")
	t.Setenv("CLIENT_CACHE_TTL", "60")
	t.Setenv("REDIS_HOST", "redis")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("TELEGRAM_API_ID", "25128314")

	cfg := LoadFromEnv()

	assert.Equal(t, "postgres://solanagram:x@db/solanagram", cfg.DatabaseURL)
	assert.Equal(t, 15*time.Second, cfg.ConnectionTimeout)
	assert.Equal(t, time.Minute, cfg.ClientCacheTTL)
	assert.True(t, cfg.RedisEnabled())
	assert.Equal(t, 6380, cfg.RedisPort)
	assert.Equal(t, 25128314, cfg.TelegramAPIID)
}

func TestInvalidIntFallsBack(t *testing.T) {
	t.Setenv("CLIENT_CACHE_TTL", "not-a-number")
	cfg := LoadFromEnv()
	assert.Equal(t, 300*time.Second, cfg.ClientCacheTTL)
}
