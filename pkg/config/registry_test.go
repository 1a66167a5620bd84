package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRegistryConfigDefaults(t *testing.T) {
	cfg, err := LoadRegistryConfig()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ":4000", cfg.Addr)
	assert.Equal(t, StoreMemory, cfg.Store)
	assert.Equal(t, 3, cfg.NameMinLength)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
	assert.Equal(t, 256, cfg.EventBuffer)
	assert.True(t, cfg.Development())
}

func TestLoadRegistryConfigFromEnv(t *testing.T) {
	t.Setenv("REGISTRY_ENV", "production")
	t.Setenv("REGISTRY_ADDR", ":9000")
	t.Setenv("REGISTRY_STORE", StorePostgres)
	t.Setenv("DATABASE_URL", "postgres://registry@localhost/registry")
	t.Setenv("REGISTRY_JWT_SECRET", "s3cret")
	t.Setenv("REGISTRY_TOKEN_TTL", "90m")
	t.Setenv("REGISTRY_NAME_MIN_LENGTH", "5")
	t.Setenv("REGISTRY_RATE_LIMIT_REDIS_DB", "2")
	t.Setenv("REGISTRY_EVENTS_REDIS_ADDR", "events-redis:6379")
	t.Setenv("REGISTRY_EVENTS_REDIS_DB", "4")
	t.Setenv("REGISTRY_EVENTS_REDIS_CHANNEL", "registry.events")

	cfg, err := LoadRegistryConfig()
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, StorePostgres, cfg.Store)
	assert.Equal(t, 90*time.Minute, cfg.TokenTTL)
	assert.Equal(t, 5, cfg.NameMinLength)
	assert.Equal(t, 2, cfg.RateLimitRedisDB)
	assert.Empty(t, cfg.RateLimitRedisAddr, "event publishing does not enable redis rate limiting")
	assert.Equal(t, "events-redis:6379", cfg.EventsRedisAddr)
	assert.Equal(t, 4, cfg.EventsRedisDB)
	assert.Equal(t, "registry.events", cfg.EventsRedisChannel)
	assert.False(t, cfg.Development())
}

func TestLoadRegistryConfigRejectsBadDuration(t *testing.T) {
	t.Setenv("REGISTRY_TOKEN_TTL", "soon")

	_, err := LoadRegistryConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env")
}

func TestValidate(t *testing.T) {
	base := RegistryConfig{
		Environment:   "development",
		Store:         StoreMemory,
		JWTSecret:     developmentSecret,
		NameMinLength: 3,
		EventBuffer:   1,
	}
	require.NoError(t, base.Validate())

	cases := map[string]func(*RegistryConfig){
		"unknown store":          func(c *RegistryConfig) { c.Store = "mongo" },
		"postgres without url":   func(c *RegistryConfig) { c.Store = StorePostgres },
		"sqlite without path":    func(c *RegistryConfig) { c.Store = StoreSQLite },
		"empty secret":           func(c *RegistryConfig) { c.JWTSecret = "" },
		"default secret in prod": func(c *RegistryConfig) { c.Environment = "production" },
		"zero name length":       func(c *RegistryConfig) { c.NameMinLength = 0 },
		"zero buffer":            func(c *RegistryConfig) { c.EventBuffer = 0 },
		"webhook without secret": func(c *RegistryConfig) { c.EventsWebhookURL = "http://hooks.local" },
		"redis channel no addr":  func(c *RegistryConfig) { c.EventsRedisChannel = "registry.events" },
		"redis addr no channel":  func(c *RegistryConfig) { c.EventsRedisAddr = "localhost:6379" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
