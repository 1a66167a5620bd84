package config

import (
	"errors"
	"fmt"
	"time"
)

// Store drivers accepted by REGISTRY_STORE.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"
)

const developmentSecret = "supersecuresecret"

// RegistryConfig holds runtime configuration for the registry API.
type RegistryConfig struct {
	Environment        string        `env:"REGISTRY_ENV"                   envDefault:"development"`
	Addr               string        `env:"REGISTRY_ADDR"                  envDefault:":4000"`
	LogLevel           string        `env:"REGISTRY_LOG_LEVEL"             envDefault:"info"`
	Store              string        `env:"REGISTRY_STORE"                 envDefault:"memory"`
	DatabaseURL        string        `env:"DATABASE_URL"`
	SQLitePath         string        `env:"REGISTRY_SQLITE_PATH"           envDefault:"registry.db"`
	JWTSecret          string        `env:"REGISTRY_JWT_SECRET"            envDefault:"supersecuresecret"`
	TokenTTL           time.Duration `env:"REGISTRY_TOKEN_TTL"             envDefault:"24h"`
	NameMinLength      int           `env:"REGISTRY_NAME_MIN_LENGTH"       envDefault:"3"`
	RateLimitRedisAddr string        `env:"REGISTRY_RATE_LIMIT_REDIS_ADDR"`
	RateLimitRedisPass string        `env:"REGISTRY_RATE_LIMIT_REDIS_PASSWORD"`
	RateLimitRedisDB   int           `env:"REGISTRY_RATE_LIMIT_REDIS_DB"   envDefault:"0"`
	EventsRedisAddr    string        `env:"REGISTRY_EVENTS_REDIS_ADDR"`
	EventsRedisPass    string        `env:"REGISTRY_EVENTS_REDIS_PASSWORD"`
	EventsRedisDB      int           `env:"REGISTRY_EVENTS_REDIS_DB"       envDefault:"0"`
	EventsRedisChannel string        `env:"REGISTRY_EVENTS_REDIS_CHANNEL"`
	EventsWebhookURL   string        `env:"REGISTRY_EVENTS_WEBHOOK_URL"`
	EventsWebhookToken string        `env:"REGISTRY_EVENTS_WEBHOOK_SECRET"`
	EventBuffer        int           `env:"REGISTRY_EVENT_BUFFER"          envDefault:"256"`
}

// LoadRegistryConfig constructs a RegistryConfig from environment variables.
func LoadRegistryConfig() (RegistryConfig, error) {
	var cfg RegistryConfig
	if err := ParseEnv(&cfg); err != nil {
		return RegistryConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return RegistryConfig{}, err
	}
	return cfg, nil
}

// Development reports whether the registry runs with development defaults.
func (c RegistryConfig) Development() bool {
	return c.Environment == "development"
}

// Validate checks that the selected drivers have what they need.
func (c RegistryConfig) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required for the postgres store")
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return errors.New("REGISTRY_SQLITE_PATH is required for the sqlite store")
		}
	default:
		return fmt.Errorf("unknown REGISTRY_STORE %q", c.Store)
	}
	if c.JWTSecret == "" {
		return errors.New("REGISTRY_JWT_SECRET is required")
	}
	if !c.Development() && c.JWTSecret == developmentSecret {
		return errors.New("REGISTRY_JWT_SECRET must be set outside development")
	}
	if c.NameMinLength <= 0 {
		return fmt.Errorf("REGISTRY_NAME_MIN_LENGTH must be positive, got %d", c.NameMinLength)
	}
	if c.EventBuffer <= 0 {
		return fmt.Errorf("REGISTRY_EVENT_BUFFER must be positive, got %d", c.EventBuffer)
	}
	if (c.EventsRedisAddr == "") != (c.EventsRedisChannel == "") {
		return errors.New("REGISTRY_EVENTS_REDIS_ADDR and REGISTRY_EVENTS_REDIS_CHANNEL must be set together")
	}
	if c.EventsWebhookURL != "" && c.EventsWebhookToken == "" {
		return errors.New("REGISTRY_EVENTS_WEBHOOK_SECRET is required with a webhook URL")
	}
	return nil
}
