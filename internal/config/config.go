package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/viper"
)

// Config holds all process-wide configuration, loaded once at startup.
type Config struct {
	// Server configuration
	Host string
	Port int

	// Bearer credential supplied to the Provider Gateway; never refreshed
	// by the core.
	Bearer string

	// GUID-shaped application identifiers, validated by shape only.
	ClientID string
	TenantID string

	// Connection string for the State Store.
	StoreDSN string

	// Minimum length for generated subscription shared secrets.
	SharedSecretFloor int

	// When true, serve enables the Credential Gate at startup; when false,
	// the gate keeps the state gate.New restored from the store (disabled
	// if none was recorded).
	DeltaEnabled bool

	// Absolute URL at which the provider will POST notifications; must
	// match this process's /notify endpoint.
	NotifyURL string

	// How long the rate-limit breaker stays open after a RATE_LIMITED error
	// reaches the worker, and how many consecutive successful passes a
	// half-open breaker needs before it closes again.
	RateLimitBreakerCooldown      time.Duration
	RateLimitBreakerRecoveryCount int

	LogLevel string
}

// Load reads configuration from environment variables, applying defaults for
// optional keys and failing fast if a required key is missing or malformed.
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HOST", "localhost")
	v.SetDefault("PORT", 4101)
	v.SetDefault("STORE_DSN", "./driftmirror.db")
	v.SetDefault("SHARED_SECRET_FLOOR", 32)
	v.SetDefault("DELTA_ENABLED", false)
	v.SetDefault("RATE_LIMIT_BREAKER_COOLDOWN_SECONDS", 120)
	v.SetDefault("RATE_LIMIT_BREAKER_RECOVERY_COUNT", 3)
	v.SetDefault("LOG_LEVEL", "info")

	cfg := &Config{
		Host:                          v.GetString("HOST"),
		Port:                          v.GetInt("PORT"),
		Bearer:                        v.GetString("BEARER"),
		ClientID:                      v.GetString("CLIENT_ID"),
		TenantID:                      v.GetString("TENANT_ID"),
		StoreDSN:                      v.GetString("STORE_DSN"),
		SharedSecretFloor:             v.GetInt("SHARED_SECRET_FLOOR"),
		DeltaEnabled:                  v.GetBool("DELTA_ENABLED"),
		NotifyURL:                     v.GetString("NOTIFY_URL"),
		RateLimitBreakerCooldown:      time.Duration(v.GetInt("RATE_LIMIT_BREAKER_COOLDOWN_SECONDS")) * time.Second,
		RateLimitBreakerRecoveryCount: v.GetInt("RATE_LIMIT_BREAKER_RECOVERY_COUNT"),
		LogLevel:                      v.GetString("LOG_LEVEL"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Bearer == "" {
		return fmt.Errorf("BEARER is required")
	}
	if c.ClientID == "" {
		return fmt.Errorf("CLIENT_ID is required")
	}
	if _, err := uuid.Parse(c.ClientID); err != nil {
		return fmt.Errorf("CLIENT_ID must be GUID-shaped: %w", err)
	}
	if c.TenantID == "" {
		return fmt.Errorf("TENANT_ID is required")
	}
	if _, err := uuid.Parse(c.TenantID); err != nil {
		return fmt.Errorf("TENANT_ID must be GUID-shaped: %w", err)
	}
	if c.NotifyURL == "" {
		return fmt.Errorf("NOTIFY_URL is required")
	}
	if c.SharedSecretFloor < 32 {
		return fmt.Errorf("SHARED_SECRET_FLOOR must be >= 32")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if c.RateLimitBreakerCooldown <= 0 {
		return fmt.Errorf("RATE_LIMIT_BREAKER_COOLDOWN_SECONDS must be positive")
	}
	if c.RateLimitBreakerRecoveryCount < 1 {
		return fmt.Errorf("RATE_LIMIT_BREAKER_RECOVERY_COUNT must be >= 1")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error")
	}
	return nil
}
