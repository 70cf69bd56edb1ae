// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strings"
	"time"
)

// Config carries everything cmd/api needs to wire the service.
type Config struct {
	Addr string

	RedisURL    string
	PostgresDSN string

	// AuthSecret signs invitation tokens and sessions. In multi-instance
	// deployments it must be set and shared, otherwise each instance
	// generates its own and tokens do not validate across instances.
	AuthSecret string

	SessionTTL   time.Duration
	StoreTimeout time.Duration

	// Bootstrap administrator credential. The hash is bcrypt.
	AdminEmail        string
	AdminPasswordHash string
}

// FromEnv reads configuration with sensible development defaults.
func FromEnv() Config {
	return Config{
		Addr:              getString("ALUMNIHUB_ADDR", ":8080"),
		RedisURL:          getString("ALUMNIHUB_REDIS_URL", "redis://localhost:6379/0"),
		PostgresDSN:       getString("ALUMNIHUB_PG_DSN", ""),
		AuthSecret:        getString("ALUMNIHUB_AUTH_SECRET", ""),
		SessionTTL:        getDuration("ALUMNIHUB_SESSION_TTL", 15*time.Minute),
		StoreTimeout:      getDuration("ALUMNIHUB_STORE_TIMEOUT", 500*time.Millisecond),
		AdminEmail:        getString("ALUMNIHUB_ADMIN_EMAIL", ""),
		AdminPasswordHash: getString("ALUMNIHUB_ADMIN_PASSWORD_HASH", ""),
	}
}

func getString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
