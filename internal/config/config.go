// Package config loads broker configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	CacheMemory   = "memory"
	CachePostgres = "postgres"
	CacheSQLite   = "sqlite"
	CacheBolt     = "bolt"
)

// Config holds process-wide settings. It is read once at startup and never
// mutated afterwards.
type Config struct {
	OAuthDomain       string        `env:"OAUTH_DOMAIN"        envDefault:"https://api.dnt.no"`
	OAuthClientID     string        `env:"OAUTH_CLIENT_ID"`
	OAuthClientSecret string        `env:"OAUTH_CLIENT_SECRET"`
	ProviderTimeout   time.Duration `env:"PROVIDER_TIMEOUT"    envDefault:"15s"`

	HTTPAddr   string `env:"HTTP_ADDR"   envDefault:"0.0.0.0:8431"`
	VersionTag string `env:"VERSION_TAG" envDefault:"dev"`

	CacheBackend string `env:"CACHE_BACKEND"            envDefault:"memory"`
	DatabaseURL  string `env:"DATABASE_URL"`
	DatabaseTZ   string `env:"DATABASE_TIMEZONE"`
	DatabaseEnc  string `env:"DATABASE_CLIENT_ENCODING"`
	SQLitePath   string `env:"CACHE_SQLITE_PATH"        envDefault:"token_cache.db"`
	BoltPath     string `env:"CACHE_BOLT_PATH"          envDefault:"token_cache.bolt"`
	OTelEndpoint string `env:"OTEL_ENDPOINT"`
	OTelService  string `env:"OTEL_SERVICE_NAME"        envDefault:"sherpa-broker"`
}

// Load reads an optional .env file and parses the environment into a Config.
func Load() (Config, error) {
	// best-effort: a missing .env is the normal case outside local dev
	_ = godotenv.Load()
	return Parse()
}

// Parse parses the current environment without touching .env files.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.OAuthDomain = strings.TrimSuffix(cfg.OAuthDomain, "/")
	cfg.CacheBackend = strings.ToLower(strings.TrimSpace(cfg.CacheBackend))
	return cfg, cfg.Validate()
}

var (
	ErrMissingCredentials = errors.New("OAUTH_CLIENT_ID and OAUTH_CLIENT_SECRET are required")
	ErrUnknownBackend     = errors.New("unknown cache backend")
)

// Validate reports configuration that would make the broker unusable.
func (c Config) Validate() error {
	if c.OAuthClientID == "" || c.OAuthClientSecret == "" {
		return ErrMissingCredentials
	}
	if !strings.HasPrefix(c.OAuthDomain, "http") {
		return fmt.Errorf("OAUTH_DOMAIN must be an absolute URL, got %q", c.OAuthDomain)
	}
	if c.ProviderTimeout <= 0 {
		return fmt.Errorf("PROVIDER_TIMEOUT must be positive, got %s", c.ProviderTimeout)
	}
	switch c.CacheBackend {
	case CacheMemory, CachePostgres, CacheSQLite, CacheBolt:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBackend, c.CacheBackend)
	}
	return nil
}
