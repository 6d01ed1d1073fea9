// Package config loads application configuration from environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // RADCRED_TIMEZONE must resolve in scratch images.

	"github.com/hengadev/errsx"
)

// Database drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Key sources.
const (
	KeySourceEnv   = "env"
	KeySourceVault = "vault"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	ListenAddr string
	APIToken   string

	DBDriver    string
	DBPath      string
	PostgresDSN string

	KeySource     string
	EncryptionKey string
	VaultAddr     string
	VaultToken    string
	VaultKeyPath  string
	VaultKeyField string

	ProviderURL     string
	ProviderToken   string
	ProviderTimeout time.Duration

	Location       *time.Location
	UsernamePrefix string
	SecretStyle    string
	SecretLength   int

	RetryInterval    time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	LockTTL       time.Duration
}

// HasRedis returns true when a Redis address is configured. Without it the
// process uses an in-memory lock and must run as a single instance.
func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}

// Load reads configuration from RADCRED_ environment variables and returns a
// validated Config. Every invalid or missing setting is reported, keyed by
// variable name, in a single errsx.Map error.
func Load() (*Config, error) {
	errs := errsx.Map{}
	e := env{errs: errs}

	cfg := &Config{
		ListenAddr: e.str("RADCRED_LISTEN_ADDR", "127.0.0.1:8080"),
		APIToken:   e.required("RADCRED_API_TOKEN"),

		DBDriver:    strings.ToLower(e.str("RADCRED_DB_DRIVER", DriverSQLite)),
		DBPath:      e.str("RADCRED_DB_PATH", "radcred.db"),
		PostgresDSN: e.str("RADCRED_POSTGRES_DSN", ""),

		KeySource:     strings.ToLower(e.str("RADCRED_KEY_SOURCE", KeySourceEnv)),
		EncryptionKey: e.str("RADCRED_ENCRYPTION_KEY", ""),
		VaultAddr:     e.str("RADCRED_VAULT_ADDR", ""),
		VaultToken:    e.str("RADCRED_VAULT_TOKEN", ""),
		VaultKeyPath:  e.str("RADCRED_VAULT_KEY_PATH", "secret/data/radcred/encryption-key"),
		VaultKeyField: e.str("RADCRED_VAULT_KEY_FIELD", "value"),

		ProviderURL:     e.required("RADCRED_PROVIDER_URL"),
		ProviderToken:   e.required("RADCRED_PROVIDER_TOKEN"),
		ProviderTimeout: e.duration("RADCRED_PROVIDER_TIMEOUT", 15*time.Second),

		UsernamePrefix: e.str("RADCRED_USERNAME_PREFIX", "sub"),
		SecretStyle:    strings.ToLower(e.str("RADCRED_SECRET_STYLE", "friendly")),
		SecretLength:   e.integer("RADCRED_SECRET_LENGTH", 12),

		RetryInterval:    e.duration("RADCRED_RETRY_INTERVAL", time.Minute),
		RetryMaxAttempts: e.integer("RADCRED_RETRY_MAX_ATTEMPTS", 5),
		RetryBaseDelay:   e.duration("RADCRED_RETRY_BASE_DELAY", 30*time.Second),
		RetryMaxDelay:    e.duration("RADCRED_RETRY_MAX_DELAY", 30*time.Minute),

		RedisAddr:     e.str("RADCRED_REDIS_ADDR", ""),
		RedisPassword: e.str("RADCRED_REDIS_PASSWORD", ""),
		RedisDB:       e.integer("RADCRED_REDIS_DB", 0),
		LockTTL:       e.duration("RADCRED_LOCK_TTL", 60*time.Second),
	}

	tz := e.str("RADCRED_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		errs.Set("RADCRED_TIMEZONE", fmt.Errorf("unknown time zone %q: %w", tz, err))
	}
	cfg.Location = loc

	cfg.validate(errs)

	if err := errs.AsError(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate(errs errsx.Map) {
	switch c.DBDriver {
	case DriverSQLite:
	case DriverPostgres:
		if c.PostgresDSN == "" {
			errs.Set("RADCRED_POSTGRES_DSN", fmt.Errorf("required when RADCRED_DB_DRIVER is %s", DriverPostgres))
		}
	default:
		errs.Set("RADCRED_DB_DRIVER", fmt.Errorf("must be %s or %s, got %q", DriverSQLite, DriverPostgres, c.DBDriver))
	}

	switch c.KeySource {
	case KeySourceEnv:
		if c.EncryptionKey == "" {
			errs.Set("RADCRED_ENCRYPTION_KEY", fmt.Errorf("required when RADCRED_KEY_SOURCE is %s", KeySourceEnv))
		}
	case KeySourceVault:
		if c.VaultAddr == "" {
			errs.Set("RADCRED_VAULT_ADDR", fmt.Errorf("required when RADCRED_KEY_SOURCE is %s", KeySourceVault))
		}
		if c.VaultToken == "" {
			errs.Set("RADCRED_VAULT_TOKEN", fmt.Errorf("required when RADCRED_KEY_SOURCE is %s", KeySourceVault))
		}
	default:
		errs.Set("RADCRED_KEY_SOURCE", fmt.Errorf("must be %s or %s, got %q", KeySourceEnv, KeySourceVault, c.KeySource))
	}

	if c.ProviderURL != "" {
		if u, err := url.Parse(c.ProviderURL); err != nil || !u.IsAbs() || u.Host == "" {
			errs.Set("RADCRED_PROVIDER_URL", fmt.Errorf("must be an absolute URL, got %q", c.ProviderURL))
		}
	}
	if c.ProviderTimeout < time.Second || c.ProviderTimeout > time.Minute {
		errs.Set("RADCRED_PROVIDER_TIMEOUT", fmt.Errorf("must be between 1s and 60s, got %s", c.ProviderTimeout))
	}

	if c.SecretStyle != "friendly" && c.SecretStyle != "hex" {
		errs.Set("RADCRED_SECRET_STYLE", fmt.Errorf("must be friendly or hex, got %q", c.SecretStyle))
	}
	if c.SecretLength < 8 || c.SecretLength > 128 {
		errs.Set("RADCRED_SECRET_LENGTH", fmt.Errorf("must be between 8 and 128, got %d", c.SecretLength))
	}

	if c.RetryInterval <= 0 {
		errs.Set("RADCRED_RETRY_INTERVAL", fmt.Errorf("must be positive, got %s", c.RetryInterval))
	}
	if c.RetryMaxAttempts < 1 {
		errs.Set("RADCRED_RETRY_MAX_ATTEMPTS", fmt.Errorf("must be at least 1, got %d", c.RetryMaxAttempts))
	}
	if c.RetryBaseDelay <= 0 {
		errs.Set("RADCRED_RETRY_BASE_DELAY", fmt.Errorf("must be positive, got %s", c.RetryBaseDelay))
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		errs.Set("RADCRED_RETRY_MAX_DELAY", fmt.Errorf("must not be below RADCRED_RETRY_BASE_DELAY, got %s", c.RetryMaxDelay))
	}

	if c.HasRedis() && c.LockTTL <= 0 {
		errs.Set("RADCRED_LOCK_TTL", fmt.Errorf("must be positive, got %s", c.LockTTL))
	}
}

// env reads variables and records parse failures in errs.
type env struct {
	errs errsx.Map
}

func (e env) str(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return def
}

func (e env) required(key string) string {
	v := e.str(key, "")
	if v == "" {
		e.errs.Set(key, fmt.Errorf("%s is required", key))
	}
	return v
}

func (e env) duration(key string, def time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		e.errs.Set(key, fmt.Errorf("invalid duration %q: %w", v, err))
		return def
	}
	return d
}

func (e env) integer(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		e.errs.Set(key, fmt.Errorf("invalid integer %q: %w", v, err))
		return def
	}
	return n
}
