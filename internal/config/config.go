// Package config resolves the process configuration: a best-effort .env
// load followed by plain environment variables. CLI flags override whatever
// is resolved here; the precedence is flags > env > .env > defaults.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults for everything a fresh checkout needs to run the file backend.
const (
	DefaultBackend       = "file"
	DefaultDataDir       = ".rewind"
	DefaultBaseInterval  = 120
	DefaultDeltaInterval = 10
	DefaultCacheTTL      = 15 * time.Second
)

// Config is the resolved process configuration.
type Config struct {
	Backend     string // file | postgres | memory
	DataDir     string // file backend root
	DatabaseURL string // postgres backend DSN
	RedisAddr   string // host:port; empty disables cache and worker queue

	BaseInterval  int64
	DeltaInterval int64
	CacheTTL      time.Duration
	MetricsAddr   string // worker scrape listener; empty disables
}

// Load resolves and validates the configuration in one step.
func Load() (Config, error) {
	cfg, err := Parse()
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// Parse reads .env from the working directory when present, then the
// environment, without validating the result. Callers that layer flag
// overrides on top validate after applying them. Malformed numeric values
// are errors, not silent fallbacks.
func Parse() (Config, error) {
	// Missing .env is the normal case, not a failure.
	_ = godotenv.Load()

	cfg := Config{
		Backend:       envOr("REWIND_BACKEND", DefaultBackend),
		DataDir:       envOr("REWIND_DATA_DIR", DefaultDataDir),
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		BaseInterval:  DefaultBaseInterval,
		DeltaInterval: DefaultDeltaInterval,
		CacheTTL:      DefaultCacheTTL,
		MetricsAddr:   os.Getenv("REWIND_METRICS_ADDR"),
	}

	var err error
	if cfg.BaseInterval, err = envInt64("REWIND_BASE_INTERVAL", cfg.BaseInterval); err != nil {
		return Config{}, err
	}
	if cfg.DeltaInterval, err = envInt64("REWIND_DELTA_INTERVAL", cfg.DeltaInterval); err != nil {
		return Config{}, err
	}
	if cfg.CacheTTL, err = envDuration("REWIND_CACHE_TTL", cfg.CacheTTL); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations no backend can serve.
func (c Config) Validate() error {
	switch c.Backend {
	case "file", "postgres", "memory":
	default:
		return fmt.Errorf("config: unknown backend %q (want file, postgres or memory)", c.Backend)
	}
	if c.Backend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("config: postgres backend requires DATABASE_URL")
	}
	if c.BaseInterval <= 0 || c.DeltaInterval <= 0 {
		return fmt.Errorf("config: snapshot intervals must be positive (base=%d delta=%d)",
			c.BaseInterval, c.DeltaInterval)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer", key, v)
	}
	return n, nil
}

// envDuration accepts either a Go duration string ("15s") or a bare number
// of seconds.
func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not a duration", key, v)
	}
	return d, nil
}
