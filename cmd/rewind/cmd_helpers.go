// Purpose: Provide CLI error formatting, config/backend wiring and JSON
// output helpers shared by every subcommand.
// Exports: none (package-private helpers).
// Role: Shared plumbing between cobra commands and the engine library.
// Invariants: exitErr exits 2 on input errors, 3 on data errors, 1 otherwise.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/contestops/rewind/internal/cache"
	"github.com/contestops/rewind/internal/config"
	"github.com/contestops/rewind/internal/rewind"
	"github.com/contestops/rewind/internal/store"
)

func exitErr(err error, opts *globalFlags) {
	fmt.Fprintln(os.Stderr, "error:", err)
	if opts == nil || !opts.Quiet {
		if rewind.IsSnapshotExists(err) {
			fmt.Fprintln(os.Stderr, "hint: a snapshot already exists at that timestamp; `rewind snapshot rm` it first")
		} else if strings.Contains(err.Error(), "parse database url") || strings.Contains(err.Error(), "DATABASE_URL") {
			fmt.Fprintln(os.Stderr, "hint: set DATABASE_URL or pass --database-url with the postgres backend")
		}
	}
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	var inputErr *rewind.InputError
	if errors.As(err, &inputErr) {
		return 2
	}
	var dataErr *rewind.DataError
	if errors.As(err, &dataErr) {
		return 3
	}
	return 1
}

// resolveConfig loads env configuration and lets set flags win. Validation
// runs after the overrides so a flag can complete an env-selected backend.
func resolveConfig(opts globalFlags) (config.Config, error) {
	cfg, err := config.Parse()
	if err != nil {
		return config.Config{}, err
	}
	if opts.Backend != "" {
		cfg.Backend = opts.Backend
	}
	if opts.DataDir != "" {
		cfg.DataDir = opts.DataDir
	}
	if opts.DatabaseURL != "" {
		cfg.DatabaseURL = opts.DatabaseURL
	}
	if opts.RedisAddr != "" {
		cfg.RedisAddr = opts.RedisAddr
	}
	return cfg, cfg.Validate()
}

// openBackend constructs the configured storage backend. Postgres gets its
// schema ensured on every open; that DDL is idempotent.
func openBackend(ctx context.Context, cfg config.Config) (store.Backend, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "file":
		return store.NewFileStore(cfg.DataDir)
	case "postgres":
		pg, err := store.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(ctx, rewind.CollectionSpecs()...); err != nil {
			pg.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}

// openEngine wires a ready engine plus its cleanup. The Redis cache is
// attached only when an address is configured; a dead cache is a startup
// error rather than a silent slow path.
func openEngine(ctx context.Context, opts globalFlags) (*rewind.Engine, func(), error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	data := rewind.NewDataStore(backend)

	engineOpts := rewind.Options{
		BaseInterval:  cfg.BaseInterval,
		DeltaInterval: cfg.DeltaInterval,
		Logger:        slog.Default(),
	}
	cleanup := func() { data.Close() }

	if cfg.RedisAddr != "" {
		pages, err := cache.New(ctx, redisURL(cfg.RedisAddr), cfg.CacheTTL)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		engineOpts.Cache = pages
		cleanup = func() {
			pages.Close()
			data.Close()
		}
	}
	return rewind.New(data, engineOpts), cleanup, nil
}

// redisURL accepts either a bare host:port or a full redis:// URL.
func redisURL(addr string) string {
	if strings.Contains(addr, "://") {
		return addr
	}
	return "redis://" + addr
}

// writeJSON prints v as indented JSON; the one JSON emitter of the CLI.
func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
