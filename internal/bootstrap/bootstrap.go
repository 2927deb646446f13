// Package bootstrap holds the process wiring shared by the commands.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"txindex/internal/config"
	"txindex/internal/infrastructure/logging"
	"txindex/internal/infrastructure/mysql"
	"txindex/internal/infrastructure/sqlite"
	"txindex/internal/infrastructure/telemetry"
)

// Store is a record store that owns its connection.
type Store interface {
	mysql.Store
	Close() error
}

// InitLogging installs the default logger. defaultFile is used when LOG_FILE
// is unset; the returned func flushes and closes the log file.
func InitLogging(cfg config.Config, defaultFile string) func() {
	file := cfg.Log.File
	if file == "" {
		file = defaultFile
	}
	closer, err := logging.Init(logging.Config{
		Level:      cfg.Log.Level,
		File:       file,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		slog.Error("logger init error", "err", err)
	}
	return func() {
		if closer != nil {
			_ = closer.Close()
		}
	}
}

// InitTracing starts the tracer provider. Failures only disable tracing.
func InitTracing(serviceName string, cfg config.Config) func() {
	shutdown, err := telemetry.InitTracer(context.Background(), serviceName, cfg.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing init error", "err", err)
		return func() {}
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			slog.Warn("tracing shutdown error", "err", err)
		}
	}
}

// OpenStore opens the configured record store.
func OpenStore(cfg config.Config) (Store, error) {
	return openStore(cfg, cfg.DBDSN)
}

// OpenStateStore opens the store that keeps block hashes and progress for
// the mapper, which may live apart from the record database.
func OpenStateStore(cfg config.Config) (Store, error) {
	return openStore(cfg, cfg.StateDBDSN)
}

func openStore(cfg config.Config, dsn string) (Store, error) {
	switch cfg.DBDriver {
	case config.DriverSQLite:
		repo, err := sqlite.NewRepository(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		return repo, nil
	case config.DriverMySQL, "":
		repo, err := mysql.NewRepository(dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql: %w", err)
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported db driver %q", cfg.DBDriver)
	}
}

// WithCache wraps store in the redis read-through cache when REDIS_ADDR is
// set. A cache that cannot be reached is logged and skipped.
func WithCache(store Store, cfg config.Config) mysql.Store {
	cached, err := mysql.NewCachedRepository(store, mysql.CacheConfig{Addr: cfg.RedisAddr, TTL: cfg.CacheTTL})
	if err != nil {
		slog.Warn("redis cache disabled", "addr", cfg.RedisAddr, "err", err)
		return store
	}
	return cached
}

// CloseAll closes every closer, logging failures.
func CloseAll(closers ...io.Closer) {
	var errs []error
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("close error", "err", err)
	}
}
