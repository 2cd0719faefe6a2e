package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-gl/internal/accounting"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-gl/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-gl/internal/platform/db"
)

// Backends holds the connections a process opened from Config.
type Backends struct {
	Pool   *pgxpool.Pool
	Redis  *redis.Client
	logger *slog.Logger
}

// OpenBackends connects to Postgres when the ledger is persisted and to Redis when
// reachable. A missing Redis is logged; close mutexes and job fan-out are then skipped.
func OpenBackends(ctx context.Context, cfg *Config, logger *slog.Logger) (*Backends, error) {
	b := &Backends{logger: logger}
	if cfg.Storage == StoragePostgres {
		pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
		if err != nil {
			return nil, err
		}
		b.Pool = pool
	}
	client, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable", slog.String("addr", cfg.RedisAddr), slog.Any("error", err))
	} else {
		b.Redis = client
	}
	return b, nil
}

// Ping checks every opened backend.
func (b *Backends) Ping(ctx context.Context) error {
	if b.Pool != nil {
		if err := b.Pool.Ping(ctx); err != nil {
			return fmt.Errorf("postgres: %w", err)
		}
	}
	if b.Redis != nil {
		if err := b.Redis.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}

// Close releases the connections.
func (b *Backends) Close() {
	if b == nil {
		return
	}
	if b.Redis != nil {
		if err := b.Redis.Close(); err != nil {
			b.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if b.Pool != nil {
		b.Pool.Close()
	}
}

// Storage returns the ledger storage selected by GL_STORAGE.
func (b *Backends) Storage(cfg *Config, logger *slog.Logger) accounting.Storage {
	if cfg.Storage == StorageMemory || b.Pool == nil {
		return accounting.MemoryStorage(logger)
	}
	return accounting.PostgresStorage(b.Pool)
}

// EngineDeps carries the optional collaborators of the engine.
type EngineDeps struct {
	Metrics  accounting.Metrics
	Notifier periods.Notifier
}

// NewEngine builds the posting engine from configuration and preloads GL_COMPANIES.
// Sub-account masters live in the document modules, so every module trusts the
// references it submits.
func NewEngine(ctx context.Context, cfg *Config, b *Backends, logger *slog.Logger, deps EngineDeps) (*accounting.Engine, error) {
	modules, err := cfg.GLModules()
	if err != nil {
		return nil, err
	}
	opts := []accounting.Option{accounting.WithLogger(logger)}
	if deps.Metrics != nil {
		opts = append(opts, accounting.WithMetrics(deps.Metrics))
	}
	if deps.Notifier != nil {
		opts = append(opts, accounting.WithNotifier(deps.Notifier))
	}
	if b != nil && b.Redis != nil {
		opts = append(opts, accounting.WithCloseMutex(periods.NewRedisMutex(b.Redis, 0)))
	}
	for _, m := range modules {
		opts = append(opts, accounting.WithSubAccountResolver(m, journals.EchoResolver))
	}
	engine, err := accounting.NewEngine(b.Storage(cfg, logger), accounting.Config{
		Calendar:     cfg.Calendar(),
		Modules:      modules,
		LockTimeout:  cfg.LockTimeout,
		DrainTimeout: cfg.DrainTimeout,
	}, opts...)
	if err != nil {
		return nil, err
	}
	if err := engine.Preload(ctx, cfg.Companies...); err != nil {
		return nil, fmt.Errorf("preload companies: %w", err)
	}
	return engine, nil
}
