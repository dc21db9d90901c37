package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/sundayezeilo/linkgate/internal/config"
	"github.com/sundayezeilo/linkgate/internal/linkstore"
	"github.com/sundayezeilo/linkgate/internal/linkstore/migrations"
)

const janitorInterval = time.Minute

// backend is the selected link store plus what it takes to release it.
type backend struct {
	store   linkstore.Store
	expirer linkstore.Expirer // nil when the backend evicts expired records itself
	close   func(context.Context) error
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.Store.Backend {
	case config.BackendRedis:
		return openRedis(ctx, cfg.Redis, logger)
	case config.BackendPostgres:
		return openPostgres(ctx, cfg.Database, logger)
	default:
		logger.Warn("using in-memory link store; links are lost on restart")
		m := linkstore.NewMemory()
		return &backend{
			store:   m,
			expirer: m,
			close:   func(context.Context) error { return nil },
		}, nil
	}
}

// openRedis connects to Redis. Expired keys are evicted by Redis itself.
func openRedis(ctx context.Context, cfg config.RedisConfig, logger *slog.Logger) (*backend, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize

	logger.Info("connecting to redis", "addr", opts.Addr, "db", opts.DB)

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	logger.Info("redis connection established")

	return &backend{
		store: linkstore.NewRedis(client),
		close: func(context.Context) error { return client.Close() },
	}, nil
}

// openPostgres establishes a connection pool and applies pending migrations.
func openPostgres(ctx context.Context, cfg config.DatabaseConfig, logger *slog.Logger) (*backend, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns

	logger.Info("connecting to database",
		"host", cfg.Host,
		"port", cfg.Port,
		"database", cfg.Name,
	)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrations.Up(cfg.URL(), logger); err != nil {
		pool.Close()
		return nil, err
	}

	logger.Info("database connection established")

	pg := linkstore.NewPostgres(pool)
	return &backend{
		store:   pg,
		expirer: pg,
		close: func(context.Context) error {
			pool.Close()
			return nil
		},
	}, nil
}

func shutdownTimeout(cfg *config.Config) time.Duration {
	if cfg != nil && cfg.Server.ShutdownTimeout > 0 {
		return cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}
