package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/manenim/throttler/pkg/config"
	"github.com/manenim/throttler/pkg/limiter"
)

// backend is an opened store plus whatever must run or close with it.
type backend struct {
	store limiter.Store
	// sweep removes stale rows until ctx ends. Nil when not needed.
	sweep func(ctx context.Context) error
	close func() error
}

var sqlDrivers = map[string]string{
	limiter.DialectPostgres: "postgres",
	limiter.DialectMySQL:    "mysql",
	limiter.DialectSQLite:   "sqlite3",
}

func openBackend(cfg config.StoreConfig, log zerolog.Logger) (*backend, error) {
	switch cfg.Backend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store, err := limiter.NewRedisStore(client,
			limiter.WithPrefix(cfg.Redis.Prefix),
			limiter.WithTimeout(cfg.Redis.Timeout),
			limiter.WithTTL(cfg.Redis.TTL),
		)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("redis store at %s: %w", cfg.Redis.Addr, err)
		}
		log.Info().Str("addr", cfg.Redis.Addr).Str("prefix", cfg.Redis.Prefix).Msg("Using redis store")
		return &backend{store: store, close: client.Close}, nil

	case config.BackendSQL:
		db, err := sql.Open(sqlDrivers[cfg.SQL.Dialect], cfg.SQL.DSN)
		if err != nil {
			return nil, fmt.Errorf("open %s database: %w", cfg.SQL.Dialect, err)
		}
		store, err := limiter.NewSQLStore(db, cfg.SQL.Dialect)
		if err != nil {
			db.Close()
			return nil, err
		}
		log.Info().Str("dialect", cfg.SQL.Dialect).Msg("Using sql store")

		b := &backend{store: store, close: db.Close}
		if cfg.SQL.CleanupInterval > 0 {
			b.sweep = func(ctx context.Context) error {
				return sweepSQL(ctx, store, cfg.SQL.CleanupInterval, cfg.SQL.Retention, log)
			}
		}
		return b, nil

	default:
		log.Info().Msg("Using in-memory store")
		return &backend{store: limiter.NewMemoryStore(), close: func() error { return nil }}, nil
	}
}

func sweepSQL(ctx context.Context, store *limiter.SQLStore, every, retention time.Duration, log zerolog.Logger) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			n, err := store.DeleteBefore(ctx, now.Add(-retention))
			if err != nil {
				log.Err(err).Msg("Can't delete stale throttle state")
				continue
			}
			log.Debug().Int64("rows", n).Msg("Deleted stale throttle state")
		}
	}
}

// newLimiter builds a Limiter with every configured handle registered.
func newLimiter(cfg *config.Config, store limiter.Store, log zerolog.Logger, opts ...limiter.Option) (*limiter.Limiter, error) {
	handles, err := cfg.LimiterHandles()
	if err != nil {
		return nil, err
	}

	opts = append([]limiter.Option{
		limiter.WithLogger(log),
		limiter.WithBeforeThrottle(func(ctx context.Context, ev limiter.ThrottleEvent) error {
			zerolog.Ctx(ctx).Info().
				Str("handle", ev.Handle).
				Strs("key", ev.Key).
				Int64("threshold", ev.Threshold).
				Dur("interval", ev.Interval).
				Msg("Request throttled")
			return nil
		}),
	}, opts...)

	l, err := limiter.New(store, opts...)
	if err != nil {
		return nil, err
	}
	if err := l.ConfigureAll(handles); err != nil {
		return nil, err
	}
	return l, nil
}
