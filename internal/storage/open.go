package storage

import (
	"context"
	"fmt"

	"github.com/aqi-agent/internal/circuitbreaker"
	"github.com/aqi-agent/internal/config"
)

// Backends holds the storage the binaries run against
type Backends struct {
	Ledger     Ledger
	StatsCache StatsCache // nil when Redis is disabled

	closers []func()
}

// Open connects the configured ledger driver and, when enabled, the Redis stats cache.
// Postgres migrations run first when migrate is set.
func Open(ctx context.Context, cfg *config.Config, migrate bool) (*Backends, error) {
	b := &Backends{}

	switch cfg.Database.Driver {
	case config.DriverMemory:
		b.Ledger = NewMemoryLedger()
	case config.DriverPostgres:
		if migrate {
			if err := RunMigrations(&cfg.Database); err != nil {
				return nil, err
			}
		}
		db, err := NewPostgresDB(ctx, &cfg.Database.Postgres)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, db.Close)
		b.Ledger = NewPostgresLedger(db)
	default:
		return nil, fmt.Errorf("unknown ledger driver: %s", cfg.Database.Driver)
	}

	if cfg.Database.Redis.Enabled {
		redis, err := NewRedisCache(ctx, &cfg.Database.Redis)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = redis.Close() })
		b.StatsCache = NewGuardedStatsCache(
			NewRedisStatsCache(redis, cfg.Cache.StatsTTL),
			circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig("redis-stats")),
		)
	}

	return b, nil
}

// Close releases every connection, newest first
func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
	b.closers = nil
}
