package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/aqi-agent/internal/circuitbreaker"
	apperrors "github.com/aqi-agent/internal/errors"
	"github.com/aqi-agent/internal/models"
	"github.com/redis/go-redis/v9"
)

// StatsCache holds derived per-user stats between ledger commits.
// It never holds balances; those are always read from the ledger.
//
// Every invalidation bumps a per-user generation. GetStats reports the
// generation it saw and SetStats stores only while it is unchanged, so stats
// computed before a commit are never cached after that commit's invalidation.
type StatsCache interface {
	// GetStats returns cached stats, or nil on a miss, with the current generation.
	GetStats(ctx context.Context, userID string) (*models.VerificationStats, uint64, error)
	// SetStats caches stats computed after GetStats returned generation.
	// It is a no-op when the user was invalidated since.
	SetStats(ctx context.Context, userID string, stats *models.VerificationStats, generation uint64) error
	InvalidateStats(ctx context.Context, userID string) error
}

const (
	statsKeyPrefix      = "agent:stats:"
	statsGenerationKey  = "agent:stats-gen:"
	minGenerationMaxAge = time.Hour
)

// StatsKey returns the cache key of a user's stats
func StatsKey(userID string) string {
	return statsKeyPrefix + userID
}

// StatsGenerationKey returns the key of a user's stats generation
func StatsGenerationKey(userID string) string {
	return statsGenerationKey + userID
}

// RedisStatsCache stores stats as JSON with a TTL
type RedisStatsCache struct {
	redis *RedisCache
	ttl   time.Duration
	// generations outlive any read-compute-set window
	genTTL time.Duration
}

// NewRedisStatsCache creates a stats cache over Redis
func NewRedisStatsCache(redis *RedisCache, ttl time.Duration) *RedisStatsCache {
	genTTL := 10 * ttl
	if genTTL < minGenerationMaxAge {
		genTTL = minGenerationMaxAge
	}
	return &RedisStatsCache{redis: redis, ttl: ttl, genTTL: genTTL}
}

// GetStats reads a user's cached stats and generation
func (c *RedisStatsCache) GetStats(ctx context.Context, userID string) (*models.VerificationStats, uint64, error) {
	values, err := c.redis.Client().MGet(ctx, StatsKey(userID), StatsGenerationKey(userID)).Result()
	if err != nil {
		return nil, 0, apperrors.NewCacheError("get stats", err)
	}

	generation, err := parseGeneration(values[1])
	if err != nil {
		return nil, 0, apperrors.NewCacheError("decode stats generation", err)
	}

	raw, ok := values[0].(string)
	if !ok {
		return nil, generation, nil
	}
	var stats models.VerificationStats
	if err := json.Unmarshal([]byte(raw), &stats); err != nil {
		return nil, 0, apperrors.NewCacheError("decode stats", err)
	}
	return &stats, generation, nil
}

// SetStats caches a user's stats with the configured TTL, unless the user
// was invalidated after generation was read
func (c *RedisStatsCache) SetStats(ctx context.Context, userID string, stats *models.VerificationStats, generation uint64) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}

	genKey := StatsGenerationKey(userID)
	err = c.redis.Client().Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		var currentGen uint64
		if err == nil {
			if currentGen, err = parseGeneration(current); err != nil {
				return err
			}
		}
		if currentGen != generation {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, StatsKey(userID), data, c.ttl)
			return nil
		})
		return err
	}, genKey)
	if err != nil && !errors.Is(err, redis.TxFailedErr) {
		return apperrors.NewCacheError("set stats", err)
	}
	return nil
}

// InvalidateStats drops a user's cached stats and bumps the generation
func (c *RedisStatsCache) InvalidateStats(ctx context.Context, userID string) error {
	genKey := StatsGenerationKey(userID)
	_, err := c.redis.Client().TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, c.genTTL)
		pipe.Del(ctx, StatsKey(userID))
		return nil
	})
	if err != nil {
		return apperrors.NewCacheError("invalidate stats", err)
	}
	return nil
}

func parseGeneration(v interface{}) (uint64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, nil
	}
	return strconv.ParseUint(s, 10, 64)
}

// GuardedStatsCache skips the wrapped cache while its circuit is open, so an
// unreachable Redis costs one refused call instead of a dial timeout.
// Refused calls behave as misses. Entries whose invalidation was refused
// stay until their TTL.
type GuardedStatsCache struct {
	inner   StatsCache
	breaker *circuitbreaker.CircuitBreaker
}

// NewGuardedStatsCache wraps a stats cache with a circuit breaker
func NewGuardedStatsCache(inner StatsCache, breaker *circuitbreaker.CircuitBreaker) *GuardedStatsCache {
	return &GuardedStatsCache{inner: inner, breaker: breaker}
}

// GetStats reads through the breaker
func (c *GuardedStatsCache) GetStats(ctx context.Context, userID string) (*models.VerificationStats, uint64, error) {
	var stats *models.VerificationStats
	var generation uint64
	err := c.breaker.Execute(func() error {
		var err error
		stats, generation, err = c.inner.GetStats(ctx, userID)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return nil, 0, nil
	}
	return stats, generation, err
}

// SetStats writes through the breaker
func (c *GuardedStatsCache) SetStats(ctx context.Context, userID string, stats *models.VerificationStats, generation uint64) error {
	return ignoreOpen(c.breaker.Execute(func() error {
		return c.inner.SetStats(ctx, userID, stats, generation)
	}))
}

// InvalidateStats deletes through the breaker
func (c *GuardedStatsCache) InvalidateStats(ctx context.Context, userID string) error {
	return ignoreOpen(c.breaker.Execute(func() error {
		return c.inner.InvalidateStats(ctx, userID)
	}))
}

func ignoreOpen(err error) error {
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) {
		return nil
	}
	return err
}
