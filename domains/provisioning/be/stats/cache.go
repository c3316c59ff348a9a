// Package stats caches queue statistics in Redis. The cache is advisory: every read
// falls back to the store when Redis is unavailable.
package stats

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/zenGate-Global/palmyra-provisioning/domains/provisioning/be/service"
)

const (
	defaultKey = "palmyra:provisioning:stats"
	defaultTTL = 30 * time.Second
)

// Cache implements service.StatsCache on Redis.
type Cache struct {
	client redis.UniversalClient
	locker *redislock.Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewCache wraps client. keyPrefix namespaces the cache per environment.
func NewCache(client redis.UniversalClient, keyPrefix string, ttl time.Duration, logger *zap.Logger) *Cache {
	if client == nil {
		panic("stats cache requires redis client")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	key := defaultKey
	if keyPrefix != "" {
		key = keyPrefix + ":" + defaultKey
	}
	return &Cache{
		client: client,
		locker: redislock.New(client),
		key:    key,
		ttl:    ttl,
		logger: logger,
	}
}

// Get serves cached stats or computes and stores them.
func (c *Cache) Get(ctx context.Context, compute func(ctx context.Context) (service.Stats, error)) (service.Stats, error) {
	raw, err := c.client.Get(ctx, c.key).Bytes()
	switch {
	case err == nil:
		var stats service.Stats
		if err := json.Unmarshal(raw, &stats); err == nil {
			return stats, nil
		}
		c.logger.Warn("discarding unreadable cached stats", zap.String("key", c.key))
	case errors.Is(err, redis.Nil):
	default:
		c.logger.Warn("stats cache read failed", zap.Error(err))
	}

	stats, err := compute(ctx)
	if err != nil {
		return service.Stats{}, err
	}
	c.store(ctx, stats)
	return stats, nil
}

// Invalidate drops the cached value; the next Get recomputes it.
func (c *Cache) Invalidate(ctx context.Context) {
	if err := c.client.Del(ctx, c.key).Err(); err != nil {
		c.logger.Warn("stats cache invalidate failed", zap.Error(err))
	}
}

// Refresh recomputes the cached value. Only one replica refreshes at a time; the others
// return immediately with refreshed=false.
func (c *Cache) Refresh(ctx context.Context, compute func(ctx context.Context) (service.Stats, error)) (refreshed bool, err error) {
	lock, err := c.locker.Obtain(ctx, c.key+":refresh", c.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer func() {
		if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			c.logger.Warn("release stats refresh lock", zap.Error(releaseErr))
		}
	}()

	stats, err := compute(ctx)
	if err != nil {
		return false, err
	}
	c.store(ctx, stats)
	return true, nil
}

func (c *Cache) store(ctx context.Context, stats service.Stats) {
	raw, err := json.Marshal(stats)
	if err != nil {
		c.logger.Warn("encode stats", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.key, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("stats cache write failed", zap.Error(err))
	}
}

var _ service.StatsCache = (*Cache)(nil)
