// Package cache holds the run lock and the report cache.
// Both use Redis when caching is enabled and fall back to in-process versions otherwise.
package cache

import (
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/andresuchdata/autopo-forecast/internal/config"
)

// Cache bundles the report cache and run lock over one Redis client.
type Cache struct {
	Reports ReportCache
	Lock    RunLock

	client *redis.Client
}

// New connects to Redis when cfg.Enabled, otherwise returns the in-process lock and a noop report cache.
func New(cfg config.CacheConfig) (*Cache, error) {
	if !cfg.Enabled {
		return &Cache{Reports: NewNoopReportCache(), Lock: NewLocalRunLock()}, nil
	}

	client, err := newRedisClient(cfg)
	if err != nil {
		return nil, err
	}

	log.Info().Msg("redis cache enabled")

	return &Cache{
		Reports: NewRedisReportCache(client, ttlOrDefault(cfg.ReportTTLSeconds, defaultReportTTL)),
		Lock:    NewRedisRunLock(client, ttlOrDefault(cfg.LockTTLSeconds, defaultLockTTL)),
		client:  client,
	}, nil
}

// Close releases the Redis connection, if any.
func (c *Cache) Close() error {
	if c.client == nil {
		return nil
	}
	return c.client.Close()
}
