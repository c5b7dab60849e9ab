package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"procodus.dev/water-monitor/pkg/logger"
	"procodus.dev/water-monitor/pkg/metrics"
)

// LatestKey is the Redis hash holding the cached latest reading.
const LatestKey = "water-monitor:latest"

// LatestReadingField is the LatestKey field holding the reading as JSON.
const LatestReadingField = "reading"

// DefaultCacheTTL bounds how long a cached latest reading may be served.
const DefaultCacheTTL = time.Hour

// storeIfNewer replaces the cached reading only when the candidate sorts after
// the current one by (timestamp, id), the same order Latest uses.
var storeIfNewer = redis.NewScript(`
local ts = tonumber(ARGV[2])
local id = tonumber(ARGV[3])
local cur = redis.call('HMGET', KEYS[1], 'ts', 'id')
local curTs = tonumber(cur[1])
if curTs then
  local curID = tonumber(cur[2]) or 0
  if curTs > ts or (curTs == ts and curID >= id) then
    return 0
  end
end
redis.call('HSET', KEYS[1], 'reading', ARGV[1], 'ts', ARGV[2], 'id', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

// Cache is the subset of the go-redis client used by CachedStore.
// *redis.Client and *redis.ClusterClient satisfy it.
type Cache interface {
	redis.Scripter
	HGet(ctx context.Context, key, field string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// CacheConfig configures a CachedStore.
type CacheConfig struct {
	Store   ReadingStore
	Cache   Cache
	Logger  *slog.Logger
	TTL     time.Duration       // defaults to DefaultCacheTTL
	Metrics *metrics.APIMetrics // optional
}

// CachedStore serves Latest from Redis and delegates everything else.
// Cache writes are conditional on ordering, so a slow read can never replace
// a newer reading written by Append. Cache failures are logged and fall
// through to the wrapped store.
type CachedStore struct {
	inner   ReadingStore
	cache   Cache
	log     *slog.Logger
	ttl     time.Duration
	metrics *metrics.APIMetrics
}

var _ ReadingStore = (*CachedStore)(nil)

// NewCachedStore wraps cfg.Store with a latest-reading cache.
func NewCachedStore(cfg CacheConfig) (*CachedStore, error) {
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Cache == nil {
		return nil, errors.New("cache cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultCacheTTL
	}
	return &CachedStore{
		inner:   cfg.Store,
		cache:   cfg.Cache,
		log:     logger.ForComponent(cfg.Logger, "store-cache"),
		ttl:     cfg.TTL,
		metrics: cfg.Metrics,
	}, nil
}

// Append stores the reading and writes it through to the cache.
// If the write-through fails the key is dropped instead.
func (c *CachedStore) Append(ctx context.Context, r NewReading) (*Reading, error) {
	stored, err := c.inner.Append(ctx, r)
	if err != nil {
		return nil, err
	}
	if err := c.offer(ctx, stored); err != nil {
		c.log.Warn("failed to cache appended reading", "error", err)
		if derr := c.cache.Del(ctx, LatestKey).Err(); derr != nil {
			c.log.Warn("failed to invalidate latest reading", "error", derr)
		}
	}
	return stored, nil
}

// Latest returns the cached reading when present, otherwise reads through.
func (c *CachedStore) Latest(ctx context.Context) (*Reading, error) {
	raw, err := c.cache.HGet(ctx, LatestKey, LatestReadingField).Bytes()
	switch {
	case err == nil:
		var r Reading
		if jerr := json.Unmarshal(raw, &r); jerr == nil {
			c.lookup("hit")
			return &r, nil
		}
		c.log.Warn("discarding undecodable cached reading")
		c.lookup("error")
	case errors.Is(err, redis.Nil):
		c.lookup("miss")
	default:
		c.log.Warn("cache lookup failed", "error", err)
		c.lookup("error")
	}

	r, err := c.inner.Latest(ctx)
	if err != nil || r == nil {
		return r, err
	}

	if err := c.offer(ctx, r); err != nil {
		c.log.Warn("failed to cache latest reading", "error", err)
	}
	return r, nil
}

// offer caches r unless the cache already holds a reading at or after it.
func (c *CachedStore) offer(ctx context.Context, r *Reading) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return storeIfNewer.Run(ctx, c.cache, []string{LatestKey},
		string(raw), r.Timestamp.UnixMicro(), uint64(r.ID), c.ttl.Milliseconds()).Err()
}

// Recent is not cached.
func (c *CachedStore) Recent(ctx context.Context, limit int) ([]Reading, error) {
	return c.inner.Recent(ctx, limit)
}

func (c *CachedStore) lookup(result string) {
	if c.metrics != nil {
		c.metrics.CacheLookups.WithLabelValues(result).Inc()
	}
}
