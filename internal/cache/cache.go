// Package cache provides the TTL result cache shared by data tools.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/neurokid/insight-agents/internal/metrics"
)

// ErrCacheMiss is returned when a key is absent or expired.
var ErrCacheMiss = errors.New("cache miss")

// KeyPrefix namespaces every key written by this service.
const KeyPrefix = "neurokid:"

// Cache is a byte-oriented TTL cache.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Stats() Stats
}

// Stats reports hit and miss counters.
type Stats struct {
	Backend string  `json:"backend"`
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
	Size    int     `json:"size,omitempty"`
}

type counters struct {
	hits, misses atomic.Int64
}

func (c *counters) stats(backend string, size int) Stats {
	h, m := c.hits.Load(), c.misses.Load()
	s := Stats{Backend: backend, Hits: h, Misses: m, Size: size}
	if h+m > 0 {
		s.HitRate = float64(h) / float64(h+m)
	}
	return s
}

// RedisCache stores entries in Redis under KeyPrefix.
type RedisCache struct {
	client    *redis.Client
	counters  counters
	collector *metrics.Collector
	logger    *zap.Logger
}

// NewRedisCache connects to the Redis URL and verifies it with PING.
func NewRedisCache(ctx context.Context, url string, collector *metrics.Collector, logger *zap.Logger) (*RedisCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("redis cache connected", zap.String("addr", opts.Addr))
	return &RedisCache{
		client:    client,
		collector: collector,
		logger:    logger.With(zap.String("component", "cache")),
	}, nil
}

// Get returns the cached value or ErrCacheMiss.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, KeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		c.counters.misses.Add(1)
		c.collector.RecordCacheMiss("redis")
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	c.counters.hits.Add(1)
	c.collector.RecordCacheHit("redis")
	return val, nil
}

// Set stores value with the given TTL.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, KeyPrefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete removes key.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, KeyPrefix+key).Err()
}

// Stats returns hit/miss counters.
func (c *RedisCache) Stats() Stats { return c.counters.stats("redis", 0) }

// Close closes the Redis connection.
func (c *RedisCache) Close() error { return c.client.Close() }

type memEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryCache is a bounded in-process cache. When full, the entry closest to
// expiry is evicted.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]memEntry
	maxEntries int
	counters   counters
	collector  *metrics.Collector
	now        func() time.Time
}

// NewMemoryCache creates an in-process cache holding at most maxEntries.
func NewMemoryCache(maxEntries int, collector *metrics.Collector) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemoryCache{
		entries:    make(map[string]memEntry),
		maxEntries: maxEntries,
		collector:  collector,
		now:        time.Now,
	}
}

// Get returns the cached value or ErrCacheMiss.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok && c.now().After(e.expiresAt) {
		delete(c.entries, key)
		ok = false
	}
	if !ok {
		c.counters.misses.Add(1)
		c.collector.RecordCacheMiss("memory")
		return nil, ErrCacheMiss
	}
	c.counters.hits.Add(1)
	c.collector.RecordCacheHit("memory")
	return e.value, nil
}

// Set stores value with the given TTL.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = memEntry{value: value, expiresAt: c.now().Add(ttl)}
	return nil
}

func (c *MemoryCache) evictLocked() {
	var victim string
	var earliest time.Time
	for k, e := range c.entries {
		if victim == "" || e.expiresAt.Before(earliest) {
			victim, earliest = k, e.expiresAt
		}
	}
	delete(c.entries, victim)
}

// Delete removes key.
func (c *MemoryCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

// Stats returns hit/miss counters and the current size.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	size := len(c.entries)
	c.mu.Unlock()
	return c.counters.stats("memory", size)
}

// Hybrid uses Redis when it is reachable and the in-process cache otherwise.
type Hybrid struct {
	primary  Cache
	fallback Cache
	logger   *zap.Logger
}

// NewHybrid combines a primary (usually Redis, may be nil) with an in-memory fallback.
func NewHybrid(primary Cache, fallback Cache, logger *zap.Logger) *Hybrid {
	return &Hybrid{primary: primary, fallback: fallback, logger: logger}
}

// Get reads from the primary, falling back on transport errors.
func (h *Hybrid) Get(ctx context.Context, key string) ([]byte, error) {
	if h.primary != nil {
		val, err := h.primary.Get(ctx, key)
		if err == nil || errors.Is(err, ErrCacheMiss) {
			return val, err
		}
		h.logger.Warn("primary cache get failed, using fallback", zap.Error(err))
	}
	return h.fallback.Get(ctx, key)
}

// Set writes to the primary, falling back on transport errors.
func (h *Hybrid) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if h.primary != nil {
		err := h.primary.Set(ctx, key, value, ttl)
		if err == nil {
			return nil
		}
		h.logger.Warn("primary cache set failed, using fallback", zap.Error(err))
	}
	return h.fallback.Set(ctx, key, value, ttl)
}

// Delete removes key from both layers.
func (h *Hybrid) Delete(ctx context.Context, key string) error {
	if h.primary != nil {
		if err := h.primary.Delete(ctx, key); err != nil {
			h.logger.Warn("primary cache delete failed", zap.Error(err))
		}
	}
	return h.fallback.Delete(ctx, key)
}

// Stats reports the primary's counters when present.
func (h *Hybrid) Stats() Stats {
	if h.primary != nil {
		return h.primary.Stats()
	}
	return h.fallback.Stats()
}
