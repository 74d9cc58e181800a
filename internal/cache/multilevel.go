package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/taskmesh/taskcore/internal/observability"
)

// MultiLevelConfig configures MultiLevelCache, trimmed from the teacher's
// internal/cache.MultiLevelCacheConfig to the fields taskcore wires up
// (there is no prefetch queue: the Query Engine's read shapes don't have
// the MCP context-graph fan-out the teacher prefetches across).
type MultiLevelConfig struct {
	L1MaxSize  int
	DefaultTTL time.Duration
}

func (c MultiLevelConfig) withDefaults() MultiLevelConfig {
	if c.L1MaxSize <= 0 {
		c.L1MaxSize = 1000
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 15 * time.Minute
	}
	return c
}

// MultiLevelCache fronts an L2 Cache with an in-process LRU, following the
// teacher's two-tier split: callers check L1 first and only fall through
// to L2 (and repopulate L1) on a miss.
type MultiLevelCache struct {
	l1      *lru.Cache[string, []byte]
	l2      Cache
	ttl     time.Duration
	metrics *observability.Metrics
}

// NewMultiLevelCache wraps l2 (typically a *RedisCache) with an L1 LRU of
// the configured size. metrics may be nil, in which case cache hits/misses
// go unrecorded.
func NewMultiLevelCache(l2 Cache, cfg MultiLevelConfig, metrics *observability.Metrics) (*MultiLevelCache, error) {
	cfg = cfg.withDefaults()
	l1, err := lru.New[string, []byte](cfg.L1MaxSize)
	if err != nil {
		return nil, fmt.Errorf("create L1 cache: %w", err)
	}
	return &MultiLevelCache{l1: l1, l2: l2, ttl: cfg.DefaultTTL, metrics: metrics}, nil
}

func (c *MultiLevelCache) recordHit(tier string) {
	if c.metrics != nil {
		c.metrics.CacheHits.WithLabelValues(tier).Inc()
	}
}

func (c *MultiLevelCache) recordMiss() {
	if c.metrics != nil {
		c.metrics.CacheMisses.Inc()
	}
}

func (c *MultiLevelCache) recordErr() {
	if c.metrics != nil {
		c.metrics.CacheErrors.Inc()
	}
}

func (c *MultiLevelCache) Get(ctx context.Context, key string, value interface{}) error {
	if data, ok := c.l1.Get(key); ok {
		c.recordHit("l1")
		return json.Unmarshal(data, value)
	}

	err := c.l2.Get(ctx, key, value)
	if err != nil {
		if err == ErrNotFound {
			c.recordMiss()
			return ErrNotFound
		}
		c.recordErr()
		return err
	}
	c.recordHit("l2")

	if raw, marshalErr := json.Marshal(value); marshalErr == nil {
		c.l1.Add(key, raw)
	}
	return nil
}

func (c *MultiLevelCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for %q: %w", key, err)
	}
	c.l1.Add(key, data)
	if err := c.l2.Set(ctx, key, value, ttl); err != nil {
		c.recordErr()
		return err
	}
	return nil
}

func (c *MultiLevelCache) Delete(ctx context.Context, key string) error {
	c.l1.Remove(key)
	return c.l2.Delete(ctx, key)
}

func (c *MultiLevelCache) Close() error {
	c.l1.Purge()
	return c.l2.Close()
}
