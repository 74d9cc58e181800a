// Package cache provides the Query Engine's optional result cache: an L1
// in-process LRU backed by an L2 Redis tier, following the teacher's
// internal/cache.MultiLevelCache split between pkg/cache.RedisCache and
// the LRU front.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Cache.Get when key is absent, mirroring the
// teacher's cache.ErrNotFound sentinel.
var ErrNotFound = errors.New("taskcore: key not found in cache")

// Cache is the narrow interface the Query Engine depends on. RedisCache
// implements it directly; MultiLevelCache wraps an instance of it as its
// L2 tier.
type Cache interface {
	Get(ctx context.Context, key string, value interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}
