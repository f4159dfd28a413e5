package catalog

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/beltoft/restock/internal/redis"
)

func cacheKey(id int64) string {
	return fmt.Sprintf("catalog:product:%d", id)
}

// Cached is a read-through cache over a catalog Getter. Entries are busted
// when stock flips, so a job's stock recheck sees the fresh state.
type Cached struct {
	inner  Getter
	cache  *redis.Cache
	logger *zap.Logger
}

// NewCached wraps a Getter with the Redis cache.
func NewCached(inner Getter, cache *redis.Cache, logger *zap.Logger) *Cached {
	return &Cached{inner: inner, cache: cache, logger: logger}
}

// Get returns the cached product, falling back to the inner getter on a
// miss. Cache failures degrade to the inner getter rather than erroring.
func (c *Cached) Get(ctx context.Context, id int64) (*Product, error) {
	var p Product
	err := c.cache.GetJSON(ctx, cacheKey(id), &p)
	if err == nil {
		return &p, nil
	}
	if !errors.Is(err, redis.ErrCacheMiss) {
		c.logger.Warn("catalog cache read failed", zap.Error(err), zap.Int64("product_id", id))
	}

	fresh, err := c.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := c.cache.SetJSON(ctx, cacheKey(id), fresh); err != nil {
		c.logger.Warn("catalog cache write failed", zap.Error(err), zap.Int64("product_id", id))
	}
	return fresh, nil
}

// Invalidate drops cached entries for the given product ids.
func (c *Cached) Invalidate(ctx context.Context, ids ...int64) error {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		if id > 0 {
			keys = append(keys, cacheKey(id))
		}
	}
	if err := c.cache.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("invalidate products: %w", err)
	}
	return nil
}
