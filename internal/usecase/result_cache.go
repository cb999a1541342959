package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lookalike/backend/internal/domain"
	"github.com/lookalike/backend/internal/infrastructure/metrics"
)

// ComputeFunc produces a value on cache miss. cacheable=false returns the
// value to callers without storing it.
type ComputeFunc func(ctx context.Context) (value any, cacheable bool, err error)

// ResultCache memoises JSON-serialisable results in a CacheRepository.
// Concurrent misses for one key run compute once.
type ResultCache struct {
	cache   domain.CacheRepository
	ttl     time.Duration
	group   singleflight.Group
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewResultCache creates a result cache with a default TTL
func NewResultCache(cache domain.CacheRepository, ttl time.Duration, logger *zap.Logger, m *metrics.Metrics) *ResultCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultCache{
		cache:   cache,
		ttl:     ttl,
		logger:  logger.Named("result_cache"),
		metrics: m,
	}
}

// GetOrCompute decodes the cached value for key into dst, or runs compute,
// stores its result when cacheable and decodes it into dst. hit reports
// whether dst came from the cache. Cache failures fall through to compute.
func (c *ResultCache) GetOrCompute(ctx context.Context, key string, ttl time.Duration, dst any, compute ComputeFunc) (bool, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	if c.fromCache(ctx, key, dst) {
		c.metrics.IncResultCache(true)
		return true, nil
	}
	c.metrics.IncResultCache(false)

	// The flight is shared, so it must not end when the first caller goes away.
	flightCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		value, cacheable, err := compute(flightCtx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
		if cacheable {
			if err := c.cache.Set(flightCtx, key, data, ttl); err != nil {
				c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
		return data, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	if res.Err != nil {
		return false, res.Err
	}

	if err := json.Unmarshal(res.Val.([]byte), dst); err != nil {
		return false, fmt.Errorf("decode result: %w", err)
	}
	return false, nil
}

// Invalidate removes key from the cache
func (c *ResultCache) Invalidate(ctx context.Context, key string) error {
	return c.cache.Delete(ctx, key)
}

func (c *ResultCache) fromCache(ctx context.Context, key string, dst any) bool {
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		}
		return false
	}
	if err := json.Unmarshal(data, dst); err != nil {
		c.logger.Warn("discarding undecodable cache entry", zap.String("key", key), zap.Error(err))
		return false
	}
	return true
}
