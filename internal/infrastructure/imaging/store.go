package imaging

import (
	"context"
	"errors"
	"fmt"
	"image"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lookalike/backend/internal/domain"
	"github.com/lookalike/backend/internal/infrastructure/metrics"
)

// Fetcher retrieves a decoded image
type Fetcher interface {
	Fetch(ctx context.Context, src string) (image.Image, error)
}

// HistogramStore serves image histograms by URL, caching computed histograms
// and sharing one download among concurrent requests for the same URL.
type HistogramStore struct {
	fetcher Fetcher
	cache   domain.CacheRepository
	ttl     time.Duration
	group   singleflight.Group
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewHistogramStore creates a store. cache may be nil to disable caching.
func NewHistogramStore(fetcher Fetcher, cache domain.CacheRepository, ttl time.Duration, logger *zap.Logger, m *metrics.Metrics) *HistogramStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistogramStore{
		fetcher: fetcher,
		cache:   cache,
		ttl:     ttl,
		logger:  logger.Named("imaging"),
		metrics: m,
	}
}

// Histogram returns the histogram of the image at src
func (s *HistogramStore) Histogram(ctx context.Context, src string) (*domain.Histogram, error) {
	key := "histogram:" + src
	if h, ok := s.cached(ctx, key); ok {
		return h, nil
	}

	// The shared download must not die with whichever caller started it
	ch := s.group.DoChan(src, func() (any, error) {
		return s.load(context.WithoutCancel(ctx), key, src)
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", domain.ErrImageUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.Histogram), nil
	}
}

func (s *HistogramStore) cached(ctx context.Context, key string) (*domain.Histogram, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrCacheMiss) {
			s.logger.Warn("histogram cache read failed", zap.String("key", key), zap.Error(err))
		}
		return nil, false
	}
	h, err := decodeHistogram(data)
	if err != nil {
		s.logger.Warn("discarding corrupt cached histogram", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	return h, true
}

func (s *HistogramStore) load(ctx context.Context, key, src string) (*domain.Histogram, error) {
	img, err := s.fetcher.Fetch(ctx, src)
	if err != nil {
		s.metrics.IncImageFailure()
		s.logger.Warn("image unavailable", zap.String("src", src), zap.Error(err))
		if !errors.Is(err, domain.ErrImageUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrImageUnavailable, err)
		}
		return nil, err
	}

	h := Compute(img)

	if s.cache != nil {
		if data, err := encodeHistogram(h); err == nil {
			if err := s.cache.Set(ctx, key, data, s.ttl); err != nil {
				s.logger.Warn("histogram cache write failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return h, nil
}
