package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lookalike/backend/internal/domain"
	"github.com/lookalike/backend/internal/infrastructure/metrics"
)

// CatalogServiceConfig holds configuration for the catalog service
type CatalogServiceConfig struct {
	TTL time.Duration
}

// CatalogService serves the product catalog from a local snapshot while it
// is fresh and refreshes it from the remote storefront otherwise.
type CatalogService struct {
	client  domain.CatalogClient
	store   domain.SnapshotStore
	ttl     time.Duration
	now     func() time.Time
	group   singleflight.Group
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewCatalogService creates a new catalog service with dependencies
func NewCatalogService(
	client domain.CatalogClient,
	store domain.SnapshotStore,
	config CatalogServiceConfig,
	logger *zap.Logger,
	m *metrics.Metrics,
) *CatalogService {
	ttl := config.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &CatalogService{
		client:  client,
		store:   store,
		ttl:     ttl,
		now:     time.Now,
		logger:  logger.Named("catalog_service"),
		metrics: m,
	}
}

// FetchCatalog returns the current catalog. It never fails: when the remote
// is unavailable it serves the last snapshot, and with no snapshot an empty
// catalog. A fresh snapshot is returned as-is regardless of searchTerm.
func (s *CatalogService) FetchCatalog(ctx context.Context, sourceURL, searchTerm string) *domain.Catalog {
	snapshot := s.loadSnapshot(ctx)
	if snapshot != nil && s.now().Sub(snapshot.FetchedAt) < s.ttl {
		s.metrics.IncCatalogFetch("fresh_snapshot")
		return snapshot
	}

	key := sourceURL + "\x00" + searchTerm
	ch := s.group.DoChan(key, func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx), sourceURL, searchTerm, snapshot), nil
	})

	select {
	case res := <-ch:
		return res.Val.(*domain.Catalog)
	case <-ctx.Done():
		return s.fallback(snapshot, ctx.Err())
	}
}

func (s *CatalogService) loadSnapshot(ctx context.Context) *domain.Catalog {
	snapshot, modTime, err := s.store.Load(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrSnapshotNotFound) {
			s.logger.Warn("ignoring unreadable catalog snapshot", zap.Error(err))
		}
		return nil
	}
	snapshot.FetchedAt = modTime
	return snapshot
}

// refresh fetches the remote catalog, filters it and persists the result
func (s *CatalogService) refresh(ctx context.Context, sourceURL, searchTerm string, stale *domain.Catalog) *domain.Catalog {
	remote, err := s.client.FetchProducts(ctx, sourceURL)
	if err != nil {
		return s.fallback(stale, err)
	}

	catalog := filterCatalog(remote, searchTerm)
	catalog.FetchedAt = s.now()

	if err := s.store.Save(ctx, catalog); err != nil {
		s.logger.Error("failed to persist catalog snapshot", zap.Error(err))
	}

	s.metrics.IncCatalogFetch("remote")
	s.logger.Info("catalog refreshed",
		zap.String("source_url", sourceURL),
		zap.String("search_term", searchTerm),
		zap.Int("products", catalog.Len()),
	)
	return catalog
}

func (s *CatalogService) fallback(stale *domain.Catalog, cause error) *domain.Catalog {
	if stale != nil {
		s.metrics.IncCatalogFetch("stale_fallback")
		s.logger.Warn("serving stale catalog snapshot",
			zap.Time("fetched_at", stale.FetchedAt),
			zap.Error(cause),
		)
		return stale
	}
	s.metrics.IncCatalogFetch("empty")
	s.logger.Warn("catalog unavailable and no snapshot, serving empty catalog", zap.Error(cause))
	return domain.EmptyCatalog()
}

// filterCatalog keeps products whose title contains term (case-insensitive).
// An empty term keeps everything.
func filterCatalog(catalog *domain.Catalog, term string) *domain.Catalog {
	if term == "" {
		return &domain.Catalog{Products: catalog.Products}
	}
	out := &domain.Catalog{Products: make([]domain.Product, 0, len(catalog.Products))}
	for _, p := range catalog.Products {
		if matchesTitle(p.Title, term) {
			out.Products = append(out.Products, p)
		}
	}
	return out
}
