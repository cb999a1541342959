package usecase

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lookalike/backend/internal/domain"
)

// CatalogSource provides the current catalog
type CatalogSource interface {
	FetchCatalog(ctx context.Context, sourceURL, searchTerm string) *domain.Catalog
}

// NewSimilarityPipeline returns the job pipeline: load the catalog for the
// request, find the selected product and rank the others against it.
func NewSimilarityPipeline(catalogs CatalogSource, ranker *Ranker, policy RankPolicy) Pipeline {
	return func(ctx context.Context, req domain.JobRequest) (*domain.Recommendation, error) {
		catalog := catalogs.FetchCatalog(ctx, req.SourceURL, req.SearchTerm)
		selected, err := GetProduct(catalog, req.ProductID)
		if err != nil {
			return nil, err
		}
		return ranker.Rank(ctx, selected, catalog.Products, policy)
	}
}

// RecommendationServiceConfig holds configuration for the recommendation service
type RecommendationServiceConfig struct {
	SourceURL   string
	PageSize    int
	PartialWait time.Duration
	CacheTTL    time.Duration
	Policy      RankPolicy
}

// RecommendationService serves paginated catalog views with similar
// products computed in the background
type RecommendationService struct {
	catalogs    CatalogSource
	ranker      *Ranker
	jobs        *JobRunner
	results     *ResultCache
	sourceURL   string
	pageSize    int
	partialWait time.Duration
	cacheTTL    time.Duration
	policy      RankPolicy
	logger      *zap.Logger
}

// NewRecommendationService creates a new recommendation service with dependencies
func NewRecommendationService(
	catalogs CatalogSource,
	ranker *Ranker,
	jobs *JobRunner,
	results *ResultCache,
	config RecommendationServiceConfig,
	logger *zap.Logger,
) *RecommendationService {
	pageSize := config.PageSize
	if pageSize <= 0 {
		pageSize = 10
	}
	partialWait := config.PartialWait
	if partialWait <= 0 {
		partialWait = 1500 * time.Millisecond
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RecommendationService{
		catalogs:    catalogs,
		ranker:      ranker,
		jobs:        jobs,
		results:     results,
		sourceURL:   config.SourceURL,
		pageSize:    pageSize,
		partialWait: partialWait,
		cacheTTL:    config.CacheTTL,
		policy:      config.Policy,
		logger:      logger.Named("recommendations"),
	}
}

// Recommend returns one catalog page with the selected product and its
// similar products. Pages whose similar products are complete are cached.
// Flow: check cache -> fetch catalog -> paginate -> submit job -> bounded wait -> cache if ready
func (s *RecommendationService) Recommend(ctx context.Context, query domain.RecommendationQuery) (*domain.RecommendationPage, error) {
	if query.Page < 1 {
		return nil, fmt.Errorf("%w: page must be at least 1", domain.ErrInvalidRequest)
	}
	if query.ProductID < 0 {
		return nil, fmt.Errorf("%w: invalid product id", domain.ErrInvalidRequest)
	}

	var page domain.RecommendationPage
	hit, err := s.results.GetOrCompute(ctx, s.cacheKey(query), s.cacheTTL, &page,
		func(ctx context.Context) (any, bool, error) {
			p, err := s.buildPage(ctx, query)
			if err != nil {
				return nil, false, err
			}
			return p, p.Similar.State == domain.JobReady, nil
		})
	if err != nil {
		return nil, err
	}

	page.Source = "computed"
	if hit {
		page.Source = "cache"
	}
	return &page, nil
}

// cacheKey creates the cache key for a query. The search term is folded
// exactly as the title filter folds it, so two keys are equal only when the
// filter selects the same products.
// Format: "recommendations:{escaped_query}:{page}:{product_id}"
func (s *RecommendationService) cacheKey(query domain.RecommendationQuery) string {
	term := url.QueryEscape(strings.ToLower(query.Query))
	return fmt.Sprintf("recommendations:%s:%d:%d", term, query.Page, query.ProductID)
}

func (s *RecommendationService) buildPage(ctx context.Context, query domain.RecommendationQuery) (*domain.RecommendationPage, error) {
	catalog := s.catalogs.FetchCatalog(ctx, s.sourceURL, query.Query)
	if catalog.Len() == 0 {
		return nil, domain.ErrNoProducts
	}

	numPages := (catalog.Len() + s.pageSize - 1) / s.pageSize
	if query.Page > numPages {
		return nil, fmt.Errorf("%w: page %d of %d", domain.ErrInvalidRequest, query.Page, numPages)
	}
	start := (query.Page - 1) * s.pageSize
	end := min(start+s.pageSize, catalog.Len())
	listing := catalog.Products[start:end]

	selectedID := query.ProductID
	if selectedID == 0 {
		selectedID = listing[0].ID
	}
	selected, err := GetProduct(catalog, selectedID)
	if err != nil {
		return nil, err
	}

	handle, err := s.jobs.Submit(domain.JobRequest{
		ProductID:  selected.ID,
		SourceURL:  s.sourceURL,
		SearchTerm: query.Query,
	})
	if err != nil {
		return nil, err
	}
	// The page only reports the job; it does not hold it once the wait is over.
	defer func() {
		if err := s.jobs.Detach(handle.ID, handle.Ref); err != nil {
			s.logger.Debug("detach page job", zap.String("job_id", handle.ID), zap.Error(err))
		}
	}()

	waitCtx, cancel := context.WithTimeout(ctx, s.partialWait)
	defer cancel()
	status, err := s.jobs.Wait(waitCtx, handle.ID)
	if err != nil {
		return nil, err
	}

	page := &domain.RecommendationPage{
		Page:       query.Page,
		NumPages:   numPages,
		SearchTerm: query.Query,
		Products:   make([]domain.ProductSummary, 0, len(listing)),
		Selected:   summarize(selected),
		Similar:    similarSection(status),
	}
	for i := range listing {
		page.Products = append(page.Products, summarize(&listing[i]))
	}
	return page, nil
}

// SimilarNow ranks similar products synchronously. An empty mode uses the
// configured ranking mode.
func (s *RecommendationService) SimilarNow(ctx context.Context, productID int64, query, mode string) (*domain.Recommendation, error) {
	policy := s.policy
	if mode != "" {
		m, err := ParseRankMode(mode)
		if err != nil {
			return nil, err
		}
		policy.Mode = m
	}

	catalog := s.catalogs.FetchCatalog(ctx, s.sourceURL, query)
	if catalog.Len() == 0 {
		return nil, domain.ErrNoProducts
	}
	selected, err := GetProduct(catalog, productID)
	if err != nil {
		return nil, err
	}
	return s.ranker.Rank(ctx, selected, catalog.Products, policy)
}

// SubmitJob starts a background job for productID. The receipt carries the
// reference the caller passes to ReleaseJob.
func (s *RecommendationService) SubmitJob(ctx context.Context, productID int64, query string) (domain.JobReceipt, error) {
	catalog := s.catalogs.FetchCatalog(ctx, s.sourceURL, query)
	if catalog.Len() == 0 {
		return domain.JobReceipt{}, domain.ErrNoProducts
	}
	if _, err := GetProduct(catalog, productID); err != nil {
		return domain.JobReceipt{}, err
	}

	handle, err := s.jobs.Submit(domain.JobRequest{
		ProductID:  productID,
		SourceURL:  s.sourceURL,
		SearchTerm: query,
	})
	if err != nil {
		return domain.JobReceipt{}, err
	}
	status, err := s.jobs.Poll(handle.ID)
	if err != nil {
		return domain.JobReceipt{}, err
	}
	return domain.JobReceipt{JobStatus: status, Ref: handle.Ref}, nil
}

// JobStatus returns the status of a background job
func (s *RecommendationService) JobStatus(id string) (domain.JobStatus, error) {
	return s.jobs.Poll(id)
}

// ReleaseJob gives up the reference ref returned by SubmitJob
func (s *RecommendationService) ReleaseJob(id, ref string) error {
	return s.jobs.Release(id, ref)
}

func similarSection(status domain.JobStatus) domain.SimilarSection {
	section := domain.SimilarSection{
		JobID:    status.ID,
		State:    status.State,
		Products: []domain.SimilarProduct{},
		Error:    status.Error,
	}
	if status.State == domain.JobReady && status.Result != nil {
		section.Products = status.Result.Products
	}
	return section
}

func summarize(p *domain.Product) domain.ProductSummary {
	return domain.ProductSummary{
		ID:          p.ID,
		Title:       p.Title,
		ProductType: p.ProductType,
		Vendor:      p.Vendor,
		Tags:        p.Tags,
		Images:      p.Images,
	}
}
