package usecase

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookalike/backend/internal/domain"
)

type serviceFixture struct {
	svc      *RecommendationService
	catalogs *staticCatalog
	repo     *mockCacheRepository
	jobs     *JobRunner
}

func newServiceFixture(t *testing.T, catalog *domain.Catalog, pipeline func(Pipeline) Pipeline, partialWait time.Duration) *serviceFixture {
	t.Helper()
	catalogs := &staticCatalog{catalog: catalog}
	ranker := newTestRanker(map[string]*domain.Histogram{
		"red.png":  peakHistogram(0),
		"blue.png": peakHistogram(200),
	})
	policy := DefaultRankPolicy()

	p := NewSimilarityPipeline(catalogs, ranker, policy)
	if pipeline != nil {
		p = pipeline(p)
	}
	jobs := startRunner(t, p, JobRunnerConfig{Workers: 2})
	repo := newMockCacheRepository()

	svc := NewRecommendationService(catalogs, ranker, jobs, NewResultCache(repo, time.Hour, nil, nil),
		RecommendationServiceConfig{
			SourceURL:   "https://shop.example.com/products.json",
			PageSize:    5,
			PartialWait: partialWait,
			Policy:      policy,
		}, nil)
	return &serviceFixture{svc: svc, catalogs: catalogs, repo: repo, jobs: jobs}
}

func shirtCatalog(n int) *domain.Catalog {
	products := make([]domain.Product, 0, n)
	for i := 1; i <= n; i++ {
		img, title := "red.png", "Red Shirt"
		if i%2 == 0 {
			img, title = "blue.png", "Blue Hat"
		}
		products = append(products, product(int64(i), title, img))
	}
	return catalogOf(products...)
}

func (f *serviceFixture) catalogCalls() int32 {
	return atomic.LoadInt32(&f.catalogs.calls)
}

// holders reports how many references are outstanding on job id
func (f *serviceFixture) holders(t *testing.T, id string) int {
	t.Helper()
	f.jobs.mu.Lock()
	defer f.jobs.mu.Unlock()
	j, ok := f.jobs.jobs[id]
	require.True(t, ok, "job %s is not tracked", id)
	return len(j.holders)
}

func TestRecommend_Pagination(t *testing.T) {
	f := newServiceFixture(t, shirtCatalog(12), nil, time.Second)
	ctx := context.Background()

	tests := []struct {
		page         int
		wantIDs      []int64
		wantSelected int64
	}{
		{1, []int64{1, 2, 3, 4, 5}, 1},
		{2, []int64{6, 7, 8, 9, 10}, 6},
		{3, []int64{11, 12}, 11},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("page %d", tt.page), func(t *testing.T) {
			page, err := f.svc.Recommend(ctx, domain.RecommendationQuery{Page: tt.page})
			require.NoError(t, err)

			assert.Equal(t, tt.page, page.Page)
			assert.Equal(t, 3, page.NumPages)
			got := make([]int64, 0, len(page.Products))
			for _, p := range page.Products {
				got = append(got, p.ID)
			}
			assert.Equal(t, tt.wantIDs, got)
			assert.Equal(t, tt.wantSelected, page.Selected.ID)
		})
	}
}

func TestRecommend_InvalidRequests(t *testing.T) {
	f := newServiceFixture(t, shirtCatalog(12), nil, time.Second)
	ctx := context.Background()

	tests := []struct {
		name    string
		query   domain.RecommendationQuery
		wantErr error
	}{
		{"page zero", domain.RecommendationQuery{Page: 0}, domain.ErrInvalidRequest},
		{"negative page", domain.RecommendationQuery{Page: -1}, domain.ErrInvalidRequest},
		{"page past end", domain.RecommendationQuery{Page: 4}, domain.ErrInvalidRequest},
		{"negative product", domain.RecommendationQuery{Page: 1, ProductID: -5}, domain.ErrInvalidRequest},
		{"unknown product", domain.RecommendationQuery{Page: 1, ProductID: 999}, domain.ErrProductNotFound},
		{"search without matches", domain.RecommendationQuery{Page: 1, Query: "trousers"}, domain.ErrNoProducts},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Recommend(ctx, tt.query)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRecommend_EmptyCatalog(t *testing.T) {
	f := newServiceFixture(t, nil, nil, time.Second)

	_, err := f.svc.Recommend(context.Background(), domain.RecommendationQuery{Page: 1})
	assert.ErrorIs(t, err, domain.ErrNoProducts)
}

func TestRecommend_ReadyResultIsCached(t *testing.T) {
	f := newServiceFixture(t, shirtCatalog(6), nil, 2*time.Second)
	ctx := context.Background()
	query := domain.RecommendationQuery{Page: 1, ProductID: 3}

	first, err := f.svc.Recommend(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, "computed", first.Source)
	assert.Equal(t, int64(3), first.Selected.ID)
	require.Equal(t, domain.JobReady, first.Similar.State)
	require.NotEmpty(t, first.Similar.Products)
	assert.Equal(t, int64(1), first.Similar.Products[0].ID, "red shirts rank first for a red shirt")
	for _, p := range first.Similar.Products {
		assert.NotEqual(t, int64(3), p.ID)
	}
	assert.LessOrEqual(t, len(first.Similar.Products), 5)
	assert.True(t, f.repo.has("recommendations::1:3"))

	calls := f.catalogCalls()
	second, err := f.svc.Recommend(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, "cache", second.Source)
	assert.Equal(t, first.Similar, second.Similar)
	assert.Equal(t, calls, f.catalogCalls(), "cache hit does not touch the catalog")
}

func TestRecommend_PendingResultIsNotCached(t *testing.T) {
	gate := make(chan struct{})
	slow := func(next Pipeline) Pipeline {
		return func(ctx context.Context, req domain.JobRequest) (*domain.Recommendation, error) {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return next(ctx, req)
		}
	}
	f := newServiceFixture(t, shirtCatalog(6), slow, 20*time.Millisecond)
	ctx := context.Background()
	query := domain.RecommendationQuery{Page: 1}

	first, err := f.svc.Recommend(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, domain.JobPending, first.Similar.State)
	assert.Empty(t, first.Similar.Products)
	assert.NotEmpty(t, first.Similar.JobID)
	assert.Len(t, first.Products, 5, "catalog listing is served while similar products compute")
	assert.False(t, f.repo.has("recommendations::1:0"))

	second, err := f.svc.Recommend(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, "computed", second.Source)
	assert.Equal(t, first.Similar.JobID, second.Similar.JobID, "repeat views join the pending job")
	assert.Equal(t, 0, f.holders(t, first.Similar.JobID), "page views do not keep references")

	close(gate)
	status := waitTerminal(t, f.jobs, first.Similar.JobID)
	assert.Equal(t, domain.JobReady, status.State)

	require.Eventually(t, func() bool {
		page, err := f.svc.Recommend(ctx, query)
		return err == nil && page.Similar.State == domain.JobReady
	}, 2*time.Second, 10*time.Millisecond)
	assert.True(t, f.repo.has("recommendations::1:0"))
}

func TestRecommend_FailedJobIsReported(t *testing.T) {
	failing := func(Pipeline) Pipeline {
		return func(ctx context.Context, req domain.JobRequest) (*domain.Recommendation, error) {
			return nil, fmt.Errorf("%w: storefront down", domain.ErrCatalogFetch)
		}
	}
	f := newServiceFixture(t, shirtCatalog(3), failing, time.Second)

	page, err := f.svc.Recommend(context.Background(), domain.RecommendationQuery{Page: 1})
	require.NoError(t, err)
	assert.Equal(t, domain.JobFailed, page.Similar.State)
	assert.Contains(t, page.Similar.Error, "storefront down")
	assert.False(t, f.repo.has("recommendations::1:0"))
}

func TestRecommend_SearchTerm(t *testing.T) {
	f := newServiceFixture(t, shirtCatalog(12), nil, time.Second)

	page, err := f.svc.Recommend(context.Background(), domain.RecommendationQuery{Page: 1, Query: "Hat"})
	require.NoError(t, err)
	assert.Equal(t, "Hat", page.SearchTerm)
	assert.Equal(t, 2, page.NumPages)
	assert.Equal(t, int64(2), page.Selected.ID)
	assert.True(t, f.repo.has("recommendations:hat:1:0"))
}

func TestRecommend_PunctuationDistinctQueriesAreCachedApart(t *testing.T) {
	catalog := catalogOf(
		product(1, "Blue T-Shirt", "blue.png"),
		product(2, "Red TShirt", "red.png"),
		product(3, "Green T-Shirt", "blue.png"),
	)
	f := newServiceFixture(t, catalog, nil, 2*time.Second)
	ctx := context.Background()

	hyphenated, err := f.svc.Recommend(ctx, domain.RecommendationQuery{Page: 1, Query: "t-shirt"})
	require.NoError(t, err)
	require.Equal(t, domain.JobReady, hyphenated.Similar.State)
	assert.Len(t, hyphenated.Products, 2)

	joined, err := f.svc.Recommend(ctx, domain.RecommendationQuery{Page: 1, Query: "tshirt"})
	require.NoError(t, err)
	assert.Equal(t, "computed", joined.Source)
	require.Len(t, joined.Products, 1)
	assert.Equal(t, int64(2), joined.Selected.ID)
}

func TestSimilarNow(t *testing.T) {
	f := newServiceFixture(t, shirtCatalog(6), nil, time.Second)
	ctx := context.Background()

	t.Run("configured mode", func(t *testing.T) {
		rec, err := f.svc.SimilarNow(ctx, 1, "", "")
		require.NoError(t, err)
		assert.Equal(t, "top_k", rec.Mode)
		assert.Len(t, rec.Products, 5)
	})

	t.Run("threshold override", func(t *testing.T) {
		rec, err := f.svc.SimilarNow(ctx, 1, "", "threshold")
		require.NoError(t, err)
		assert.Equal(t, "threshold", rec.Mode)
		for _, p := range rec.Products {
			assert.GreaterOrEqual(t, p.SimilarityScore, 0.5)
		}
		assert.Equal(t, []int64{3, 5}, ids(rec))
	})

	t.Run("invalid mode", func(t *testing.T) {
		_, err := f.svc.SimilarNow(ctx, 1, "", "mean")
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("unknown product", func(t *testing.T) {
		_, err := f.svc.SimilarNow(ctx, 99, "", "")
		assert.ErrorIs(t, err, domain.ErrProductNotFound)
	})

	t.Run("product outside search results", func(t *testing.T) {
		_, err := f.svc.SimilarNow(ctx, 1, "hat", "")
		assert.ErrorIs(t, err, domain.ErrProductNotFound)
	})
}

func TestSubmitJob(t *testing.T) {
	f := newServiceFixture(t, shirtCatalog(6), nil, time.Second)
	ctx := context.Background()

	receipt, err := f.svc.SubmitJob(ctx, 2, "")
	require.NoError(t, err)
	require.NotEmpty(t, receipt.ID)
	require.NotEmpty(t, receipt.Ref)

	done := waitTerminal(t, f.jobs, receipt.ID)
	assert.Equal(t, domain.JobReady, done.State)
	assert.Equal(t, int64(2), done.Result.SelectedID)

	polled, err := f.svc.JobStatus(receipt.ID)
	require.NoError(t, err)
	assert.Equal(t, done, polled)

	assert.ErrorIs(t, f.svc.ReleaseJob(receipt.ID, "someone-else"), domain.ErrJobNotFound)
	require.NoError(t, f.svc.ReleaseJob(receipt.ID, receipt.Ref))
	_, err = f.svc.JobStatus(receipt.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)

	_, err = f.svc.SubmitJob(ctx, 404, "")
	assert.ErrorIs(t, err, domain.ErrProductNotFound)

	assert.ErrorIs(t, f.svc.ReleaseJob("missing", receipt.Ref), domain.ErrJobNotFound)
}

func TestCacheKey(t *testing.T) {
	svc := &RecommendationService{}
	assert.Equal(t, "recommendations:red+shirt%21:2:7",
		svc.cacheKey(domain.RecommendationQuery{Query: "Red SHIRT!", Page: 2, ProductID: 7}))
	assert.Equal(t,
		svc.cacheKey(domain.RecommendationQuery{Query: "red shirt", Page: 1}),
		svc.cacheKey(domain.RecommendationQuery{Query: "RED Shirt", Page: 1}),
		"the title filter ignores case")

	distinct := []string{"t-shirt", "tshirt", "t shirt", "red   shirt", "red shirt", "a:1"}
	seen := make(map[string]string)
	for _, q := range distinct {
		key := svc.cacheKey(domain.RecommendationQuery{Query: q, Page: 1})
		if other, ok := seen[key]; ok {
			t.Errorf("queries %q and %q share key %q", q, other, key)
		}
		seen[key] = q
	}
	assert.NotEqual(t,
		svc.cacheKey(domain.RecommendationQuery{Query: "a:1", Page: 2}),
		svc.cacheKey(domain.RecommendationQuery{Query: "a", Page: 1, ProductID: 2}))
}
