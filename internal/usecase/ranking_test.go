package usecase

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookalike/backend/internal/domain"
)

func newTestRanker(histograms map[string]*domain.Histogram) *Ranker {
	return NewRanker(newTestEngine(histograms), RankerConfig{Concurrency: 2}, nil)
}

func ids(rec *domain.Recommendation) []int64 {
	out := make([]int64, 0, len(rec.Products))
	for _, p := range rec.Products {
		out = append(out, p.ID)
	}
	return out
}

func TestParseRankMode(t *testing.T) {
	m, err := ParseRankMode("top_k")
	require.NoError(t, err)
	assert.Equal(t, RankTopK, m)

	m, err = ParseRankMode("threshold")
	require.NoError(t, err)
	assert.Equal(t, RankThreshold, m)

	_, err = ParseRankMode("average")
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

func TestRankPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultRankPolicy().Validate())

	tests := []struct {
		name   string
		mutate func(*RankPolicy)
	}{
		{"unknown mode", func(p *RankPolicy) { p.Mode = "mean" }},
		{"zero k", func(p *RankPolicy) { p.K = 0 }},
		{"negative text weight", func(p *RankPolicy) { p.Weights.Text = -1 }},
		{"negative image weight", func(p *RankPolicy) { p.Weights.Image = -0.1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultRankPolicy()
			tt.mutate(&p)
			assert.ErrorIs(t, p.Validate(), domain.ErrInvalidRequest)
		})
	}

	t.Run("threshold mode ignores k", func(t *testing.T) {
		p := DefaultRankPolicy()
		p.Mode = RankThreshold
		p.K = 0
		assert.NoError(t, p.Validate())
	})
}

func TestSelectRanked(t *testing.T) {
	scores := []domain.SimilarityScore{
		{ProductID: 1, Combined: 0.4},
		{ProductID: 2, Combined: 0.9},
		{ProductID: 3, Combined: 0.5},
		{ProductID: 4, Combined: 0.9},
		{ProductID: 5, Combined: 0.1},
		{ProductID: 6, Combined: 0.5},
		{ProductID: 7, Combined: 0.7},
	}
	orig := make([]domain.SimilarityScore, len(scores))
	copy(orig, scores)

	order := func(ss []domain.SimilarityScore) []int64 {
		out := make([]int64, 0, len(ss))
		for _, s := range ss {
			out = append(out, s.ProductID)
		}
		return out
	}

	t.Run("top k keeps ties in input order", func(t *testing.T) {
		p := DefaultRankPolicy()
		got := SelectRanked(scores, p)
		assert.Equal(t, []int64{2, 4, 7, 3, 6}, order(got))
	})

	t.Run("top k shorter than k returns all", func(t *testing.T) {
		p := DefaultRankPolicy()
		p.K = 20
		assert.Len(t, SelectRanked(scores, p), len(scores))
	})

	t.Run("threshold keeps scores at or above cut", func(t *testing.T) {
		p := DefaultRankPolicy()
		p.Mode = RankThreshold
		got := SelectRanked(scores, p)
		assert.Equal(t, []int64{2, 4, 7, 3, 6}, order(got))

		p.Threshold = 0.8
		assert.Equal(t, []int64{2, 4}, order(SelectRanked(scores, p)))

		p.Threshold = 1
		assert.Empty(t, SelectRanked(scores, p))
	})

	t.Run("deterministic across calls", func(t *testing.T) {
		p := DefaultRankPolicy()
		first := SelectRanked(scores, p)
		for range 10 {
			assert.Equal(t, first, SelectRanked(scores, p))
		}
	})

	t.Run("input is not modified", func(t *testing.T) {
		p := DefaultRankPolicy()
		p.Mode = RankThreshold
		SelectRanked(scores, p)
		p.Mode = RankTopK
		SelectRanked(scores, p)
		assert.Equal(t, orig, scores)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, SelectRanked(nil, DefaultRankPolicy()))
	})
}

func redShirtFixture() (*Ranker, domain.Product, []domain.Product) {
	ranker := newTestRanker(map[string]*domain.Histogram{
		"red-1.png": peakHistogram(0),
		"red-2.png": peakHistogram(0),
		"blue.png":  peakHistogram(200),
	})
	selected := product(1, "Red Shirt", "red-1.png")
	catalog := []domain.Product{
		selected,
		product(2, "Red Shirt Large", "red-2.png"),
		product(3, "Blue Hat", "blue.png"),
	}
	return ranker, selected, catalog
}

func TestRank_RedShirt(t *testing.T) {
	ranker, selected, catalog := redShirtFixture()
	ctx := context.Background()

	t.Run("top k", func(t *testing.T) {
		rec, err := ranker.Rank(ctx, &selected, catalog, DefaultRankPolicy())
		require.NoError(t, err)

		assert.Equal(t, int64(1), rec.SelectedID)
		assert.Equal(t, "top_k", rec.Mode)
		require.Equal(t, []int64{2, 3}, ids(rec))
		assert.InDelta(t, 0.6*2/math.Sqrt(6)+0.4, rec.Products[0].SimilarityScore, 1e-9)
		assert.InDelta(t, 0.0, rec.Products[1].SimilarityScore, 1e-9)
		assert.Equal(t, "Red Shirt Large", rec.Products[0].Title)
		assert.Equal(t, []domain.Image{{Src: "red-2.png"}}, rec.Products[0].Images)
	})

	t.Run("threshold", func(t *testing.T) {
		p := DefaultRankPolicy()
		p.Mode = RankThreshold
		rec, err := ranker.Rank(ctx, &selected, catalog, p)
		require.NoError(t, err)
		assert.Equal(t, "threshold", rec.Mode)
		assert.Equal(t, []int64{2}, ids(rec))
	})

	t.Run("text only weights", func(t *testing.T) {
		p := DefaultRankPolicy()
		p.Weights = Weights{Text: 1}
		rec, err := ranker.Rank(ctx, &selected, catalog, p)
		require.NoError(t, err)
		assert.InDelta(t, 2/math.Sqrt(6), rec.Products[0].SimilarityScore, 1e-9)
	})
}

func TestRank_ExcludesSelected(t *testing.T) {
	ranker := newTestRanker(nil)
	selected := product(7, "Red Shirt")
	catalog := []domain.Product{product(7, "Red Shirt"), product(8, "Red Shirt"), product(7, "Red Shirt")}

	rec, err := ranker.Rank(context.Background(), &selected, catalog, DefaultRankPolicy())
	require.NoError(t, err)
	assert.Equal(t, []int64{8}, ids(rec))
}

func TestRank_TopKBound(t *testing.T) {
	ranker := newTestRanker(nil)
	selected := product(1, "Shirt")
	catalog := []domain.Product{selected}
	for i := int64(2); i <= 12; i++ {
		catalog = append(catalog, product(i, "Shirt"))
	}

	rec, err := ranker.Rank(context.Background(), &selected, catalog, DefaultRankPolicy())
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 3, 4, 5, 6}, ids(rec), "ties keep catalog order")
}

func TestRank_SkipsCandidatesWithUnavailableImages(t *testing.T) {
	ranker := newTestRanker(map[string]*domain.Histogram{"red.png": peakHistogram(0)})
	selected := product(1, "Shirt", "red.png")
	catalog := []domain.Product{
		selected,
		product(2, "Shirt", "broken.png"),
		product(3, "Shirt"),
		product(4, "Shirt", "red.png"),
	}

	rec, err := ranker.Rank(context.Background(), &selected, catalog, DefaultRankPolicy())
	require.NoError(t, err)
	assert.Equal(t, []int64{4, 3}, ids(rec))
}

func TestRank_IncludeDescription(t *testing.T) {
	ranker := newTestRanker(nil)
	selected := product(1, "Shirt")
	selected.BodyHTML = "<p>Soft cotton</p>"

	wool := product(2, "Shirt")
	wool.BodyHTML = "<p>Wool</p>"
	cotton := product(3, "Shirt")
	cotton.BodyHTML = "<p>soft <b>cotton</b></p>"
	catalog := []domain.Product{selected, wool, cotton}

	t.Run("titles only tie", func(t *testing.T) {
		rec, err := ranker.Rank(context.Background(), &selected, catalog, DefaultRankPolicy())
		require.NoError(t, err)
		assert.Equal(t, []int64{2, 3}, ids(rec))
		assert.Equal(t, rec.Products[0].SimilarityScore, rec.Products[1].SimilarityScore)
	})

	t.Run("descriptions break the tie", func(t *testing.T) {
		p := DefaultRankPolicy()
		p.IncludeDescription = true
		rec, err := ranker.Rank(context.Background(), &selected, catalog, p)
		require.NoError(t, err)
		assert.Equal(t, []int64{3, 2}, ids(rec))
		assert.InDelta(t, 0.6, rec.Products[0].SimilarityScore, 1e-9)
		assert.InDelta(t, 0.3, rec.Products[1].SimilarityScore, 1e-9)
	})

	t.Run("no descriptions on either side keeps title score", func(t *testing.T) {
		p := DefaultRankPolicy()
		p.IncludeDescription = true
		bare := product(4, "Shirt")
		sel := product(1, "Shirt")
		rec, err := ranker.Rank(context.Background(), &sel, []domain.Product{bare}, p)
		require.NoError(t, err)
		assert.InDelta(t, 0.6, rec.Products[0].SimilarityScore, 1e-9)
	})
}

func TestRank_CandidateFilter(t *testing.T) {
	ranker := newTestRanker(nil)
	selected := product(1, "Red Shirt")
	selected.ProductType = "Shirts"

	same := product(2, "Red Shirt")
	same.ProductType = "Shirts"
	other := product(3, "Red Shirt")
	other.ProductType = "Hats"
	onSale := product(4, "Red Shirt")
	onSale.ProductType = "Shirts"
	onSale.Tags = domain.Tags{"sale"}
	catalog := []domain.Product{selected, same, other, onSale}

	tests := []struct {
		name string
		expr string
		want []int64
	}{
		{"no filter", "", []int64{2, 3, 4}},
		{"same product type", "candidate.product_type == selected.product_type", []int64{2, 4}},
		{"exclude tag", `!("sale" in candidate.tags)`, []int64{2, 3}},
		{"by id", "candidate.id > 2", []int64{3, 4}},
		{"eval error drops candidate", "candidate.missing == 1", []int64{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultRankPolicy()
			p.CandidateFilter = tt.expr
			rec, err := ranker.Rank(context.Background(), &selected, catalog, p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(rec))
		})
	}
}

func TestRank_Errors(t *testing.T) {
	ranker := newTestRanker(nil)
	selected := product(1, "Shirt")
	catalog := []domain.Product{selected, product(2, "Shirt")}

	t.Run("nil selected", func(t *testing.T) {
		_, err := ranker.Rank(context.Background(), nil, catalog, DefaultRankPolicy())
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("invalid policy", func(t *testing.T) {
		p := DefaultRankPolicy()
		p.Mode = "mean"
		_, err := ranker.Rank(context.Background(), &selected, catalog, p)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("invalid filter", func(t *testing.T) {
		p := DefaultRankPolicy()
		p.CandidateFilter = "candidate.title =="
		_, err := ranker.Rank(context.Background(), &selected, catalog, p)
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := ranker.Rank(ctx, &selected, catalog, DefaultRankPolicy())
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("only the selected product", func(t *testing.T) {
		rec, err := ranker.Rank(context.Background(), &selected, []domain.Product{selected}, DefaultRankPolicy())
		require.NoError(t, err)
		assert.Empty(t, rec.Products)
	})
}
