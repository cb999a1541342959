package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lookalike/backend/internal/domain"
)

// RankMode selects how the ranked list is cut
type RankMode string

const (
	RankTopK      RankMode = "top_k"
	RankThreshold RankMode = "threshold"
)

// ParseRankMode validates a mode name
func ParseRankMode(s string) (RankMode, error) {
	switch RankMode(s) {
	case RankTopK, RankThreshold:
		return RankMode(s), nil
	default:
		return "", fmt.Errorf("%w: unknown ranking mode %q", domain.ErrInvalidRequest, s)
	}
}

// Weights combine the text and image components into one score
type Weights struct {
	Text  float64
	Image float64
}

// RankPolicy controls scoring and selection
type RankPolicy struct {
	Mode               RankMode
	K                  int
	Threshold          float64
	Weights            Weights
	IncludeDescription bool
	CandidateFilter    string // CEL expression, empty admits all
}

// DefaultRankPolicy returns top-5 ranking with 0.6/0.4 text/image weights
func DefaultRankPolicy() RankPolicy {
	return RankPolicy{
		Mode:      RankTopK,
		K:         5,
		Threshold: 0.5,
		Weights:   Weights{Text: 0.6, Image: 0.4},
	}
}

// Validate checks the policy is usable
func (p RankPolicy) Validate() error {
	if _, err := ParseRankMode(string(p.Mode)); err != nil {
		return err
	}
	if p.Mode == RankTopK && p.K <= 0 {
		return fmt.Errorf("%w: k must be positive", domain.ErrInvalidRequest)
	}
	if p.Weights.Text < 0 || p.Weights.Image < 0 {
		return fmt.Errorf("%w: weights must not be negative", domain.ErrInvalidRequest)
	}
	return nil
}

// RankerConfig holds configuration for the ranker
type RankerConfig struct {
	Concurrency int
}

// Ranker scores candidates against a selected product and orders them
type Ranker struct {
	engine      *SimilarityEngine
	concurrency int
	filters     filterCache
	logger      *zap.Logger
}

// NewRanker creates a ranker
func NewRanker(engine *SimilarityEngine, config RankerConfig, logger *zap.Logger) *Ranker {
	concurrency := config.Concurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ranker{
		engine:      engine,
		concurrency: concurrency,
		logger:      logger.Named("ranker"),
	}
}

// Rank scores every candidate except the selected product and returns them
// in descending combined score order, cut according to policy. Candidates
// that cannot be scored are skipped.
func (r *Ranker) Rank(
	ctx context.Context,
	selected *domain.Product,
	candidates []domain.Product,
	policy RankPolicy,
) (*domain.Recommendation, error) {
	if selected == nil {
		return nil, fmt.Errorf("%w: no selected product", domain.ErrInvalidRequest)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	filter, err := r.filters.get(policy.CandidateFilter)
	if err != nil {
		return nil, err
	}

	eligible := make([]*domain.Product, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		if c.ID == selected.ID {
			continue
		}
		ok, err := filter.Allow(selected, c)
		if err != nil {
			r.logger.Warn("candidate filter failed", zap.Int64("product_id", c.ID), zap.Error(err))
			continue
		}
		if ok {
			eligible = append(eligible, c)
		}
	}

	selectedDesc := ""
	if policy.IncludeDescription {
		selectedDesc = plainText(selected.BodyHTML)
	}

	results := make([]*domain.SimilarityScore, len(eligible))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, c := range eligible {
		g.Go(func() error {
			score, err := r.score(gctx, selected, selectedDesc, c, policy)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				r.logger.Info("skipping candidate", zap.Int64("product_id", c.ID), zap.Error(err))
				return nil
			}
			results[i] = score
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	scores := make([]domain.SimilarityScore, 0, len(results))
	for _, s := range results {
		if s != nil {
			scores = append(scores, *s)
		}
	}

	byID := make(map[int64]*domain.Product, len(eligible))
	for _, c := range eligible {
		byID[c.ID] = c
	}

	ranked := SelectRanked(scores, policy)
	rec := &domain.Recommendation{
		SelectedID: selected.ID,
		Mode:       string(policy.Mode),
		Products:   make([]domain.SimilarProduct, 0, len(ranked)),
	}
	for _, s := range ranked {
		p := byID[s.ProductID]
		rec.Products = append(rec.Products, domain.SimilarProduct{
			ID:              p.ID,
			Title:           p.Title,
			ProductType:     p.ProductType,
			Tags:            p.Tags,
			SimilarityScore: s.Combined,
			Images:          p.Images,
		})
	}
	return rec, nil
}

func (r *Ranker) score(
	ctx context.Context,
	selected *domain.Product,
	selectedDesc string,
	candidate *domain.Product,
	policy RankPolicy,
) (*domain.SimilarityScore, error) {
	text := r.engine.TextSimilarity(selected.Title, candidate.Title)
	if policy.IncludeDescription {
		// Descriptions only count when at least one side has one
		if desc := plainText(candidate.BodyHTML); desc != "" || selectedDesc != "" {
			text = (text + r.engine.TextSimilarity(selectedDesc, desc)) / 2
		}
	}

	image, err := r.engine.ProductImageSimilarity(ctx, selected, candidate)
	if err != nil {
		if !errors.Is(err, domain.ErrImageUnavailable) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	return &domain.SimilarityScore{
		ProductID: candidate.ID,
		Text:      text,
		Image:     image,
		Combined:  policy.Weights.Text*text + policy.Weights.Image*image,
	}, nil
}

// SelectRanked orders scores by combined score, highest first, keeping the
// input order among ties, then applies the policy cut. The input is not modified.
func SelectRanked(scores []domain.SimilarityScore, policy RankPolicy) []domain.SimilarityScore {
	ranked := make([]domain.SimilarityScore, len(scores))
	copy(ranked, scores)
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Combined > ranked[j].Combined
	})

	switch policy.Mode {
	case RankThreshold:
		out := ranked[:0]
		for _, s := range ranked {
			if s.Combined >= policy.Threshold {
				out = append(out, s)
			}
		}
		return out
	default:
		if policy.K >= 0 && len(ranked) > policy.K {
			ranked = ranked[:policy.K]
		}
		return ranked
	}
}
