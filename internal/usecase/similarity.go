package usecase

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/lookalike/backend/internal/domain"
	"github.com/lookalike/backend/internal/infrastructure/embedding"
)

// SimilarityEngine scores pairs of products by text and by image
type SimilarityEngine struct {
	embedder   domain.TextEmbedder
	histograms domain.HistogramSource
	logger     *zap.Logger
}

// NewSimilarityEngine creates an engine. A nil histogram source disables
// image similarity (every image score is 0).
func NewSimilarityEngine(embedder domain.TextEmbedder, histograms domain.HistogramSource, logger *zap.Logger) *SimilarityEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SimilarityEngine{
		embedder:   embedder,
		histograms: histograms,
		logger:     logger.Named("similarity"),
	}
}

// TextSimilarity returns the cosine similarity of the embeddings of a and b,
// clamped to [0,1]. Strings equal after case and whitespace normalization
// score exactly 1.
func (e *SimilarityEngine) TextSimilarity(a, b string) float64 {
	na, nb := normalizeText(a), normalizeText(b)
	if na == nb {
		return 1
	}
	return clampUnit(embedding.Cosine(e.embedder.Embed(na), e.embedder.Embed(nb)))
}

// ImageSimilarity compares two images by colour histogram intersection
func (e *SimilarityEngine) ImageSimilarity(ctx context.Context, a, b domain.Image) (float64, error) {
	if e.histograms == nil {
		return 0, nil
	}
	ha, err := e.histograms.Histogram(ctx, a.Src)
	if err != nil {
		return 0, err
	}
	hb, err := e.histograms.Histogram(ctx, b.Src)
	if err != nil {
		return 0, err
	}
	return clampUnit(ha.Intersection(hb)), nil
}

// ProductImageSimilarity returns the best score over every pair of images
// of the two products. Images that cannot be loaded are left out. If either
// product has no images the score is 0; if both have images but no pair can
// be scored the result is domain.ErrImageUnavailable.
func (e *SimilarityEngine) ProductImageSimilarity(ctx context.Context, selected, candidate *domain.Product) (float64, error) {
	if e.histograms == nil || len(selected.Images) == 0 || len(candidate.Images) == 0 {
		return 0, nil
	}

	left := e.loadHistograms(ctx, selected)
	right := e.loadHistograms(ctx, candidate)
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	best, scored := 0.0, false
	for _, a := range left {
		for _, b := range right {
			if s := a.Intersection(b); !scored || s > best {
				best, scored = s, true
			}
		}
	}
	if !scored {
		return 0, fmt.Errorf("%w: no comparable images between products %d and %d",
			domain.ErrImageUnavailable, selected.ID, candidate.ID)
	}
	return clampUnit(best), nil
}

func (e *SimilarityEngine) loadHistograms(ctx context.Context, p *domain.Product) []*domain.Histogram {
	out := make([]*domain.Histogram, 0, len(p.Images))
	for _, img := range p.Images {
		h, err := e.histograms.Histogram(ctx, img.Src)
		if err != nil {
			e.logger.Debug("skipping image",
				zap.Int64("product_id", p.ID),
				zap.String("src", img.Src),
				zap.Error(err),
			)
			continue
		}
		out = append(out, h)
	}
	return out
}

func clampUnit(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
