package catalog

import (
	"encoding/json"
	"strings"

	"github.com/lookalike/backend/internal/domain"
)

// decodeCatalog parses a storefront products.json payload and normalizes it
func decodeCatalog(body []byte) (*domain.Catalog, error) {
	var raw domain.Catalog
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	return normalizeCatalog(&raw), nil
}

// normalizeCatalog drops products without an id and canonicalizes image URLs.
// Order of the remaining products is preserved.
func normalizeCatalog(raw *domain.Catalog) *domain.Catalog {
	out := &domain.Catalog{Products: make([]domain.Product, 0, len(raw.Products))}
	for _, p := range raw.Products {
		if p.ID == 0 {
			continue
		}
		p.Title = strings.TrimSpace(p.Title)
		p.Images = normalizeImages(p.Images)
		out.Products = append(out.Products, p)
	}
	return out
}

func normalizeImages(images []domain.Image) []domain.Image {
	out := make([]domain.Image, 0, len(images))
	for _, img := range images {
		src := normalizeImageURL(img.Src)
		if src == "" {
			continue
		}
		out = append(out, domain.Image{Src: src})
	}
	return out
}

// normalizeImageURL turns protocol-relative CDN links into https URLs
func normalizeImageURL(src string) string {
	src = strings.TrimSpace(src)
	if strings.HasPrefix(src, "//") {
		return "https:" + src
	}
	return src
}
