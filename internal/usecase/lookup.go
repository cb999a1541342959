package usecase

import (
	"fmt"

	"github.com/lookalike/backend/internal/domain"
)

// GetProduct returns the product with the given id
func GetProduct(catalog *domain.Catalog, id int64) (*domain.Product, error) {
	if catalog != nil {
		for i := range catalog.Products {
			if catalog.Products[i].ID == id {
				return &catalog.Products[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: id %d", domain.ErrProductNotFound, id)
}
