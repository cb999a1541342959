package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Product is a single catalog entry as published by the storefront
type Product struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	BodyHTML    string  `json:"body_html"`
	ProductType string  `json:"product_type"`
	Vendor      string  `json:"vendor"`
	Tags        Tags    `json:"tags"`
	Images      []Image `json:"images"`
}

// Image references one product image by its source URL
type Image struct {
	Src string `json:"src"`
}

// Tags is the product tag set. Storefronts publish it either as a JSON
// array or as a single comma separated string; both decode to a slice.
type Tags []string

// UnmarshalJSON accepts both tag encodings
func (t *Tags) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*t = list
		return nil
	}

	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return err
	}

	out := Tags{}
	for _, tag := range strings.Split(joined, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	*t = out
	return nil
}

// Catalog is a point-in-time copy of the full product list.
// It is either entirely the result of one remote fetch or entirely
// loaded from the persisted snapshot.
type Catalog struct {
	Products  []Product `json:"products"`
	FetchedAt time.Time `json:"-"`
}

// EmptyCatalog returns a catalog with no products
func EmptyCatalog() *Catalog {
	return &Catalog{Products: []Product{}}
}

// Len returns the number of products in the catalog
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.Products)
}
