package domain

import (
	"context"
	"time"
)

// CacheRepository defines the interface for caching operations.
// Values are opaque byte slices, typically JSON.
type CacheRepository interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// CatalogClient fetches the full product catalog from the remote storefront
type CatalogClient interface {
	FetchProducts(ctx context.Context, sourceURL string) (*Catalog, error)
}

// SnapshotStore persists the last successfully fetched catalog
type SnapshotStore interface {
	// Load returns the persisted catalog and its modification time
	Load(ctx context.Context) (*Catalog, time.Time, error)
	// Save replaces the persisted catalog atomically
	Save(ctx context.Context, catalog *Catalog) error
}

// HistogramSource returns the colour histogram of the image at src.
// Failures wrap ErrImageUnavailable.
type HistogramSource interface {
	Histogram(ctx context.Context, src string) (*Histogram, error)
}

// TextEmbedder maps text to a dense vector
type TextEmbedder interface {
	Embed(text string) []float64
	Name() string
	Dimension() int
	Close() error
}
