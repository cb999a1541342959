package usecase

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lookalike/backend/internal/domain"
)

// mockCacheRepository is a mock implementation of domain.CacheRepository
type mockCacheRepository struct {
	mu       sync.Mutex
	data     map[string][]byte
	getError error
	setError error
	sets     int
}

func newMockCacheRepository() *mockCacheRepository {
	return &mockCacheRepository{data: make(map[string][]byte)}
}

func (m *mockCacheRepository) Get(ctx context.Context, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getError != nil {
		return nil, m.getError
	}
	if value, ok := m.data[key]; ok {
		return value, nil
	}
	return nil, domain.ErrCacheMiss
}

func (m *mockCacheRepository) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	if m.setError != nil {
		return m.setError
	}
	m.data[key] = value
	return nil
}

func (m *mockCacheRepository) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *mockCacheRepository) Exists(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[key]
	return ok, nil
}

func (m *mockCacheRepository) has(key string) bool {
	ok, _ := m.Exists(context.Background(), key)
	return ok
}

// mockCatalogClient is a mock implementation of domain.CatalogClient
type mockCatalogClient struct {
	catalog *domain.Catalog
	err     error
	calls   int32
	gate    chan struct{}
}

func (m *mockCatalogClient) FetchProducts(ctx context.Context, sourceURL string) (*domain.Catalog, error) {
	atomic.AddInt32(&m.calls, 1)
	if m.gate != nil {
		<-m.gate
	}
	if m.err != nil {
		return nil, m.err
	}
	return m.catalog, nil
}

func (m *mockCatalogClient) callCount() int {
	return int(atomic.LoadInt32(&m.calls))
}

// mockSnapshotStore is a mock implementation of domain.SnapshotStore
type mockSnapshotStore struct {
	mu      sync.Mutex
	catalog *domain.Catalog
	modTime time.Time
	loadErr error
	saveErr error
	saved   []*domain.Catalog
}

func (m *mockSnapshotStore) Load(ctx context.Context) (*domain.Catalog, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loadErr != nil {
		return nil, time.Time{}, m.loadErr
	}
	if m.catalog == nil {
		return nil, time.Time{}, domain.ErrSnapshotNotFound
	}
	cp := *m.catalog
	return &cp, m.modTime, nil
}

func (m *mockSnapshotStore) Save(ctx context.Context, catalog *domain.Catalog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, catalog)
	return m.saveErr
}

// mockHistogramSource serves canned histograms by URL
type mockHistogramSource struct {
	histograms map[string]*domain.Histogram
}

func (m *mockHistogramSource) Histogram(ctx context.Context, src string) (*domain.Histogram, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h, ok := m.histograms[src]
	if !ok {
		return nil, domain.ErrImageUnavailable
	}
	return h, nil
}

// staticCatalog is a CatalogSource returning a fixed catalog
type staticCatalog struct {
	catalog *domain.Catalog
	calls   int32
}

func (s *staticCatalog) FetchCatalog(ctx context.Context, sourceURL, searchTerm string) *domain.Catalog {
	atomic.AddInt32(&s.calls, 1)
	if s.catalog == nil {
		return domain.EmptyCatalog()
	}
	return filterCatalog(s.catalog, searchTerm)
}

// peakHistogram puts all mass of every channel in one bin
func peakHistogram(bin int) *domain.Histogram {
	var h domain.Histogram
	for ch := 0; ch < 3; ch++ {
		h[ch][bin] = 1
	}
	return &h
}

// splitHistogram spreads mass evenly over two bins
func splitHistogram(a, b int) *domain.Histogram {
	var h domain.Histogram
	for ch := 0; ch < 3; ch++ {
		h[ch][a] += 0.5
		h[ch][b] += 0.5
	}
	return &h
}

func product(id int64, title string, images ...string) domain.Product {
	p := domain.Product{ID: id, Title: title, Tags: domain.Tags{}}
	for _, src := range images {
		p.Images = append(p.Images, domain.Image{Src: src})
	}
	return p
}

func catalogOf(products ...domain.Product) *domain.Catalog {
	return &domain.Catalog{Products: products}
}
