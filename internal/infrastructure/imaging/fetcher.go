// Package imaging downloads product images and reduces them to colour histograms.
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	_ "golang.org/x/image/webp"
	"golang.org/x/time/rate"

	"github.com/lookalike/backend/internal/domain"
)

// FetcherConfig configures image downloads
type FetcherConfig struct {
	Timeout   time.Duration
	MaxBytes  int64
	MaxPixels int64   // decoded width*height ceiling
	RateLimit float64 // downloads per second
	UserAgent string
}

// HTTPFetcher downloads and decodes images over HTTP
type HTTPFetcher struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	maxBytes    int64
	maxPixels   int64
	userAgent   string
}

// NewHTTPFetcher creates an image fetcher
func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 10 << 20
	}
	if cfg.MaxPixels <= 0 {
		cfg.MaxPixels = 40_000_000
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 20
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Lookalike/1.0"
	}

	return &HTTPFetcher{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), int(cfg.RateLimit)+1),
		maxBytes:    cfg.MaxBytes,
		maxPixels:   cfg.MaxPixels,
		userAgent:   cfg.UserAgent,
	}
}

// Fetch downloads src and decodes it as JPEG, PNG, GIF or WebP
func (f *HTTPFetcher) Fetch(ctx context.Context, src string) (image.Image, error) {
	if err := f.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limiter: %w", domain.ErrImageUnavailable, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid image url %q: %v", domain.ErrImageUnavailable, src, err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrImageUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d for %s", domain.ErrImageUnavailable, resp.StatusCode, src)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", domain.ErrImageUnavailable, err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, fmt.Errorf("%w: image exceeds %d bytes", domain.ErrImageUnavailable, f.maxBytes)
	}

	// The byte cap only bounds the compressed size; check dimensions before
	// the decoder allocates the pixel buffer.
	header, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrImageUnavailable, src, err)
	}
	if pixels := int64(header.Width) * int64(header.Height); pixels > f.maxPixels {
		return nil, fmt.Errorf("%w: image %dx%d exceeds %d pixels", domain.ErrImageUnavailable, header.Width, header.Height, f.maxPixels)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrImageUnavailable, src, err)
	}
	return img, nil
}
