// Package catalog fetches product catalogs from a remote storefront.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/lookalike/backend/internal/domain"
	"github.com/lookalike/backend/internal/infrastructure/metrics"
)

const (
	maxAttempts  = 3
	maxBodyBytes = 50 << 20
	breakerName  = "catalog-source"
)

// ClientConfig configures the remote catalog client
type ClientConfig struct {
	Timeout   time.Duration
	RateLimit float64 // requests per second
	UserAgent string
	Debug     bool
}

// Client handles communication with the remote product catalog
type Client struct {
	httpClient  *http.Client
	rateLimiter *rate.Limiter
	breaker     *gobreaker.CircuitBreaker[*domain.Catalog]
	userAgent   string
	debug       bool
	backoff     func(attempt int) time.Duration
	logger      *zap.Logger
}

// NewClient creates a new catalog client
func NewClient(cfg ClientConfig, logger *zap.Logger, m *metrics.Metrics) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Lookalike/1.0"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), 3),
		userAgent:   cfg.UserAgent,
		debug:       cfg.Debug,
		backoff:     exponentialBackoff,
		logger:      logger.Named("catalog"),
	}

	m.SetBreakerState(breakerName, 0)
	c.breaker = gobreaker.NewCircuitBreaker[*domain.Catalog](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A caller giving up is not a failure of the remote
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			m.SetBreakerState(name, stateToFloat(to))
		},
	})

	return c
}

// SetDebug toggles verbose request/response logging
func (c *Client) SetDebug(debug bool) {
	c.debug = debug
}

func (c *Client) debugLog(msg string, fields ...zap.Field) {
	if c.debug {
		c.logger.Info(msg, fields...)
	}
}

// BreakerState reports the circuit breaker state
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

// FetchProducts downloads and decodes the catalog at sourceURL.
// All failures wrap domain.ErrCatalogFetch.
func (c *Client) FetchProducts(ctx context.Context, sourceURL string) (*domain.Catalog, error) {
	catalog, err := c.breaker.Execute(func() (*domain.Catalog, error) {
		return c.fetch(ctx, sourceURL)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			c.logger.Warn("catalog fetch rejected by circuit breaker", zap.String("url", sourceURL))
			return nil, fmt.Errorf("%w: %v", domain.ErrCatalogFetch, err)
		}
		return nil, err
	}
	return catalog, nil
}

// doRequest executes an HTTP GET request with proper headers
func (c *Client) doRequest(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", domain.ErrCatalogFetch, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrCatalogFetch, err)
	}
	return resp, nil
}

func (c *Client) fetch(ctx context.Context, sourceURL string) (*domain.Catalog, error) {
	c.debugLog("fetching catalog", zap.String("url", sourceURL))

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepContext(ctx, c.backoff(attempt-1)); err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrCatalogFetch, err)
			}
		}

		if err := c.rateLimiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", domain.ErrCatalogFetch, err)
		}

		resp, err := c.doRequest(ctx, sourceURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			c.logger.Warn("catalog request failed", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = err
			continue
		}

		body, err := readLimitedBody(resp.Body, maxBodyBytes)
		resp.Body.Close()
		if err != nil {
			c.logger.Warn("catalog body read failed", zap.Int("attempt", attempt), zap.Error(err))
			lastErr = fmt.Errorf("%w: %w", domain.ErrCatalogFetch, err)
			continue
		}

		c.debugLog("catalog response",
			zap.Int("attempt", attempt),
			zap.Int("status", resp.StatusCode),
			zap.Int("bytes", len(body)),
		)

		if resp.StatusCode != http.StatusOK {
			lastErr = fmt.Errorf("%w: status %d", domain.ErrCatalogFetch, resp.StatusCode)
			if !retryableStatus(resp.StatusCode) {
				return nil, lastErr
			}
			c.logger.Warn("catalog returned retryable status",
				zap.Int("attempt", attempt),
				zap.Int("status", resp.StatusCode),
			)
			continue
		}

		catalog, err := decodeCatalog(body)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to decode response: %v", domain.ErrCatalogFetch, err)
		}

		c.logger.Info("catalog fetched",
			zap.String("url", sourceURL),
			zap.Int("products", catalog.Len()),
		)
		return catalog, nil
	}

	c.logger.Error("all catalog fetch attempts failed", zap.String("url", sourceURL), zap.Error(lastErr))
	return nil, lastErr
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// exponentialBackoff returns the wait before retry number attempt (1-based)
func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(500<<(attempt-1)) * time.Millisecond
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// readLimitedBody reads at most limit bytes and fails if the body is larger
func readLimitedBody(r io.Reader, limit int64) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("response body exceeds %d bytes", limit)
	}
	return body, nil
}

func stateToFloat(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
