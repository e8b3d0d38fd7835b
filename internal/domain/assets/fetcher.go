package assets

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"

	"github.com/GriffinCanCode/microhost/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/microhost/internal/infrastructure/tracing"
)

// FetcherConfig configures the default HTTP fetcher
type FetcherConfig struct {
	Timeout   time.Duration
	UserAgent string
	// RPS limits outgoing requests; zero or less means unlimited
	RPS float64
	// Retries is how many times a transient failure (connection error,
	// 429 or 5xx) is retried before the response is returned as is
	Retries int
}

// DefaultFetcherConfig returns production-ready fetcher configuration
func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		Timeout:   30 * time.Second,
		UserAgent: "microhost/1.0",
		Retries:   2,
	}
}

// HTTPFetcher fetches assets over HTTP with retries, a per-origin circuit
// breaker and an optional rate limit
type HTTPFetcher struct {
	resty    *resty.Client
	breakers *resilience.Group

	mu      sync.RWMutex
	limiter *rate.Limiter
}

// NewHTTPFetcher creates the default fetcher
func NewHTTPFetcher(cfg FetcherConfig) *HTTPFetcher {
	retryClient := retryablehttp.NewClient()
	retryClient.Logger = nil
	retryClient.RetryMax = max(cfg.Retries, 0)
	retryClient.RetryWaitMin = 100 * time.Millisecond
	retryClient.RetryWaitMax = 5 * time.Second
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler

	// retries happen in the retryablehttp round tripper, resty only sends once
	client := resty.NewWithClient(retryClient.StandardClient()).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "*/*").
		SetHeader("User-Agent", cfg.UserAgent)

	breakers := resilience.NewGroup(resilience.Settings{
		MaxRequests: 2,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	f := &HTTPFetcher{
		resty:    client,
		breakers: breakers,
	}
	f.SetRateLimit(cfg.RPS)
	return f
}

// SetRateLimit configures requests per second; zero or less disables it
func (f *HTTPFetcher) SetRateLimit(rps float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rps <= 0 {
		f.limiter = rate.NewLimiter(rate.Inf, 0)
		return
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	f.limiter = rate.NewLimiter(rate.Limit(rps), burst)
}

// Fetch retrieves raw content for rawURL. It satisfies types.FetchFunc.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid asset url %q", rawURL)
	}

	f.mu.RLock()
	limiter := f.limiter
	f.mu.RUnlock()
	if err := limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit error: %w", err)
	}

	var body []byte
	err = f.breakers.Get(u.Host).Do(func() error {
		resp, err := f.resty.R().
			SetContext(ctx).
			SetHeaders(tracing.Headers(ctx)).
			Get(rawURL)
		if err != nil {
			return err
		}
		if resp.StatusCode() >= 400 {
			return fmt.Errorf("HTTP %d", resp.StatusCode())
		}
		body = resp.Body()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// BreakerStates reports breaker state per origin
func (f *HTTPFetcher) BreakerStates() map[string]resilience.State {
	return f.breakers.States()
}
