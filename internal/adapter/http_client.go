package adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"strconv"
	"time"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"

	"github.com/portfolio-tracker/internal/logging"
	"github.com/portfolio-tracker/internal/retry"
)

const (
	browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	maxBodyBytes = 4 << 20
)

// HTTPClientConfig configures a provider HTTP client
type HTTPClientConfig struct {
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	UserAgent         string
	Retry             *retry.RetryConfig
}

// HTTPClient performs GET requests against market-data endpoints with a
// cookie jar, a local request-rate limiter and retry on transient failures.
type HTTPClient struct {
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	retry     *retry.RetryConfig
}

// NewHTTPClient creates a client. Zero values fall back to a 15s timeout,
// 5 requests per second and the provider retry policy.
func NewHTTPClient(cfg HTTPClientConfig) (*HTTPClient, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = browserUserAgent
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.ProviderRetryConfig()
	}
	if cfg.Retry.Retryable == nil {
		cfg.Retry.Retryable = isTransient
	}

	return &HTTPClient{
		client:    &http.Client{Jar: jar, Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		userAgent: cfg.UserAgent,
		retry:     cfg.Retry,
	}, nil
}

// Get fetches url and returns the body of a 200 response. Errors wrap
// ErrNotFound (404), ErrProviderRateLimit (429), ErrProviderTimeout or
// ErrProviderUnavailable.
func (c *HTTPClient) Get(ctx context.Context, url string, header http.Header) ([]byte, error) {
	var body []byte
	err := retry.WithRetry(ctx, c.retry, func(ctx context.Context, attempt int) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(fmt.Errorf("%w: %v", ErrProviderRateLimit, err))
		}
		b, err := c.do(ctx, url, header)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (c *HTTPClient) do(ctx context.Context, url string, header http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, retry.Permanent(err)
		}
		var netErr net.Error
		if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
			return nil, fmt.Errorf("%w: %v", ErrProviderTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrProviderUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, retry.Permanent(fmt.Errorf("%w: HTTP 404", ErrNotFound))
	case resp.StatusCode == http.StatusTooManyRequests:
		logging.FromContext(ctx).WithField("url", url).Debug("provider rate limited")
		return nil, &retry.AfterError{
			Delay: retryAfter(resp.Header.Get("Retry-After")),
			Err:   fmt.Errorf("%w: HTTP 429", ErrProviderRateLimit),
		}
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", ErrProviderUnavailable, resp.StatusCode)
	default:
		return nil, retry.Permanent(fmt.Errorf("%w: HTTP %d", ErrProviderUnavailable, resp.StatusCode))
	}
}

// retryAfter parses the delay-seconds form of Retry-After
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func isTransient(err error) bool {
	return errors.Is(err, ErrProviderTimeout) ||
		errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrProviderRateLimit)
}
