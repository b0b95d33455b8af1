package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/portfolio-tracker/internal/types"
)

// Quote is a single price observation returned by a provider
type Quote struct {
	Symbol        string            `json:"symbol"`
	Price         float64           `json:"price"`
	Currency      string            `json:"currency"`
	CompanyName   string            `json:"companyName,omitempty"`
	Exchange      string            `json:"exchange,omitempty"`
	Change        *float64          `json:"change,omitempty"`
	ChangePercent *float64          `json:"changePercent,omitempty"`
	Source        types.QuoteSource `json:"source"`
	FetchedAt     time.Time         `json:"fetchedAt"`
}

// QuoteProvider fetches a current quote for one provider-specific symbol.
// Implementations return an error wrapping ErrNotFound when the symbol is
// unknown or the payload carries no positive price.
type QuoteProvider interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (*Quote, error)
}

// QuoteProviderFunc adapts a function to QuoteProvider
type QuoteProviderFunc struct {
	ProviderName string
	Fn           func(ctx context.Context, symbol string) (*Quote, error)
}

func (f QuoteProviderFunc) Name() string { return f.ProviderName }

func (f QuoteProviderFunc) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	return f.Fn(ctx, symbol)
}

var (
	// ErrNotFound indicates the provider has no usable price for the symbol
	ErrNotFound = errors.New("quote not found")

	// ErrProviderUnavailable indicates the provider could not be reached or is circuit-broken
	ErrProviderUnavailable = errors.New("quote provider unavailable")

	// ErrProviderRateLimit indicates the provider or local budget refused the call
	ErrProviderRateLimit = errors.New("provider rate limit exceeded")

	// ErrProviderTimeout indicates the provider request timed out
	ErrProviderTimeout = errors.New("provider request timeout")

	// ErrMalformedResponse indicates the payload could not be decoded
	ErrMalformedResponse = errors.New("malformed provider response")
)

// ProviderError wraps errors with the provider and symbol that produced them
type ProviderError struct {
	Provider string
	Op       string
	Symbol   string
	Err      error
	Details  map[string]interface{}
}

func (e *ProviderError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("provider error [%s:%s %s]: %v (details: %+v)", e.Provider, e.Op, e.Symbol, e.Err, e.Details)
	}
	return fmt.Sprintf("provider error [%s:%s %s]: %v", e.Provider, e.Op, e.Symbol, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError creates a new ProviderError
func NewProviderError(provider, op, symbol string, err error, details map[string]interface{}) *ProviderError {
	return &ProviderError{
		Provider: provider,
		Op:       op,
		Symbol:   symbol,
		Err:      err,
		Details:  details,
	}
}

// IsNotFound reports whether err means the provider simply had no data
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// ProviderHealth represents the health status of a quote provider
type ProviderHealth struct {
	Name             string        `json:"name"`
	TotalRequests    int64         `json:"totalRequests"`
	SuccessfulReqs   int64         `json:"successfulRequests"`
	NotFoundReqs     int64         `json:"notFoundRequests"`
	FailedReqs       int64         `json:"failedRequests"`
	SuccessRate      float64       `json:"successRate"`
	AverageLatency   time.Duration `json:"averageLatency"`
	LastSuccess      time.Time     `json:"lastSuccess"`
	LastFailure      time.Time     `json:"lastFailure"`
	ConsecutiveFails int           `json:"consecutiveFails"`
	IsHealthy        bool          `json:"isHealthy"`
}

// HealthTracker accumulates per-provider request outcomes. A not-found
// answer is a healthy response and does not count as a failure.
type HealthTracker struct {
	mu sync.RWMutex

	name             string
	totalRequests    int64
	successfulReqs   int64
	notFoundReqs     int64
	failedReqs       int64
	totalLatency     time.Duration
	lastSuccess      time.Time
	lastFailure      time.Time
	consecutiveFails int

	maxConsecutiveFails int
	minSuccessRate      float64
}

// NewHealthTracker creates a tracker with default thresholds
func NewHealthTracker(name string) *HealthTracker {
	return &HealthTracker{
		name:                name,
		maxConsecutiveFails: 5,
		minSuccessRate:      0.5,
	}
}

// Record classifies the outcome of one call
func (h *HealthTracker) Record(duration time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.totalRequests++
	h.totalLatency += duration
	switch {
	case err == nil:
		h.successfulReqs++
		h.lastSuccess = time.Now()
		h.consecutiveFails = 0
	case IsNotFound(err):
		h.notFoundReqs++
		h.consecutiveFails = 0
	default:
		h.failedReqs++
		h.lastFailure = time.Now()
		h.consecutiveFails++
	}
}

// GetHealth returns a snapshot of the tracked health
func (h *HealthTracker) GetHealth() *ProviderHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var successRate float64
	answered := h.successfulReqs + h.notFoundReqs
	if h.totalRequests > 0 {
		successRate = float64(answered) / float64(h.totalRequests)
	}
	var avgLatency time.Duration
	if h.totalRequests > 0 {
		avgLatency = h.totalLatency / time.Duration(h.totalRequests)
	}

	return &ProviderHealth{
		Name:             h.name,
		TotalRequests:    h.totalRequests,
		SuccessfulReqs:   h.successfulReqs,
		NotFoundReqs:     h.notFoundReqs,
		FailedReqs:       h.failedReqs,
		SuccessRate:      successRate,
		AverageLatency:   avgLatency,
		LastSuccess:      h.lastSuccess,
		LastFailure:      h.lastFailure,
		ConsecutiveFails: h.consecutiveFails,
		IsHealthy:        h.isHealthyLocked(successRate),
	}
}

// IsHealthy returns true if the provider is considered healthy
func (h *HealthTracker) IsHealthy() bool {
	return h.GetHealth().IsHealthy
}

func (h *HealthTracker) isHealthyLocked(successRate float64) bool {
	if h.consecutiveFails >= h.maxConsecutiveFails {
		return false
	}
	// Not enough samples to judge the rate yet
	if h.totalRequests < 10 {
		return true
	}
	return successRate >= h.minSuccessRate
}

// SetHealthThresholds configures health check thresholds
func (h *HealthTracker) SetHealthThresholds(maxConsecutiveFails int, minSuccessRate float64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if maxConsecutiveFails > 0 {
		h.maxConsecutiveFails = maxConsecutiveFails
	}
	if minSuccessRate > 0 && minSuccessRate <= 1 {
		h.minSuccessRate = minSuccessRate
	}
}
