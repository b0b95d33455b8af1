package adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-tracker/internal/circuitbreaker"
)

type stubBudget struct {
	allow bool
	err   error
	calls int
}

func (b *stubBudget) Allow(ctx context.Context, provider string) (bool, error) {
	b.calls++
	return b.allow, b.err
}

func TestGuard_BudgetExhausted(t *testing.T) {
	budget := &stubBudget{allow: false}
	g := NewGuard("yahoo", budget, nil)

	called := false
	err := g.Do(context.Background(), func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrProviderRateLimit)
	assert.False(t, called)
}

func TestGuard_BudgetStoreErrorFailsOpen(t *testing.T) {
	g := NewGuard("yahoo", &stubBudget{err: errors.New("redis down")}, nil)
	called := false
	require.NoError(t, g.Do(context.Background(), func() error { called = true; return nil }))
	assert.True(t, called)
}

func TestGuard_NotFoundDoesNotTripBreaker(t *testing.T) {
	cfg := BreakerConfig("google_scrape")
	cfg.MaxConsecutiveFails = 2
	g := NewGuard("google_scrape", nil, circuitbreaker.NewCircuitBreaker(cfg))

	for i := 0; i < 5; i++ {
		err := g.Do(context.Background(), func() error { return fmt.Errorf("%w: x", ErrNotFound) })
		assert.True(t, IsNotFound(err))
	}
	health := g.Health()
	assert.Equal(t, int64(5), health.NotFoundReqs)
	assert.Equal(t, int64(0), health.FailedReqs)
	assert.True(t, health.IsHealthy)
}

func TestGuard_OpenBreakerIsUnavailable(t *testing.T) {
	cfg := BreakerConfig("yahoo")
	cfg.MaxConsecutiveFails = 2
	g := NewGuard("yahoo", nil, circuitbreaker.NewCircuitBreaker(cfg))

	for i := 0; i < 2; i++ {
		_ = g.Do(context.Background(), func() error { return ErrProviderTimeout })
	}
	called := false
	err := g.Do(context.Background(), func() error { called = true; return nil })
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.False(t, called)
}

func TestGuardedProvider(t *testing.T) {
	var calls []string
	inner := fakeProvider(map[string]float64{"AAPL": 190}, &calls)
	p := NewGuardedProvider(inner, NewGuard("fake", &stubBudget{allow: true}, nil))

	q, err := p.FetchQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 190.0, q.Price)
	assert.Equal(t, "fake", p.Name())
	assert.Equal(t, int64(1), p.Health().SuccessfulReqs)
}

func TestHealthTracker_UnhealthyAfterConsecutiveFailures(t *testing.T) {
	h := NewHealthTracker("x")
	h.SetHealthThresholds(3, 0.5)
	for i := 0; i < 3; i++ {
		h.Record(0, ErrProviderUnavailable)
	}
	assert.False(t, h.IsHealthy())
	h.Record(0, nil)
	assert.True(t, h.IsHealthy())
}

type stubSeries struct {
	calls int
}

func (s *stubSeries) FetchSeries(ctx context.Context, symbol string, start, end time.Time) (*Series, error) {
	s.calls++
	return &Series{Symbol: symbol}, nil
}

func (s *stubSeries) FetchSnapshot(ctx context.Context, symbol string) (*QuoteSnapshot, error) {
	s.calls++
	return &QuoteSnapshot{}, nil
}

func TestGuardedSeries_SharesBudgetWithQuotes(t *testing.T) {
	budget := &stubBudget{allow: true}
	guard := NewGuard("yahoo", budget, nil)
	var calls []string
	quotes := NewGuardedProvider(fakeProvider(map[string]float64{"AAPL": 1}, &calls), guard)
	inner := &stubSeries{}
	series := NewGuardedSeries(inner, guard)

	_, err := quotes.FetchQuote(context.Background(), "AAPL")
	require.NoError(t, err)
	s, err := series.FetchSeries(context.Background(), "AAPL", time.Now().AddDate(-1, 0, 0), time.Now())
	require.NoError(t, err)
	assert.Equal(t, "AAPL", s.Symbol)
	_, err = series.FetchSnapshot(context.Background(), "AAPL")
	require.NoError(t, err)

	assert.Equal(t, 3, budget.calls)
	assert.Equal(t, int64(3), guard.Health().SuccessfulReqs)

	budget.allow = false
	_, err = series.FetchSeries(context.Background(), "AAPL", time.Now(), time.Now())
	assert.ErrorIs(t, err, ErrProviderRateLimit)
	assert.Equal(t, 2, inner.calls)
}
