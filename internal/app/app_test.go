package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-tracker/internal/adapter"
	"github.com/portfolio-tracker/internal/circuitbreaker"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/ratelimit"
)

type fakeTable struct {
	rates []models.FxRate
	err   error
	calls int
}

func (f *fakeTable) FetchDaily(ctx context.Context, date time.Time) ([]models.FxRate, error) {
	f.calls++
	return f.rates, f.err
}

type denyBudget struct{}

func (denyBudget) Allow(ctx context.Context, provider string) (bool, error) { return false, nil }

func TestGuardedTable(t *testing.T) {
	inner := &fakeTable{rates: []models.FxRate{{Currency: "EUR", Rate: 25.1}}}
	table := &guardedTable{inner: inner, guard: adapter.NewGuard("CNB", nil, nil)}

	rates, err := table.FetchDaily(context.Background(), time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Len(t, rates, 1)
	assert.Equal(t, 1, inner.calls)
}

func TestGuardedTable_BudgetRefusal(t *testing.T) {
	inner := &fakeTable{}
	table := &guardedTable{inner: inner, guard: adapter.NewGuard("CNB", denyBudget{}, nil)}

	_, err := table.FetchDaily(context.Background(), time.Now())
	assert.ErrorIs(t, err, adapter.ErrProviderRateLimit)
	assert.Equal(t, 0, inner.calls)
}

func TestGuardedTable_FailuresOpenBreaker(t *testing.T) {
	cfg := adapter.BreakerConfig("CNB")
	cfg.MaxConsecutiveFails = 2
	inner := &fakeTable{err: errors.New("connection reset")}
	table := &guardedTable{inner: inner, guard: adapter.NewGuard("CNB", nil, circuitbreaker.NewCircuitBreaker(cfg))}

	for i := 0; i < 2; i++ {
		_, err := table.FetchDaily(context.Background(), time.Now())
		require.Error(t, err)
	}
	_, err := table.FetchDaily(context.Background(), time.Now())
	assert.ErrorIs(t, err, adapter.ErrProviderUnavailable)
	assert.Equal(t, 2, inner.calls)
}

func TestMaxDelay(t *testing.T) {
	assert.Equal(t, ratelimit.DefaultMaxDelay, maxDelay(300*time.Millisecond))
	assert.Equal(t, 64*time.Second, maxDelay(2*time.Second))
}
