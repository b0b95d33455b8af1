package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/portfolio-tracker/internal/circuitbreaker"
	"github.com/portfolio-tracker/internal/logging"
)

// Budget grants or refuses outbound calls to a named provider
type Budget interface {
	Allow(ctx context.Context, provider string) (bool, error)
}

// Guard protects calls to one provider with a shared request budget, a
// circuit breaker and health tracking. Each part is optional.
type Guard struct {
	name    string
	budget  Budget
	breaker *circuitbreaker.CircuitBreaker
	health  *HealthTracker
}

// NewGuard creates a guard for provider name
func NewGuard(name string, budget Budget, breaker *circuitbreaker.CircuitBreaker) *Guard {
	return &Guard{
		name:    name,
		budget:  budget,
		breaker: breaker,
		health:  NewHealthTracker(name),
	}
}

// BreakerConfig is the circuit breaker template for quote providers: a
// not-found answer is a healthy response.
func BreakerConfig(name string) *circuitbreaker.Config {
	cfg := circuitbreaker.DefaultConfig(name)
	cfg.IsFailure = func(err error) bool {
		return err != nil && !IsNotFound(err)
	}
	return cfg
}

// Do runs fn unless the budget is exhausted or the breaker is open
func (g *Guard) Do(ctx context.Context, fn func() error) error {
	if g.budget != nil {
		ok, err := g.budget.Allow(ctx, g.name)
		if err != nil {
			// A broken budget store must not stop price resolution
			logging.FromContext(ctx).WithProvider(g.name).WithError(err).Warn("provider budget check failed")
		} else if !ok {
			return fmt.Errorf("%w: %s budget exhausted", ErrProviderRateLimit, g.name)
		}
	}

	start := time.Now()
	var err error
	if g.breaker != nil {
		err = g.breaker.Execute(ctx, fn)
		if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
			return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, g.name, err)
		}
	} else {
		err = fn()
	}
	g.health.Record(time.Since(start), err)
	return err
}

// Health returns the provider's tracked health
func (g *Guard) Health() *ProviderHealth {
	return g.health.GetHealth()
}

// GuardedProvider is a QuoteProvider behind a Guard
type GuardedProvider struct {
	inner QuoteProvider
	guard *Guard
}

// NewGuardedProvider wraps inner with guard
func NewGuardedProvider(inner QuoteProvider, guard *Guard) *GuardedProvider {
	return &GuardedProvider{inner: inner, guard: guard}
}

func (p *GuardedProvider) Name() string { return p.inner.Name() }

func (p *GuardedProvider) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	var q *Quote
	err := p.guard.Do(ctx, func() error {
		var err error
		q, err = p.inner.FetchQuote(ctx, symbol)
		return err
	})
	if err != nil {
		return nil, err
	}
	return q, nil
}

// Health returns the wrapped provider's tracked health
func (p *GuardedProvider) Health() *ProviderHealth {
	return p.guard.Health()
}

// SeriesSource serves daily closes and the fundamentals snapshot
type SeriesSource interface {
	FetchSeries(ctx context.Context, symbol string, start, end time.Time) (*Series, error)
	FetchSnapshot(ctx context.Context, symbol string) (*QuoteSnapshot, error)
}

// GuardedSeries is a SeriesSource behind a Guard. Share the guard with the
// quote side of the same provider so both draw on one budget and breaker.
type GuardedSeries struct {
	inner SeriesSource
	guard *Guard
}

// NewGuardedSeries wraps inner with guard
func NewGuardedSeries(inner SeriesSource, guard *Guard) *GuardedSeries {
	return &GuardedSeries{inner: inner, guard: guard}
}

func (s *GuardedSeries) FetchSeries(ctx context.Context, symbol string, start, end time.Time) (*Series, error) {
	var out *Series
	err := s.guard.Do(ctx, func() error {
		var err error
		out, err = s.inner.FetchSeries(ctx, symbol, start, end)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *GuardedSeries) FetchSnapshot(ctx context.Context, symbol string) (*QuoteSnapshot, error) {
	var out *QuoteSnapshot
	err := s.guard.Do(ctx, func() error {
		var err error
		out, err = s.inner.FetchSnapshot(ctx, symbol)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
