package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Default pacer configuration values.
const (
	DefaultBaseDelay = 250 * time.Millisecond
	DefaultMaxDelay  = 30 * time.Second
)

// ErrContextCancelled is returned when the context is cancelled while waiting for budget.
var ErrContextCancelled = errors.New("context cancelled while waiting for budget")

// BatchPacer spaces out batch refresh work. Between items it waits for the
// shared budget pool and backs off exponentially while the pool is exhausted.
type BatchPacer struct {
	budget           *ProviderBudget
	pauseThreshold   int
	baseDelay        time.Duration
	maxDelay         time.Duration
	currentDelay     time.Duration
	consecutiveFails int
	mu               sync.Mutex
}

// BatchPacerConfig holds configuration for the pacer.
type BatchPacerConfig struct {
	// Budget is required.
	Budget *ProviderBudget

	// PauseThreshold is the utilization percentage at which ShouldPause reports true.
	PauseThreshold int

	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// Validate checks if the configuration is valid.
func (c *BatchPacerConfig) Validate() error {
	if c.Budget == nil {
		return errors.New("budget is required")
	}
	if c.BaseDelay < 0 {
		return errors.New("base delay cannot be negative")
	}
	if c.MaxDelay < 0 {
		return errors.New("max delay cannot be negative")
	}
	if c.MaxDelay > 0 && c.BaseDelay > 0 && c.BaseDelay > c.MaxDelay {
		return errors.New("base delay cannot exceed max delay")
	}
	return nil
}

// NewBatchPacer creates a pacer with the given configuration.
func NewBatchPacer(cfg *BatchPacerConfig) (*BatchPacer, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = DefaultBaseDelay
	}
	maxDelay := cfg.MaxDelay
	if maxDelay == 0 {
		maxDelay = DefaultMaxDelay
	}
	pause := cfg.PauseThreshold
	if pause == 0 {
		pause = DefaultPauseThreshold
	}

	return &BatchPacer{
		budget:         cfg.Budget,
		pauseThreshold: pause,
		baseDelay:      baseDelay,
		maxDelay:       maxDelay,
		currentDelay:   baseDelay,
	}, nil
}

// WaitForBudget blocks until the shared pool admits one call to provider
// and charges it. Use it in front of providers that are not wrapped by an
// adapter.Guard, which charges on its own.
func (p *BatchPacer) WaitForBudget(ctx context.Context, provider string) error {
	for {
		select {
		case <-ctx.Done():
			return ErrContextCancelled
		default:
		}

		allowed, waitTime, err := p.budget.TryConsume(ctx, provider, PriorityBatch)
		if err != nil {
			// Redis unavailable: pace by delay only.
			allowed = true
		}
		if allowed {
			p.RecordSuccess()
			return nil
		}

		p.RecordFailure()

		p.mu.Lock()
		delay := p.currentDelay
		p.mu.Unlock()
		if waitTime > delay {
			delay = waitTime
		}

		select {
		case <-ctx.Done():
			return ErrContextCancelled
		case <-time.After(delay):
		}
	}
}

// Sleep waits the current inter-item delay.
func (p *BatchPacer) Sleep(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ErrContextCancelled
	case <-time.After(p.GetCurrentDelay()):
		return nil
	}
}

// RecordSuccess resets backoff.
func (p *BatchPacer) RecordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.consecutiveFails = 0
	p.currentDelay = p.baseDelay
}

// RecordFailure doubles the delay up to the maximum.
func (p *BatchPacer) RecordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.consecutiveFails++

	newDelay := p.baseDelay
	for i := 0; i < p.consecutiveFails; i++ {
		newDelay *= 2
		if newDelay > p.maxDelay {
			newDelay = p.maxDelay
			break
		}
	}
	p.currentDelay = newDelay
}

// ShouldPause reports whether provider usage crossed the pause threshold.
// Errors count as a pause.
func (p *BatchPacer) ShouldPause(ctx context.Context, provider string) bool {
	isPause, err := p.budget.IsPauseThreshold(ctx, provider, p.pauseThreshold)
	if err != nil {
		return true
	}
	return isPause
}

// GetCurrentDelay returns the current backoff delay.
func (p *BatchPacer) GetCurrentDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.currentDelay
}

// GetConsecutiveFailures returns the number of consecutive failures.
func (p *BatchPacer) GetConsecutiveFailures() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.consecutiveFails
}
