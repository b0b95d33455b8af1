// Package ratelimit coordinates outbound market-data provider calls across
// processes: a Redis-backed per-provider budget with a reserved share for
// interactive requests, and a pacer for batch loops.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Default budget configuration values.
const (
	DefaultTotalBudget    = 120
	DefaultReservedBudget = 60
	DefaultWindowSize     = time.Minute
)

// Redis key prefix for provider budget tracking.
const KeyPrefixBudget = "budget:"

// Priority selects the budget pool a call draws from.
type Priority int

const (
	// PriorityInteractive is for user-triggered resolves (uses the reserved pool).
	PriorityInteractive Priority = iota
	// PriorityBatch is for refresh-all and imports (uses the shared pool).
	PriorityBatch
)

// String returns a string representation of the priority level.
func (p Priority) String() string {
	switch p {
	case PriorityInteractive:
		return "interactive"
	case PriorityBatch:
		return "batch"
	default:
		return "unknown"
	}
}

type priorityKey struct{}

// WithPriority tags ctx so budget checks draw from the matching pool
func WithPriority(ctx context.Context, p Priority) context.Context {
	return context.WithValue(ctx, priorityKey{}, p)
}

// PriorityFrom returns the priority carried by ctx, interactive by default
func PriorityFrom(ctx context.Context) Priority {
	if p, ok := ctx.Value(priorityKey{}).(Priority); ok {
		return p
	}
	return PriorityInteractive
}

// ProviderBudget tracks calls per provider in fixed Redis windows. Each
// provider has its own total budget split into a reserved pool for
// interactive calls and a shared pool for batch work.
type ProviderBudget struct {
	redis          redis.Cmdable
	costs          *ProviderCostRegistry
	totalBudget    int
	reservedBudget int
	sharedBudget   int
	windowSize     time.Duration
	keyTTL         time.Duration
	now            func() time.Time
}

// ProviderBudgetConfig holds configuration for the budget.
type ProviderBudgetConfig struct {
	// Redis is required; the budget is shared between server and worker processes.
	Redis redis.Cmdable

	// Costs maps providers to units per call. Nil uses the built-in costs.
	Costs *ProviderCostRegistry

	TotalBudget    int
	ReservedBudget int
	WindowSize     time.Duration
}

// UsageStats contains the consumption of one provider in the current window.
type UsageStats struct {
	Provider       string    `json:"provider"`
	TotalUsed      int       `json:"totalUsed"`
	ReservedUsed   int       `json:"reservedUsed"`
	SharedUsed     int       `json:"sharedUsed"`
	TotalBudget    int       `json:"totalBudget"`
	ReservedBudget int       `json:"reservedBudget"`
	SharedBudget   int       `json:"sharedBudget"`
	WindowStart    time.Time `json:"windowStart"`
}

// Utilization is the share of the total budget used, in percent
func (s *UsageStats) Utilization() float64 {
	if s.TotalBudget == 0 {
		return 100
	}
	return float64(s.TotalUsed) * 100 / float64(s.TotalBudget)
}

// Validate checks if the configuration is valid.
func (c *ProviderBudgetConfig) Validate() error {
	if c.Redis == nil {
		return errors.New("redis client is required")
	}
	if c.TotalBudget < 0 {
		return errors.New("total budget cannot be negative")
	}
	if c.ReservedBudget < 0 {
		return errors.New("reserved budget cannot be negative")
	}

	total, reserved := c.budgets()
	if reserved > total {
		return fmt.Errorf("reserved budget (%d) cannot exceed total budget (%d)", reserved, total)
	}
	return nil
}

// budgets applies defaults when no total is configured. A configured total
// keeps its reserved value as given, including zero.
func (c *ProviderBudgetConfig) budgets() (total, reserved int) {
	if c.TotalBudget == 0 {
		return DefaultTotalBudget, DefaultReservedBudget
	}
	return c.TotalBudget, c.ReservedBudget
}

// NewProviderBudget creates a budget with the given configuration.
func NewProviderBudget(cfg *ProviderBudgetConfig) (*ProviderBudget, error) {
	if cfg == nil {
		return nil, errors.New("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	total, reserved := cfg.budgets()
	window := cfg.WindowSize
	if window == 0 {
		window = DefaultWindowSize
	}
	costs := cfg.Costs
	if costs == nil {
		costs = NewProviderCostRegistry(nil)
	}

	return &ProviderBudget{
		redis:          cfg.Redis,
		costs:          costs,
		totalBudget:    total,
		reservedBudget: reserved,
		sharedBudget:   total - reserved,
		windowSize:     window,
		keyTTL:         2 * window,
		now:            time.Now,
	}, nil
}

func (b *ProviderBudget) windowTimestamp() int64 {
	return b.now().Truncate(b.windowSize).UnixMilli()
}

func (b *ProviderBudget) keys(provider string, windowTS int64) (totalKey, reservedKey, sharedKey string) {
	ts := strconv.FormatInt(windowTS, 10)
	prefix := KeyPrefixBudget + provider + ":"
	return prefix + "total:" + ts, prefix + "reserved:" + ts, prefix + "shared:" + ts
}

// consumeScript atomically checks both the total and the pool counter
var consumeScript = redis.NewScript(`
	local totalKey = KEYS[1]
	local poolKey = KEYS[2]
	local units = tonumber(ARGV[1])
	local totalBudget = tonumber(ARGV[2])
	local poolBudget = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])

	local totalUsed = tonumber(redis.call('GET', totalKey) or '0')
	local poolUsed = tonumber(redis.call('GET', poolKey) or '0')

	if totalUsed + units > totalBudget then
		return {0, totalUsed, poolUsed}
	end
	if poolUsed + units > poolBudget then
		return {0, totalUsed, poolUsed}
	end

	redis.call('INCRBY', totalKey, units)
	redis.call('EXPIRE', totalKey, ttl)
	redis.call('INCRBY', poolKey, units)
	redis.call('EXPIRE', poolKey, ttl)

	return {1, totalUsed + units, poolUsed + units}
`)

// TryConsume charges one call to provider against the pool for priority.
// When refused it returns the time until the next window.
func (b *ProviderBudget) TryConsume(ctx context.Context, provider string, priority Priority) (bool, time.Duration, error) {
	units := b.costs.GetCost(provider)
	if units <= 0 {
		return true, 0, nil
	}

	windowTS := b.windowTimestamp()
	totalKey, reservedKey, sharedKey := b.keys(provider, windowTS)

	poolKey, poolBudget := reservedKey, b.reservedBudget
	if priority == PriorityBatch {
		poolKey, poolBudget = sharedKey, b.sharedBudget
	}

	ttl := int(b.keyTTL.Seconds())
	if ttl < 1 {
		ttl = 1
	}

	result, err := consumeScript.Run(ctx, b.redis, []string{totalKey, poolKey},
		units, b.totalBudget, poolBudget, ttl).Int64Slice()
	if err != nil {
		return false, 0, fmt.Errorf("budget check for %s: %w", provider, err)
	}
	if result[0] != 1 {
		return false, b.waitTime(windowTS), nil
	}
	return true, 0, nil
}

// Allow charges one call using the priority carried by ctx
func (b *ProviderBudget) Allow(ctx context.Context, provider string) (bool, error) {
	ok, _, err := b.TryConsume(ctx, provider, PriorityFrom(ctx))
	return ok, err
}

func (b *ProviderBudget) waitTime(windowTS int64) time.Duration {
	end := time.UnixMilli(windowTS).Add(b.windowSize)
	wait := end.Sub(b.now())
	if wait < 0 {
		wait = 0
	}
	return wait + time.Millisecond
}

// GetUsage returns the current window usage of provider.
func (b *ProviderBudget) GetUsage(ctx context.Context, provider string) (*UsageStats, error) {
	windowTS := b.windowTimestamp()
	totalKey, reservedKey, sharedKey := b.keys(provider, windowTS)

	pipe := b.redis.Pipeline()
	totalCmd := pipe.Get(ctx, totalKey)
	reservedCmd := pipe.Get(ctx, reservedKey)
	sharedCmd := pipe.Get(ctx, sharedKey)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read budget usage: %w", err)
	}

	return &UsageStats{
		Provider:       provider,
		TotalUsed:      parseIntOrZero(totalCmd),
		ReservedUsed:   parseIntOrZero(reservedCmd),
		SharedUsed:     parseIntOrZero(sharedCmd),
		TotalBudget:    b.totalBudget,
		ReservedBudget: b.reservedBudget,
		SharedBudget:   b.sharedBudget,
		WindowStart:    time.UnixMilli(windowTS),
	}, nil
}

func parseIntOrZero(cmd *redis.StringCmd) int {
	val, err := cmd.Int()
	if err != nil {
		return 0
	}
	return val
}

// IsPauseThreshold reports whether provider usage is at or above pct percent
func (b *ProviderBudget) IsPauseThreshold(ctx context.Context, provider string, pct int) (bool, error) {
	usage, err := b.GetUsage(ctx, provider)
	if err != nil {
		return false, err
	}
	return usage.Utilization() >= float64(pct), nil
}

// Providers lists the providers with a configured cost
func (b *ProviderBudget) Providers() []string {
	return b.costs.KnownProviders()
}
