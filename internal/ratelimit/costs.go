package ratelimit

import (
	"sort"
	"sync"
)

// DefaultProviderCost is charged for providers without an explicit cost
const DefaultProviderCost = 1

// Built-in costs per call. The crypto index API has the tightest public
// quota, so each call counts double.
var defaultProviderCosts = map[string]int{
	"google_scrape": 1,
	"yahoo":         1,
	"coingecko":     2,
	"CNB":           1,
}

// ProviderCostRegistry maps provider names to budget units per call.
// It is safe for concurrent use.
type ProviderCostRegistry struct {
	mu          sync.RWMutex
	costs       map[string]int
	defaultCost int
}

// NewProviderCostRegistry creates a registry with built-in costs plus overrides
func NewProviderCostRegistry(overrides map[string]int) *ProviderCostRegistry {
	r := &ProviderCostRegistry{
		costs:       make(map[string]int, len(defaultProviderCosts)+len(overrides)),
		defaultCost: DefaultProviderCost,
	}
	for k, v := range defaultProviderCosts {
		r.costs[k] = v
	}
	for k, v := range overrides {
		if v >= 0 {
			r.costs[k] = v
		}
	}
	return r
}

// GetCost returns the units charged per call to provider
func (r *ProviderCostRegistry) GetCost(provider string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if c, ok := r.costs[provider]; ok {
		return c
	}
	return r.defaultCost
}

// SetCost sets or replaces the cost of provider
func (r *ProviderCostRegistry) SetCost(provider string, cost int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.costs[provider] = cost
}

// KnownProviders returns the registered provider names, sorted
func (r *ProviderCostRegistry) KnownProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.costs))
	for k := range r.costs {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
