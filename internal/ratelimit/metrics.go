package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/portfolio-tracker/internal/logging"
)

// Redis key prefixes for throttle tracking.
const (
	KeyPrefixThrottle = "budget:throttle:count:"
	KeyPrefixWaitTime = "budget:throttle:waittime:"
)

// BudgetMetrics is a snapshot of provider budget state.
type BudgetMetrics struct {
	Providers     []*UsageStats `json:"providers"`
	ThrottleCount int64         `json:"throttleCount"`
	WaitTimeTotal time.Duration `json:"waitTimeTotal"`
	CollectedAt   time.Time     `json:"collectedAt"`
}

// MetricsCollector aggregates per-provider usage and throttle events.
type MetricsCollector struct {
	budget *ProviderBudget
	redis  redis.Cmdable

	localThrottleCount int64
	localWaitTimeNs    int64
}

// NewMetricsCollector creates a new metrics collector.
func NewMetricsCollector(budget *ProviderBudget, rdb redis.Cmdable) (*MetricsCollector, error) {
	if budget == nil {
		return nil, fmt.Errorf("budget is required")
	}
	if rdb == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	return &MetricsCollector{budget: budget, redis: rdb}, nil
}

// RecordThrottle records a refused or delayed call. Redis counters are best-effort.
func (m *MetricsCollector) RecordThrottle(ctx context.Context, waitTime time.Duration) {
	atomic.AddInt64(&m.localThrottleCount, 1)
	atomic.AddInt64(&m.localWaitTimeNs, int64(waitTime))

	minuteTS := time.Now().Truncate(time.Minute).Unix()
	throttleKey := fmt.Sprintf("%s%d", KeyPrefixThrottle, minuteTS)
	waitTimeKey := fmt.Sprintf("%s%d", KeyPrefixWaitTime, minuteTS)

	pipe := m.redis.Pipeline()
	pipe.Incr(ctx, throttleKey)
	pipe.Expire(ctx, throttleKey, 5*time.Minute)
	pipe.IncrBy(ctx, waitTimeKey, int64(waitTime))
	pipe.Expire(ctx, waitTimeKey, 5*time.Minute)
	pipe.Exec(ctx)
}

// GetMetrics collects usage for every provider with a registered cost.
func (m *MetricsCollector) GetMetrics(ctx context.Context) (*BudgetMetrics, error) {
	providers := m.budget.Providers()
	out := &BudgetMetrics{
		Providers:   make([]*UsageStats, 0, len(providers)),
		CollectedAt: time.Now(),
	}
	for _, p := range providers {
		usage, err := m.budget.GetUsage(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("failed to get usage stats: %w", err)
		}
		out.Providers = append(out.Providers, usage)
	}
	out.ThrottleCount, out.WaitTimeTotal = m.getThrottleMetrics(ctx)
	return out, nil
}

// getThrottleMetrics returns the larger of the local and the Redis counters.
func (m *MetricsCollector) getThrottleMetrics(ctx context.Context) (int64, time.Duration) {
	localCount := atomic.LoadInt64(&m.localThrottleCount)
	localWaitNs := atomic.LoadInt64(&m.localWaitTimeNs)

	minuteTS := time.Now().Truncate(time.Minute).Unix()
	pipe := m.redis.Pipeline()
	throttleCmd := pipe.Get(ctx, fmt.Sprintf("%s%d", KeyPrefixThrottle, minuteTS))
	waitTimeCmd := pipe.Get(ctx, fmt.Sprintf("%s%d", KeyPrefixWaitTime, minuteTS))
	pipe.Exec(ctx)

	redisCount, _ := throttleCmd.Int64()
	redisWaitNs, _ := waitTimeCmd.Int64()

	if redisCount > localCount {
		localCount = redisCount
	}
	if redisWaitNs > localWaitNs {
		localWaitNs = redisWaitNs
	}
	return localCount, time.Duration(localWaitNs)
}

// GetLocalThrottleCount returns the throttle count for this process.
func (m *MetricsCollector) GetLocalThrottleCount() int64 {
	return atomic.LoadInt64(&m.localThrottleCount)
}

// String returns a human-readable summary.
func (bm *BudgetMetrics) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Provider budget (collected at %s):\n", bm.CollectedAt.Format(time.RFC3339)))
	for _, u := range bm.Providers {
		sb.WriteString(fmt.Sprintf("  %s: %d/%d (%.1f%%) reserved %d/%d shared %d/%d\n",
			u.Provider, u.TotalUsed, u.TotalBudget, u.Utilization(),
			u.ReservedUsed, u.ReservedBudget, u.SharedUsed, u.SharedBudget))
	}
	sb.WriteString(fmt.Sprintf("  Throttle Count: %d\n", bm.ThrottleCount))
	sb.WriteString(fmt.Sprintf("  Total Wait Time: %v\n", bm.WaitTimeTotal))
	return sb.String()
}

// DefaultMetricsLogInterval is the default interval for logging metrics.
const DefaultMetricsLogInterval = time.Minute

// MetricsLogger periodically logs provider budget usage.
type MetricsLogger struct {
	collector        *MetricsCollector
	interval         time.Duration
	warningThreshold int
	logger           *logging.Logger

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewMetricsLogger creates a logger; interval 0 means DefaultMetricsLogInterval.
func NewMetricsLogger(collector *MetricsCollector, logger *logging.Logger, interval time.Duration, warningThreshold int) (*MetricsLogger, error) {
	if collector == nil {
		return nil, fmt.Errorf("metrics collector is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if interval == 0 {
		interval = DefaultMetricsLogInterval
	}
	if warningThreshold == 0 {
		warningThreshold = DefaultWarningThreshold
	}
	return &MetricsLogger{
		collector:        collector,
		interval:         interval,
		warningThreshold: warningThreshold,
		logger:           logger,
		stopCh:           make(chan struct{}),
		doneCh:           make(chan struct{}),
	}, nil
}

// Start begins periodic logging in a background goroutine.
func (l *MetricsLogger) Start(ctx context.Context) {
	go l.run(ctx)
}

// Stop stops the periodic logging and waits for cleanup.
func (l *MetricsLogger) Stop() {
	close(l.stopCh)
	<-l.doneCh
}

func (l *MetricsLogger) run(ctx context.Context) {
	defer close(l.doneCh)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.LogNow(ctx)
		}
	}
}

// LogNow logs the current usage of every provider.
func (l *MetricsLogger) LogNow(ctx context.Context) {
	metrics, err := l.collector.GetMetrics(ctx)
	if err != nil {
		l.logger.WithError(err).Warn("failed to collect provider budget metrics")
		return
	}

	for _, u := range metrics.Providers {
		if u.TotalUsed == 0 {
			continue
		}
		util := u.Utilization()
		pl := l.logger.WithProvider(u.Provider)
		pl.WithFields(map[string]interface{}{
			"total_usage":     u.TotalUsed,
			"total_budget":    u.TotalBudget,
			"utilization_pct": fmt.Sprintf("%.1f", util),
			"reserved_usage":  u.ReservedUsed,
			"shared_usage":    u.SharedUsed,
		}).Info("provider budget usage")
		if util >= float64(l.warningThreshold) {
			pl.WithFields(map[string]interface{}{
				"utilization_pct": fmt.Sprintf("%.1f", util),
				"threshold_pct":   l.warningThreshold,
			}).Warn("provider budget above warning threshold")
		}
	}
	if metrics.ThrottleCount > 0 {
		l.logger.WithFields(map[string]interface{}{
			"throttle_count":  metrics.ThrottleCount,
			"total_wait_time": metrics.WaitTimeTotal.String(),
		}).Info("provider throttling")
	}
}

// MeteredBudget is a ProviderBudget that records every refusal with the
// collector, so throttling shows up in the periodic usage log.
type MeteredBudget struct {
	budget    *ProviderBudget
	collector *MetricsCollector
}

// NewMeteredBudget wraps budget. A nil collector records nothing.
func NewMeteredBudget(budget *ProviderBudget, collector *MetricsCollector) *MeteredBudget {
	return &MeteredBudget{budget: budget, collector: collector}
}

// Allow charges one call using the priority carried by ctx
func (m *MeteredBudget) Allow(ctx context.Context, provider string) (bool, error) {
	ok, wait, err := m.budget.TryConsume(ctx, provider, PriorityFrom(ctx))
	if err == nil && !ok && m.collector != nil {
		m.collector.RecordThrottle(ctx, wait)
	}
	return ok, err
}
