// Package worker runs the periodic history refresh.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/portfolio-tracker/internal/logging"
	"github.com/portfolio-tracker/internal/service"
)

// AllRefresher refreshes every active instrument
type AllRefresher interface {
	RefreshAll(ctx context.Context, period string) (*service.RefreshSummary, error)
}

// TradingCalendar decides whether a day is worth a refresh
type TradingCalendar interface {
	IsTradingDay(t time.Time) bool
}

// RefreshWorker runs RefreshAll on an interval. Days that are not business
// days on the configured exchange are skipped; a new close only appears on
// a trading day.
type RefreshWorker struct {
	refresher AllRefresher
	calendar  TradingCalendar
	interval  time.Duration
	period    string
	now       func() time.Time

	mu          sync.RWMutex
	running     bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	lastRunTime time.Time
	lastSummary *service.RefreshSummary
	runs        int
	skipped     int
}

// RefreshWorkerConfig holds configuration for a refresh worker
type RefreshWorkerConfig struct {
	Refresher AllRefresher
	Calendar  TradingCalendar // nil refreshes every day
	Interval  time.Duration
	Period    string
}

// RefreshWorkerStatus is a snapshot of the worker state
type RefreshWorkerStatus struct {
	Running         bool      `json:"running"`
	LastRunTime     time.Time `json:"lastRunTime"`
	LastOK          int       `json:"lastOk"`
	LastFail        int       `json:"lastFail"`
	Runs            int       `json:"runs"`
	SkippedDays     int       `json:"skippedDays"`
	IntervalSeconds int       `json:"intervalSeconds"`
}

// NewRefreshWorker creates a refresh worker
func NewRefreshWorker(cfg *RefreshWorkerConfig) (*RefreshWorker, error) {
	if cfg.Refresher == nil {
		return nil, fmt.Errorf("refresher cannot be nil")
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = 6 * time.Hour
	}
	if interval < time.Minute {
		return nil, fmt.Errorf("refresh interval must be at least one minute, got %v", interval)
	}
	return &RefreshWorker{
		refresher: cfg.Refresher,
		calendar:  cfg.Calendar,
		interval:  interval,
		period:    cfg.Period,
		now:       time.Now,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start runs one refresh immediately and then one per interval
func (w *RefreshWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("refresh worker is already running")
	}
	w.running = true
	w.mu.Unlock()

	logging.FromContext(ctx).Infof("refresh worker started, interval %v", w.interval)
	go w.loop(ctx)
	return nil
}

// Stop signals the loop and waits for the current run to finish
func (w *RefreshWorker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return fmt.Errorf("refresh worker is not running")
	}
	w.mu.Unlock()

	close(w.stopCh)

	select {
	case <-w.doneCh:
	case <-ctx.Done():
		return ctx.Err()
	}

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
	return nil
}

func (w *RefreshWorker) loop(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}

func (w *RefreshWorker) tick(ctx context.Context) {
	if _, _, err := w.RunOnce(ctx); err != nil {
		logging.FromContext(ctx).WithError(err).Error("scheduled refresh failed")
	}
}

// RunOnce refreshes all instruments unless today is not a trading day.
// The bool reports whether the run happened.
func (w *RefreshWorker) RunOnce(ctx context.Context) (*service.RefreshSummary, bool, error) {
	log := logging.FromContext(ctx)
	now := w.now()

	if w.calendar != nil && !w.calendar.IsTradingDay(now) {
		w.mu.Lock()
		w.skipped++
		w.mu.Unlock()
		log.Infof("skipping refresh: %s is not a trading day", now.Format("2006-01-02"))
		return nil, false, nil
	}

	summary, err := w.refresher.RefreshAll(ctx, w.period)

	w.mu.Lock()
	w.runs++
	w.lastRunTime = now
	if summary != nil {
		w.lastSummary = summary
	}
	w.mu.Unlock()

	if err != nil {
		return summary, true, err
	}
	log.WithFields(map[string]interface{}{
		"ok":   summary.OK,
		"fail": summary.Fail,
	}).Info("scheduled refresh finished")
	return summary, true, nil
}

// GetStatus returns current worker status
func (w *RefreshWorker) GetStatus() *RefreshWorkerStatus {
	w.mu.RLock()
	defer w.mu.RUnlock()

	s := &RefreshWorkerStatus{
		Running:         w.running,
		LastRunTime:     w.lastRunTime,
		Runs:            w.runs,
		SkippedDays:     w.skipped,
		IntervalSeconds: int(w.interval.Seconds()),
	}
	if w.lastSummary != nil {
		s.LastOK, s.LastFail = w.lastSummary.OK, w.lastSummary.Fail
	}
	return s
}
