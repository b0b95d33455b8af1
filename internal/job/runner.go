package job

import (
	"context"
	"time"

	"github.com/portfolio-tracker/internal/logging"
	"github.com/portfolio-tracker/internal/service"
	"github.com/portfolio-tracker/internal/types"
)

// Refresher runs history refreshes
type Refresher interface {
	Refresh(ctx context.Context, ticker, period string) (*service.RefreshResult, error)
	RefreshAll(ctx context.Context, period string) (*service.RefreshSummary, error)
}

// Runner drains the refresh queue one job at a time
type Runner struct {
	queue     *RefreshQueue
	refresher Refresher
	poll      time.Duration
}

// NewRunner creates a runner that waits up to poll for each job
func NewRunner(queue *RefreshQueue, refresher Refresher, poll time.Duration) *Runner {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Runner{queue: queue, refresher: refresher, poll: poll}
}

// Run processes jobs until ctx is cancelled
func (r *Runner) Run(ctx context.Context) error {
	log := logging.FromContext(ctx)
	log.Info("refresh job runner started")
	for {
		if _, err := r.ProcessNext(ctx); err != nil {
			if ctx.Err() != nil {
				log.Info("refresh job runner stopped")
				return nil
			}
			log.WithError(err).Error("refresh job failed")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(r.poll):
			}
		}
	}
}

// ProcessNext runs at most one job. It reports whether a job was taken.
func (r *Runner) ProcessNext(ctx context.Context) (bool, error) {
	job, err := r.queue.Dequeue(ctx, r.poll)
	if err != nil || job == nil {
		return false, err
	}

	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"job_id":            job.ID,
		logging.FieldTicker: job.Ticker,
	})
	started := time.Now()

	var ok, fail int
	var runErr error
	if job.IsAll() {
		var summary *service.RefreshSummary
		summary, runErr = r.refresher.RefreshAll(ctx, job.Period)
		if summary != nil {
			ok, fail = summary.OK, summary.Fail
		}
	} else {
		var res *service.RefreshResult
		res, runErr = r.refresher.Refresh(ctx, job.Ticker, job.Period)
		if res != nil {
			if res.Status == types.RefreshOK {
				ok = 1
			} else {
				fail = 1
			}
		}
	}

	// the job outcome is written even when ctx was cancelled mid-run
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.queue.Finish(finishCtx, job, ok, fail, runErr); err != nil {
		return true, err
	}

	log.WithFields(map[string]interface{}{
		"ok":          ok,
		"fail":        fail,
		"duration_ms": time.Since(started).Milliseconds(),
	}).Info("refresh job finished")
	return true, runErr
}
