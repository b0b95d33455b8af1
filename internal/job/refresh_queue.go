// Package job queues history refreshes requested through the API so the
// worker process can run them outside the request.
package job

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/logging"
	"github.com/portfolio-tracker/internal/types"
)

// Status of a refresh job
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

const (
	queueKey     = "refresh:queue"
	jobKeyPrefix = "refresh:job:"
	pendingKey   = "refresh:pending:"
	jobTTL       = 7 * 24 * time.Hour
)

// RefreshJob is one queued history refresh
type RefreshJob struct {
	ID          string     `json:"id"`
	Ticker      string     `json:"ticker"`
	Period      string     `json:"period"`
	RequestedBy string     `json:"requestedBy,omitempty"`
	Status      Status     `json:"status"`
	EnqueuedAt  time.Time  `json:"enqueuedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
	OK          int        `json:"ok"`
	Fail        int        `json:"fail"`
	Error       string     `json:"error,omitempty"`
}

// Done reports whether the job reached a final state
func (j *RefreshJob) Done() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// RefreshQueue is a FIFO of refresh jobs in a Redis list. Job state lives in
// its own key so the API can report progress after the worker pops it.
// At most one job per (ticker, period) waits in the queue at a time.
type RefreshQueue struct {
	client *redis.Client
	now    func() time.Time
}

// NewRefreshQueue creates a queue on client
func NewRefreshQueue(client *redis.Client) *RefreshQueue {
	return &RefreshQueue{client: client, now: time.Now}
}

// Enqueue adds a job, or returns the job already waiting for the same
// ticker and period. The bool is true when a new job was created.
func (q *RefreshQueue) Enqueue(ctx context.Context, ticker, period, requestedBy string) (*RefreshJob, bool, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, false, errors.NewInvalidParameterError("ticker", "ticker is required")
	}

	job := &RefreshJob{
		ID:          uuid.NewString(),
		Ticker:      ticker,
		Period:      strings.TrimSpace(period),
		RequestedBy: requestedBy,
		Status:      StatusQueued,
		EnqueuedAt:  q.now().UTC(),
	}

	pk := pendingKey + job.Ticker + "|" + job.Period
	claimed, err := q.client.SetNX(ctx, pk, job.ID, jobTTL).Result()
	if err != nil {
		return nil, false, errors.NewCacheError("claim refresh job", err)
	}
	if !claimed {
		existingID, err := q.client.Get(ctx, pk).Result()
		if err == nil {
			if existing, err := q.Get(ctx, existingID); err == nil && existing != nil && !existing.Done() {
				return existing, false, nil
			}
		}
		// stale marker: take it over
		if err := q.client.Set(ctx, pk, job.ID, jobTTL).Err(); err != nil {
			return nil, false, errors.NewCacheError("claim refresh job", err)
		}
	}

	if err := q.save(ctx, job); err != nil {
		return nil, false, err
	}
	if err := q.client.LPush(ctx, queueKey, job.ID).Err(); err != nil {
		return nil, false, errors.NewCacheError("enqueue refresh job", err)
	}

	logging.FromContext(ctx).WithFields(map[string]interface{}{
		"job_id":            job.ID,
		logging.FieldTicker: job.Ticker,
		"period":            job.Period,
	}).Info("refresh job queued")
	return job, true, nil
}

// Dequeue blocks up to timeout for the next job and marks it running.
// It returns nil, nil when the queue stayed empty.
func (q *RefreshQueue) Dequeue(ctx context.Context, timeout time.Duration) (*RefreshJob, error) {
	res, err := q.client.BRPop(ctx, timeout, queueKey).Result()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.NewCacheError("dequeue refresh job", err)
	}

	job, err := q.Get(ctx, res[1])
	if err != nil {
		return nil, err
	}
	if job == nil {
		// state expired; nothing to run
		return nil, nil
	}
	started := q.now().UTC()
	job.Status = StatusRunning
	job.StartedAt = &started
	if err := q.client.Del(ctx, pendingKey+job.Ticker+"|"+job.Period).Err(); err != nil {
		return nil, errors.NewCacheError("release refresh job", err)
	}
	return job, q.save(ctx, job)
}

// Finish records the outcome of a job
func (q *RefreshQueue) Finish(ctx context.Context, job *RefreshJob, ok, fail int, runErr error) error {
	finished := q.now().UTC()
	job.FinishedAt = &finished
	job.OK, job.Fail = ok, fail
	job.Status = StatusCompleted
	if runErr != nil {
		job.Status = StatusFailed
		job.Error = runErr.Error()
	}
	return q.save(ctx, job)
}

// Get loads a job; a missing or expired job is nil, nil
func (q *RefreshQueue) Get(ctx context.Context, id string) (*RefreshJob, error) {
	raw, err := q.client.Get(ctx, jobKeyPrefix+id).Bytes()
	if stderrors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewCacheError("get refresh job", err)
	}
	var job RefreshJob
	if err := json.Unmarshal(raw, &job); err != nil {
		return nil, fmt.Errorf("decode refresh job %s: %w", id, err)
	}
	return &job, nil
}

// Len returns the number of waiting jobs
func (q *RefreshQueue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, queueKey).Result()
	if err != nil {
		return 0, errors.NewCacheError("queue length", err)
	}
	return n, nil
}

func (q *RefreshQueue) save(ctx context.Context, job *RefreshJob) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode refresh job: %w", err)
	}
	if err := q.client.Set(ctx, jobKeyPrefix+job.ID, raw, jobTTL).Err(); err != nil {
		return errors.NewCacheError("save refresh job", err)
	}
	return nil
}

// IsAll reports whether the job covers every active instrument
func (j *RefreshJob) IsAll() bool {
	return j.Ticker == types.AllInstruments
}
