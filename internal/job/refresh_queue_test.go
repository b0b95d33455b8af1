package job

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-tracker/internal/service"
	"github.com/portfolio-tracker/internal/types"
)

func newTestQueue(t *testing.T) (*RefreshQueue, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRefreshQueue(client), mr
}

type fakeRefresher struct {
	tickers []string
	summary *service.RefreshSummary
	result  *service.RefreshResult
	err     error
}

func (f *fakeRefresher) Refresh(ctx context.Context, ticker, period string) (*service.RefreshResult, error) {
	f.tickers = append(f.tickers, ticker)
	return f.result, f.err
}

func (f *fakeRefresher) RefreshAll(ctx context.Context, period string) (*service.RefreshSummary, error) {
	f.tickers = append(f.tickers, types.AllInstruments)
	return f.summary, f.err
}

func TestEnqueue_CoalescesWaitingJobs(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	first, created, err := q.Enqueue(ctx, "all", "", "user-1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, types.AllInstruments, first.Ticker)
	assert.Equal(t, StatusQueued, first.Status)

	again, created, err := q.Enqueue(ctx, "ALL", "", "user-2")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, again.ID)

	_, created, err = q.Enqueue(ctx, "ALL", "max", "user-1")
	require.NoError(t, err)
	assert.True(t, created, "a different period is a different job")

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestEnqueue_RequiresTicker(t *testing.T) {
	q, _ := newTestQueue(t)
	_, _, err := q.Enqueue(context.Background(), "  ", "", "")
	assert.Error(t, err)
}

func TestDequeue_FIFOAndRelease(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	a, _, _ := q.Enqueue(ctx, "AAPL", "", "")
	b, _, _ := q.Enqueue(ctx, "MSFT", "", "")

	got, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, StatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)

	// once running, a new request for the same ticker queues again
	c, created, err := q.Enqueue(ctx, "AAPL", "", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, a.ID, c.ID)

	got, err = q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
}

func TestDequeue_EmptyQueue(t *testing.T) {
	q, _ := newTestQueue(t)
	got, err := q.Dequeue(context.Background(), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestEnqueue_ExpiredJobStateIsReplaced(t *testing.T) {
	q, mr := newTestQueue(t)
	ctx := context.Background()

	first, _, _ := q.Enqueue(ctx, "AAPL", "", "")
	mr.Del(jobKeyPrefix + first.ID)

	second, created, err := q.Enqueue(ctx, "AAPL", "", "")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestRunner_RefreshAll(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	ref := &fakeRefresher{summary: &service.RefreshSummary{OK: 7, Fail: 2}}
	r := NewRunner(q, ref, time.Second)

	job, _, _ := q.Enqueue(ctx, "ALL", "", "")
	took, err := r.ProcessNext(ctx)
	require.NoError(t, err)
	assert.True(t, took)
	assert.Equal(t, []string{"ALL"}, ref.tickers)

	stored, err := q.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, 7, stored.OK)
	assert.Equal(t, 2, stored.Fail)
	assert.NotNil(t, stored.FinishedAt)
}

func TestRunner_SingleTicker(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	ref := &fakeRefresher{result: &service.RefreshResult{Ticker: "GONE", Status: types.RefreshNotFound}}
	r := NewRunner(q, ref, time.Second)

	job, _, _ := q.Enqueue(ctx, "GONE", "1y", "")
	_, err := r.ProcessNext(ctx)
	require.NoError(t, err)

	stored, _ := q.Get(ctx, job.ID)
	assert.Equal(t, StatusCompleted, stored.Status)
	assert.Equal(t, 1, stored.Fail)
}

func TestRunner_FailedJob(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()
	ref := &fakeRefresher{err: stderrors.New("database unavailable")}
	r := NewRunner(q, ref, time.Second)

	job, _, _ := q.Enqueue(ctx, "ALL", "", "")
	took, err := r.ProcessNext(ctx)
	assert.True(t, took)
	assert.Error(t, err)

	stored, _ := q.Get(ctx, job.ID)
	assert.Equal(t, StatusFailed, stored.Status)
	assert.Equal(t, "database unavailable", stored.Error)
}

func TestRunner_StopsOnCancel(t *testing.T) {
	q, _ := newTestQueue(t)
	r := NewRunner(q, &fakeRefresher{}, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}
