package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBatchPacer_Validation(t *testing.T) {
	_, err := NewBatchPacer(nil)
	assert.Error(t, err)

	_, err = NewBatchPacer(&BatchPacerConfig{})
	assert.Error(t, err)

	b, _ := newTestBudget(t, 10, 5)
	_, err = NewBatchPacer(&BatchPacerConfig{Budget: b, BaseDelay: time.Second, MaxDelay: time.Millisecond})
	assert.Error(t, err)
}

func TestBatchPacer_Backoff(t *testing.T) {
	b, _ := newTestBudget(t, 10, 5)
	p, err := NewBatchPacer(&BatchPacerConfig{Budget: b, BaseDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond})
	require.NoError(t, err)

	p.RecordFailure()
	assert.Equal(t, 20*time.Millisecond, p.GetCurrentDelay())
	p.RecordFailure()
	assert.Equal(t, 40*time.Millisecond, p.GetCurrentDelay())
	p.RecordFailure()
	assert.Equal(t, 50*time.Millisecond, p.GetCurrentDelay())
	assert.Equal(t, 3, p.GetConsecutiveFailures())

	p.RecordSuccess()
	assert.Equal(t, 10*time.Millisecond, p.GetCurrentDelay())
	assert.Equal(t, 0, p.GetConsecutiveFailures())
}

func TestBatchPacer_WaitForBudget(t *testing.T) {
	b, _ := newTestBudget(t, 10, 5)
	p, err := NewBatchPacer(&BatchPacerConfig{Budget: b, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	require.NoError(t, err)

	require.NoError(t, p.WaitForBudget(context.Background(), "yahoo"))
	usage, err := b.GetUsage(context.Background(), "yahoo")
	require.NoError(t, err)
	assert.Equal(t, 1, usage.SharedUsed)
}

func TestBatchPacer_WaitForBudgetCancelled(t *testing.T) {
	b, _ := newTestBudget(t, 5, 5) // no shared pool
	p, err := NewBatchPacer(&BatchPacerConfig{Budget: b, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.WaitForBudget(ctx, "yahoo"), ErrContextCancelled)
}

func TestBatchPacer_ShouldPause(t *testing.T) {
	b, _ := newTestBudget(t, 10, 0)
	p, err := NewBatchPacer(&BatchPacerConfig{Budget: b, PauseThreshold: 50})
	require.NoError(t, err)

	ctx := WithPriority(context.Background(), PriorityBatch)
	assert.False(t, p.ShouldPause(ctx, "yahoo"))
	for i := 0; i < 5; i++ {
		_, err := b.Allow(ctx, "yahoo")
		require.NoError(t, err)
	}
	assert.True(t, p.ShouldPause(ctx, "yahoo"))
}

func TestBatchPacer_ShouldPauseOnRedisError(t *testing.T) {
	b, mr := newTestBudget(t, 10, 0)
	p, err := NewBatchPacer(&BatchPacerConfig{Budget: b})
	require.NoError(t, err)
	mr.Close()
	assert.True(t, p.ShouldPause(context.Background(), "yahoo"))
}
