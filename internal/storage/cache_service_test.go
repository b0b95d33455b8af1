package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/types"
)

type fakeQuoteStore struct {
	rows  map[string]*models.LiveQuote
	reads int
}

func (f *fakeQuoteStore) Get(_ context.Context, id string) (*models.LiveQuote, error) {
	f.reads++
	lq, ok := f.rows[id]
	if !ok {
		return nil, nil
	}
	cp := *lq
	return &cp, nil
}

func (f *fakeQuoteStore) Upsert(_ context.Context, lq *models.LiveQuote) error {
	cp := *lq
	f.rows[lq.InstrumentID] = &cp
	return nil
}

func TestCacheService_GenerateQuoteKey(t *testing.T) {
	cache, _ := newMiniRedisCache(t)
	svc := NewCacheService(cache, time.Minute)

	assert.Equal(t, "quote:BRK.B", svc.GenerateQuoteKey(" brk.b"))
	assert.Equal(t, svc.GenerateQuoteKey("aapl"), svc.GenerateQuoteKey("AAPL"))
}

func TestCacheService_SetGetInvalidate(t *testing.T) {
	cache, _ := newMiniRedisCache(t)
	svc := NewCacheService(cache, time.Minute)
	ctx := testContext(t)

	type payload struct {
		Price float64 `json:"price"`
	}
	require.NoError(t, svc.Set(ctx, "quote:AAPL", payload{Price: 190.5}))
	require.NoError(t, svc.Set(ctx, "quote:MSFT", payload{Price: 410}))

	var got payload
	found, err := svc.Get(ctx, "quote:AAPL", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 190.5, got.Price)

	require.NoError(t, svc.InvalidatePattern(ctx, "quote:*"))
	found, err = svc.Get(ctx, "quote:MSFT", &got)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestQuoteCache_ReadThroughAndInvalidate(t *testing.T) {
	cache, _ := newMiniRedisCache(t)
	store := &fakeQuoteStore{rows: map[string]*models.LiveQuote{
		"CEZ": {InstrumentID: "CEZ", Price: 1000, Currency: "CZK", Source: types.SourceGoogleScrape},
	}}
	qc := NewQuoteCache(NewCacheService(cache, time.Hour), store)
	ctx := testContext(t)

	lq, err := qc.Get(ctx, "CEZ")
	require.NoError(t, err)
	require.NotNil(t, lq)
	assert.Equal(t, 1000.0, lq.Price)

	// second read is served from Redis
	_, err = qc.Get(ctx, "CEZ")
	require.NoError(t, err)
	assert.Equal(t, 1, store.reads)

	require.NoError(t, qc.Put(ctx, &models.LiveQuote{InstrumentID: "CEZ", Price: 1010, Currency: "CZK"}))
	lq, err = qc.Get(ctx, "CEZ")
	require.NoError(t, err)
	assert.Equal(t, 1010.0, lq.Price)
	assert.Equal(t, 2, store.reads)

	stats := qc.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(2), stats.Misses)
}

func TestQuoteCache_MissingRow(t *testing.T) {
	store := &fakeQuoteStore{rows: map[string]*models.LiveQuote{}}
	qc := NewQuoteCache(nil, store)

	lq, err := qc.Get(testContext(t), "NOPE")
	require.NoError(t, err)
	assert.Nil(t, lq)
}

func TestQuoteCache_RedisDownFallsBackToTable(t *testing.T) {
	cache, mr := newMiniRedisCache(t)
	store := &fakeQuoteStore{rows: map[string]*models.LiveQuote{"AAPL": {InstrumentID: "AAPL", Price: 1}}}
	qc := NewQuoteCache(NewCacheService(cache, time.Hour), store)
	mr.Close()

	lq, err := qc.Get(testContext(t), "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 1.0, lq.Price)
}
