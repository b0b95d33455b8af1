package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/types"
)

func day(s string) time.Time {
	d, _ := time.Parse("2006-01-02", s)
	return d
}

func TestPriceHistoryRepository_UpsertSeriesUnderBothIDs(t *testing.T) {
	db := setupTestDB(t)
	repo := NewPriceHistoryRepository(db)
	ctx := testContext(t)

	points := []models.PricePoint{
		{Date: day("2024-01-02"), Price: 10},
		{Date: day("2024-01-03"), Price: 11},
	}
	n, err := repo.UpsertSeries(ctx, []string{"BRK-B", "BRK.B", "brk-b"}, points, types.SourceYahoo)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	// same date overwrites instead of appending
	_, err = repo.UpsertSeries(ctx, []string{"BRK-B"}, []models.PricePoint{{Date: day("2024-01-03"), Price: 12}}, types.SourceGoogleScrape)
	require.NoError(t, err)

	stats, err := repo.Stats(ctx, "BRK-B")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Count)
	require.NotNil(t, stats.LastDate)
	assert.Equal(t, "2024-01-03", stats.LastDate.Format("2006-01-02"))

	series, err := repo.Series(ctx, "BRK-B")
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, 12.0, series[1].Price)
	assert.Equal(t, types.SourceGoogleScrape, series[1].Source)

	alias, err := repo.Series(ctx, "BRK.B")
	require.NoError(t, err)
	assert.Len(t, alias, 2)
}

func TestPriceHistoryRepository_EmptyStats(t *testing.T) {
	db := setupTestDB(t)
	stats, err := NewPriceHistoryRepository(db).Stats(testContext(t), "NONE")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Count)
	assert.Nil(t, stats.LastDate)
}

func TestTransactionRepository_FingerprintDedupe(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := testContext(t)

	caps, err := DetectCapabilities(ctx, db)
	require.NoError(t, err)
	require.True(t, caps.FingerprintDedupe)

	tx := &models.Transaction{
		UserID:       "u1",
		Date:         day("2024-02-01"),
		InstrumentID: "AAPL",
		Type:         types.TxBuy,
		Quantity:     2,
		Price:        models.Float64(180),
		Currency:     "USD",
		AmountCur:    360,
		AmountBase:   8200,
		Platform:     "revolut",
		Fingerprint:  "abc",
	}
	require.NoError(t, repo.Insert(ctx, tx))
	assert.NotZero(t, tx.ID)

	again := *tx
	again.ID = 0
	assert.ErrorIs(t, repo.Insert(ctx, &again), ErrDuplicateTransaction)

	other := *tx
	other.UserID = "u2"
	require.NoError(t, repo.Insert(ctx, &other))

	similar, err := repo.ExistsSimilar(ctx, tx)
	require.NoError(t, err)
	assert.True(t, similar)

	list, err := repo.ListByUser(ctx, "u1", day("2024-01-01"), day("2024-12-31"), 0)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestFxRateRepository_LatestOnOrBefore(t *testing.T) {
	db := setupTestDB(t)
	repo := NewFxRateRepository(db)
	ctx := testContext(t)

	require.NoError(t, repo.UpsertRates(ctx, []models.FxRate{
		{Currency: "EUR", Date: day("2024-03-01"), Rate: 25.1, Amount: 1, Source: types.SourceCNB},
		{Currency: "EUR", Date: day("2024-03-04"), Rate: 25.3, Amount: 1, Source: types.SourceCNB},
		{Currency: "JPY", Date: day("2024-03-01"), Rate: 15.5, Amount: 100, Source: types.SourceCNB},
	}))

	rate, err := repo.LatestOnOrBefore(ctx, "eur", day("2024-03-03"))
	require.NoError(t, err)
	require.NotNil(t, rate)
	assert.Equal(t, 25.1, rate.Rate)

	jpy, err := repo.LatestOnOrBefore(ctx, "JPY", day("2024-03-10"))
	require.NoError(t, err)
	assert.InDelta(t, 0.155, jpy.PerUnit(), 1e-9)

	none, err := repo.LatestOnOrBefore(ctx, "EUR", day("2024-02-01"))
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestInstrumentRepository_UpsertMetadataCoalesces(t *testing.T) {
	db := setupTestDB(t)
	repo := NewInstrumentRepository(db)
	ctx := testContext(t)

	created, err := repo.UpsertMetadata(ctx, models.InstrumentMetadata{ID: "cez", CompanyName: "CEZ a.s."}, types.AssetEquity)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = repo.UpsertMetadata(ctx, models.InstrumentMetadata{ID: "CEZ", ISIN: "CZ0005112300"}, types.AssetEquity)
	require.NoError(t, err)
	assert.False(t, created)

	inst, err := repo.Get(ctx, "CEZ")
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, "CEZ a.s.", inst.CompanyName)
	assert.Equal(t, "CZ0005112300", inst.ISIN)
	assert.Equal(t, types.InstrumentNeedsReview, inst.Status)

	active, err := repo.ListActive(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestLiveQuoteRepository_UpsertKeepsAnalytics(t *testing.T) {
	db := setupTestDB(t)
	repo := NewLiveQuoteRepository(db)
	ctx := testContext(t)

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, repo.Upsert(ctx, &models.LiveQuote{
		InstrumentID: "AAPL", Price: 190, Currency: "USD", Source: types.SourceGoogleScrape, FetchedAt: now, Status: "active",
	}))

	score := 1
	ok, err := repo.UpdateAnalytics(ctx, "AAPL", models.Analytics{
		AllTimeHigh: models.Float64(200), AllTimeLow: models.Float64(50), ResilienceScore: &score,
	})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = repo.MergeFundamentals(ctx, "AAPL", models.Fundamentals{MarketCap: models.Float64(3e12)})
	require.NoError(t, err)
	_, err = repo.MergeFundamentals(ctx, "AAPL", models.Fundamentals{PERatio: models.Float64(30)})
	require.NoError(t, err)

	require.NoError(t, repo.Upsert(ctx, &models.LiveQuote{
		InstrumentID: "AAPL", Price: 191, Currency: "USD", Source: types.SourceGoogleScrape, FetchedAt: now, Status: "active",
	}))

	lq, err := repo.Get(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, 191.0, lq.Price)
	assert.Equal(t, 200.0, *lq.AllTimeHigh)
	assert.Nil(t, lq.EMA212)
	assert.Equal(t, 3e12, *lq.MarketCap)
	assert.Equal(t, 30.0, *lq.PERatio)

	ok, err = repo.UpdateAnalytics(ctx, "MISSING", models.Analytics{})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestWatchlistRepository_AddIsIdempotent(t *testing.T) {
	db := setupTestDB(t)
	repo := NewWatchlistRepository(db)
	ctx := testContext(t)

	added, err := repo.Add(ctx, "u1", "aapl")
	require.NoError(t, err)
	assert.True(t, added)
	added, err = repo.Add(ctx, "u1", "AAPL")
	require.NoError(t, err)
	assert.False(t, added)

	entries, err := repo.List(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "AAPL", entries[0].Ticker)
}
