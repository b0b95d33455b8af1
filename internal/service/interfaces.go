package service

import (
	"context"
	"time"

	"github.com/portfolio-tracker/internal/adapter"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/types"
)

// Repository interfaces for dependency injection

// InstrumentStore reads and upserts instrument reference rows
type InstrumentStore interface {
	Get(ctx context.Context, id string) (*models.Instrument, error)
	ListActive(ctx context.Context) ([]string, error)
	UpsertMetadata(ctx context.Context, meta models.InstrumentMetadata, class types.AssetClass) (bool, error)
}

// QuoteCache reads and writes LiveQuote rows through the Redis cache
type QuoteCache interface {
	Get(ctx context.Context, id string) (*models.LiveQuote, error)
	Put(ctx context.Context, lq *models.LiveQuote) error
	Invalidate(ctx context.Context, ids ...string)
}

// LiveQuoteWriter updates the derived columns of a LiveQuote row in place
type LiveQuoteWriter interface {
	UpdateAnalytics(ctx context.Context, id string, a models.Analytics) (bool, error)
	MergeFundamentals(ctx context.Context, id string, f models.Fundamentals) (bool, error)
}

// PriceHistoryStore holds the daily close series
type PriceHistoryStore interface {
	Stats(ctx context.Context, id string) (models.SeriesStats, error)
	Series(ctx context.Context, id string) ([]models.PricePoint, error)
	UpsertSeries(ctx context.Context, ids []string, points []models.PricePoint, source types.QuoteSource) (int, error)
	AddPoint(ctx context.Context, ids []string, date time.Time, price float64, source types.QuoteSource) error
}

// PriceMirror copies freshly written points to the analytics store
type PriceMirror interface {
	MirrorPoints(ctx context.Context, ids []string, points []models.PricePoint) error
}

// FxRateStore holds the daily exchange-rate table
type FxRateStore interface {
	LatestOnOrBefore(ctx context.Context, currency string, date time.Time) (*models.FxRate, error)
	UpsertRates(ctx context.Context, rates []models.FxRate) error
}

// FxTableFetcher downloads one day's rate table from the central bank
type FxTableFetcher interface {
	FetchDaily(ctx context.Context, date time.Time) ([]models.FxRate, error)
}

// TransactionStore appends rows to the ledger
type TransactionStore interface {
	Insert(ctx context.Context, tx *models.Transaction) error
	InsertPlain(ctx context.Context, tx *models.Transaction) error
	ExistsSimilar(ctx context.Context, tx *models.Transaction) (bool, error)
}

// WatchlistStore records the tickers a user follows
type WatchlistStore interface {
	Add(ctx context.Context, userID, ticker string) (bool, error)
}

// SeriesProvider serves daily closes and the fundamentals snapshot
type SeriesProvider interface {
	FetchSeries(ctx context.Context, symbol string, start, end time.Time) (*adapter.Series, error)
	FetchSnapshot(ctx context.Context, symbol string) (*adapter.QuoteSnapshot, error)
}

// Pacer spaces out the iterations of an instrument-wide loop
type Pacer interface {
	Sleep(ctx context.Context) error
	RecordSuccess()
	RecordFailure()
}
