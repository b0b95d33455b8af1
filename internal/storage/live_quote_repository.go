package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/portfolio-tracker/internal/models"
)

// LiveQuoteRepository handles the one-row-per-instrument live quote table
type LiveQuoteRepository struct {
	db *PostgresDB
}

// NewLiveQuoteRepository creates a new live quote repository
func NewLiveQuoteRepository(db *PostgresDB) *LiveQuoteRepository {
	return &LiveQuoteRepository{db: db}
}

// Get returns the live quote of id, or nil when none is stored
func (r *LiveQuoteRepository) Get(ctx context.Context, id string) (*models.LiveQuote, error) {
	query := `
		SELECT id, current_price, change_amount, change_percent, currency, exchange, company_name,
			source, fetched_at, status,
			all_time_high, all_time_low, ema_212, resilience_score,
			previous_close, open_price, day_low, day_high, week52_high, week52_low,
			market_cap, pe_ratio, dividend_yield, volume, market_change, market_change_percent
		FROM live_quotes
		WHERE id = $1
	`

	var lq models.LiveQuote
	err := r.db.Pool().QueryRow(ctx, query, strings.ToUpper(id)).Scan(
		&lq.InstrumentID,
		&lq.Price,
		&lq.Change,
		&lq.ChangePercent,
		&lq.Currency,
		&lq.Exchange,
		&lq.CompanyName,
		&lq.Source,
		&lq.FetchedAt,
		&lq.Status,
		&lq.AllTimeHigh,
		&lq.AllTimeLow,
		&lq.EMA212,
		&lq.ResilienceScore,
		&lq.PreviousClose,
		&lq.Open,
		&lq.DayLow,
		&lq.DayHigh,
		&lq.FiftyTwoWeekHigh,
		&lq.FiftyTwoWeekLow,
		&lq.MarketCap,
		&lq.PERatio,
		&lq.DividendYield,
		&lq.Volume,
		&lq.MarketChange,
		&lq.MarketChangePct,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get live quote: %w", err)
	}
	return &lq, nil
}

// Upsert writes the quote part of a row. Analytics and fundamentals already
// stored are left untouched.
func (r *LiveQuoteRepository) Upsert(ctx context.Context, lq *models.LiveQuote) error {
	query := `
		INSERT INTO live_quotes (id, current_price, change_amount, change_percent, currency, exchange,
			company_name, source, fetched_at, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			current_price = EXCLUDED.current_price,
			change_amount = EXCLUDED.change_amount,
			change_percent = EXCLUDED.change_percent,
			currency = EXCLUDED.currency,
			exchange = EXCLUDED.exchange,
			company_name = COALESCE(NULLIF(EXCLUDED.company_name, ''), live_quotes.company_name),
			source = EXCLUDED.source,
			fetched_at = EXCLUDED.fetched_at,
			status = EXCLUDED.status
	`
	_, err := r.db.Pool().Exec(ctx, query,
		strings.ToUpper(lq.InstrumentID),
		lq.Price,
		lq.Change,
		lq.ChangePercent,
		lq.Currency,
		lq.Exchange,
		lq.CompanyName,
		lq.Source,
		lq.FetchedAt,
		lq.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert live quote %s: %w", lq.InstrumentID, err)
	}
	return nil
}

// UpdateAnalytics overwrites the derived fields of id. A NULL EMA is written
// as NULL. It reports whether a row existed.
func (r *LiveQuoteRepository) UpdateAnalytics(ctx context.Context, id string, a models.Analytics) (bool, error) {
	query := `
		UPDATE live_quotes SET
			all_time_high = $2,
			all_time_low = $3,
			ema_212 = $4,
			resilience_score = $5
		WHERE id = $1
	`
	tag, err := r.db.Pool().Exec(ctx, query,
		strings.ToUpper(id), a.AllTimeHigh, a.AllTimeLow, a.EMA212, a.ResilienceScore)
	if err != nil {
		return false, fmt.Errorf("failed to update analytics for %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// MergeFundamentals writes every non-nil field of f; nil fields keep the stored value
func (r *LiveQuoteRepository) MergeFundamentals(ctx context.Context, id string, f models.Fundamentals) (bool, error) {
	query := `
		UPDATE live_quotes SET
			previous_close = COALESCE($2, previous_close),
			open_price = COALESCE($3, open_price),
			day_low = COALESCE($4, day_low),
			day_high = COALESCE($5, day_high),
			week52_high = COALESCE($6, week52_high),
			week52_low = COALESCE($7, week52_low),
			market_cap = COALESCE($8, market_cap),
			pe_ratio = COALESCE($9, pe_ratio),
			dividend_yield = COALESCE($10, dividend_yield),
			volume = COALESCE($11, volume),
			market_change = COALESCE($12, market_change),
			market_change_percent = COALESCE($13, market_change_percent)
		WHERE id = $1
	`
	tag, err := r.db.Pool().Exec(ctx, query,
		strings.ToUpper(id),
		f.PreviousClose,
		f.Open,
		f.DayLow,
		f.DayHigh,
		f.FiftyTwoWeekHigh,
		f.FiftyTwoWeekLow,
		f.MarketCap,
		f.PERatio,
		f.DividendYield,
		f.Volume,
		f.MarketChange,
		f.MarketChangePct,
	)
	if err != nil {
		return false, fmt.Errorf("failed to merge fundamentals for %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}
