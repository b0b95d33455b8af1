package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/portfolio-tracker/internal/models"
)

// FxRateRepository handles daily conversion rates to the base currency
type FxRateRepository struct {
	db *PostgresDB
}

// NewFxRateRepository creates a new FX rate repository
func NewFxRateRepository(db *PostgresDB) *FxRateRepository {
	return &FxRateRepository{db: db}
}

// LatestOnOrBefore returns the most recent rate of currency dated on or
// before date, or nil when none is stored. Rates are never interpolated.
func (r *FxRateRepository) LatestOnOrBefore(ctx context.Context, currency string, date time.Time) (*models.FxRate, error) {
	query := `
		SELECT currency, date, rate, amount, source
		FROM fx_rates
		WHERE currency = $1 AND date <= $2
		ORDER BY date DESC
		LIMIT 1
	`
	var rate models.FxRate
	err := r.db.Pool().QueryRow(ctx, query, strings.ToUpper(currency), date).Scan(
		&rate.Currency,
		&rate.Date,
		&rate.Rate,
		&rate.Amount,
		&rate.Source,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get fx rate: %w", err)
	}
	return &rate, nil
}

// UpsertRates stores a fetched rate table in one batch
func (r *FxRateRepository) UpsertRates(ctx context.Context, rates []models.FxRate) error {
	if len(rates) == 0 {
		return nil
	}

	query := `
		INSERT INTO fx_rates (currency, date, rate, amount, source)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (currency, date) DO UPDATE SET
			rate = EXCLUDED.rate,
			amount = EXCLUDED.amount,
			source = EXCLUDED.source
	`
	batch := &pgx.Batch{}
	for _, rt := range rates {
		amount := rt.Amount
		if amount <= 0 {
			amount = 1
		}
		batch.Queue(query, strings.ToUpper(rt.Currency), rt.Date, rt.Rate, amount, rt.Source)
	}

	br := r.db.Pool().SendBatch(ctx, batch)
	defer br.Close()
	for range rates {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert fx rate: %w", err)
		}
	}
	return nil
}
