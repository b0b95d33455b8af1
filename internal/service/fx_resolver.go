package service

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/logging"
)

// FxQuote is the outcome of one rate lookup. Found is false when neither the
// table nor the central bank had a rate on or before Date.
type FxQuote struct {
	Currency string    `json:"currency"`
	Base     string    `json:"base"`
	Date     time.Time `json:"date"`
	Rate     float64   `json:"rate"`
	Found    bool      `json:"found"`
}

// FxResolver converts transaction currencies to the base currency.
// Rates are base-currency units per one unit of the foreign currency.
type FxResolver struct {
	rates FxRateStore
	table FxTableFetcher
	base  string
	memo  *cache.Cache
}

// NewFxResolver creates a resolver. memoTTL <= 0 disables the in-process memo.
func NewFxResolver(rates FxRateStore, table FxTableFetcher, baseCurrency string, memoTTL time.Duration) *FxResolver {
	r := &FxResolver{
		rates: rates,
		table: table,
		base:  strings.ToUpper(strings.TrimSpace(baseCurrency)),
	}
	if memoTTL > 0 {
		r.memo = cache.New(memoTTL, 2*memoTTL)
	}
	return r
}

// BaseCurrency returns the currency amounts are converted into
func (r *FxResolver) BaseCurrency() string {
	return r.base
}

// Resolve returns the most recent rate on or before date. When the table has
// nothing, the central-bank table for that exact date is downloaded, stored
// and the lookup repeated once. A missing rate is not an error; only store
// failures are.
func (r *FxResolver) Resolve(ctx context.Context, currency string, date time.Time) (FxQuote, error) {
	ccy := strings.ToUpper(strings.TrimSpace(currency))
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	q := FxQuote{Currency: ccy, Base: r.base, Date: day}

	if ccy == "" || ccy == r.base {
		q.Rate, q.Found = 1.0, true
		return q, nil
	}

	key := ccy + "|" + day.Format("2006-01-02")
	if r.memo != nil {
		if v, ok := r.memo.Get(key); ok {
			return v.(FxQuote), nil
		}
	}

	found, err := r.lookup(ctx, &q)
	if err != nil {
		return q, err
	}
	if !found && r.table != nil {
		log := logging.FromContext(ctx).WithFields(map[string]interface{}{
			"currency": ccy,
			"date":     day.Format("2006-01-02"),
		})
		rates, fetchErr := r.table.FetchDaily(ctx, day)
		switch {
		case fetchErr != nil:
			log.WithError(fetchErr).Warn("FX table download failed")
		case len(rates) > 0:
			if err := r.rates.UpsertRates(ctx, rates); err != nil {
				return q, errors.NewDatabaseError("upsert fx rates", err)
			}
			log.Debugf("stored %d FX rates", len(rates))
			if _, err := r.lookup(ctx, &q); err != nil {
				return q, err
			}
		}
	}

	if r.memo != nil {
		r.memo.Set(key, q, cache.DefaultExpiration)
	}
	return q, nil
}

// Rate is Resolve reduced to (rate, found)
func (r *FxResolver) Rate(ctx context.Context, currency string, date time.Time) (float64, bool, error) {
	q, err := r.Resolve(ctx, currency, date)
	if err != nil {
		return 0, false, err
	}
	return q.Rate, q.Found, nil
}

func (r *FxResolver) lookup(ctx context.Context, q *FxQuote) (bool, error) {
	rate, err := r.rates.LatestOnOrBefore(ctx, q.Currency, q.Date)
	if err != nil {
		return false, errors.NewDatabaseError("lookup fx rate", err)
	}
	if rate == nil || rate.PerUnit() <= 0 {
		return false, nil
	}
	q.Rate = rate.PerUnit()
	q.Found = true
	return true, nil
}
