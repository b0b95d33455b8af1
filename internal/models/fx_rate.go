package models

import (
	"time"

	"github.com/portfolio-tracker/internal/types"
)

// FxRate expresses base-currency units per Amount units of Currency on Date.
type FxRate struct {
	Currency string            `json:"currency" db:"currency"`
	Date     time.Time         `json:"date" db:"date"`
	Rate     float64           `json:"rate" db:"rate"`
	Amount   int               `json:"amount" db:"amount"`
	Source   types.QuoteSource `json:"source" db:"source"`
}

// PerUnit returns the rate for a single unit of Currency
func (r FxRate) PerUnit() float64 {
	amount := r.Amount
	if amount <= 0 {
		amount = 1
	}
	return r.Rate / float64(amount)
}
