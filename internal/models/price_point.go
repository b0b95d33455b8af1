package models

import (
	"time"

	"github.com/portfolio-tracker/internal/types"
)

// PricePoint is one daily close of an instrument. Unique per (instrument, date).
type PricePoint struct {
	InstrumentID string            `json:"id" db:"id" ch:"instrument_id"`
	Date         time.Time         `json:"date" db:"date" ch:"date"`
	Price        float64           `json:"price" db:"price" ch:"price"`
	Source       types.QuoteSource `json:"source" db:"source" ch:"source"`
}

// SeriesStats summarizes what is already stored for an instrument
type SeriesStats struct {
	Count    int
	LastDate *time.Time
}

// Prices extracts the closes of an ascending series
func Prices(points []PricePoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Price
	}
	return out
}
