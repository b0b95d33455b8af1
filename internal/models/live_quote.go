package models

import (
	"time"

	"github.com/portfolio-tracker/internal/types"
)

// LiveQuote holds the latest known price of one instrument plus derived analytics.
// There is at most one row per instrument id.
type LiveQuote struct {
	InstrumentID  string            `json:"id" db:"id"`
	Price         float64           `json:"currentPrice" db:"current_price"`
	Change        *float64          `json:"change,omitempty" db:"change_amount"`
	ChangePercent *float64          `json:"changePercent,omitempty" db:"change_percent"`
	Currency      string            `json:"currency" db:"currency"`
	Exchange      string            `json:"exchange,omitempty" db:"exchange"`
	CompanyName   string            `json:"companyName,omitempty" db:"company_name"`
	Source        types.QuoteSource `json:"source" db:"source"`
	FetchedAt     time.Time         `json:"fetchedAt" db:"fetched_at"`
	Status        string            `json:"status" db:"status"`

	Analytics
	Fundamentals
}

// Analytics are the derived fields written after every series refresh
type Analytics struct {
	AllTimeHigh     *float64 `json:"allTimeHigh,omitempty" db:"all_time_high"`
	AllTimeLow      *float64 `json:"allTimeLow,omitempty" db:"all_time_low"`
	EMA212          *float64 `json:"ema212,omitempty" db:"ema_212"`
	ResilienceScore *int     `json:"resilienceScore,omitempty" db:"resilience_score"`
}

// Fundamentals is the optional snapshot merged from a quote provider.
// Nil means "unknown"; a merge never replaces a known value with nil.
type Fundamentals struct {
	PreviousClose    *float64 `json:"previousClose,omitempty" db:"previous_close"`
	Open             *float64 `json:"open,omitempty" db:"open_price"`
	DayLow           *float64 `json:"dayLow,omitempty" db:"day_low"`
	DayHigh          *float64 `json:"dayHigh,omitempty" db:"day_high"`
	FiftyTwoWeekHigh *float64 `json:"fiftyTwoWeekHigh,omitempty" db:"week52_high"`
	FiftyTwoWeekLow  *float64 `json:"fiftyTwoWeekLow,omitempty" db:"week52_low"`
	MarketCap        *float64 `json:"marketCap,omitempty" db:"market_cap"`
	PERatio          *float64 `json:"peRatio,omitempty" db:"pe_ratio"`
	DividendYield    *float64 `json:"dividendYield,omitempty" db:"dividend_yield"`
	Volume           *int64   `json:"volume,omitempty" db:"volume"`
	MarketChange     *float64 `json:"marketChange,omitempty" db:"market_change"`
	MarketChangePct  *float64 `json:"marketChangePercent,omitempty" db:"market_change_percent"`
}

// Merge returns f with every nil field filled from other's non-nil value.
// Known values in f win; this mirrors the SQL COALESCE(new, old) used on write.
func (f Fundamentals) Merge(other Fundamentals) Fundamentals {
	f.PreviousClose = coalesce(f.PreviousClose, other.PreviousClose)
	f.Open = coalesce(f.Open, other.Open)
	f.DayLow = coalesce(f.DayLow, other.DayLow)
	f.DayHigh = coalesce(f.DayHigh, other.DayHigh)
	f.FiftyTwoWeekHigh = coalesce(f.FiftyTwoWeekHigh, other.FiftyTwoWeekHigh)
	f.FiftyTwoWeekLow = coalesce(f.FiftyTwoWeekLow, other.FiftyTwoWeekLow)
	f.MarketCap = coalesce(f.MarketCap, other.MarketCap)
	f.PERatio = coalesce(f.PERatio, other.PERatio)
	f.DividendYield = coalesce(f.DividendYield, other.DividendYield)
	f.MarketChange = coalesce(f.MarketChange, other.MarketChange)
	f.MarketChangePct = coalesce(f.MarketChangePct, other.MarketChangePct)
	if f.Volume == nil {
		f.Volume = other.Volume
	}
	return f
}

// ScaleMoney multiplies every money-valued field by factor. Ratios, percentages
// and volume are left alone.
func (f Fundamentals) ScaleMoney(factor float64) Fundamentals {
	if factor == 1 {
		return f
	}
	scale := func(p *float64) *float64 {
		if p == nil {
			return nil
		}
		v := *p * factor
		return &v
	}
	f.PreviousClose = scale(f.PreviousClose)
	f.Open = scale(f.Open)
	f.DayLow = scale(f.DayLow)
	f.DayHigh = scale(f.DayHigh)
	f.FiftyTwoWeekHigh = scale(f.FiftyTwoWeekHigh)
	f.FiftyTwoWeekLow = scale(f.FiftyTwoWeekLow)
	f.MarketCap = scale(f.MarketCap)
	f.MarketChange = scale(f.MarketChange)
	return f
}

// IsEmpty reports whether no field is known
func (f Fundamentals) IsEmpty() bool {
	return f == Fundamentals{}
}

func coalesce(a, b *float64) *float64 {
	if a != nil {
		return a
	}
	return b
}

// Float64 returns a pointer to v
func Float64(v float64) *float64 { return &v }
