// Package analytics derives EMA, all-time extremes and the resilience score
// from an ascending daily price series. Everything here is pure.
package analytics

import (
	"math"

	"github.com/portfolio-tracker/internal/models"
)

// Tunable heuristics. They come from observed behaviour, not from a model.
const (
	// EMAPeriod is the long moving average tracked for every instrument
	EMAPeriod = 212
	// ResilienceDrawdown is the minimum (ATH-ATL)/ATH for a phoenix candidate
	ResilienceDrawdown = 0.60
	// ResilienceRecovery is the fraction of ATH the current price must reach
	ResilienceRecovery = 0.70
)

// EMA returns the exponential moving average of prices over period.
// ok is false when the series is shorter than period.
// The seed is the arithmetic mean of the first period points.
func EMA(prices []float64, period int) (value float64, ok bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}

	var sum float64
	for _, p := range prices[:period] {
		sum += p
	}
	ema := sum / float64(period)

	k := 2.0 / float64(period+1)
	for _, p := range prices[period:] {
		ema = p*k + ema*(1-k)
	}
	return ema, true
}

// Extremes widens the stored all-time high/low with the series.
// A nil prior means nothing is stored yet. ok is false only when both
// the prior values and the series are empty.
func Extremes(priorHigh, priorLow *float64, prices []float64) (high, low float64, ok bool) {
	high, low = math.Inf(-1), math.Inf(1)
	if priorHigh != nil {
		high = *priorHigh
	}
	if priorLow != nil {
		low = *priorLow
	}
	for _, p := range prices {
		if p > high {
			high = p
		}
		if p < low {
			low = p
		}
	}
	if math.IsInf(high, 0) || math.IsInf(low, 0) {
		return 0, 0, false
	}
	return high, low, true
}

// ResilienceScore is 1 when the instrument fell at least ResilienceDrawdown from
// its ATH at some point and now trades at or above ResilienceRecovery of it.
func ResilienceScore(ath, atl, current float64) int {
	if ath <= 0 || atl <= 0 {
		return 0
	}
	drawdown := (ath - atl) / ath
	if drawdown >= ResilienceDrawdown && current >= ResilienceRecovery*ath {
		return 1
	}
	return 0
}

// Compute derives the full analytics block for one refresh cycle from the
// complete stored series. livePrice is the latest quote when known; otherwise
// the last series point is used. EMA212 is nil when the series is too short.
func Compute(prices []float64, prior models.Analytics, livePrice *float64) models.Analytics {
	out := prior
	out.EMA212 = nil
	if ema, ok := EMA(prices, EMAPeriod); ok {
		out.EMA212 = &ema
	}

	high, low, ok := Extremes(prior.AllTimeHigh, prior.AllTimeLow, prices)
	if !ok {
		return out
	}
	out.AllTimeHigh = &high
	out.AllTimeLow = &low

	var current float64
	switch {
	case livePrice != nil && *livePrice > 0:
		current = *livePrice
	case len(prices) > 0:
		current = prices[len(prices)-1]
	default:
		return out
	}
	score := ResilienceScore(high, low, current)
	out.ResilienceScore = &score
	return out
}
