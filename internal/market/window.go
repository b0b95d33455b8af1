package market

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/portfolio-tracker/internal/models"
)

const (
	// PeriodMax requests the longest history the provider keeps
	PeriodMax = "max"

	// SmartMinPoints is the stored series length at which smart mode only
	// fetches an overlap window instead of two years
	SmartMinPoints = 220

	smartOverlap     = 7 * 24 * time.Hour
	smartBootstrapYr = 2
	maxHistoryYears  = 20
)

// btcGenesisListing is the first day the BTC-USD pair has daily closes
var btcGenesisListing = time.Date(2014, time.September, 15, 0, 0, 0, 0, time.UTC)

// HistoryWindow returns the start of the time-series fetch window for period:
// "max", "<N>y", or "" for smart mode driven by the stored series stats.
func HistoryWindow(period, providerSymbol string, stats models.SeriesStats, now time.Time) (time.Time, error) {
	p := strings.ToLower(strings.TrimSpace(period))
	switch {
	case p == PeriodMax:
		if strings.Contains(strings.ToUpper(providerSymbol), "BTC") {
			return btcGenesisListing, nil
		}
		return now.AddDate(-maxHistoryYears, 0, 0), nil
	case p == "":
		if stats.Count >= SmartMinPoints && stats.LastDate != nil {
			return stats.LastDate.Add(-smartOverlap), nil
		}
		return now.AddDate(-smartBootstrapYr, 0, 0), nil
	case strings.HasSuffix(p, "y"):
		n, err := strconv.Atoi(strings.TrimSuffix(p, "y"))
		if err != nil || n <= 0 {
			return time.Time{}, fmt.Errorf("invalid period %q", period)
		}
		return now.AddDate(-n, 0, 0), nil
	}
	return time.Time{}, fmt.Errorf("invalid period %q", period)
}
