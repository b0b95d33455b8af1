package market

import (
	"strings"
	"time"

	"github.com/scmhub/calendar"
)

// suffixMIC maps provider market suffixes to ISO 10383 MIC codes
var suffixMIC = map[string]string{
	".L":  "xlon",
	".PA": "xpar",
	".DE": "xfra",
	".AS": "xams",
	".BR": "xbru",
	".MI": "xmil",
	".MC": "xmad",
	".SW": "xswx",
	".VI": "xwbo",
	".PR": "xpra",
	".ST": "xsto",
	".TO": "xtse",
	".HK": "xhkg",
	".T":  "xtks",
}

// Calendar answers whether a market trades on a given day
type Calendar struct {
	cal *calendar.Calendar
	loc *time.Location
}

// CalendarFor picks the exchange calendar for a time-series symbol by its
// suffix, defaulting to fallbackMIC. Unknown MICs degrade to a Mon-Fri rule.
func CalendarFor(symbol, fallbackMIC string) *Calendar {
	mic := strings.ToLower(fallbackMIC)
	if i := strings.LastIndex(symbol, "."); i > 0 {
		if m, ok := suffixMIC[strings.ToUpper(symbol[i:])]; ok {
			mic = m
		}
	}
	cal := calendar.GetCalendar(mic)
	if cal == nil && mic != "xnys" {
		cal = calendar.GetCalendar("xnys")
	}
	if cal == nil {
		return &Calendar{loc: time.UTC}
	}
	return &Calendar{cal: cal, loc: cal.Loc}
}

// IsTradingDay reports whether t falls on a business day of the market
func (c *Calendar) IsTradingDay(t time.Time) bool {
	if c.loc != nil {
		t = t.In(c.loc)
	}
	if c.cal == nil {
		wd := t.Weekday()
		return wd != time.Saturday && wd != time.Sunday
	}
	return c.cal.IsBusinessDay(t)
}

// Location is the market's local time zone
func (c *Calendar) Location() *time.Location {
	if c.loc == nil {
		return time.UTC
	}
	return c.loc
}
