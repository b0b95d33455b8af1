package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/portfolio-tracker/internal/types"
)

const (
	yahooChartBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart/"
	yahooQuoteBaseURL = "https://query1.finance.yahoo.com/v7/finance/quote"
)

// SeriesPoint is one daily close
type SeriesPoint struct {
	Date  time.Time
	Close float64
}

// Series is a daily close series in the provider's quote currency
type Series struct {
	Symbol             string
	Currency           string
	RegularMarketPrice *float64
	Points             []SeriesPoint
}

// QuoteSnapshot carries the fundamentals block of the quote endpoint.
// Absent fields stay nil.
type QuoteSnapshot struct {
	RegularMarketPrice *float64
	DividendYield      *float64
	TrailingPE         *float64
	ForwardPE          *float64
	MarketCap          *float64
	PreviousClose      *float64
	Open               *float64
	DayLow             *float64
	DayHigh            *float64
	Volume             *float64
	FiftyTwoWeekHigh   *float64
	FiftyTwoWeekLow    *float64
	Change             *float64
	ChangePercent      *float64
}

// yahooChartResponse is the subset of the v8 chart payload we use
type yahooChartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Currency             string   `json:"currency"`
				Symbol               string   `json:"symbol"`
				ExchangeName         string   `json:"exchangeName"`
				ExchangeTimezoneName string   `json:"exchangeTimezoneName"`
				LongName             string   `json:"longName"`
				ShortName            string   `json:"shortName"`
				RegularMarketPrice   *float64 `json:"regularMarketPrice"`
				ChartPreviousClose   *float64 `json:"chartPreviousClose"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// YahooFinance talks to the chart and quote endpoints
type YahooFinance struct {
	http     *HTTPClient
	chartURL string
	quoteURL string
	source   types.QuoteSource
	now      func() time.Time
}

// NewYahooFinance creates a client. Empty URLs use the public endpoints.
func NewYahooFinance(client *HTTPClient, chartURL, quoteURL string) *YahooFinance {
	if chartURL == "" {
		chartURL = yahooChartBaseURL
	}
	if quoteURL == "" {
		quoteURL = yahooQuoteBaseURL
	}
	return &YahooFinance{
		http:     client,
		chartURL: chartURL,
		quoteURL: quoteURL,
		source:   types.SourceYahoo,
		now:      time.Now,
	}
}

func (y *YahooFinance) Name() string { return string(y.source) }

// FetchQuote reads the latest price from a one-day chart
func (y *YahooFinance) FetchQuote(ctx context.Context, symbol string) (*Quote, error) {
	res, err := y.chart(ctx, symbol, "interval=1d&range=1d")
	if err != nil {
		return nil, NewProviderError(y.Name(), "FetchQuote", symbol, err, nil)
	}
	meta := res.Chart.Result[0].Meta
	if meta.RegularMarketPrice == nil || *meta.RegularMarketPrice <= 0 {
		return nil, NewProviderError(y.Name(), "FetchQuote", symbol, fmt.Errorf("%w: no market price", ErrNotFound), nil)
	}

	price := *meta.RegularMarketPrice
	q := &Quote{
		Symbol:      symbol,
		Price:       price,
		Currency:    strings.ToUpper(meta.Currency),
		CompanyName: meta.LongName,
		Exchange:    meta.ExchangeName,
		Source:      y.source,
		FetchedAt:   y.now(),
	}
	if q.CompanyName == "" {
		q.CompanyName = meta.ShortName
	}
	if q.Currency == "" {
		q.Currency = "USD"
	}
	if prev := meta.ChartPreviousClose; prev != nil && *prev > 0 {
		change := price - *prev
		pct := change / *prev * 100
		q.Change = &change
		q.ChangePercent = &pct
	}
	return q, nil
}

// FetchSeries downloads daily closes between start and end. Null closes are
// skipped. Dates are calendar days in the exchange time zone.
func (y *YahooFinance) FetchSeries(ctx context.Context, symbol string, start, end time.Time) (*Series, error) {
	query := fmt.Sprintf("period1=%d&period2=%d&interval=1d&events=history&includeAdjustedClose=true", start.Unix(), end.Unix())
	res, err := y.chart(ctx, symbol, query)
	if err != nil {
		return nil, NewProviderError(y.Name(), "FetchSeries", symbol, err, nil)
	}

	r := res.Chart.Result[0]
	loc := time.UTC
	if r.Meta.ExchangeTimezoneName != "" {
		if l, err := time.LoadLocation(r.Meta.ExchangeTimezoneName); err == nil {
			loc = l
		}
	}

	series := &Series{
		Symbol:             symbol,
		Currency:           strings.ToUpper(r.Meta.Currency),
		RegularMarketPrice: r.Meta.RegularMarketPrice,
	}
	var closes []*float64
	if len(r.Indicators.Quote) > 0 {
		closes = r.Indicators.Quote[0].Close
	}
	for i, ts := range r.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		local := time.Unix(ts, 0).In(loc)
		series.Points = append(series.Points, SeriesPoint{
			Date:  time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC),
			Close: *closes[i],
		})
	}
	if len(series.Points) == 0 {
		return nil, NewProviderError(y.Name(), "FetchSeries", symbol, fmt.Errorf("%w: empty series", ErrNotFound), nil)
	}
	return series, nil
}

// FetchSnapshot reads the fundamentals of symbol from the quote endpoint
func (y *YahooFinance) FetchSnapshot(ctx context.Context, symbol string) (*QuoteSnapshot, error) {
	body, err := y.http.Get(ctx, y.quoteURL+"?symbols="+url.QueryEscape(symbol), nil)
	if err != nil {
		return nil, NewProviderError(y.Name(), "FetchSnapshot", symbol, err, nil)
	}
	obj, err := decodeAny(body)
	if err != nil {
		return nil, NewProviderError(y.Name(), "FetchSnapshot", symbol, err, nil)
	}
	if _, ok := lookup(obj, "$.quoteResponse.result[0]"); !ok {
		return nil, NewProviderError(y.Name(), "FetchSnapshot", symbol, fmt.Errorf("%w: empty quote result", ErrNotFound), nil)
	}

	field := func(name string) *float64 {
		return lookupFloatPtr(obj, "$.quoteResponse.result[0]."+name)
	}
	return &QuoteSnapshot{
		RegularMarketPrice: field("regularMarketPrice"),
		DividendYield:      field("dividendYield"),
		TrailingPE:         field("trailingPE"),
		ForwardPE:          field("forwardPE"),
		MarketCap:          field("marketCap"),
		PreviousClose:      field("regularMarketPreviousClose"),
		Open:               field("regularMarketOpen"),
		DayLow:             field("regularMarketDayLow"),
		DayHigh:            field("regularMarketDayHigh"),
		Volume:             field("regularMarketVolume"),
		FiftyTwoWeekHigh:   field("fiftyTwoWeekHigh"),
		FiftyTwoWeekLow:    field("fiftyTwoWeekLow"),
		Change:             field("regularMarketChange"),
		ChangePercent:      field("regularMarketChangePercent"),
	}, nil
}

func (y *YahooFinance) chart(ctx context.Context, symbol, query string) (*yahooChartResponse, error) {
	body, err := y.http.Get(ctx, y.chartURL+url.PathEscape(symbol)+"?"+query, nil)
	if err != nil {
		return nil, err
	}
	var res yahooChartResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if res.Chart.Error != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, res.Chart.Error.Description)
	}
	if len(res.Chart.Result) == 0 {
		return nil, fmt.Errorf("%w: empty chart result", ErrNotFound)
	}
	return &res, nil
}
