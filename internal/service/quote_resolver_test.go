package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/portfolio-tracker/internal/adapter"
	"github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/types"
)

var resolverNow = time.Date(2026, time.March, 10, 15, 0, 0, 0, time.UTC)

type resolverFixture struct {
	resolver  *QuoteResolver
	insts     *mockInstrumentRepo
	quotes    *mockQuoteCache
	history   *mockPriceHistory
	watchlist *mockWatchlist
	calls     []string
}

func newResolverFixture(t *testing.T, scrape, series, crypto map[string]*adapter.Quote, insts ...*models.Instrument) *resolverFixture {
	t.Helper()
	f := &resolverFixture{
		insts:     newMockInstrumentRepo(insts...),
		quotes:    newMockQuoteCache(),
		history:   newMockPriceHistory(),
		watchlist: &mockWatchlist{entries: map[string]bool{}},
	}
	providers := ResolverProviders{
		Scrape: quoteProvider("google_scrape", scrape, &f.calls),
		Series: quoteProvider("yahoo", series, &f.calls),
		Crypto: quoteProvider("coingecko", crypto, &f.calls),
	}
	f.resolver = NewQuoteResolver(f.insts, f.quotes, f.history, f.watchlist, providers, nil, 0)
	f.resolver.now = func() time.Time { return resolverNow }
	return f
}

func strPtr(s string) *string { return &s }

func TestResolve_ServesSameDayCache(t *testing.T) {
	f := newResolverFixture(t, nil, nil, nil)
	f.quotes.quotes["AAPL"] = &models.LiveQuote{InstrumentID: "AAPL", Price: 190, Currency: "USD", FetchedAt: resolverNow.Add(-6 * time.Hour)}

	res, err := f.resolver.Resolve(context.Background(), QuoteRequest{Ticker: "aapl"})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 190.0, res.Quote.Price)
	assert.Empty(t, f.calls, "fresh cache must not contact providers")
}

func TestResolve_StaleCacheFetchesAgain(t *testing.T) {
	scrape := map[string]*adapter.Quote{
		"AAPL:NASDAQ": {Price: 195, Currency: "USD", CompanyName: "Apple Inc", Exchange: "NASDAQ", Source: types.SourceGoogleScrape},
	}
	f := newResolverFixture(t, scrape, nil, nil)
	f.quotes.quotes["AAPL"] = &models.LiveQuote{InstrumentID: "AAPL", Price: 190, FetchedAt: resolverNow.AddDate(0, 0, -1)}

	res, err := f.resolver.Resolve(context.Background(), QuoteRequest{Ticker: "AAPL"})
	require.NoError(t, err)
	assert.False(t, res.Cached)
	assert.Equal(t, 195.0, res.Quote.Price)
	assert.Equal(t, "AAPL:NASDAQ", res.Symbol)
	assert.Equal(t, []string{"google_scrape:AAPL:NASDAQ"}, f.calls)

	points, _ := f.history.Series(context.Background(), "AAPL")
	require.Len(t, points, 1)
	assert.Equal(t, types.SourceGoogleLive, points[0].Source)
	assert.Equal(t, day("2026-03-10"), points[0].Date)
}

func TestResolve_RollingFreshnessWindow(t *testing.T) {
	f := newResolverFixture(t, nil, nil, nil)
	f.resolver.freshness = 15 * time.Minute
	f.quotes.quotes["AAPL"] = &models.LiveQuote{InstrumentID: "AAPL", Price: 190, FetchedAt: resolverNow.Add(-10 * time.Minute)}

	res, err := f.resolver.Resolve(context.Background(), QuoteRequest{Ticker: "AAPL"})
	require.NoError(t, err)
	assert.True(t, res.Cached)

	f.quotes.quotes["AAPL"].FetchedAt = resolverNow.Add(-20 * time.Minute)
	_, err = f.resolver.Resolve(context.Background(), QuoteRequest{Ticker: "AAPL"})
	assert.True(t, errors.IsExpectedAbsence(err))
	assert.NotEmpty(t, f.calls)
}

func TestResolve_ManualNeverContactsProviders(t *testing.T) {
	inst := &models.Instrument{ID: "PRIVATE", PriceSource: types.PriceSourceManual, Status: types.InstrumentActive}
	scrape := map[string]*adapter.Quote{"PRIVATE": {Price: 1, Currency: "USD"}}
	f := newResolverFixture(t, scrape, nil, nil, inst)

	_, err := f.resolver.Resolve(context.Background(), QuoteRequest{Ticker: "PRIVATE", ForceFresh: true})
	require.Error(t, err)
	assert.True(t, errors.IsExpectedAbsence(err))

	f.quotes.quotes["PRIVATE"] = &models.LiveQuote{InstrumentID: "PRIVATE", Price: 42, FetchedAt: resolverNow.AddDate(-1, 0, 0)}
	res, err := f.resolver.Resolve(context.Background(), QuoteRequest{Ticker: "PRIVATE", ForceFresh: true})
	require.NoError(t, err)
	assert.Equal(t, 42.0, res.Quote.Price)
	assert.True(t, res.Cached)
	assert.Empty(t, f.calls)
}

func TestResolve_AliasWritesBothIDs(t *testing.T) {
	inst := &models.Instrument{ID: "RDSA", AliasOf: strPtr("SHEL"), Status: types.InstrumentActive}
	scrape := map[string]*adapter.Quote{
		"SHEL:NASDAQ": {Price: 70, Currency: "USD", CompanyName: "Shell plc", Source: types.SourceGoogleScrape},
	}
	f := newResolverFixture(t, scrape, nil, nil, inst)

	res, err := f.resolver.Resolve(context.Background(), QuoteRequest{Ticker: "RDSA", ForceFresh: true})
	require.NoError(t, err)
	assert.Equal(t, "RDSA", res.Ticker)
	assert.Equal(t, "SHEL", res.CanonicalID)
	assert.Equal(t, "google_scrape:SHEL:NASDAQ", f.calls[0])

	for _, id := range []string{"RDSA", "SHEL"} {
		require.Contains(t, f.quotes.quotes, id)
		assert.Equal(t, 70.0, f.quotes.quotes[id].Price)
		points, _ := f.history.Series(context.Background(), id)
		assert.Len(t, points, 1, id)
	}

	res, err = f.resolver.Resolve(context.Background(), QuoteRequest{Ticker: "SHEL"})
	require.NoError(t, err)
	assert.True(t, res.Cached)
	assert.Equal(t, 70.0, res.Quote.Price)
}

func TestResolve_IdentityMismatchFallsThrough(t *testing.T) {
	inst := &models.Instrument{ID: "CBK", CompanyName: "Commerzbank AG", Status: types.InstrumentActive}
	scrape := map[string]*adapter.Quote{
		"CBK:ETR": {Price: 15, Currency: "EUR", CompanyName: "Commerzbank AG", Source: types.SourceGoogleScrape},
		"CBK.DE":  {Price: 15, Currency: "EUR", CompanyName: "Commerzbank", Source: types.SourceGoogleScrape},
	}
	f := newResolverFixture(t, scrape, nil, nil, inst)
	// the first candidate answers with another company
	scrape["CBK:ETR"].CompanyName = "Xylo Twelve Ltd"

	res, err := f.resolver.Resolve(context.Background(), QuoteRequest{Ticker: "CBK", ForceFresh: true})
	require.NoError(t, err)
	assert.Equal(t, "CBK.DE", res.Symbol)
	assert.Equal(t, []string{"google_scrape:CBK:ETR", "google_scrape:CBK.DE"}, f.calls)
}

func TestResolve_IdentityMismatchPersistsNothing(t *testing.T) {
	inst := &models.Instrument{ID: "CYN", CompanyName: "Cyngn Inc", Status: types.InstrumentActive}
	quote := &adapter.Quote{Price: 3, Currency: "USD", CompanyName: "Totally Unrelated Mining Plc"}
	scrape := map[string]*adapter.Quote{"CYN:NASDAQ": quote, "CYN": quote}
	f := newResolverFixture(t, scrape, nil, nil, inst)

	_, err := f.resolver.Resolve(context.Background(), QuoteRequest{Ticker: "CYN", ForceFresh: true})
	require.Error(t, err)
	assert.True(t, errors.IsExpectedAbsence(err))
	assert.Zero(t, f.quotes.puts)
	assert.Empty(t, f.history.points)
}

func TestResolve_CryptoChain(t *testing.T) {
	crypto := map[string]*adapter.Quote{
		"bitcoin": {Price: 60000, Currency: "USD", Source: types.SourceCoinGecko},
		"pepe":    {Price: 0.00001, Currency: "USD", Source: types.SourceCoinGecko},
	}
	f := newResolverFixture(t, nil, nil, crypto)

	res, err := f.resolver.Resolve(context.Background(), QuoteRequest{Ticker: "BTC"})
	require.NoError(t, err)
	assert.Equal(t, types.SourceCoinGecko, res.Quote.Source)
	assert.Equal(t, []string{"yahoo:BTC-USD", "coingecko:bitcoin"}, f.calls)

	f.calls = nil
	res, err = f.resolver.Resolve(context.Background(), QuoteRequest{Ticker: "PEPE", AssetTypeHint: "crypto"})
	require.NoError(t, err)
	assert.Equal(t, "pepe", res.Symbol)
}

func TestResolve_PunctuationVariantRetry(t *testing.T) {
	series := map[string]*adapter.Quote{
		"BRK-B": {Price: 410, Currency: "USD", Source: types.SourceYahoo},
	}
	f := newResolverFixture(t, nil, series, nil)

	res, err := f.resolver.Resolve(context.Background(), QuoteRequest{Ticker: "BRK.B"})
	require.NoError(t, err)
	assert.Equal(t, "BRK-B", res.Symbol)
	assert.Contains(t, f.calls, "yahoo:BRK.B")
	assert.Contains(t, f.calls, "yahoo:BRK-B")
}

func TestResolve_AllCandidatesFailIsNotFound(t *testing.T) {
	f := newResolverFixture(t, nil, nil, nil)

	_, err := f.resolver.Resolve(context.Background(), QuoteRequest{Ticker: "NOPE"})
	require.Error(t, err)
	ce := errors.Categorize(err)
	assert.Equal(t, errors.CategoryNotFound, ce.Category)
	assert.Equal(t, "QUOTE_NOT_FOUND", ce.Code)
}

func TestResolve_EmptyTicker(t *testing.T) {
	f := newResolverFixture(t, nil, nil, nil)
	_, err := f.resolver.Resolve(context.Background(), QuoteRequest{Ticker: "  "})
	assert.True(t, errors.IsUserError(err))
}

func TestResolveBatch_CurrencyMismatch(t *testing.T) {
	scrape := map[string]*adapter.Quote{
		"VWRA:LON": {Price: 120, Currency: "USD", Source: types.SourceGoogleScrape},
		"SAP:FRA":  {Price: 180, Currency: "EUR", Source: types.SourceGoogleScrape},
	}
	f := newResolverFixture(t, scrape, nil, nil)

	items := f.resolver.ResolveBatch(context.Background(), []BatchQuoteRequest{
		{Ticker: "VWRA", Currency: "GBP"},
		{Ticker: "SAP", Currency: "EUR"},
		{Ticker: "NOPE"},
	})
	require.Len(t, items, 3)

	assert.False(t, items[0].Success)
	assert.Equal(t, "currency mismatch", items[0].Error)
	assert.Equal(t, "USD", items[0].Currency)

	assert.True(t, items[1].Success)
	assert.Equal(t, 180.0, items[1].Price)

	assert.False(t, items[2].Success)
	assert.NotEmpty(t, items[2].Error)
}

func TestImportTicker_AddsToWatchlist(t *testing.T) {
	scrape := map[string]*adapter.Quote{"MSFT:NASDAQ": {Price: 400, Currency: "USD"}}
	f := newResolverFixture(t, scrape, nil, nil)
	f.quotes.quotes["MSFT"] = &models.LiveQuote{InstrumentID: "MSFT", Price: 1, FetchedAt: resolverNow}

	res, added, err := f.resolver.ImportTicker(context.Background(), "user-1", QuoteRequest{Ticker: "msft"})
	require.NoError(t, err)
	assert.True(t, added)
	assert.False(t, res.Cached, "import always resolves fresh")
	assert.Equal(t, 400.0, res.Quote.Price)

	_, added, err = f.resolver.ImportTicker(context.Background(), "user-1", QuoteRequest{Ticker: "MSFT"})
	require.NoError(t, err)
	assert.False(t, added)
}

func TestImportTicker_NotFoundLeavesWatchlist(t *testing.T) {
	f := newResolverFixture(t, nil, nil, nil)
	_, _, err := f.resolver.ImportTicker(context.Background(), "user-1", QuoteRequest{Ticker: "NOPE"})
	require.Error(t, err)
	assert.Empty(t, f.watchlist.entries)
}
