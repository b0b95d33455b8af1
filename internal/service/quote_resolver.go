package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/portfolio-tracker/internal/adapter"
	"github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/logging"
	"github.com/portfolio-tracker/internal/market"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/types"
)

// ResolverProviders are the quote sources of the fallback chains. Any of them
// may be nil, which drops that step.
type ResolverProviders struct {
	// Scrape serves exchange-qualified equity codes ("AAPL:NASDAQ")
	Scrape adapter.QuoteProvider
	// Series is the OHLC provider: suffix variants for equities, "<SYM>-USD" for coins
	Series adapter.QuoteProvider
	// Crypto is the coin index, keyed by coin id
	Crypto adapter.QuoteProvider
}

// QuoteRequest is one resolve call
type QuoteRequest struct {
	Ticker        string `json:"ticker"`
	ForceFresh    bool   `json:"forceFresh"`
	CurrencyHint  string `json:"currency,omitempty"`
	AssetTypeHint string `json:"assetType,omitempty"`
}

// QuoteResult is a resolved quote keyed by the requested ticker
type QuoteResult struct {
	Ticker      string            `json:"ticker"`
	CanonicalID string            `json:"canonicalId"`
	Symbol      string            `json:"symbol,omitempty"`
	Cached      bool              `json:"cached"`
	Quote       *models.LiveQuote `json:"quote"`
}

// QuoteResolver turns a ticker into a current price. It follows a single
// alias hop, honors the manual price pin and the freshness window, walks the
// provider chain of the asset class and validates the fetched company name
// before anything is stored.
//
// Overlapping resolves of the same ticker are not coordinated: both may hit
// providers and both write. The last write wins.
type QuoteResolver struct {
	instruments InstrumentStore
	quotes      QuoteCache
	history     PriceHistoryStore
	watchlist   WatchlistStore
	providers   ResolverProviders
	tables      *market.SymbolTables
	freshness   time.Duration
	now         func() time.Time
}

// NewQuoteResolver creates a resolver. A nil tables uses the built-in symbol
// tables. freshness 0 means a cached quote is fresh on the day it was fetched.
func NewQuoteResolver(
	instruments InstrumentStore,
	quotes QuoteCache,
	history PriceHistoryStore,
	watchlist WatchlistStore,
	providers ResolverProviders,
	tables *market.SymbolTables,
	freshness time.Duration,
) *QuoteResolver {
	if tables == nil {
		tables = market.Default()
	}
	return &QuoteResolver{
		instruments: instruments,
		quotes:      quotes,
		history:     history,
		watchlist:   watchlist,
		providers:   providers,
		tables:      tables,
		freshness:   freshness,
		now:         time.Now,
	}
}

// Resolve returns the quote of req.Ticker. Every provider-side failure,
// including an identity mismatch, comes back as a not-found error; only a
// failing store is reported as a database error.
func (r *QuoteResolver) Resolve(ctx context.Context, req QuoteRequest) (*QuoteResult, error) {
	ticker := market.NormalizeTicker(req.Ticker)
	if ticker == "" {
		return nil, errors.NewInvalidParameterError("ticker", "must not be empty")
	}

	inst, err := r.instruments.Get(ctx, ticker)
	if err != nil {
		return nil, errors.NewDatabaseError("get instrument", err)
	}
	canonical := ticker
	if inst != nil {
		canonical = inst.CanonicalID()
	}
	ids := writeIDs(ticker, canonical)
	log := logging.FromContext(ctx).WithTicker(ticker, canonical)

	res := &QuoteResult{Ticker: ticker, CanonicalID: canonical}

	if inst != nil && inst.IsManual() {
		lq, err := r.cached(ctx, ids)
		if err != nil {
			return nil, errors.NewDatabaseError("get live quote", err)
		}
		if lq == nil {
			return nil, errors.NewQuoteNotFoundError(ticker, fmt.Errorf("manual price source without a stored quote"))
		}
		res.Cached, res.Quote = true, lq
		return res, nil
	}

	if !req.ForceFresh {
		lq, err := r.cached(ctx, ids)
		if err != nil {
			log.WithError(err).Warn("Cached quote lookup failed")
		} else if lq != nil && r.isFresh(lq.FetchedAt) {
			res.Cached, res.Quote = true, lq
			return res, nil
		}
	}

	expected := ""
	if inst != nil {
		expected = inst.CompanyName
	}
	class := r.assetClass(inst, canonical, req.AssetTypeHint)

	q, symbol, err := r.fetch(ctx, log, r.attempts(class, canonical, req.CurrencyHint), expected)
	if err != nil {
		log.WithError(err).Info("Quote not resolved")
		return nil, errors.NewQuoteNotFoundError(ticker, err)
	}

	lq, err := r.persist(ctx, ids, q)
	if err != nil {
		return nil, err
	}
	log.WithFields(map[string]interface{}{
		"symbol":   symbol,
		"price":    q.Price,
		"currency": q.Currency,
		"source":   string(q.Source),
	}).Info("Quote resolved")

	res.Symbol, res.Quote = symbol, lq
	return res, nil
}

// BatchQuoteRequest is one entry of a batch price lookup
type BatchQuoteRequest struct {
	Ticker   string `json:"ticker"`
	Currency string `json:"currency,omitempty"`
}

// BatchQuoteItem is the per-ticker outcome of a batch lookup
type BatchQuoteItem struct {
	Ticker   string  `json:"ticker"`
	Success  bool    `json:"success"`
	Price    float64 `json:"price,omitempty"`
	Currency string  `json:"currency,omitempty"`
	Source   string  `json:"source,omitempty"`
	Cached   bool    `json:"cached"`
	Error    string  `json:"error,omitempty"`
}

// ResolveBatch resolves every entry in order with the cache allowed. A quote
// whose currency differs from the requested one is reported as a currency
// mismatch. No entry aborts the batch.
func (r *QuoteResolver) ResolveBatch(ctx context.Context, reqs []BatchQuoteRequest) []BatchQuoteItem {
	out := make([]BatchQuoteItem, 0, len(reqs))
	for _, req := range reqs {
		item := BatchQuoteItem{Ticker: market.NormalizeTicker(req.Ticker)}
		res, err := r.Resolve(ctx, QuoteRequest{Ticker: req.Ticker, CurrencyHint: req.Currency})
		if err != nil {
			item.Error = errors.Categorize(err).Message
			out = append(out, item)
			continue
		}

		q := res.Quote
		item.Price, item.Currency, item.Source, item.Cached = q.Price, q.Currency, string(q.Source), res.Cached
		if req.Currency != "" && q.Currency != "" && !strings.EqualFold(req.Currency, q.Currency) {
			item.Error = "currency mismatch"
		} else {
			item.Success = true
		}
		out = append(out, item)
	}
	return out
}

// ImportTicker force-resolves a ticker and adds it to the user's watchlist
// when a price was found. The bool reports whether the ticker was new.
func (r *QuoteResolver) ImportTicker(ctx context.Context, userID string, req QuoteRequest) (*QuoteResult, bool, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, false, errors.NewInvalidParameterError("user_id", "must not be empty")
	}
	req.ForceFresh = true
	res, err := r.Resolve(ctx, req)
	if err != nil {
		return nil, false, err
	}
	added, err := r.watchlist.Add(ctx, userID, res.Ticker)
	if err != nil {
		return res, false, errors.NewDatabaseError("add watchlist entry", err)
	}
	return res, added, nil
}

// attempt is one (provider, symbol) step of a fallback chain
type attempt struct {
	provider adapter.QuoteProvider
	symbol   string
}

// attempts builds the ordered chain for the asset class
func (r *QuoteResolver) attempts(class types.AssetClass, canonical, currencyHint string) []attempt {
	var chain []attempt
	add := func(p adapter.QuoteProvider, symbols ...string) {
		if p == nil {
			return
		}
		for _, s := range symbols {
			chain = append(chain, attempt{provider: p, symbol: s})
		}
	}

	if class == types.AssetCrypto {
		add(r.providers.Series, market.CryptoPair(canonical))
		add(r.providers.Crypto, r.tables.CryptoID(canonical))
		return chain
	}
	add(r.providers.Scrape, r.tables.ScrapeCandidates(canonical, currencyHint)...)
	add(r.providers.Series, r.tables.SeriesCandidates(canonical)...)
	return chain
}

// fetch walks chain until a candidate yields a positive price whose company
// name matches expected. A "." or "-" share class is retried once swapped.
func (r *QuoteResolver) fetch(ctx context.Context, log *logging.Logger, chain []attempt, expected string) (*adapter.Quote, string, error) {
	var lastErr error = adapter.ErrNotFound
	for _, a := range chain {
		if err := ctx.Err(); err != nil {
			return nil, "", err
		}

		q, used, err := adapter.WithPunctuationRetry(ctx, a.symbol, a.provider.FetchQuote)
		if err != nil {
			log.WithProvider(a.provider.Name()).WithField("symbol", a.symbol).Debugf("candidate failed: %v", err)
			lastErr = err
			continue
		}
		if q == nil || q.Price <= 0 {
			lastErr = adapter.ErrNotFound
			continue
		}

		if m := market.MatchNames(expected, q.CompanyName); !m.Accepted {
			log.WithProvider(a.provider.Name()).WithFields(map[string]interface{}{
				"symbol":     used,
				"expected":   m.Expected,
				"fetched":    m.Fetched,
				"similarity": m.Similarity,
			}).Warn("Rejected quote with mismatching company name")
			lastErr = errors.NewIdentityMismatchError(used, m.Expected, m.Fetched, m.Similarity)
			continue
		}
		return q, used, nil
	}
	return nil, "", lastErr
}

// persist writes the quote and today's point under every id and returns the
// stored row of the first id
func (r *QuoteResolver) persist(ctx context.Context, ids []string, q *adapter.Quote) (*models.LiveQuote, error) {
	now := r.now()
	var first *models.LiveQuote
	for _, id := range ids {
		lq := &models.LiveQuote{
			InstrumentID:  id,
			Price:         q.Price,
			Change:        q.Change,
			ChangePercent: q.ChangePercent,
			Currency:      q.Currency,
			Exchange:      q.Exchange,
			CompanyName:   q.CompanyName,
			Source:        q.Source,
			FetchedAt:     now,
			Status:        string(types.InstrumentActive),
		}
		if err := r.quotes.Put(ctx, lq); err != nil {
			return nil, errors.NewDatabaseError("upsert live quote", err)
		}
		if first == nil {
			first = lq
		}
	}

	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	if err := r.history.AddPoint(ctx, ids, today, q.Price, types.SourceGoogleLive); err != nil {
		return nil, errors.NewDatabaseError("add price point", err)
	}

	// read back so stored analytics come along
	if stored, err := r.quotes.Get(ctx, first.InstrumentID); err == nil && stored != nil {
		return stored, nil
	}
	return first, nil
}

func (r *QuoteResolver) cached(ctx context.Context, ids []string) (*models.LiveQuote, error) {
	for _, id := range ids {
		lq, err := r.quotes.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if lq != nil {
			return lq, nil
		}
	}
	return nil, nil
}

func (r *QuoteResolver) isFresh(fetchedAt time.Time) bool {
	now := r.now()
	if r.freshness <= 0 {
		y1, m1, d1 := fetchedAt.In(now.Location()).Date()
		y2, m2, d2 := now.Date()
		return y1 == y2 && m1 == m2 && d1 == d2
	}
	return now.Sub(fetchedAt) <= r.freshness
}

func (r *QuoteResolver) assetClass(inst *models.Instrument, canonical, hint string) types.AssetClass {
	switch {
	case strings.TrimSpace(hint) != "":
		return types.ParseAssetClass(hint)
	case inst != nil && inst.AssetClass != "":
		return inst.AssetClass
	case r.tables.IsKnownCrypto(canonical):
		return types.AssetCrypto
	}
	return types.AssetEquity
}

// writeIDs lists the ids a result is stored under: the requested one first,
// then the canonical one when it differs
func writeIDs(ticker, canonical string) []string {
	if canonical == "" || canonical == ticker {
		return []string{ticker}
	}
	return []string{ticker, canonical}
}
