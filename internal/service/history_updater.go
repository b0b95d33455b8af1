package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/portfolio-tracker/internal/adapter"
	"github.com/portfolio-tracker/internal/analytics"
	"github.com/portfolio-tracker/internal/errors"
	"github.com/portfolio-tracker/internal/logging"
	"github.com/portfolio-tracker/internal/market"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/ratelimit"
	"github.com/portfolio-tracker/internal/types"
)

// Unit correction: a fetched close 50 to 150 times the stored live price is
// read as a minor-unit quote (pence against pounds) and scaled by 0.01.
const (
	minorUnitRatioLow  = 50.0
	minorUnitRatioHigh = 150.0
	minorUnitFactor    = 0.01
)

// RefreshResult is the outcome of one instrument refresh
type RefreshResult struct {
	Ticker      string              `json:"ticker"`
	CanonicalID string              `json:"canonicalId"`
	Symbol      string              `json:"symbol"`
	Source      types.QuoteSource   `json:"source"`
	Status      types.RefreshStatus `json:"status"`
	Points      int                 `json:"points"`
	Factor      float64             `json:"factor"`
	Analytics   *models.Analytics   `json:"analytics,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// RefreshSummary counts the outcomes of an instrument-wide refresh
type RefreshSummary struct {
	OK      int              `json:"ok"`
	Fail    int              `json:"fail"`
	Results []*RefreshResult `json:"results"`
}

// HistoryUpdater keeps the daily close series, the analytics and the
// fundamentals of instruments current
type HistoryUpdater struct {
	instruments InstrumentStore
	history     PriceHistoryStore
	quotes      QuoteCache
	writer      LiveQuoteWriter
	provider    SeriesProvider
	mirror      PriceMirror
	pacer       Pacer
	tables      *market.SymbolTables
	now         func() time.Time
}

// NewHistoryUpdater creates an updater. mirror and pacer may be nil.
func NewHistoryUpdater(
	instruments InstrumentStore,
	history PriceHistoryStore,
	quotes QuoteCache,
	writer LiveQuoteWriter,
	provider SeriesProvider,
	mirror PriceMirror,
	pacer Pacer,
	tables *market.SymbolTables,
) *HistoryUpdater {
	if tables == nil {
		tables = market.Default()
	}
	return &HistoryUpdater{
		instruments: instruments,
		history:     history,
		quotes:      quotes,
		writer:      writer,
		provider:    provider,
		mirror:      mirror,
		pacer:       pacer,
		tables:      tables,
		now:         time.Now,
	}
}

// Refresh fetches the series of ticker for period ("max", "<N>y" or "" for
// smart mode), stores it under the canonical and the requested id in one
// transaction, recomputes the analytics from the full stored series and
// merges the fundamentals snapshot. Provider-side failures come back as a
// result status; the error is reserved for bad input and store failures.
func (u *HistoryUpdater) Refresh(ctx context.Context, ticker, period string) (*RefreshResult, error) {
	ticker = market.NormalizeTicker(ticker)
	if ticker == "" || ticker == types.AllInstruments {
		return nil, errors.NewInvalidParameterError("ticker", "must name one instrument")
	}

	inst, err := u.instruments.Get(ctx, ticker)
	if err != nil {
		return nil, errors.NewDatabaseError("get instrument", err)
	}
	canonical := ticker
	if inst != nil {
		canonical = inst.CanonicalID()
	}
	ids := writeIDs(canonical, ticker)
	symbol := u.providerSymbol(inst, canonical)
	log := logging.FromContext(ctx).WithTicker(ticker, canonical).WithField("symbol", symbol)

	res := &RefreshResult{
		Ticker:      ticker,
		CanonicalID: canonical,
		Symbol:      symbol,
		Source:      types.SourceYahoo,
		Factor:      1,
	}

	stats, err := u.history.Stats(ctx, canonical)
	if err != nil {
		return nil, errors.NewDatabaseError("get series stats", err)
	}
	now := u.now()
	start, err := market.HistoryWindow(period, symbol, stats, now)
	if err != nil {
		return nil, errors.NewInvalidParameterError("period", err.Error())
	}

	series, used, err := adapter.WithPunctuationRetry(ctx, symbol, func(ctx context.Context, s string) (*adapter.Series, error) {
		return u.provider.FetchSeries(ctx, s, start, now)
	})
	if err != nil {
		res.Status, res.Error = types.RefreshFailed, err.Error()
		if adapter.IsNotFound(err) {
			res.Status = types.RefreshNotFound
		}
		log.WithError(err).Info("Series not refreshed")
		return res, nil
	}
	res.Symbol = used

	live, err := u.quotes.Get(ctx, canonical)
	if err != nil {
		return nil, errors.NewDatabaseError("get live quote", err)
	}
	last := series.Points[len(series.Points)-1].Close
	if live != nil {
		res.Factor = UnitFactor(last, live.Price)
	}
	if res.Factor != 1 {
		log.Infof("Scaling series by %.2f (last close %.4f, live price %.4f)", res.Factor, last, live.Price)
	}

	points := scalePoints(series.Points, res.Factor)
	written, err := u.history.UpsertSeries(ctx, ids, points, types.SourceYahoo)
	if err != nil {
		return nil, errors.NewDatabaseError("upsert series", err)
	}
	res.Points = written
	u.mirrorPoints(ctx, log, ids, points)

	full, err := u.history.Series(ctx, canonical)
	if err != nil {
		return nil, errors.NewDatabaseError("read series", err)
	}
	var prior models.Analytics
	var livePrice *float64
	if live != nil {
		prior = live.Analytics
		if live.Price > 0 {
			livePrice = models.Float64(live.Price)
		}
	}
	a := analytics.Compute(models.Prices(full), prior, livePrice)
	for _, id := range ids {
		if _, err := u.writer.UpdateAnalytics(ctx, id, a); err != nil {
			return nil, errors.NewDatabaseError("update analytics", err)
		}
	}
	res.Analytics = &a

	if f, ok := u.fundamentals(ctx, log, used, res.Factor); ok {
		for _, id := range ids {
			if _, err := u.writer.MergeFundamentals(ctx, id, f); err != nil {
				return nil, errors.NewDatabaseError("merge fundamentals", err)
			}
		}
	}
	u.quotes.Invalidate(ctx, ids...)

	res.Status = types.RefreshOK
	log.WithField("points", written).Info("Series refreshed")
	return res, nil
}

// RefreshAll refreshes every active instrument one after another. A failing
// instrument is counted and the loop goes on; a cancelled context stops it
// between instruments. Provider calls are charged to the batch budget pool.
func (u *HistoryUpdater) RefreshAll(ctx context.Context, period string) (*RefreshSummary, error) {
	ids, err := u.instruments.ListActive(ctx)
	if err != nil {
		return nil, errors.NewDatabaseError("list active instruments", err)
	}

	ctx = ratelimit.WithPriority(ctx, ratelimit.PriorityBatch)
	log := logging.FromContext(ctx)
	summary := &RefreshSummary{Results: make([]*RefreshResult, 0, len(ids))}

	for i, id := range ids {
		if i > 0 && u.pacer != nil {
			if err := u.pacer.Sleep(ctx); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		res, err := u.Refresh(ctx, id, period)
		if err != nil {
			res = &RefreshResult{Ticker: id, Status: types.RefreshFailed, Error: err.Error()}
		}
		summary.Results = append(summary.Results, res)
		if res.Status == types.RefreshOK {
			summary.OK++
			if u.pacer != nil {
				u.pacer.RecordSuccess()
			}
			continue
		}
		summary.Fail++
		if u.pacer != nil {
			u.pacer.RecordFailure()
		}
	}

	log.WithFields(map[string]interface{}{
		"ok":          summary.OK,
		"fail":        summary.Fail,
		"instruments": len(ids),
	}).Info("Instrument-wide refresh finished")
	return summary, nil
}

// UnitFactor returns 0.01 when lastClose / livePrice falls in [50, 150], else 1
func UnitFactor(lastClose, livePrice float64) float64 {
	if lastClose <= 0 || livePrice <= 0 {
		return 1
	}
	ratio := lastClose / livePrice
	if ratio >= minorUnitRatioLow && ratio <= minorUnitRatioHigh {
		return minorUnitFactor
	}
	return 1
}

// FundamentalsFromSnapshot maps a quote snapshot onto the stored fundamentals.
// A dividend yield below 1 is a fraction and becomes a percentage; the P/E is
// trailing when known, else forward. Money fields are scaled by factor.
func FundamentalsFromSnapshot(s *adapter.QuoteSnapshot, factor float64) models.Fundamentals {
	f := models.Fundamentals{
		PreviousClose:    s.PreviousClose,
		Open:             s.Open,
		DayLow:           s.DayLow,
		DayHigh:          s.DayHigh,
		FiftyTwoWeekHigh: s.FiftyTwoWeekHigh,
		FiftyTwoWeekLow:  s.FiftyTwoWeekLow,
		MarketCap:        s.MarketCap,
		MarketChange:     s.Change,
		MarketChangePct:  s.ChangePercent,
		PERatio:          s.TrailingPE,
	}
	if f.PERatio == nil {
		f.PERatio = s.ForwardPE
	}
	if s.DividendYield != nil {
		y := *s.DividendYield
		if y < 1 {
			y = decimal.NewFromFloat(y).Mul(decimal.NewFromInt(100)).InexactFloat64()
		}
		f.DividendYield = &y
	}
	if s.Volume != nil {
		v := int64(*s.Volume)
		f.Volume = &v
	}
	return f.ScaleMoney(factor)
}

func (u *HistoryUpdater) fundamentals(ctx context.Context, log *logging.Logger, symbol string, factor float64) (models.Fundamentals, bool) {
	snap, err := u.provider.FetchSnapshot(ctx, symbol)
	if err != nil {
		log.WithError(err).Debug("No fundamentals snapshot")
		return models.Fundamentals{}, false
	}
	f := FundamentalsFromSnapshot(snap, factor)
	return f, !f.IsEmpty()
}

func (u *HistoryUpdater) mirrorPoints(ctx context.Context, log *logging.Logger, ids []string, points []models.PricePoint) {
	if u.mirror == nil {
		return
	}
	if err := u.mirror.MirrorPoints(ctx, ids, points); err != nil {
		log.WithError(err).Warn("Failed to mirror series to ClickHouse")
	}
}

// providerSymbol maps the canonical id to the time-series symbol. Coins
// without a curated mapping use the USD pair.
func (u *HistoryUpdater) providerSymbol(inst *models.Instrument, canonical string) string {
	symbol := u.tables.HistorySymbol(canonical)
	crypto := (inst != nil && inst.AssetClass == types.AssetCrypto) || u.tables.IsKnownCrypto(canonical)
	if crypto && symbol == canonical {
		return market.CryptoPair(canonical)
	}
	return symbol
}

func scalePoints(in []adapter.SeriesPoint, factor float64) []models.PricePoint {
	f := decimal.NewFromFloat(factor)
	out := make([]models.PricePoint, len(in))
	for i, p := range in {
		price := p.Close
		if factor != 1 {
			price = decimal.NewFromFloat(p.Close).Mul(f).InexactFloat64()
		}
		out[i] = models.PricePoint{Date: p.Date, Price: price, Source: types.SourceYahoo}
	}
	return out
}
