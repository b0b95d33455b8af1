package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/portfolio-tracker/internal/adapter"
	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/storage"
	"github.com/portfolio-tracker/internal/types"
)

// Mock repositories for testing

type mockInstrumentRepo struct {
	instruments map[string]*models.Instrument
	upserts     []models.InstrumentMetadata
	err         error
}

func newMockInstrumentRepo(insts ...*models.Instrument) *mockInstrumentRepo {
	m := &mockInstrumentRepo{instruments: map[string]*models.Instrument{}}
	for _, i := range insts {
		m.instruments[i.ID] = i
	}
	return m
}

func (m *mockInstrumentRepo) Get(ctx context.Context, id string) (*models.Instrument, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.instruments[strings.ToUpper(id)], nil
}

func (m *mockInstrumentRepo) ListActive(ctx context.Context) ([]string, error) {
	var ids []string
	for id, i := range m.instruments {
		if i.Status == types.InstrumentActive {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *mockInstrumentRepo) UpsertMetadata(ctx context.Context, meta models.InstrumentMetadata, class types.AssetClass) (bool, error) {
	m.upserts = append(m.upserts, meta)
	if _, ok := m.instruments[meta.ID]; ok {
		return false, nil
	}
	m.instruments[meta.ID] = &models.Instrument{
		ID:          meta.ID,
		CompanyName: meta.CompanyName,
		ISIN:        meta.ISIN,
		Currency:    meta.Currency,
		AssetClass:  class,
		Status:      types.InstrumentNeedsReview,
	}
	return true, nil
}

type mockQuoteCache struct {
	quotes      map[string]*models.LiveQuote
	invalidated []string
	puts        int
}

func newMockQuoteCache() *mockQuoteCache {
	return &mockQuoteCache{quotes: map[string]*models.LiveQuote{}}
}

func (m *mockQuoteCache) Get(ctx context.Context, id string) (*models.LiveQuote, error) {
	lq, ok := m.quotes[id]
	if !ok {
		return nil, nil
	}
	cp := *lq
	return &cp, nil
}

func (m *mockQuoteCache) Put(ctx context.Context, lq *models.LiveQuote) error {
	m.puts++
	stored := *lq
	if old, ok := m.quotes[lq.InstrumentID]; ok {
		stored.Analytics = old.Analytics
		stored.Fundamentals = old.Fundamentals
	}
	m.quotes[lq.InstrumentID] = &stored
	return nil
}

func (m *mockQuoteCache) Invalidate(ctx context.Context, ids ...string) {
	m.invalidated = append(m.invalidated, ids...)
}

// UpdateAnalytics and MergeFundamentals write into the same map so the
// cache mock also serves as the LiveQuoteWriter
func (m *mockQuoteCache) UpdateAnalytics(ctx context.Context, id string, a models.Analytics) (bool, error) {
	lq, ok := m.quotes[id]
	if !ok {
		return false, nil
	}
	lq.Analytics = a
	return true, nil
}

func (m *mockQuoteCache) MergeFundamentals(ctx context.Context, id string, f models.Fundamentals) (bool, error) {
	lq, ok := m.quotes[id]
	if !ok {
		return false, nil
	}
	lq.Fundamentals = f.Merge(lq.Fundamentals)
	return true, nil
}

type mockPriceHistory struct {
	points map[string]map[time.Time]models.PricePoint
	txs    int
}

func newMockPriceHistory() *mockPriceHistory {
	return &mockPriceHistory{points: map[string]map[time.Time]models.PricePoint{}}
}

func (m *mockPriceHistory) Stats(ctx context.Context, id string) (models.SeriesStats, error) {
	series, _ := m.Series(ctx, id)
	stats := models.SeriesStats{Count: len(series)}
	if len(series) > 0 {
		last := series[len(series)-1].Date
		stats.LastDate = &last
	}
	return stats, nil
}

func (m *mockPriceHistory) Series(ctx context.Context, id string) ([]models.PricePoint, error) {
	var out []models.PricePoint
	for _, p := range m.points[id] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *mockPriceHistory) UpsertSeries(ctx context.Context, ids []string, points []models.PricePoint, source types.QuoteSource) (int, error) {
	m.txs++
	n := 0
	for _, id := range ids {
		if m.points[id] == nil {
			m.points[id] = map[time.Time]models.PricePoint{}
		}
		for _, p := range points {
			m.points[id][p.Date] = models.PricePoint{InstrumentID: id, Date: p.Date, Price: p.Price, Source: source}
			n++
		}
	}
	return n, nil
}

func (m *mockPriceHistory) AddPoint(ctx context.Context, ids []string, date time.Time, price float64, source types.QuoteSource) error {
	_, err := m.UpsertSeries(ctx, ids, []models.PricePoint{{Date: date, Price: price}}, source)
	return err
}

type mockSeriesProvider struct {
	series    map[string]*adapter.Series
	snapshots map[string]*adapter.QuoteSnapshot
	calls     []string
}

func (m *mockSeriesProvider) FetchSeries(ctx context.Context, symbol string, start, end time.Time) (*adapter.Series, error) {
	m.calls = append(m.calls, symbol)
	s, ok := m.series[symbol]
	if !ok {
		return nil, adapter.NewProviderError("yahoo", "FetchSeries", symbol, adapter.ErrNotFound, nil)
	}
	return s, nil
}

func (m *mockSeriesProvider) FetchSnapshot(ctx context.Context, symbol string) (*adapter.QuoteSnapshot, error) {
	s, ok := m.snapshots[symbol]
	if !ok {
		return nil, adapter.ErrNotFound
	}
	return s, nil
}

type mockMirror struct {
	rows int
	err  error
}

func (m *mockMirror) MirrorPoints(ctx context.Context, ids []string, points []models.PricePoint) error {
	if m.err != nil {
		return m.err
	}
	m.rows += len(ids) * len(points)
	return nil
}

type mockPacer struct {
	sleeps, successes, failures int
}

func (m *mockPacer) Sleep(ctx context.Context) error {
	m.sleeps++
	return ctx.Err()
}

func (m *mockPacer) RecordSuccess() { m.successes++ }
func (m *mockPacer) RecordFailure() { m.failures++ }

type mockWatchlist struct {
	entries map[string]bool
}

func (m *mockWatchlist) Add(ctx context.Context, userID, ticker string) (bool, error) {
	key := userID + "/" + ticker
	if m.entries[key] {
		return false, nil
	}
	m.entries[key] = true
	return true, nil
}

// mockTransactionRepo enforces (user_id, fingerprint) uniqueness like the index does
type mockTransactionRepo struct {
	mu   sync.Mutex
	rows []*models.Transaction
}

func (m *mockTransactionRepo) Insert(ctx context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.UserID == tx.UserID && r.Fingerprint == tx.Fingerprint {
			return storage.ErrDuplicateTransaction
		}
	}
	tx.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, tx)
	return nil
}

func (m *mockTransactionRepo) InsertPlain(ctx context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	tx.ID = int64(len(m.rows) + 1)
	m.rows = append(m.rows, tx)
	return nil
}

func (m *mockTransactionRepo) ExistsSimilar(ctx context.Context, tx *models.Transaction) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.rows {
		if r.UserID == tx.UserID && r.Date.Equal(tx.Date) && r.InstrumentID == tx.InstrumentID &&
			r.Type == tx.Type && r.Platform == tx.Platform && r.Currency == tx.Currency &&
			r.Quantity == tx.Quantity && (r.AmountCur == tx.AmountCur || r.AmountBase == tx.AmountBase) {
			return true, nil
		}
	}
	return false, nil
}

type mockFxRateRepo struct {
	rates   []models.FxRate
	lookups int
}

func (m *mockFxRateRepo) LatestOnOrBefore(ctx context.Context, currency string, date time.Time) (*models.FxRate, error) {
	m.lookups++
	var best *models.FxRate
	for i := range m.rates {
		r := m.rates[i]
		if r.Currency != currency || r.Date.After(date) {
			continue
		}
		if best == nil || r.Date.After(best.Date) {
			best = &r
		}
	}
	return best, nil
}

func (m *mockFxRateRepo) UpsertRates(ctx context.Context, rates []models.FxRate) error {
	m.rates = append(m.rates, rates...)
	return nil
}

type mockFxTable struct {
	rates []models.FxRate
	err   error
	calls int
}

func (m *mockFxTable) FetchDaily(ctx context.Context, date time.Time) ([]models.FxRate, error) {
	m.calls++
	return m.rates, m.err
}

// quoteProvider builds a provider from a symbol -> quote table and records calls
func quoteProvider(name string, quotes map[string]*adapter.Quote, calls *[]string) adapter.QuoteProvider {
	return adapter.QuoteProviderFunc{
		ProviderName: name,
		Fn: func(ctx context.Context, symbol string) (*adapter.Quote, error) {
			if calls != nil {
				*calls = append(*calls, name+":"+symbol)
			}
			q, ok := quotes[symbol]
			if !ok {
				return nil, adapter.NewProviderError(name, "FetchQuote", symbol, adapter.ErrNotFound, nil)
			}
			cp := *q
			return &cp, nil
		},
	}
}

func day(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}
