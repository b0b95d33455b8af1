// Package market holds the symbol tables and heuristics shared by the quote
// resolver and the history updater: exchange candidates, provider symbol
// mapping, punctuation variants, exchange calendars and name matching.
package market

import (
	"strings"
	"sync"
)

// SymbolTables are the curated lookups behind candidate generation.
// The zero value is empty; use DefaultTables and optionally Extend it.
type SymbolTables struct {
	// BaseExchanges are always tried, after any prepended ones
	BaseExchanges []string `yaml:"base_exchanges"`
	// EURExchanges are prepended when the caller hints EUR
	EURExchanges []string `yaml:"eur_exchanges"`
	// ETFExchanges are prepended for tickers listed in ETFs
	ETFExchanges []string `yaml:"etf_exchanges"`
	ETFs         []string `yaml:"etfs"`
	// ScrapeOverrides are tried first for known-problematic tickers
	ScrapeOverrides map[string][]string `yaml:"scrape_overrides"`
	// SeriesOverrides are extra time-series symbols tried after the suffix variants
	SeriesOverrides map[string][]string `yaml:"series_overrides"`
	// CryptoIDs maps a coin ticker to its index-provider id
	CryptoIDs map[string]string `yaml:"crypto_ids"`
	// HistorySymbols maps an instrument id to its time-series provider symbol
	HistorySymbols map[string]string `yaml:"history_symbols"`
	// LocalListings get a market suffix for the time-series provider (e.g. ".PR")
	LocalListings map[string][]string `yaml:"local_listings"`
	// FallbackSuffixes are appended to bare symbols for the secondary provider
	FallbackSuffixes []string `yaml:"fallback_suffixes"`
}

// DefaultTables returns the built-in symbol tables
func DefaultTables() *SymbolTables {
	return &SymbolTables{
		BaseExchanges: []string{"NASDAQ", "NYSE", "NYSEARCA"},
		EURExchanges:  []string{"FRA", "ETR", "AMS", "BIT"},
		ETFExchanges:  []string{"LON", "AMS", "SWX"},
		ETFs:          []string{"ZPRV", "CNDX", "VWRA", "CSPX", "IWVL", "EQQQ", "EUNL", "IS3N", "SXR8"},
		ScrapeOverrides: map[string][]string{
			"CBK":  {"CBK:ETR", "CBK.DE"},
			"LLOY": {"LLOY:LON", "LLOY.L"},
			"AVWS": {"AVWS:NYSEARCA", "AVWS"},
			"CYN":  {"CYN:NASDAQ", "CYN"},
			"ZPRV": {"ZPRV:ETR", "ZPRV.DE"},
		},
		SeriesOverrides: map[string][]string{
			"ZPRV": {"ZPRV.DE"},
			"CBK":  {"CBK.DE"},
			"LLOY": {"LLOY.L"},
		},
		CryptoIDs: map[string]string{
			"BTC":   "bitcoin",
			"ETH":   "ethereum",
			"ADA":   "cardano",
			"DOT":   "polkadot",
			"SOL":   "solana",
			"MATIC": "matic-network",
			"AVAX":  "avalanche-2",
			"LINK":  "chainlink",
			"UNI":   "uniswap",
			"ATOM":  "cosmos",
			"XRP":   "ripple",
			"LTC":   "litecoin",
			"BCH":   "bitcoin-cash",
			"DOGE":  "dogecoin",
			"SHIB":  "shiba-inu",
		},
		HistorySymbols: map[string]string{
			"BRK.B": "BRK-B",
			"BTC":   "BTC-USD",
			"ETH":   "ETH-USD",
			"ZPRV":  "ZPRV.DE",
			"CNDX":  "CNDX.L",
			"CSPX":  "CSPX.L",
			"IWVL":  "IWVL.L",
			"VWRA":  "VWRA.L",
			"EQQQ":  "EQQQ.DE",
			"EUNL":  "EUNL.DE",
			"IS3N":  "IS3N.DE",
			"SXR8":  "SXR8.DE",
			"RBOT":  "RBOT.L",
			"RENW":  "RENW.L",
		},
		LocalListings: map[string][]string{
			".PR": {"CEZ", "KB", "MONET", "ERBAG", "KOMB", "PHILIP", "COLT", "KOFOL"},
		},
		FallbackSuffixes: []string{".DE", ".L", ".PA", ".AS"},
	}
}

// Extend merges other into t. Lists are replaced when other sets them,
// map entries are added or overwritten.
func (t *SymbolTables) Extend(other *SymbolTables) {
	if other == nil {
		return
	}
	if len(other.BaseExchanges) > 0 {
		t.BaseExchanges = other.BaseExchanges
	}
	if len(other.EURExchanges) > 0 {
		t.EURExchanges = other.EURExchanges
	}
	if len(other.ETFExchanges) > 0 {
		t.ETFExchanges = other.ETFExchanges
	}
	if len(other.FallbackSuffixes) > 0 {
		t.FallbackSuffixes = other.FallbackSuffixes
	}
	t.ETFs = appendUnique(t.ETFs, other.ETFs...)
	t.ScrapeOverrides = mergeLists(t.ScrapeOverrides, other.ScrapeOverrides)
	t.SeriesOverrides = mergeLists(t.SeriesOverrides, other.SeriesOverrides)
	t.LocalListings = mergeLists(t.LocalListings, other.LocalListings)
	t.CryptoIDs = mergeStrings(t.CryptoIDs, other.CryptoIDs)
	t.HistorySymbols = mergeStrings(t.HistorySymbols, other.HistorySymbols)
}

// IsETF reports whether ticker is on the curated ETF list
func (t *SymbolTables) IsETF(ticker string) bool {
	for _, e := range t.ETFs {
		if e == ticker {
			return true
		}
	}
	return false
}

// IsKnownCrypto reports whether ticker has a crypto index id
func (t *SymbolTables) IsKnownCrypto(ticker string) bool {
	_, ok := t.CryptoIDs[ticker]
	return ok
}

// CryptoID returns the index-provider id, falling back to the lower-cased symbol
func (t *SymbolTables) CryptoID(ticker string) string {
	if id, ok := t.CryptoIDs[ticker]; ok {
		return id
	}
	return strings.ToLower(ticker)
}

// ScrapeCandidates builds the ordered list of exchange-qualified codes for
// the scrape provider: manual overrides, then TICKER:EXCHANGE for every
// exchange (EUR and ETF lists prepended), then the bare ticker.
func (t *SymbolTables) ScrapeCandidates(ticker, currencyHint string) []string {
	exchanges := append([]string(nil), t.BaseExchanges...)
	if strings.EqualFold(currencyHint, "EUR") {
		exchanges = append(append([]string(nil), t.EURExchanges...), exchanges...)
	}
	if t.IsETF(ticker) {
		exchanges = append(append([]string(nil), t.ETFExchanges...), exchanges...)
	}

	candidates := append([]string(nil), t.ScrapeOverrides[ticker]...)
	for _, ex := range exchanges {
		candidates = append(candidates, ticker+":"+ex)
	}
	candidates = append(candidates, ticker)
	return dedupe(candidates)
}

// SeriesCandidates lists time-series symbols for the secondary quote
// provider: the bare symbol, country-suffix variants when it has no suffix,
// then any curated overrides.
func (t *SymbolTables) SeriesCandidates(ticker string) []string {
	candidates := []string{ticker}
	if !strings.Contains(ticker, ".") {
		for _, s := range t.FallbackSuffixes {
			candidates = append(candidates, ticker+s)
		}
	}
	candidates = append(candidates, t.SeriesOverrides[ticker]...)
	return dedupe(candidates)
}

// HistorySymbol maps an instrument id to the time-series provider symbol.
// An exchange-qualified id ("NASDAQ:AAPL") is reduced to its symbol first.
func (t *SymbolTables) HistorySymbol(id string) string {
	s := strings.ToUpper(strings.TrimSpace(id))
	if i := strings.Index(s, ":"); i >= 0 {
		s = s[i+1:]
	}
	if mapped, ok := t.HistorySymbols[s]; ok {
		return mapped
	}
	for suffix, tickers := range t.LocalListings {
		for _, local := range tickers {
			if local == s {
				return s + suffix
			}
		}
	}
	return s
}

// CryptoPair is the quote symbol of a coin on the general OHLC provider
func CryptoPair(ticker string) string {
	return strings.ToUpper(ticker) + "-USD"
}

// PunctuationVariant returns the symbol with "." and "-" swapped when its last
// segment is a single-letter share class ("BRK.B" -> "BRK-B"). Exchange
// suffixes such as ".DE" or ".PR" do not qualify.
func PunctuationVariant(symbol string) (string, bool) {
	i := strings.LastIndexAny(symbol, ".-")
	if i <= 0 || i != len(symbol)-2 {
		return "", false
	}
	last := symbol[i+1]
	if !(last >= 'A' && last <= 'Z' || last >= 'a' && last <= 'z') {
		return "", false
	}
	sep := byte('-')
	if symbol[i] == '-' {
		sep = '.'
	}
	return symbol[:i] + string(sep) + symbol[i+1:], true
}

// NormalizeTicker upper-cases and trims a user-supplied ticker
func NormalizeTicker(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

var (
	defaultOnce   sync.Once
	defaultTables *SymbolTables
)

// Default returns a shared copy of the built-in tables for read-only use
func Default() *SymbolTables {
	defaultOnce.Do(func() { defaultTables = DefaultTables() })
	return defaultTables
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func appendUnique(dst []string, src ...string) []string {
	return dedupe(append(dst, src...))
}

func mergeLists(dst, src map[string][]string) map[string][]string {
	if dst == nil {
		dst = map[string][]string{}
	}
	for k, v := range src {
		dst[strings.ToUpper(k)] = v
	}
	return dst
}

func mergeStrings(dst, src map[string]string) map[string]string {
	if dst == nil {
		dst = map[string]string{}
	}
	for k, v := range src {
		dst[strings.ToUpper(k)] = v
	}
	return dst
}
