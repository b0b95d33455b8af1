// Package types provides common type definitions for the portfolio market-data engine.
package types

import "strings"

// AssetClass selects the provider chain and the rounding precision for an instrument
type AssetClass string

const (
	// AssetEquity covers stocks, ETFs and anything quoted on an exchange
	AssetEquity AssetClass = "equity"
	// AssetCrypto covers coins quoted against USD
	AssetCrypto AssetClass = "crypto"
)

// ParseAssetClass maps a product type or asset hint to an asset class.
// Anything that is not explicitly crypto is treated as equity.
func ParseAssetClass(s string) AssetClass {
	if strings.EqualFold(strings.TrimSpace(s), "crypto") {
		return AssetCrypto
	}
	return AssetEquity
}

// TransactionType represents the ledger entry kind
type TransactionType string

const (
	TxBuy        TransactionType = "Buy"
	TxSell       TransactionType = "Sell"
	TxDividend   TransactionType = "Dividend"
	TxDeposit    TransactionType = "Deposit"
	TxWithdrawal TransactionType = "Withdrawal"
	TxFee        TransactionType = "Fee"
	TxOther      TransactionType = "Other"
)

var transactionTypes = []TransactionType{TxBuy, TxSell, TxDividend, TxDeposit, TxWithdrawal, TxFee, TxOther}

// ParseTransactionType matches case-insensitively; unknown values map to TxOther.
func ParseTransactionType(s string) TransactionType {
	s = strings.TrimSpace(s)
	for _, t := range transactionTypes {
		if strings.EqualFold(string(t), s) {
			return t
		}
	}
	return TxOther
}

// PriceSource is the preferred-source flag of an instrument
type PriceSource string

const (
	// PriceSourceAuto lets the resolver contact external providers
	PriceSourceAuto PriceSource = "auto"
	// PriceSourceManual pins the instrument to its cached quote
	PriceSourceManual PriceSource = "manual"
)

// InstrumentStatus represents the lifecycle of an instrument reference row
type InstrumentStatus string

const (
	InstrumentActive      InstrumentStatus = "active"
	InstrumentInactive    InstrumentStatus = "inactive"
	InstrumentNeedsReview InstrumentStatus = "needs_review"
)

// QuoteSource tags where a LiveQuote or price point came from
type QuoteSource string

const (
	SourceGoogleScrape QuoteSource = "google_scrape"
	SourceYahoo        QuoteSource = "yahoo"
	SourceCoinGecko    QuoteSource = "coingecko"
	SourceCNB          QuoteSource = "CNB"
	SourceManual       QuoteSource = "manual"
	// SourceGoogleLive tags the daily point written by a successful live resolve
	SourceGoogleLive   QuoteSource = "google_live"
)

// DedupeMode reports how the importer detected duplicates
type DedupeMode string

const (
	// DedupeFingerprint relies on the unique (user_id, fingerprint) constraint
	DedupeFingerprint DedupeMode = "fingerprint"
	// DedupeFallback matches on transaction content when the fingerprint column is absent
	DedupeFallback DedupeMode = "fallback"
)

// RefreshStatus is the outcome of a single history refresh
type RefreshStatus string

const (
	RefreshOK       RefreshStatus = "ok"
	RefreshNotFound RefreshStatus = "not_found"
	RefreshFailed   RefreshStatus = "failed"
)

// AllInstruments is the ticker value that selects every active instrument
const AllInstruments = "ALL"

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
