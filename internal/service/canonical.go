package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"regexp"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/portfolio-tracker/internal/models"
	"github.com/portfolio-tracker/internal/types"
)

// Decimal places used when rounding record values for the fingerprint
const (
	cryptoQuantityPlaces = 8
	cryptoPricePlaces    = 8
	equityQuantityPlaces = 4
	equityPricePlaces    = 6
	defaultMoneyPlaces   = 2
)

var (
	equityIDPattern = regexp.MustCompile(`^[A-Z][A-Z0-9.\-]{0,19}$`)
	cryptoIDPattern = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,19}$`)
	pseudoIDPattern = regexp.MustCompile(`^(CASH_[A-Z]{3}|FEE_[A-Z0-9_]+|FX_[A-Z]+|CORP_ACTION)$`)
	hasLetter       = regexp.MustCompile(`[A-Z]`)
)

// pseudoProducts are product types whose ids are bookkeeping labels, not tickers
var pseudoProducts = map[string]bool{"cash": true, "fee": true, "fx": true, "tax": true}

// IsPseudoID reports whether id names a non-tradable ledger entry
// (cash balance, fee, currency exchange, corporate action)
func IsPseudoID(id string) bool {
	return pseudoIDPattern.MatchString(id)
}

// ValidInstrumentID applies the id pattern of the asset class. Crypto ids may
// start with a digit but must contain a letter ("1INCH" yes, "300" no).
// Equities additionally accept pseudo-ids.
func ValidInstrumentID(id string, class types.AssetClass) bool {
	if class == types.AssetCrypto {
		return cryptoIDPattern.MatchString(id) && hasLetter.MatchString(id)
	}
	return equityIDPattern.MatchString(id) || IsPseudoID(id)
}

// isPseudoProduct reports whether product type marks a bookkeeping record
func isPseudoProduct(productType string) bool {
	return pseudoProducts[strings.ToLower(strings.TrimSpace(productType))]
}

// CanonicalRecord is the normalized tuple hashed into a content fingerprint.
// Field order is part of the fingerprint.
type CanonicalRecord struct {
	Date      string           `json:"date"`
	Platform  string           `json:"platform"`
	Product   string           `json:"product"`
	Type      string           `json:"type"`
	ID        string           `json:"id"`
	Currency  string           `json:"currency"`
	Amount    decimal.Decimal  `json:"amount"`
	AmountCur decimal.Decimal  `json:"amount_cur"`
	Price     *decimal.Decimal `json:"price"`
	Fee       decimal.Decimal  `json:"fee"`
}

// Canonicalize normalizes case and rounds quantity and price to the asset
// class precision and money to the currency's minor unit
func Canonicalize(tx *models.Transaction) CanonicalRecord {
	product := strings.ToLower(strings.TrimSpace(tx.ProductType))
	currency := strings.ToUpper(strings.TrimSpace(tx.Currency))

	qtyPlaces, pricePlaces := equityQuantityPlaces, equityPricePlaces
	if types.ParseAssetClass(product) == types.AssetCrypto {
		qtyPlaces, pricePlaces = cryptoQuantityPlaces, cryptoPricePlaces
	}
	moneyPlaces := MoneyPlaces(currency)

	c := CanonicalRecord{
		Date:      tx.Date.Format("2006-01-02"),
		Platform:  strings.ToLower(strings.TrimSpace(tx.Platform)),
		Product:   product,
		Type:      strings.ToLower(string(tx.Type)),
		ID:        strings.ToUpper(strings.TrimSpace(tx.InstrumentID)),
		Currency:  currency,
		Amount:    roundTo(math.Abs(tx.Quantity), qtyPlaces),
		AmountCur: roundTo(tx.AmountCur, moneyPlaces),
		Fee:       roundTo(tx.Fees, moneyPlaces),
	}
	if tx.Price != nil {
		p := roundTo(*tx.Price, pricePlaces)
		c.Price = &p
	}
	return c
}

// Fingerprint identifies a ledger row for deduplication. A provider-issued
// external id wins over the content hash so that legitimately repeated
// trades stay distinct.
func Fingerprint(provider string, tx *models.Transaction) string {
	if ext := strings.TrimSpace(tx.ExternalID); ext != "" {
		return "ext:" + strings.ToLower(strings.TrimSpace(provider)) + ":" + ext
	}
	return ContentHash(Canonicalize(tx))
}

// ContentHash is the hex sha256 of the JSON-encoded canonical record
func ContentHash(c CanonicalRecord) string {
	raw, err := json.Marshal(c)
	if err != nil {
		// decimals and strings always encode
		panic(err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// MoneyPlaces returns the minor-unit digits of an ISO currency, 2 when unknown
func MoneyPlaces(currency string) int {
	if c := money.GetCurrency(strings.ToUpper(currency)); c != nil {
		return c.Fraction
	}
	return defaultMoneyPlaces
}

// RoundMoney rounds an amount to the currency's minor unit
func RoundMoney(amount float64, currency string) float64 {
	return roundTo(amount, MoneyPlaces(currency)).InexactFloat64()
}

func roundTo(v float64, places int) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(int32(places))
}
