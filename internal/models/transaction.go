package models

import (
	"time"

	"github.com/portfolio-tracker/internal/types"
)

// Transaction is a ledger row. Rows are never mutated after insert;
// corrections arrive as new transactions.
type Transaction struct {
	ID           int64                 `json:"transId" db:"trans_id"`
	UserID       string                `json:"userId" db:"user_id"`
	Date         time.Time             `json:"date" db:"date"`
	InstrumentID string                `json:"id" db:"id"`
	Type         types.TransactionType `json:"transType" db:"trans_type"`
	Quantity     float64               `json:"amount" db:"amount"`
	Price        *float64              `json:"price,omitempty" db:"price"`
	Currency     string                `json:"currency" db:"currency"`
	AmountCur    float64               `json:"amountCur" db:"amount_cur"`
	ExRate       *float64              `json:"exRate,omitempty" db:"ex_rate"`
	AmountBase   float64               `json:"amountBase" db:"amount_base"`
	Platform     string                `json:"platform" db:"platform"`
	ProductType  string                `json:"productType" db:"product_type"`
	Fees         float64               `json:"fees" db:"fees"`
	Notes        string                `json:"notes" db:"notes"`
	ExternalID   string                `json:"externalId,omitempty" db:"external_id"`
	Fingerprint  string                `json:"fingerprint,omitempty" db:"fingerprint"`
	CreatedAt    time.Time             `json:"createdAt" db:"created_at"`
}
