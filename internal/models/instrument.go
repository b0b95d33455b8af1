// Package models provides data models for the portfolio market-data engine.
package models

import (
	"strings"
	"time"

	"github.com/portfolio-tracker/internal/types"
)

// Instrument is a row of the instrument reference table
type Instrument struct {
	ID           string                 `json:"id" db:"id"`
	AliasOf      *string                `json:"aliasOf,omitempty" db:"alias_of"`
	CompanyName  string                 `json:"companyName,omitempty" db:"company_name"`
	ISIN         string                 `json:"isin,omitempty" db:"isin"`
	Currency     string                 `json:"currency,omitempty" db:"currency"`
	AssetClass   types.AssetClass       `json:"assetClass" db:"asset_class"`
	PriceSource  types.PriceSource      `json:"priceSource" db:"price_source"`
	Status       types.InstrumentStatus `json:"status" db:"status"`
	LastVerified *time.Time             `json:"lastVerified,omitempty" db:"last_verified"`
	CreatedAt    time.Time              `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time              `json:"updatedAt" db:"updated_at"`
}

// CanonicalID follows the alias exactly one hop. Alias targets are assumed canonical.
func (i *Instrument) CanonicalID() string {
	if i.AliasOf != nil && strings.TrimSpace(*i.AliasOf) != "" {
		return strings.ToUpper(strings.TrimSpace(*i.AliasOf))
	}
	return i.ID
}

// IsManual reports whether providers must never be contacted for this instrument
func (i *Instrument) IsManual() bool {
	return i.PriceSource == types.PriceSourceManual
}

// InstrumentMetadata is what an imported record can tell about an instrument
type InstrumentMetadata struct {
	ID          string
	CompanyName string
	ISIN        string
	Currency    string
}
