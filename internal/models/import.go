package models

import "encoding/json"

// ImportRecord is one normalized transaction produced by a statement parser.
// Optional numeric fields are pointers so "absent" and "zero" stay distinct.
type ImportRecord struct {
	Date        string   `json:"date"`
	ID          string   `json:"id"`
	Amount      float64  `json:"amount"`
	Price       *float64 `json:"price,omitempty"`
	ExRate      *float64 `json:"ex_rate,omitempty"`
	AmountCur   float64  `json:"amount_cur"`
	Currency    string   `json:"currency"`
	AmountBase  *float64 `json:"amount_base,omitempty"`
	Platform    string   `json:"platform"`
	ProductType string   `json:"product_type"`
	TransType   string   `json:"trans_type"`
	Fees        *float64 `json:"fees,omitempty"`
	Notes       string   `json:"notes,omitempty"`
	ExternalID  string   `json:"external_id,omitempty"`
	ISIN        string   `json:"isin,omitempty"`
	CompanyName string   `json:"company_name,omitempty"`
}

// UnmarshalJSON also accepts numeric external ids, which some brokers emit.
func (r *ImportRecord) UnmarshalJSON(data []byte) error {
	type plain ImportRecord
	aux := struct {
		*plain
		ExternalID json.RawMessage `json:"external_id,omitempty"`
	}{plain: (*plain)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.ExternalID = ""
	if len(aux.ExternalID) == 0 || string(aux.ExternalID) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(aux.ExternalID, &s); err == nil {
		r.ExternalID = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(aux.ExternalID, &n); err != nil {
		return err
	}
	r.ExternalID = n.String()
	return nil
}

// SkippedCounts breaks skipped records down by reason
type SkippedCounts struct {
	Duplicate int `json:"duplicate"`
	InvalidID int `json:"invalid_id"`
	Other     int `json:"other"`
}

// Total returns the number of skipped records
func (s SkippedCounts) Total() int {
	return s.Duplicate + s.InvalidID + s.Other
}

// ImportResult is the count-based summary of one importBatch call.
// It is returned even when every record failed.
type ImportResult struct {
	BatchID    string        `json:"batch_id"`
	UserID     string        `json:"user_id"`
	Provider   string        `json:"provider"`
	DedupeMode string        `json:"dedupe_mode"`
	Inserted   int           `json:"inserted"`
	Skipped    SkippedCounts `json:"skipped"`
	Failed     int           `json:"failed"`
	Errors     []string      `json:"errors"`
}
