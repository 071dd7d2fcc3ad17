// Package domain defines the core types and interfaces for TrancheReady.
package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Transaction directions.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Flag is a boolean that tolerates the boolean-like strings produced by CSV
// exports ("true", "Yes", "1", ...) but always encodes as a JSON boolean.
type Flag bool

// ParseFlag maps a boolean-like string to a Flag. Empty means false.
func ParseFlag(s string) (Flag, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "y", "1":
		return true, true
	case "false", "no", "n", "0", "":
		return false, true
	}
	return false, false
}

func (f Flag) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(f))
}

func (f *Flag) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*f = false
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		*f = Flag(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return &InvalidRecordError{Index: -1, Field: "flag", Reason: "flag must be a boolean"}
	}
	parsed, ok := ParseFlag(s)
	if !ok {
		return &InvalidRecordError{Index: -1, Field: "flag", Reason: "unrecognised boolean " + `"` + s + `"`}
	}
	*f = parsed
	return nil
}

// Client is a normalized client profile.
type Client struct {
	ClientID          string `json:"client_id"`
	FullName          string `json:"full_name,omitempty"`
	DOB               string `json:"dob,omitempty"`
	PEPFlag           Flag   `json:"pep_flag"`
	SanctionsFlag     Flag   `json:"sanctions_flag"`
	ResidencyCountry  string `json:"residency_country"`
	DeliveryChannel   string `json:"delivery_channel"`
	Services          string `json:"services"`
	KYCLastReviewedAt Date   `json:"kyc_last_reviewed_at"`
}

// Transaction is a normalized transaction. Amounts are AUD unless Currency says otherwise.
type Transaction struct {
	TxID                string  `json:"tx_id"`
	ClientID            string  `json:"client_id"`
	Date                Date    `json:"date"`
	Amount              float64 `json:"amount"`
	Currency            string  `json:"currency"`
	Direction           string  `json:"direction"`
	Method              string  `json:"method"`
	CounterpartyCountry string  `json:"counterparty_country"`
	CounterpartyName    string  `json:"counterparty_name,omitempty"`
	MatterID            string  `json:"matter_id,omitempty"`
}

// Lookback bounds behavioural detection. Transactions dated on or after Start are
// evaluated; End is the reference date for profile staleness checks.
type Lookback struct {
	Start Date `json:"start"`
	End   Date `json:"end"`
}

// IsZero reports whether neither bound is set.
func (l Lookback) IsZero() bool { return l.Start.IsZero() && l.End.IsZero() }

// Contains reports whether d falls on or after Start.
func (l Lookback) Contains(d Date) bool { return !d.Before(l.Start) }

// LookbackFromTransactions derives the window the normalizer would: End is the
// latest transaction date (today when there are none) and Start is End minus months.
func LookbackFromTransactions(txs []Transaction, months int, today time.Time) Lookback {
	var end Date
	for _, tx := range txs {
		if tx.Date.After(end) {
			end = tx.Date
		}
	}
	if end.IsZero() {
		end = DateOf(today.UTC())
	}
	return Lookback{Start: end.AddMonths(-months), End: end}
}

// Batch is one complete scoring request.
type Batch struct {
	Clients      []Client      `json:"clients"`
	Transactions []Transaction `json:"transactions"`
	Lookback     Lookback      `json:"lookback,omitzero"`
}
