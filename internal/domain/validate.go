package domain

import (
	"math"
	"strings"
)

// ValidateBatch enforces the normalized-record contract. Business conditions
// (empty KYC date, missing counterparty country, orphan transactions) are not
// errors; only records the normalizer should never have emitted are.
func ValidateBatch(clients []Client, txs []Transaction, lookback Lookback) error {
	if lookback.Start.IsZero() || lookback.End.IsZero() {
		return &InvalidRecordError{Record: RecordLookback, Index: -1, Field: "start/end", Reason: "both bounds are required"}
	}
	if lookback.Start.After(lookback.End) {
		return &InvalidRecordError{Record: RecordLookback, Index: -1, Field: "start", Reason: "start is after end"}
	}

	clientIDs := make(map[string]struct{}, len(clients))
	for i, c := range clients {
		if strings.TrimSpace(c.ClientID) == "" {
			return &InvalidRecordError{Record: RecordClient, Index: i, Field: "client_id", Reason: "required"}
		}
		if _, dup := clientIDs[c.ClientID]; dup {
			return &InvalidRecordError{Record: RecordClient, Index: i, ID: c.ClientID, Field: "client_id", Reason: "duplicate"}
		}
		clientIDs[c.ClientID] = struct{}{}
	}

	txIDs := make(map[string]struct{}, len(txs))
	for i, tx := range txs {
		if err := validateTransaction(i, tx); err != nil {
			return err
		}
		if _, dup := txIDs[tx.TxID]; dup {
			return &InvalidRecordError{Record: RecordTransaction, Index: i, ID: tx.TxID, Field: "tx_id", Reason: "duplicate"}
		}
		txIDs[tx.TxID] = struct{}{}
	}
	return nil
}

func validateTransaction(i int, tx Transaction) error {
	invalid := func(field, reason string) error {
		return &InvalidRecordError{Record: RecordTransaction, Index: i, ID: tx.TxID, Field: field, Reason: reason}
	}
	switch {
	case strings.TrimSpace(tx.TxID) == "":
		return invalid("tx_id", "required")
	case strings.TrimSpace(tx.ClientID) == "":
		return invalid("client_id", "required")
	case tx.Date.IsZero():
		return invalid("date", "required")
	case math.IsNaN(tx.Amount) || math.IsInf(tx.Amount, 0):
		return invalid("amount", "not a finite number")
	case tx.Amount < 0:
		return invalid("amount", "negative")
	case tx.Currency == "":
		return invalid("currency", "required")
	case tx.Direction != DirectionIn && tx.Direction != DirectionOut:
		return invalid("direction", `must be "in" or "out"`)
	}
	return nil
}
