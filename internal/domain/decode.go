package domain

import (
	"encoding/json"
	"errors"
	"log/slog"
)

// Record kinds reported in InvalidRecordError.
const (
	RecordClient      = "client"
	RecordTransaction = "transaction"
	RecordLookback    = "lookback"
)

// UnmarshalJSON decodes a client. Flags must be boolean-like; an unparseable
// KYC review date is dropped so the staleness check is simply not met.
func (c *Client) UnmarshalJSON(b []byte) error {
	type plain Client
	var raw struct {
		plain
		PEPFlag           json.RawMessage `json:"pep_flag"`
		SanctionsFlag     json.RawMessage `json:"sanctions_flag"`
		KYCLastReviewedAt json.RawMessage `json:"kyc_last_reviewed_at"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	out := Client(raw.plain)
	var err error
	if out.PEPFlag, err = decodeFlag(raw.PEPFlag, "pep_flag", out.ClientID); err != nil {
		return err
	}
	if out.SanctionsFlag, err = decodeFlag(raw.SanctionsFlag, "sanctions_flag", out.ClientID); err != nil {
		return err
	}
	out.KYCLastReviewedAt = decodeOptionalDate(raw.KYCLastReviewedAt, out.ClientID)

	*c = out
	return nil
}

// UnmarshalJSON decodes a transaction. The date is required and strict.
func (tx *Transaction) UnmarshalJSON(b []byte) error {
	type plain Transaction
	var raw struct {
		plain
		Date json.RawMessage `json:"date"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	out := Transaction(raw.plain)
	if len(raw.Date) > 0 {
		if err := out.Date.UnmarshalJSON(raw.Date); err != nil {
			return retag(err, RecordTransaction, out.TxID, "date")
		}
	}

	*tx = out
	return nil
}

// UnmarshalJSON decodes both bounds, naming the bound that failed.
func (l *Lookback) UnmarshalJSON(b []byte) error {
	var raw struct {
		Start json.RawMessage `json:"start"`
		End   json.RawMessage `json:"end"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	var out Lookback
	if len(raw.Start) > 0 {
		if err := out.Start.UnmarshalJSON(raw.Start); err != nil {
			return retag(err, RecordLookback, "", "start")
		}
	}
	if len(raw.End) > 0 {
		if err := out.End.UnmarshalJSON(raw.End); err != nil {
			return retag(err, RecordLookback, "", "end")
		}
	}

	*l = out
	return nil
}

// UnmarshalJSON decodes clients and transactions element by element so that a
// failure names the offending record and its position.
func (b *Batch) UnmarshalJSON(data []byte) error {
	var raw struct {
		Clients      json.RawMessage `json:"clients"`
		Transactions json.RawMessage `json:"transactions"`
		Lookback     Lookback        `json:"lookback"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	clients, err := DecodeClients(raw.Clients)
	if err != nil {
		return err
	}
	txs, err := DecodeTransactions(raw.Transactions)
	if err != nil {
		return err
	}

	*b = Batch{Clients: clients, Transactions: txs, Lookback: raw.Lookback}
	return nil
}

// DecodeClients decodes a JSON array of clients. Empty input or null yields nil.
func DecodeClients(data []byte) ([]Client, error) {
	return decodeRecords[Client](data, RecordClient, "client_id")
}

// DecodeTransactions decodes a JSON array of transactions. Empty input or null yields nil.
func DecodeTransactions(data []byte) ([]Transaction, error) {
	return decodeRecords[Transaction](data, RecordTransaction, "tx_id")
}

func decodeRecords[T any](data []byte, record, idField string) ([]T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var elems []json.RawMessage
	if err := json.Unmarshal(data, &elems); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, &InvalidRecordError{Record: record, Index: -1, Field: record + "s", Reason: "expected an array"}
		}
		return nil, err
	}
	if elems == nil {
		return nil, nil
	}

	out := make([]T, len(elems))
	for i, elem := range elems {
		if err := json.Unmarshal(elem, &out[i]); err != nil {
			return nil, locate(err, record, i, recordID(elem, idField))
		}
	}
	return out, nil
}

// locate fills in the position of a failed element.
func locate(err error, record string, index int, id string) error {
	var invalid *InvalidRecordError
	if errors.As(err, &invalid) {
		located := *invalid
		located.Record = record
		located.Index = index
		if located.ID == "" {
			located.ID = id
		}
		return &located
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		if typeErr.Field == "" {
			return &InvalidRecordError{Record: record, Index: index, ID: id, Field: record, Reason: "expected a JSON object"}
		}
		return &InvalidRecordError{Record: record, Index: index, ID: id, Field: typeErr.Field, Reason: "expected " + typeErr.Value + " to be " + typeErr.Type.String()}
	}
	return err
}

// recordID best-effort extracts the identifier of an element that failed to decode.
func recordID(elem json.RawMessage, idField string) string {
	var fields map[string]json.RawMessage
	if json.Unmarshal(elem, &fields) != nil {
		return ""
	}
	var id string
	if json.Unmarshal(fields[idField], &id) != nil {
		return ""
	}
	return id
}

func retag(err error, record, id, field string) error {
	var invalid *InvalidRecordError
	if !errors.As(err, &invalid) {
		return err
	}
	return &InvalidRecordError{Record: record, Index: -1, ID: id, Field: field, Reason: invalid.Reason}
}

func decodeFlag(raw json.RawMessage, field, clientID string) (Flag, error) {
	if len(raw) == 0 {
		return false, nil
	}
	var f Flag
	if err := f.UnmarshalJSON(raw); err != nil {
		return false, retag(err, RecordClient, clientID, field)
	}
	return f, nil
}

func decodeOptionalDate(raw json.RawMessage, clientID string) Date {
	if len(raw) == 0 {
		return Date{}
	}
	var d Date
	if err := d.UnmarshalJSON(raw); err != nil {
		slog.Warn("ignoring unparseable kyc_last_reviewed_at",
			"client_id", clientID,
			"value", string(raw),
		)
		return Date{}
	}
	return d
}
