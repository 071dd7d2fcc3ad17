package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRuleset is wrapped by every ruleset validation failure.
	ErrInvalidRuleset = errors.New("invalid ruleset")

	// ErrNotFound is returned by stores when a key is missing or expired.
	ErrNotFound = errors.New("record not found")
)

// InvalidRecordError reports input that breaks the normalized-record contract.
// It is a caller bug, not a business outcome: the batch is rejected as a whole.
type InvalidRecordError struct {
	Record string `json:"record,omitempty"` // "client", "transaction" or "lookback"
	Index  int    `json:"index"`            // position in the input slice, -1 if unknown
	ID     string `json:"id,omitempty"`
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *InvalidRecordError) Error() string {
	switch {
	case e.Record == "":
		return fmt.Sprintf("invalid record: %s: %s", e.Field, e.Reason)
	case e.ID != "":
		return fmt.Sprintf("invalid %s %q (index %d): %s: %s", e.Record, e.ID, e.Index, e.Field, e.Reason)
	default:
		return fmt.Sprintf("invalid %s at index %d: %s: %s", e.Record, e.Index, e.Field, e.Reason)
	}
}
