package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDate(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "2025-03-01", want: "2025-03-01"},
		{in: "  2025-03-01 ", want: "2025-03-01"},
		{in: "2025-06-30T23:30:00+10:00", want: "2025-06-30"},
		{in: "2025-06-30T01:00:00Z", want: "2025-06-30"},
		{in: "", want: ""},
		{in: "01/03/2025", wantErr: true},
		{in: "2025-02-30", wantErr: true},
		{in: "n/a", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, err := ParseDate(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.String())
		})
	}
}

func TestDateJSON(t *testing.T) {
	t.Run("marshal", func(t *testing.T) {
		data, err := json.Marshal(NewDate(2025, time.March, 1))
		require.NoError(t, err)
		assert.Equal(t, `"2025-03-01"`, string(data))

		data, err = json.Marshal(Date{})
		require.NoError(t, err)
		assert.Equal(t, `null`, string(data))
	})

	t.Run("unmarshal", func(t *testing.T) {
		tests := []struct {
			in   string
			want Date
		}{
			{in: `"2025-03-01"`, want: NewDate(2025, time.March, 1)},
			{in: `"2025-03-01T08:00:00Z"`, want: NewDate(2025, time.March, 1)},
			{in: `""`, want: Date{}},
			{in: `null`, want: Date{}},
		}
		for _, tt := range tests {
			var d Date
			require.NoError(t, json.Unmarshal([]byte(tt.in), &d), tt.in)
			assert.True(t, tt.want.Equal(d), "%s decoded to %s", tt.in, d)
		}
	})

	t.Run("round trip", func(t *testing.T) {
		in := Lookback{Start: MustParseDate("2024-01-22"), End: MustParseDate("2025-07-22")}
		data, err := json.Marshal(in)
		require.NoError(t, err)
		assert.JSONEq(t, `{"start":"2024-01-22","end":"2025-07-22"}`, string(data))

		var out Lookback
		require.NoError(t, json.Unmarshal(data, &out))
		assert.Equal(t, in, out)
	})

	t.Run("rejects non-dates", func(t *testing.T) {
		for _, in := range []string{`"tomorrow"`, `20250301`, `true`} {
			var d Date
			err := json.Unmarshal([]byte(in), &d)
			var invalid *InvalidRecordError
			assert.ErrorAs(t, err, &invalid, in)
		}
	})
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		from   string
		months int
		want   string
	}{
		{from: "2025-07-22", months: -18, want: "2024-01-22"},
		{from: "2025-03-31", months: -1, want: "2025-02-28"},
		{from: "2024-03-31", months: -1, want: "2024-02-29"},
		{from: "2024-01-31", months: 1, want: "2024-02-29"},
		{from: "2025-08-31", months: -6, want: "2025-02-28"},
		{from: "2025-12-15", months: 1, want: "2026-01-15"},
		{from: "2024-02-29", months: 12, want: "2025-02-28"},
		{from: "2025-05-10", months: 0, want: "2025-05-10"},
	}

	for _, tt := range tests {
		got := MustParseDate(tt.from).AddMonths(tt.months)
		assert.Equal(t, tt.want, got.String(), "%s %+d months", tt.from, tt.months)
	}

	assert.True(t, Date{}.AddMonths(3).IsZero())
}

func TestDaysBetween(t *testing.T) {
	a := MustParseDate("2025-03-01")
	assert.Equal(t, 7, DaysBetween(a, MustParseDate("2025-03-08")))
	assert.Equal(t, -1, DaysBetween(a, MustParseDate("2025-02-28")))
	// 2024 is a leap year.
	assert.Equal(t, 366, DaysBetween(MustParseDate("2024-01-01"), MustParseDate("2025-01-01")))
}

func TestLookbackFromTransactions(t *testing.T) {
	txs := []Transaction{
		{Date: MustParseDate("2025-03-01")},
		{Date: MustParseDate("2025-07-22")},
		{Date: MustParseDate("2025-05-10")},
	}
	lb := LookbackFromTransactions(txs, 18, time.Now())
	assert.Equal(t, "2024-01-22", lb.Start.String())
	assert.Equal(t, "2025-07-22", lb.End.String())
	assert.True(t, lb.Contains(MustParseDate("2024-01-22")))
	assert.False(t, lb.Contains(MustParseDate("2024-01-21")))

	lb = LookbackFromTransactions(nil, 6, time.Date(2025, 6, 30, 15, 0, 0, 0, time.UTC))
	assert.Equal(t, "2024-12-30", lb.Start.String())
	assert.Equal(t, "2025-06-30", lb.End.String())
}
