package rules

import (
	"testing"

	"github.com/opensource-finance/trancheready/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLookback = domain.Lookback{
	Start: domain.MustParseDate("2024-01-22"),
	End:   domain.MustParseDate("2025-07-22"),
}

func ruleIDs(findings []domain.Finding) []string {
	ids := make([]string, len(findings))
	for i, f := range findings {
		ids[i] = f.RuleID
	}
	return ids
}

func TestProfileEvaluator(t *testing.T) {
	p, err := NewProfileEvaluator(domain.DefaultRuleset())
	require.NoError(t, err)
	assert.Equal(t, 7, p.RulesCount())

	tests := []struct {
		name   string
		client domain.Client
		want   []string
	}{
		{
			name:   "clean client",
			client: domain.Client{ClientID: "C-1", KYCLastReviewedAt: domain.MustParseDate("2025-06-01")},
			want:   []string{},
		},
		{
			name: "every condition",
			client: domain.Client{
				ClientID:          "C-1",
				PEPFlag:           true,
				SanctionsFlag:     true,
				ResidencyCountry:  "ir",
				DeliveryChannel:   "Online portal",
				Services:          "Remittance, Property settlement",
				KYCLastReviewedAt: domain.MustParseDate("2023-01-01"),
			},
			want: []string{"pep", "sanctions", "kyc_stale", "online_channel", "remittance_service", "property_service", "high_risk_residency"},
		},
		{
			name:   "missing kyc date is not stale",
			client: domain.Client{ClientID: "C-1"},
			want:   []string{},
		},
		{
			name:   "residency outside list",
			client: domain.Client{ClientID: "C-1", ResidencyCountry: "AU", KYCLastReviewedAt: domain.MustParseDate("2025-06-01")},
			want:   []string{},
		},
		{
			name:   "substring match",
			client: domain.Client{ClientID: "C-1", Services: "conveyancing/property", KYCLastReviewedAt: domain.MustParseDate("2025-06-01")},
			want:   []string{"property_service"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := p.Evaluate(tt.client, testLookback)
			require.NotNil(t, findings)
			assert.Equal(t, tt.want, ruleIDs(findings))
			for _, f := range findings {
				assert.Equal(t, domain.FamilyProfile, f.Family)
			}
		})
	}
}

func TestIsKYCStale(t *testing.T) {
	ref := domain.MustParseDate("2025-07-22")

	tests := []struct {
		reviewed string
		want     bool
	}{
		{"2024-07-21", true},
		{"2024-07-22", false},
		{"2024-07-23", false},
		{"2020-01-01", true},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.reviewed, func(t *testing.T) {
			reviewed, err := domain.ParseDate(tt.reviewed)
			require.NoError(t, err)
			assert.Equal(t, tt.want, IsKYCStale(reviewed, ref, 12))
		})
	}

	assert.False(t, IsKYCStale(domain.MustParseDate("2020-01-01"), domain.Date{}, 12))
}

func TestProfileEvaluatorRejectsBadExpressions(t *testing.T) {
	tests := []struct {
		name string
		expr string
	}{
		{"syntax error", "this is not valid CEL !!!"},
		{"unknown variable", "amount > 100.0"},
		{"non bool", `services + "x"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rs := domain.DefaultRuleset()
			rs.Profile = []domain.ProfileRule{{ID: "bad", Text: "bad", Expression: tt.expr, Points: 1}}

			_, err := NewProfileEvaluator(rs)
			assert.Error(t, err)
			assert.Error(t, ValidateExpression(tt.expr))
		})
	}
}

func TestProfileEvaluatorCustomRule(t *testing.T) {
	rs := domain.DefaultRuleset()
	rs.Profile = append(rs.Profile, domain.ProfileRule{
		ID:         "unreviewed",
		Text:       "No KYC review on file",
		Expression: "!kyc_reviewed",
		Points:     7,
	})

	p, err := NewProfileEvaluator(rs)
	require.NoError(t, err)

	findings := p.Evaluate(domain.Client{ClientID: "C-1"}, testLookback)
	require.Len(t, findings, 1)
	assert.Equal(t, "unreviewed", findings[0].RuleID)
	assert.Equal(t, 7, findings[0].Points)
}
