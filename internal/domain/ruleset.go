package domain

import (
	"fmt"
	"slices"
	"strings"
)

// DefaultRulesetID identifies the built-in ruleset in every result.
const DefaultRulesetID = "dnfbp-2025.11"

// Ruleset is the complete, injectable scoring policy. Every threshold, weight
// and jurisdiction list lives here so that results can cite the version that
// produced them.
type Ruleset struct {
	ID       string `json:"id"`
	Currency string `json:"currency"`

	// HighRiskJurisdictions are ISO-2 codes used for residency and corridor checks.
	HighRiskJurisdictions []string `json:"highRiskJurisdictions"`

	Banding Banding `json:"banding"`

	// KYCStaleMonths is exposed to profile expressions as kyc_stale.
	KYCStaleMonths int `json:"kycStaleMonths"`

	// Profile rules are evaluated in order; order is preserved in the reasons.
	Profile []ProfileRule `json:"profile"`

	Structuring   StructuringRule   `json:"structuring"`
	Corridor      CorridorRule      `json:"corridor"`
	LargeDomestic LargeDomesticRule `json:"largeDomestic"`

	Severities map[CaseType]Severity `json:"severities"`
}

// ProfileRule is a static per-client check expressed in CEL.
type ProfileRule struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	Expression string `json:"expression"`
	Points     int    `json:"points"`
}

// StructuringRule configures repeated just-under-threshold cash deposits.
type StructuringRule struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Method     string  `json:"method"`
	MinAmount  float64 `json:"minAmount"`
	MaxAmount  float64 `json:"maxAmount"`
	WindowDays int     `json:"windowDays"`
	MinCount   int     `json:"minCount"`
	SampleSize int     `json:"sampleSize"`
	Points     int     `json:"points"`
}

// CorridorRule configures outbound flows to high-risk jurisdictions.
type CorridorRule struct {
	ID          string  `json:"id"`
	Text        string  `json:"text"`
	MinCount    int     `json:"minCount"`
	LargeAmount float64 `json:"largeAmount"`
	Points      int     `json:"points"`
}

// LargeDomesticRule configures single large domestic transfers.
type LargeDomesticRule struct {
	ID              string  `json:"id"`
	Text            string  `json:"text"`
	MinAmount       float64 `json:"minAmount"`
	DomesticCountry string  `json:"domesticCountry"`
	Points          int     `json:"points"`
}

// RulesetMeta is the versioned provenance block attached to results.
type RulesetMeta struct {
	RulesetID     string   `json:"ruleset_id"`
	Lookback      Lookback `json:"lookback"`
	Jurisdictions []string `json:"jurisdictions"`
	Banding       Banding  `json:"banding"`
}

// DefaultRuleset returns the canonical DNFBP ruleset.
func DefaultRuleset() *Ruleset {
	const staleMonths = 12
	return &Ruleset{
		ID:                    DefaultRulesetID,
		Currency:              "AUD",
		HighRiskJurisdictions: []string{"RU", "CN", "HK", "AE", "IN", "IR"},
		Banding:               Banding{High: 30, Medium: 15},
		KYCStaleMonths:        staleMonths,
		Profile: []ProfileRule{
			{ID: "pep", Text: "PEP flag", Expression: "pep", Points: 20},
			{ID: "sanctions", Text: "Sanctions flag", Expression: "sanctions", Points: 25},
			{ID: "kyc_stale", Text: fmt.Sprintf("Stale KYC > %d months", staleMonths), Expression: "kyc_stale", Points: 5},
			{ID: "online_channel", Text: "Online channel", Expression: `delivery_channel.contains("online")`, Points: 3},
			{ID: "remittance_service", Text: "Remittance service", Expression: `services.contains("remittance")`, Points: 6},
			{ID: "property_service", Text: "Property service", Expression: `services.contains("property")`, Points: 4},
			{ID: "high_risk_residency", Text: "High-risk residency", Expression: "residency_high_risk", Points: 8},
		},
		Structuring: StructuringRule{
			ID:         "structuring",
			Text:       "Structuring (≥4 cash deposits 9.6–9.999k within 7 days)",
			Method:     "cash",
			MinAmount:  9600,
			MaxAmount:  9999,
			WindowDays: 7,
			MinCount:   4,
			SampleSize: 5,
			Points:     12,
		},
		Corridor: CorridorRule{
			ID:          "high_risk_corridor",
			Text:        "High-risk corridor transfers (≥2; one ≥ 20k)",
			MinCount:    2,
			LargeAmount: 20000,
			Points:      10,
		},
		LargeDomestic: LargeDomesticRule{
			ID:              "large_domestic",
			Text:            "Large domestic transfer ≥ 100k",
			MinAmount:       100000,
			DomesticCountry: "AU",
			Points:          8,
		},
		Severities: map[CaseType]Severity{
			CaseStructuring:      SeverityHigh,
			CaseHighRiskCorridor: SeverityMedium,
			CaseLargeDomestic:    SeverityMedium,
		},
	}
}

// Validate checks that the ruleset is internally consistent.
func (r *Ruleset) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: ruleset is required", ErrInvalidRuleset)
	}
	if r.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidRuleset)
	}
	if r.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrInvalidRuleset)
	}
	if r.Banding.Medium < 1 || r.Banding.High < r.Banding.Medium {
		return fmt.Errorf("%w: banding requires 1 <= medium <= high, got medium=%d high=%d",
			ErrInvalidRuleset, r.Banding.Medium, r.Banding.High)
	}
	if r.KYCStaleMonths < 1 {
		return fmt.Errorf("%w: kycStaleMonths must be positive", ErrInvalidRuleset)
	}

	seen := make(map[string]bool, len(r.Profile)+3)
	for i, p := range r.Profile {
		if p.ID == "" || strings.TrimSpace(p.Expression) == "" {
			return fmt.Errorf("%w: profile rule %d needs an id and an expression", ErrInvalidRuleset, i)
		}
		if seen[p.ID] {
			return fmt.Errorf("%w: duplicate rule id %q", ErrInvalidRuleset, p.ID)
		}
		if p.Points < 0 {
			return fmt.Errorf("%w: rule %q has negative points", ErrInvalidRuleset, p.ID)
		}
		seen[p.ID] = true
	}

	s := r.Structuring
	if s.WindowDays < 0 || s.MinCount < 1 || s.SampleSize < 1 || s.MinAmount > s.MaxAmount || s.Points < 0 {
		return fmt.Errorf("%w: structuring parameters out of range", ErrInvalidRuleset)
	}
	if r.Corridor.MinCount < 1 || r.Corridor.Points < 0 {
		return fmt.Errorf("%w: corridor parameters out of range", ErrInvalidRuleset)
	}
	if r.LargeDomestic.Points < 0 {
		return fmt.Errorf("%w: large domestic points must not be negative", ErrInvalidRuleset)
	}
	for _, id := range []string{s.ID, r.Corridor.ID, r.LargeDomestic.ID} {
		if id == "" {
			return fmt.Errorf("%w: behavioural rules need ids", ErrInvalidRuleset)
		}
		if seen[id] {
			return fmt.Errorf("%w: duplicate rule id %q", ErrInvalidRuleset, id)
		}
		seen[id] = true
	}
	return nil
}

// IsHighRisk reports whether an ISO-2 country code is in the jurisdiction list.
func (r *Ruleset) IsHighRisk(country string) bool {
	if country == "" {
		return false
	}
	return slices.ContainsFunc(r.HighRiskJurisdictions, func(c string) bool {
		return strings.EqualFold(c, country)
	})
}

// SeverityOf returns the display severity for a case type, Low when unmapped.
func (r *Ruleset) SeverityOf(t CaseType) Severity {
	if s, ok := r.Severities[t]; ok {
		return s
	}
	return SeverityLow
}

// Meta builds the provenance block for a scoring pass over lookback.
func (r *Ruleset) Meta(lookback Lookback) RulesetMeta {
	return RulesetMeta{
		RulesetID:     r.ID,
		Lookback:      lookback,
		Jurisdictions: slices.Clone(r.HighRiskJurisdictions),
		Banding:       r.Banding,
	}
}

// Clone returns a deep copy, so callers can derive variants without sharing slices.
func (r *Ruleset) Clone() *Ruleset {
	c := *r
	c.HighRiskJurisdictions = slices.Clone(r.HighRiskJurisdictions)
	c.Profile = slices.Clone(r.Profile)
	c.Severities = make(map[CaseType]Severity, len(r.Severities))
	for k, v := range r.Severities {
		c.Severities[k] = v
	}
	return &c
}
