package domain

// Family classifies where a finding came from.
type Family string

const (
	FamilyProfile   Family = "profile"
	FamilyBehaviour Family = "behaviour"
)

// Finding is one explainable point contribution.
type Finding struct {
	RuleID string `json:"rule_id"`
	Family Family `json:"family"`
	Text   string `json:"text"`
	Points int    `json:"points"`
}

// Band is the coarse triage category derived from a score.
type Band string

const (
	BandLow    Band = "Low"
	BandMedium Band = "Medium"
	BandHigh   Band = "High"
)

// Banding holds the inclusive lower bounds of the Medium and High bands.
// Scores below Medium are Low.
type Banding struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
}

// Band maps a score to exactly one band.
func (b Banding) Band(score int) Band {
	switch {
	case score >= b.High:
		return BandHigh
	case score >= b.Medium:
		return BandMedium
	default:
		return BandLow
	}
}

// ScoreRecord is the per-client scoring outcome. Score is the sum of Reasons' points.
type ScoreRecord struct {
	ClientID string    `json:"client_id"`
	Score    int       `json:"score"`
	Band     Band      `json:"band"`
	Reasons  []Finding `json:"reasons"`
}

// CaseType names a detected typology.
type CaseType string

const (
	CaseStructuring      CaseType = "structuring"
	CaseHighRiskCorridor CaseType = "high_risk_corridor"
	CaseLargeDomestic    CaseType = "large_domestic"
)

// Severity is a display classification for cases; it never affects the score.
type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// Case is one typology hit for one client. Only the fields relevant to Type are set.
type Case struct {
	Type     CaseType `json:"type"`
	ClientID string   `json:"client_id"`
	Severity Severity `json:"severity,omitempty"`

	// structuring
	WindowStart Date     `json:"window_start,omitzero"`
	WindowCount int      `json:"window_count,omitempty"`
	Sample      []string `json:"sample,omitempty"`

	// high_risk_corridor, large_domestic
	Count     int     `json:"count,omitempty"`
	Countries string  `json:"countries,omitempty"`
	MaxAmount float64 `json:"max_amount,omitempty"`
}

// Counts summarises a result by band.
type Counts struct {
	Total  int `json:"total"`
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Add tallies one band.
func (c *Counts) Add(b Band) {
	c.Total++
	switch b {
	case BandHigh:
		c.High++
	case BandMedium:
		c.Medium++
	default:
		c.Low++
	}
}

// Result is everything the reporting side needs from one scoring pass.
type Result struct {
	Scores  []ScoreRecord `json:"scores"`
	Cases   []Case        `json:"cases"`
	Ruleset RulesetMeta   `json:"rulesetMeta"`
	Counts  Counts        `json:"counts"`
}
