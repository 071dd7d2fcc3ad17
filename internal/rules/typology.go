package rules

import (
	"slices"
	"strings"

	"github.com/opensource-finance/trancheready/internal/domain"
	"github.com/opensource-finance/trancheready/internal/velocity"
)

// Detection is one typology hit: the case for reporting and the finding that
// carries its points into the score.
type Detection struct {
	Case    domain.Case
	Finding domain.Finding
}

// Detector is a behavioural typology check over one client's transactions.
// Implementations sort internally and must not mutate txs.
type Detector interface {
	Type() domain.CaseType
	Detect(clientID string, txs []domain.Transaction) (Detection, bool)
}

// NewDetectors returns the ruleset's detectors in reporting order.
func NewDetectors(rs *domain.Ruleset) []Detector {
	return []Detector{
		&StructuringDetector{ruleset: rs},
		&CorridorDetector{ruleset: rs},
		&LargeDomesticDetector{ruleset: rs},
	}
}

// sortedCopy returns txs ordered by date then tx_id.
func sortedCopy(txs []domain.Transaction) []domain.Transaction {
	out := slices.Clone(txs)
	slices.SortStableFunc(out, func(a, b domain.Transaction) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return strings.Compare(a.TxID, b.TxID)
	})
	return out
}

// StructuringDetector finds repeated cash deposits just under the reporting threshold.
type StructuringDetector struct {
	ruleset *domain.Ruleset
}

func (d *StructuringDetector) Type() domain.CaseType { return domain.CaseStructuring }

func (d *StructuringDetector) Detect(clientID string, txs []domain.Transaction) (Detection, bool) {
	r := d.ruleset.Structuring

	var events []velocity.Event
	for _, tx := range sortedCopy(txs) {
		if tx.Direction != domain.DirectionIn ||
			!strings.EqualFold(tx.Method, r.Method) ||
			!strings.EqualFold(tx.Currency, d.ruleset.Currency) ||
			tx.Amount < r.MinAmount || tx.Amount > r.MaxAmount {
			continue
		}
		events = append(events, velocity.Event{ID: tx.TxID, Date: tx.Date})
	}
	if len(events) < r.MinCount {
		return Detection{}, false
	}

	w, ok := velocity.Match(events, r.WindowDays, r.MinCount)
	if !ok {
		return Detection{}, false
	}

	return Detection{
		Case: domain.Case{
			Type:        domain.CaseStructuring,
			ClientID:    clientID,
			WindowStart: w.Anchor,
			WindowCount: w.Count,
			Sample:      w.Sample(r.SampleSize),
		},
		Finding: behaviourFinding(r.ID, r.Text, r.Points),
	}, true
}

// CorridorDetector finds outbound flows to high-risk jurisdictions with at
// least one large transfer among them.
type CorridorDetector struct {
	ruleset *domain.Ruleset
}

func (d *CorridorDetector) Type() domain.CaseType { return domain.CaseHighRiskCorridor }

func (d *CorridorDetector) Detect(clientID string, txs []domain.Transaction) (Detection, bool) {
	r := d.ruleset.Corridor

	var (
		count     int
		maxAmount float64
		countries []string
	)
	for _, tx := range sortedCopy(txs) {
		country := strings.ToUpper(strings.TrimSpace(tx.CounterpartyCountry))
		if tx.Direction != domain.DirectionOut ||
			!strings.EqualFold(tx.Currency, d.ruleset.Currency) ||
			!d.ruleset.IsHighRisk(country) {
			continue
		}
		count++
		maxAmount = max(maxAmount, tx.Amount)
		if !slices.Contains(countries, country) {
			countries = append(countries, country)
		}
	}

	if count < r.MinCount || maxAmount < r.LargeAmount {
		return Detection{}, false
	}

	return Detection{
		Case: domain.Case{
			Type:      domain.CaseHighRiskCorridor,
			ClientID:  clientID,
			Count:     count,
			Countries: strings.Join(countries, ","),
			MaxAmount: maxAmount,
		},
		Finding: behaviourFinding(r.ID, r.Text, r.Points),
	}, true
}

// LargeDomesticDetector flags any single large transfer with a domestic or
// unspecified counterparty. All qualifying transfers roll into one case.
type LargeDomesticDetector struct {
	ruleset *domain.Ruleset
}

func (d *LargeDomesticDetector) Type() domain.CaseType { return domain.CaseLargeDomestic }

func (d *LargeDomesticDetector) Detect(clientID string, txs []domain.Transaction) (Detection, bool) {
	r := d.ruleset.LargeDomestic

	var (
		count     int
		maxAmount float64
	)
	for _, tx := range txs {
		country := strings.TrimSpace(tx.CounterpartyCountry)
		if !strings.EqualFold(tx.Currency, d.ruleset.Currency) ||
			tx.Amount < r.MinAmount ||
			(country != "" && !strings.EqualFold(country, r.DomesticCountry)) {
			continue
		}
		count++
		maxAmount = max(maxAmount, tx.Amount)
	}
	if count == 0 {
		return Detection{}, false
	}

	return Detection{
		Case: domain.Case{
			Type:      domain.CaseLargeDomestic,
			ClientID:  clientID,
			Count:     count,
			MaxAmount: maxAmount,
		},
		Finding: behaviourFinding(r.ID, r.Text, r.Points),
	}, true
}

func behaviourFinding(id, text string, points int) domain.Finding {
	return domain.Finding{
		RuleID: id,
		Family: domain.FamilyBehaviour,
		Text:   text,
		Points: points,
	}
}
