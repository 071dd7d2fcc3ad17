package rules

import (
	"fmt"

	"github.com/opensource-finance/trancheready/internal/domain"
)

// Engine scores one client: profile rules first, then behavioural detectors in
// fixed order. It holds no mutable state and is safe for concurrent use.
type Engine struct {
	ruleset   *domain.Ruleset
	profile   *ProfileEvaluator
	detectors []Detector
}

// NewEngine validates and compiles a private copy of rs; later changes to rs
// do not reach the engine.
func NewEngine(rs *domain.Ruleset) (*Engine, error) {
	if err := rs.Validate(); err != nil {
		return nil, err
	}
	rs = rs.Clone()

	profile, err := NewProfileEvaluator(rs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidRuleset, err)
	}

	return &Engine{
		ruleset:   rs,
		profile:   profile,
		detectors: NewDetectors(rs),
	}, nil
}

// Ruleset returns the ruleset the engine was built from.
func (e *Engine) Ruleset() *domain.Ruleset {
	return e.ruleset
}

// RulesCount returns the number of profile and behavioural rules.
func (e *Engine) RulesCount() int {
	return e.profile.RulesCount() + len(e.detectors)
}

// ScoreClient evaluates c against txs. Only transactions on or after the
// lookback start reach the detectors. Cases are returned in detector order and
// carry no severity; that is the aggregator's concern.
func (e *Engine) ScoreClient(c domain.Client, txs []domain.Transaction, lookback domain.Lookback) (domain.ScoreRecord, []domain.Case) {
	reasons := e.profile.Evaluate(c, lookback)

	window := InLookback(txs, lookback)
	var cases []domain.Case
	for _, d := range e.detectors {
		det, ok := d.Detect(c.ClientID, window)
		if !ok {
			continue
		}
		reasons = append(reasons, det.Finding)
		cases = append(cases, det.Case)
	}

	score := 0
	for _, f := range reasons {
		score += f.Points
	}

	return domain.ScoreRecord{
		ClientID: c.ClientID,
		Score:    score,
		Band:     e.ruleset.Banding.Band(score),
		Reasons:  reasons,
	}, cases
}

// InLookback returns the transactions dated on or after lookback.Start.
func InLookback(txs []domain.Transaction, lookback domain.Lookback) []domain.Transaction {
	out := make([]domain.Transaction, 0, len(txs))
	for _, tx := range txs {
		if lookback.Contains(tx.Date) {
			out = append(out, tx)
		}
	}
	return out
}
