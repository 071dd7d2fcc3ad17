// Package rules evaluates client profiles and detects transaction typologies.
package rules

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/trancheready/internal/domain"
)

// ProfileEvaluator runs the ruleset's static client checks. Each rule is a CEL
// expression compiled once; a true result contributes the rule's points.
type ProfileEvaluator struct {
	ruleset *domain.Ruleset
	rules   []compiledProfileRule
}

type compiledProfileRule struct {
	rule    domain.ProfileRule
	program cel.Program
}

// newProfileEnv declares the variables profile expressions may reference.
func newProfileEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("client_id", cel.StringType),
		cel.Variable("pep", cel.BoolType),
		cel.Variable("sanctions", cel.BoolType),
		cel.Variable("kyc_reviewed", cel.BoolType),
		cel.Variable("kyc_stale", cel.BoolType),
		cel.Variable("delivery_channel", cel.StringType),
		cel.Variable("services", cel.StringType),
		cel.Variable("residency_country", cel.StringType),
		cel.Variable("residency_high_risk", cel.BoolType),
	)
}

// NewProfileEvaluator compiles every profile rule in rs.
func NewProfileEvaluator(rs *domain.Ruleset) (*ProfileEvaluator, error) {
	env, err := newProfileEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	compiled := make([]compiledProfileRule, 0, len(rs.Profile))
	for _, r := range rs.Profile {
		program, err := compileProfileRule(env, r)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledProfileRule{rule: r, program: program})
	}

	return &ProfileEvaluator{ruleset: rs, rules: compiled}, nil
}

// ValidateExpression reports whether expr compiles to a boolean profile check.
func ValidateExpression(expr string) error {
	env, err := newProfileEnv()
	if err != nil {
		return err
	}
	_, err = compileProfileRule(env, domain.ProfileRule{ID: "adhoc", Expression: expr})
	return err
}

func compileProfileRule(env *cel.Env, r domain.ProfileRule) (cel.Program, error) {
	ast, issues := env.Compile(r.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", r.ID, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", r.ID, ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", r.ID, err)
	}
	return program, nil
}

// Evaluate returns one finding per rule that holds for c, in ruleset order.
// The returned slice is never nil.
func (p *ProfileEvaluator) Evaluate(c domain.Client, lookback domain.Lookback) []domain.Finding {
	activation := p.activation(c, lookback)
	findings := make([]domain.Finding, 0, len(p.rules))

	for _, r := range p.rules {
		out, _, err := r.program.Eval(activation)
		if err != nil {
			slog.Warn("profile rule evaluation failed",
				"rule_id", r.rule.ID,
				"client_id", c.ClientID,
				"error", err,
			)
			continue
		}
		if hit, ok := out.(types.Bool); ok && bool(hit) {
			findings = append(findings, domain.Finding{
				RuleID: r.rule.ID,
				Family: domain.FamilyProfile,
				Text:   r.rule.Text,
				Points: r.rule.Points,
			})
		}
	}
	return findings
}

// RulesCount returns the number of compiled profile rules.
func (p *ProfileEvaluator) RulesCount() int {
	return len(p.rules)
}

func (p *ProfileEvaluator) activation(c domain.Client, lookback domain.Lookback) map[string]any {
	residency := strings.ToUpper(strings.TrimSpace(c.ResidencyCountry))
	return map[string]any{
		"client_id":           c.ClientID,
		"pep":                 bool(c.PEPFlag),
		"sanctions":           bool(c.SanctionsFlag),
		"kyc_reviewed":        !c.KYCLastReviewedAt.IsZero(),
		"kyc_stale":           IsKYCStale(c.KYCLastReviewedAt, lookback.End, p.ruleset.KYCStaleMonths),
		"delivery_channel":    strings.ToLower(c.DeliveryChannel),
		"services":            strings.ToLower(c.Services),
		"residency_country":   residency,
		"residency_high_risk": p.ruleset.IsHighRisk(residency),
	}
}

// IsKYCStale reports whether a review dated reviewed is more than months old at
// reference. A missing review date or reference never counts as stale.
func IsKYCStale(reviewed, reference domain.Date, months int) bool {
	if reviewed.IsZero() || reference.IsZero() {
		return false
	}
	return reviewed.AddMonths(months).Before(reference)
}
