package service

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
	"github.com/pesio-ai/be-spend-approvals/internal/logger"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// Position says where a baseline role is injected into the chain.
type Position string

const (
	PositionFront Position = "front"
	PositionBack  Position = "back"
)

// BaselineRule is an implicit chain step applied on top of the matched rules.
// An empty ExpenseType (or "Any") applies to every request.
type BaselineRule struct {
	Name        string                 `yaml:"name"`
	ExpenseType repository.ExpenseType `yaml:"expense_type"`
	Role        string                 `yaml:"role"`
	Position    Position               `yaml:"position"`
}

func (b BaselineRule) appliesTo(t repository.ExpenseType) bool {
	return b.ExpenseType == "" || string(b.ExpenseType) == repository.Wildcard || b.ExpenseType == t
}

// DefaultBaseline puts the Line Manager first on every OPEX request.
var DefaultBaseline = []BaselineRule{
	{Name: "opex-line-manager", ExpenseType: repository.ExpenseTypeOPEX, Role: "Line Manager", Position: PositionFront},
}

// LoadBaseline reads a baseline table from a YAML file:
//
//	baseline:
//	  - name: opex-line-manager
//	    expense_type: OPEX
//	    role: Line Manager
//	    position: front
//
// A file without entries yields an empty, non-nil table so that no
// baseline steps apply.
func LoadBaseline(path string) ([]BaselineRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read baseline file: %w", err)
	}

	var doc struct {
		Baseline []BaselineRule `yaml:"baseline"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse baseline file: %w", err)
	}

	for i, b := range doc.Baseline {
		if strings.TrimSpace(b.Role) == "" {
			return nil, errors.InvalidInput(fmt.Sprintf("baseline[%d].role", i), "role is required")
		}
		switch b.Position {
		case "":
			doc.Baseline[i].Position = PositionFront
		case PositionFront, PositionBack:
		default:
			return nil, errors.InvalidInput(fmt.Sprintf("baseline[%d].position", i), "must be front or back")
		}
		if b.ExpenseType != "" && string(b.ExpenseType) != repository.Wildcard && !b.ExpenseType.Valid() {
			return nil, errors.InvalidInput(fmt.Sprintf("baseline[%d].expense_type", i), "must be OPEX, CAPEX or Any")
		}
	}
	if doc.Baseline == nil {
		return []BaselineRule{}, nil
	}
	return doc.Baseline, nil
}

// ApplyBaseline injects every applicable baseline role whose exact name is
// not already in the chain, then renumbers the chain 1..N. Front entries keep
// table order ahead of the matched steps; back entries follow them.
func ApplyBaseline(steps []ChainStep, expenseType repository.ExpenseType, baseline []BaselineRule) []ChainStep {
	present := make(map[string]bool, len(steps))
	for _, s := range steps {
		present[s.RoleName] = true
	}

	var front, back []ChainStep
	for _, b := range baseline {
		if !b.appliesTo(expenseType) || present[b.Role] {
			continue
		}
		present[b.Role] = true
		step := ChainStep{RoleName: b.Role, Source: repository.StepSourceBaseline}
		if b.Position == PositionBack {
			back = append(back, step)
		} else {
			front = append(front, step)
		}
	}

	out := make([]ChainStep, 0, len(front)+len(steps)+len(back))
	out = append(out, front...)
	out = append(out, steps...)
	out = append(out, back...)
	for i := range out {
		out[i].Order = i + 1
	}
	return out
}

// Chain is the result of building an approval chain.
type Chain struct {
	Steps []ChainStep `json:"steps"`
	// RulesUnavailable is set when the rule source failed and only the
	// baseline policy was applied.
	RulesUnavailable bool `json:"rules_unavailable"`
	// SourceErr carries the ErrRuleSourceUnavailable failure behind
	// RulesUnavailable.
	SourceErr error `json:"-"`
}

// ChainBuilder combines the rule evaluator with the baseline policy.
type ChainBuilder struct {
	rules    repository.RuleSource
	baseline []BaselineRule
	log      *logger.Logger
}

// NewChainBuilder creates a ChainBuilder. A nil baseline uses DefaultBaseline;
// an empty one disables baseline steps.
func NewChainBuilder(rules repository.RuleSource, baseline []BaselineRule, log *logger.Logger) *ChainBuilder {
	if baseline == nil {
		baseline = DefaultBaseline
	}
	return &ChainBuilder{rules: rules, baseline: baseline, log: log}
}

// Build computes the ordered approval chain for the given attributes. A rule
// source failure is logged and degrades to the baseline policy alone.
func (b *ChainBuilder) Build(
	ctx context.Context,
	amount decimal.Decimal,
	category string,
	expenseType repository.ExpenseType,
) *Chain {
	chain := &Chain{}

	rules, err := b.rules.ListActiveRules(ctx)
	if err != nil {
		chain.RulesUnavailable = true
		chain.SourceErr = errors.Wrap(err, errors.ErrCodeRuleSourceUnavailable, "rule source unavailable")
		rules = nil
		b.log.Warn().Err(chain.SourceErr).
			Str("code", string(errors.ErrCodeRuleSourceUnavailable)).
			Str("category", category).
			Str("expense_type", string(expenseType)).
			Msg("Rule source unavailable; applying baseline policy only")
	}

	chain.Steps = ApplyBaseline(Evaluate(amount, category, expenseType, rules), expenseType, b.baseline)
	return chain
}
