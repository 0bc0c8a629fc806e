package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
	"github.com/pesio-ai/be-spend-approvals/internal/logger"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// GeneralGroup labels rules that apply to every expense type.
const GeneralGroup = "General"

// RuleInput is an administrator-supplied rule. "Any" or an empty string
// means the field matches everything.
type RuleInput struct {
	Category     string `json:"category" yaml:"category"`
	ExpenseType  string `json:"expense_type" yaml:"expense_type"`
	MinAmount    string `json:"min_amount" yaml:"min_amount"`
	RequiredRole string `json:"required_role" yaml:"required_role"`
}

// MatrixGroup is one expense-type section of the DoA matrix.
type MatrixGroup struct {
	ExpenseType string                     `json:"expense_type"`
	Rules       []*repository.ApprovalRule `json:"rules"`
}

// RuleService administers the delegation-of-authority matrix.
type RuleService struct {
	store repository.RuleStore
	log   *logger.Logger
}

// NewRuleService creates a new RuleService.
func NewRuleService(store repository.RuleStore, log *logger.Logger) *RuleService {
	return &RuleService{store: store, log: log}
}

// CreateRule validates and stores one active rule.
func (s *RuleService) CreateRule(ctx context.Context, in RuleInput) (*repository.ApprovalRule, error) {
	rule, err := ParseRule(in)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateRule(ctx, rule); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("rule_id", rule.ID).
		Str("role", rule.RequiredRole).
		Str("min_amount", rule.MinAmount.String()).
		Msg("Approval rule created")
	return rule, nil
}

// ImportRules validates every input first and then stores them all in one
// transaction. Nothing is stored when any input is invalid.
func (s *RuleService) ImportRules(ctx context.Context, inputs []RuleInput) ([]*repository.ApprovalRule, error) {
	if len(inputs) == 0 {
		return nil, errors.InvalidInput("rules", "at least one rule is required")
	}

	rules := make([]*repository.ApprovalRule, 0, len(inputs))
	for i, in := range inputs {
		rule, err := ParseRule(in)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i+1, err)
		}
		rules = append(rules, rule)
	}

	if err := s.store.ImportRules(ctx, rules); err != nil {
		return nil, err
	}

	s.log.Info().Int("count", len(rules)).Msg("Approval rules imported")
	return rules, nil
}

// ListRules returns rules in evaluation order.
func (s *RuleService) ListRules(ctx context.Context, activeOnly bool) ([]*repository.ApprovalRule, error) {
	return s.store.ListRules(ctx, activeOnly)
}

// GetRule returns one rule, active or not.
func (s *RuleService) GetRule(ctx context.Context, id string) (*repository.ApprovalRule, error) {
	if strings.TrimSpace(id) == "" {
		return nil, errors.InvalidInput("id", "rule id is required")
	}
	return s.store.GetRule(ctx, id)
}

// DeactivateRule soft-deletes a rule. Chains already built keep their steps.
func (s *RuleService) DeactivateRule(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.InvalidInput("id", "rule id is required")
	}
	if err := s.store.DeactivateRule(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("rule_id", id).Msg("Approval rule deactivated")
	return nil
}

// Matrix groups the active rules by expense type. Wildcard rules form the
// "General" group. Groups are sorted by name; rules keep evaluation order.
func (s *RuleService) Matrix(ctx context.Context) ([]MatrixGroup, error) {
	rules, err := s.store.ListRules(ctx, true)
	if err != nil {
		return nil, err
	}
	return GroupMatrix(rules), nil
}

// GroupMatrix groups rules the way Matrix does.
func GroupMatrix(rules []*repository.ApprovalRule) []MatrixGroup {
	byType := make(map[string][]*repository.ApprovalRule)
	for _, r := range rules {
		key := GeneralGroup
		if r.ExpenseType != nil && string(*r.ExpenseType) != repository.Wildcard {
			key = string(*r.ExpenseType)
		}
		byType[key] = append(byType[key], r)
	}

	groups := make([]MatrixGroup, 0, len(byType))
	for key, rs := range byType {
		sort.SliceStable(rs, func(i, j int) bool {
			if c := rs[i].MinAmount.Cmp(rs[j].MinAmount); c != 0 {
				return c < 0
			}
			return rs[i].Seq < rs[j].Seq
		})
		groups = append(groups, MatrixGroup{ExpenseType: key, Rules: rs})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ExpenseType < groups[j].ExpenseType })
	return groups
}

// ParseRule converts administrator input into an active rule.
func ParseRule(in RuleInput) (*repository.ApprovalRule, error) {
	role := strings.TrimSpace(in.RequiredRole)
	if role == "" {
		return nil, errors.InvalidInput("required_role", "required role is required")
	}

	minAmount := decimal.Zero
	if s := strings.TrimSpace(in.MinAmount); s != "" {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return nil, errors.InvalidInput("min_amount", "min amount must be a number")
		}
		minAmount = v
	}
	if minAmount.IsNegative() {
		return nil, errors.InvalidInput("min_amount", "min amount must not be negative")
	}
	if !repository.FitsMoneyScale(minAmount) {
		return nil, errors.InvalidInput("min_amount", "min amount must have at most 2 decimal places")
	}

	rule := &repository.ApprovalRule{
		Category:     repository.NormalizeWildcard(&in.Category),
		MinAmount:    minAmount,
		RequiredRole: role,
		IsActive:     true,
	}

	if et := repository.NormalizeWildcard(&in.ExpenseType); et != nil {
		t, ok := repository.ParseExpenseType(*et)
		if !ok {
			return nil, errors.InvalidInput("expense_type", "expense type must be OPEX, CAPEX or Any")
		}
		rule.ExpenseType = &t
	}
	return rule, nil
}

// LoadMatrixFile reads a DoA matrix from YAML:
//
//	rules:
//	  - expense_type: OPEX
//	    category: Any
//	    min_amount: "5000"
//	    required_role: Finance Manager
func LoadMatrixFile(path string) ([]RuleInput, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read matrix file: %w", err)
	}
	var doc struct {
		Rules []RuleInput `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse matrix file: %w", err)
	}
	return doc.Rules, nil
}
