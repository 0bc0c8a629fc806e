package service

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// ChainStep is one position in a computed approval chain.
type ChainStep struct {
	RoleName      string                `json:"role_name" yaml:"role_name"`
	Order         int                   `json:"order" yaml:"order"`
	Source        repository.StepSource `json:"source" yaml:"source"`
	RuleID        *string               `json:"rule_id,omitempty" yaml:"rule_id,omitempty"`
	RuleMinAmount decimal.NullDecimal   `json:"rule_min_amount" yaml:"-"`
}

// Evaluate returns the roles whose rules match the request attributes, in
// ascending threshold order with provisional positions 1..k.
//
// Inactive rules are ignored. Equal thresholds keep creation order (Seq). A
// rule matches when its expense type and category are wildcards or equal to
// the request's, and amount is strictly greater than its threshold. The
// rules slice is never modified and duplicate roles are kept.
func Evaluate(
	amount decimal.Decimal,
	category string,
	expenseType repository.ExpenseType,
	rules []*repository.ApprovalRule,
) []ChainStep {
	active := make([]*repository.ApprovalRule, 0, len(rules))
	for _, r := range rules {
		if r != nil && r.IsActive {
			active = append(active, r)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if c := active[i].MinAmount.Cmp(active[j].MinAmount); c != 0 {
			return c < 0
		}
		return active[i].Seq < active[j].Seq
	})

	var steps []ChainStep
	for _, r := range active {
		if !r.MatchesExpenseType(expenseType) || !r.MatchesCategory(category) {
			continue
		}
		if !amount.GreaterThan(r.MinAmount) {
			continue
		}
		id := r.ID
		steps = append(steps, ChainStep{
			RoleName:      r.RequiredRole,
			Order:         len(steps) + 1,
			Source:        repository.StepSourceRule,
			RuleID:        &id,
			RuleMinAmount: decimal.NewNullDecimal(r.MinAmount),
		})
	}
	return steps
}
