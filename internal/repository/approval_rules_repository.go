package repository

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
)

const ruleColumns = `
		id, seq, category, expense_type, min_amount, required_role,
		is_active, created_at, updated_at
`

// ApprovalRulesRepository handles CRUD for approval_rules.
type ApprovalRulesRepository struct {
	db querier
}

// NewApprovalRulesRepository creates a new ApprovalRulesRepository.
func NewApprovalRulesRepository(db querier) *ApprovalRulesRepository {
	return &ApprovalRulesRepository{db: db}
}

// Create inserts a new approval rule.
func (r *ApprovalRulesRepository) Create(ctx context.Context, rule *ApprovalRule) error {
	return insertRule(ctx, r.db, rule)
}

// Import inserts all rules in one transaction; a single failure discards the batch.
func (r *ApprovalRulesRepository) Import(ctx context.Context, rules []*ApprovalRule) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		for _, rule := range rules {
			if err := insertRule(ctx, tx, rule); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertRule(ctx context.Context, q querier, rule *ApprovalRule) error {
	query := `
		INSERT INTO approval_rules
		    (category, expense_type, min_amount, required_role, is_active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, seq, created_at, updated_at
	`

	err := q.QueryRow(ctx, query,
		rule.Category,
		expenseTypeArg(rule.ExpenseType),
		rule.MinAmount,
		rule.RequiredRole,
		rule.IsActive,
	).Scan(&rule.ID, &rule.Seq, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval rule")
	}
	return nil
}

// GetByID retrieves a rule by primary key.
func (r *ApprovalRulesRepository) GetByID(ctx context.Context, id string) (*ApprovalRule, error) {
	query := `SELECT` + ruleColumns + `FROM approval_rules WHERE id = $1`

	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("approval_rule", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval rule")
	}
	return rule, nil
}

// List returns all rules, optionally filtered to active only, in evaluation
// order (threshold ascending, then creation order).
func (r *ApprovalRulesRepository) List(ctx context.Context, activeOnly bool) ([]*ApprovalRule, error) {
	query := `SELECT` + ruleColumns + `FROM approval_rules`
	if activeOnly {
		query += " WHERE is_active = TRUE"
	}
	query += " ORDER BY min_amount ASC, seq ASC"

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	var rules []*ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approval rules")
	}
	return rules, nil
}

// Deactivate soft-deletes a rule. Requests already routed keep their steps.
func (r *ApprovalRulesRepository) Deactivate(ctx context.Context, id string) error {
	query := `
		UPDATE approval_rules
		SET is_active  = FALSE,
		    updated_at = NOW()
		WHERE id = $1
	`

	tag, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to deactivate approval rule")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("approval_rule", id)
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*ApprovalRule, error) {
	rule := &ApprovalRule{}
	var expenseType *string

	err := row.Scan(
		&rule.ID,
		&rule.Seq,
		&rule.Category,
		&expenseType,
		&rule.MinAmount,
		&rule.RequiredRole,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if expenseType != nil {
		t := ExpenseType(*expenseType)
		rule.ExpenseType = &t
	}
	return rule, nil
}

func expenseTypeArg(t *ExpenseType) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}
