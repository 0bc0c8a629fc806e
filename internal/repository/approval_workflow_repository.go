package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
)

const requestColumns = `
		id, title, amount, currency, category, expense_type,
		supplier, justification, detailed_description, is_budgeted,
		status, submitted_by, completed_at, created_at, updated_at
`

// ApprovalWorkflowRepository manages spend requests. A request and its steps
// are always created together in a single transaction.
type ApprovalWorkflowRepository struct {
	db querier
}

// NewApprovalWorkflowRepository creates a new ApprovalWorkflowRepository.
func NewApprovalWorkflowRepository(db querier) *ApprovalWorkflowRepository {
	return &ApprovalWorkflowRepository{db: db}
}

// Create inserts a request and its full approval chain in one transaction.
func (r *ApprovalWorkflowRepository) Create(ctx context.Context, req *SpendRequest) error {
	return inTx(ctx, r.db, func(tx pgx.Tx) error {
		reqQuery := `
			INSERT INTO spend_requests
			    (title, amount, currency, category, expense_type,
			     supplier, justification, detailed_description, is_budgeted,
			     status, submitted_by, completed_at)
			VALUES ($1, $2, $3, $4, $5,
			        $6, $7, $8, $9,
			        $10, $11, $12)
			RETURNING id, created_at, updated_at
		`

		err := tx.QueryRow(ctx, reqQuery,
			req.Title,
			req.Amount,
			req.Currency,
			req.Category,
			string(req.ExpenseType),
			req.Supplier,
			req.Justification,
			req.DetailedDescription,
			req.IsBudgeted,
			string(req.Status),
			req.SubmittedBy,
			req.CompletedAt,
		).Scan(&req.ID, &req.CreatedAt, &req.UpdatedAt)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create spend request")
		}

		stepQuery := `
			INSERT INTO approval_steps
			    (request_id, role_name, step_order, status,
			     source, rule_id, rule_min_amount)
			VALUES ($1, $2, $3, $4,
			        $5, $6, $7)
			RETURNING id, created_at, updated_at
		`

		for _, step := range req.Steps {
			step.RequestID = req.ID

			err := tx.QueryRow(ctx, stepQuery,
				step.RequestID,
				step.RoleName,
				step.Order,
				string(step.Status),
				string(step.Source),
				step.RuleID,
				step.RuleMinAmount,
			).Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt)
			if err != nil {
				return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval step")
			}
		}

		return nil
	})
}

// GetByID retrieves a request by its primary key, without steps.
func (r *ApprovalWorkflowRepository) GetByID(ctx context.Context, id string) (*SpendRequest, error) {
	query := `SELECT` + requestColumns + `FROM spend_requests WHERE id = $1`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("spend_request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get spend request")
	}
	return req, nil
}

// GetForUpdate loads a request and row-locks it until the surrounding
// transaction ends. Must be called on a transaction-scoped repository.
func (r *ApprovalWorkflowRepository) GetForUpdate(ctx context.Context, id string) (*SpendRequest, error) {
	query := `SELECT` + requestColumns + `FROM spend_requests WHERE id = $1 FOR UPDATE`

	req, err := scanRequest(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("spend_request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to lock spend request")
	}
	return req, nil
}

// List returns requests matching filter, newest first, plus the total count.
func (r *ApprovalWorkflowRepository) List(ctx context.Context, filter RequestFilter) ([]*SpendRequest, int64, error) {
	where := ` WHERE ($1::text IS NULL OR status = $1) AND ($2::text IS NULL OR submitted_by = $2)`

	var status *string
	if filter.Status != nil {
		s := string(*filter.Status)
		status = &s
	}

	var total int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM spend_requests`+where, status, filter.SubmittedBy).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count spend requests")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT` + requestColumns + `FROM spend_requests` + where +
		` ORDER BY created_at DESC LIMIT $3 OFFSET $4`

	rows, err := r.db.Query(ctx, query, status, filter.SubmittedBy, limit, filter.Offset)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list spend requests")
	}
	defer rows.Close()

	reqs, err := scanRequests(rows)
	if err != nil {
		return nil, 0, err
	}
	return reqs, total, nil
}

// ListPendingForRole returns open requests whose earliest pending step carries role.
func (r *ApprovalWorkflowRepository) ListPendingForRole(ctx context.Context, role string) ([]*SpendRequest, error) {
	query := `
		SELECT ` + prefixed("r", requestColumns) + `
		FROM spend_requests r
		JOIN LATERAL (
		    SELECT s.role_name
		    FROM approval_steps s
		    WHERE s.request_id = r.id AND s.status = 'PENDING'
		    ORDER BY s.step_order ASC
		    LIMIT 1
		) active ON TRUE
		WHERE r.status IN ('SUBMITTED', 'IN_APPROVAL')
		  AND active.role_name = $1
		ORDER BY r.created_at ASC
	`

	rows, err := r.db.Query(ctx, query, role)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending requests")
	}
	defer rows.Close()

	return scanRequests(rows)
}

// TransitionStatus moves a request from one status to another. Zero affected
// rows means another transaction changed the status first.
func (r *ApprovalWorkflowRepository) TransitionStatus(ctx context.Context, id string, from, to RequestStatus, at time.Time) error {
	query := `
		UPDATE spend_requests
		SET status       = $3,
		    completed_at = CASE WHEN $3 IN ('APPROVED', 'REJECTED') THEN $4::timestamptz ELSE completed_at END,
		    updated_at   = $4
		WHERE id = $1 AND status = $2
	`

	tag, err := r.db.Exec(ctx, query, id, string(from), string(to), at)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update spend request status")
	}
	if tag.RowsAffected() == 0 {
		return errors.ConcurrentConflict("spend_request", id)
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanRequest(row rowScanner) (*SpendRequest, error) {
	req := &SpendRequest{}
	var expenseType, status string

	err := row.Scan(
		&req.ID,
		&req.Title,
		&req.Amount,
		&req.Currency,
		&req.Category,
		&expenseType,
		&req.Supplier,
		&req.Justification,
		&req.DetailedDescription,
		&req.IsBudgeted,
		&status,
		&req.SubmittedBy,
		&req.CompletedAt,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.ExpenseType = ExpenseType(expenseType)
	req.Status = RequestStatus(status)
	return req, nil
}

func scanRequests(rows pgx.Rows) ([]*SpendRequest, error) {
	var reqs []*SpendRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan spend request")
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate spend requests")
	}
	return reqs, nil
}
