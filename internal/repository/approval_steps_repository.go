package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
)

const stepColumns = `
		id, request_id, role_name, step_order, status,
		source, rule_id, rule_min_amount,
		decision_date, approver_identity, decision_notes,
		created_at, updated_at
`

// ApprovalStepsRepository handles reads and decisions on individual approval steps.
// Step creation is handled by ApprovalWorkflowRepository.Create (transactionally).
type ApprovalStepsRepository struct {
	db querier
}

// NewApprovalStepsRepository creates a new ApprovalStepsRepository.
func NewApprovalStepsRepository(db querier) *ApprovalStepsRepository {
	return &ApprovalStepsRepository{db: db}
}

// GetByRequestID returns all steps for a request ordered by step_order.
func (r *ApprovalStepsRepository) GetByRequestID(ctx context.Context, requestID string) ([]*ApprovalStep, error) {
	query := `SELECT` + stepColumns + `FROM approval_steps WHERE request_id = $1 ORDER BY step_order ASC`

	rows, err := r.db.Query(ctx, query, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval steps")
	}
	defer rows.Close()

	return scanSteps(rows)
}

// GetFirstPending returns the active step of a request, or nil when every
// step has been decided.
func (r *ApprovalStepsRepository) GetFirstPending(ctx context.Context, requestID string) (*ApprovalStep, error) {
	query := `SELECT` + stepColumns + `
		FROM approval_steps
		WHERE request_id = $1 AND status = 'PENDING'
		ORDER BY step_order ASC
		LIMIT 1
	`

	step, err := scanStep(r.db.QueryRow(ctx, query, requestID))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pending approval step")
	}
	return step, nil
}

// CountPending returns the number of PENDING steps of a request.
func (r *ApprovalStepsRepository) CountPending(ctx context.Context, requestID string) (int, error) {
	var n int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM approval_steps WHERE request_id = $1 AND status = 'PENDING'`,
		requestID,
	).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count pending approval steps")
	}
	return n, nil
}

// Decide records the outcome of a decision. The update is conditional on the
// step still being PENDING, so a step is written terminally exactly once.
func (r *ApprovalStepsRepository) Decide(
	ctx context.Context,
	id string,
	status StepStatus,
	actedBy string,
	notes *string,
	at time.Time,
) error {
	query := `
		UPDATE approval_steps
		SET status            = $2,
		    approver_identity = $3,
		    decision_notes    = $4,
		    decision_date     = $5,
		    updated_at        = $5
		WHERE id = $1
		  AND status = 'PENDING'
	`

	tag, err := r.db.Exec(ctx, query, id, string(status), actedBy, notes, at)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to record approval decision")
	}
	if tag.RowsAffected() == 0 {
		return errors.ConcurrentConflict("approval_step", id)
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func scanStep(row rowScanner) (*ApprovalStep, error) {
	s := &ApprovalStep{}
	var status, source string

	err := row.Scan(
		&s.ID,
		&s.RequestID,
		&s.RoleName,
		&s.Order,
		&status,
		&source,
		&s.RuleID,
		&s.RuleMinAmount,
		&s.DecisionDate,
		&s.ApproverIdentity,
		&s.DecisionNotes,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = StepStatus(status)
	s.Source = StepSource(source)
	return s, nil
}

func scanSteps(rows pgx.Rows) ([]*ApprovalStep, error) {
	var steps []*ApprovalStep
	for rows.Next() {
		s, err := scanStep(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
		}
		steps = append(steps, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approval steps")
	}
	return steps, nil
}
