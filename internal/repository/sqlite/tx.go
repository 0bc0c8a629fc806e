package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

const requestColumns = `id, title, amount, currency, category, expense_type,
	supplier, justification, detailed_description, is_budgeted,
	status, submitted_by, completed_at, created_at, updated_at`

const stepColumns = `id, request_id, role_name, step_order, status, source, rule_id, rule_min_amount,
	decision_date, approver_identity, decision_notes, created_at, updated_at`

// workflowTx implements repository.WorkflowTx on a *sql.Tx.
type workflowTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *workflowTx) InsertRequest(ctx context.Context, req *repository.SpendRequest) error {
	now := t.now()
	req.ID = uuid.NewString()
	req.CreatedAt = now
	req.UpdatedAt = now

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO spend_requests (`+requestColumns+`, created_seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		        (SELECT COALESCE(MAX(created_seq), 0) + 1 FROM spend_requests))`,
		req.ID, req.Title, req.Amount.String(), req.Currency, req.Category, string(req.ExpenseType),
		req.Supplier, req.Justification, req.DetailedDescription, req.IsBudgeted,
		string(req.Status), req.SubmittedBy, req.CompletedAt, req.CreatedAt, req.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create spend request")
	}

	for _, step := range req.Steps {
		step.ID = uuid.NewString()
		step.RequestID = req.ID
		step.CreatedAt = now
		step.UpdatedAt = now

		var minAmount *string
		if step.RuleMinAmount.Valid {
			v := step.RuleMinAmount.Decimal.String()
			minAmount = &v
		}

		_, err := t.tx.ExecContext(ctx, `
			INSERT INTO approval_steps (id, request_id, role_name, step_order, status, source, rule_id, rule_min_amount, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			step.ID, step.RequestID, step.RoleName, step.Order, string(step.Status), string(step.Source),
			step.RuleID, minAmount, step.CreatedAt, step.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to create approval step")
		}
	}
	return nil
}

func (t *workflowTx) LockRequest(ctx context.Context, id string) (*repository.SpendRequest, error) {
	return getRequest(ctx, t.tx, id)
}

func (t *workflowTx) FirstPendingStep(ctx context.Context, requestID string) (*repository.ApprovalStep, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+stepColumns+`
		FROM approval_steps
		WHERE request_id = ? AND status = 'PENDING'
		ORDER BY step_order ASC LIMIT 1`, requestID)

	step, err := scanStep(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get pending approval step")
	}
	return step, nil
}

func (t *workflowTx) DecideStep(
	ctx context.Context,
	stepID string,
	status repository.StepStatus,
	actor string,
	notes *string,
	at time.Time,
) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE approval_steps
		SET status = ?, approver_identity = ?, decision_notes = ?, decision_date = ?, updated_at = ?
		WHERE id = ? AND status = 'PENDING'`,
		string(status), actor, notes, at, at, stepID,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to record approval decision")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ConcurrentConflict("approval_step", stepID)
	}
	return nil
}

func (t *workflowTx) CountPendingSteps(ctx context.Context, requestID string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM approval_steps WHERE request_id = ? AND status = 'PENDING'`, requestID,
	).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count pending approval steps")
	}
	return n, nil
}

func (t *workflowTx) TransitionRequest(ctx context.Context, id string, from, to repository.RequestStatus, at time.Time) error {
	var completedAt *time.Time
	if to.Terminal() {
		completedAt = &at
	}
	res, err := t.tx.ExecContext(ctx, `
		UPDATE spend_requests
		SET status = ?, completed_at = COALESCE(?, completed_at), updated_at = ?
		WHERE id = ? AND status = ?`,
		string(to), completedAt, at, id, string(from),
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update spend request status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.ConcurrentConflict("spend_request", id)
	}
	return nil
}

func (t *workflowTx) AppendAudit(ctx context.Context, entry *repository.AuditEntry) error {
	entry.ID = uuid.NewString()
	entry.PerformedAt = t.now()

	var metadata *string
	if entry.Metadata != nil {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal audit metadata")
		}
		v := string(data)
		metadata = &v
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO approval_audit_log (id, request_id, step_id, action, performed_by, performed_at, status_before, status_after, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RequestID, entry.StepID, entry.Action, entry.PerformedBy, entry.PerformedAt,
		statusArg(entry.StatusBefore), statusArg(entry.StatusAfter), metadata,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// ── shared readers ───────────────────────────────────────────────────────────

func getRequest(ctx context.Context, q dbtx, id string) (*repository.SpendRequest, error) {
	req, err := scanRequest(q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM spend_requests WHERE id = ?`, id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.NotFound("spend_request", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get spend request")
	}
	return req, nil
}

func queryRequests(ctx context.Context, q dbtx, query string, args ...any) ([]*repository.SpendRequest, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list spend requests")
	}
	defer func() { _ = rows.Close() }()

	var reqs []*repository.SpendRequest
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

func listSteps(ctx context.Context, q dbtx, requestID string) ([]*repository.ApprovalStep, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT `+stepColumns+` FROM approval_steps WHERE request_id = ? ORDER BY step_order ASC`, requestID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get approval steps")
	}
	defer func() { _ = rows.Close() }()

	var steps []*repository.ApprovalStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan approval step")
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate approval steps")
	}
	return steps, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRequest(row scanner) (*repository.SpendRequest, error) {
	req := &repository.SpendRequest{}
	var expenseType, status string
	err := row.Scan(
		&req.ID, &req.Title, &req.Amount, &req.Currency, &req.Category, &expenseType,
		&req.Supplier, &req.Justification, &req.DetailedDescription, &req.IsBudgeted,
		&status, &req.SubmittedBy, &req.CompletedAt, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.ExpenseType = repository.ExpenseType(expenseType)
	req.Status = repository.RequestStatus(status)
	return req, nil
}

func scanStep(row scanner) (*repository.ApprovalStep, error) {
	s := &repository.ApprovalStep{}
	var status, source string
	err := row.Scan(
		&s.ID, &s.RequestID, &s.RoleName, &s.Order, &status, &source, &s.RuleID, &s.RuleMinAmount,
		&s.DecisionDate, &s.ApproverIdentity, &s.DecisionNotes, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Status = repository.StepStatus(status)
	s.Source = repository.StepSource(source)
	return s, nil
}

func statusArg(s *repository.RequestStatus) *string {
	if s == nil {
		return nil
	}
	v := string(*s)
	return &v
}
