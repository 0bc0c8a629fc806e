package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-spend-approvals/internal/database"
)

// PostgresStore implements Store on top of a pgx pool.
type PostgresStore struct {
	db            *database.DB
	rules         *ApprovalRulesRepository
	workflows     *ApprovalWorkflowRepository
	steps         *ApprovalStepsRepository
	audit         *ApprovalAuditRepository
	notifications *NotificationRepository
}

// NewPostgresStore wires every table repository to db.
func NewPostgresStore(db *database.DB) *PostgresStore {
	return &PostgresStore{
		db:            db,
		rules:         NewApprovalRulesRepository(db),
		workflows:     NewApprovalWorkflowRepository(db),
		steps:         NewApprovalStepsRepository(db),
		audit:         NewApprovalAuditRepository(db),
		notifications: NewNotificationRepository(db),
	}
}

func (s *PostgresStore) Ping(ctx context.Context) error { return s.db.Ping(ctx) }

func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

// Rules

func (s *PostgresStore) ListActiveRules(ctx context.Context) ([]*ApprovalRule, error) {
	return s.rules.List(ctx, true)
}

func (s *PostgresStore) CreateRule(ctx context.Context, rule *ApprovalRule) error {
	return s.rules.Create(ctx, rule)
}

func (s *PostgresStore) ImportRules(ctx context.Context, rules []*ApprovalRule) error {
	return s.rules.Import(ctx, rules)
}

func (s *PostgresStore) ListRules(ctx context.Context, activeOnly bool) ([]*ApprovalRule, error) {
	return s.rules.List(ctx, activeOnly)
}

func (s *PostgresStore) GetRule(ctx context.Context, id string) (*ApprovalRule, error) {
	return s.rules.GetByID(ctx, id)
}

func (s *PostgresStore) DeactivateRule(ctx context.Context, id string) error {
	return s.rules.Deactivate(ctx, id)
}

// Workflows

// InTransaction runs fn against transaction-scoped repositories at READ COMMITTED.
// Row locks taken by LockRequest serialize concurrent deciders on the same request.
func (s *PostgresStore) InTransaction(ctx context.Context, fn func(tx WorkflowTx) error) error {
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(&pgWorkflowTx{
			workflows: NewApprovalWorkflowRepository(tx),
			steps:     NewApprovalStepsRepository(tx),
			audit:     NewApprovalAuditRepository(tx),
		})
	})
}

func (s *PostgresStore) GetRequest(ctx context.Context, id string) (*SpendRequest, error) {
	req, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	req.Steps, err = s.steps.GetByRequestID(ctx, id)
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (s *PostgresStore) ListRequests(ctx context.Context, filter RequestFilter) ([]*SpendRequest, int64, error) {
	return s.workflows.List(ctx, filter)
}

func (s *PostgresStore) ListPendingForRole(ctx context.Context, role string) ([]*SpendRequest, error) {
	reqs, err := s.workflows.ListPendingForRole(ctx, role)
	if err != nil {
		return nil, err
	}
	for _, req := range reqs {
		if req.Steps, err = s.steps.GetByRequestID(ctx, req.ID); err != nil {
			return nil, err
		}
	}
	return reqs, nil
}

func (s *PostgresStore) ListAudit(ctx context.Context, requestID string) ([]*AuditEntry, error) {
	return s.audit.GetByRequestID(ctx, requestID)
}

// Notifications

func (s *PostgresStore) CreateNotification(ctx context.Context, n *Notification) error {
	return s.notifications.Create(ctx, n)
}

func (s *PostgresStore) UnreadNotifications(ctx context.Context, recipient string, limit int) ([]*Notification, error) {
	return s.notifications.Unread(ctx, recipient, limit)
}

func (s *PostgresStore) MarkNotificationRead(ctx context.Context, id string) error {
	return s.notifications.MarkRead(ctx, id)
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, recipient string) (int64, error) {
	return s.notifications.MarkAllRead(ctx, recipient)
}

// pgWorkflowTx adapts the table repositories bound to one pgx.Tx.
type pgWorkflowTx struct {
	workflows *ApprovalWorkflowRepository
	steps     *ApprovalStepsRepository
	audit     *ApprovalAuditRepository
}

func (t *pgWorkflowTx) InsertRequest(ctx context.Context, req *SpendRequest) error {
	return t.workflows.Create(ctx, req)
}

func (t *pgWorkflowTx) LockRequest(ctx context.Context, id string) (*SpendRequest, error) {
	return t.workflows.GetForUpdate(ctx, id)
}

func (t *pgWorkflowTx) FirstPendingStep(ctx context.Context, requestID string) (*ApprovalStep, error) {
	return t.steps.GetFirstPending(ctx, requestID)
}

func (t *pgWorkflowTx) DecideStep(ctx context.Context, stepID string, status StepStatus, actor string, notes *string, at time.Time) error {
	return t.steps.Decide(ctx, stepID, status, actor, notes, at)
}

func (t *pgWorkflowTx) CountPendingSteps(ctx context.Context, requestID string) (int, error) {
	return t.steps.CountPending(ctx, requestID)
}

func (t *pgWorkflowTx) TransitionRequest(ctx context.Context, id string, from, to RequestStatus, at time.Time) error {
	return t.workflows.TransitionStatus(ctx, id, from, to, at)
}

func (t *pgWorkflowTx) AppendAudit(ctx context.Context, entry *AuditEntry) error {
	return t.audit.Append(ctx, entry)
}

var (
	_ Store      = (*PostgresStore)(nil)
	_ WorkflowTx = (*pgWorkflowTx)(nil)
)
