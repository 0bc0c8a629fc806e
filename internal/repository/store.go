package repository

import (
	"context"
	"time"
)

// RuleSource supplies the active rule set used to build approval chains.
type RuleSource interface {
	ListActiveRules(ctx context.Context) ([]*ApprovalRule, error)
}

// RuleStore administers approval rules.
type RuleStore interface {
	RuleSource
	CreateRule(ctx context.Context, rule *ApprovalRule) error
	// ImportRules inserts every rule or none of them.
	ImportRules(ctx context.Context, rules []*ApprovalRule) error
	ListRules(ctx context.Context, activeOnly bool) ([]*ApprovalRule, error)
	GetRule(ctx context.Context, id string) (*ApprovalRule, error)
	DeactivateRule(ctx context.Context, id string) error
}

// WorkflowStore persists spend requests and their approval chains.
type WorkflowStore interface {
	// InTransaction runs fn as one atomic unit. Any error rolls back every
	// write made through tx.
	InTransaction(ctx context.Context, fn func(tx WorkflowTx) error) error

	GetRequest(ctx context.Context, id string) (*SpendRequest, error)
	ListRequests(ctx context.Context, filter RequestFilter) ([]*SpendRequest, int64, error)
	// ListPendingForRole returns non-terminal requests whose active step
	// carries role.
	ListPendingForRole(ctx context.Context, role string) ([]*SpendRequest, error)
	ListAudit(ctx context.Context, requestID string) ([]*AuditEntry, error)
}

// WorkflowTx is the set of writes the workflow engine performs inside one
// transaction.
type WorkflowTx interface {
	// InsertRequest stores the request together with all of its steps.
	InsertRequest(ctx context.Context, req *SpendRequest) error
	// LockRequest loads the request (without steps) and holds it against
	// concurrent deciders until the transaction ends.
	LockRequest(ctx context.Context, id string) (*SpendRequest, error)
	// FirstPendingStep returns the pending step with the smallest order, or
	// nil when none remains.
	FirstPendingStep(ctx context.Context, requestID string) (*ApprovalStep, error)
	// DecideStep moves a PENDING step to status. It fails with a
	// concurrent-conflict error when the step is no longer PENDING.
	DecideStep(ctx context.Context, stepID string, status StepStatus, actor string, notes *string, at time.Time) error
	CountPendingSteps(ctx context.Context, requestID string) (int, error)
	// TransitionRequest moves the request from one status to another. It
	// fails with a concurrent-conflict error when the stored status is not from.
	TransitionRequest(ctx context.Context, id string, from, to RequestStatus, at time.Time) error
	AppendAudit(ctx context.Context, entry *AuditEntry) error
}

// NotificationStore backs the in-app notification inbox.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *Notification) error
	UnreadNotifications(ctx context.Context, recipient string, limit int) ([]*Notification, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context, recipient string) (int64, error)
}

// Store is the full persistence surface of the service.
type Store interface {
	RuleStore
	WorkflowStore
	NotificationStore
	Ping(ctx context.Context) error
	Close() error
}
