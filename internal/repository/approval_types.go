package repository

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ── Enumerations ─────────────────────────────────────────────────────────────

// ExpenseType classifies spend as operational or capital expenditure.
type ExpenseType string

const (
	ExpenseTypeOPEX  ExpenseType = "OPEX"
	ExpenseTypeCAPEX ExpenseType = "CAPEX"
)

// Valid reports whether t is a known expense type.
func (t ExpenseType) Valid() bool {
	return t == ExpenseTypeOPEX || t == ExpenseTypeCAPEX
}

// ParseExpenseType normalises s into an ExpenseType.
func ParseExpenseType(s string) (ExpenseType, bool) {
	t := ExpenseType(strings.ToUpper(strings.TrimSpace(s)))
	return t, t.Valid()
}

// Wildcard is the literal administrators use for "matches anything".
const Wildcard = "Any"

// RequestStatus is the lifecycle state of a spend request.
type RequestStatus string

const (
	RequestStatusDraft      RequestStatus = "DRAFT"
	RequestStatusSubmitted  RequestStatus = "SUBMITTED"
	RequestStatusInApproval RequestStatus = "IN_APPROVAL"
	RequestStatusApproved   RequestStatus = "APPROVED"
	RequestStatusRejected   RequestStatus = "REJECTED"
)

// Terminal reports whether no further decisions can be taken.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusApproved || s == RequestStatusRejected
}

// StepStatus is the state of a single approval step.
type StepStatus string

const (
	StepStatusPending  StepStatus = "PENDING"
	StepStatusApproved StepStatus = "APPROVED"
	StepStatusRejected StepStatus = "REJECTED"
)

// StepSource records why a step is in the chain.
type StepSource string

const (
	StepSourceRule     StepSource = "RULE"
	StepSourceBaseline StepSource = "BASELINE"
)

// NotificationKind is the severity/intent of an in-app notification.
type NotificationKind string

const (
	NotificationInfo    NotificationKind = "INFO"
	NotificationSuccess NotificationKind = "SUCCESS"
	NotificationWarning NotificationKind = "WARNING"
	NotificationAction  NotificationKind = "ACTION"
)

// ── Domain types for approval routing ────────────────────────────────────────

// ApprovalRule is one row of the delegation-of-authority matrix.
type ApprovalRule struct {
	ID           string          `json:"id"`
	Seq          int64           `json:"seq"`                    // creation order; tie-break among equal thresholds
	Category     *string         `json:"category,omitempty"`     // nil = any category
	ExpenseType  *ExpenseType    `json:"expense_type,omitempty"` // nil = any expense type
	MinAmount    decimal.Decimal `json:"min_amount"`
	RequiredRole string          `json:"required_role"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// MatchesCategory reports whether the rule applies to category.
func (r *ApprovalRule) MatchesCategory(category string) bool {
	return r.Category == nil || *r.Category == Wildcard || *r.Category == category
}

// MatchesExpenseType reports whether the rule applies to t.
func (r *ApprovalRule) MatchesExpenseType(t ExpenseType) bool {
	return r.ExpenseType == nil || string(*r.ExpenseType) == Wildcard || *r.ExpenseType == t
}

// SpendRequest is a submitted spend authorization request.
type SpendRequest struct {
	ID                  string          `json:"id"`
	Title               string          `json:"title"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	Category            string          `json:"category"`
	ExpenseType         ExpenseType     `json:"expense_type"`
	Supplier            string          `json:"supplier"`
	Justification       string          `json:"justification"`
	DetailedDescription string          `json:"detailed_description"`
	IsBudgeted          bool            `json:"is_budgeted"`
	Status              RequestStatus   `json:"status"`
	SubmittedBy         string          `json:"submitted_by"`
	CompletedAt         *time.Time      `json:"completed_at,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
	Steps               []*ApprovalStep `json:"steps"`
}

// ActiveStep returns the pending step with the lowest order, or nil when the
// request is terminal or has no pending step.
func (r *SpendRequest) ActiveStep() *ApprovalStep {
	if r.Status.Terminal() {
		return nil
	}
	var active *ApprovalStep
	for _, s := range r.Steps {
		if s.Status != StepStatusPending {
			continue
		}
		if active == nil || s.Order < active.Order {
			active = s
		}
	}
	return active
}

// ApprovalStep is a single role approval within a request's chain.
type ApprovalStep struct {
	ID               string              `json:"id"`
	RequestID        string              `json:"request_id"`
	RoleName         string              `json:"role_name"`
	Order            int                 `json:"order"`
	Status           StepStatus          `json:"status"`
	Source           StepSource          `json:"source"`
	RuleID           *string             `json:"rule_id,omitempty"`
	RuleMinAmount    decimal.NullDecimal `json:"rule_min_amount"` // threshold snapshot of the producing rule
	DecisionDate     *time.Time          `json:"decision_date,omitempty"`
	ApproverIdentity *string             `json:"approver_identity,omitempty"`
	DecisionNotes    *string             `json:"decision_notes,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	UpdatedAt        time.Time           `json:"updated_at"`
}

// AuditEntry is one immutable record in the approval audit log.
type AuditEntry struct {
	ID           string                 `json:"id"`
	RequestID    string                 `json:"request_id"`
	StepID       *string                `json:"step_id,omitempty"`
	Action       string                 `json:"action"` // submitted | approved | rejected
	PerformedBy  string                 `json:"performed_by"`
	PerformedAt  time.Time              `json:"performed_at"`
	StatusBefore *RequestStatus         `json:"status_before,omitempty"`
	StatusAfter  *RequestStatus         `json:"status_after,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// Notification is an in-app inbox message.
type Notification struct {
	ID        string           `json:"id"`
	Recipient string           `json:"recipient"`
	Title     string           `json:"title"`
	Message   string           `json:"message"`
	Kind      NotificationKind `json:"kind"`
	IsRead    bool             `json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
}

// RequestFilter narrows ListRequests.
type RequestFilter struct {
	Status      *RequestStatus
	SubmittedBy *string
	Limit       int
	Offset      int
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// NormalizeWildcard maps "" and "Any" to nil.
func NormalizeWildcard(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" || strings.EqualFold(v, Wildcard) {
		return nil
	}
	return &v
}

// MoneyScale is the number of decimal places stored for amounts and
// thresholds (NUMERIC(18, 2)).
const MoneyScale = 2

// FitsMoneyScale reports whether d can be stored without rounding.
func FitsMoneyScale(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale))
}

// StatusPtr returns a pointer to s.
func StatusPtr(s RequestStatus) *RequestStatus { return &s }

// RoleContact is the resolved holder of an approval role.
type RoleContact struct {
	Role        string `json:"role" yaml:"role"`
	DisplayName string `json:"display_name" yaml:"name"`
	Email       string `json:"email" yaml:"email"`
}
