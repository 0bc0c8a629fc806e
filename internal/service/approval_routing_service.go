package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
	"github.com/pesio-ai/be-spend-approvals/internal/logger"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
	"github.com/pesio-ai/be-spend-approvals/internal/tracing"
)

// Audit actions.
const (
	ActionSubmitted = "submitted"
	ActionApproved  = "approved"
	ActionRejected  = "rejected"
)

// SubmitInput carries the attributes of a new spend request.
type SubmitInput struct {
	Title               string
	Amount              decimal.Decimal
	Currency            string
	Category            string
	ExpenseType         repository.ExpenseType
	Supplier            string
	Justification       string
	DetailedDescription string
	IsBudgeted          bool
}

// Decision describes the outcome of an approve or reject action.
type Decision struct {
	RequestID     string                   `json:"request_id"`
	StepID        string                   `json:"step_id"`
	StepOrder     int                      `json:"step_order"`
	RoleName      string                   `json:"role_name"`
	StepStatus    repository.StepStatus    `json:"step_status"`
	RequestStatus repository.RequestStatus `json:"request_status"`
	NextRole      *string                  `json:"next_role,omitempty"`
	DecidedAt     time.Time                `json:"decided_at"`
}

// Completed reports whether the decision closed the request.
func (d *Decision) Completed() bool { return d.RequestStatus.Terminal() }

// ApprovalRoutingService runs the spend request workflow: it builds the
// approval chain at submission and advances the request one step per decision.
type ApprovalRoutingService struct {
	store      repository.WorkflowStore
	chains     *ChainBuilder
	dispatcher *Dispatcher
	log        *logger.Logger
	now        func() time.Time
}

// NewApprovalRoutingService creates a new ApprovalRoutingService.
func NewApprovalRoutingService(
	store repository.WorkflowStore,
	chains *ChainBuilder,
	dispatcher *Dispatcher,
	log *logger.Logger,
) *ApprovalRoutingService {
	return &ApprovalRoutingService{
		store:      store,
		chains:     chains,
		dispatcher: dispatcher,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// ── Submit ────────────────────────────────────────────────────────────────────

// Submit validates in, builds its approval chain and persists the request with
// every step in one transaction. The first approver and the submitter are
// notified after commit. A request whose chain is empty is approved at once.
func (s *ApprovalRoutingService) Submit(ctx context.Context, in SubmitInput, submittedBy string) (req *repository.SpendRequest, err error) {
	ctx, span := tracing.StartSpan(ctx, "approval.submit", map[string]string{
		"category":     in.Category,
		"expense_type": string(in.ExpenseType),
	})
	defer func() { tracing.EndSpan(span, err) }()

	in, err = normalizeSubmit(in, submittedBy)
	if err != nil {
		return nil, err
	}

	chain := s.chains.Build(ctx, in.Amount, in.Category, in.ExpenseType)

	req = &repository.SpendRequest{
		Title:               in.Title,
		Amount:              in.Amount,
		Currency:            in.Currency,
		Category:            in.Category,
		ExpenseType:         in.ExpenseType,
		Supplier:            in.Supplier,
		Justification:       in.Justification,
		DetailedDescription: in.DetailedDescription,
		IsBudgeted:          in.IsBudgeted,
		Status:              repository.RequestStatusSubmitted,
		SubmittedBy:         strings.TrimSpace(submittedBy),
	}
	for _, cs := range chain.Steps {
		req.Steps = append(req.Steps, &repository.ApprovalStep{
			RoleName:      cs.RoleName,
			Order:         cs.Order,
			Status:        repository.StepStatusPending,
			Source:        cs.Source,
			RuleID:        cs.RuleID,
			RuleMinAmount: cs.RuleMinAmount,
		})
	}
	if len(req.Steps) == 0 {
		now := s.now()
		req.Status = repository.RequestStatusApproved
		req.CompletedAt = &now
	}

	err = s.store.InTransaction(ctx, func(tx repository.WorkflowTx) error {
		if err := tx.InsertRequest(ctx, req); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &repository.AuditEntry{
			RequestID:   req.ID,
			Action:      ActionSubmitted,
			PerformedBy: req.SubmittedBy,
			StatusAfter: repository.StatusPtr(req.Status),
			Metadata: map[string]interface{}{
				"amount":            req.Amount.String(),
				"currency":          req.Currency,
				"steps":             len(req.Steps),
				"rules_unavailable": chain.RulesUnavailable,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", req.ID).
		Str("expense_type", string(req.ExpenseType)).
		Str("amount", req.Amount.String()).
		Int("total_steps", len(req.Steps)).
		Str("status", string(req.Status)).
		Msg("Spend request submitted")

	s.notifySubmitted(ctx, req)
	return req, nil
}

func normalizeSubmit(in SubmitInput, submittedBy string) (SubmitInput, error) {
	in.Title = strings.TrimSpace(in.Title)
	in.Category = strings.TrimSpace(in.Category)
	in.Currency = strings.ToUpper(strings.TrimSpace(in.Currency))
	in.Supplier = strings.TrimSpace(in.Supplier)

	switch {
	case in.Title == "":
		return in, errors.InvalidInput("title", "title is required")
	case !in.Amount.IsPositive():
		return in, errors.InvalidInput("amount", "amount must be greater than zero")
	case !repository.FitsMoneyScale(in.Amount):
		return in, errors.InvalidInput("amount", "amount must have at most 2 decimal places")
	case len(in.Currency) != 3:
		return in, errors.InvalidInput("currency", "currency must be a 3-letter ISO code")
	case in.Category == "":
		return in, errors.InvalidInput("category", "category is required")
	case !in.ExpenseType.Valid():
		return in, errors.InvalidInput("expense_type", "expense type must be OPEX or CAPEX")
	case strings.TrimSpace(submittedBy) == "":
		return in, errors.InvalidInput("submitted_by", "submitter is required")
	}
	return in, nil
}

// ── Approve ───────────────────────────────────────────────────────────────────

// ApproveCurrentStep approves the earliest pending step of a request. When it
// was the last pending step the request becomes APPROVED; otherwise it is
// IN_APPROVAL. Fails with NotFound for unknown ids and AlreadyResolved when
// the request has nothing left to decide.
func (s *ApprovalRoutingService) ApproveCurrentStep(
	ctx context.Context,
	requestID, actor string,
	notes *string,
) (d *Decision, err error) {
	ctx, span := tracing.StartSpan(ctx, "approval.approve", map[string]string{"request_id": requestID})
	defer func() { tracing.EndSpan(span, err) }()

	if strings.TrimSpace(actor) == "" {
		return nil, errors.InvalidInput("actor", "approver identity is required")
	}

	var req *repository.SpendRequest
	err = s.store.InTransaction(ctx, func(tx repository.WorkflowTx) error {
		var err error
		req, d, err = s.decide(ctx, tx, requestID, actor, notes, repository.StepStatusApproved)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", requestID).
		Int("step_order", d.StepOrder).
		Str("role", d.RoleName).
		Str("actor", actor).
		Str("request_status", string(d.RequestStatus)).
		Msg("Approval step approved")

	s.notifyApproved(ctx, req, d)
	return d, nil
}

// ── Reject ────────────────────────────────────────────────────────────────────

// RejectCurrentStep rejects the earliest pending step and with it the whole
// request. Later steps stay PENDING but can no longer be acted on.
func (s *ApprovalRoutingService) RejectCurrentStep(
	ctx context.Context,
	requestID, actor, reason string,
) (d *Decision, err error) {
	ctx, span := tracing.StartSpan(ctx, "approval.reject", map[string]string{"request_id": requestID})
	defer func() { tracing.EndSpan(span, err) }()

	if strings.TrimSpace(actor) == "" {
		return nil, errors.InvalidInput("actor", "approver identity is required")
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, errors.InvalidInput("reason", "rejection reason is required")
	}

	var req *repository.SpendRequest
	err = s.store.InTransaction(ctx, func(tx repository.WorkflowTx) error {
		var err error
		req, d, err = s.decide(ctx, tx, requestID, actor, &reason, repository.StepStatusRejected)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("request_id", requestID).
		Int("step_order", d.StepOrder).
		Str("role", d.RoleName).
		Str("actor", actor).
		Msg("Spend request rejected")

	s.notifyRejected(ctx, req, d, reason)
	return d, nil
}

// decide applies one decision on the active step inside tx. Every write is
// conditional, so a lost race surfaces as ConcurrentConflict and rolls back.
func (s *ApprovalRoutingService) decide(
	ctx context.Context,
	tx repository.WorkflowTx,
	requestID, actor string,
	notes *string,
	outcome repository.StepStatus,
) (*repository.SpendRequest, *Decision, error) {
	req, err := tx.LockRequest(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if req.Status.Terminal() {
		return nil, nil, errors.AlreadyResolved(requestID)
	}

	step, err := tx.FirstPendingStep(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if step == nil {
		return nil, nil, errors.AlreadyResolved(requestID)
	}

	now := s.now()
	if err := tx.DecideStep(ctx, step.ID, outcome, actor, notes, now); err != nil {
		return nil, nil, err
	}

	d := &Decision{
		RequestID:  requestID,
		StepID:     step.ID,
		StepOrder:  step.Order,
		RoleName:   step.RoleName,
		StepStatus: outcome,
		DecidedAt:  now,
	}

	next := repository.RequestStatusRejected
	if outcome == repository.StepStatusApproved {
		remaining, err := tx.CountPendingSteps(ctx, requestID)
		if err != nil {
			return nil, nil, err
		}
		next = repository.RequestStatusInApproval
		if remaining == 0 {
			next = repository.RequestStatusApproved
		} else {
			following, err := tx.FirstPendingStep(ctx, requestID)
			if err != nil {
				return nil, nil, err
			}
			if following != nil {
				d.NextRole = &following.RoleName
			}
		}
	}

	if next != req.Status {
		if err := tx.TransitionRequest(ctx, requestID, req.Status, next, now); err != nil {
			return nil, nil, err
		}
	}
	d.RequestStatus = next

	metadata := map[string]interface{}{
		"step_order": step.Order,
		"role":       step.RoleName,
	}
	if notes != nil {
		metadata["notes"] = *notes
	}
	action := ActionApproved
	if outcome == repository.StepStatusRejected {
		action = ActionRejected
	}
	if err := tx.AppendAudit(ctx, &repository.AuditEntry{
		RequestID:    requestID,
		StepID:       &step.ID,
		Action:       action,
		PerformedBy:  actor,
		StatusBefore: repository.StatusPtr(req.Status),
		StatusAfter:  repository.StatusPtr(next),
		Metadata:     metadata,
	}); err != nil {
		return nil, nil, err
	}

	req.Status = next
	return req, d, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetRequest returns a request with its ordered steps.
func (s *ApprovalRoutingService) GetRequest(ctx context.Context, id string) (*repository.SpendRequest, error) {
	return s.store.GetRequest(ctx, id)
}

// ListRequests returns a page of requests, newest first, and the total match count.
func (s *ApprovalRoutingService) ListRequests(ctx context.Context, filter repository.RequestFilter) ([]*repository.SpendRequest, int64, error) {
	if filter.Limit > 200 {
		filter.Limit = 200
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.store.ListRequests(ctx, filter)
}

// GetPendingForRole returns open requests currently waiting on role.
func (s *ApprovalRoutingService) GetPendingForRole(ctx context.Context, role string) ([]*repository.SpendRequest, error) {
	if strings.TrimSpace(role) == "" {
		return nil, errors.InvalidInput("role", "role is required")
	}
	return s.store.ListPendingForRole(ctx, role)
}

// GetApprovalHistory returns the audit trail of a request, oldest first.
func (s *ApprovalRoutingService) GetApprovalHistory(ctx context.Context, requestID string) ([]*repository.AuditEntry, error) {
	if _, err := s.store.GetRequest(ctx, requestID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, requestID)
}

// PreviewChain computes the chain a request with these attributes would get,
// without persisting anything.
func (s *ApprovalRoutingService) PreviewChain(
	ctx context.Context,
	amount decimal.Decimal,
	category string,
	expenseType repository.ExpenseType,
) (*Chain, error) {
	if amount.IsNegative() {
		return nil, errors.InvalidInput("amount", "amount must not be negative")
	}
	if !expenseType.Valid() {
		return nil, errors.InvalidInput("expense_type", "expense type must be OPEX or CAPEX")
	}
	return s.chains.Build(ctx, amount, strings.TrimSpace(category), expenseType), nil
}

// ── Notifications ─────────────────────────────────────────────────────────────

func (s *ApprovalRoutingService) notifySubmitted(ctx context.Context, req *repository.SpendRequest) {
	first := req.ActiveStep()
	if first == nil {
		s.dispatcher.Notify(ctx, req.SubmittedBy,
			"Request Approved",
			fmt.Sprintf("Your request %q required no further approval and has been approved.", req.Title),
			repository.NotificationSuccess)
		return
	}

	s.dispatcher.NotifyRole(ctx, first.RoleName,
		"Action Required: New Approval Request",
		fmt.Sprintf("You have a new request pending approval: %q from %s. Amount: %s %s.",
			req.Title, req.SubmittedBy, req.Currency, req.Amount.String()),
		repository.NotificationAction)

	s.dispatcher.Notify(ctx, req.SubmittedBy,
		"Request Submitted",
		fmt.Sprintf("Your request %q has been successfully submitted and is awaiting approval from %s.",
			req.Title, first.RoleName),
		repository.NotificationSuccess)
}

func (s *ApprovalRoutingService) notifyApproved(ctx context.Context, req *repository.SpendRequest, d *Decision) {
	if d.Completed() {
		s.dispatcher.Notify(ctx, req.SubmittedBy,
			"Request Approved",
			fmt.Sprintf("Your request %q has been fully approved.", req.Title),
			repository.NotificationSuccess)
		return
	}
	if d.NextRole == nil {
		return
	}

	s.dispatcher.NotifyRole(ctx, *d.NextRole,
		"Action Required: New Approval Request",
		fmt.Sprintf("You have a new request pending approval: %q from %s. Amount: %s %s.",
			req.Title, req.SubmittedBy, req.Currency, req.Amount.String()),
		repository.NotificationAction)

	s.dispatcher.Notify(ctx, req.SubmittedBy,
		"Approval Progress",
		fmt.Sprintf("Your request %q was approved by %s and is now awaiting approval from %s.",
			req.Title, d.RoleName, *d.NextRole),
		repository.NotificationInfo)
}

func (s *ApprovalRoutingService) notifyRejected(ctx context.Context, req *repository.SpendRequest, d *Decision, reason string) {
	s.dispatcher.Notify(ctx, req.SubmittedBy,
		"Request Rejected",
		fmt.Sprintf("Your request %q was rejected by %s. Reason: %s", req.Title, d.RoleName, reason),
		repository.NotificationWarning)
}
