package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// workflowTx operates on the store with its lock already held.
type workflowTx struct {
	s *Store
}

func (t *workflowTx) InsertRequest(_ context.Context, req *repository.SpendRequest) error {
	now := t.s.now()
	req.ID = uuid.NewString()
	req.CreatedAt = now
	req.UpdatedAt = now
	for _, step := range req.Steps {
		step.ID = uuid.NewString()
		step.RequestID = req.ID
		step.CreatedAt = now
		step.UpdatedAt = now
	}
	t.s.requests[req.ID] = cloneRequest(req)
	t.s.requestOrder = append(t.s.requestOrder, req.ID)
	return nil
}

func (t *workflowTx) LockRequest(_ context.Context, id string) (*repository.SpendRequest, error) {
	r, ok := t.s.requests[id]
	if !ok {
		return nil, errors.NotFound("spend_request", id)
	}
	c := cloneRequest(r)
	c.Steps = nil
	return c, nil
}

func (t *workflowTx) FirstPendingStep(_ context.Context, requestID string) (*repository.ApprovalStep, error) {
	r, ok := t.s.requests[requestID]
	if !ok {
		return nil, errors.NotFound("spend_request", requestID)
	}
	var first *repository.ApprovalStep
	for _, st := range r.Steps {
		if st.Status == repository.StepStatusPending && (first == nil || st.Order < first.Order) {
			first = st
		}
	}
	if first == nil {
		return nil, nil
	}
	c := *first
	return &c, nil
}

func (t *workflowTx) DecideStep(
	_ context.Context,
	stepID string,
	status repository.StepStatus,
	actor string,
	notes *string,
	at time.Time,
) error {
	step := t.findStep(stepID)
	if step == nil || step.Status != repository.StepStatusPending {
		return errors.ConcurrentConflict("approval_step", stepID)
	}
	step.Status = status
	step.ApproverIdentity = &actor
	step.DecisionNotes = notes
	step.DecisionDate = &at
	step.UpdatedAt = at
	return nil
}

func (t *workflowTx) CountPendingSteps(_ context.Context, requestID string) (int, error) {
	r, ok := t.s.requests[requestID]
	if !ok {
		return 0, errors.NotFound("spend_request", requestID)
	}
	n := 0
	for _, st := range r.Steps {
		if st.Status == repository.StepStatusPending {
			n++
		}
	}
	return n, nil
}

func (t *workflowTx) TransitionRequest(_ context.Context, id string, from, to repository.RequestStatus, at time.Time) error {
	r, ok := t.s.requests[id]
	if !ok || r.Status != from {
		return errors.ConcurrentConflict("spend_request", id)
	}
	r.Status = to
	r.UpdatedAt = at
	if to.Terminal() {
		r.CompletedAt = &at
	}
	return nil
}

func (t *workflowTx) AppendAudit(_ context.Context, entry *repository.AuditEntry) error {
	entry.ID = uuid.NewString()
	entry.PerformedAt = t.s.now()
	c := *entry
	t.s.audit = append(t.s.audit, &c)
	return nil
}

func (t *workflowTx) findStep(id string) *repository.ApprovalStep {
	for _, r := range t.s.requests {
		for _, st := range r.Steps {
			if st.ID == id {
				return st
			}
		}
	}
	return nil
}
