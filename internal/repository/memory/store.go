// Package memory provides an in-process implementation of repository.Store.
// It backs local runs (DB_DRIVER=memory) and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// Store keeps every record in maps guarded by a single mutex. A workflow
// transaction holds the mutex from start to commit, so transactions on the
// store are fully serialized.
type Store struct {
	mu sync.Mutex

	rules   map[string]*repository.ApprovalRule
	ruleSeq int64

	requests     map[string]*repository.SpendRequest
	requestOrder []string

	audit         []*repository.AuditEntry
	notifications []*repository.Notification

	now func() time.Time
}

// Option customises a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		rules:    make(map[string]*repository.ApprovalRule),
		requests: make(map[string]*repository.SpendRequest),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

/* ---------------- rules ----------------------------------------------- */

func (s *Store) ListActiveRules(ctx context.Context) ([]*repository.ApprovalRule, error) {
	return s.ListRules(ctx, true)
}

func (s *Store) CreateRule(_ context.Context, rule *repository.ApprovalRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insertRule(rule)
	return nil
}

func (s *Store) ImportRules(_ context.Context, rules []*repository.ApprovalRule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rule := range rules {
		s.insertRule(rule)
	}
	return nil
}

func (s *Store) insertRule(rule *repository.ApprovalRule) {
	s.ruleSeq++
	now := s.now()
	rule.ID = uuid.NewString()
	rule.Seq = s.ruleSeq
	rule.CreatedAt = now
	rule.UpdatedAt = now
	stored := *rule
	s.rules[rule.ID] = &stored
}

func (s *Store) ListRules(_ context.Context, activeOnly bool) ([]*repository.ApprovalRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*repository.ApprovalRule, 0, len(s.rules))
	for _, r := range s.rules {
		if activeOnly && !r.IsActive {
			continue
		}
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].MinAmount.Cmp(out[j].MinAmount); c != 0 {
			return c < 0
		}
		return out[i].Seq < out[j].Seq
	})
	return out, nil
}

func (s *Store) GetRule(_ context.Context, id string) (*repository.ApprovalRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return nil, errors.NotFound("approval_rule", id)
	}
	c := *r
	return &c, nil
}

func (s *Store) DeactivateRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rules[id]
	if !ok {
		return errors.NotFound("approval_rule", id)
	}
	r.IsActive = false
	r.UpdatedAt = s.now()
	return nil
}

/* ---------------- workflows ------------------------------------------- */

// InTransaction runs fn while holding the store lock. When fn fails every
// request and audit write made through tx is discarded.
func (s *Store) InTransaction(ctx context.Context, fn func(tx repository.WorkflowTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshot()
	if err := fn(&workflowTx{s: s}); err != nil {
		s.restore(snapshot)
		return err
	}
	return nil
}

type state struct {
	requests     map[string]*repository.SpendRequest
	requestOrder []string
	auditLen     int
}

func (s *Store) snapshot() state {
	requests := make(map[string]*repository.SpendRequest, len(s.requests))
	for id, r := range s.requests {
		requests[id] = cloneRequest(r)
	}
	return state{
		requests:     requests,
		requestOrder: append([]string(nil), s.requestOrder...),
		auditLen:     len(s.audit),
	}
}

func (s *Store) restore(st state) {
	s.requests = st.requests
	s.requestOrder = st.requestOrder
	s.audit = s.audit[:st.auditLen]
}

func (s *Store) GetRequest(_ context.Context, id string) (*repository.SpendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.requests[id]
	if !ok {
		return nil, errors.NotFound("spend_request", id)
	}
	return cloneRequest(r), nil
}

func (s *Store) ListRequests(_ context.Context, filter repository.RequestFilter) ([]*repository.SpendRequest, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*repository.SpendRequest
	for i := len(s.requestOrder) - 1; i >= 0; i-- {
		r := s.requests[s.requestOrder[i]]
		if filter.Status != nil && r.Status != *filter.Status {
			continue
		}
		if filter.SubmittedBy != nil && r.SubmittedBy != *filter.SubmittedBy {
			continue
		}
		matched = append(matched, r)
	}

	total := int64(len(matched))
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	if filter.Offset >= len(matched) {
		return nil, total, nil
	}
	matched = matched[filter.Offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}

	out := make([]*repository.SpendRequest, len(matched))
	for i, r := range matched {
		out[i] = cloneRequest(r)
		out[i].Steps = nil
	}
	return out, total, nil
}

func (s *Store) ListPendingForRole(_ context.Context, role string) ([]*repository.SpendRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*repository.SpendRequest
	for _, id := range s.requestOrder {
		r := s.requests[id]
		if active := r.ActiveStep(); active != nil && active.RoleName == role {
			out = append(out, cloneRequest(r))
		}
	}
	return out, nil
}

func (s *Store) ListAudit(_ context.Context, requestID string) ([]*repository.AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*repository.AuditEntry
	for _, e := range s.audit {
		if e.RequestID == requestID {
			c := *e
			out = append(out, &c)
		}
	}
	return out, nil
}

/* ---------------- notifications --------------------------------------- */

func (s *Store) CreateNotification(_ context.Context, n *repository.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = uuid.NewString()
	n.IsRead = false
	n.CreatedAt = s.now()
	stored := *n
	s.notifications = append(s.notifications, &stored)
	return nil
}

func (s *Store) UnreadNotifications(_ context.Context, recipient string, limit int) ([]*repository.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*repository.Notification
	for i := len(s.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		n := s.notifications[i]
		if n.Recipient == recipient && !n.IsRead {
			c := *n
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range s.notifications {
		if n.ID == id {
			n.IsRead = true
			return nil
		}
	}
	return errors.NotFound("notification", id)
}

func (s *Store) MarkAllNotificationsRead(_ context.Context, recipient string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, item := range s.notifications {
		if item.Recipient == recipient && !item.IsRead {
			item.IsRead = true
			n++
		}
	}
	return n, nil
}

/* ---------------- helpers --------------------------------------------- */

func cloneRequest(r *repository.SpendRequest) *repository.SpendRequest {
	c := *r
	c.Steps = make([]*repository.ApprovalStep, len(r.Steps))
	for i, st := range r.Steps {
		sc := *st
		c.Steps[i] = &sc
	}
	return &c
}

var _ repository.Store = (*Store)(nil)
