package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
	"github.com/pesio-ai/be-spend-approvals/internal/logger"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
	"github.com/pesio-ai/be-spend-approvals/internal/service"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "test.db"), logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	version, err := store.Migrate(context.Background())
	require.NoError(t, err)
	require.Equal(t, len(migrations), version)
	return store
}

func ptr[T any](v T) *T { return &v }

func TestMigrate_Idempotent(t *testing.T) {
	store := createTestStore(t)
	version, err := store.Migrate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(migrations), version)
}

func TestRules_RoundTripAndOrder(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	opex := repository.ExpenseTypeOPEX
	require.NoError(t, store.ImportRules(ctx, []*repository.ApprovalRule{
		{ExpenseType: &opex, MinAmount: decimal.NewFromInt(20000), RequiredRole: "Head of Department", IsActive: true},
		{ExpenseType: &opex, MinAmount: decimal.NewFromInt(5000), RequiredRole: "Finance Manager", IsActive: true},
		{Category: ptr("IT"), MinAmount: decimal.NewFromInt(5000), RequiredRole: "IT Director", IsActive: true},
	}))

	rules, err := store.ListActiveRules(ctx)
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "Finance Manager", rules[0].RequiredRole)
	assert.Equal(t, "IT Director", rules[1].RequiredRole)
	assert.Equal(t, "Head of Department", rules[2].RequiredRole)
	assert.True(t, rules[0].MinAmount.Equal(decimal.NewFromInt(5000)))
	assert.Nil(t, rules[1].ExpenseType)
	require.NotNil(t, rules[1].Category)
	assert.Equal(t, "IT", *rules[1].Category)

	deactivated := rules[0].ID
	require.NoError(t, store.DeactivateRule(ctx, deactivated))
	rules, err = store.ListActiveRules(ctx)
	require.NoError(t, err)
	assert.Len(t, rules, 2)

	got, err := store.GetRule(ctx, deactivated)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	assert.Equal(t, "Finance Manager", got.RequiredRole)
	require.NotNil(t, got.ExpenseType)
	assert.Equal(t, repository.ExpenseTypeOPEX, *got.ExpenseType)
	assert.True(t, got.MinAmount.Equal(decimal.NewFromInt(5000)))

	_, err = store.GetRule(ctx, "missing")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	assert.True(t, errors.Is(store.DeactivateRule(ctx, "missing"), errors.ErrNotFound))
}

func TestWorkflow_ApproveUntilComplete(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	req := &repository.SpendRequest{
		Title:       "Server rack",
		Amount:      decimal.RequireFromString("15000.50"),
		Currency:    "USD",
		Category:    "IT",
		ExpenseType: repository.ExpenseTypeCAPEX,
		Status:      repository.RequestStatusSubmitted,
		SubmittedBy: "alice@cwit.lk",
		Steps: []*repository.ApprovalStep{
			{RoleName: "Asset Manager", Order: 1, Status: repository.StepStatusPending, Source: repository.StepSourceRule,
				RuleMinAmount: decimal.NewNullDecimal(decimal.NewFromInt(1000))},
			{RoleName: "Finance Director", Order: 2, Status: repository.StepStatusPending, Source: repository.StepSourceRule},
		},
	}
	require.NoError(t, store.InTransaction(ctx, func(tx repository.WorkflowTx) error {
		if err := tx.InsertRequest(ctx, req); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, &repository.AuditEntry{
			RequestID:   req.ID,
			Action:      "submitted",
			PerformedBy: req.SubmittedBy,
			StatusAfter: repository.StatusPtr(repository.RequestStatusSubmitted),
			Metadata:    map[string]interface{}{"steps": 2},
		})
	}))

	pending, err := store.ListPendingForRole(ctx, "Asset Manager")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Len(t, pending[0].Steps, 2)

	now := time.Now().UTC()
	require.NoError(t, store.InTransaction(ctx, func(tx repository.WorkflowTx) error {
		locked, err := tx.LockRequest(ctx, req.ID)
		require.NoError(t, err)
		step, err := tx.FirstPendingStep(ctx, req.ID)
		require.NoError(t, err)
		require.NotNil(t, step)
		assert.Equal(t, 1, step.Order)
		require.NoError(t, tx.DecideStep(ctx, step.ID, repository.StepStatusApproved, "am@cwit.lk", nil, now))
		n, err := tx.CountPendingSteps(ctx, req.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		return tx.TransitionRequest(ctx, req.ID, locked.Status, repository.RequestStatusInApproval, now)
	}))

	got, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusInApproval, got.Status)
	assert.True(t, got.Amount.Equal(decimal.RequireFromString("15000.50")))
	assert.Nil(t, got.CompletedAt)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, repository.StepStatusApproved, got.Steps[0].Status)
	require.NotNil(t, got.Steps[0].ApproverIdentity)
	assert.Equal(t, "am@cwit.lk", *got.Steps[0].ApproverIdentity)
	assert.True(t, got.Steps[0].RuleMinAmount.Valid)
	assert.False(t, got.Steps[1].RuleMinAmount.Valid)

	err = store.InTransaction(ctx, func(tx repository.WorkflowTx) error {
		return tx.DecideStep(ctx, got.Steps[0].ID, repository.StepStatusApproved, "other", nil, now)
	})
	assert.True(t, errors.Is(err, errors.ErrConcurrentConflict))

	require.NoError(t, store.InTransaction(ctx, func(tx repository.WorkflowTx) error {
		require.NoError(t, tx.DecideStep(ctx, got.Steps[1].ID, repository.StepStatusApproved, "fd@cwit.lk", nil, now))
		return tx.TransitionRequest(ctx, req.ID, repository.RequestStatusInApproval, repository.RequestStatusApproved, now)
	}))

	got, err = store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusApproved, got.Status)
	assert.NotNil(t, got.CompletedAt)

	audit, err := store.ListAudit(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, audit, 1)
	assert.Equal(t, "submitted", audit[0].Action)
	assert.EqualValues(t, 2, audit[0].Metadata["steps"])

	list, total, err := store.ListRequests(ctx, repository.RequestFilter{Status: repository.StatusPtr(repository.RequestStatusApproved)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Len(t, list, 1)
}

func TestWorkflow_ConcurrentApprovalsDecideEachStepOnce(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	rules := service.NewRuleService(store, logger.Nop())
	for _, in := range []service.RuleInput{
		{ExpenseType: "OPEX", MinAmount: "5000", RequiredRole: "Finance Manager"},
		{ExpenseType: "OPEX", MinAmount: "20000", RequiredRole: "Head of Department"},
	} {
		_, err := rules.CreateRule(ctx, in)
		require.NoError(t, err)
	}

	svc := service.NewApprovalRoutingService(
		store,
		service.NewChainBuilder(store, nil, logger.Nop()),
		service.NewDispatcher(nil, nil, logger.Nop()),
		logger.Nop(),
	)
	req, err := svc.Submit(ctx, service.SubmitInput{
		Title:       "Conference",
		Amount:      decimal.NewFromInt(21000),
		Currency:    "USD",
		Category:    "Events",
		ExpenseType: repository.ExpenseTypeOPEX,
	}, "alice@cwit.lk")
	require.NoError(t, err)
	require.Len(t, req.Steps, 3)

	const approvers = 20
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		ok     int
		others []error
	)
	for i := 0; i < approvers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApproveCurrentStep(ctx, req.ID, "approver@cwit.lk", nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				ok++
				return
			}
			others = append(others, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	for _, err := range others {
		assert.True(t,
			errors.Is(err, errors.ErrAlreadyResolved) || errors.Is(err, errors.ErrConcurrentConflict),
			"unexpected error: %v", err)
	}

	got, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, repository.RequestStatusApproved, got.Status)
	for _, step := range got.Steps {
		assert.Equal(t, repository.StepStatusApproved, step.Status)
	}

	history, err := svc.GetApprovalHistory(ctx, req.ID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestInTransaction_RollsBack(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	err := store.InTransaction(ctx, func(tx repository.WorkflowTx) error {
		require.NoError(t, tx.InsertRequest(ctx, &repository.SpendRequest{
			Title: "x", Amount: decimal.NewFromInt(1), Currency: "USD", Category: "IT",
			ExpenseType: repository.ExpenseTypeOPEX, Status: repository.RequestStatusSubmitted, SubmittedBy: "a",
		}))
		return errors.New(errors.ErrCodeInternal, "abort")
	})
	require.Error(t, err)

	_, total, err := store.ListRequests(ctx, repository.RequestFilter{})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	store := createTestStore(t)

	for _, title := range []string{"first", "second"} {
		require.NoError(t, store.CreateNotification(ctx, &repository.Notification{
			Recipient: "cfo@cwit.lk", Title: title, Message: "m", Kind: repository.NotificationAction,
		}))
	}

	unread, err := store.UnreadNotifications(ctx, "cfo@cwit.lk", 20)
	require.NoError(t, err)
	require.Len(t, unread, 2)
	assert.Equal(t, "second", unread[0].Title)
	assert.Equal(t, repository.NotificationAction, unread[0].Kind)

	require.NoError(t, store.MarkNotificationRead(ctx, unread[1].ID))
	n, err := store.MarkAllNotificationsRead(ctx, "cfo@cwit.lk")
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
