package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
	"github.com/pesio-ai/be-spend-approvals/internal/repository/memory"
)

func TestNotificationService_Inbox(t *testing.T) {
	store := memory.New()
	svc := NewNotificationService(store)
	ctx := context.Background()

	for i := 0; i < InboxLimit+5; i++ {
		require.NoError(t, store.CreateNotification(ctx, &repository.Notification{
			Recipient: "sulu.fin@cwit.lk",
			Title:     "Action Required: New Approval Request",
			Kind:      repository.NotificationAction,
		}))
	}
	require.NoError(t, store.CreateNotification(ctx, &repository.Notification{
		Recipient: "someone.else@cwit.lk",
		Title:     "Request Submitted",
		Kind:      repository.NotificationSuccess,
	}))

	unread, err := svc.Unread(ctx, "sulu.fin@cwit.lk")
	require.NoError(t, err)
	assert.Len(t, unread, InboxLimit)

	require.NoError(t, svc.MarkRead(ctx, unread[0].ID))
	assert.True(t, errors.Is(svc.MarkRead(ctx, "missing"), errors.ErrNotFound))

	n, err := svc.MarkAllRead(ctx, "sulu.fin@cwit.lk")
	require.NoError(t, err)
	assert.Equal(t, int64(InboxLimit+4), n)

	unread, err = svc.Unread(ctx, "sulu.fin@cwit.lk")
	require.NoError(t, err)
	assert.Empty(t, unread)

	other, err := svc.Unread(ctx, "someone.else@cwit.lk")
	require.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestNotificationService_RequiresRecipient(t *testing.T) {
	svc := NewNotificationService(memory.New())
	ctx := context.Background()

	_, err := svc.Unread(ctx, " ")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
	_, err = svc.MarkAllRead(ctx, "")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
	assert.True(t, errors.Is(svc.MarkRead(ctx, ""), errors.ErrInvalidInput))
}
