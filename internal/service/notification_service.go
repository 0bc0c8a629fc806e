package service

import (
	"context"
	"strings"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// InboxLimit caps how many unread notifications are returned at once.
const InboxLimit = 20

// NotificationService reads and acknowledges the in-app inbox.
type NotificationService struct {
	store repository.NotificationStore
}

// NewNotificationService creates a new NotificationService.
func NewNotificationService(store repository.NotificationStore) *NotificationService {
	return &NotificationService{store: store}
}

// Unread returns the newest unread notifications of recipient.
func (s *NotificationService) Unread(ctx context.Context, recipient string) ([]*repository.Notification, error) {
	if strings.TrimSpace(recipient) == "" {
		return nil, errors.InvalidInput("recipient", "recipient is required")
	}
	return s.store.UnreadNotifications(ctx, recipient, InboxLimit)
}

// MarkRead acknowledges a single notification.
func (s *NotificationService) MarkRead(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.InvalidInput("id", "notification id is required")
	}
	return s.store.MarkNotificationRead(ctx, id)
}

// MarkAllRead acknowledges every unread notification of recipient.
func (s *NotificationService) MarkAllRead(ctx context.Context, recipient string) (int64, error) {
	if strings.TrimSpace(recipient) == "" {
		return 0, errors.InvalidInput("recipient", "recipient is required")
	}
	return s.store.MarkAllNotificationsRead(ctx, recipient)
}
