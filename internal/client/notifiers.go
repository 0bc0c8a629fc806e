package client

import (
	"context"
	stderrors "errors"

	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// Notifier delivers one notification.
type Notifier interface {
	Notify(ctx context.Context, n *repository.Notification) error
}

// InboxNotifier stores notifications in the in-app inbox.
type InboxNotifier struct {
	store repository.NotificationStore
}

// NewInboxNotifier creates an InboxNotifier.
func NewInboxNotifier(store repository.NotificationStore) *InboxNotifier {
	return &InboxNotifier{store: store}
}

func (n *InboxNotifier) Notify(ctx context.Context, notification *repository.Notification) error {
	return n.store.CreateNotification(ctx, notification)
}

// MultiNotifier fans a notification out to every sink. Every sink is tried;
// the returned error joins the individual failures.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, n *repository.Notification) error {
	var errs []error
	for _, sink := range m {
		c := *n
		if err := sink.Notify(ctx, &c); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}
