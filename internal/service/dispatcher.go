package service

import (
	"context"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
	"github.com/pesio-ai/be-spend-approvals/internal/logger"
	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// Notifier delivers a notification to its recipient.
type Notifier interface {
	Notify(ctx context.Context, n *repository.Notification) error
}

// RoleDirectory resolves the holder of an approval role. It must always
// return a usable contact.
type RoleDirectory interface {
	Lookup(ctx context.Context, role string) repository.RoleContact
}

// Dispatcher sends workflow notifications. Delivery is best effort: failures
// are logged and never returned, so they cannot affect workflow state.
type Dispatcher struct {
	notifier  Notifier
	directory RoleDirectory
	log       *logger.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(notifier Notifier, directory RoleDirectory, log *logger.Logger) *Dispatcher {
	return &Dispatcher{notifier: notifier, directory: directory, log: log}
}

// Contact resolves role through the directory.
func (d *Dispatcher) Contact(ctx context.Context, role string) repository.RoleContact {
	return d.directory.Lookup(ctx, role)
}

// NotifyRole sends a notification to the current holder of role.
func (d *Dispatcher) NotifyRole(ctx context.Context, role, title, message string, kind repository.NotificationKind) {
	if d == nil || d.notifier == nil {
		return
	}
	d.Notify(ctx, d.Contact(ctx, role).Email, title, message, kind)
}

// Notify sends a notification to recipient.
func (d *Dispatcher) Notify(ctx context.Context, recipient, title, message string, kind repository.NotificationKind) {
	if d == nil || d.notifier == nil {
		return
	}
	err := d.notifier.Notify(ctx, &repository.Notification{
		Recipient: recipient,
		Title:     title,
		Message:   message,
		Kind:      kind,
	})
	if err != nil {
		d.log.Warn().Err(err).
			Str("code", string(errors.ErrCodeDispatchFailure)).
			Str("recipient", recipient).
			Str("title", title).
			Msg("Failed to dispatch notification")
	}
}
