package repository

import (
	"context"

	"github.com/pesio-ai/be-spend-approvals/internal/errors"
)

// NotificationRepository stores in-app notifications.
type NotificationRepository struct {
	db querier
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db querier) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Create inserts a notification.
func (r *NotificationRepository) Create(ctx context.Context, n *Notification) error {
	query := `
		INSERT INTO notifications (recipient, title, message, kind)
		VALUES ($1, $2, $3, $4)
		RETURNING id, is_read, created_at
	`

	err := r.db.QueryRow(ctx, query, n.Recipient, n.Title, n.Message, string(n.Kind)).
		Scan(&n.ID, &n.IsRead, &n.CreatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create notification")
	}
	return nil
}

// Unread returns the newest unread notifications of a recipient.
func (r *NotificationRepository) Unread(ctx context.Context, recipient string, limit int) ([]*Notification, error) {
	query := `
		SELECT id, recipient, title, message, kind, is_read, created_at
		FROM notifications
		WHERE recipient = $1 AND is_read = FALSE
		ORDER BY created_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, recipient, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get notifications")
	}
	defer rows.Close()

	var out []*Notification
	for rows.Next() {
		n := &Notification{}
		var kind string
		if err := rows.Scan(&n.ID, &n.Recipient, &n.Title, &n.Message, &kind, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan notification")
		}
		n.Kind = NotificationKind(kind)
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to iterate notifications")
	}
	return out, nil
}

// MarkRead flags one notification as read.
func (r *NotificationRepository) MarkRead(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1`, id)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to mark notification read")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("notification", id)
	}
	return nil
}

// MarkAllRead flags every unread notification of a recipient as read.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, recipient string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`UPDATE notifications SET is_read = TRUE WHERE recipient = $1 AND is_read = FALSE`,
		recipient,
	)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to mark notifications read")
	}
	return tag.RowsAffected(), nil
}
