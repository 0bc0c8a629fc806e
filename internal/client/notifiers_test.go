package client

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-spend-approvals/internal/repository"
	"github.com/pesio-ai/be-spend-approvals/internal/repository/memory"
)

type capturePublisher struct {
	subjects []string
	payloads [][]byte
	err      error
}

func (c *capturePublisher) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.subjects = append(c.subjects, subject)
	c.payloads = append(c.payloads, data)
	return nil
}

func TestNotificationPublisher_SubjectAndPayload(t *testing.T) {
	conn := &capturePublisher{}
	pub := NewNotificationPublisher(conn, "", zerolog.Nop())

	err := pub.Notify(context.Background(), &repository.Notification{
		Recipient: "jean.cfo@cwit.lk",
		Title:     "Action Required: New Approval Request",
		Message:   "m",
		Kind:      repository.NotificationAction,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"notifications.spend.action"}, conn.subjects)

	var event NotificationEvent
	require.NoError(t, json.Unmarshal(conn.payloads[0], &event))
	assert.Equal(t, "jean.cfo@cwit.lk", event.Recipient)
	assert.Equal(t, "action", event.Severity)
	assert.Equal(t, "spend_approval", event.Category)
}

func TestNotificationPublisher_PublishError(t *testing.T) {
	pub := NewNotificationPublisher(&capturePublisher{err: stderrors.New("nats: connection closed")}, "x", zerolog.Nop())
	err := pub.Notify(context.Background(), &repository.Notification{Kind: repository.NotificationInfo})
	assert.ErrorContains(t, err, "x.info")
}

func TestMultiNotifier_TriesEverySink(t *testing.T) {
	store := memory.New()
	failing := NewNotificationPublisher(&capturePublisher{err: stderrors.New("down")}, "", zerolog.Nop())
	multi := MultiNotifier{failing, NewInboxNotifier(store)}

	err := multi.Notify(context.Background(), &repository.Notification{
		Recipient: "sulu.fin@cwit.lk", Title: "Request Submitted", Kind: repository.NotificationSuccess,
	})
	assert.Error(t, err)

	unread, err := store.UnreadNotifications(context.Background(), "sulu.fin@cwit.lk", 20)
	require.NoError(t, err)
	assert.Len(t, unread, 1)
}
