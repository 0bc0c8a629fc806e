package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/pesio-ai/be-spend-approvals/internal/repository"
)

// Publisher is the subset of *nats.Conn used for publishing.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NotificationPublisher publishes spend approval notifications to NATS for
// consumption by downstream delivery services (email, push).
//
// Subject convention: <prefix>.<kind>, e.g. notifications.spend.action
type NotificationPublisher struct {
	conn   Publisher
	prefix string
	log    zerolog.Logger
}

// NotificationEvent is the JSON schema published to NATS.
type NotificationEvent struct {
	EventType   string    `json:"event_type"`
	Recipient   string    `json:"recipient"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Severity    string    `json:"severity"`
	Category    string    `json:"category"`
	PublishedAt time.Time `json:"published_at"`
}

// ConnectNATS dials the NATS server and keeps reconnecting forever.
func ConnectNATS(url, clientName string, wait time.Duration) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.Name(clientName),
		nats.Timeout(wait),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
}

// NewNotificationPublisher creates a publisher backed by conn.
func NewNotificationPublisher(conn Publisher, prefix string, log zerolog.Logger) *NotificationPublisher {
	if prefix == "" {
		prefix = "notifications.spend"
	}
	return &NotificationPublisher{conn: conn, prefix: prefix, log: log}
}

// Subject returns the subject a notification of kind is published on.
func (p *NotificationPublisher) Subject(kind repository.NotificationKind) string {
	return fmt.Sprintf("%s.%s", p.prefix, strings.ToLower(string(kind)))
}

// Notify publishes n as a NotificationEvent.
func (p *NotificationPublisher) Notify(_ context.Context, n *repository.Notification) error {
	event := &NotificationEvent{
		EventType:   "spend_approval",
		Recipient:   n.Recipient,
		Title:       n.Title,
		Message:     n.Message,
		Severity:    strings.ToLower(string(n.Kind)),
		Category:    "spend_approval",
		PublishedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal notification event: %w", err)
	}

	subject := p.Subject(n.Kind)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}

	p.log.Debug().
		Str("subject", subject).
		Str("recipient", n.Recipient).
		Msg("Published notification event")
	return nil
}
