// Package notify defines the outbound notification boundary. Delivery
// itself is an external collaborator; the engine only hands a recipient,
// subject and rendered body over the broker.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"ledgerd/internal/amqp"
)

// Message is one rendered notification.
type Message struct {
	Recipient string
	Subject   string
	Body      string
}

// Notifier sends a rendered notification. Implementations must return an
// error on failure so callers can keep their notify-then-commit ordering.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}

// AMQPNotifier publishes notifications to the delivery queue, where an
// external mailer consumes them.
type AMQPNotifier struct {
	client *amqp.Client
}

func NewAMQPNotifier(client *amqp.Client) *AMQPNotifier {
	return &AMQPNotifier{client: client}
}

func (n *AMQPNotifier) Send(ctx context.Context, msg Message) error {
	if msg.Recipient == "" {
		return fmt.Errorf("empty recipient")
	}
	return n.client.PublishEmail(ctx, &amqp.EmailMessage{
		Recipient: msg.Recipient,
		Subject:   msg.Subject,
		Body:      msg.Body,
		Timestamp: time.Now(),
	})
}

// LogNotifier logs notifications instead of delivering them, for
// deployments without a broker.
type LogNotifier struct{}

func (LogNotifier) Send(ctx context.Context, msg Message) error {
	slog.InfoContext(ctx, "Notification (log only)",
		"recipient", msg.Recipient,
		"subject", msg.Subject,
		"body_length", len(msg.Body))
	return nil
}
