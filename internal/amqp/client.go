// Package amqp connects the engine to its message broker: inbound
// process-one-transaction events and outbound rendered notifications.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"ledgerd/internal/core"
)

type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	eventQueue   string
	notifyQueue  string
}

func NewClient(url, exchangeName, eventQueue, notifyQueue string) (*Client, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		eventQueue:   eventQueue,
		notifyQueue:  notifyQueue,
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queues: %w", err)
	}

	return client, nil
}

func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	for _, queue := range []string{c.eventQueue, c.notifyQueue} {
		_, err = c.channel.QueueDeclare(
			queue, // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", queue, err)
		}

		// Routing key matches the queue name on the direct exchange.
		err = c.channel.QueueBind(queue, queue, c.exchangeName, false, nil)
		if err != nil {
			return fmt.Errorf("bind queue %s: %w", queue, err)
		}
	}

	return nil
}

func (c *Client) publish(ctx context.Context, routingKey string, body []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		routingKey,     // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// PublishProcessEvent publishes an on-demand processing trigger for one
// recurring transaction. The payload is validated before it leaves.
func (c *Client) PublishProcessEvent(ctx context.Context, ev *ProcessTransactionEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	body, err := ev.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := c.publish(ctx, c.eventQueue, body); err != nil {
		return fmt.Errorf("publish process event: %w", err)
	}

	slog.InfoContext(ctx, "Published process-transaction event",
		"transaction_id", ev.TransactionID,
		"user_id", ev.UserID,
		"queue", c.eventQueue)

	return nil
}

// PublishEmail publishes a rendered notification for the external mailer.
func (c *Client) PublishEmail(ctx context.Context, msg *EmailMessage) error {
	body, err := msg.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal email message: %w", err)
	}

	if err := c.publish(ctx, c.notifyQueue, body); err != nil {
		return fmt.Errorf("publish email message: %w", err)
	}

	slog.InfoContext(ctx, "Published notification email",
		"recipient", msg.Recipient,
		"subject", msg.Subject,
		"queue", c.notifyQueue)

	return nil
}

// ConsumeProcessEvents consumes process-transaction events until the
// context is cancelled. Malformed or invalid payloads are rejected
// without requeue; handler failures are requeued for another attempt,
// which stays safe because processing is idempotent per due cycle.
func (c *Client) ConsumeProcessEvents(ctx context.Context, handler func(context.Context, *ProcessTransactionEvent) error) error {
	msgs, err := c.channel.Consume(
		c.eventQueue, // queue
		"",           // consumer
		false,        // auto-ack (we want manual ack)
		false,        // exclusive
		false,        // no-local
		false,        // no-wait
		nil,          // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	slog.InfoContext(ctx, "Started consuming process-transaction events", "queue", c.eventQueue)

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Stopping event consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return fmt.Errorf("message channel closed")
			}

			ev, err := ProcessTransactionEventFromJSON(delivery.Body)
			if err != nil {
				slog.ErrorContext(ctx, "Failed to unmarshal event", "error", err)
				delivery.Nack(false, false) // reject and don't requeue
				continue
			}
			if err := ev.Validate(); err != nil {
				slog.ErrorContext(ctx, "Rejected invalid event payload", "error", err)
				delivery.Nack(false, false)
				continue
			}

			if err := handler(ctx, ev); err != nil {
				if errors.Is(err, core.ErrValidation) {
					slog.ErrorContext(ctx, "Event rejected by handler",
						"error", err,
						"transaction_id", ev.TransactionID)
					delivery.Nack(false, false)
					continue
				}
				slog.ErrorContext(ctx, "Failed to handle event",
					"error", err,
					"transaction_id", ev.TransactionID,
					"user_id", ev.UserID)
				delivery.Nack(false, true) // reject and requeue
				continue
			}

			delivery.Ack(false)
		}
	}
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
