package tracking

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Message is the envelope exchanged between instances. Exactly one of Event
// or Forget is meaningful.
type Message struct {
	Instance string    `json:"instance"`
	Event    Event     `json:"event"`
	Forget   uuid.UUID `json:"forget,omitempty"`
}

// AMQPRelay publishes local events to a fanout exchange and consumes the
// events of every other instance from an exclusive queue.
type AMQPRelay struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// DialRelay connects to url, retrying with exponential backoff, and declares
// the fanout exchange.
func DialRelay(ctx context.Context, url, exchange string, logger *slog.Logger) (*AMQPRelay, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	for attempt := 1; attempt <= 5; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("amqp connect failed", "attempt", attempt, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(1<<attempt) * 250 * time.Millisecond):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("tracking.DialRelay: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("tracking.DialRelay: open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		amqp.ExchangeFanout,
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("tracking.DialRelay: declare exchange: %w", err)
	}

	return &AMQPRelay{conn: conn, ch: ch, exchange: exchange, logger: logger}, nil
}

// Publish sends m to every instance.
func (r *AMQPRelay) Publish(ctx context.Context, m Message) error {
	body, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("tracking.AMQPRelay.Publish: %w", err)
	}
	if err := r.ch.PublishWithContext(ctx, r.exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   time.Now(),
		Body:        body,
	}); err != nil {
		return fmt.Errorf("tracking.AMQPRelay.Publish: %w", err)
	}
	return nil
}

// Consume delivers messages from peers to apply until ctx is done or the
// broker closes the channel.
func (r *AMQPRelay) Consume(ctx context.Context, apply func(Message)) error {
	q, err := r.ch.QueueDeclare(
		"",
		false, // durable
		true,  // auto-delete
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("tracking.AMQPRelay.Consume: declare queue: %w", err)
	}
	if err := r.ch.QueueBind(q.Name, "", r.exchange, false, nil); err != nil {
		return fmt.Errorf("tracking.AMQPRelay.Consume: bind queue: %w", err)
	}
	deliveries, err := r.ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("tracking.AMQPRelay.Consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("tracking.AMQPRelay.Consume: delivery channel closed")
			}
			var m Message
			if err := json.Unmarshal(d.Body, &m); err != nil {
				r.logger.Warn("relay message dropped", "error", err)
				continue
			}
			apply(m)
		}
	}
}

// Close releases the channel and connection.
func (r *AMQPRelay) Close() error {
	_ = r.ch.Close()
	return r.conn.Close()
}
