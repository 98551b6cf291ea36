package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/classboard/internal/logging"
)

// DefaultQueue is the durable queue mutation events are routed to.
const DefaultQueue = "classboard.mutations"

// AMQPConfig configures the RabbitMQ publisher and consumer.
type AMQPConfig struct {
	URL      string
	Queue    string
	Prefetch int
	// MinBackoff and MaxBackoff bound the consumer's reconnect delay.
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func (c AMQPConfig) withDefaults() AMQPConfig {
	if c.Queue == "" {
		c.Queue = DefaultQueue
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 50
	}
	if c.MinBackoff <= 0 {
		c.MinBackoff = time.Second
	}
	if c.MaxBackoff < c.MinBackoff {
		c.MaxBackoff = 30 * time.Second
	}
	return c
}

func declareQueue(ch *amqp.Channel, queue string) error {
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker: declare queue %s: %w", queue, err)
	}
	return nil
}

// AMQPPublisher publishes persistent JSON messages on the default exchange.
// The connection is opened lazily and reopened after failures.
type AMQPPublisher struct {
	cfg    AMQPConfig
	logger *slog.Logger

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// NewAMQPPublisher returns a publisher for cfg.
func NewAMQPPublisher(cfg AMQPConfig, logger *slog.Logger) *AMQPPublisher {
	return &AMQPPublisher{cfg: cfg.withDefaults(), logger: logging.Component(logger, "amqp_publisher")}
}

// Publish sends the event. A failed publish drops the channel so the next call reconnects.
func (p *AMQPPublisher) Publish(ctx context.Context, event MutationEvent) error {
	body, err := Encode(event)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannelLocked(); err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         string(event.Kind),
		Timestamp:    event.OccurredAt,
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, "", p.cfg.Queue, false, false, msg); err != nil {
		p.resetLocked()
		return fmt.Errorf("broker: publish %s: %w", event.ID, err)
	}
	return nil
}

func (p *AMQPPublisher) ensureChannelLocked() error {
	if p.ch != nil && !p.ch.IsClosed() {
		return nil
	}
	p.resetLocked()

	conn, err := amqp.Dial(p.cfg.URL)
	if err != nil {
		return fmt.Errorf("broker: dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("broker: open channel: %w", err)
	}
	if err := declareQueue(ch, p.cfg.Queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return err
	}
	p.conn, p.ch = conn, ch
	p.logger.Info("connected to broker", "queue", p.cfg.Queue)
	return nil
}

func (p *AMQPPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		_ = p.conn.Close()
		p.conn = nil
	}
}

// Close releases the connection.
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}

// AMQPConsumer consumes mutation events and reconnects with exponential
// backoff when the broker goes away.
type AMQPConsumer struct {
	cfg    AMQPConfig
	logger *slog.Logger
}

// NewAMQPConsumer returns a consumer for cfg.
func NewAMQPConsumer(cfg AMQPConfig, logger *slog.Logger) *AMQPConsumer {
	return &AMQPConsumer{cfg: cfg.withDefaults(), logger: logging.Component(logger, "amqp_consumer")}
}

// Consume blocks until ctx is cancelled.
func (c *AMQPConsumer) Consume(ctx context.Context, handler Handler) error {
	retry := newBackoff(c.cfg.MinBackoff, c.cfg.MaxBackoff)
	for {
		conn, err := amqp.Dial(c.cfg.URL)
		if err != nil {
			delay := retry.Next()
			c.logger.WarnContext(ctx, "failed to dial broker", "error", err, "retry_in", delay.String())
			if !sleep(ctx, delay) {
				return ctx.Err()
			}
			continue
		}
		retry.Reset()

		err = c.consumeLoop(ctx, conn, handler)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay := retry.Next()
		c.logger.WarnContext(ctx, "consume loop ended, reconnecting", "error", err, "retry_in", delay.String())
		if !sleep(ctx, delay) {
			return ctx.Err()
		}
	}
}

func (c *AMQPConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection, handler Handler) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("broker: open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(c.cfg.Prefetch, 0, false); err != nil {
		c.logger.WarnContext(ctx, "failed to set prefetch", "error", err)
	}
	if err := declareQueue(ch, c.cfg.Queue); err != nil {
		return err
	}
	deliveries, err := ch.ConsumeWithContext(ctx, c.cfg.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker: consume %s: %w", c.cfg.Queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("broker: deliveries channel closed")
			}
			c.deliver(ctx, d, handler)
		}
	}
}

func (c *AMQPConsumer) deliver(ctx context.Context, d amqp.Delivery, handler Handler) {
	event, err := Decode(d.Body)
	if err != nil {
		c.logger.ErrorContext(ctx, "rejecting undecodable message", "message_id", d.MessageId, "error", err)
		_ = d.Nack(false, false)
		return
	}
	if err := handler(ctx, event); err != nil {
		// requeue once; a redelivered message that fails again is dropped
		requeue := !d.Redelivered
		c.logger.ErrorContext(ctx, "failed to handle mutation event",
			"event_id", event.ID, "kind", string(event.Kind), "requeue", requeue, "error", err)
		_ = d.Nack(false, requeue)
		return
	}
	_ = d.Ack(false)
}

// backoff doubles the delay after every failure up to the ceiling.
type backoff struct {
	floor, ceiling, cur time.Duration
}

func newBackoff(floor, ceiling time.Duration) *backoff {
	return &backoff{floor: floor, ceiling: ceiling}
}

func (b *backoff) Next() time.Duration {
	if b.cur == 0 {
		b.cur = b.floor
		return b.cur
	}
	b.cur *= 2
	if b.cur > b.ceiling {
		b.cur = b.ceiling
	}
	return b.cur
}

func (b *backoff) Reset() {
	b.cur = 0
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
