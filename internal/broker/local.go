package broker

import (
	"context"
	"errors"
	"sync"
)

// ErrBusClosed is returned by a closed LocalBus.
var ErrBusClosed = errors.New("broker: bus closed")

// LocalBus is an in-process queue used when no AMQP broker is configured.
// It implements both Publisher and Consumer.
type LocalBus struct {
	events chan MutationEvent
	once   sync.Once
	closed chan struct{}
}

// NewLocalBus returns a bus buffering up to size events.
func NewLocalBus(size int) *LocalBus {
	if size <= 0 {
		size = 256
	}
	return &LocalBus{events: make(chan MutationEvent, size), closed: make(chan struct{})}
}

// Publish enqueues the event, blocking while the buffer is full.
func (b *LocalBus) Publish(ctx context.Context, event MutationEvent) error {
	if err := event.Validate(); err != nil {
		return err
	}
	select {
	case <-b.closed:
		return ErrBusClosed
	default:
	}
	select {
	case b.events <- event:
		return nil
	case <-b.closed:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume runs handler for each queued event. Handler errors do not stop
// consumption and, unlike AMQP, there is no redelivery.
func (b *LocalBus) Consume(ctx context.Context, handler Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.closed:
			return ErrBusClosed
		case event := <-b.events:
			_ = handler(ctx, event)
		}
	}
}

// Len returns the number of queued events.
func (b *LocalBus) Len() int {
	return len(b.events)
}

// Close stops consumers and rejects further publishes.
func (b *LocalBus) Close() error {
	b.once.Do(func() { close(b.closed) })
	return nil
}
