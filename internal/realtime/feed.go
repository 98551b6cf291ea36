package realtime

import (
	"context"
	"errors"
	"sync"
)

// ErrFeedClosed is returned when publishing to or subscribing on a closed feed.
var ErrFeedClosed = errors.New("realtime: feed closed")

// Feed transports notifications between every instance serving a school.
type Feed interface {
	Publish(ctx context.Context, n Notification) error
	// Subscribe delivers notifications to handler in receipt order until ctx
	// is cancelled or the feed fails.
	Subscribe(ctx context.Context, handler func(context.Context, Notification)) error
}

// MemoryFeed is an in-process Feed for single instance deployments and tests.
type MemoryFeed struct {
	mu          sync.Mutex
	subscribers map[int]chan Notification
	nextID      int
	buffer      int
	closed      bool
}

// NewMemoryFeed returns a feed whose subscribers buffer up to buffer notifications.
func NewMemoryFeed(buffer int) *MemoryFeed {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryFeed{subscribers: make(map[int]chan Notification), buffer: buffer}
}

// Publish hands the notification to every subscriber. It blocks while a
// subscriber's buffer is full unless ctx is done.
func (f *MemoryFeed) Publish(ctx context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFeedClosed
	}
	targets := make([]chan Notification, 0, len(f.subscribers))
	for _, ch := range f.subscribers {
		targets = append(targets, ch)
	}
	f.mu.Unlock()

	for _, ch := range targets {
		if err := f.deliver(ctx, ch, n); err != nil {
			return err
		}
	}
	return nil
}

func (f *MemoryFeed) deliver(ctx context.Context, ch chan Notification, n Notification) (err error) {
	defer func() {
		// the subscriber went away between snapshot and send
		if recover() != nil {
			err = nil
		}
	}()
	select {
	case ch <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe registers a subscriber and runs handler for each notification.
func (f *MemoryFeed) Subscribe(ctx context.Context, handler func(context.Context, Notification)) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrFeedClosed
	}
	id := f.nextID
	f.nextID++
	ch := make(chan Notification, f.buffer)
	f.subscribers[id] = ch
	f.mu.Unlock()

	defer f.unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case n, ok := <-ch:
			if !ok {
				return ErrFeedClosed
			}
			handler(ctx, n)
		}
	}
}

func (f *MemoryFeed) unsubscribe(id int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if ch, ok := f.subscribers[id]; ok {
		delete(f.subscribers, id)
		close(ch)
	}
}

// Subscribers returns the number of active subscribers.
func (f *MemoryFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers)
}

// Close stops every subscriber.
func (f *MemoryFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for id, ch := range f.subscribers {
		delete(f.subscribers, id)
		close(ch)
	}
	return nil
}
