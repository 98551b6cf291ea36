package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/classboard/internal/classboard"
	"github.com/example/classboard/internal/logging"
	"github.com/example/classboard/internal/realtime"
)

// BookingSource reads the current state of a booking. found is false when
// the booking no longer exists.
type BookingSource interface {
	FindBooking(ctx context.Context, bookingID string) (booking classboard.Booking, found bool, err error)
}

// NotificationPublisher sends realtime notifications.
type NotificationPublisher interface {
	Publish(ctx context.Context, n realtime.Notification) error
}

// Relay turns mutation events into realtime notifications carrying the
// refreshed bookings.
type Relay struct {
	source BookingSource
	feed   NotificationPublisher
	logger *slog.Logger
	now    func() time.Time
}

// NewRelay wires a relay.
func NewRelay(source BookingSource, feed NotificationPublisher, logger *slog.Logger) *Relay {
	return &Relay{source: source, feed: feed, logger: logging.Component(logger, "relay"), now: time.Now}
}

// Handle publishes one notification per booking touched by the event. It
// keeps going after a failed booking and returns the joined errors.
func (r *Relay) Handle(ctx context.Context, event MutationEvent) error {
	logger := r.logger.With("event_id", event.ID, "kind", string(event.Kind), "school_id", event.SchoolID)

	var errs []error
	for _, bookingID := range event.BookingIDs {
		n, err := r.notificationFor(ctx, event, bookingID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := r.feed.Publish(ctx, n); err != nil {
			errs = append(errs, fmt.Errorf("broker: publish notification for %s: %w", bookingID, err))
			continue
		}
		logger.DebugContext(ctx, "notification relayed", "booking_id", bookingID, "type", string(n.Type))
	}
	if err := errors.Join(errs...); err != nil {
		logger.ErrorContext(ctx, "failed to relay mutation event", "error", err)
		return err
	}
	return nil
}

func (r *Relay) notificationFor(ctx context.Context, event MutationEvent, bookingID string) (realtime.Notification, error) {
	if event.Kind == BookingsCreated {
		return realtime.Created(event.SchoolID, bookingID, r.now()), nil
	}
	booking, found, err := r.source.FindBooking(ctx, bookingID)
	if err != nil {
		return realtime.Notification{}, fmt.Errorf("broker: load booking %s: %w", bookingID, err)
	}
	if !found {
		return realtime.Deleted(event.SchoolID, bookingID, r.now()), nil
	}
	if booking.SchoolID != event.SchoolID {
		return realtime.Notification{}, fmt.Errorf("%w: booking %s belongs to school %s", ErrInvalidEvent, bookingID, booking.SchoolID)
	}
	return realtime.Updated(booking, r.now()), nil
}
