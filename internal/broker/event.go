// Package broker moves mutation events from the instance that wrote the
// change to the relay that turns them into realtime notifications.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MutationKind names the write that produced an event.
type MutationKind string

const (
	EventsCreated       MutationKind = "events.created"
	EventsUpdated       MutationKind = "events.updated"
	EventsDeleted       MutationKind = "events.deleted"
	EventsStatusChanged MutationKind = "events.status_changed"
	// BookingsCreated is published by the systems that sell bookings. The
	// relay announces such bookings by id only.
	BookingsCreated MutationKind = "bookings.created"
)

// Valid reports whether the kind is known.
func (k MutationKind) Valid() bool {
	switch k {
	case EventsCreated, EventsUpdated, EventsDeleted, EventsStatusChanged, BookingsCreated:
		return true
	}
	return false
}

// ErrInvalidEvent is returned when a mutation event cannot be encoded or decoded.
var ErrInvalidEvent = errors.New("broker: invalid mutation event")

// MutationEvent reports which bookings a committed write touched.
type MutationEvent struct {
	ID         string       `json:"id"`
	Kind       MutationKind `json:"kind"`
	SchoolID   string       `json:"school_id"`
	BookingIDs []string     `json:"booking_ids"`
	EventIDs   []string     `json:"event_ids,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// NewMutationEvent stamps a new event with a random id.
func NewMutationEvent(kind MutationKind, schoolID string, bookingIDs, eventIDs []string, occurredAt time.Time) MutationEvent {
	return MutationEvent{
		ID:         uuid.NewString(),
		Kind:       kind,
		SchoolID:   schoolID,
		BookingIDs: dedupe(bookingIDs),
		EventIDs:   dedupe(eventIDs),
		OccurredAt: occurredAt.UTC(),
	}
}

// Validate checks the required fields.
func (e MutationEvent) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidEvent)
	case !e.Kind.Valid():
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEvent, e.Kind)
	case e.SchoolID == "":
		return fmt.Errorf("%w: school id is required", ErrInvalidEvent)
	case len(e.BookingIDs) == 0:
		return fmt.Errorf("%w: at least one booking id is required", ErrInvalidEvent)
	}
	return nil
}

// Encode serialises the event as JSON.
func Encode(e MutationEvent) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode parses and validates a JSON event.
func Decode(body []byte) (MutationEvent, error) {
	var e MutationEvent
	if err := json.Unmarshal(body, &e); err != nil {
		return MutationEvent{}, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if err := e.Validate(); err != nil {
		return MutationEvent{}, err
	}
	return e, nil
}

// Publisher sends mutation events.
type Publisher interface {
	Publish(ctx context.Context, event MutationEvent) error
}

// Handler processes one delivered event. A returned error rejects the delivery.
type Handler func(ctx context.Context, event MutationEvent) error

// Consumer delivers events to a handler until ctx is cancelled.
type Consumer interface {
	Consume(ctx context.Context, handler Handler) error
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
