// Package realtime carries booking change notifications between service
// instances and mirrors each school's booking schedules in a reconciled Board
// that streaming clients observe.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/classboard/internal/classboard"
)

// NotificationType names the kind of change a notification reports.
type NotificationType string

const (
	// BookingUpdated carries the full refreshed booking schedule.
	BookingUpdated NotificationType = "booking.updated"
	// BookingCreated only names the booking; receivers fetch it.
	BookingCreated NotificationType = "booking.created"
	// BookingDeleted reports that the booking no longer exists.
	BookingDeleted NotificationType = "booking.deleted"
	// BoardResynced is emitted locally after a full reload of a school's board.
	BoardResynced NotificationType = "board.resynced"
)

// ErrInvalidNotification is returned when a notification cannot be applied or decoded.
var ErrInvalidNotification = errors.New("realtime: invalid notification")

// Notification is one change keyed by booking id. Updates always carry the
// whole booking and receivers replace their copy with it.
type Notification struct {
	Type      NotificationType    `json:"type"`
	SchoolID  string              `json:"school_id"`
	BookingID string              `json:"booking_id,omitempty"`
	Booking   *classboard.Booking `json:"booking,omitempty"`
	SentAt    time.Time           `json:"sent_at"`
	// Revision is the board revision after the notification was applied. It is
	// only set on notifications delivered to watchers.
	Revision uint64 `json:"revision,omitempty"`
}

// Validate checks that the notification carries what its type requires.
func (n Notification) Validate() error {
	if n.SchoolID == "" {
		return fmt.Errorf("%w: school id is required", ErrInvalidNotification)
	}
	switch n.Type {
	case BookingUpdated:
		if n.Booking == nil {
			return fmt.Errorf("%w: %s requires a booking", ErrInvalidNotification, n.Type)
		}
		if n.BookingID != "" && n.BookingID != n.Booking.ID {
			return fmt.Errorf("%w: booking id mismatch", ErrInvalidNotification)
		}
	case BookingCreated, BookingDeleted:
		if n.BookingID == "" {
			return fmt.Errorf("%w: %s requires a booking id", ErrInvalidNotification, n.Type)
		}
	case BoardResynced:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidNotification, n.Type)
	}
	return nil
}

// key returns the booking the notification refers to.
func (n Notification) key() string {
	if n.BookingID != "" {
		return n.BookingID
	}
	if n.Booking != nil {
		return n.Booking.ID
	}
	return ""
}

// Encode serialises a notification for transport.
func Encode(n Notification) ([]byte, error) {
	if err := n.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(n)
}

// Decode parses and validates a transported notification.
func Decode(payload []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(payload, &n); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", ErrInvalidNotification, err)
	}
	if err := n.Validate(); err != nil {
		return Notification{}, err
	}
	return n, nil
}

// Updated builds a notification carrying the full booking.
func Updated(booking classboard.Booking, sentAt time.Time) Notification {
	cloned := booking.Clone()
	return Notification{Type: BookingUpdated, SchoolID: booking.SchoolID, BookingID: booking.ID, Booking: &cloned, SentAt: sentAt}
}

// Created builds a notification naming a new booking.
func Created(schoolID, bookingID string, sentAt time.Time) Notification {
	return Notification{Type: BookingCreated, SchoolID: schoolID, BookingID: bookingID, SentAt: sentAt}
}

// Deleted builds a notification for a removed booking.
func Deleted(schoolID, bookingID string, sentAt time.Time) Notification {
	return Notification{Type: BookingDeleted, SchoolID: schoolID, BookingID: bookingID, SentAt: sentAt}
}
