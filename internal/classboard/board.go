package classboard

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// OpType distinguishes optimistic operations.
type OpType string

const (
	OpAdd    OpType = "add"
	OpDelete OpType = "delete"
)

// OptimisticOp is a user action shown before the server confirmed it.
type OptimisticOp struct {
	Key       string
	Type      OpType
	LessonID  string
	EventID   string
	CreatedAt time.Time
	// baseline is the lesson's event count when an add was tracked.
	baseline int
}

// BookingFetcher loads a full booking schedule by id.
type BookingFetcher func(ctx context.Context, bookingID string) (Booking, error)

// ErrEmptyKey is returned when an optimistic operation has no key.
var ErrEmptyKey = errors.New("classboard: optimistic operation key is required")

// Board is the local copy of a school's booking schedules plus the pending
// optimistic operations layered on top. It is safe for concurrent use.
type Board struct {
	mu       sync.RWMutex
	bookings map[string]Booking
	pending  map[string]OptimisticOp
	revision uint64
	now      func() time.Time
}

// NewBoard returns a board seeded with the given bookings.
func NewBoard(bookings ...Booking) *Board {
	b := &Board{
		bookings: make(map[string]Booking, len(bookings)),
		pending:  make(map[string]OptimisticOp),
		now:      time.Now,
	}
	for _, booking := range bookings {
		b.bookings[booking.ID] = booking.Clone()
	}
	return b
}

// ApplyBookingChange replaces the stored booking with the confirmed version and
// clears every optimistic operation it proves complete. Applying the same
// change twice leaves the board unchanged.
func (b *Board) ApplyBookingChange(booking Booking) []OptimisticOp {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bookings[booking.ID] = booking.Clone()
	b.revision++
	return b.reconcileLocked()
}

// RemoveBooking drops a booking from the board.
func (b *Board) RemoveBooking(bookingID string) []OptimisticOp {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.bookings[bookingID]; !ok {
		return nil
	}
	delete(b.bookings, bookingID)
	b.revision++
	return b.reconcileLocked()
}

// MergeNewBooking fetches a booking announced by id and merges it in.
func (b *Board) MergeNewBooking(ctx context.Context, bookingID string, fetch BookingFetcher) ([]OptimisticOp, error) {
	booking, err := fetch(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	return b.ApplyBookingChange(booking), nil
}

// Replace swaps the whole collection, as after a full resync.
func (b *Board) Replace(bookings []Booking) []OptimisticOp {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bookings = make(map[string]Booking, len(bookings))
	for _, booking := range bookings {
		b.bookings[booking.ID] = booking.Clone()
	}
	b.revision++
	return b.reconcileLocked()
}

// TrackAdd registers a pending event creation for a lesson.
func (b *Board) TrackAdd(key, lessonID string) error {
	if key == "" {
		return ErrEmptyKey
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[key] = OptimisticOp{
		Key:       key,
		Type:      OpAdd,
		LessonID:  lessonID,
		CreatedAt: b.now(),
		baseline:  b.lessonEventCountLocked(lessonID),
	}
	b.revision++
	return nil
}

// TrackDelete registers a pending event deletion.
func (b *Board) TrackDelete(key, eventID string) error {
	if key == "" {
		return ErrEmptyKey
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending[key] = OptimisticOp{
		Key:       key,
		Type:      OpDelete,
		EventID:   eventID,
		CreatedAt: b.now(),
	}
	b.revision++
	return nil
}

// Clear removes an optimistic operation, typically after its request failed.
func (b *Board) Clear(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.pending[key]; !ok {
		return false
	}
	delete(b.pending, key)
	b.revision++
	return true
}

// Pending returns the outstanding operations ordered by creation time.
func (b *Board) Pending() []OptimisticOp {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]OptimisticOp, 0, len(b.pending))
	for _, op := range b.pending {
		out = append(out, op)
	}
	sortOps(out)
	return out
}

// IsDeleting reports whether a delete is pending for the event.
func (b *Board) IsDeleting(eventID string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, op := range b.pending {
		if op.Type == OpDelete && op.EventID == eventID {
			return true
		}
	}
	return false
}

// PendingAdds returns how many creations are pending for the lesson.
func (b *Board) PendingAdds(lessonID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	count := 0
	for _, op := range b.pending {
		if op.Type == OpAdd && op.LessonID == lessonID {
			count++
		}
	}
	return count
}

// Booking returns a copy of one booking.
func (b *Board) Booking(bookingID string) (Booking, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	booking, ok := b.bookings[bookingID]
	if !ok {
		return Booking{}, false
	}
	return booking.Clone(), true
}

// Bookings returns copies of all bookings ordered by start date then id.
func (b *Board) Bookings() []Booking {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Booking, 0, len(b.bookings))
	for _, booking := range b.bookings {
		out = append(out, booking.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DateStart.Equal(out[j].DateStart) {
			return out[i].ID < out[j].ID
		}
		return out[i].DateStart.Before(out[j].DateStart)
	})
	return out
}

// Revision increases on every change to bookings or pending operations.
func (b *Board) Revision() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.revision
}

// TeacherQueues builds the day's queues from the current bookings.
func (b *Board) TeacherQueues(opts BuildOptions) BuildResult {
	return BuildTeacherQueues(b.Bookings(), opts)
}

// reconcileLocked clears operations the current bookings prove complete: an
// add once its lesson has more real events than when it was tracked, a delete
// once its event is gone.
func (b *Board) reconcileLocked() []OptimisticOp {
	var cleared []OptimisticOp
	for key, op := range b.pending {
		done := false
		switch op.Type {
		case OpAdd:
			done = b.lessonEventCountLocked(op.LessonID) > op.baseline
		case OpDelete:
			done = !b.hasEventLocked(op.EventID)
		}
		if done {
			cleared = append(cleared, op)
			delete(b.pending, key)
		}
	}
	sortOps(cleared)
	return cleared
}

func (b *Board) lessonEventCountLocked(lessonID string) int {
	for _, booking := range b.bookings {
		if lesson, ok := booking.Lesson(lessonID); ok {
			return len(lesson.Events)
		}
	}
	return 0
}

func (b *Board) hasEventLocked(eventID string) bool {
	for _, booking := range b.bookings {
		if booking.HasEvent(eventID) {
			return true
		}
	}
	return false
}

func sortOps(ops []OptimisticOp) {
	sort.Slice(ops, func(i, j int) bool {
		if ops[i].CreatedAt.Equal(ops[j].CreatedAt) {
			return ops[i].Key < ops[j].Key
		}
		return ops[i].CreatedAt.Before(ops[j].CreatedAt)
	})
}
