package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/example/classboard/internal/classboard"
	"github.com/example/classboard/internal/logging"
)

// BookingLoader reads booking schedules for the boards.
type BookingLoader interface {
	// LoadBookings returns the bookings a school's board should mirror.
	LoadBookings(ctx context.Context, schoolID string) ([]classboard.Booking, error)
	// LoadBooking returns one booking schedule.
	LoadBooking(ctx context.Context, bookingID string) (classboard.Booking, error)
}

// Hub keeps one reconciled Board per school, applies feed notifications to it
// and fans the applied notifications out to watchers.
type Hub struct {
	loader BookingLoader
	logger *slog.Logger
	now    func() time.Time

	mu       sync.Mutex
	boards   map[string]*classboard.Board
	watchers map[string]map[int]chan Notification
	nextID   int
}

// NewHub returns a hub that lazily loads boards through loader.
func NewHub(loader BookingLoader, logger *slog.Logger) *Hub {
	return &Hub{
		loader:   loader,
		logger:   logging.Component(logger, "realtime_hub"),
		now:      time.Now,
		boards:   make(map[string]*classboard.Board),
		watchers: make(map[string]map[int]chan Notification),
	}
}

// Board returns the school's board, loading it on first use.
func (h *Hub) Board(ctx context.Context, schoolID string) (*classboard.Board, error) {
	if schoolID == "" {
		return nil, fmt.Errorf("realtime: school id is required")
	}
	h.mu.Lock()
	board, ok := h.boards[schoolID]
	h.mu.Unlock()
	if ok {
		return board, nil
	}

	bookings, err := h.loader.LoadBookings(ctx, schoolID)
	if err != nil {
		return nil, fmt.Errorf("realtime: load board %s: %w", schoolID, err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if existing, ok := h.boards[schoolID]; ok {
		return existing, nil
	}
	board = classboard.NewBoard(bookings...)
	h.boards[schoolID] = board
	return board, nil
}

// loadedBoard returns the board only when it was already loaded.
func (h *Hub) loadedBoard(schoolID string) (*classboard.Board, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	board, ok := h.boards[schoolID]
	return board, ok
}

// Schools lists the schools with a loaded board.
func (h *Hub) Schools() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	schools := make([]string, 0, len(h.boards))
	for id := range h.boards {
		schools = append(schools, id)
	}
	sort.Strings(schools)
	return schools
}

// Apply reconciles the school's board with the notification and forwards it
// to watchers. Notifications for schools without a loaded board are dropped;
// the board picks the change up when it is loaded.
func (h *Hub) Apply(ctx context.Context, n Notification) error {
	if err := n.Validate(); err != nil {
		return err
	}
	board, ok := h.loadedBoard(n.SchoolID)
	if !ok {
		return nil
	}

	var cleared []classboard.OptimisticOp
	switch n.Type {
	case BookingUpdated:
		if n.Booking.SchoolID != n.SchoolID {
			return fmt.Errorf("%w: booking %s belongs to school %s", ErrInvalidNotification, n.Booking.ID, n.Booking.SchoolID)
		}
		cleared = board.ApplyBookingChange(*n.Booking)
	case BookingCreated:
		merged, err := board.MergeNewBooking(ctx, n.BookingID, h.loader.LoadBooking)
		if err != nil {
			return fmt.Errorf("realtime: merge booking %s: %w", n.BookingID, err)
		}
		cleared = merged
	case BookingDeleted:
		cleared = board.RemoveBooking(n.BookingID)
	case BoardResynced:
		return h.resyncSchool(ctx, n.SchoolID)
	}

	for _, op := range cleared {
		h.logger.DebugContext(ctx, "optimistic operation confirmed",
			"school_id", n.SchoolID, "key", op.Key, "type", string(op.Type), "booking_id", n.key())
	}
	n.Revision = board.Revision()
	h.broadcast(n)
	return nil
}

// Run applies every notification received from the feed until ctx is done.
func (h *Hub) Run(ctx context.Context, feed Feed) error {
	err := feed.Subscribe(ctx, func(ctx context.Context, n Notification) {
		if err := h.Apply(ctx, n); err != nil {
			h.logger.ErrorContext(ctx, "failed to apply notification",
				"school_id", n.SchoolID, "booking_id", n.key(), "type", string(n.Type), "error", err)
		}
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Resync reloads every loaded board from storage.
func (h *Hub) Resync(ctx context.Context) error {
	var errs []error
	for _, schoolID := range h.Schools() {
		if err := h.resyncSchool(ctx, schoolID); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Hub) resyncSchool(ctx context.Context, schoolID string) error {
	board, ok := h.loadedBoard(schoolID)
	if !ok {
		return nil
	}
	bookings, err := h.loader.LoadBookings(ctx, schoolID)
	if err != nil {
		return fmt.Errorf("realtime: resync %s: %w", schoolID, err)
	}
	cleared := board.Replace(bookings)
	h.logger.InfoContext(ctx, "board resynced", "school_id", schoolID, "bookings", len(bookings), "cleared", len(cleared))
	h.broadcast(Notification{Type: BoardResynced, SchoolID: schoolID, SentAt: h.now(), Revision: board.Revision()})
	return nil
}

// TrackAdd records a pending event creation for the lesson.
func (h *Hub) TrackAdd(ctx context.Context, schoolID, key, lessonID string) error {
	board, err := h.Board(ctx, schoolID)
	if err != nil {
		return err
	}
	return board.TrackAdd(key, lessonID)
}

// TrackDelete records a pending event deletion.
func (h *Hub) TrackDelete(ctx context.Context, schoolID, key, eventID string) error {
	board, err := h.Board(ctx, schoolID)
	if err != nil {
		return err
	}
	return board.TrackDelete(key, eventID)
}

// Clear drops a pending operation, typically after its write failed.
func (h *Hub) Clear(ctx context.Context, schoolID, key string) {
	board, ok := h.loadedBoard(schoolID)
	if !ok {
		return
	}
	if board.Clear(key) {
		h.logger.DebugContext(ctx, "optimistic operation reverted", "school_id", schoolID, "key", key)
	}
}

// Watch registers a watcher for the school's applied notifications. The
// returned cancel func must be called to release it. Slow watchers miss
// notifications instead of blocking the hub.
func (h *Hub) Watch(schoolID string, buffer int) (<-chan Notification, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Notification, buffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	if h.watchers[schoolID] == nil {
		h.watchers[schoolID] = make(map[int]chan Notification)
	}
	h.watchers[schoolID][id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.watchers[schoolID], id)
			if len(h.watchers[schoolID]) == 0 {
				delete(h.watchers, schoolID)
			}
			close(ch)
		})
	}
}

func (h *Hub) broadcast(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, ch := range h.watchers[n.SchoolID] {
		select {
		case ch <- n:
		default:
			h.logger.Warn("watcher buffer full, dropping notification", "school_id", n.SchoolID, "watcher", id)
		}
	}
}
