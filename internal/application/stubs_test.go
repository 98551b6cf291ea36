package application

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/example/classboard/internal/broker"
	"github.com/example/classboard/internal/classboard"
	"github.com/example/classboard/internal/persistence"
	"github.com/example/classboard/internal/scheduler"
	"github.com/example/classboard/internal/testfixtures"
)

var testDay = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func at(h, m int) time.Time {
	return testDay.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	alice = &classboard.Teacher{ID: "alice", Username: "alice", Name: "Alice"}
	bob   = &classboard.Teacher{ID: "bob", Username: "bob", Name: "Bob"}
)

func ev(id, lessonID string, start time.Time, minutes int) classboard.Event {
	return classboard.Event{ID: id, LessonID: lessonID, Date: start, Duration: minutes, Location: "beach", Status: scheduler.StatusPlanned}
}

func lessonFor(bookingID, lessonID string, teacher *classboard.Teacher, commission *scheduler.Commission, events ...classboard.Event) classboard.Lesson {
	var t *classboard.Teacher
	if teacher != nil {
		copied := *teacher
		t = &copied
	}
	return classboard.Lesson{ID: lessonID, BookingID: bookingID, Status: "active", Teacher: t, Commission: commission, Events: events}
}

func bookingWith(id string, lessons ...classboard.Lesson) classboard.Booking {
	return classboard.Booking{
		ID:        id,
		SchoolID:  "school-1",
		DateStart: testDay,
		DateEnd:   testDay,
		Package: &classboard.Package{
			ID:              "pkg",
			Description:     "Private kite lesson",
			PricePerStudent: 120,
			DurationMinutes: 120,
		},
		Students: []classboard.Student{{ID: "s1", Name: "Ana"}, {ID: "s2", Name: "Ben"}},
		Lessons:  lessons,
	}
}

func fixed(cph float64) *scheduler.Commission {
	return &scheduler.Commission{Type: scheduler.CommissionFixed, CPH: cph}
}

// defaultBookings: Alice teaches e1 09:00-10:00 and e2 10:00-11:00, Bob
// teaches e3 09:30-11:00, and l4 lacks a commission.
func defaultBookings() []classboard.Booking {
	return []classboard.Booking{
		bookingWith("b1", lessonFor("b1", "l1", alice, fixed(20), ev("e1", "l1", at(9, 0), 60), ev("e2", "l1", at(10, 0), 60))),
		bookingWith("b2", lessonFor("b2", "l2", bob, fixed(25), ev("e3", "l2", at(9, 30), 90))),
		bookingWith("b3", lessonFor("b3", "l4", alice, nil, ev("e4", "l4", at(12, 0), 60))),
	}
}

// fakeStore implements ScheduleReader, SchoolDirectory and EventStore over
// in-memory bookings.
type fakeStore struct {
	mu        sync.Mutex
	school    School
	schoolErr error
	order     []string
	bookings  map[string]classboard.Booking

	applyErr  error
	statusErr error
	deleteErr error
	createErr error

	listCalls int
	applied   int
	created   []classboard.Event
}

func newFakeStore(bookings ...classboard.Booking) *fakeStore {
	s := &fakeStore{
		school:   School{ID: "school-1", Name: "Tarifa", Location: time.UTC},
		bookings: make(map[string]classboard.Booking),
	}
	for _, b := range bookings {
		s.bookings[b.ID] = b.Clone()
	}
	return s
}

func (s *fakeStore) ListBookings(ctx context.Context, schoolID string, day classboard.DayRange) ([]classboard.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listCalls++
	var out []classboard.Booking
	for _, b := range s.bookings {
		if b.SchoolID == schoolID {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) GetBooking(ctx context.Context, id string) (classboard.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return classboard.Booking{}, persistence.ErrNotFound
	}
	return b.Clone(), nil
}

func (s *fakeStore) GetSchool(ctx context.Context, id string) (School, error) {
	if s.schoolErr != nil {
		return School{}, s.schoolErr
	}
	if id != s.school.ID {
		return School{}, fmt.Errorf("school %s: %w", id, persistence.ErrNotFound)
	}
	return s.school, nil
}

func (s *fakeStore) TeacherOrder(ctx context.Context, schoolID string) ([]string, error) {
	return s.order, nil
}

// find returns booking id, lesson index and event index of an event.
func (s *fakeStore) find(eventID string) (string, int, int, bool) {
	for id, b := range s.bookings {
		for li, lesson := range b.Lessons {
			for ei, event := range lesson.Events {
				if event.ID == eventID {
					return id, li, ei, true
				}
			}
		}
	}
	return "", 0, 0, false
}

func (s *fakeStore) GetEvent(ctx context.Context, id string) (EventRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bookingID, li, ei, ok := s.find(id)
	if !ok {
		return EventRef{}, persistence.ErrNotFound
	}
	b := s.bookings[bookingID]
	return EventRef{Event: b.Lessons[li].Events[ei], BookingID: bookingID, SchoolID: b.SchoolID}, nil
}

func (s *fakeStore) GetLesson(ctx context.Context, id string) (LessonRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if _, ok := b.Lesson(id); ok {
			return LessonRef{ID: id, BookingID: b.ID, SchoolID: b.SchoolID}, nil
		}
	}
	return LessonRef{}, persistence.ErrNotFound
}

func (s *fakeStore) CreateEvent(ctx context.Context, event classboard.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	for id, b := range s.bookings {
		for li, lesson := range b.Lessons {
			if lesson.ID == event.LessonID {
				b.Lessons[li].Events = append(b.Lessons[li].Events, event)
				s.bookings[id] = b
				s.created = append(s.created, event)
				return nil
			}
		}
	}
	return persistence.ErrConstraintViolation
}

func (s *fakeStore) ApplyEventChanges(ctx context.Context, updates []EventChange, deletions []string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}
	for _, update := range updates {
		bookingID, li, ei, ok := s.find(update.ID)
		if !ok {
			return persistence.ErrNotFound
		}
		event := &s.bookings[bookingID].Lessons[li].Events[ei]
		if update.Date != nil {
			event.Date = *update.Date
		}
		if update.Duration != nil {
			event.Duration = *update.Duration
		}
		if update.Location != nil {
			event.Location = *update.Location
		}
		if update.Status != nil {
			event.Status = *update.Status
		}
	}
	s.deleteLocked(deletions)
	s.applied++
	return nil
}

func (s *fakeStore) UpdateEventStatus(ctx context.Context, ids []string, status scheduler.Status, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.statusErr != nil {
		return s.statusErr
	}
	for _, id := range ids {
		bookingID, li, ei, ok := s.find(id)
		if !ok {
			return persistence.ErrNotFound
		}
		s.bookings[bookingID].Lessons[li].Events[ei].Status = status
	}
	return nil
}

func (s *fakeStore) DeleteEvents(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleteLocked(ids)
	return nil
}

func (s *fakeStore) deleteLocked(ids []string) {
	for id, b := range s.bookings {
		for li := range b.Lessons {
			b.Lessons[li].Events = slices.DeleteFunc(b.Lessons[li].Events, func(e classboard.Event) bool {
				return slices.Contains(ids, e.ID)
			})
		}
		s.bookings[id] = b
	}
}

func (s *fakeStore) event(id string) (classboard.Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	bookingID, li, ei, ok := s.find(id)
	if !ok {
		return classboard.Event{}, false
	}
	return s.bookings[bookingID].Lessons[li].Events[ei], true
}

type trackerStub struct {
	mu      sync.Mutex
	adds    map[string]string
	deletes map[string]string
	cleared []string
	err     error
}

func newTrackerStub() *trackerStub {
	return &trackerStub{adds: make(map[string]string), deletes: make(map[string]string)}
}

func (t *trackerStub) TrackAdd(ctx context.Context, schoolID, key, lessonID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.adds[key] = lessonID
	return nil
}

func (t *trackerStub) TrackDelete(ctx context.Context, schoolID, key, eventID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.err != nil {
		return t.err
	}
	t.deletes[key] = eventID
	return nil
}

func (t *trackerStub) Clear(ctx context.Context, schoolID, key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cleared = append(t.cleared, key)
}

type publisherStub struct {
	mu     sync.Mutex
	events []broker.MutationEvent
	err    error
}

func (p *publisherStub) Publish(ctx context.Context, event broker.MutationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *publisherStub) published() []broker.MutationEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]broker.MutationEvent(nil), p.events...)
}

type harness struct {
	store     *fakeStore
	tracker   *trackerStub
	publisher *publisherStub
	deps      ClassboardDeps
}

func newHarness(bookings ...classboard.Booking) *harness {
	if len(bookings) == 0 {
		bookings = defaultBookings()
	}
	h := &harness{store: newFakeStore(bookings...), tracker: newTrackerStub(), publisher: &publisherStub{}}
	now := at(8, 0)
	h.deps = ClassboardDeps{
		Schedules:   h.store,
		Schools:     h.store,
		Events:      h.store,
		Tracker:     h.tracker,
		Publisher:   h.publisher,
		IDGenerator: testfixtures.NewIDGenerator("id").Next,
		Now:         func() time.Time { return now },
		Logger:      discardLogger(),
	}
	return h
}
