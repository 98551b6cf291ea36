package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/classboard/internal/persistence"
)

var eventCounter uint64

// Day is the school day most fixtures are scheduled on.
var Day = time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)

var referenceTime = time.Date(2024, time.May, 20, 8, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical creation timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// At returns hh:mm on Day.
func At(hour, minute int) time.Time {
	return Day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

// Fixed ids of the default seed.
const (
	SchoolID          = "school-1"
	TeacherAliceID    = "teacher-alice"
	TeacherBobID      = "teacher-bob"
	StudentAnaID      = "student-ana"
	StudentBenID      = "student-ben"
	PackageID         = "package-private"
	CommissionAliceID = "commission-alice"
	CommissionBobID   = "commission-bob"
	BookingOneID      = "booking-1"
	BookingTwoID      = "booking-2"
	LessonAliceID     = "lesson-alice"
	LessonBobID       = "lesson-bob"
	EventAliceFirstID = "event-alice-0900"
	EventAliceLastID  = "event-alice-1100"
	EventBobID        = "event-bob-1000"
)

// Seed is a consistent set of records covering one school day.
type Seed struct {
	School      persistence.School
	Teachers    []persistence.Teacher
	Students    []persistence.Student
	Package     persistence.Package
	Commissions []persistence.Commission
	Bookings    []persistence.Booking
	Lessons     []persistence.Lesson
	Events      []persistence.Event
}

// DefaultSeed describes two teachers on Day:
//
//	alice: 09:00-10:00 and 11:00-12:00 (fixed 20/h)
//	bob:   10:00-11:30 (30%)
//
// Both bookings use a 2-student package priced 120 per student for 120 minutes.
func DefaultSeed() Seed {
	created := referenceTime
	alice, bob := TeacherAliceID, TeacherBobID
	aliceCommission, bobCommission := CommissionAliceID, CommissionBobID

	return Seed{
		School: persistence.School{ID: SchoolID, Name: "North Shore Kite", Timezone: "UTC", CreatedAt: created},
		Teachers: []persistence.Teacher{
			{ID: TeacherAliceID, SchoolID: SchoolID, Username: "alice", Name: "Alice", SortOrder: 1, Active: true, CreatedAt: created, UpdatedAt: created},
			{ID: TeacherBobID, SchoolID: SchoolID, Username: "bob", Name: "Bob", SortOrder: 2, Active: true, CreatedAt: created, UpdatedAt: created},
		},
		Students: []persistence.Student{
			{ID: StudentAnaID, SchoolID: SchoolID, Name: "Ana", CreatedAt: created},
			{ID: StudentBenID, SchoolID: SchoolID, Name: "Ben", CreatedAt: created},
		},
		Package: persistence.Package{
			ID:                PackageID,
			SchoolID:          SchoolID,
			Description:       "Private duo",
			PricePerStudent:   120,
			DurationMinutes:   120,
			CategoryEquipment: "kite",
			CapacityEquipment: 1,
			CapacityStudents:  2,
			CreatedAt:         created,
		},
		Commissions: []persistence.Commission{
			{ID: CommissionAliceID, TeacherID: TeacherAliceID, Type: "fixed", CPH: 20, Description: "standard", CreatedAt: created},
			{ID: CommissionBobID, TeacherID: TeacherBobID, Type: "percentage", CPH: 30, Description: "senior", CreatedAt: created},
		},
		Bookings: []persistence.Booking{
			{ID: BookingOneID, SchoolID: SchoolID, PackageID: PackageID, DateStart: Day, DateEnd: Day.AddDate(0, 0, 2), StudentIDs: []string{StudentAnaID, StudentBenID}, CreatedAt: created, UpdatedAt: created},
			{ID: BookingTwoID, SchoolID: SchoolID, PackageID: PackageID, DateStart: Day, DateEnd: Day.AddDate(0, 0, 2), StudentIDs: []string{StudentBenID, StudentAnaID}, CreatedAt: created, UpdatedAt: created},
		},
		Lessons: []persistence.Lesson{
			{ID: LessonAliceID, BookingID: BookingOneID, TeacherID: &alice, CommissionID: &aliceCommission, Status: "active", CreatedAt: created, UpdatedAt: created},
			{ID: LessonBobID, BookingID: BookingTwoID, TeacherID: &bob, CommissionID: &bobCommission, Status: "active", CreatedAt: created, UpdatedAt: created},
		},
		Events: []persistence.Event{
			NewEvent(WithEventID(EventAliceFirstID), WithEventLesson(LessonAliceID), WithEventStart(At(9, 0)), WithEventDuration(60)),
			NewEvent(WithEventID(EventAliceLastID), WithEventLesson(LessonAliceID), WithEventStart(At(11, 0)), WithEventDuration(60)),
			NewEvent(WithEventID(EventBobID), WithEventLesson(LessonBobID), WithEventStart(At(10, 0)), WithEventDuration(90)),
		},
	}
}

// Apply writes the seed into store in dependency order.
func (s Seed) Apply(ctx context.Context, store persistence.Store) error {
	if err := store.CreateSchool(ctx, s.School); err != nil {
		return fmt.Errorf("school: %w", err)
	}
	for _, teacher := range s.Teachers {
		if err := store.CreateTeacher(ctx, teacher); err != nil {
			return fmt.Errorf("teacher %s: %w", teacher.ID, err)
		}
	}
	for _, student := range s.Students {
		if err := store.CreateStudent(ctx, student); err != nil {
			return fmt.Errorf("student %s: %w", student.ID, err)
		}
	}
	if err := store.CreatePackage(ctx, s.Package); err != nil {
		return fmt.Errorf("package: %w", err)
	}
	for _, commission := range s.Commissions {
		if err := store.CreateCommission(ctx, commission); err != nil {
			return fmt.Errorf("commission %s: %w", commission.ID, err)
		}
	}
	for _, booking := range s.Bookings {
		if err := store.CreateBooking(ctx, booking); err != nil {
			return fmt.Errorf("booking %s: %w", booking.ID, err)
		}
	}
	for _, lesson := range s.Lessons {
		if err := store.CreateLesson(ctx, lesson); err != nil {
			return fmt.Errorf("lesson %s: %w", lesson.ID, err)
		}
	}
	for _, event := range s.Events {
		if err := store.CreateEvent(ctx, event); err != nil {
			return fmt.Errorf("event %s: %w", event.ID, err)
		}
	}
	return nil
}

// EventOption configures a generated event.
type EventOption func(*persistence.Event)

// NewEvent returns a planned 60 minute event at 09:00 on Day with optional
// overrides.
func NewEvent(opts ...EventOption) persistence.Event {
	idx := atomic.AddUint64(&eventCounter, 1)
	event := persistence.Event{
		ID:        fmt.Sprintf("event-%03d", idx),
		LessonID:  LessonAliceID,
		Date:      At(9, 0),
		Duration:  60,
		Location:  "Main beach",
		Status:    "planned",
		CreatedAt: referenceTime,
		UpdatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&event)
	}
	return event
}

// WithEventID overrides the generated id.
func WithEventID(id string) EventOption {
	return func(e *persistence.Event) {
		e.ID = id
	}
}

// WithEventLesson sets the owning lesson.
func WithEventLesson(lessonID string) EventOption {
	return func(e *persistence.Event) {
		e.LessonID = lessonID
	}
}

// WithEventStart sets the start instant.
func WithEventStart(t time.Time) EventOption {
	return func(e *persistence.Event) {
		e.Date = t
	}
}

// WithEventDuration sets the duration in minutes.
func WithEventDuration(minutes int) EventOption {
	return func(e *persistence.Event) {
		e.Duration = minutes
	}
}

// WithEventStatus sets the status.
func WithEventStatus(status string) EventOption {
	return func(e *persistence.Event) {
		e.Status = status
	}
}
