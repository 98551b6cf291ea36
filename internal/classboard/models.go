// Package classboard holds the day's booking schedules as the scheduling core
// consumes them, builds per-teacher queues from them and reconciles the local
// copy with confirmed change notifications and pending optimistic operations.
package classboard

import (
	"slices"
	"time"

	"github.com/example/classboard/internal/scheduler"
)

// Teacher is the instructor a lesson is assigned to.
type Teacher struct {
	ID       string
	Username string
	Name     string
}

// Student is a roster entry on a booking.
type Student struct {
	ID   string
	Name string
}

// Package is the school package a booking was sold from.
type Package struct {
	ID                string
	Description       string
	PricePerStudent   float64
	DurationMinutes   int
	CategoryEquipment string
	CapacityEquipment int
	CapacityStudents  int
}

// Event is one persisted occurrence of a lesson.
type Event struct {
	ID       string
	LessonID string
	Date     time.Time
	Duration int
	Location string
	Status   scheduler.Status
}

// End returns when the event finishes.
func (e Event) End() time.Time {
	return e.Date.Add(time.Duration(e.Duration) * time.Minute)
}

// Lesson pairs a teacher and a commission policy inside a booking.
type Lesson struct {
	ID         string
	BookingID  string
	Status     string
	Teacher    *Teacher
	Commission *scheduler.Commission
	Events     []Event
}

// Booking is a full booking schedule: package, roster, lessons and events.
type Booking struct {
	ID        string
	SchoolID  string
	DateStart time.Time
	DateEnd   time.Time
	Package   *Package
	Students  []Student
	Lessons   []Lesson
	UpdatedAt time.Time
}

// Clone returns a deep copy of the booking.
func (b Booking) Clone() Booking {
	out := b
	if b.Package != nil {
		pkg := *b.Package
		out.Package = &pkg
	}
	out.Students = slices.Clone(b.Students)
	if b.Lessons != nil {
		out.Lessons = make([]Lesson, len(b.Lessons))
		for i, lesson := range b.Lessons {
			out.Lessons[i] = lesson.clone()
		}
	}
	return out
}

func (l Lesson) clone() Lesson {
	out := l
	if l.Teacher != nil {
		teacher := *l.Teacher
		out.Teacher = &teacher
	}
	if l.Commission != nil {
		commission := *l.Commission
		out.Commission = &commission
	}
	out.Events = slices.Clone(l.Events)
	return out
}

// HasEvent reports whether the booking contains the event.
func (b Booking) HasEvent(eventID string) bool {
	for _, lesson := range b.Lessons {
		for _, event := range lesson.Events {
			if event.ID == eventID {
				return true
			}
		}
	}
	return false
}

// Lesson returns the lesson with the given id.
func (b Booking) Lesson(lessonID string) (Lesson, bool) {
	for _, lesson := range b.Lessons {
		if lesson.ID == lessonID {
			return lesson, true
		}
	}
	return Lesson{}, false
}

// DayRange is the half-open interval [Start, End) covering one school day.
// It is computed at the boundary in the school's timezone.
type DayRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range.
func (r DayRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}
