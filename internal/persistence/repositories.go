package persistence

import (
	"context"
	"time"
)

// CatalogRepository stores the reference data bookings point at.
type CatalogRepository interface {
	CreateSchool(ctx context.Context, school School) error
	GetSchool(ctx context.Context, id string) (School, error)
	CreateTeacher(ctx context.Context, teacher Teacher) error
	GetTeacher(ctx context.Context, id string) (Teacher, error)
	ListTeachers(ctx context.Context, schoolID string) ([]Teacher, error)
	CreateStudent(ctx context.Context, student Student) error
	CreatePackage(ctx context.Context, pkg Package) error
	GetPackage(ctx context.Context, id string) (Package, error)
	CreateCommission(ctx context.Context, commission Commission) error
}

// BookingFilter narrows booking schedule queries.
type BookingFilter struct {
	SchoolID string
	// From and To select bookings whose date range overlaps [From, To) or that
	// own at least one event inside it.
	From time.Time
	To   time.Time
}

// BookingRepository stores bookings and lessons and reads them back as
// schedules.
type BookingRepository interface {
	CreateBooking(ctx context.Context, booking Booking) error
	CreateLesson(ctx context.Context, lesson Lesson) error
	GetLesson(ctx context.Context, id string) (Lesson, error)
	GetBookingSchedule(ctx context.Context, id string) (BookingSchedule, error)
	ListBookingSchedules(ctx context.Context, filter BookingFilter) ([]BookingSchedule, error)
}

// EventRepository stores lesson events.
type EventRepository interface {
	CreateEvent(ctx context.Context, event Event) error
	GetEvent(ctx context.Context, id string) (Event, error)
	// ApplyEventChanges writes updates and deletions atomically. An unknown id
	// fails the whole batch with ErrNotFound.
	ApplyEventChanges(ctx context.Context, updates []EventUpdate, deletions []string, updatedAt time.Time) error
	UpdateEventStatus(ctx context.Context, ids []string, status string, updatedAt time.Time) error
	DeleteEvents(ctx context.Context, ids []string) error
}

// Store bundles every repository behind one handle.
type Store interface {
	CatalogRepository
	BookingRepository
	EventRepository
	Close() error
}
