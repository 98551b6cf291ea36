package persistence

import "time"

// School is a tenant operating teachers, packages and bookings.
type School struct {
	ID        string
	Name      string
	Timezone  string
	CreatedAt time.Time
}

// Teacher is an instructor employed by a school.
type Teacher struct {
	ID        string
	SchoolID  string
	Username  string
	Name      string
	SortOrder int
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Student is a person that can be placed on bookings.
type Student struct {
	ID        string
	SchoolID  string
	Name      string
	CreatedAt time.Time
}

// Package is a product sold by a school.
type Package struct {
	ID                string
	SchoolID          string
	Description       string
	PricePerStudent   float64
	DurationMinutes   int
	CategoryEquipment string
	CapacityEquipment int
	CapacityStudents  int
	CreatedAt         time.Time
}

// Commission is a teacher's pay policy.
type Commission struct {
	ID          string
	TeacherID   string
	Type        string
	CPH         float64
	Description string
	CreatedAt   time.Time
}

// Booking is a sold package for a group of students over a date range.
type Booking struct {
	ID         string
	SchoolID   string
	PackageID  string
	DateStart  time.Time
	DateEnd    time.Time
	StudentIDs []string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Lesson assigns a teacher and commission inside a booking.
type Lesson struct {
	ID           string
	BookingID    string
	TeacherID    *string
	CommissionID *string
	Status       string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Event is one scheduled occurrence of a lesson.
type Event struct {
	ID        string
	LessonID  string
	Date      time.Time
	Duration  int
	Location  string
	Status    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventUpdate carries the fields of an event to overwrite. Nil fields are left
// unchanged.
type EventUpdate struct {
	ID       string
	Date     *time.Time
	Duration *int
	Location *string
	Status   *string
}

// LessonSchedule is a lesson joined with its teacher, commission and events.
type LessonSchedule struct {
	Lesson     Lesson
	Teacher    *Teacher
	Commission *Commission
	Events     []Event
}

// BookingSchedule is the full read model of a booking as the classboard
// consumes it.
type BookingSchedule struct {
	Booking  Booking
	Package  *Package
	Students []Student
	Lessons  []LessonSchedule
}
