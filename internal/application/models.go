package application

import (
	"time"

	"github.com/example/classboard/internal/classboard"
	"github.com/example/classboard/internal/scheduler"
)

// School is the tenant a classboard belongs to.
type School struct {
	ID       string
	Name     string
	Location *time.Location
}

// EventRef is a stored event together with the booking and school it belongs to.
type EventRef struct {
	Event     classboard.Event
	BookingID string
	SchoolID  string
}

// LessonRef locates a lesson.
type LessonRef struct {
	ID        string
	BookingID string
	SchoolID  string
}

// EventChange is one event update inside a bulk mutation. Nil fields are left untouched.
type EventChange struct {
	ID       string
	Date     *time.Time
	Duration *int
	Location *string
	Status   *scheduler.Status
}

// DayView is the classboard for one school and calendar day.
type DayView struct {
	SchoolID    string
	Date        string
	Timezone    string
	Range       classboard.DayRange
	GapMinutes  int
	Queues      []QueueView
	Skipped     []classboard.Skipped
	Conflicts   []ConflictWarning
	GeneratedAt time.Time
}

// QueueView is one teacher's ordered events with aggregates.
type QueueView struct {
	TeacherID   string
	TeacherName string
	Events      []EventView
	Stats       scheduler.QueueStats
}

// EventView is one scheduled event with its computed revenue.
type EventView struct {
	ID                 string
	LessonID           string
	BookingID          string
	Start              time.Time
	End                time.Time
	Duration           int
	Location           string
	Status             scheduler.Status
	Students           []string
	PackageDescription string
	Commission         scheduler.Commission
	Revenue            scheduler.Breakdown
}

// ConflictWarning reports two adjacent events of a teacher closer than the gap.
type ConflictWarning struct {
	TeacherID        string
	EventID          string
	WithEventID      string
	Type             string
	ShortfallMinutes int
}

// RevenueView is the revenue breakdown of a single event.
type RevenueView struct {
	EventID   string
	LessonID  string
	BookingID string
	TeacherID string
	Students  int
	Breakdown scheduler.Breakdown
}

// DayParams selects a classboard day.
type DayParams struct {
	SchoolID string
	// Date is a calendar day formatted as YYYY-MM-DD in the school's timezone.
	Date string
}

// SubmitChangesParams is a bulk mutation of one school's events.
type SubmitChangesParams struct {
	SchoolID  string
	Updates   []EventChange
	Deletions []string
}

// UpdateStatusParams sets the status of several events.
type UpdateStatusParams struct {
	SchoolID string
	EventIDs []string
	Status   scheduler.Status
}

// DeleteEventsParams removes events.
type DeleteEventsParams struct {
	SchoolID string
	EventIDs []string
}

// DeleteEventsResult lists the optimistic operation keys tracked for the deletion.
type DeleteEventsResult struct {
	Deleted     []string
	PendingKeys []string
}

// CreateEventParams describes a new event for a lesson. A nil Date places the
// event after the teacher's last event of Day; a zero Duration uses the
// package duration.
type CreateEventParams struct {
	SchoolID string
	LessonID string
	Day      string
	Date     *time.Time
	Duration int
	Location string
	Status   scheduler.Status
}

// CreatedEvent is the stored event and the key of its optimistic add.
type CreatedEvent struct {
	Event      classboard.Event
	BookingID  string
	PendingKey string
}

// StartAdjustmentParams opens an editing session over one teacher's day.
type StartAdjustmentParams struct {
	SchoolID  string
	TeacherID string
	Date      string
	// Locked and GapMinutes override the service defaults when set.
	Locked     *bool
	GapMinutes *int
}

// AdjustmentView is the state of an editing session.
type AdjustmentView struct {
	ID           string
	SchoolID     string
	TeacherID    string
	TeacherName  string
	Date         string
	Locked       bool
	GapMinutes   int
	Revision     uint64
	Events       []EventView
	Changes      scheduler.Changes
	Optimisation scheduler.OptimisationStats
	Conflicts    []ConflictWarning
	StartedAt    time.Time
}

// SubmitResult reports what an editing session persisted.
type SubmitResult struct {
	SessionID string
	Updated   int
	Deleted   int
}
