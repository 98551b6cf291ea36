package scheduler

import (
	"slices"
	"time"
)

// Status describes the lifecycle of a scheduled event.
type Status string

const (
	StatusPlanned     Status = "planned"
	StatusTBC         Status = "tbc"
	StatusCompleted   Status = "completed"
	StatusUncompleted Status = "uncompleted"
)

// Valid reports whether the status is one of the known values.
func (s Status) Valid() bool {
	switch s {
	case StatusPlanned, StatusTBC, StatusCompleted, StatusUncompleted:
		return true
	}
	return false
}

// Teacher identifies the owner of a queue.
type Teacher struct {
	ID   string
	Name string
}

// Student is a roster entry captured when the node is built.
type Student struct {
	ID   string
	Name string
}

// EventData holds the mutable fields of an event. Editing sessions change these
// in place on the live queue.
type EventData struct {
	Date     time.Time
	Duration int
	Location string
	Status   Status
}

// End returns the instant the event finishes.
func (d EventData) End() time.Time {
	return d.Date.Add(time.Duration(d.Duration) * time.Minute)
}

// EventNode is one scheduled occurrence of a lesson inside a TeacherQueue.
//
// ID is empty for optimistic nodes that have not been persisted yet. The
// financial context is fixed when the node is created.
type EventNode struct {
	ID        string
	LessonID  string
	BookingID string
	EventData EventData

	Commission Commission
	Package    PackageData
	Students   []Student

	// next is the position of the following node in the owning queue's storage,
	// or noNext at the tail.
	next int
	// seq records insertion order and breaks ties between equal dates.
	seq uint64
}

const noNext = -1

// NewEventNode builds a detached node ready for insertion into a queue.
func NewEventNode(id, lessonID, bookingID string, data EventData, commission Commission, pkg PackageData, students []Student) *EventNode {
	return &EventNode{
		ID:         id,
		LessonID:   lessonID,
		BookingID:  bookingID,
		EventData:  data,
		Commission: commission,
		Package:    pkg,
		Students:   slices.Clone(students),
		next:       noNext,
	}
}

// Optimistic reports whether the node has not been persisted yet.
func (n *EventNode) Optimistic() bool {
	return n.ID == ""
}

// Revenue returns the revenue breakdown for the node's current duration.
func (n *EventNode) Revenue() Breakdown {
	return Calculate(n.Package, len(n.Students), n.EventData.Duration, n.Commission)
}

func (n *EventNode) clone() EventNode {
	out := *n
	out.Students = slices.Clone(n.Students)
	return out
}
