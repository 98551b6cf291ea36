// Package scheduler implements the per-teacher day queue behind the classboard.
//
// A TeacherQueue keeps one teacher's events for one day in chronological order
// and enforces a minimum turnaround gap on insertion by pushing later events
// forward. A QueueController runs an editing session over a queue: it snapshots
// the events, lets callers move and resize them in place either in cascade mode
// or in time-respect mode, and produces the update/deletion batch to persist.
//
// The package performs no timezone conversion. All dates are compared as
// absolute instants; callers convert at the boundary.
package scheduler
