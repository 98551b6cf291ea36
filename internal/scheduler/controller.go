package scheduler

import (
	"errors"
	"sort"
	"time"
)

var (
	// ErrAdjustmentActive is returned when adjustment mode is entered twice.
	ErrAdjustmentActive = errors.New("scheduler: adjustment mode already active")
	// ErrNotAdjusting is returned when an edit is attempted outside adjustment mode.
	ErrNotAdjusting = errors.New("scheduler: adjustment mode not active")
)

// Mode is the state of an editing session.
type Mode int

const (
	ModeIdle Mode = iota
	ModeAdjusting
)

func (m Mode) String() string {
	if m == ModeAdjusting {
		return "adjustment"
	}
	return "idle"
}

// ControllerSettings configures an editing session.
type ControllerSettings struct {
	// Locked selects cascade mode: edits push every later event to keep the gap.
	// When false, edits are clamped so they never reach into neighbouring events.
	Locked     bool
	GapMinutes int
}

// EventUpdate carries the fields of one event that differ from the snapshot.
type EventUpdate struct {
	ID       string
	Date     *time.Time
	Duration *int
	Location *string
	Status   *Status
}

// Changes is the batch an editing session wants persisted.
type Changes struct {
	Updates   []EventUpdate
	Deletions []string
}

// Empty reports whether there is nothing to submit.
func (c Changes) Empty() bool {
	return len(c.Updates) == 0 && len(c.Deletions) == 0
}

// OptimisationStats describes how far a queue is from its packed arrangement.
type OptimisationStats struct {
	// Optimised is true when every adjacent pair respects the gap.
	Optimised bool
	Events    int
	// Misplaced counts events not starting exactly one gap after their predecessor.
	Misplaced int
	// Violations counts adjacent pairs closer than the gap.
	Violations int
}

// QueueController is an editing session over one TeacherQueue. Mutations happen
// in place on the live nodes; the snapshot taken when adjustment mode starts is
// the reference for diffing and resets.
type QueueController struct {
	queue    *TeacherQueue
	settings ControllerSettings
	mode     Mode

	snapshot   map[string]EventNode
	order      []string
	optimistic []*EventNode

	revision uint64
}

// NewQueueController wraps the queue in an idle controller.
func NewQueueController(queue *TeacherQueue, settings ControllerSettings) *QueueController {
	if settings.GapMinutes < 0 {
		settings.GapMinutes = 0
	}
	return &QueueController{queue: queue, settings: settings}
}

// Queue returns the live queue being edited.
func (c *QueueController) Queue() *TeacherQueue {
	return c.queue
}

// Settings returns the current session settings.
func (c *QueueController) Settings() ControllerSettings {
	return c.settings
}

// SetLocked switches between cascade and time-respect editing.
func (c *QueueController) SetLocked(locked bool) {
	if c.settings.Locked == locked {
		return
	}
	c.settings.Locked = locked
	c.revision++
}

// Mode returns the session state.
func (c *QueueController) Mode() Mode {
	return c.mode
}

// Adjusting reports whether adjustment mode is active.
func (c *QueueController) Adjusting() bool {
	return c.mode == ModeAdjusting
}

// Revision is a monotonic counter bumped on every edit; consumers compare it to
// detect that the in-place state changed.
func (c *QueueController) Revision() uint64 {
	return c.revision
}

// Touch records an edit made directly on a live node.
func (c *QueueController) Touch() {
	c.revision++
}

// StartAdjustmentMode snapshots every persisted event and enters adjustment mode.
func (c *QueueController) StartAdjustmentMode() error {
	if c.mode == ModeAdjusting {
		return ErrAdjustmentActive
	}
	c.snapshot = make(map[string]EventNode, c.queue.Len())
	c.order = c.order[:0]
	c.optimistic = nil
	for node := range c.queue.All() {
		if node.Optimistic() {
			c.optimistic = append(c.optimistic, node)
			continue
		}
		c.snapshot[node.ID] = node.clone()
		c.order = append(c.order, node.ID)
	}
	c.mode = ModeAdjusting
	c.revision++
	return nil
}

// ExitAdjustmentMode drops the snapshot and returns to idle without submitting.
func (c *QueueController) ExitAdjustmentMode() {
	c.snapshot = nil
	c.order = nil
	c.optimistic = nil
	c.mode = ModeIdle
	c.revision++
}

// SnapshotBookings maps every snapshotted event id to its booking id.
func (c *QueueController) SnapshotBookings() map[string]string {
	out := make(map[string]string, len(c.snapshot))
	for id, node := range c.snapshot {
		out[id] = node.BookingID
	}
	return out
}

// HasChanges reports whether any tracked field or the set of persisted events
// differs from the snapshot.
func (c *QueueController) HasChanges() bool {
	if c.mode != ModeAdjusting {
		return false
	}
	seen := 0
	for node := range c.queue.All() {
		if node.Optimistic() {
			continue
		}
		snap, ok := c.snapshot[node.ID]
		if !ok {
			return true
		}
		seen++
		if diffEvent(snap.EventData, node.EventData, node.ID) != nil {
			return true
		}
	}
	return seen != len(c.snapshot)
}

// GetChanges returns the updates and deletions made since the snapshot. Updates
// follow queue order and carry only the fields that changed.
func (c *QueueController) GetChanges() Changes {
	var changes Changes
	if c.mode != ModeAdjusting {
		return changes
	}
	live := make(map[string]struct{}, c.queue.Len())
	for node := range c.queue.All() {
		if node.Optimistic() {
			continue
		}
		live[node.ID] = struct{}{}
		snap, ok := c.snapshot[node.ID]
		if !ok {
			continue
		}
		if update := diffEvent(snap.EventData, node.EventData, node.ID); update != nil {
			changes.Updates = append(changes.Updates, *update)
		}
	}
	for _, id := range c.order {
		if _, ok := live[id]; !ok {
			changes.Deletions = append(changes.Deletions, id)
		}
	}
	return changes
}

func diffEvent(before, after EventData, id string) *EventUpdate {
	update := EventUpdate{ID: id}
	changed := false
	if !before.Date.Equal(after.Date) {
		date := after.Date
		update.Date = &date
		changed = true
	}
	if before.Duration != after.Duration {
		duration := after.Duration
		update.Duration = &duration
		changed = true
	}
	if before.Location != after.Location {
		location := after.Location
		update.Location = &location
		changed = true
	}
	if before.Status != after.Status {
		status := after.Status
		update.Status = &status
		changed = true
	}
	if !changed {
		return nil
	}
	return &update
}

// ResetToSnapshot restores the queue to the snapshot in place: tracked fields are
// written back, removed events return and events added during the session are
// dropped. Adjustment mode stays active.
func (c *QueueController) ResetToSnapshot() error {
	if c.mode != ModeAdjusting {
		return ErrNotAdjusting
	}
	live := make(map[string]*EventNode, c.queue.Len())
	for node := range c.queue.All() {
		if !node.Optimistic() {
			live[node.ID] = node
		}
	}
	restored := make([]*EventNode, 0, len(c.order)+len(c.optimistic))
	for _, id := range c.order {
		snap := c.snapshot[id]
		if node, ok := live[id]; ok {
			node.EventData = snap.EventData
			restored = append(restored, node)
			continue
		}
		clone := snap.clone()
		restored = append(restored, &clone)
	}
	restored = append(restored, c.optimistic...)
	sort.SliceStable(restored, func(i, j int) bool {
		return restored[i].EventData.Date.Before(restored[j].EventData.Date)
	})
	c.queue.rebuild(restored)
	c.revision++
	return nil
}

// MoveEvent changes an event's start. In cascade mode the event is re-inserted
// and later events are pushed; otherwise the new start is clamped between the
// neighbours and the edit is dropped when no legal slot exists. The resulting
// start is returned.
func (c *QueueController) MoveEvent(id string, date time.Time) (time.Time, error) {
	if c.mode != ModeAdjusting {
		return time.Time{}, ErrNotAdjusting
	}
	idx := c.queue.indexOf(id)
	if idx < 0 {
		return time.Time{}, ErrEventNotFound
	}
	node := c.queue.nodes[idx]

	if c.settings.Locked {
		c.queue.unlink(idx)
		node.EventData.Date = date
		c.queue.link(idx, c.settings.GapMinutes)
		c.revision++
		return node.EventData.Date, nil
	}

	lower, hasLower, upper, hasUpper := c.bounds(node, node.EventData.Duration)
	target := date
	if hasLower && target.Before(lower) {
		target = lower
	}
	if hasUpper && target.After(upper) {
		target = upper
	}
	if hasLower && hasUpper && upper.Before(lower) {
		return node.EventData.Date, nil
	}
	if !target.Equal(node.EventData.Date) {
		node.EventData.Date = target
		c.revision++
	}
	return node.EventData.Date, nil
}

// ResizeEvent changes an event's duration. In cascade mode later events are
// pushed; otherwise the duration is capped so the event ends one gap before the
// next event. Non-positive durations are ignored. The resulting duration is
// returned.
func (c *QueueController) ResizeEvent(id string, minutes int) (int, error) {
	if c.mode != ModeAdjusting {
		return 0, ErrNotAdjusting
	}
	idx := c.queue.indexOf(id)
	if idx < 0 {
		return 0, ErrEventNotFound
	}
	node := c.queue.nodes[idx]
	if minutes <= 0 {
		return node.EventData.Duration, nil
	}

	if c.settings.Locked {
		if minutes != node.EventData.Duration {
			node.EventData.Duration = minutes
			c.queue.cascade(idx, c.settings.GapMinutes)
			c.revision++
		}
		return node.EventData.Duration, nil
	}

	if next, ok := c.queue.Next(node); ok {
		limit := next.EventData.Date.Sub(node.EventData.Date) - c.gap()
		maxMinutes := int(limit / time.Minute)
		if maxMinutes < 1 {
			return node.EventData.Duration, nil
		}
		if minutes > maxMinutes {
			minutes = maxMinutes
		}
	}
	if minutes != node.EventData.Duration {
		node.EventData.Duration = minutes
		c.revision++
	}
	return node.EventData.Duration, nil
}

// bounds returns the earliest and latest legal start for node in time-respect mode.
func (c *QueueController) bounds(node *EventNode, duration int) (lower time.Time, hasLower bool, upper time.Time, hasUpper bool) {
	var prev *EventNode
	for cur := range c.queue.All() {
		if cur == node {
			break
		}
		prev = cur
	}
	if prev != nil {
		lower = prev.EventData.End().Add(c.gap())
		hasLower = true
	}
	if next, ok := c.queue.Next(node); ok {
		upper = next.EventData.Date.Add(-c.gap()).Add(-time.Duration(duration) * time.Minute)
		hasUpper = true
	}
	return lower, hasLower, upper, hasUpper
}

func (c *QueueController) gap() time.Duration {
	return time.Duration(c.settings.GapMinutes) * time.Minute
}

// SetLocation updates an event's location.
func (c *QueueController) SetLocation(id, location string) error {
	node, err := c.editable(id)
	if err != nil {
		return err
	}
	if node.EventData.Location != location {
		node.EventData.Location = location
		c.revision++
	}
	return nil
}

// SetStatus updates an event's status. Unknown statuses are ignored.
func (c *QueueController) SetStatus(id string, status Status) error {
	node, err := c.editable(id)
	if err != nil {
		return err
	}
	if status.Valid() && node.EventData.Status != status {
		node.EventData.Status = status
		c.revision++
	}
	return nil
}

func (c *QueueController) editable(id string) (*EventNode, error) {
	if c.mode != ModeAdjusting {
		return nil, ErrNotAdjusting
	}
	node, ok := c.queue.Event(id)
	if !ok {
		return nil, ErrEventNotFound
	}
	return node, nil
}

// AddEvent inserts a node using the chronological insertion rules.
func (c *QueueController) AddEvent(node *EventNode) error {
	if c.mode != ModeAdjusting {
		return ErrNotAdjusting
	}
	c.queue.AddToQueueInChronologicalOrder(node, c.settings.GapMinutes)
	c.revision++
	return nil
}

// RemoveEvent deletes an event from the live queue; it is reported as a deletion
// by GetChanges when it was part of the snapshot.
func (c *QueueController) RemoveEvent(id string) error {
	if c.mode != ModeAdjusting {
		return ErrNotAdjusting
	}
	if !c.queue.Remove(id) {
		return ErrEventNotFound
	}
	c.revision++
	return nil
}

// GetOptimisationStats inspects the current arrangement without mutating it.
func (c *QueueController) GetOptimisationStats() OptimisationStats {
	ordered := c.queue.Events()
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EventData.Date.Before(ordered[j].EventData.Date)
	})
	stats := OptimisationStats{Events: len(ordered)}
	for i := 1; i < len(ordered); i++ {
		want := ordered[i-1].EventData.End().Add(c.gap())
		got := ordered[i].EventData.Date
		if !got.Equal(want) {
			stats.Misplaced++
		}
		if got.Before(want) {
			stats.Violations++
		}
	}
	stats.Optimised = stats.Violations == 0
	return stats
}

// IsQueueOptimised reports whether every adjacent pair already satisfies the
// minimum gap. Idle time beyond the gap is allowed; GetOptimisationStats counts
// those events as Misplaced.
func (c *QueueController) IsQueueOptimised() bool {
	return c.GetOptimisationStats().Optimised
}

// OptimiseQueue packs the day: the first event keeps its start and each later
// event starts one gap after its predecessor ends. It returns the number of
// events whose start changed and turns cascade mode on.
func (c *QueueController) OptimiseQueue() int {
	c.queue.resort()
	moved := 0
	var prev *EventNode
	for node := range c.queue.All() {
		if prev != nil {
			want := prev.EventData.End().Add(c.gap())
			if !node.EventData.Date.Equal(want) {
				node.EventData.Date = want
				moved++
			}
		}
		prev = node
	}
	c.settings.Locked = true
	c.revision++
	return moved
}
