package scheduler

import (
	"errors"
	"iter"
	"sort"
	"time"
)

// ErrEventNotFound is returned when an event id is not part of the queue.
var ErrEventNotFound = errors.New("scheduler: event not found")

// TeacherQueue is one teacher's chronologically ordered events for one day.
//
// Nodes live in a backing slice; ordering is expressed through each node's next
// index so the structure holds no pointers between nodes.
type TeacherQueue struct {
	teacher Teacher
	nodes   []*EventNode
	head    int
	seq     uint64
}

// NewTeacherQueue returns an empty queue for the teacher.
func NewTeacherQueue(teacher Teacher) *TeacherQueue {
	return &TeacherQueue{teacher: teacher, head: noNext}
}

// Teacher returns the owner of the queue.
func (q *TeacherQueue) Teacher() Teacher {
	return q.teacher
}

// Len returns the number of events in the queue.
func (q *TeacherQueue) Len() int {
	return len(q.nodes)
}

// AddToQueueInChronologicalOrder splices node into its chronological position and
// pushes later events forward until every adjacent pair is separated by at least
// gapMinutes. Nodes with equal dates keep insertion order.
func (q *TeacherQueue) AddToQueueInChronologicalOrder(node *EventNode, gapMinutes int) {
	if node == nil {
		return
	}
	node.next = noNext
	q.nodes = append(q.nodes, node)
	q.link(len(q.nodes)-1, gapMinutes)
}

// link places the node stored at idx into the chain and enforces the gap
// starting at its predecessor.
func (q *TeacherQueue) link(idx, gapMinutes int) {
	if gapMinutes < 0 {
		gapMinutes = 0
	}
	node := q.nodes[idx]
	q.seq++
	node.seq = q.seq

	prev := noNext
	cur := q.head
	for cur != noNext && !q.nodes[cur].EventData.Date.After(node.EventData.Date) {
		prev = cur
		cur = q.nodes[cur].next
	}
	node.next = cur
	if prev == noNext {
		q.head = idx
	} else {
		q.nodes[prev].next = idx
		if earliest := q.earliestAfter(prev, gapMinutes); node.EventData.Date.Before(earliest) {
			node.EventData.Date = earliest
		}
	}
	q.cascade(idx, gapMinutes)
}

// cascade walks forward from idx pushing each following node to the earliest
// legal start until a pair already satisfies the gap. It returns the number of
// nodes moved.
func (q *TeacherQueue) cascade(idx, gapMinutes int) int {
	moved := 0
	cur := idx
	for cur != noNext {
		nextIdx := q.nodes[cur].next
		if nextIdx == noNext {
			break
		}
		earliest := q.earliestAfter(cur, gapMinutes)
		next := q.nodes[nextIdx]
		if !next.EventData.Date.Before(earliest) {
			break
		}
		next.EventData.Date = earliest
		moved++
		cur = nextIdx
	}
	return moved
}

func (q *TeacherQueue) earliestAfter(idx, gapMinutes int) time.Time {
	return q.nodes[idx].EventData.End().Add(time.Duration(gapMinutes) * time.Minute)
}

// unlink detaches the node stored at idx from the chain without removing it from
// storage.
func (q *TeacherQueue) unlink(idx int) {
	if q.head == idx {
		q.head = q.nodes[idx].next
		q.nodes[idx].next = noNext
		return
	}
	for cur := q.head; cur != noNext; cur = q.nodes[cur].next {
		if q.nodes[cur].next == idx {
			q.nodes[cur].next = q.nodes[idx].next
			break
		}
	}
	q.nodes[idx].next = noNext
}

// Remove deletes the event with the given id. Remaining events keep their times.
func (q *TeacherQueue) Remove(id string) bool {
	idx := q.indexOf(id)
	if idx < 0 {
		return false
	}
	q.removeAt(idx)
	return true
}

// RemoveNode deletes a specific node, which also covers optimistic nodes
// without an id.
func (q *TeacherQueue) RemoveNode(node *EventNode) bool {
	for i, n := range q.nodes {
		if n == node {
			q.removeAt(i)
			return true
		}
	}
	return false
}

func (q *TeacherQueue) removeAt(idx int) {
	q.unlink(idx)
	ordered := make([]*EventNode, 0, len(q.nodes)-1)
	for _, node := range q.Events() {
		ordered = append(ordered, node)
	}
	q.rebuild(ordered)
}

// rebuild replaces storage with nodes in the given order and relinks them.
func (q *TeacherQueue) rebuild(ordered []*EventNode) {
	q.nodes = ordered
	q.head = noNext
	for i := len(ordered) - 1; i >= 0; i-- {
		ordered[i].next = q.head
		q.head = i
	}
}

// resort restores chronological order after in-place date edits. Ties keep
// their previous relative order.
func (q *TeacherQueue) resort() {
	ordered := q.Events()
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].EventData.Date.Before(ordered[j].EventData.Date)
	})
	q.rebuild(ordered)
}

func (q *TeacherQueue) indexOf(id string) int {
	if id == "" {
		return -1
	}
	for i, node := range q.nodes {
		if node.ID == id {
			return i
		}
	}
	return -1
}

// Event returns the live node with the given id.
func (q *TeacherQueue) Event(id string) (*EventNode, bool) {
	idx := q.indexOf(id)
	if idx < 0 {
		return nil, false
	}
	return q.nodes[idx], true
}

// All iterates the queue in chronological order.
func (q *TeacherQueue) All() iter.Seq[*EventNode] {
	return func(yield func(*EventNode) bool) {
		for cur := q.head; cur != noNext; cur = q.nodes[cur].next {
			if !yield(q.nodes[cur]) {
				return
			}
		}
	}
}

// Events returns the live nodes in chronological order.
func (q *TeacherQueue) Events() []*EventNode {
	out := make([]*EventNode, 0, len(q.nodes))
	for node := range q.All() {
		out = append(out, node)
	}
	return out
}

// Next returns the node that follows the given one, if any.
func (q *TeacherQueue) Next(node *EventNode) (*EventNode, bool) {
	if node == nil || node.next == noNext || node.next >= len(q.nodes) {
		return nil, false
	}
	return q.nodes[node.next], true
}

// NextSlot returns the earliest start for a new event appended after the last
// one, or dayStart for an empty queue.
func (q *TeacherQueue) NextSlot(dayStart time.Time, gapMinutes int) time.Time {
	if gapMinutes < 0 {
		gapMinutes = 0
	}
	slot := dayStart
	for node := range q.All() {
		if candidate := node.EventData.End().Add(time.Duration(gapMinutes) * time.Minute); candidate.After(slot) {
			slot = candidate
		}
	}
	return slot
}

// RevenueFor returns the revenue breakdown of one event.
func (q *TeacherQueue) RevenueFor(eventID string) (Breakdown, error) {
	node, ok := q.Event(eventID)
	if !ok {
		return Breakdown{}, ErrEventNotFound
	}
	return node.Revenue(), nil
}

// QueueStats aggregates the events of a queue.
type QueueStats struct {
	Events          int
	DurationMinutes int
	Gross           float64
	Commission      float64
	Net             float64
	FirstStart      time.Time
	LastEnd         time.Time
	ByStatus        map[Status]int
}

// Stats summarises duration and revenue across the queue.
func (q *TeacherQueue) Stats() QueueStats {
	stats := QueueStats{ByStatus: make(map[Status]int)}
	for node := range q.All() {
		breakdown := node.Revenue()
		stats.Events++
		stats.DurationMinutes += node.EventData.Duration
		stats.Gross += breakdown.Gross
		stats.Commission += breakdown.Commission
		stats.Net += breakdown.Net
		stats.ByStatus[node.EventData.Status]++
		if stats.FirstStart.IsZero() || node.EventData.Date.Before(stats.FirstStart) {
			stats.FirstStart = node.EventData.Date
		}
		if end := node.EventData.End(); end.After(stats.LastEnd) {
			stats.LastEnd = end
		}
	}
	return stats
}
