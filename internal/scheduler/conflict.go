package scheduler

import "time"

// ConflictType describes how two adjacent events clash.
type ConflictType string

const (
	// ConflictTypeOverlap indicates the later event starts before the earlier one ends.
	ConflictTypeOverlap ConflictType = "overlap"
	// ConflictTypeGap indicates the events do not overlap but leave less than the
	// required turnaround between them.
	ConflictTypeGap ConflictType = "gap"
)

// Conflict details a clash between two consecutive events of the same teacher.
type Conflict struct {
	EventID     string
	WithEventID string
	Type        ConflictType
	// ShortfallMinutes is how far the later event would have to move to satisfy the gap.
	ShortfallMinutes int
}

// DetectConflicts compares each adjacent pair of the chronologically ordered
// events against the minimum gap.
func DetectConflicts(events []*EventNode, gapMinutes int) []Conflict {
	if len(events) < 2 {
		return nil
	}
	if gapMinutes < 0 {
		gapMinutes = 0
	}
	gap := time.Duration(gapMinutes) * time.Minute

	var conflicts []Conflict
	for i := 1; i < len(events); i++ {
		prev, cur := events[i-1], events[i]
		end := prev.EventData.End()
		required := end.Add(gap)
		if !cur.EventData.Date.Before(required) {
			continue
		}
		kind := ConflictTypeGap
		if cur.EventData.Date.Before(end) {
			kind = ConflictTypeOverlap
		}
		conflicts = append(conflicts, Conflict{
			EventID:          prev.ID,
			WithEventID:      cur.ID,
			Type:             kind,
			ShortfallMinutes: int(required.Sub(cur.EventData.Date) / time.Minute),
		})
	}
	return conflicts
}
