package application

import (
	"maps"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/example/classboard/internal/classboard"
)

// dayCache stores built day views so repeated reads of an unchanged day skip
// the storage round trip and queue build. Writes through the service
// invalidate the affected school.
type dayCache struct {
	mu         sync.RWMutex
	now        func() time.Time
	ttl        time.Duration
	maxEntries int
	entries    map[string]dayCacheEntry
}

type dayCacheEntry struct {
	view      DayView
	expiresAt time.Time
}

func newDayCache(ttl time.Duration, maxEntries int, now func() time.Time) *dayCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxEntries <= 0 {
		maxEntries = 128
	}
	if now == nil {
		now = time.Now
	}
	return &dayCache{
		now:        now,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]dayCacheEntry),
	}
}

func (c *dayCache) Get(key string) (DayView, bool) {
	if c == nil {
		return DayView{}, false
	}
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return DayView{}, false
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return DayView{}, false
	}
	return cloneDayView(entry.view), true
}

func (c *dayCache) Store(key string, view DayView) {
	if c == nil {
		return
	}
	cloned := cloneDayView(view)
	expiry := c.now().Add(c.ttl)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.cleanupLocked()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOneLocked()
	}
	c.entries[key] = dayCacheEntry{view: cloned, expiresAt: expiry}
}

// InvalidateSchool drops every cached day of the school.
func (c *dayCache) InvalidateSchool(schoolID string) {
	if c == nil {
		return
	}
	prefix := schoolID + "|"
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
}

func (c *dayCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *dayCache) cleanupLocked() {
	now := c.now()
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
}

// evictOneLocked drops the entry closest to expiry.
func (c *dayCache) evictOneLocked() {
	var (
		victim string
		oldest time.Time
	)
	for key, entry := range c.entries {
		if victim == "" || entry.expiresAt.Before(oldest) {
			victim, oldest = key, entry.expiresAt
		}
	}
	delete(c.entries, victim)
}

func buildDayCacheKey(schoolID, date string, gapMinutes int, order []string) string {
	builder := strings.Builder{}
	builder.WriteString(schoolID)
	builder.WriteString("|")
	builder.WriteString(date)
	builder.WriteString("|")
	builder.WriteString(strconv.Itoa(gapMinutes))
	builder.WriteString("|")
	builder.WriteString(strings.Join(order, ","))
	return builder.String()
}

func cloneDayView(view DayView) DayView {
	out := view
	if view.Queues != nil {
		out.Queues = make([]QueueView, len(view.Queues))
		for i, queue := range view.Queues {
			out.Queues[i] = queue
			out.Queues[i].Events = cloneEventViews(queue.Events)
			out.Queues[i].Stats.ByStatus = maps.Clone(queue.Stats.ByStatus)
		}
	}
	if view.Skipped != nil {
		out.Skipped = append([]classboard.Skipped(nil), view.Skipped...)
	}
	if view.Conflicts != nil {
		out.Conflicts = append([]ConflictWarning(nil), view.Conflicts...)
	}
	return out
}

func cloneEventViews(events []EventView) []EventView {
	if events == nil {
		return nil
	}
	out := make([]EventView, len(events))
	for i, event := range events {
		out[i] = event
		out[i].Students = append([]string(nil), event.Students...)
	}
	return out
}
