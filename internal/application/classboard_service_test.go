package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/classboard/internal/broker"
	"github.com/example/classboard/internal/classboard"
	"github.com/example/classboard/internal/persistence"
	"github.com/example/classboard/internal/scheduler"
)

func queueEventIDs(q QueueView) []string {
	ids := make([]string, 0, len(q.Events))
	for _, e := range q.Events {
		ids = append(ids, e.ID)
	}
	return ids
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestClassboardServiceDayBuildsQueues(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.store.order = []string{"bob", "alice"}
	svc := NewClassboardService(h.deps, ClassboardConfig{})

	view, err := svc.Day(context.Background(), DayParams{SchoolID: "school-1", Date: "2024-06-01"})
	if err != nil {
		t.Fatalf("Day returned error: %v", err)
	}
	if len(view.Queues) != 2 {
		t.Fatalf("expected 2 queues, got %d", len(view.Queues))
	}
	if view.Queues[0].TeacherID != "bob" || view.Queues[1].TeacherID != "alice" {
		t.Fatalf("expected school teacher order, got %s, %s", view.Queues[0].TeacherID, view.Queues[1].TeacherID)
	}
	aliceQueue := view.Queues[1]
	if got := queueEventIDs(aliceQueue); !equalStrings(got, []string{"e1", "e2"}) {
		t.Fatalf("unexpected alice events %v", got)
	}
	if aliceQueue.Stats.Events != 2 || aliceQueue.Stats.Gross != 240 || aliceQueue.Stats.Commission != 40 || aliceQueue.Stats.Net != 200 {
		t.Fatalf("unexpected alice stats %+v", aliceQueue.Stats)
	}
	if first := aliceQueue.Events[0]; first.Revenue.Gross != 120 || len(first.Students) != 2 || first.PackageDescription != "Private kite lesson" {
		t.Fatalf("unexpected event view %+v", first)
	}
	if len(view.Skipped) != 1 || view.Skipped[0].LessonID != "l4" || view.Skipped[0].Reason != classboard.SkipMissingCommission {
		t.Fatalf("expected lesson l4 skipped for missing commission, got %+v", view.Skipped)
	}
	if len(view.Conflicts) != 0 {
		t.Fatalf("expected no conflicts without gap, got %+v", view.Conflicts)
	}
	if view.Timezone != "UTC" || !view.Range.Start.Equal(testDay) || !view.Range.End.Equal(testDay.AddDate(0, 0, 1)) {
		t.Fatalf("unexpected range %+v in %s", view.Range, view.Timezone)
	}
}

func TestClassboardServiceDayAppliesGapAndReportsStoredConflicts(t *testing.T) {
	t.Parallel()

	h := newHarness()
	svc := NewClassboardService(h.deps, ClassboardConfig{GapMinutes: 30, TeacherOrder: []string{"alice"}})

	view, err := svc.Day(context.Background(), DayParams{SchoolID: "school-1", Date: "2024-06-01"})
	if err != nil {
		t.Fatalf("Day returned error: %v", err)
	}
	aliceQueue := view.Queues[0]
	if aliceQueue.TeacherID != "alice" {
		t.Fatalf("expected configured order to win, got %s first", aliceQueue.TeacherID)
	}
	if got := aliceQueue.Events[1].Start; !got.Equal(at(10, 30)) {
		t.Fatalf("expected e2 pushed to 10:30, got %s", got)
	}
	if len(view.Conflicts) != 1 {
		t.Fatalf("expected 1 conflict, got %+v", view.Conflicts)
	}
	conflict := view.Conflicts[0]
	if conflict.TeacherID != "alice" || conflict.EventID != "e1" || conflict.WithEventID != "e2" ||
		conflict.Type != string(scheduler.ConflictTypeGap) || conflict.ShortfallMinutes != 30 {
		t.Fatalf("unexpected conflict %+v", conflict)
	}
}

func TestClassboardServiceDayUsesSchoolTimezone(t *testing.T) {
	t.Parallel()

	early := time.Date(2024, 5, 31, 23, 0, 0, 0, time.UTC)
	late := time.Date(2024, 6, 1, 22, 30, 0, 0, time.UTC)
	h := newHarness(bookingWith("b1", lessonFor("b1", "l1", alice, fixed(20), ev("early", "l1", early, 60), ev("late", "l1", late, 60))))
	h.store.school.Location = time.FixedZone("CEST", 2*60*60)
	svc := NewClassboardService(h.deps, ClassboardConfig{})

	view, err := svc.Day(context.Background(), DayParams{SchoolID: "school-1", Date: "2024-06-01"})
	if err != nil {
		t.Fatalf("Day returned error: %v", err)
	}
	if !view.Range.Start.Equal(time.Date(2024, 5, 31, 22, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day start %s", view.Range.Start)
	}
	if len(view.Queues) != 1 || !equalStrings(queueEventIDs(view.Queues[0]), []string{"early"}) {
		t.Fatalf("expected only the event inside the local day, got %+v", view.Queues)
	}
}

func TestClassboardServiceDayValidation(t *testing.T) {
	t.Parallel()

	h := newHarness()
	svc := NewClassboardService(h.deps, ClassboardConfig{})

	tests := []struct {
		name   string
		params DayParams
		field  string
	}{
		{name: "missing school", params: DayParams{Date: "2024-06-01"}, field: "school_id"},
		{name: "missing date", params: DayParams{SchoolID: "school-1"}, field: "date"},
		{name: "malformed date", params: DayParams{SchoolID: "school-1", Date: "01/06/2024"}, field: "date"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.Day(context.Background(), tt.params)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if _, ok := vErr.FieldErrors[tt.field]; !ok {
				t.Fatalf("expected %s field error, got %v", tt.field, vErr.FieldErrors)
			}
		})
	}

	if _, err := svc.Day(context.Background(), DayParams{SchoolID: "unknown", Date: "2024-06-01"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown school, got %v", err)
	}
}

func TestClassboardServiceDayIsCachedUntilWrite(t *testing.T) {
	t.Parallel()

	h := newHarness()
	svc := NewClassboardService(h.deps, ClassboardConfig{CacheTTL: time.Hour})
	ctx := context.Background()
	params := DayParams{SchoolID: "school-1", Date: "2024-06-01"}

	first, err := svc.Day(ctx, params)
	if err != nil {
		t.Fatalf("Day returned error: %v", err)
	}
	first.Queues[0].Events[0].ID = "mutated"

	second, err := svc.Day(ctx, params)
	if err != nil {
		t.Fatalf("Day returned error: %v", err)
	}
	if h.store.listCalls != 1 {
		t.Fatalf("expected cached read, got %d list calls", h.store.listCalls)
	}
	if second.Queues[0].Events[0].ID == "mutated" {
		t.Fatalf("expected cache to return independent copies")
	}

	location := "lagoon"
	if _, err := svc.SubmitChanges(ctx, SubmitChangesParams{
		SchoolID: "school-1",
		Updates:  []EventChange{{ID: "e1", Location: &location}},
	}); err != nil {
		t.Fatalf("SubmitChanges returned error: %v", err)
	}

	third, err := svc.Day(ctx, params)
	if err != nil {
		t.Fatalf("Day returned error: %v", err)
	}
	if h.store.listCalls != 2 {
		t.Fatalf("expected cache invalidated by write, got %d list calls", h.store.listCalls)
	}
	if third.Queues[0].Events[0].Location != "lagoon" {
		t.Fatalf("expected fresh data after write, got %s", third.Queues[0].Events[0].Location)
	}
}

func TestClassboardServiceSubmitChanges(t *testing.T) {
	t.Parallel()

	h := newHarness()
	svc := NewClassboardService(h.deps, ClassboardConfig{})
	ctx := context.Background()

	moved := at(13, 0)
	duration := 90
	result, err := svc.SubmitChanges(ctx, SubmitChangesParams{
		SchoolID:  "school-1",
		Updates:   []EventChange{{ID: "e1", Date: &moved, Duration: &duration}},
		Deletions: []string{"e3"},
	})
	if err != nil {
		t.Fatalf("SubmitChanges returned error: %v", err)
	}
	if result.Updated != 1 || result.Deleted != 1 {
		t.Fatalf("unexpected result %+v", result)
	}
	if e1, _ := h.store.event("e1"); !e1.Date.Equal(moved) || e1.Duration != 90 {
		t.Fatalf("update not applied: %+v", e1)
	}
	if _, ok := h.store.event("e3"); ok {
		t.Fatalf("expected e3 deleted")
	}

	published := h.publisher.published()
	if len(published) != 1 {
		t.Fatalf("expected one mutation event, got %d", len(published))
	}
	if published[0].Kind != broker.EventsUpdated || !equalStrings(published[0].BookingIDs, []string{"b1", "b2"}) {
		t.Fatalf("unexpected mutation event %+v", published[0])
	}
}

func TestClassboardServiceSubmitChangesEmptyIsNoop(t *testing.T) {
	t.Parallel()

	h := newHarness()
	svc := NewClassboardService(h.deps, ClassboardConfig{})
	result, err := svc.SubmitChanges(context.Background(), SubmitChangesParams{SchoolID: "school-1"})
	if err != nil {
		t.Fatalf("SubmitChanges returned error: %v", err)
	}
	if result != (SubmitResult{}) || h.store.applied != 0 || len(h.publisher.published()) != 0 {
		t.Fatalf("expected no write and no publish for empty batch")
	}
}

func TestClassboardServiceSubmitChangesRejectsBadBatches(t *testing.T) {
	t.Parallel()

	zero := 0
	bad := scheduler.Status("cancelled")
	tests := []struct {
		name    string
		params  SubmitChangesParams
		wantErr error
	}{
		{
			name:   "non positive duration",
			params: SubmitChangesParams{SchoolID: "school-1", Updates: []EventChange{{ID: "e1", Duration: &zero}}},
		},
		{
			name:   "unknown status",
			params: SubmitChangesParams{SchoolID: "school-1", Updates: []EventChange{{ID: "e1", Status: &bad}}},
		},
		{
			name:   "updated and deleted",
			params: SubmitChangesParams{SchoolID: "school-1", Updates: []EventChange{{ID: "e1"}}, Deletions: []string{"e1"}},
		},
		{
			name:    "unknown event",
			params:  SubmitChangesParams{SchoolID: "school-1", Deletions: []string{"e1", "missing"}},
			wantErr: ErrNotFound,
		},
		{
			name:    "event of another school",
			params:  SubmitChangesParams{SchoolID: "school-2", Deletions: []string{"e1"}},
			wantErr: ErrNotFound,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness()
			svc := NewClassboardService(h.deps, ClassboardConfig{})
			_, err := svc.SubmitChanges(context.Background(), tt.params)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			} else {
				var vErr *ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("expected validation error, got %v", err)
				}
			}
			if h.store.applied != 0 {
				t.Fatalf("expected nothing applied")
			}
			if _, ok := h.store.event("e1"); !ok {
				t.Fatalf("expected e1 untouched")
			}
		})
	}
}

func TestClassboardServiceSubmitChangesMapsStorageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		storeErr error
		check    func(error) bool
	}{
		{name: "constraint", storeErr: persistence.ErrConstraintViolation, check: func(err error) bool {
			var vErr *ValidationError
			return errors.As(err, &vErr)
		}},
		{name: "duplicate", storeErr: persistence.ErrDuplicate, check: func(err error) bool { return errors.Is(err, ErrConflict) }},
		{name: "not found", storeErr: persistence.ErrNotFound, check: func(err error) bool { return errors.Is(err, ErrNotFound) }},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness()
			h.store.applyErr = tt.storeErr
			svc := NewClassboardService(h.deps, ClassboardConfig{})
			_, err := svc.SubmitChanges(context.Background(), SubmitChangesParams{SchoolID: "school-1", Deletions: []string{"e1"}})
			if !tt.check(err) {
				t.Fatalf("unexpected mapped error %v", err)
			}
			if len(h.publisher.published()) != 0 {
				t.Fatalf("expected no publish after failed write")
			}
		})
	}
}

func TestClassboardServiceUpdateStatus(t *testing.T) {
	t.Parallel()

	h := newHarness()
	svc := NewClassboardService(h.deps, ClassboardConfig{})
	ctx := context.Background()

	err := svc.UpdateStatus(ctx, UpdateStatusParams{SchoolID: "school-1", EventIDs: []string{"e1"}, Status: "cancelled"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) || vErr.FieldErrors["status"] == "" {
		t.Fatalf("expected status validation error, got %v", err)
	}

	if err := svc.UpdateStatus(ctx, UpdateStatusParams{SchoolID: "school-1", EventIDs: []string{"e1", "e3", "e1"}, Status: scheduler.StatusCompleted}); err != nil {
		t.Fatalf("UpdateStatus returned error: %v", err)
	}
	for _, id := range []string{"e1", "e3"} {
		if e, _ := h.store.event(id); e.Status != scheduler.StatusCompleted {
			t.Fatalf("expected %s completed, got %s", id, e.Status)
		}
	}
	published := h.publisher.published()
	if len(published) != 1 || published[0].Kind != broker.EventsStatusChanged || len(published[0].EventIDs) != 2 {
		t.Fatalf("unexpected mutation events %+v", published)
	}
}

func TestClassboardServiceDeleteEventsTracksOptimisticOps(t *testing.T) {
	t.Parallel()

	h := newHarness()
	svc := NewClassboardService(h.deps, ClassboardConfig{})
	result, err := svc.DeleteEvents(context.Background(), DeleteEventsParams{SchoolID: "school-1", EventIDs: []string{"e1", "e2"}})
	if err != nil {
		t.Fatalf("DeleteEvents returned error: %v", err)
	}
	if len(result.PendingKeys) != 2 || len(h.tracker.deletes) != 2 {
		t.Fatalf("expected two tracked deletions, got %+v", result)
	}
	if h.tracker.deletes[result.PendingKeys[0]] != "e1" {
		t.Fatalf("expected first key to track e1, got %v", h.tracker.deletes)
	}
	if len(h.tracker.cleared) != 0 {
		t.Fatalf("expected nothing cleared on success")
	}
	if published := h.publisher.published(); len(published) != 1 || published[0].Kind != broker.EventsDeleted {
		t.Fatalf("unexpected mutation events %+v", published)
	}
}

func TestClassboardServiceDeleteEventsRevertsOnFailure(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.store.deleteErr = errors.New("db down")
	svc := NewClassboardService(h.deps, ClassboardConfig{})
	_, err := svc.DeleteEvents(context.Background(), DeleteEventsParams{SchoolID: "school-1", EventIDs: []string{"e1"}})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(h.tracker.cleared) != 1 {
		t.Fatalf("expected tracked deletion to be cleared, got %v", h.tracker.cleared)
	}
	if len(h.publisher.published()) != 0 {
		t.Fatalf("expected no publish after failed delete")
	}
}

func TestClassboardServiceCreateEventUsesNextSlot(t *testing.T) {
	t.Parallel()

	h := newHarness()
	svc := NewClassboardService(h.deps, ClassboardConfig{GapMinutes: 15, FirstSlot: 9 * time.Hour})

	created, err := svc.CreateEvent(context.Background(), CreateEventParams{
		SchoolID: "school-1",
		LessonID: "l1",
		Day:      "2024-06-01",
		Location: " bay ",
	})
	if err != nil {
		t.Fatalf("CreateEvent returned error: %v", err)
	}
	// e1 09:00-10:00, e2 pushed to 10:15-11:15, so the next slot is 11:30
	if !created.Event.Date.Equal(at(11, 30)) {
		t.Fatalf("expected next slot 11:30, got %s", created.Event.Date)
	}
	if created.Event.Duration != 120 || created.Event.Status != scheduler.StatusPlanned || created.Event.Location != "bay" {
		t.Fatalf("unexpected defaults %+v", created.Event)
	}
	if created.BookingID != "b1" || created.PendingKey == "" || h.tracker.adds[created.PendingKey] != "l1" {
		t.Fatalf("expected tracked add for l1, got %+v (%v)", created, h.tracker.adds)
	}
	if len(h.store.created) != 1 || h.store.created[0].ID != created.Event.ID {
		t.Fatalf("event not stored")
	}
	if published := h.publisher.published(); len(published) != 1 || published[0].Kind != broker.EventsCreated {
		t.Fatalf("unexpected mutation events %+v", published)
	}
}

func TestClassboardServiceCreateEventOnEmptyDay(t *testing.T) {
	t.Parallel()

	h := newHarness()
	svc := NewClassboardService(h.deps, ClassboardConfig{FirstSlot: 9 * time.Hour})
	created, err := svc.CreateEvent(context.Background(), CreateEventParams{
		SchoolID: "school-1",
		LessonID: "l2",
		Day:      "2024-06-02",
		Duration: 45,
	})
	if err != nil {
		t.Fatalf("CreateEvent returned error: %v", err)
	}
	if !created.Event.Date.Equal(testDay.AddDate(0, 0, 1).Add(9*time.Hour)) || created.Event.Duration != 45 {
		t.Fatalf("expected first slot of the day, got %+v", created.Event)
	}
}

func TestClassboardServiceCreateEventFailures(t *testing.T) {
	t.Parallel()

	explicit := at(15, 0)

	t.Run("validation", func(t *testing.T) {
		t.Parallel()
		h := newHarness()
		svc := NewClassboardService(h.deps, ClassboardConfig{})
		_, err := svc.CreateEvent(context.Background(), CreateEventParams{SchoolID: "school-1", LessonID: "l1"})
		var vErr *ValidationError
		if !errors.As(err, &vErr) || vErr.FieldErrors["day"] == "" {
			t.Fatalf("expected day validation error, got %v", err)
		}
	})

	t.Run("unknown lesson", func(t *testing.T) {
		t.Parallel()
		h := newHarness()
		svc := NewClassboardService(h.deps, ClassboardConfig{})
		_, err := svc.CreateEvent(context.Background(), CreateEventParams{SchoolID: "school-1", LessonID: "missing", Date: &explicit})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("write failure clears optimistic add", func(t *testing.T) {
		t.Parallel()
		h := newHarness()
		h.store.createErr = persistence.ErrDuplicate
		svc := NewClassboardService(h.deps, ClassboardConfig{})
		_, err := svc.CreateEvent(context.Background(), CreateEventParams{SchoolID: "school-1", LessonID: "l1", Date: &explicit})
		if !errors.Is(err, ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		if len(h.tracker.adds) != 1 || len(h.tracker.cleared) != 1 {
			t.Fatalf("expected tracked add to be cleared, adds=%v cleared=%v", h.tracker.adds, h.tracker.cleared)
		}
	})

	t.Run("tracker failure does not block the write", func(t *testing.T) {
		t.Parallel()
		h := newHarness()
		h.tracker.err = errors.New("board unavailable")
		svc := NewClassboardService(h.deps, ClassboardConfig{})
		created, err := svc.CreateEvent(context.Background(), CreateEventParams{SchoolID: "school-1", LessonID: "l1", Date: &explicit})
		if err != nil {
			t.Fatalf("CreateEvent returned error: %v", err)
		}
		if created.PendingKey != "" {
			t.Fatalf("expected no pending key when tracking failed")
		}
	})
}

func TestClassboardServiceRevenueBreakdown(t *testing.T) {
	t.Parallel()

	h := newHarness()
	svc := NewClassboardService(h.deps, ClassboardConfig{})
	ctx := context.Background()

	view, err := svc.RevenueBreakdown(ctx, "school-1", "e3")
	if err != nil {
		t.Fatalf("RevenueBreakdown returned error: %v", err)
	}
	// 90 minutes for two students at 60 per student-hour, fixed 25 per hour
	want := scheduler.Breakdown{PricePerHour: 60, Gross: 180, Commission: 37.5, Net: 142.5}
	if view.Breakdown != want || view.TeacherID != "bob" || view.Students != 2 || view.BookingID != "b2" {
		t.Fatalf("unexpected revenue %+v", view)
	}

	_, err = svc.RevenueBreakdown(ctx, "school-1", "e4")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected validation error for lesson without commission, got %v", err)
	}

	if _, err := svc.RevenueBreakdown(ctx, "school-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.RevenueBreakdown(ctx, "school-2", "e1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another school, got %v", err)
	}
}

func TestClassboardServicePublishFailureDoesNotFailWrite(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.publisher.err = errors.New("broker down")
	svc := NewClassboardService(h.deps, ClassboardConfig{})
	if _, err := svc.SubmitChanges(context.Background(), SubmitChangesParams{SchoolID: "school-1", Deletions: []string{"e2"}}); err != nil {
		t.Fatalf("expected committed write to succeed despite publish failure, got %v", err)
	}
	if _, ok := h.store.event("e2"); ok {
		t.Fatalf("expected e2 deleted")
	}
}
