package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/classboard/internal/application"
	"github.com/example/classboard/internal/classboard"
	"github.com/example/classboard/internal/realtime"
	"github.com/example/classboard/internal/scheduler"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func serve(t *testing.T, handler http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for key, value := range headers {
		req.Header.Set(key, value)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func sampleDayView() application.DayView {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	return application.DayView{
		SchoolID:   "school-1",
		Date:       "2025-06-01",
		Timezone:   "UTC",
		Range:      classboard.DayRange{Start: start, End: start.AddDate(0, 0, 1)},
		GapMinutes: 15,
		Queues: []application.QueueView{{
			TeacherID:   "t-1",
			TeacherName: "Ana",
			Events: []application.EventView{{
				ID:         "e-1",
				LessonID:   "l-1",
				BookingID:  "b-1",
				Start:      start.Add(9 * time.Hour),
				End:        start.Add(11 * time.Hour),
				Duration:   120,
				Status:     scheduler.StatusPlanned,
				Students:   []string{"Sam"},
				Commission: scheduler.Commission{Type: scheduler.CommissionFixed, CPH: 20},
				Revenue:    scheduler.Breakdown{PricePerHour: 50, Gross: 100, Commission: 40, Net: 60},
			}},
			Stats: scheduler.QueueStats{Events: 1, DurationMinutes: 120, ByStatus: map[scheduler.Status]int{scheduler.StatusPlanned: 1}},
		}},
		Skipped: []classboard.Skipped{{BookingID: "b-2", LessonID: "l-2", Reason: classboard.SkipMissingTeacher}},
	}
}

func TestClassboardDay(t *testing.T) {
	t.Parallel()

	t.Run("renders queues with an etag", func(t *testing.T) {
		t.Parallel()
		service := &stubDayService{view: sampleDayView()}
		router := NewRouter(RouterConfig{Classboard: NewClassboardHandler(service, &stubBoards{}, discardLogger)})

		rec := serve(t, router, http.MethodGet, "/schools/school-1/classboard?date=2025-06-01", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if service.got.SchoolID != "school-1" || service.got.Date != "2025-06-01" {
			t.Fatalf("unexpected params %+v", service.got)
		}
		etag := rec.Header().Get("ETag")
		if etag == "" || !strings.HasPrefix(etag, `"`) {
			t.Fatalf("missing etag, got %q", etag)
		}

		var resp dayResponse
		decodeBody(t, rec, &resp)
		if len(resp.Queues) != 1 || len(resp.Queues[0].Events) != 1 {
			t.Fatalf("unexpected queues %+v", resp.Queues)
		}
		event := resp.Queues[0].Events[0]
		if event.Start != "2025-06-01T09:00:00Z" || event.End != "2025-06-01T11:00:00Z" {
			t.Fatalf("unexpected event times %s - %s", event.Start, event.End)
		}
		if event.Revenue.Net != 60 || event.Commission.Type != string(scheduler.CommissionFixed) {
			t.Fatalf("unexpected event revenue %+v", event)
		}
		if resp.Queues[0].Stats.ByStatus["planned"] != 1 {
			t.Fatalf("unexpected stats %+v", resp.Queues[0].Stats)
		}
		if len(resp.Skipped) != 1 || resp.Skipped[0].Reason != "missing_teacher" {
			t.Fatalf("unexpected skipped %+v", resp.Skipped)
		}

		again := serve(t, router, http.MethodGet, "/schools/school-1/classboard?date=2025-06-01", "", map[string]string{"If-None-Match": etag})
		if again.Code != http.StatusNotModified {
			t.Fatalf("revalidation status = %d", again.Code)
		}
		if again.Body.Len() != 0 {
			t.Fatalf("304 must not carry a body, got %q", again.Body.String())
		}
	})

	t.Run("etag changes with the content", func(t *testing.T) {
		t.Parallel()
		service := &stubDayService{view: sampleDayView()}
		router := NewRouter(RouterConfig{Classboard: NewClassboardHandler(service, &stubBoards{}, discardLogger)})

		first := serve(t, router, http.MethodGet, "/schools/school-1/classboard", "", nil)
		service.view.Queues[0].Events[0].Duration = 90
		second := serve(t, router, http.MethodGet, "/schools/school-1/classboard", "", map[string]string{"If-None-Match": first.Header().Get("ETag")})
		if second.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200 after a change", second.Code)
		}
		if first.Header().Get("ETag") == second.Header().Get("ETag") {
			t.Fatal("etag did not change")
		}
	})

	t.Run("maps service errors", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name   string
			err    error
			status int
			code   string
		}{
			{name: "not found", err: application.ErrNotFound, status: http.StatusNotFound, code: "NOT_FOUND"},
			{name: "validation", err: &application.ValidationError{FieldErrors: map[string]string{"date": "bad"}}, status: http.StatusUnprocessableEntity, code: "VALIDATION"},
			{name: "unexpected", err: errors.New("boom"), status: http.StatusInternalServerError},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()
				service := &stubDayService{err: tc.err}
				router := NewRouter(RouterConfig{Classboard: NewClassboardHandler(service, &stubBoards{}, discardLogger)})

				rec := serve(t, router, http.MethodGet, "/schools/school-1/classboard", "", nil)
				if rec.Code != tc.status {
					t.Fatalf("status = %d, want %d", rec.Code, tc.status)
				}
				var resp errorResponse
				decodeBody(t, rec, &resp)
				if resp.ErrorCode != tc.code {
					t.Fatalf("error_code = %q, want %q", resp.ErrorCode, tc.code)
				}
				if tc.code == "VALIDATION" && resp.Errors["date"] != "bad" {
					t.Fatalf("field errors not forwarded: %+v", resp.Errors)
				}
			})
		}
	})
}

func TestEtagMatches(t *testing.T) {
	t.Parallel()

	tests := []struct {
		header string
		want   bool
	}{
		{header: "", want: false},
		{header: `"abc"`, want: true},
		{header: `W/"abc"`, want: true},
		{header: `"other", "abc"`, want: true},
		{header: `"other"`, want: false},
		{header: "*", want: true},
	}
	for _, tc := range tests {
		if got := etagMatches(tc.header, `"abc"`); got != tc.want {
			t.Fatalf("etagMatches(%q) = %v, want %v", tc.header, got, tc.want)
		}
	}
}

func sampleBooking() classboard.Booking {
	start := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	return classboard.Booking{
		ID:        "b-1",
		SchoolID:  "school-1",
		DateStart: start,
		DateEnd:   start.AddDate(0, 0, 3),
		Package:   &classboard.Package{ID: "p-1", Description: "Beginner", PricePerStudent: 100, DurationMinutes: 120},
		Students:  []classboard.Student{{ID: "s-1", Name: "Sam"}},
		Lessons: []classboard.Lesson{{
			ID:        "l-1",
			BookingID: "b-1",
			Status:    "active",
			Teacher:   &classboard.Teacher{ID: "t-1", Name: "Ana"},
			Events: []classboard.Event{
				{ID: "e-1", LessonID: "l-1", Date: start, Duration: 120, Status: scheduler.StatusPlanned},
			},
		}},
	}
}

func TestClassboardBoard(t *testing.T) {
	t.Parallel()

	boards := &stubBoards{board: classboard.NewBoard(sampleBooking())}
	router := NewRouter(RouterConfig{Classboard: NewClassboardHandler(&stubDayService{}, boards, discardLogger)})

	rec := serve(t, router, http.MethodGet, "/schools/school-1/board", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp boardResponse
	decodeBody(t, rec, &resp)
	if resp.SchoolID != "school-1" || len(resp.Bookings) != 1 {
		t.Fatalf("unexpected board %+v", resp)
	}
	booking := resp.Bookings[0]
	if booking.PackageDescription != "Beginner" || len(booking.Students) != 1 || booking.Students[0] != "Sam" {
		t.Fatalf("unexpected booking %+v", booking)
	}
	if len(booking.Lessons) != 1 || booking.Lessons[0].TeacherID != "t-1" || len(booking.Lessons[0].Events) != 1 {
		t.Fatalf("unexpected lessons %+v", booking.Lessons)
	}
	if booking.Lessons[0].Events[0].Deleting {
		t.Fatal("event must not be flagged as deleting")
	}
	if len(resp.Pending) != 0 {
		t.Fatalf("unexpected pending ops %+v", resp.Pending)
	}

	boards.err = application.ErrNotFound
	missing := serve(t, router, http.MethodGet, "/schools/school-1/board", "", nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", missing.Code)
	}
}

func TestClassboardStream(t *testing.T) {
	t.Parallel()

	updates := make(chan realtime.Notification, 1)
	updates <- realtime.Notification{
		Type:      realtime.BookingDeleted,
		SchoolID:  "school-1",
		BookingID: "b-1",
		SentAt:    time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC),
		Revision:  2,
	}
	close(updates)
	boards := &stubBoards{board: classboard.NewBoard(sampleBooking()), updates: updates}
	router := NewRouter(RouterConfig{
		Classboard: NewClassboardHandler(&stubDayService{}, boards, discardLogger),
		Middleware: []func(http.Handler) http.Handler{RequestLogger(discardLogger)},
	})

	rec := serve(t, router, http.MethodGet, "/schools/school-1/stream", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}
	if boards.watched != "school-1" {
		t.Fatalf("watched %q", boards.watched)
	}
	body := rec.Body.String()
	snapshot := strings.Index(body, "event: snapshot\n")
	deleted := strings.Index(body, "event: booking.deleted\nid: 2\n")
	if snapshot < 0 || deleted < 0 || deleted < snapshot {
		t.Fatalf("unexpected stream body:\n%s", body)
	}
	if !strings.Contains(body, `"booking_id":"b-1"`) {
		t.Fatalf("notification payload missing booking id:\n%s", body)
	}
	if !rec.Flushed {
		t.Fatal("stream was never flushed")
	}
}

func TestEventHandlers(t *testing.T) {
	t.Parallel()

	t.Run("create returns the stored event", func(t *testing.T) {
		t.Parallel()
		start := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
		service := &stubEventService{createdEv: application.CreatedEvent{
			Event:      classboard.Event{ID: "e-9", LessonID: "l-1", Date: start, Duration: 90, Status: scheduler.StatusPlanned},
			BookingID:  "b-1",
			PendingKey: "add:l-1:1",
		}}
		router := NewRouter(RouterConfig{Events: NewEventHandler(service, discardLogger)})

		rec := serve(t, router, http.MethodPost, "/events", `{"school_id":"school-1","lesson_id":"l-1","day":"2025-06-01"}`, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if service.created.Day != "2025-06-01" || service.created.Date != nil {
			t.Fatalf("unexpected params %+v", service.created)
		}
		var resp createdEventResponse
		decodeBody(t, rec, &resp)
		if resp.End != "2025-06-01T11:30:00Z" || resp.PendingKey != "add:l-1:1" {
			t.Fatalf("unexpected response %+v", resp)
		}
	})

	t.Run("create with an explicit start", func(t *testing.T) {
		t.Parallel()
		service := &stubEventService{}
		router := NewRouter(RouterConfig{Events: NewEventHandler(service, discardLogger)})

		rec := serve(t, router, http.MethodPost, "/events", `{"school_id":"school-1","lesson_id":"l-1","date":"2025-06-01T14:00:00Z","duration":60}`, nil)
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if service.created.Date == nil || !service.created.Date.Equal(time.Date(2025, 6, 1, 14, 0, 0, 0, time.UTC)) {
			t.Fatalf("unexpected date %v", service.created.Date)
		}
	})

	t.Run("batch forwards updates and deletions", func(t *testing.T) {
		t.Parallel()
		service := &stubEventService{result: application.SubmitResult{Updated: 1, Deleted: 1}}
		router := NewRouter(RouterConfig{Events: NewEventHandler(service, discardLogger)})

		body := `{"school_id":"school-1","updates":[{"id":"e-1","date":"2025-06-01T12:00:00Z","status":"tbc"}],"deletions":["e-2"]}`
		rec := serve(t, router, http.MethodPost, "/events/batch", body, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		if len(service.submitted.Updates) != 1 || len(service.submitted.Deletions) != 1 {
			t.Fatalf("unexpected params %+v", service.submitted)
		}
		update := service.submitted.Updates[0]
		if update.Date == nil || update.Date.Hour() != 12 || update.Status == nil || *update.Status != scheduler.StatusTBC {
			t.Fatalf("unexpected update %+v", update)
		}
	})

	t.Run("validation errors use json field paths", func(t *testing.T) {
		t.Parallel()
		router := NewRouter(RouterConfig{Events: NewEventHandler(&stubEventService{}, discardLogger)})

		body := `{"school_id":"school-1","updates":[{"status":"done"}]}`
		rec := serve(t, router, http.MethodPost, "/events/batch", body, nil)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
		}
		var resp errorResponse
		decodeBody(t, rec, &resp)
		if _, ok := resp.Errors["updates[0].id"]; !ok {
			t.Fatalf("missing id error in %+v", resp.Errors)
		}
		if msg := resp.Errors["updates[0].status"]; !strings.Contains(msg, "planned") {
			t.Fatalf("unexpected status error %q", msg)
		}
	})

	t.Run("status requires event ids", func(t *testing.T) {
		t.Parallel()
		router := NewRouter(RouterConfig{Events: NewEventHandler(&stubEventService{}, discardLogger)})

		rec := serve(t, router, http.MethodPost, "/events/status", `{"school_id":"school-1","event_ids":[],"status":"completed"}`, nil)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp errorResponse
		decodeBody(t, rec, &resp)
		if _, ok := resp.Errors["event_ids"]; !ok {
			t.Fatalf("missing event_ids error in %+v", resp.Errors)
		}
	})

	t.Run("status update answers no content", func(t *testing.T) {
		t.Parallel()
		service := &stubEventService{}
		router := NewRouter(RouterConfig{Events: NewEventHandler(service, discardLogger)})

		rec := serve(t, router, http.MethodPost, "/events/status", `{"school_id":"school-1","event_ids":["e-1"],"status":"completed"}`, nil)
		if rec.Code != http.StatusNoContent {
			t.Fatalf("status = %d", rec.Code)
		}
		if service.statuses.Status != scheduler.StatusCompleted {
			t.Fatalf("unexpected params %+v", service.statuses)
		}
	})

	t.Run("malformed json is a bad request", func(t *testing.T) {
		t.Parallel()
		router := NewRouter(RouterConfig{Events: NewEventHandler(&stubEventService{}, discardLogger)})

		rec := serve(t, router, http.MethodPost, "/events/delete", `{"school_id":`, nil)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("status = %d", rec.Code)
		}
	})

	t.Run("delete lists removed events", func(t *testing.T) {
		t.Parallel()
		router := NewRouter(RouterConfig{Events: NewEventHandler(&stubEventService{}, discardLogger)})

		rec := serve(t, router, http.MethodPost, "/events/delete", `{"school_id":"school-1","event_ids":["e-1","e-2"]}`, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp deleteEventsResponse
		decodeBody(t, rec, &resp)
		if len(resp.Deleted) != 2 || resp.PendingKeys == nil {
			t.Fatalf("unexpected response %+v", resp)
		}
	})

	t.Run("revenue requires a school", func(t *testing.T) {
		t.Parallel()
		service := &stubEventService{revenue: application.RevenueView{Students: 2, Breakdown: scheduler.Breakdown{Gross: 100, Net: 60}}}
		router := NewRouter(RouterConfig{Events: NewEventHandler(service, discardLogger)})

		missing := serve(t, router, http.MethodGet, "/events/e-1/revenue", "", nil)
		if missing.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", missing.Code)
		}

		rec := serve(t, router, http.MethodGet, "/events/e-1/revenue?school_id=school-1", "", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp revenueResponse
		decodeBody(t, rec, &resp)
		if resp.EventID != "e-1" || resp.Students != 2 || resp.Revenue.Net != 60 {
			t.Fatalf("unexpected response %+v", resp)
		}
	})

	t.Run("conflicts map to 409", func(t *testing.T) {
		t.Parallel()
		service := &stubEventService{err: application.ErrConflict}
		router := NewRouter(RouterConfig{Events: NewEventHandler(service, discardLogger)})

		rec := serve(t, router, http.MethodPost, "/events/batch", `{"school_id":"school-1","deletions":["e-1"]}`, nil)
		if rec.Code != http.StatusConflict {
			t.Fatalf("status = %d", rec.Code)
		}
	})
}

func TestAdjustmentHandlers(t *testing.T) {
	t.Parallel()

	sessionView := func() application.AdjustmentView {
		date := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		return application.AdjustmentView{
			ID:        "adj-1",
			SchoolID:  "school-1",
			TeacherID: "t-1",
			Date:      "2025-06-01",
			Changes:   scheduler.Changes{Updates: []scheduler.EventUpdate{{ID: "e-1", Date: &date}}},
		}
	}

	t.Run("actions dispatch to the session", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			action string
			body   string
			call   string
			status int
		}{
			{action: "move", body: `{"event_id":"e-1","date":"2025-06-01T12:00:00Z"}`, call: "move:e-1", status: http.StatusOK},
			{action: "resize", body: `{"event_id":"e-1","duration":90}`, call: "resize:e-1", status: http.StatusOK},
			{action: "edit", body: `{"event_id":"e-1","location":"North beach","status":"tbc"}`, call: "edit:e-1", status: http.StatusOK},
			{action: "remove", body: `{"event_id":"e-1"}`, call: "remove:e-1", status: http.StatusOK},
			{action: "lock", body: `{"locked":true}`, call: "lock", status: http.StatusOK},
			{action: "optimise", call: "optimise", status: http.StatusOK},
			{action: "reset", call: "reset", status: http.StatusOK},
			{action: "submit", call: "submit", status: http.StatusOK},
		}
		for _, tc := range tests {
			t.Run(tc.action, func(t *testing.T) {
				t.Parallel()
				service := &stubAdjustments{view: sessionView()}
				router := NewRouter(RouterConfig{Adjustments: NewAdjustmentHandler(service, discardLogger)})

				rec := serve(t, router, http.MethodPost, "/adjustments/adj-1/"+tc.action, tc.body, nil)
				if rec.Code != tc.status {
					t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
				}
				if len(service.calls) != 1 || service.calls[0] != tc.call {
					t.Fatalf("calls = %v, want [%s]", service.calls, tc.call)
				}
			})
		}
	})

	t.Run("edits answer with the session view", func(t *testing.T) {
		t.Parallel()
		service := &stubAdjustments{view: sessionView()}
		router := NewRouter(RouterConfig{Adjustments: NewAdjustmentHandler(service, discardLogger)})

		rec := serve(t, router, http.MethodPost, "/adjustments/adj-1/move", `{"event_id":"e-1","date":"2025-06-01T12:00:00+02:00"}`, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d", rec.Code)
		}
		if !service.moved.Equal(time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)) {
			t.Fatalf("moved to %v", service.moved)
		}
		var resp adjustmentDTO
		decodeBody(t, rec, &resp)
		if resp.ID != "adj-1" || len(resp.Changes.Updates) != 1 || *resp.Changes.Updates[0].Date != "2025-06-01T12:00:00Z" {
			t.Fatalf("unexpected view %+v", resp)
		}
	})

	t.Run("submit reports persisted counts", func(t *testing.T) {
		t.Parallel()
		service := &stubAdjustments{view: sessionView()}
		router := NewRouter(RouterConfig{Adjustments: NewAdjustmentHandler(service, discardLogger)})

		rec := serve(t, router, http.MethodPost, "/adjustments/adj-1/submit", "", nil)
		var resp submitResponse
		decodeBody(t, rec, &resp)
		if resp.SessionID != "adj-1" || resp.Updated != 1 {
			t.Fatalf("unexpected response %+v", resp)
		}
	})

	t.Run("unknown action is not found", func(t *testing.T) {
		t.Parallel()
		service := &stubAdjustments{view: sessionView()}
		router := NewRouter(RouterConfig{Adjustments: NewAdjustmentHandler(service, discardLogger)})

		rec := serve(t, router, http.MethodPost, "/adjustments/adj-1/teleport", "", nil)
		if rec.Code != http.StatusNotFound {
			t.Fatalf("status = %d", rec.Code)
		}
		if len(service.calls) != 0 {
			t.Fatalf("unexpected calls %v", service.calls)
		}
	})

	t.Run("lock requires a value", func(t *testing.T) {
		t.Parallel()
		service := &stubAdjustments{view: sessionView()}
		router := NewRouter(RouterConfig{Adjustments: NewAdjustmentHandler(service, discardLogger)})

		rec := serve(t, router, http.MethodPost, "/adjustments/adj-1/lock", `{}`, nil)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("status = %d", rec.Code)
		}
		var resp errorResponse
		decodeBody(t, rec, &resp)
		if _, ok := resp.Errors["locked"]; !ok {
			t.Fatalf("missing locked error in %+v", resp.Errors)
		}
	})

	t.Run("lifecycle routes", func(t *testing.T) {
		t.Parallel()
		service := &stubAdjustments{view: sessionView()}
		router := NewRouter(RouterConfig{Adjustments: NewAdjustmentHandler(service, discardLogger)})

		start := serve(t, router, http.MethodPost, "/adjustments", `{"school_id":"school-1","teacher_id":"t-1","date":"2025-06-01","gap_minutes":10}`, nil)
		if start.Code != http.StatusCreated {
			t.Fatalf("start status = %d, body %s", start.Code, start.Body.String())
		}
		if get := serve(t, router, http.MethodGet, "/adjustments/adj-1", "", nil); get.Code != http.StatusOK {
			t.Fatalf("get status = %d", get.Code)
		}
		changes := serve(t, router, http.MethodGet, "/adjustments/adj-1/changes", "", nil)
		var dto changesDTO
		decodeBody(t, changes, &dto)
		if len(dto.Updates) != 1 || dto.Deletions == nil {
			t.Fatalf("unexpected changes %+v", dto)
		}
		if cancel := serve(t, router, http.MethodDelete, "/adjustments/adj-1", "", nil); cancel.Code != http.StatusNoContent {
			t.Fatalf("cancel status = %d", cancel.Code)
		}
		want := []string{"start:t-1", "get", "changes", "cancel"}
		if strings.Join(service.calls, ",") != strings.Join(want, ",") {
			t.Fatalf("calls = %v, want %v", service.calls, want)
		}
	})

	t.Run("session errors", func(t *testing.T) {
		t.Parallel()
		tests := []struct {
			name   string
			err    error
			method string
			target string
			body   string
			status int
			code   string
		}{
			{name: "closed session", err: application.ErrNoActiveSession, method: http.MethodGet, target: "/adjustments/adj-1", status: http.StatusNotFound, code: "NO_ACTIVE_SESSION"},
			{name: "queue already edited", err: application.ErrSessionActive, method: http.MethodPost, target: "/adjustments", body: `{"school_id":"school-1","teacher_id":"t-1"}`, status: http.StatusConflict, code: "SESSION_ACTIVE"},
			{name: "submit in flight", err: application.ErrConflict, method: http.MethodPost, target: "/adjustments/adj-1/optimise", status: http.StatusConflict, code: "CONFLICT"},
		}
		for _, tc := range tests {
			t.Run(tc.name, func(t *testing.T) {
				t.Parallel()
				service := &stubAdjustments{err: tc.err}
				router := NewRouter(RouterConfig{Adjustments: NewAdjustmentHandler(service, discardLogger)})

				rec := serve(t, router, tc.method, tc.target, tc.body, nil)
				if rec.Code != tc.status {
					t.Fatalf("status = %d, want %d", rec.Code, tc.status)
				}
				var resp errorResponse
				decodeBody(t, rec, &resp)
				if resp.ErrorCode != tc.code {
					t.Fatalf("error_code = %q, want %q", resp.ErrorCode, tc.code)
				}
			})
		}
	})
}
