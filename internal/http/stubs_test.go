package http

import (
	"context"
	"time"

	"github.com/example/classboard/internal/application"
	"github.com/example/classboard/internal/classboard"
	"github.com/example/classboard/internal/realtime"
	"github.com/example/classboard/internal/scheduler"
)

type stubDayService struct {
	view application.DayView
	err  error
	got  application.DayParams
}

func (s *stubDayService) Day(_ context.Context, params application.DayParams) (application.DayView, error) {
	s.got = params
	return s.view, s.err
}

type stubBoards struct {
	board   *classboard.Board
	err     error
	updates chan realtime.Notification
	watched string
}

func (s *stubBoards) Board(context.Context, string) (*classboard.Board, error) {
	return s.board, s.err
}

func (s *stubBoards) Watch(schoolID string, _ int) (<-chan realtime.Notification, func()) {
	s.watched = schoolID
	return s.updates, func() {}
}

type stubEventService struct {
	submitted application.SubmitChangesParams
	statuses  application.UpdateStatusParams
	created   application.CreateEventParams
	result    application.SubmitResult
	createdEv application.CreatedEvent
	revenue   application.RevenueView
	err       error
}

func (s *stubEventService) SubmitChanges(_ context.Context, params application.SubmitChangesParams) (application.SubmitResult, error) {
	s.submitted = params
	return s.result, s.err
}

func (s *stubEventService) UpdateStatus(_ context.Context, params application.UpdateStatusParams) error {
	s.statuses = params
	return s.err
}

func (s *stubEventService) DeleteEvents(_ context.Context, params application.DeleteEventsParams) (application.DeleteEventsResult, error) {
	return application.DeleteEventsResult{Deleted: params.EventIDs}, s.err
}

func (s *stubEventService) CreateEvent(_ context.Context, params application.CreateEventParams) (application.CreatedEvent, error) {
	s.created = params
	return s.createdEv, s.err
}

func (s *stubEventService) RevenueBreakdown(_ context.Context, _, eventID string) (application.RevenueView, error) {
	view := s.revenue
	view.EventID = eventID
	return view, s.err
}

// stubAdjustments records the last call as "<operation>:<event id>".
type stubAdjustments struct {
	view   application.AdjustmentView
	err    error
	calls  []string
	moved  time.Time
	locked bool
}

func (s *stubAdjustments) record(call string) (application.AdjustmentView, error) {
	s.calls = append(s.calls, call)
	return s.view, s.err
}

func (s *stubAdjustments) Start(_ context.Context, params application.StartAdjustmentParams) (application.AdjustmentView, error) {
	return s.record("start:" + params.TeacherID)
}

func (s *stubAdjustments) Get(context.Context, string) (application.AdjustmentView, error) {
	return s.record("get")
}

func (s *stubAdjustments) Move(_ context.Context, _, eventID string, date time.Time) (application.AdjustmentView, error) {
	s.moved = date
	return s.record("move:" + eventID)
}

func (s *stubAdjustments) Resize(_ context.Context, _, eventID string, _ int) (application.AdjustmentView, error) {
	return s.record("resize:" + eventID)
}

func (s *stubAdjustments) Edit(_ context.Context, _, eventID string, _ *string, _ *scheduler.Status) (application.AdjustmentView, error) {
	return s.record("edit:" + eventID)
}

func (s *stubAdjustments) Remove(_ context.Context, _, eventID string) (application.AdjustmentView, error) {
	return s.record("remove:" + eventID)
}

func (s *stubAdjustments) SetLocked(_ context.Context, _ string, locked bool) (application.AdjustmentView, error) {
	s.locked = locked
	return s.record("lock")
}

func (s *stubAdjustments) Optimise(context.Context, string) (application.AdjustmentView, error) {
	return s.record("optimise")
}

func (s *stubAdjustments) Reset(context.Context, string) (application.AdjustmentView, error) {
	return s.record("reset")
}

func (s *stubAdjustments) Changes(context.Context, string) (scheduler.Changes, error) {
	s.calls = append(s.calls, "changes")
	return s.view.Changes, s.err
}

func (s *stubAdjustments) Submit(_ context.Context, sessionID string) (application.SubmitResult, error) {
	s.calls = append(s.calls, "submit")
	return application.SubmitResult{SessionID: sessionID, Updated: len(s.view.Changes.Updates)}, s.err
}

func (s *stubAdjustments) Cancel(context.Context, string) error {
	s.calls = append(s.calls, "cancel")
	return s.err
}
