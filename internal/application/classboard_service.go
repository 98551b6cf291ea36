package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/example/classboard/internal/broker"
	"github.com/example/classboard/internal/classboard"
	"github.com/example/classboard/internal/persistence"
	"github.com/example/classboard/internal/scheduler"
)

// ScheduleReader loads booking schedules.
type ScheduleReader interface {
	ListBookings(ctx context.Context, schoolID string, day classboard.DayRange) ([]classboard.Booking, error)
	GetBooking(ctx context.Context, bookingID string) (classboard.Booking, error)
}

// SchoolDirectory exposes school settings.
type SchoolDirectory interface {
	GetSchool(ctx context.Context, id string) (School, error)
	// TeacherOrder returns the school's configured teacher display order.
	TeacherOrder(ctx context.Context, schoolID string) ([]string, error)
}

// EventStore reads and writes lesson events.
type EventStore interface {
	GetEvent(ctx context.Context, id string) (EventRef, error)
	GetLesson(ctx context.Context, id string) (LessonRef, error)
	CreateEvent(ctx context.Context, event classboard.Event) error
	ApplyEventChanges(ctx context.Context, updates []EventChange, deletions []string, updatedAt time.Time) error
	UpdateEventStatus(ctx context.Context, ids []string, status scheduler.Status, updatedAt time.Time) error
	DeleteEvents(ctx context.Context, ids []string) error
}

// OptimisticTracker records writes that are shown before the realtime feed
// confirms them.
type OptimisticTracker interface {
	TrackAdd(ctx context.Context, schoolID, key, lessonID string) error
	TrackDelete(ctx context.Context, schoolID, key, eventID string) error
	Clear(ctx context.Context, schoolID, key string)
}

// ClassboardConfig holds the scheduling policy shared by the services.
type ClassboardConfig struct {
	GapMinutes int
	// Locked is the default editing mode of adjustment sessions.
	Locked bool
	// TeacherOrder overrides the school's own teacher order when set.
	TeacherOrder []string
	// FirstSlot is the offset from midnight where an empty day's first event is placed.
	FirstSlot    time.Duration
	CacheTTL     time.Duration
	CacheEntries int
	// SessionTTL is how long an adjustment session may sit idle before it is
	// discarded and its queue freed. Zero keeps sessions until closed.
	SessionTTL time.Duration
}

// ClassboardDeps groups the collaborators of the classboard services.
type ClassboardDeps struct {
	Schedules   ScheduleReader
	Schools     SchoolDirectory
	Events      EventStore
	Tracker     OptimisticTracker
	Publisher   broker.Publisher
	IDGenerator func() string
	Now         func() time.Time
	Logger      *slog.Logger
}

func (d ClassboardDeps) withDefaults() ClassboardDeps {
	if d.IDGenerator == nil {
		d.IDGenerator = func() string { return "" }
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	d.Logger = defaultLogger(d.Logger)
	return d
}

// ClassboardService builds classboard days and applies event mutations.
type ClassboardService struct {
	deps  ClassboardDeps
	cfg   ClassboardConfig
	days  *dayLoader
	cache *dayCache
}

// NewClassboardService wires the classboard service.
func NewClassboardService(deps ClassboardDeps, cfg ClassboardConfig) *ClassboardService {
	deps = deps.withDefaults()
	if cfg.GapMinutes < 0 {
		cfg.GapMinutes = 0
	}
	return &ClassboardService{
		deps:  deps,
		cfg:   cfg,
		days:  &dayLoader{schedules: deps.Schedules, schools: deps.Schools, order: cfg.TeacherOrder},
		cache: newDayCache(cfg.CacheTTL, cfg.CacheEntries, deps.Now),
	}
}

func (s *ClassboardService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.deps.Logger, "ClassboardService", operation, attrs...)
}

// Day returns the teacher queues of a school's calendar day.
func (s *ClassboardService) Day(ctx context.Context, params DayParams) (view DayView, err error) {
	if s == nil {
		err = fmt.Errorf("ClassboardService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Day", "school_id", params.SchoolID, "date", params.Date)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to build classboard day", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("queues", len(view.Queues), "skipped", len(view.Skipped)).DebugContext(ctx, "classboard day built")
	}()

	day, err := s.days.resolve(ctx, params.SchoolID, params.Date)
	if err != nil {
		return DayView{}, err
	}

	key := buildDayCacheKey(params.SchoolID, params.Date, s.cfg.GapMinutes, day.order)
	if cached, ok := s.cache.Get(key); ok {
		return cached, nil
	}

	bookings, err := s.days.bookings(ctx, day)
	if err != nil {
		return DayView{}, err
	}
	result := classboard.BuildTeacherQueues(bookings, classboard.BuildOptions{
		Range:        day.rng,
		GapMinutes:   s.cfg.GapMinutes,
		TeacherOrder: day.order,
	})

	view = DayView{
		SchoolID:    params.SchoolID,
		Date:        params.Date,
		Timezone:    day.school.Location.String(),
		Range:       day.rng,
		GapMinutes:  s.cfg.GapMinutes,
		Queues:      make([]QueueView, 0, len(result.Queues)),
		Skipped:     result.Skipped,
		GeneratedAt: s.deps.Now(),
	}
	stored := storedDates(bookings)
	for _, queue := range result.Queues {
		view.Queues = append(view.Queues, toQueueView(queue))
		view.Conflicts = append(view.Conflicts, storedConflicts(queue, stored, s.cfg.GapMinutes)...)
	}

	s.cache.Store(key, view)
	return view, nil
}

// storedConflicts reports gap violations between the times as persisted, which
// the queue build itself resolves by pushing events forward.
func storedConflicts(queue *scheduler.TeacherQueue, stored map[string]time.Time, gapMinutes int) []ConflictWarning {
	nodes := make([]*scheduler.EventNode, 0, queue.Len())
	for node := range queue.All() {
		copied := *node
		if date, ok := stored[node.ID]; ok {
			copied.EventData.Date = date
		}
		nodes = append(nodes, &copied)
	}
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].EventData.Date.Before(nodes[j].EventData.Date)
	})
	return toConflictWarnings(queue.Teacher().ID, scheduler.DetectConflicts(nodes, gapMinutes))
}

func storedDates(bookings []classboard.Booking) map[string]time.Time {
	dates := make(map[string]time.Time)
	for _, booking := range bookings {
		for _, lesson := range booking.Lessons {
			for _, event := range lesson.Events {
				dates[event.ID] = event.Date
			}
		}
	}
	return dates
}

// SubmitChanges persists a bulk mutation as one batch. An empty batch is a no-op.
func (s *ClassboardService) SubmitChanges(ctx context.Context, params SubmitChangesParams) (result SubmitResult, err error) {
	if s == nil {
		err = fmt.Errorf("ClassboardService is nil")
		return
	}
	if len(params.Updates) == 0 && len(params.Deletions) == 0 {
		return SubmitResult{}, nil
	}

	logger := s.loggerWith(ctx, "SubmitChanges",
		"school_id", params.SchoolID,
		"updates", len(params.Updates),
		"deletions", len(params.Deletions),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to submit changes", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "changes submitted")
	}()

	if vErr := validateChanges(params); vErr.HasErrors() {
		return SubmitResult{}, vErr
	}

	ids := make([]string, 0, len(params.Updates)+len(params.Deletions))
	for _, update := range params.Updates {
		ids = append(ids, update.ID)
	}
	ids = append(ids, params.Deletions...)
	bookingIDs, err := s.locateEvents(ctx, params.SchoolID, ids)
	if err != nil {
		return SubmitResult{}, err
	}

	if err := s.deps.Events.ApplyEventChanges(ctx, params.Updates, params.Deletions, s.deps.Now()); err != nil {
		return SubmitResult{}, mapRepoError(err)
	}
	s.afterWrite(ctx, logger, mutationKindFor(params.Updates), params.SchoolID, bookingIDs, ids)
	return SubmitResult{Updated: len(params.Updates), Deleted: len(params.Deletions)}, nil
}

func mutationKindFor(updates []EventChange) broker.MutationKind {
	if len(updates) == 0 {
		return broker.EventsDeleted
	}
	return broker.EventsUpdated
}

func validateChanges(params SubmitChangesParams) *ValidationError {
	vErr := &ValidationError{}
	if strings.TrimSpace(params.SchoolID) == "" {
		vErr.add("school_id", "school_id is required")
	}
	seen := make(map[string]struct{}, len(params.Updates))
	for i, update := range params.Updates {
		field := fmt.Sprintf("updates[%d]", i)
		if strings.TrimSpace(update.ID) == "" {
			vErr.add(field+".id", "id is required")
			continue
		}
		if _, dup := seen[update.ID]; dup {
			vErr.add(field+".id", "event is updated more than once")
		}
		seen[update.ID] = struct{}{}
		if update.Duration != nil && *update.Duration <= 0 {
			vErr.add(field+".duration", "duration must be positive")
		}
		if update.Status != nil && !update.Status.Valid() {
			vErr.add(field+".status", "unknown status")
		}
		if update.Date != nil && update.Date.IsZero() {
			vErr.add(field+".date", "date must not be zero")
		}
	}
	for i, id := range params.Deletions {
		field := fmt.Sprintf("deletions[%d]", i)
		if strings.TrimSpace(id) == "" {
			vErr.add(field, "id is required")
			continue
		}
		if _, dup := seen[id]; dup {
			vErr.add(field, "event is both updated and deleted")
		}
		seen[id] = struct{}{}
	}
	return vErr
}

// UpdateStatus sets the status of the given events.
func (s *ClassboardService) UpdateStatus(ctx context.Context, params UpdateStatusParams) (err error) {
	if s == nil {
		return fmt.Errorf("ClassboardService is nil")
	}

	logger := s.loggerWith(ctx, "UpdateStatus",
		"school_id", params.SchoolID,
		"status", string(params.Status),
		"events", len(params.EventIDs),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to update event status", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "event status updated")
	}()

	vErr := validateEventIDs(params.SchoolID, params.EventIDs)
	if !params.Status.Valid() {
		vErr.add("status", "unknown status")
	}
	if vErr.HasErrors() {
		return vErr
	}

	ids := uniqueStrings(params.EventIDs)
	bookingIDs, err := s.locateEvents(ctx, params.SchoolID, ids)
	if err != nil {
		return err
	}
	if err := s.deps.Events.UpdateEventStatus(ctx, ids, params.Status, s.deps.Now()); err != nil {
		return mapRepoError(err)
	}
	s.afterWrite(ctx, logger, broker.EventsStatusChanged, params.SchoolID, bookingIDs, ids)
	return nil
}

// DeleteEvents removes events. Each deletion is tracked as an optimistic
// operation until the realtime feed confirms it; a failed delete reverts them.
func (s *ClassboardService) DeleteEvents(ctx context.Context, params DeleteEventsParams) (result DeleteEventsResult, err error) {
	if s == nil {
		err = fmt.Errorf("ClassboardService is nil")
		return
	}

	logger := s.loggerWith(ctx, "DeleteEvents", "school_id", params.SchoolID, "events", len(params.EventIDs))
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete events", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "events deleted")
	}()

	if vErr := validateEventIDs(params.SchoolID, params.EventIDs); vErr.HasErrors() {
		return DeleteEventsResult{}, vErr
	}

	ids := uniqueStrings(params.EventIDs)
	bookingIDs, err := s.locateEvents(ctx, params.SchoolID, ids)
	if err != nil {
		return DeleteEventsResult{}, err
	}

	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		key := s.deps.IDGenerator()
		if s.track(ctx, logger, func(tracker OptimisticTracker) error {
			return tracker.TrackDelete(ctx, params.SchoolID, key, id)
		}) {
			keys = append(keys, key)
		}
	}

	if err := s.deps.Events.DeleteEvents(ctx, ids); err != nil {
		s.clear(ctx, params.SchoolID, keys)
		return DeleteEventsResult{}, mapRepoError(err)
	}
	s.afterWrite(ctx, logger, broker.EventsDeleted, params.SchoolID, bookingIDs, ids)
	return DeleteEventsResult{Deleted: ids, PendingKeys: keys}, nil
}

// CreateEvent adds an event to a lesson. Without an explicit date the event
// goes into the teacher's next free slot of the day.
func (s *ClassboardService) CreateEvent(ctx context.Context, params CreateEventParams) (created CreatedEvent, err error) {
	if s == nil {
		err = fmt.Errorf("ClassboardService is nil")
		return
	}

	logger := s.loggerWith(ctx, "CreateEvent", "school_id", params.SchoolID, "lesson_id", params.LessonID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create event", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("event_id", created.Event.ID, "start", created.Event.Date).InfoContext(ctx, "event created")
	}()

	if vErr := validateCreateEvent(params); vErr.HasErrors() {
		return CreatedEvent{}, vErr
	}

	lessonRef, err := s.deps.Events.GetLesson(ctx, params.LessonID)
	if err != nil {
		return CreatedEvent{}, mapRepoError(err)
	}
	if lessonRef.SchoolID != params.SchoolID {
		return CreatedEvent{}, fmt.Errorf("lesson %s: %w", params.LessonID, ErrNotFound)
	}
	booking, err := s.deps.Schedules.GetBooking(ctx, lessonRef.BookingID)
	if err != nil {
		return CreatedEvent{}, mapRepoError(err)
	}
	lesson, ok := booking.Lesson(params.LessonID)
	if !ok {
		return CreatedEvent{}, fmt.Errorf("lesson %s: %w", params.LessonID, ErrNotFound)
	}

	duration := params.Duration
	if duration == 0 && booking.Package != nil {
		duration = booking.Package.DurationMinutes
	}
	if duration <= 0 {
		return CreatedEvent{}, fieldError("duration", "duration is required when the package has none")
	}

	var start time.Time
	if params.Date != nil {
		start = *params.Date
	} else {
		start, err = s.nextSlot(ctx, params.SchoolID, params.Day, lesson)
		if err != nil {
			return CreatedEvent{}, err
		}
	}

	status := params.Status
	if status == "" {
		status = scheduler.StatusPlanned
	}
	event := classboard.Event{
		ID:       s.deps.IDGenerator(),
		LessonID: params.LessonID,
		Date:     start,
		Duration: duration,
		Location: strings.TrimSpace(params.Location),
		Status:   status,
	}

	key := s.deps.IDGenerator()
	tracked := s.track(ctx, logger, func(tracker OptimisticTracker) error {
		return tracker.TrackAdd(ctx, params.SchoolID, key, params.LessonID)
	})
	if err := s.deps.Events.CreateEvent(ctx, event); err != nil {
		if tracked {
			s.clear(ctx, params.SchoolID, []string{key})
		}
		return CreatedEvent{}, mapRepoError(err)
	}
	if !tracked {
		key = ""
	}

	s.afterWrite(ctx, logger, broker.EventsCreated, params.SchoolID, []string{booking.ID}, []string{event.ID})
	return CreatedEvent{Event: event, BookingID: booking.ID, PendingKey: key}, nil
}

func validateCreateEvent(params CreateEventParams) *ValidationError {
	vErr := &ValidationError{}
	if strings.TrimSpace(params.SchoolID) == "" {
		vErr.add("school_id", "school_id is required")
	}
	if strings.TrimSpace(params.LessonID) == "" {
		vErr.add("lesson_id", "lesson_id is required")
	}
	if params.Duration < 0 {
		vErr.add("duration", "duration must not be negative")
	}
	if params.Status != "" && !params.Status.Valid() {
		vErr.add("status", "unknown status")
	}
	if params.Date == nil && strings.TrimSpace(params.Day) == "" {
		vErr.add("day", "day is required when date is omitted")
	}
	if params.Date != nil && params.Date.IsZero() {
		vErr.add("date", "date must not be zero")
	}
	return vErr
}

// nextSlot places a new event after the teacher's last event of the day.
func (s *ClassboardService) nextSlot(ctx context.Context, schoolID, date string, lesson classboard.Lesson) (time.Time, error) {
	if lesson.Teacher == nil {
		return time.Time{}, fieldError("lesson_id", "lesson has no teacher to place the event for")
	}
	day, err := s.days.resolve(ctx, schoolID, date)
	if err != nil {
		return time.Time{}, err
	}
	bookings, err := s.days.bookings(ctx, day)
	if err != nil {
		return time.Time{}, err
	}
	result := classboard.BuildTeacherQueues(bookings, classboard.BuildOptions{Range: day.rng, GapMinutes: s.cfg.GapMinutes})
	dayStart := day.rng.Start.Add(s.cfg.FirstSlot)
	for _, queue := range result.Queues {
		if queue.Teacher().ID == lesson.Teacher.ID {
			return queue.NextSlot(dayStart, s.cfg.GapMinutes), nil
		}
	}
	return dayStart, nil
}

// RevenueBreakdown computes the revenue of one event.
func (s *ClassboardService) RevenueBreakdown(ctx context.Context, schoolID, eventID string) (view RevenueView, err error) {
	if s == nil {
		err = fmt.Errorf("ClassboardService is nil")
		return
	}

	logger := s.loggerWith(ctx, "RevenueBreakdown", "school_id", schoolID, "event_id", eventID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to compute revenue", "error", err, "error_kind", ErrorKind(err))
		}
	}()

	ref, err := s.deps.Events.GetEvent(ctx, eventID)
	if err != nil {
		return RevenueView{}, mapRepoError(err)
	}
	if ref.SchoolID != schoolID {
		return RevenueView{}, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}
	booking, err := s.deps.Schedules.GetBooking(ctx, ref.BookingID)
	if err != nil {
		return RevenueView{}, mapRepoError(err)
	}

	// a one minute window holding only this event's start
	window := classboard.DayRange{Start: ref.Event.Date, End: ref.Event.Date.Add(time.Minute)}
	result := classboard.BuildTeacherQueues([]classboard.Booking{booking}, classboard.BuildOptions{Range: window})
	for _, skipped := range result.Skipped {
		if skipped.EventID == eventID || (skipped.EventID == "" && skipped.LessonID == ref.Event.LessonID) {
			return RevenueView{}, fieldError("event_id", fmt.Sprintf("revenue unavailable: %s", skipped.Reason))
		}
	}
	for _, queue := range result.Queues {
		breakdown, err := queue.RevenueFor(eventID)
		if errors.Is(err, scheduler.ErrEventNotFound) {
			continue
		}
		if err != nil {
			return RevenueView{}, err
		}
		return RevenueView{
			EventID:   eventID,
			LessonID:  ref.Event.LessonID,
			BookingID: ref.BookingID,
			TeacherID: queue.Teacher().ID,
			Students:  len(booking.Students),
			Breakdown: breakdown,
		}, nil
	}
	return RevenueView{}, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
}

// locateEvents checks that every event belongs to the school and returns the
// bookings they belong to.
func (s *ClassboardService) locateEvents(ctx context.Context, schoolID string, ids []string) ([]string, error) {
	return locateEvents(ctx, s.deps.Events, schoolID, ids)
}

func locateEvents(ctx context.Context, events EventStore, schoolID string, ids []string) ([]string, error) {
	var bookingIDs []string
	for _, id := range ids {
		ref, err := events.GetEvent(ctx, id)
		if err != nil {
			if errors.Is(mapRepoError(err), ErrNotFound) {
				return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
			}
			return nil, err
		}
		if ref.SchoolID != schoolID {
			return nil, fmt.Errorf("event %s: %w", id, ErrNotFound)
		}
		if !slices.Contains(bookingIDs, ref.BookingID) {
			bookingIDs = append(bookingIDs, ref.BookingID)
		}
	}
	return bookingIDs, nil
}

// track runs a tracker call and reports whether the operation is tracked.
// Tracking failures only cost the optimistic display, so they are logged.
func (s *ClassboardService) track(ctx context.Context, logger *slog.Logger, fn func(OptimisticTracker) error) bool {
	if s.deps.Tracker == nil {
		return false
	}
	if err := fn(s.deps.Tracker); err != nil {
		logger.WarnContext(ctx, "failed to track optimistic operation", "error", err)
		return false
	}
	return true
}

func (s *ClassboardService) clear(ctx context.Context, schoolID string, keys []string) {
	if s.deps.Tracker == nil {
		return
	}
	for _, key := range keys {
		s.deps.Tracker.Clear(ctx, schoolID, key)
	}
}

// afterWrite drops cached days of the school and announces the mutation.
func (s *ClassboardService) afterWrite(ctx context.Context, logger *slog.Logger, kind broker.MutationKind, schoolID string, bookingIDs, eventIDs []string) {
	s.cache.InvalidateSchool(schoolID)
	publishMutation(ctx, logger, s.deps.Publisher, broker.NewMutationEvent(kind, schoolID, bookingIDs, eventIDs, s.deps.Now()))
}

// InvalidateSchool drops the cached days of a school, for example after a
// change arrived from another instance.
func (s *ClassboardService) InvalidateSchool(schoolID string) {
	if s == nil {
		return
	}
	s.cache.InvalidateSchool(schoolID)
}

// publishMutation sends the event. The write is already committed, so a
// failed publish is logged and left to the periodic resync.
func publishMutation(ctx context.Context, logger *slog.Logger, publisher broker.Publisher, event broker.MutationEvent) {
	if publisher == nil || len(event.BookingIDs) == 0 {
		return
	}
	if err := publisher.Publish(ctx, event); err != nil {
		logger.ErrorContext(ctx, "failed to publish mutation event",
			"event_id", event.ID, "kind", string(event.Kind), "error", err)
	}
}

func validateEventIDs(schoolID string, ids []string) *ValidationError {
	vErr := &ValidationError{}
	if strings.TrimSpace(schoolID) == "" {
		vErr.add("school_id", "school_id is required")
	}
	if len(ids) == 0 {
		vErr.add("event_ids", "at least one event id is required")
	}
	for _, id := range ids {
		if strings.TrimSpace(id) == "" {
			vErr.add("event_ids", "event ids must not be empty")
			break
		}
	}
	return vErr
}

func uniqueStrings(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, value := range values {
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		out = append(out, value)
	}
	return out
}

func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if errors.Is(err, persistence.ErrDuplicate) {
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	if errors.Is(err, persistence.ErrConstraintViolation) {
		return fieldError("events", "change violates a storage constraint")
	}
	return err
}
