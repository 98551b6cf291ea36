package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/classboard/internal/broker"
	"github.com/example/classboard/internal/classboard"
	"github.com/example/classboard/internal/scheduler"
)

// adjustmentSession is one teacher day under edit. mu serialises every
// controller call since the controller mutates the queue in place.
type adjustmentSession struct {
	mu         sync.Mutex
	id         string
	schoolID   string
	date       string
	key        scheduler.QueueKey
	controller *scheduler.QueueController
	startedAt  time.Time
	touchedAt  time.Time
	submitting bool
	closed     bool
}

// AdjustmentService hosts editing sessions over teacher queues. At most one
// session exists per teacher and day.
type AdjustmentService struct {
	deps     ClassboardDeps
	cfg      ClassboardConfig
	days     *dayLoader
	registry *scheduler.Registry
	// invalidate drops cached classboard days after a submit.
	invalidate func(schoolID string)

	mu       sync.Mutex
	sessions map[string]*adjustmentSession
}

// NewAdjustmentService wires the adjustment service. invalidate may be nil.
func NewAdjustmentService(deps ClassboardDeps, cfg ClassboardConfig, registry *scheduler.Registry, invalidate func(schoolID string)) *AdjustmentService {
	deps = deps.withDefaults()
	if registry == nil {
		registry = scheduler.NewRegistry()
	}
	if invalidate == nil {
		invalidate = func(string) {}
	}
	return &AdjustmentService{
		deps:       deps,
		cfg:        cfg,
		days:       &dayLoader{schedules: deps.Schedules, schools: deps.Schools, order: cfg.TeacherOrder},
		registry:   registry,
		invalidate: invalidate,
		sessions:   make(map[string]*adjustmentSession),
	}
}

func (s *AdjustmentService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.deps.Logger, "AdjustmentService", operation, attrs...)
}

// Start opens an editing session over a teacher's queue for one day.
func (s *AdjustmentService) Start(ctx context.Context, params StartAdjustmentParams) (view AdjustmentView, err error) {
	if s == nil {
		err = fmt.Errorf("AdjustmentService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Start",
		"school_id", params.SchoolID,
		"teacher_id", params.TeacherID,
		"date", params.Date,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to start adjustment", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("session_id", view.ID, "events", len(view.Events)).InfoContext(ctx, "adjustment started")
	}()

	vErr := &ValidationError{}
	if strings.TrimSpace(params.TeacherID) == "" {
		vErr.add("teacher_id", "teacher_id is required")
	}
	if params.GapMinutes != nil && *params.GapMinutes < 0 {
		vErr.add("gap_minutes", "gap_minutes must not be negative")
	}
	if vErr.HasErrors() {
		return AdjustmentView{}, vErr
	}

	day, err := s.days.resolve(ctx, params.SchoolID, params.Date)
	if err != nil {
		return AdjustmentView{}, err
	}
	bookings, err := s.days.bookings(ctx, day)
	if err != nil {
		return AdjustmentView{}, err
	}

	settings := scheduler.ControllerSettings{Locked: s.cfg.Locked, GapMinutes: s.cfg.GapMinutes}
	if params.Locked != nil {
		settings.Locked = *params.Locked
	}
	if params.GapMinutes != nil {
		settings.GapMinutes = *params.GapMinutes
	}

	result := classboard.BuildTeacherQueues(bookings, classboard.BuildOptions{Range: day.rng, GapMinutes: settings.GapMinutes})
	var queue *scheduler.TeacherQueue
	for _, candidate := range result.Queues {
		if candidate.Teacher().ID == params.TeacherID {
			queue = candidate
			break
		}
	}
	if queue == nil {
		return AdjustmentView{}, fmt.Errorf("no events for teacher %s on %s: %w", params.TeacherID, params.Date, ErrNotFound)
	}

	if expired := s.ExpireIdleSessions(ctx); expired > 0 {
		logger.DebugContext(ctx, "idle adjustments expired", "expired", expired)
	}

	key := scheduler.KeyFor(params.TeacherID, day.rng.Start)
	controller, err := s.registry.Acquire(key, queue, settings)
	if err != nil {
		if errors.Is(err, scheduler.ErrControllerActive) {
			return AdjustmentView{}, ErrSessionActive
		}
		return AdjustmentView{}, err
	}

	now := s.deps.Now()
	session := &adjustmentSession{
		id:         s.deps.IDGenerator(),
		schoolID:   params.SchoolID,
		date:       params.Date,
		key:        key,
		controller: controller,
		startedAt:  now,
		touchedAt:  now,
	}
	s.mu.Lock()
	s.sessions[session.id] = session
	s.mu.Unlock()

	session.mu.Lock()
	defer session.mu.Unlock()
	return session.view(), nil
}

// Get returns the current state of a session.
func (s *AdjustmentService) Get(ctx context.Context, sessionID string) (AdjustmentView, error) {
	var view AdjustmentView
	err := s.withSession(ctx, sessionID, func(session *adjustmentSession) error {
		view = session.view()
		return nil
	})
	return view, err
}

// Move changes an event's start following the session's editing mode.
func (s *AdjustmentService) Move(ctx context.Context, sessionID, eventID string, date time.Time) (AdjustmentView, error) {
	if date.IsZero() {
		return AdjustmentView{}, fieldError("date", "date is required")
	}
	return s.edit(ctx, "Move", sessionID, func(c *scheduler.QueueController) error {
		_, err := c.MoveEvent(eventID, date)
		return err
	}, "event_id", eventID)
}

// Resize changes an event's duration following the session's editing mode.
func (s *AdjustmentService) Resize(ctx context.Context, sessionID, eventID string, minutes int) (AdjustmentView, error) {
	if minutes <= 0 {
		return AdjustmentView{}, fieldError("duration", "duration must be positive")
	}
	return s.edit(ctx, "Resize", sessionID, func(c *scheduler.QueueController) error {
		_, err := c.ResizeEvent(eventID, minutes)
		return err
	}, "event_id", eventID)
}

// Edit updates an event's location and status.
func (s *AdjustmentService) Edit(ctx context.Context, sessionID, eventID string, location *string, status *scheduler.Status) (AdjustmentView, error) {
	if status != nil && !status.Valid() {
		return AdjustmentView{}, fieldError("status", "unknown status")
	}
	return s.edit(ctx, "Edit", sessionID, func(c *scheduler.QueueController) error {
		if location != nil {
			if err := c.SetLocation(eventID, strings.TrimSpace(*location)); err != nil {
				return err
			}
		}
		if status != nil {
			return c.SetStatus(eventID, *status)
		}
		return nil
	}, "event_id", eventID)
}

// Remove drops an event from the queue; it is deleted on submit.
func (s *AdjustmentService) Remove(ctx context.Context, sessionID, eventID string) (AdjustmentView, error) {
	return s.edit(ctx, "Remove", sessionID, func(c *scheduler.QueueController) error {
		return c.RemoveEvent(eventID)
	}, "event_id", eventID)
}

// SetLocked switches between cascade and time-respect editing.
func (s *AdjustmentService) SetLocked(ctx context.Context, sessionID string, locked bool) (AdjustmentView, error) {
	return s.edit(ctx, "SetLocked", sessionID, func(c *scheduler.QueueController) error {
		c.SetLocked(locked)
		return nil
	}, "locked", locked)
}

// Optimise packs the queue so every event follows its predecessor by the gap.
func (s *AdjustmentService) Optimise(ctx context.Context, sessionID string) (AdjustmentView, error) {
	return s.edit(ctx, "Optimise", sessionID, func(c *scheduler.QueueController) error {
		c.OptimiseQueue()
		return nil
	})
}

// Reset restores the queue to the state at session start.
func (s *AdjustmentService) Reset(ctx context.Context, sessionID string) (AdjustmentView, error) {
	return s.edit(ctx, "Reset", sessionID, func(c *scheduler.QueueController) error {
		return c.ResetToSnapshot()
	})
}

// Changes returns the pending update and deletion batch.
func (s *AdjustmentService) Changes(ctx context.Context, sessionID string) (scheduler.Changes, error) {
	var changes scheduler.Changes
	err := s.withSession(ctx, sessionID, func(session *adjustmentSession) error {
		changes = session.controller.GetChanges()
		return nil
	})
	return changes, err
}

// Submit persists the session's changes as one batch and closes the session.
// On failure the session and its snapshot stay intact so the caller can retry
// or cancel.
func (s *AdjustmentService) Submit(ctx context.Context, sessionID string) (result SubmitResult, err error) {
	if s == nil {
		err = fmt.Errorf("AdjustmentService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Submit", "session_id", sessionID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to submit adjustment", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("updated", result.Updated, "deleted", result.Deleted).InfoContext(ctx, "adjustment submitted")
	}()

	session, err := s.session(sessionID)
	if err != nil {
		return SubmitResult{}, err
	}

	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		return SubmitResult{}, ErrNoActiveSession
	}
	if session.expired(s.deps.Now(), s.cfg.SessionTTL) {
		session.mu.Unlock()
		s.expire(ctx, session)
		return SubmitResult{}, ErrNoActiveSession
	}
	if session.submitting {
		session.mu.Unlock()
		return SubmitResult{}, fmt.Errorf("submit already in flight: %w", ErrConflict)
	}
	changes := session.controller.GetChanges()
	bookingIDs := session.bookingIDs(changes)
	session.submitting = true
	session.mu.Unlock()

	result = SubmitResult{SessionID: sessionID, Updated: len(changes.Updates), Deleted: len(changes.Deletions)}
	if !changes.Empty() {
		writeErr := s.deps.Events.ApplyEventChanges(ctx, toEventChanges(changes.Updates), changes.Deletions, s.deps.Now())
		if writeErr != nil {
			session.mu.Lock()
			session.submitting = false
			session.mu.Unlock()
			return SubmitResult{}, mapRepoError(writeErr)
		}
	}

	s.close(session)
	if !changes.Empty() {
		s.invalidate(session.schoolID)
		eventIDs := make([]string, 0, len(changes.Updates)+len(changes.Deletions))
		for _, update := range changes.Updates {
			eventIDs = append(eventIDs, update.ID)
		}
		eventIDs = append(eventIDs, changes.Deletions...)
		kind := broker.EventsUpdated
		if len(changes.Updates) == 0 {
			kind = broker.EventsDeleted
		}
		publishMutation(ctx, logger, s.deps.Publisher, broker.NewMutationEvent(kind, session.schoolID, bookingIDs, eventIDs, s.deps.Now()))
	}
	return result, nil
}

// Cancel discards the session's edits. It always succeeds for a known session.
func (s *AdjustmentService) Cancel(ctx context.Context, sessionID string) error {
	session, err := s.session(sessionID)
	if err != nil {
		return err
	}
	session.mu.Lock()
	if !session.closed {
		// discard in-place edits before the queue is released
		if err := session.controller.ResetToSnapshot(); err != nil && !errors.Is(err, scheduler.ErrNotAdjusting) {
			session.mu.Unlock()
			return err
		}
	}
	session.mu.Unlock()
	s.close(session)
	s.loggerWith(ctx, "Cancel", "session_id", sessionID).InfoContext(ctx, "adjustment cancelled")
	return nil
}

// ExpireIdleSessions discards the edits of sessions idle for at least the
// session TTL and frees their queues. Sessions with a submit in flight are
// kept. It returns the number of expired sessions.
func (s *AdjustmentService) ExpireIdleSessions(ctx context.Context) int {
	if s == nil || s.cfg.SessionTTL <= 0 {
		return 0
	}
	now := s.deps.Now()

	s.mu.Lock()
	candidates := make([]*adjustmentSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		candidates = append(candidates, session)
	}
	s.mu.Unlock()

	expired := 0
	for _, session := range candidates {
		session.mu.Lock()
		idle := session.expired(now, s.cfg.SessionTTL)
		session.mu.Unlock()
		if idle {
			s.expire(ctx, session)
			expired++
		}
	}
	return expired
}

// expire resets a session to its snapshot and closes it.
func (s *AdjustmentService) expire(ctx context.Context, session *adjustmentSession) {
	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		return
	}
	if err := session.controller.ResetToSnapshot(); err != nil && !errors.Is(err, scheduler.ErrNotAdjusting) {
		s.loggerWith(ctx, "Expire", "session_id", session.id).WarnContext(ctx, "failed to reset expired adjustment", "error", err)
	}
	idle := s.deps.Now().Sub(session.touchedAt)
	session.mu.Unlock()
	s.close(session)
	s.loggerWith(ctx, "Expire", "session_id", session.id, "school_id", session.schoolID).
		InfoContext(ctx, "adjustment expired", "idle", idle)
}

// Active returns the number of open sessions.
func (s *AdjustmentService) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *AdjustmentService) close(session *adjustmentSession) {
	session.mu.Lock()
	session.closed = true
	session.submitting = false
	session.mu.Unlock()

	s.registry.Release(session.key, session.controller)
	s.mu.Lock()
	delete(s.sessions, session.id)
	s.mu.Unlock()
}

func (s *AdjustmentService) session(sessionID string) (*adjustmentSession, error) {
	if s == nil {
		return nil, fmt.Errorf("AdjustmentService is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNoActiveSession
	}
	return session, nil
}

func (s *AdjustmentService) withSession(ctx context.Context, sessionID string, fn func(*adjustmentSession) error) error {
	session, err := s.session(sessionID)
	if err != nil {
		return err
	}
	session.mu.Lock()
	if session.closed {
		session.mu.Unlock()
		return ErrNoActiveSession
	}
	now := s.deps.Now()
	if session.expired(now, s.cfg.SessionTTL) {
		session.mu.Unlock()
		s.expire(ctx, session)
		return ErrNoActiveSession
	}
	session.touchedAt = now
	defer session.mu.Unlock()
	return fn(session)
}

// expired must be called with session.mu held.
func (session *adjustmentSession) expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 || session.closed || session.submitting {
		return false
	}
	return !now.Before(session.touchedAt.Add(ttl))
}

// edit runs a controller mutation and returns the resulting view. Edits are
// rejected while a submit is in flight.
func (s *AdjustmentService) edit(ctx context.Context, operation, sessionID string, fn func(*scheduler.QueueController) error, attrs ...any) (view AdjustmentView, err error) {
	logger := s.loggerWith(ctx, operation, append([]any{"session_id", sessionID}, attrs...)...)
	err = s.withSession(ctx, sessionID, func(session *adjustmentSession) error {
		if session.submitting {
			return fmt.Errorf("submit in flight: %w", ErrConflict)
		}
		if err := fn(session.controller); err != nil {
			return mapControllerError(err)
		}
		view = session.view()
		return nil
	})
	if err != nil {
		logger.ErrorContext(ctx, "adjustment edit failed", "error", err, "error_kind", ErrorKind(err))
		return AdjustmentView{}, err
	}
	logger.With("revision", view.Revision).DebugContext(ctx, "adjustment edited")
	return view, nil
}

func mapControllerError(err error) error {
	switch {
	case errors.Is(err, scheduler.ErrEventNotFound):
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	case errors.Is(err, scheduler.ErrNotAdjusting):
		return ErrNoActiveSession
	}
	return err
}

// view must be called with session.mu held.
func (session *adjustmentSession) view() AdjustmentView {
	controller := session.controller
	queue := controller.Queue()
	settings := controller.Settings()
	teacher := queue.Teacher()
	return AdjustmentView{
		ID:           session.id,
		SchoolID:     session.schoolID,
		TeacherID:    teacher.ID,
		TeacherName:  teacher.Name,
		Date:         session.date,
		Locked:       settings.Locked,
		GapMinutes:   settings.GapMinutes,
		Revision:     controller.Revision(),
		Events:       toEventViews(queue.Events()),
		Changes:      controller.GetChanges(),
		Optimisation: controller.GetOptimisationStats(),
		Conflicts:    toConflictWarnings(teacher.ID, scheduler.DetectConflicts(queue.Events(), settings.GapMinutes)),
		StartedAt:    session.startedAt,
	}
}

// bookingIDs lists the bookings touched by the changes. Deleted events are
// no longer in the queue and are resolved through the snapshot.
func (session *adjustmentSession) bookingIDs(changes scheduler.Changes) []string {
	byEvent := make(map[string]string)
	for node := range session.controller.Queue().All() {
		byEvent[node.ID] = node.BookingID
	}
	for id, bookingID := range session.controller.SnapshotBookings() {
		if _, ok := byEvent[id]; !ok {
			byEvent[id] = bookingID
		}
	}
	set := make(map[string]struct{})
	for _, update := range changes.Updates {
		set[byEvent[update.ID]] = struct{}{}
	}
	for _, id := range changes.Deletions {
		set[byEvent[id]] = struct{}{}
	}
	delete(set, "")
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func toEventChanges(updates []scheduler.EventUpdate) []EventChange {
	changes := make([]EventChange, 0, len(updates))
	for _, update := range updates {
		changes = append(changes, EventChange{
			ID:       update.ID,
			Date:     update.Date,
			Duration: update.Duration,
			Location: update.Location,
			Status:   update.Status,
		})
	}
	return changes
}
