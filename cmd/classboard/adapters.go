package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/classboard/internal/application"
	"github.com/example/classboard/internal/classboard"
	"github.com/example/classboard/internal/persistence"
	"github.com/example/classboard/internal/scheduler"
)

// boardWindow bounds the bookings a realtime board mirrors around now.
type boardWindow struct {
	Before time.Duration
	After  time.Duration
}

var defaultBoardWindow = boardWindow{Before: 24 * time.Hour, After: 14 * 24 * time.Hour}

type scheduleReaderAdapter struct {
	repo persistence.BookingRepository
}

func newScheduleReaderAdapter(repo persistence.BookingRepository) *scheduleReaderAdapter {
	return &scheduleReaderAdapter{repo: repo}
}

func (a *scheduleReaderAdapter) ListBookings(ctx context.Context, schoolID string, day classboard.DayRange) ([]classboard.Booking, error) {
	schedules, err := a.repo.ListBookingSchedules(ctx, persistence.BookingFilter{SchoolID: schoolID, From: day.Start, To: day.End})
	if err != nil {
		return nil, err
	}
	if len(schedules) == 0 {
		return nil, nil
	}
	bookings := make([]classboard.Booking, 0, len(schedules))
	for _, schedule := range schedules {
		bookings = append(bookings, toClassboardBooking(schedule))
	}
	return bookings, nil
}

func (a *scheduleReaderAdapter) GetBooking(ctx context.Context, bookingID string) (classboard.Booking, error) {
	schedule, err := a.repo.GetBookingSchedule(ctx, bookingID)
	if err != nil {
		return classboard.Booking{}, err
	}
	return toClassboardBooking(schedule), nil
}

// bookingLoaderAdapter feeds realtime boards and the broker relay.
type bookingLoaderAdapter struct {
	reader *scheduleReaderAdapter
	window boardWindow
	now    func() time.Time
}

func newBookingLoaderAdapter(repo persistence.BookingRepository, window boardWindow, now func() time.Time) *bookingLoaderAdapter {
	if now == nil {
		now = time.Now
	}
	return &bookingLoaderAdapter{reader: newScheduleReaderAdapter(repo), window: window, now: now}
}

func (a *bookingLoaderAdapter) LoadBookings(ctx context.Context, schoolID string) ([]classboard.Booking, error) {
	now := a.now()
	return a.reader.ListBookings(ctx, schoolID, classboard.DayRange{Start: now.Add(-a.window.Before), End: now.Add(a.window.After)})
}

func (a *bookingLoaderAdapter) LoadBooking(ctx context.Context, bookingID string) (classboard.Booking, error) {
	return a.reader.GetBooking(ctx, bookingID)
}

func (a *bookingLoaderAdapter) FindBooking(ctx context.Context, bookingID string) (classboard.Booking, bool, error) {
	booking, err := a.reader.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return classboard.Booking{}, false, nil
		}
		return classboard.Booking{}, false, err
	}
	return booking, true, nil
}

type schoolDirectoryAdapter struct {
	repo     persistence.CatalogRepository
	fallback *time.Location
}

func newSchoolDirectoryAdapter(repo persistence.CatalogRepository, fallback *time.Location) *schoolDirectoryAdapter {
	if fallback == nil {
		fallback = time.UTC
	}
	return &schoolDirectoryAdapter{repo: repo, fallback: fallback}
}

func (a *schoolDirectoryAdapter) GetSchool(ctx context.Context, id string) (application.School, error) {
	stored, err := a.repo.GetSchool(ctx, id)
	if err != nil {
		return application.School{}, err
	}
	loc := a.fallback
	if tz := strings.TrimSpace(stored.Timezone); tz != "" {
		loaded, err := time.LoadLocation(tz)
		if err != nil {
			return application.School{}, fmt.Errorf("school %s has an unknown timezone %q: %w", id, tz, err)
		}
		loc = loaded
	}
	return application.School{ID: stored.ID, Name: stored.Name, Location: loc}, nil
}

func (a *schoolDirectoryAdapter) TeacherOrder(ctx context.Context, schoolID string) ([]string, error) {
	teachers, err := a.repo.ListTeachers(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	if len(teachers) == 0 {
		return nil, nil
	}
	order := make([]string, 0, len(teachers))
	for _, teacher := range teachers {
		if teacher.Active {
			order = append(order, teacher.ID)
		}
	}
	return order, nil
}

type eventStoreAdapter struct {
	store persistence.Store
	now   func() time.Time
}

func newEventStoreAdapter(store persistence.Store, now func() time.Time) *eventStoreAdapter {
	if now == nil {
		now = time.Now
	}
	return &eventStoreAdapter{store: store, now: now}
}

func (a *eventStoreAdapter) GetEvent(ctx context.Context, id string) (application.EventRef, error) {
	stored, err := a.store.GetEvent(ctx, id)
	if err != nil {
		return application.EventRef{}, err
	}
	lesson, err := a.GetLesson(ctx, stored.LessonID)
	if err != nil {
		return application.EventRef{}, err
	}
	return application.EventRef{
		Event:     toClassboardEvent(stored),
		BookingID: lesson.BookingID,
		SchoolID:  lesson.SchoolID,
	}, nil
}

func (a *eventStoreAdapter) GetLesson(ctx context.Context, id string) (application.LessonRef, error) {
	lesson, err := a.store.GetLesson(ctx, id)
	if err != nil {
		return application.LessonRef{}, err
	}
	schedule, err := a.store.GetBookingSchedule(ctx, lesson.BookingID)
	if err != nil {
		return application.LessonRef{}, err
	}
	return application.LessonRef{ID: lesson.ID, BookingID: lesson.BookingID, SchoolID: schedule.Booking.SchoolID}, nil
}

func (a *eventStoreAdapter) CreateEvent(ctx context.Context, event classboard.Event) error {
	now := a.now().UTC()
	return a.store.CreateEvent(ctx, persistence.Event{
		ID:        event.ID,
		LessonID:  event.LessonID,
		Date:      event.Date,
		Duration:  event.Duration,
		Location:  event.Location,
		Status:    string(event.Status),
		CreatedAt: now,
		UpdatedAt: now,
	})
}

func (a *eventStoreAdapter) ApplyEventChanges(ctx context.Context, updates []application.EventChange, deletions []string, updatedAt time.Time) error {
	converted := make([]persistence.EventUpdate, 0, len(updates))
	for _, update := range updates {
		change := persistence.EventUpdate{
			ID:       update.ID,
			Date:     cloneTime(update.Date),
			Duration: cloneInt(update.Duration),
			Location: cloneString(update.Location),
		}
		if update.Status != nil {
			status := string(*update.Status)
			change.Status = &status
		}
		converted = append(converted, change)
	}
	return a.store.ApplyEventChanges(ctx, converted, append([]string(nil), deletions...), updatedAt)
}

func (a *eventStoreAdapter) UpdateEventStatus(ctx context.Context, ids []string, status scheduler.Status, updatedAt time.Time) error {
	return a.store.UpdateEventStatus(ctx, ids, string(status), updatedAt)
}

func (a *eventStoreAdapter) DeleteEvents(ctx context.Context, ids []string) error {
	return a.store.DeleteEvents(ctx, ids)
}

func toClassboardBooking(schedule persistence.BookingSchedule) classboard.Booking {
	booking := classboard.Booking{
		ID:        schedule.Booking.ID,
		SchoolID:  schedule.Booking.SchoolID,
		DateStart: schedule.Booking.DateStart,
		DateEnd:   schedule.Booking.DateEnd,
		Students:  make([]classboard.Student, 0, len(schedule.Students)),
		Lessons:   make([]classboard.Lesson, 0, len(schedule.Lessons)),
		UpdatedAt: schedule.Booking.UpdatedAt,
	}
	if pkg := schedule.Package; pkg != nil {
		booking.Package = &classboard.Package{
			ID:                pkg.ID,
			Description:       pkg.Description,
			PricePerStudent:   pkg.PricePerStudent,
			DurationMinutes:   pkg.DurationMinutes,
			CategoryEquipment: pkg.CategoryEquipment,
			CapacityEquipment: pkg.CapacityEquipment,
			CapacityStudents:  pkg.CapacityStudents,
		}
	}
	for _, student := range schedule.Students {
		booking.Students = append(booking.Students, classboard.Student{ID: student.ID, Name: student.Name})
	}
	for _, lesson := range schedule.Lessons {
		converted := classboard.Lesson{
			ID:        lesson.Lesson.ID,
			BookingID: lesson.Lesson.BookingID,
			Status:    lesson.Lesson.Status,
			Events:    make([]classboard.Event, 0, len(lesson.Events)),
		}
		if teacher := lesson.Teacher; teacher != nil {
			converted.Teacher = &classboard.Teacher{ID: teacher.ID, Username: teacher.Username, Name: teacher.Name}
		}
		if commission := lesson.Commission; commission != nil {
			converted.Commission = &scheduler.Commission{Type: scheduler.CommissionType(commission.Type), CPH: commission.CPH}
		}
		for _, event := range lesson.Events {
			converted.Events = append(converted.Events, toClassboardEvent(event))
		}
		booking.Lessons = append(booking.Lessons, converted)
	}
	return booking
}

func toClassboardEvent(event persistence.Event) classboard.Event {
	return classboard.Event{
		ID:       event.ID,
		LessonID: event.LessonID,
		Date:     event.Date,
		Duration: event.Duration,
		Location: event.Location,
		Status:   scheduler.Status(event.Status),
	}
}

func cloneString(value *string) *string {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}

func cloneInt(value *int) *int {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
