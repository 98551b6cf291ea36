// Package memory provides a map-backed persistence.Store used by tests and by
// local runs without a database.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/example/classboard/internal/persistence"
)

// Storage keeps every record in process memory.
type Storage struct {
	mu          sync.RWMutex
	schools     map[string]persistence.School
	teachers    map[string]persistence.Teacher
	students    map[string]persistence.Student
	packages    map[string]persistence.Package
	commissions map[string]persistence.Commission
	bookings    map[string]persistence.Booking
	lessons     map[string]persistence.Lesson
	events      map[string]persistence.Event
}

var _ persistence.Store = (*Storage)(nil)

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		schools:     make(map[string]persistence.School),
		teachers:    make(map[string]persistence.Teacher),
		students:    make(map[string]persistence.Student),
		packages:    make(map[string]persistence.Package),
		commissions: make(map[string]persistence.Commission),
		bookings:    make(map[string]persistence.Booking),
		lessons:     make(map[string]persistence.Lesson),
		events:      make(map[string]persistence.Event),
	}
}

// Close is a no-op.
func (s *Storage) Close() error {
	return nil
}

// --- CatalogRepository implementation ---

// CreateSchool stores a new school.
func (s *Storage) CreateSchool(ctx context.Context, school persistence.School) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schools[school.ID]; ok {
		return fmt.Errorf("memory: school %s: %w", school.ID, persistence.ErrDuplicate)
	}
	s.schools[school.ID] = school
	return nil
}

// GetSchool retrieves a school by ID.
func (s *Storage) GetSchool(ctx context.Context, id string) (persistence.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	school, ok := s.schools[id]
	if !ok {
		return persistence.School{}, persistence.ErrNotFound
	}
	return school, nil
}

// CreateTeacher stores a new teacher.
func (s *Storage) CreateTeacher(ctx context.Context, teacher persistence.Teacher) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.teachers[teacher.ID]; ok {
		return fmt.Errorf("memory: teacher %s: %w", teacher.ID, persistence.ErrDuplicate)
	}
	if _, ok := s.schools[teacher.SchoolID]; !ok {
		return fmt.Errorf("memory: school %s does not exist: %w", teacher.SchoolID, persistence.ErrConstraintViolation)
	}
	for _, existing := range s.teachers {
		if existing.SchoolID == teacher.SchoolID && existing.Username == teacher.Username {
			return fmt.Errorf("memory: username %s: %w", teacher.Username, persistence.ErrDuplicate)
		}
	}
	s.teachers[teacher.ID] = teacher
	return nil
}

// GetTeacher retrieves a teacher by ID.
func (s *Storage) GetTeacher(ctx context.Context, id string) (persistence.Teacher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	teacher, ok := s.teachers[id]
	if !ok {
		return persistence.Teacher{}, persistence.ErrNotFound
	}
	return teacher, nil
}

// ListTeachers returns a school's teachers ordered by sort order then name.
func (s *Storage) ListTeachers(ctx context.Context, schoolID string) ([]persistence.Teacher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	teachers := make([]persistence.Teacher, 0)
	for _, teacher := range s.teachers {
		if teacher.SchoolID == schoolID {
			teachers = append(teachers, teacher)
		}
	}
	sort.Slice(teachers, func(i, j int) bool {
		if teachers[i].SortOrder != teachers[j].SortOrder {
			return teachers[i].SortOrder < teachers[j].SortOrder
		}
		if teachers[i].Name != teachers[j].Name {
			return teachers[i].Name < teachers[j].Name
		}
		return teachers[i].ID < teachers[j].ID
	})
	return teachers, nil
}

// CreateStudent stores a new student.
func (s *Storage) CreateStudent(ctx context.Context, student persistence.Student) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.students[student.ID]; ok {
		return fmt.Errorf("memory: student %s: %w", student.ID, persistence.ErrDuplicate)
	}
	if _, ok := s.schools[student.SchoolID]; !ok {
		return fmt.Errorf("memory: school %s does not exist: %w", student.SchoolID, persistence.ErrConstraintViolation)
	}
	s.students[student.ID] = student
	return nil
}

// CreatePackage stores a new package.
func (s *Storage) CreatePackage(ctx context.Context, pkg persistence.Package) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.packages[pkg.ID]; ok {
		return fmt.Errorf("memory: package %s: %w", pkg.ID, persistence.ErrDuplicate)
	}
	if _, ok := s.schools[pkg.SchoolID]; !ok {
		return fmt.Errorf("memory: school %s does not exist: %w", pkg.SchoolID, persistence.ErrConstraintViolation)
	}
	s.packages[pkg.ID] = pkg
	return nil
}

// GetPackage retrieves a package by ID.
func (s *Storage) GetPackage(ctx context.Context, id string) (persistence.Package, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pkg, ok := s.packages[id]
	if !ok {
		return persistence.Package{}, persistence.ErrNotFound
	}
	return pkg, nil
}

// CreateCommission stores a new commission.
func (s *Storage) CreateCommission(ctx context.Context, commission persistence.Commission) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.commissions[commission.ID]; ok {
		return fmt.Errorf("memory: commission %s: %w", commission.ID, persistence.ErrDuplicate)
	}
	if _, ok := s.teachers[commission.TeacherID]; !ok {
		return fmt.Errorf("memory: teacher %s does not exist: %w", commission.TeacherID, persistence.ErrConstraintViolation)
	}
	s.commissions[commission.ID] = commission
	return nil
}

// --- BookingRepository implementation ---

// CreateBooking stores a booking with its roster.
func (s *Storage) CreateBooking(ctx context.Context, booking persistence.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.bookings[booking.ID]; ok {
		return fmt.Errorf("memory: booking %s: %w", booking.ID, persistence.ErrDuplicate)
	}
	if _, ok := s.schools[booking.SchoolID]; !ok {
		return fmt.Errorf("memory: school %s does not exist: %w", booking.SchoolID, persistence.ErrConstraintViolation)
	}
	if _, ok := s.packages[booking.PackageID]; !ok {
		return fmt.Errorf("memory: package %s does not exist: %w", booking.PackageID, persistence.ErrConstraintViolation)
	}
	for _, studentID := range booking.StudentIDs {
		if _, ok := s.students[studentID]; !ok {
			return fmt.Errorf("memory: student %s does not exist: %w", studentID, persistence.ErrConstraintViolation)
		}
	}
	booking.StudentIDs = uniqueStrings(booking.StudentIDs)
	s.bookings[booking.ID] = cloneBooking(booking)
	return nil
}

// CreateLesson stores a lesson inside an existing booking.
func (s *Storage) CreateLesson(ctx context.Context, lesson persistence.Lesson) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.lessons[lesson.ID]; ok {
		return fmt.Errorf("memory: lesson %s: %w", lesson.ID, persistence.ErrDuplicate)
	}
	if _, ok := s.bookings[lesson.BookingID]; !ok {
		return fmt.Errorf("memory: booking %s does not exist: %w", lesson.BookingID, persistence.ErrConstraintViolation)
	}
	if lesson.TeacherID != nil {
		if _, ok := s.teachers[*lesson.TeacherID]; !ok {
			return fmt.Errorf("memory: teacher %s does not exist: %w", *lesson.TeacherID, persistence.ErrConstraintViolation)
		}
	}
	if lesson.CommissionID != nil {
		if _, ok := s.commissions[*lesson.CommissionID]; !ok {
			return fmt.Errorf("memory: commission %s does not exist: %w", *lesson.CommissionID, persistence.ErrConstraintViolation)
		}
	}
	s.lessons[lesson.ID] = cloneLesson(lesson)
	return nil
}

// GetLesson retrieves a lesson by ID.
func (s *Storage) GetLesson(ctx context.Context, id string) (persistence.Lesson, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lesson, ok := s.lessons[id]
	if !ok {
		return persistence.Lesson{}, persistence.ErrNotFound
	}
	return cloneLesson(lesson), nil
}

// GetBookingSchedule assembles the full schedule of one booking.
func (s *Storage) GetBookingSchedule(ctx context.Context, id string) (persistence.BookingSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	booking, ok := s.bookings[id]
	if !ok {
		return persistence.BookingSchedule{}, persistence.ErrNotFound
	}
	return s.scheduleLocked(booking), nil
}

// ListBookingSchedules returns schedules matching the filter ordered by start
// date then id.
func (s *Storage) ListBookingSchedules(ctx context.Context, filter persistence.BookingFilter) ([]persistence.BookingSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	withEvents := make(map[string]struct{})
	for _, event := range s.events {
		if event.Date.Before(filter.From) || !event.Date.Before(filter.To) {
			continue
		}
		if lesson, ok := s.lessons[event.LessonID]; ok {
			withEvents[lesson.BookingID] = struct{}{}
		}
	}

	bookings := make([]persistence.Booking, 0)
	for _, booking := range s.bookings {
		if filter.SchoolID != "" && booking.SchoolID != filter.SchoolID {
			continue
		}
		_, hasEvent := withEvents[booking.ID]
		overlaps := booking.DateStart.Before(filter.To) && !booking.DateEnd.Before(filter.From)
		if !hasEvent && !overlaps {
			continue
		}
		bookings = append(bookings, booking)
	}
	sort.Slice(bookings, func(i, j int) bool {
		if bookings[i].DateStart.Equal(bookings[j].DateStart) {
			return bookings[i].ID < bookings[j].ID
		}
		return bookings[i].DateStart.Before(bookings[j].DateStart)
	})

	schedules := make([]persistence.BookingSchedule, 0, len(bookings))
	for _, booking := range bookings {
		schedules = append(schedules, s.scheduleLocked(booking))
	}
	return schedules, nil
}

func (s *Storage) scheduleLocked(booking persistence.Booking) persistence.BookingSchedule {
	schedule := persistence.BookingSchedule{Booking: cloneBooking(booking)}
	if pkg, ok := s.packages[booking.PackageID]; ok {
		schedule.Package = &pkg
	}
	for _, studentID := range booking.StudentIDs {
		if student, ok := s.students[studentID]; ok {
			schedule.Students = append(schedule.Students, student)
		}
	}

	lessons := make([]persistence.Lesson, 0)
	for _, lesson := range s.lessons {
		if lesson.BookingID == booking.ID {
			lessons = append(lessons, lesson)
		}
	}
	sort.Slice(lessons, func(i, j int) bool {
		if lessons[i].CreatedAt.Equal(lessons[j].CreatedAt) {
			return lessons[i].ID < lessons[j].ID
		}
		return lessons[i].CreatedAt.Before(lessons[j].CreatedAt)
	})

	for _, lesson := range lessons {
		ls := persistence.LessonSchedule{Lesson: cloneLesson(lesson)}
		if lesson.TeacherID != nil {
			if teacher, ok := s.teachers[*lesson.TeacherID]; ok {
				ls.Teacher = &teacher
			}
		}
		if lesson.CommissionID != nil {
			if commission, ok := s.commissions[*lesson.CommissionID]; ok {
				ls.Commission = &commission
			}
		}
		for _, event := range s.events {
			if event.LessonID == lesson.ID {
				ls.Events = append(ls.Events, event)
			}
		}
		sortEvents(ls.Events)
		schedule.Lessons = append(schedule.Lessons, ls)
	}
	return schedule
}

// --- EventRepository implementation ---

// CreateEvent stores a new event for an existing lesson.
func (s *Storage) CreateEvent(ctx context.Context, event persistence.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[event.ID]; ok {
		return fmt.Errorf("memory: event %s: %w", event.ID, persistence.ErrDuplicate)
	}
	if _, ok := s.lessons[event.LessonID]; !ok {
		return fmt.Errorf("memory: lesson %s does not exist: %w", event.LessonID, persistence.ErrConstraintViolation)
	}
	if event.Duration <= 0 {
		return fmt.Errorf("memory: event %s duration %d: %w", event.ID, event.Duration, persistence.ErrConstraintViolation)
	}
	s.events[event.ID] = event
	return nil
}

// GetEvent retrieves an event by ID.
func (s *Storage) GetEvent(ctx context.Context, id string) (persistence.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[id]
	if !ok {
		return persistence.Event{}, persistence.ErrNotFound
	}
	return event, nil
}

// ApplyEventChanges validates the whole batch before touching any record.
func (s *Storage) ApplyEventChanges(ctx context.Context, updates []persistence.EventUpdate, deletions []string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make(map[string]persistence.Event, len(updates))
	for _, update := range updates {
		event, ok := staged[update.ID]
		if !ok {
			event, ok = s.events[update.ID]
		}
		if !ok {
			return fmt.Errorf("memory: event %s: %w", update.ID, persistence.ErrNotFound)
		}
		if update.Date != nil {
			event.Date = *update.Date
		}
		if update.Duration != nil {
			if *update.Duration <= 0 {
				return fmt.Errorf("memory: event %s duration %d: %w", update.ID, *update.Duration, persistence.ErrConstraintViolation)
			}
			event.Duration = *update.Duration
		}
		if update.Location != nil {
			event.Location = *update.Location
		}
		if update.Status != nil {
			event.Status = *update.Status
		}
		event.UpdatedAt = updatedAt
		staged[update.ID] = event
	}
	for _, id := range deletions {
		if _, ok := s.events[id]; !ok {
			return fmt.Errorf("memory: event %s: %w", id, persistence.ErrNotFound)
		}
	}

	for id, event := range staged {
		s.events[id] = event
	}
	for _, id := range deletions {
		delete(s.events, id)
	}
	return nil
}

// UpdateEventStatus sets the status of every listed event.
func (s *Storage) UpdateEventStatus(ctx context.Context, ids []string, status string, updatedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.events[id]; !ok {
			return fmt.Errorf("memory: event %s: %w", id, persistence.ErrNotFound)
		}
	}
	for _, id := range ids {
		event := s.events[id]
		event.Status = status
		event.UpdatedAt = updatedAt
		s.events[id] = event
	}
	return nil
}

// DeleteEvents removes every listed event.
func (s *Storage) DeleteEvents(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		if _, ok := s.events[id]; !ok {
			return fmt.Errorf("memory: event %s: %w", id, persistence.ErrNotFound)
		}
	}
	for _, id := range ids {
		delete(s.events, id)
	}
	return nil
}

func sortEvents(events []persistence.Event) {
	sort.Slice(events, func(i, j int) bool {
		if events[i].Date.Equal(events[j].Date) {
			return events[i].ID < events[j].ID
		}
		return events[i].Date.Before(events[j].Date)
	})
}

func cloneBooking(b persistence.Booking) persistence.Booking {
	b.StudentIDs = slices.Clone(b.StudentIDs)
	return b
}

func cloneLesson(l persistence.Lesson) persistence.Lesson {
	if l.TeacherID != nil {
		id := *l.TeacherID
		l.TeacherID = &id
	}
	if l.CommissionID != nil {
		id := *l.CommissionID
		l.CommissionID = &id
	}
	return l
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
