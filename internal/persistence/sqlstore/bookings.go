package sqlstore

import (
	"context"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/example/classboard/internal/persistence"
)

const bookingColumns = `id, school_id, package_id, date_start, date_end, created_at, updated_at`

// CreateBooking inserts a booking and its roster.
func (s *Store) CreateBooking(ctx context.Context, booking persistence.Booking) error {
	return s.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		query := tx.Rebind(`INSERT INTO bookings (` + bookingColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, query,
			booking.ID, booking.SchoolID, booking.PackageID,
			toMillis(booking.DateStart), toMillis(booking.DateEnd),
			toMillis(booking.CreatedAt), toMillis(booking.UpdatedAt)); err != nil {
			return mapError(err)
		}

		insert := tx.Rebind(`INSERT INTO booking_students (booking_id, student_id, position) VALUES (?, ?, ?)`)
		seen := make(map[string]struct{}, len(booking.StudentIDs))
		for i, studentID := range booking.StudentIDs {
			if _, ok := seen[studentID]; ok {
				continue
			}
			seen[studentID] = struct{}{}
			if _, err := tx.ExecContext(ctx, insert, booking.ID, studentID, i); err != nil {
				return mapError(err)
			}
		}
		return nil
	})
}

// CreateLesson inserts a lesson.
func (s *Store) CreateLesson(ctx context.Context, lesson persistence.Lesson) error {
	query := s.db.Rebind(`INSERT INTO lessons (id, booking_id, teacher_id, commission_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		lesson.ID, lesson.BookingID, nullString(lesson.TeacherID), nullString(lesson.CommissionID),
		lesson.Status, toMillis(lesson.CreatedAt), toMillis(lesson.UpdatedAt))
	return mapError(err)
}

// GetLesson loads a lesson by id.
func (s *Store) GetLesson(ctx context.Context, id string) (persistence.Lesson, error) {
	var row lessonRow
	query := s.db.Rebind(`SELECT id, booking_id, teacher_id, commission_id, status, created_at, updated_at FROM lessons WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return persistence.Lesson{}, mapError(err)
	}
	return row.model(), nil
}

// GetBookingSchedule loads one booking with everything hanging off it.
func (s *Store) GetBookingSchedule(ctx context.Context, id string) (persistence.BookingSchedule, error) {
	var rows []bookingRow
	query := s.db.Rebind(`SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`)
	if err := s.db.SelectContext(ctx, &rows, query, id); err != nil {
		return persistence.BookingSchedule{}, mapError(err)
	}
	if len(rows) == 0 {
		return persistence.BookingSchedule{}, persistence.ErrNotFound
	}
	schedules, err := s.assemble(ctx, rows)
	if err != nil {
		return persistence.BookingSchedule{}, err
	}
	return schedules[0], nil
}

// ListBookingSchedules returns the schedules matching the filter ordered by
// start date then id.
func (s *Store) ListBookingSchedules(ctx context.Context, filter persistence.BookingFilter) ([]persistence.BookingSchedule, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.SchoolID != "" {
		conditions = append(conditions, "school_id = ?")
		args = append(args, filter.SchoolID)
	}
	from, to := toMillis(filter.From), toMillis(filter.To)
	conditions = append(conditions, `((date_start < ? AND date_end >= ?) OR id IN (
		SELECT l.booking_id FROM lessons l JOIN events e ON e.lesson_id = l.id
		WHERE e.starts_at >= ? AND e.starts_at < ?))`)
	args = append(args, to, from, from, to)

	query := s.db.Rebind(`SELECT ` + bookingColumns + ` FROM bookings WHERE ` +
		strings.Join(conditions, " AND ") + ` ORDER BY date_start, id`)
	var rows []bookingRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, mapError(err)
	}
	if len(rows) == 0 {
		return []persistence.BookingSchedule{}, nil
	}
	return s.assemble(ctx, rows)
}

// assemble batch-loads the children of the given bookings with IN queries.
func (s *Store) assemble(ctx context.Context, bookingRows []bookingRow) ([]persistence.BookingSchedule, error) {
	bookingIDs := make([]string, 0, len(bookingRows))
	packageIDs := make([]string, 0, len(bookingRows))
	for _, row := range bookingRows {
		bookingIDs = append(bookingIDs, row.ID)
		packageIDs = append(packageIDs, row.PackageID)
	}

	var packages []packageRow
	if err := s.selectIn(ctx, &packages, `SELECT id, school_id, description, price_per_student, duration_minutes,
		category_equipment, capacity_equipment, capacity_students, created_at FROM packages WHERE id IN (?)`, packageIDs); err != nil {
		return nil, err
	}
	packagesByID := make(map[string]persistence.Package, len(packages))
	for _, row := range packages {
		packagesByID[row.ID] = row.model()
	}

	var students []studentRow
	if err := s.selectIn(ctx, &students, `SELECT s.id, s.school_id, s.name, s.created_at, bs.booking_id
		FROM booking_students bs JOIN students s ON s.id = bs.student_id
		WHERE bs.booking_id IN (?) ORDER BY bs.booking_id, bs.position`, bookingIDs); err != nil {
		return nil, err
	}
	studentsByBooking := make(map[string][]persistence.Student)
	for _, row := range students {
		studentsByBooking[row.BookingID] = append(studentsByBooking[row.BookingID], row.model())
	}

	var lessons []lessonRow
	if err := s.selectIn(ctx, &lessons, `SELECT id, booking_id, teacher_id, commission_id, status, created_at, updated_at
		FROM lessons WHERE booking_id IN (?) ORDER BY created_at, id`, bookingIDs); err != nil {
		return nil, err
	}

	lessonsByBooking := make(map[string][]persistence.LessonSchedule)
	var lessonIDs, teacherIDs, commissionIDs []string
	for _, row := range lessons {
		lessonIDs = append(lessonIDs, row.ID)
		if row.TeacherID.Valid {
			teacherIDs = append(teacherIDs, row.TeacherID.String)
		}
		if row.CommissionID.Valid {
			commissionIDs = append(commissionIDs, row.CommissionID.String)
		}
	}

	teachersByID := make(map[string]persistence.Teacher)
	if len(teacherIDs) > 0 {
		var teachers []teacherRow
		if err := s.selectIn(ctx, &teachers, `SELECT id, school_id, username, name, sort_order, active, created_at, updated_at
			FROM teachers WHERE id IN (?)`, teacherIDs); err != nil {
			return nil, err
		}
		for _, row := range teachers {
			teachersByID[row.ID] = row.model()
		}
	}

	commissionsByID := make(map[string]persistence.Commission)
	if len(commissionIDs) > 0 {
		var commissions []commissionRow
		if err := s.selectIn(ctx, &commissions, `SELECT id, teacher_id, commission_type, cph, description, created_at
			FROM commissions WHERE id IN (?)`, commissionIDs); err != nil {
			return nil, err
		}
		for _, row := range commissions {
			commissionsByID[row.ID] = row.model()
		}
	}

	eventsByLesson := make(map[string][]persistence.Event)
	if len(lessonIDs) > 0 {
		var events []eventRow
		if err := s.selectIn(ctx, &events, `SELECT id, lesson_id, starts_at, duration_minutes, location, status, created_at, updated_at
			FROM events WHERE lesson_id IN (?) ORDER BY starts_at, id`, lessonIDs); err != nil {
			return nil, err
		}
		for _, row := range events {
			eventsByLesson[row.LessonID] = append(eventsByLesson[row.LessonID], row.model())
		}
	}

	for _, row := range lessons {
		ls := persistence.LessonSchedule{Lesson: row.model(), Events: eventsByLesson[row.ID]}
		if row.TeacherID.Valid {
			if teacher, ok := teachersByID[row.TeacherID.String]; ok {
				ls.Teacher = &teacher
			}
		}
		if row.CommissionID.Valid {
			if commission, ok := commissionsByID[row.CommissionID.String]; ok {
				ls.Commission = &commission
			}
		}
		lessonsByBooking[row.BookingID] = append(lessonsByBooking[row.BookingID], ls)
	}

	schedules := make([]persistence.BookingSchedule, 0, len(bookingRows))
	for _, row := range bookingRows {
		booking := row.model()
		schedule := persistence.BookingSchedule{
			Booking:  booking,
			Students: studentsByBooking[row.ID],
			Lessons:  lessonsByBooking[row.ID],
		}
		for _, student := range schedule.Students {
			schedule.Booking.StudentIDs = append(schedule.Booking.StudentIDs, student.ID)
		}
		if pkg, ok := packagesByID[row.PackageID]; ok {
			schedule.Package = &pkg
		}
		schedules = append(schedules, schedule)
	}
	return schedules, nil
}

func (s *Store) selectIn(ctx context.Context, dest any, query string, ids []string) error {
	expanded, args, err := sqlx.In(query, ids)
	if err != nil {
		return err
	}
	return mapError(s.db.SelectContext(ctx, dest, s.db.Rebind(expanded), args...))
}
