package sqlstore

import (
	"database/sql"
	"time"

	"github.com/example/classboard/internal/persistence"
)

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

type schoolRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	Timezone  string `db:"timezone"`
	CreatedAt int64  `db:"created_at"`
}

func (r schoolRow) model() persistence.School {
	return persistence.School{ID: r.ID, Name: r.Name, Timezone: r.Timezone, CreatedAt: fromMillis(r.CreatedAt)}
}

type teacherRow struct {
	ID        string `db:"id"`
	SchoolID  string `db:"school_id"`
	Username  string `db:"username"`
	Name      string `db:"name"`
	SortOrder int    `db:"sort_order"`
	Active    int    `db:"active"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r teacherRow) model() persistence.Teacher {
	return persistence.Teacher{
		ID:        r.ID,
		SchoolID:  r.SchoolID,
		Username:  r.Username,
		Name:      r.Name,
		SortOrder: r.SortOrder,
		Active:    r.Active != 0,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
}

type studentRow struct {
	ID        string `db:"id"`
	SchoolID  string `db:"school_id"`
	Name      string `db:"name"`
	CreatedAt int64  `db:"created_at"`
	BookingID string `db:"booking_id"`
}

func (r studentRow) model() persistence.Student {
	return persistence.Student{ID: r.ID, SchoolID: r.SchoolID, Name: r.Name, CreatedAt: fromMillis(r.CreatedAt)}
}

type packageRow struct {
	ID                string  `db:"id"`
	SchoolID          string  `db:"school_id"`
	Description       string  `db:"description"`
	PricePerStudent   float64 `db:"price_per_student"`
	DurationMinutes   int     `db:"duration_minutes"`
	CategoryEquipment string  `db:"category_equipment"`
	CapacityEquipment int     `db:"capacity_equipment"`
	CapacityStudents  int     `db:"capacity_students"`
	CreatedAt         int64   `db:"created_at"`
}

func (r packageRow) model() persistence.Package {
	return persistence.Package{
		ID:                r.ID,
		SchoolID:          r.SchoolID,
		Description:       r.Description,
		PricePerStudent:   r.PricePerStudent,
		DurationMinutes:   r.DurationMinutes,
		CategoryEquipment: r.CategoryEquipment,
		CapacityEquipment: r.CapacityEquipment,
		CapacityStudents:  r.CapacityStudents,
		CreatedAt:         fromMillis(r.CreatedAt),
	}
}

type commissionRow struct {
	ID          string  `db:"id"`
	TeacherID   string  `db:"teacher_id"`
	Type        string  `db:"commission_type"`
	CPH         float64 `db:"cph"`
	Description string  `db:"description"`
	CreatedAt   int64   `db:"created_at"`
}

func (r commissionRow) model() persistence.Commission {
	return persistence.Commission{
		ID:          r.ID,
		TeacherID:   r.TeacherID,
		Type:        r.Type,
		CPH:         r.CPH,
		Description: r.Description,
		CreatedAt:   fromMillis(r.CreatedAt),
	}
}

type bookingRow struct {
	ID        string `db:"id"`
	SchoolID  string `db:"school_id"`
	PackageID string `db:"package_id"`
	DateStart int64  `db:"date_start"`
	DateEnd   int64  `db:"date_end"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r bookingRow) model() persistence.Booking {
	return persistence.Booking{
		ID:        r.ID,
		SchoolID:  r.SchoolID,
		PackageID: r.PackageID,
		DateStart: fromMillis(r.DateStart),
		DateEnd:   fromMillis(r.DateEnd),
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
}

type lessonRow struct {
	ID           string         `db:"id"`
	BookingID    string         `db:"booking_id"`
	TeacherID    sql.NullString `db:"teacher_id"`
	CommissionID sql.NullString `db:"commission_id"`
	Status       string         `db:"status"`
	CreatedAt    int64          `db:"created_at"`
	UpdatedAt    int64          `db:"updated_at"`
}

func (r lessonRow) model() persistence.Lesson {
	return persistence.Lesson{
		ID:           r.ID,
		BookingID:    r.BookingID,
		TeacherID:    stringPtr(r.TeacherID),
		CommissionID: stringPtr(r.CommissionID),
		Status:       r.Status,
		CreatedAt:    fromMillis(r.CreatedAt),
		UpdatedAt:    fromMillis(r.UpdatedAt),
	}
}

type eventRow struct {
	ID        string `db:"id"`
	LessonID  string `db:"lesson_id"`
	StartsAt  int64  `db:"starts_at"`
	Duration  int    `db:"duration_minutes"`
	Location  string `db:"location"`
	Status    string `db:"status"`
	CreatedAt int64  `db:"created_at"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r eventRow) model() persistence.Event {
	return persistence.Event{
		ID:        r.ID,
		LessonID:  r.LessonID,
		Date:      fromMillis(r.StartsAt),
		Duration:  r.Duration,
		Location:  r.Location,
		Status:    r.Status,
		CreatedAt: fromMillis(r.CreatedAt),
		UpdatedAt: fromMillis(r.UpdatedAt),
	}
}
