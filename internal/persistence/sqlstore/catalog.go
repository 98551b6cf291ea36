package sqlstore

import (
	"context"
	"fmt"

	"github.com/example/classboard/internal/persistence"
)

var _ persistence.Store = (*Store)(nil)

// CreateSchool inserts a school.
func (s *Store) CreateSchool(ctx context.Context, school persistence.School) error {
	query := s.db.Rebind(`INSERT INTO schools (id, name, timezone, created_at) VALUES (?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, school.ID, school.Name, school.Timezone, toMillis(school.CreatedAt))
	return mapError(err)
}

// GetSchool loads a school by id.
func (s *Store) GetSchool(ctx context.Context, id string) (persistence.School, error) {
	var row schoolRow
	query := s.db.Rebind(`SELECT id, name, timezone, created_at FROM schools WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return persistence.School{}, mapError(err)
	}
	return row.model(), nil
}

// CreateTeacher inserts a teacher.
func (s *Store) CreateTeacher(ctx context.Context, teacher persistence.Teacher) error {
	query := s.db.Rebind(`INSERT INTO teachers (id, school_id, username, name, sort_order, active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		teacher.ID, teacher.SchoolID, teacher.Username, teacher.Name, teacher.SortOrder,
		boolToInt(teacher.Active), toMillis(teacher.CreatedAt), toMillis(teacher.UpdatedAt))
	return mapError(err)
}

// GetTeacher loads a teacher by id.
func (s *Store) GetTeacher(ctx context.Context, id string) (persistence.Teacher, error) {
	var row teacherRow
	query := s.db.Rebind(`SELECT id, school_id, username, name, sort_order, active, created_at, updated_at FROM teachers WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return persistence.Teacher{}, mapError(err)
	}
	return row.model(), nil
}

// ListTeachers returns a school's teachers ordered by sort order then name.
func (s *Store) ListTeachers(ctx context.Context, schoolID string) ([]persistence.Teacher, error) {
	var rows []teacherRow
	query := s.db.Rebind(`SELECT id, school_id, username, name, sort_order, active, created_at, updated_at
		FROM teachers WHERE school_id = ? ORDER BY sort_order, name, id`)
	if err := s.db.SelectContext(ctx, &rows, query, schoolID); err != nil {
		return nil, mapError(err)
	}
	teachers := make([]persistence.Teacher, 0, len(rows))
	for _, row := range rows {
		teachers = append(teachers, row.model())
	}
	return teachers, nil
}

// CreateStudent inserts a student.
func (s *Store) CreateStudent(ctx context.Context, student persistence.Student) error {
	query := s.db.Rebind(`INSERT INTO students (id, school_id, name, created_at) VALUES (?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query, student.ID, student.SchoolID, student.Name, toMillis(student.CreatedAt))
	return mapError(err)
}

// CreatePackage inserts a package.
func (s *Store) CreatePackage(ctx context.Context, pkg persistence.Package) error {
	if pkg.DurationMinutes <= 0 {
		return persistence.ErrConstraintViolation
	}
	query := s.db.Rebind(`INSERT INTO packages (id, school_id, description, price_per_student, duration_minutes,
		category_equipment, capacity_equipment, capacity_students, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		pkg.ID, pkg.SchoolID, pkg.Description, pkg.PricePerStudent, pkg.DurationMinutes,
		pkg.CategoryEquipment, pkg.CapacityEquipment, pkg.CapacityStudents, toMillis(pkg.CreatedAt))
	return mapError(err)
}

// GetPackage loads a package by id.
func (s *Store) GetPackage(ctx context.Context, id string) (persistence.Package, error) {
	var row packageRow
	query := s.db.Rebind(`SELECT id, school_id, description, price_per_student, duration_minutes,
		category_equipment, capacity_equipment, capacity_students, created_at FROM packages WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return persistence.Package{}, mapError(err)
	}
	return row.model(), nil
}

// CreateCommission inserts a commission.
func (s *Store) CreateCommission(ctx context.Context, commission persistence.Commission) error {
	if commission.Type != "fixed" && commission.Type != "percentage" {
		return fmt.Errorf("sqlstore: unknown commission type %q: %w", commission.Type, persistence.ErrConstraintViolation)
	}
	query := s.db.Rebind(`INSERT INTO commissions (id, teacher_id, commission_type, cph, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		commission.ID, commission.TeacherID, commission.Type, commission.CPH, commission.Description, toMillis(commission.CreatedAt))
	return mapError(err)
}
