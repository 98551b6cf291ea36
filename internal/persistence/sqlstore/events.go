package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/example/classboard/internal/persistence"
)

// CreateEvent inserts an event.
func (s *Store) CreateEvent(ctx context.Context, event persistence.Event) error {
	if event.Duration <= 0 {
		return fmt.Errorf("sqlstore: event %s duration %d: %w", event.ID, event.Duration, persistence.ErrConstraintViolation)
	}
	query := s.db.Rebind(`INSERT INTO events (id, lesson_id, starts_at, duration_minutes, location, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		event.ID, event.LessonID, toMillis(event.Date), event.Duration, event.Location, event.Status,
		toMillis(event.CreatedAt), toMillis(event.UpdatedAt))
	return mapError(err)
}

// GetEvent loads an event by id.
func (s *Store) GetEvent(ctx context.Context, id string) (persistence.Event, error) {
	var row eventRow
	query := s.db.Rebind(`SELECT id, lesson_id, starts_at, duration_minutes, location, status, created_at, updated_at FROM events WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id); err != nil {
		return persistence.Event{}, mapError(err)
	}
	return row.model(), nil
}

// ApplyEventChanges writes the batch in one transaction after checking every
// referenced event exists.
func (s *Store) ApplyEventChanges(ctx context.Context, updates []persistence.EventUpdate, deletions []string, updatedAt time.Time) error {
	ids := make([]string, 0, len(updates)+len(deletions))
	for _, update := range updates {
		if update.Duration != nil && *update.Duration <= 0 {
			return fmt.Errorf("sqlstore: event %s duration %d: %w", update.ID, *update.Duration, persistence.ErrConstraintViolation)
		}
		ids = append(ids, update.ID)
	}
	ids = append(ids, deletions...)
	if len(ids) == 0 {
		return nil
	}

	return s.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		if err := requireEvents(ctx, tx, ids); err != nil {
			return err
		}
		for _, update := range updates {
			sets := []string{"updated_at = ?"}
			args := []any{toMillis(updatedAt)}
			if update.Date != nil {
				sets = append(sets, "starts_at = ?")
				args = append(args, toMillis(*update.Date))
			}
			if update.Duration != nil {
				sets = append(sets, "duration_minutes = ?")
				args = append(args, *update.Duration)
			}
			if update.Location != nil {
				sets = append(sets, "location = ?")
				args = append(args, *update.Location)
			}
			if update.Status != nil {
				sets = append(sets, "status = ?")
				args = append(args, *update.Status)
			}
			args = append(args, update.ID)
			query := tx.Rebind(`UPDATE events SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return mapError(err)
			}
		}
		if len(deletions) > 0 {
			if err := execIn(ctx, tx, `DELETE FROM events WHERE id IN (?)`, deletions); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateEventStatus sets the status of every listed event.
func (s *Store) UpdateEventStatus(ctx context.Context, ids []string, status string, updatedAt time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	return s.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		if err := requireEvents(ctx, tx, ids); err != nil {
			return err
		}
		query, args, err := sqlx.In(`UPDATE events SET status = ?, updated_at = ? WHERE id IN (?)`, status, toMillis(updatedAt), ids)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(query), args...)
		return mapError(err)
	})
}

// DeleteEvents removes every listed event.
func (s *Store) DeleteEvents(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return s.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		if err := requireEvents(ctx, tx, ids); err != nil {
			return err
		}
		return execIn(ctx, tx, `DELETE FROM events WHERE id IN (?)`, ids)
	})
}

// requireEvents fails with ErrNotFound naming the first id with no row.
func requireEvents(ctx context.Context, tx *sqlx.Tx, ids []string) error {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			unique = append(unique, id)
		}
	}

	query, args, err := sqlx.In(`SELECT id FROM events WHERE id IN (?)`, unique)
	if err != nil {
		return err
	}
	var found []string
	if err := tx.SelectContext(ctx, &found, tx.Rebind(query), args...); err != nil {
		return mapError(err)
	}
	present := make(map[string]struct{}, len(found))
	for _, id := range found {
		present[id] = struct{}{}
	}
	for _, id := range unique {
		if _, ok := present[id]; !ok {
			return fmt.Errorf("sqlstore: event %s: %w", id, persistence.ErrNotFound)
		}
	}
	return nil
}

func execIn(ctx context.Context, tx *sqlx.Tx, query string, ids []string) error {
	expanded, args, err := sqlx.In(query, ids)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, tx.Rebind(expanded), args...)
	return mapError(err)
}
