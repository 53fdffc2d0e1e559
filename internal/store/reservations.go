package store

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"restaurant-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// ListLiveReservations returns the reservations for (table, date) that
// count toward conflict detection: live statuses only, soft-deleted rows
// excluded.
func (s *Store) ListLiveReservations(ctx context.Context, tableNumber int, date time.Time) ([]models.Reservation, error) {
	query, args, err := sqlx.In(`
		SELECT * FROM reservations
		WHERE table_number = ? AND date = ? AND deleted_at IS NULL AND status IN (?)
		ORDER BY start_time`,
		tableNumber, date, models.LiveReservationStatuses)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var reservations []models.Reservation
	err = s.db.SelectContext(ctx, &reservations, query, args...)
	return reservations, err
}

// CreateReservation re-runs the overlap check and inserts in one
// transaction. The table row is locked FOR UPDATE first, so two booking
// attempts for the same table serialize and the check-then-act race is
// closed; bookings for other tables are unaffected.
func (s *Store) CreateReservation(ctx context.Context, r *models.Reservation) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var tableNumber int
	err = tx.GetContext(ctx, &tableNumber,
		"SELECT number FROM tables WHERE number = $1 FOR UPDATE", r.TableNumber)
	if err == sql.ErrNoRows {
		return &models.NotFoundError{Resource: "table", Ref: strconv.Itoa(r.TableNumber)}
	}
	if err != nil {
		return fmt.Errorf("failed to lock table %d: %w", r.TableNumber, err)
	}

	query, args, err := sqlx.In(`
		SELECT * FROM reservations
		WHERE table_number = ? AND date = ? AND deleted_at IS NULL AND status IN (?)
		  AND start_time < ? AND end_time > ?
		ORDER BY start_time
		LIMIT 1`,
		r.TableNumber, r.Date, models.LiveReservationStatuses, r.EndTime, r.StartTime)
	if err != nil {
		return err
	}
	query = tx.Rebind(query)

	var existing models.Reservation
	err = tx.GetContext(ctx, &existing, query, args...)
	if err == nil {
		return &models.ConflictError{
			Message: fmt.Sprintf("table %d is already reserved from %s to %s",
				r.TableNumber,
				existing.StartTime.Format("15:04"),
				existing.EndTime.Format("15:04")),
			ConflictStart: existing.StartTime,
			ConflictEnd:   existing.EndTime,
		}
	}
	if err != sql.ErrNoRows {
		return fmt.Errorf("failed to re-check conflicts: %w", err)
	}

	insert := `
		INSERT INTO reservations
			(table_number, requester_id, requester_name, date, start_time, end_time, party_size, status, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	row := tx.QueryRowxContext(ctx, insert,
		r.TableNumber, r.RequesterID, r.RequesterName, r.Date,
		r.StartTime, r.EndTime, r.PartySize, r.Status, r.Note)
	if err := row.Scan(&r.ID, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}

	return tx.Commit()
}

// GetReservation retrieves a reservation by ID, soft-deleted rows included
// so administrative callers can still inspect them.
func (s *Store) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	var r models.Reservation
	err := s.db.GetContext(ctx, &r, "SELECT * FROM reservations WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, &models.NotFoundError{Resource: "reservation", Ref: strconv.FormatInt(id, 10)}
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateReservationStatus updates reservation status
func (s *Store) UpdateReservationStatus(ctx context.Context, id int64, status string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE reservations SET status = $1, updated_at = NOW() WHERE id = $2",
		status, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &models.NotFoundError{Resource: "reservation", Ref: strconv.FormatInt(id, 10)}
	}
	return nil
}

// SetReservationDeleted stamps or clears the soft-deletion marker.
func (s *Store) SetReservationDeleted(ctx context.Context, id int64, deletedAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE reservations SET deleted_at = $1, updated_at = NOW() WHERE id = $2",
		deletedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &models.NotFoundError{Resource: "reservation", Ref: strconv.FormatInt(id, 10)}
	}
	return nil
}

// ListReservations retrieves reservations for a table across a date range.
// ActiveOnly excludes soft-deleted rows; IncludingDeleted is the explicit
// opt-in for audit/administrative callers.
func (s *Store) ListReservations(ctx context.Context, tableNumber int, from, to time.Time, mode models.QueryMode) ([]models.Reservation, error) {
	query := `
		SELECT * FROM reservations
		WHERE table_number = $1 AND date >= $2 AND date <= $3`
	if mode == models.ActiveOnly {
		query += " AND deleted_at IS NULL"
	}
	query += " ORDER BY date, start_time"

	var reservations []models.Reservation
	err := s.db.SelectContext(ctx, &reservations, query, tableNumber, from, to)
	return reservations, err
}
