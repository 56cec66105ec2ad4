package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"circulation-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// InsertReservation inserts a reservation row and fills in the generated id
func (q queries) InsertReservation(ctx context.Context, r *models.Reservation) error {
	query := q.ext.Rebind(`
		INSERT INTO reservations (user_id, book_id, created_at, status)
		VALUES (?, ?, ?, ?)
		RETURNING id`)

	return sqlx.GetContext(ctx, q.ext, &r.ID, query,
		r.UserID, r.BookID, r.CreatedAt, r.Status)
}

// GetReservation retrieves a reservation by id
func (q queries) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	var r models.Reservation
	err := sqlx.GetContext(ctx, q.ext, &r,
		q.ext.Rebind("SELECT * FROM reservations WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reservation %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// FindActiveReservation returns the user's ACTIVE reservation for the
// book, or nil when there is none. At most one can exist.
func (q queries) FindActiveReservation(ctx context.Context, userID, bookID int64) (*models.Reservation, error) {
	var r models.Reservation
	err := sqlx.GetContext(ctx, q.ext, &r, q.ext.Rebind(`
		SELECT * FROM reservations
		WHERE user_id = ? AND book_id = ? AND status = 'ACTIVE'
		LIMIT 1`), userID, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// HasActiveReservation reports whether any ACTIVE reservation exists for
// the book (the renewal blocker check).
func (q queries) HasActiveReservation(ctx context.Context, bookID int64) (bool, error) {
	var exists bool
	err := sqlx.GetContext(ctx, q.ext, &exists, q.ext.Rebind(`
		SELECT EXISTS(SELECT 1 FROM reservations WHERE book_id = ? AND status = 'ACTIVE')`),
		bookID)
	return exists, err
}

// OldestActiveReservation returns the head of the book's hold queue:
// smallest created_at, ties broken by smallest id. Nil when the queue
// is empty.
func (q queries) OldestActiveReservation(ctx context.Context, bookID int64) (*models.Reservation, error) {
	var r models.Reservation
	err := sqlx.GetContext(ctx, q.ext, &r, q.ext.Rebind(`
		SELECT * FROM reservations
		WHERE book_id = ? AND status = 'ACTIVE'
		ORDER BY created_at ASC, id ASC
		LIMIT 1`), bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// UpdateReservationStatus sets a reservation's status
func (q queries) UpdateReservationStatus(ctx context.Context, id int64, status string) error {
	_, err := q.ext.ExecContext(ctx,
		q.ext.Rebind("UPDATE reservations SET status = ? WHERE id = ?"), status, id)
	return err
}

// ListReservationsByUser retrieves a user's reservations, newest first.
// Empty userID (0) lists all users; empty status lists all statuses.
func (q queries) ListReservationsByUser(ctx context.Context, userID int64, status string) ([]models.Reservation, error) {
	query := "SELECT * FROM reservations"
	conditions := []string{}
	args := []interface{}{}

	if userID != 0 {
		conditions = append(conditions, "user_id = ?")
		args = append(args, userID)
	}
	if status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, status)
	}
	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY created_at DESC, id DESC"

	var reservations []models.Reservation
	err := sqlx.SelectContext(ctx, q.ext, &reservations, q.ext.Rebind(query), args...)
	return reservations, err
}
