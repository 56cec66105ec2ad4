package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"circulation-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// InsertBook inserts a catalog row and fills in the generated id.
// Catalog management lives outside the engine; this exists for seeding
// and for the inventory import path.
func (q queries) InsertBook(ctx context.Context, book *models.Book) error {
	query := q.ext.Rebind(`
		INSERT INTO books (isbn, title, author, total_copies, available_copies, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		RETURNING id`)

	return sqlx.GetContext(ctx, q.ext, &book.ID, query,
		book.ISBN, book.Title, book.Author, book.TotalCopies, book.AvailableCopies,
		book.CreatedAt, book.UpdatedAt)
}

// GetBook retrieves a book by id
func (q queries) GetBook(ctx context.Context, id int64) (*models.Book, error) {
	var book models.Book
	err := sqlx.GetContext(ctx, q.ext, &book,
		q.ext.Rebind("SELECT * FROM books WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &book, nil
}

// ListBooks retrieves all books
func (q queries) ListBooks(ctx context.Context) ([]models.Book, error) {
	var books []models.Book
	err := sqlx.SelectContext(ctx, q.ext, &books, "SELECT * FROM books ORDER BY id")
	return books, err
}

// AdjustBookAvailability moves available_copies by delta (+1 on return,
// -1 on issue). Counter invariants are the loan service's responsibility;
// the store only applies the change.
func (q queries) AdjustBookAvailability(ctx context.Context, bookID int64, delta int, now time.Time) error {
	res, err := q.ext.ExecContext(ctx,
		q.ext.Rebind("UPDATE books SET available_copies = available_copies + ?, updated_at = ? WHERE id = ?"),
		delta, now, bookID)
	if err != nil {
		return fmt.Errorf("failed to adjust availability for book %d: %w", bookID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("book %d: %w", bookID, ErrNotFound)
	}
	return nil
}

// InsertUser inserts an account row. Accounts belong to the membership
// system; the engine stores a copy for notification addressing.
func (q queries) InsertUser(ctx context.Context, user *models.User) error {
	query := q.ext.Rebind(`
		INSERT INTO users (email, full_name, role, created_at)
		VALUES (?, ?, ?, ?)
		RETURNING id`)

	return sqlx.GetContext(ctx, q.ext, &user.ID, query,
		user.Email, user.FullName, user.Role, user.CreatedAt)
}

// GetUser retrieves a user by id
func (q queries) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := sqlx.GetContext(ctx, q.ext, &user,
		q.ext.Rebind("SELECT * FROM users WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}
