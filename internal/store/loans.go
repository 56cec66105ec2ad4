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

// InsertLoan inserts a loan row and fills in the generated id
func (q queries) InsertLoan(ctx context.Context, loan *models.Loan) error {
	query := q.ext.Rebind(`
		INSERT INTO loans (user_id, book_id, issued_at, due_at, status, renew_count)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`)

	return sqlx.GetContext(ctx, q.ext, &loan.ID, query,
		loan.UserID, loan.BookID, loan.IssuedAt, loan.DueAt, loan.Status, loan.RenewCount)
}

// GetLoan retrieves a loan by id
func (q queries) GetLoan(ctx context.Context, id int64) (*models.Loan, error) {
	var loan models.Loan
	err := sqlx.GetContext(ctx, q.ext, &loan,
		q.ext.Rebind("SELECT * FROM loans WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loan %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

// FindOutstandingLoan returns the user's ISSUED or OVERDUE loan for the
// book, or nil when there is none. At most one can exist.
func (q queries) FindOutstandingLoan(ctx context.Context, userID, bookID int64) (*models.Loan, error) {
	var loan models.Loan
	err := sqlx.GetContext(ctx, q.ext, &loan, q.ext.Rebind(`
		SELECT * FROM loans
		WHERE user_id = ? AND book_id = ? AND status IN ('ISSUED', 'OVERDUE')
		LIMIT 1`), userID, bookID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &loan, nil
}

// CountOutstandingLoans counts ISSUED/OVERDUE loans for a book
func (q queries) CountOutstandingLoans(ctx context.Context, bookID int64) (int, error) {
	var n int
	err := sqlx.GetContext(ctx, q.ext, &n, q.ext.Rebind(`
		SELECT COUNT(*) FROM loans
		WHERE book_id = ? AND status IN ('ISSUED', 'OVERDUE')`), bookID)
	return n, err
}

// MarkLoanReturned finalizes a loan: status RETURNED, returned_at set
func (q queries) MarkLoanReturned(ctx context.Context, loanID int64, returnedAt time.Time) error {
	_, err := q.ext.ExecContext(ctx,
		q.ext.Rebind("UPDATE loans SET status = 'RETURNED', returned_at = ? WHERE id = ?"),
		returnedAt, loanID)
	return err
}

// RenewLoan extends the due date and bumps the renewal counter
func (q queries) RenewLoan(ctx context.Context, loanID int64, newDueAt time.Time) error {
	_, err := q.ext.ExecContext(ctx,
		q.ext.Rebind("UPDATE loans SET due_at = ?, renew_count = renew_count + 1 WHERE id = ?"),
		newDueAt, loanID)
	return err
}

// UpdateLoanStatus sets a loan's status (the sweep's OVERDUE transition)
func (q queries) UpdateLoanStatus(ctx context.Context, loanID int64, status string) error {
	_, err := q.ext.ExecContext(ctx,
		q.ext.Rebind("UPDATE loans SET status = ? WHERE id = ?"), status, loanID)
	return err
}

// ListLoansByUser retrieves a user's loans with book titles, newest
// first. Empty userID (0) lists all users; empty status lists all statuses.
func (q queries) ListLoansByUser(ctx context.Context, userID int64, status string) ([]models.LoanWithBook, error) {
	query := `
		SELECT l.*, b.title AS book_title, u.full_name AS user_name
		FROM loans l
		JOIN books b ON l.book_id = b.id
		JOIN users u ON l.user_id = u.id`
	conditions := []string{}
	args := []interface{}{}

	if userID != 0 {
		conditions = append(conditions, "l.user_id = ?")
		args = append(args, userID)
	}
	if status != "" {
		conditions = append(conditions, "l.status = ?")
		args = append(args, status)
	}
	for i, c := range conditions {
		if i == 0 {
			query += " WHERE " + c
		} else {
			query += " AND " + c
		}
	}
	query += " ORDER BY l.issued_at DESC, l.id DESC"

	var loans []models.LoanWithBook
	err := sqlx.SelectContext(ctx, q.ext, &loans, q.ext.Rebind(query), args...)
	return loans, err
}

// LoansForSweep retrieves every loan in the given status joined with the
// member's contact fields and the book title, for the notification sweep.
func (q queries) LoansForSweep(ctx context.Context, status string) ([]models.SweepLoan, error) {
	var loans []models.SweepLoan
	err := sqlx.SelectContext(ctx, q.ext, &loans, q.ext.Rebind(`
		SELECT l.id, l.user_id, l.book_id, l.due_at, l.status,
		       u.email, u.full_name,
		       b.title AS book_title
		FROM loans l
		JOIN users u ON l.user_id = u.id
		JOIN books b ON l.book_id = b.id
		WHERE l.status = ?
		ORDER BY l.id`), status)
	return loans, err
}
