package models

import (
	"database/sql"
	"time"
)

// User represents a library member or staff account. Accounts are managed
// by an external membership system; the circulation engine only reads them.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Email     string    `db:"email" json:"email"`
	FullName  string    `db:"full_name" json:"full_name"`
	Role      string    `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Book represents a title in the catalog with its copy counters
type Book struct {
	ID              int64     `db:"id" json:"id"`
	ISBN            string    `db:"isbn" json:"isbn,omitempty"`
	Title           string    `db:"title" json:"title"`
	Author          string    `db:"author" json:"author"`
	TotalCopies     int       `db:"total_copies" json:"total_copies"`
	AvailableCopies int       `db:"available_copies" json:"available_copies"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Loan represents one borrow event
type Loan struct {
	ID         int64        `db:"id" json:"id"`
	UserID     int64        `db:"user_id" json:"user_id"`
	BookID     int64        `db:"book_id" json:"book_id"`
	IssuedAt   time.Time    `db:"issued_at" json:"issued_at"`
	DueAt      time.Time    `db:"due_at" json:"due_at"`
	ReturnedAt sql.NullTime `db:"returned_at" json:"returned_at,omitempty"`
	Status     string       `db:"status" json:"status"`
	RenewCount int          `db:"renew_count" json:"renew_count"`
}

// Reservation represents a member's place in a book's hold queue
type Reservation struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	BookID    int64     `db:"book_id" json:"book_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	Status    string    `db:"status" json:"status"`
}

// Notification is the audit record of one notice the sweep attempted
type Notification struct {
	ID           int64        `db:"id" json:"id"`
	UserID       int64        `db:"user_id" json:"user_id"`
	Type         string       `db:"type" json:"type"`
	Channel      string       `db:"channel" json:"channel"`
	Payload      string       `db:"payload" json:"payload"`
	ScheduledFor time.Time    `db:"scheduled_for" json:"scheduled_for"`
	SentAt       sql.NullTime `db:"sent_at" json:"sent_at,omitempty"`
	Status       string       `db:"status" json:"status"`
}

// LoanWithBook is a loan row joined with display fields for list endpoints
type LoanWithBook struct {
	Loan
	BookTitle string `db:"book_title" json:"book_title"`
	UserName  string `db:"user_name" json:"user_name"`
}

// SweepLoan is a loan row joined with the contact fields the
// notification sweep needs to address a notice
type SweepLoan struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	BookID    int64     `db:"book_id"`
	DueAt     time.Time `db:"due_at"`
	Status    string    `db:"status"`
	Email     string    `db:"email"`
	FullName  string    `db:"full_name"`
	BookTitle string    `db:"book_title"`
}

// Loan statuses
const (
	LoanStatusIssued   = "ISSUED"
	LoanStatusOverdue  = "OVERDUE"
	LoanStatusReturned = "RETURNED"
)

// Reservation statuses
const (
	ReservationStatusActive    = "ACTIVE"
	ReservationStatusFulfilled = "FULFILLED"
	ReservationStatusCancelled = "CANCELLED"
)

// Notification statuses
const (
	NotificationStatusPending = "PENDING"
	NotificationStatusSent    = "SENT"
	NotificationStatusFailed  = "FAILED"
)

// Notification types
const (
	NotificationTypeDueSoon = "due_soon"
	NotificationTypeOverdue = "overdue"
)

// User roles (resolved upstream; the engine only re-checks ownership
// on reservation cancel)
const (
	RoleAdmin     = "ADMIN"
	RoleLibrarian = "LIBRARIAN"
	RoleMember    = "MEMBER"
)
