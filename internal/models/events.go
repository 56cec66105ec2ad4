package models

import "time"

// Event types
const (
	EventTypeLoanIssued           = "LOAN_ISSUED"
	EventTypeLoanReturned         = "LOAN_RETURNED"
	EventTypeLoanRenewed          = "LOAN_RENEWED"
	EventTypeLoanOverdue          = "LOAN_OVERDUE"
	EventTypeReservationCreated   = "RESERVATION_CREATED"
	EventTypeReservationFulfilled = "RESERVATION_FULFILLED"
	EventTypeReservationCancelled = "RESERVATION_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// LoanIssuedEvent published when a book is issued to a member
type LoanIssuedEvent struct {
	BaseEvent
	LoanID int64     `json:"loan_id"`
	UserID int64     `json:"user_id"`
	BookID int64     `json:"book_id"`
	DueAt  time.Time `json:"due_at"`
}

// LoanReturnedEvent published when a loan is returned
type LoanReturnedEvent struct {
	BaseEvent
	LoanID     int64     `json:"loan_id"`
	UserID     int64     `json:"user_id"`
	BookID     int64     `json:"book_id"`
	ReturnedAt time.Time `json:"returned_at"`
}

// LoanRenewedEvent published when a loan's due date is extended
type LoanRenewedEvent struct {
	BaseEvent
	LoanID     int64     `json:"loan_id"`
	UserID     int64     `json:"user_id"`
	BookID     int64     `json:"book_id"`
	DueAt      time.Time `json:"due_at"`
	RenewCount int       `json:"renew_count"`
}

// LoanOverdueEvent published when the sweep transitions a loan to OVERDUE
type LoanOverdueEvent struct {
	BaseEvent
	LoanID int64     `json:"loan_id"`
	UserID int64     `json:"user_id"`
	BookID int64     `json:"book_id"`
	DueAt  time.Time `json:"due_at"`
}

// ReservationCreatedEvent published when a member joins a hold queue
type ReservationCreatedEvent struct {
	BaseEvent
	ReservationID int64 `json:"reservation_id"`
	UserID        int64 `json:"user_id"`
	BookID        int64 `json:"book_id"`
}

// ReservationFulfilledEvent published when a return fulfills the
// oldest active reservation for the book
type ReservationFulfilledEvent struct {
	BaseEvent
	ReservationID int64 `json:"reservation_id"`
	UserID        int64 `json:"user_id"`
	BookID        int64 `json:"book_id"`
}

// ReservationCancelledEvent published when a reservation is cancelled
type ReservationCancelledEvent struct {
	BaseEvent
	ReservationID int64 `json:"reservation_id"`
	UserID        int64 `json:"user_id"`
	BookID        int64 `json:"book_id"`
}
