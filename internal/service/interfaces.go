package service

import (
	"context"

	"circulation-service/internal/models"
)

// EventPublisher publishes circulation events after a unit commits.
// Publishing is best-effort: failures are logged and never unwind the
// committed unit.
type EventPublisher interface {
	PublishLoanIssued(ctx context.Context, event *models.LoanIssuedEvent) error
	PublishLoanReturned(ctx context.Context, event *models.LoanReturnedEvent) error
	PublishLoanRenewed(ctx context.Context, event *models.LoanRenewedEvent) error
	PublishLoanOverdue(ctx context.Context, event *models.LoanOverdueEvent) error
	PublishReservationCreated(ctx context.Context, event *models.ReservationCreatedEvent) error
	PublishReservationFulfilled(ctx context.Context, event *models.ReservationFulfilledEvent) error
	PublishReservationCancelled(ctx context.Context, event *models.ReservationCancelledEvent) error
}

// AvailabilityCache mirrors book availability for the fast read path.
// Best-effort as well; the store stays authoritative.
type AvailabilityCache interface {
	SetAvailability(ctx context.Context, bookID int64, available int) error
}

// EmailSender delivers notices. The dispatcher depends only on whether
// the send succeeded.
type EmailSender interface {
	SendDueReminder(ctx context.Context, to, fullName, bookTitle, dueDate string) error
	SendOverdueNotice(ctx context.Context, to, fullName, bookTitle, dueDate string) error
}
