package broker

import (
	"context"
	"fmt"

	"circulation-service/internal/models"
)

// EventPublisher publishes circulation domain events. Events are an
// audit stream for downstream consumers (analytics, catalog sync);
// delivery failures are the caller's to log, never to roll back.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishLoanIssued publishes a LoanIssued event
func (ep *EventPublisher) PublishLoanIssued(ctx context.Context, event *models.LoanIssuedEvent) error {
	return ep.producer.PublishEvent(ctx, bookKey(event.BookID), event)
}

// PublishLoanReturned publishes a LoanReturned event
func (ep *EventPublisher) PublishLoanReturned(ctx context.Context, event *models.LoanReturnedEvent) error {
	return ep.producer.PublishEvent(ctx, bookKey(event.BookID), event)
}

// PublishLoanRenewed publishes a LoanRenewed event
func (ep *EventPublisher) PublishLoanRenewed(ctx context.Context, event *models.LoanRenewedEvent) error {
	return ep.producer.PublishEvent(ctx, bookKey(event.BookID), event)
}

// PublishLoanOverdue publishes a LoanOverdue event
func (ep *EventPublisher) PublishLoanOverdue(ctx context.Context, event *models.LoanOverdueEvent) error {
	return ep.producer.PublishEvent(ctx, bookKey(event.BookID), event)
}

// PublishReservationCreated publishes a ReservationCreated event
func (ep *EventPublisher) PublishReservationCreated(ctx context.Context, event *models.ReservationCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, bookKey(event.BookID), event)
}

// PublishReservationFulfilled publishes a ReservationFulfilled event
func (ep *EventPublisher) PublishReservationFulfilled(ctx context.Context, event *models.ReservationFulfilledEvent) error {
	return ep.producer.PublishEvent(ctx, bookKey(event.BookID), event)
}

// PublishReservationCancelled publishes a ReservationCancelled event
func (ep *EventPublisher) PublishReservationCancelled(ctx context.Context, event *models.ReservationCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, bookKey(event.BookID), event)
}

// bookKey partitions events by book so per-book ordering is preserved
func bookKey(bookID int64) string {
	return fmt.Sprintf("book-%d", bookID)
}
