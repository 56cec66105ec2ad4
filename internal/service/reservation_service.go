package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"circulation-service/internal/models"
	"circulation-service/internal/store"
	"circulation-service/internal/util"

	"go.uber.org/zap"
)

// ReservationService owns the per-book hold queue. Reservations are
// fulfilled strictly in creation order, one per return event.
type ReservationService struct {
	store  *store.Store
	locks  *LockTable
	events EventPublisher
	logger *zap.Logger
}

// NewReservationService creates a new reservation service
func NewReservationService(st *store.Store, locks *LockTable, events EventPublisher) *ReservationService {
	return &ReservationService{
		store:  st,
		locks:  locks,
		events: events,
		logger: util.GetLogger(),
	}
}

// Create enqueues an active reservation for (userID, bookID). Rejected
// when the user already has an active reservation or an outstanding
// loan for the book.
func (s *ReservationService) Create(ctx context.Context, userID, bookID int64) (*models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationService.Create")
	defer span.End()

	unlock := s.locks.Lock(bookID)
	defer unlock()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.GetBook(ctx, bookID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrBookNotFound
		}
		return nil, fmt.Errorf("failed to load book: %w", err)
	}

	existing, err := tx.FindActiveReservation(ctx, userID, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing reservation: %w", err)
	}
	if existing != nil {
		return nil, ErrDuplicateReservation
	}

	loan, err := tx.FindOutstandingLoan(ctx, userID, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing loan: %w", err)
	}
	if loan != nil {
		return nil, ErrAlreadyHolds
	}

	reservation := &models.Reservation{
		UserID:    userID,
		BookID:    bookID,
		CreatedAt: time.Now(),
		Status:    models.ReservationStatusActive,
	}
	if err := tx.InsertReservation(ctx, reservation); err != nil {
		return nil, fmt.Errorf("failed to create reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reservation: %w", err)
	}

	util.ReservationsCreatedTotal.Inc()
	s.logger.Info("Reservation created",
		zap.Int64("reservation_id", reservation.ID),
		zap.Int64("user_id", userID),
		zap.Int64("book_id", bookID))

	event := &models.ReservationCreatedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeReservationCreated),
		ReservationID: reservation.ID,
		UserID:        userID,
		BookID:        bookID,
	}
	if err := s.events.PublishReservationCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish ReservationCreated event", zap.Error(err))
	}

	return reservation, nil
}

// Cancel cancels an active reservation. Only the owner or a privileged
// requester (librarian/admin, resolved upstream) may cancel; this is the
// one permission the engine re-checks itself.
func (s *ReservationService) Cancel(ctx context.Context, reservationID, requesterID int64, privileged bool) error {
	ctx, span := util.StartSpan(ctx, "ReservationService.Cancel")
	defer span.End()

	reservation, err := s.store.GetReservation(ctx, reservationID)
	if errors.Is(err, store.ErrNotFound) {
		return ErrReservationNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load reservation: %w", err)
	}

	unlock := s.locks.Lock(reservation.BookID)
	defer unlock()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	reservation, err = tx.GetReservation(ctx, reservationID)
	if err != nil {
		return fmt.Errorf("failed to load reservation: %w", err)
	}

	if !privileged && reservation.UserID != requesterID {
		return ErrForbidden
	}
	if reservation.Status != models.ReservationStatusActive {
		return ErrReservationNotActive
	}

	if err := tx.UpdateReservationStatus(ctx, reservationID, models.ReservationStatusCancelled); err != nil {
		return fmt.Errorf("failed to cancel reservation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit cancellation: %w", err)
	}

	util.ReservationsCancelledTotal.Inc()
	s.logger.Info("Reservation cancelled",
		zap.Int64("reservation_id", reservationID),
		zap.Int64("requester_id", requesterID))

	event := &models.ReservationCancelledEvent{
		BaseEvent:     newBaseEvent(models.EventTypeReservationCancelled),
		ReservationID: reservationID,
		UserID:        reservation.UserID,
		BookID:        reservation.BookID,
	}
	if err := s.events.PublishReservationCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish ReservationCancelled event", zap.Error(err))
	}

	return nil
}

// ListReservations retrieves reservations filtered by user and status
func (s *ReservationService) ListReservations(ctx context.Context, userID int64, status string) ([]models.Reservation, error) {
	return s.store.ListReservationsByUser(ctx, userID, status)
}

// fulfillNext marks the oldest active reservation for the book FULFILLED
// inside the caller's unit. No-op when the queue is empty. Called from
// the return path; exactly one reservation is fulfilled per return.
func (s *ReservationService) fulfillNext(ctx context.Context, tx *store.Tx, bookID int64) (*models.Reservation, error) {
	reservation, err := tx.OldestActiveReservation(ctx, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to read hold queue: %w", err)
	}
	if reservation == nil {
		return nil, nil
	}

	if err := tx.UpdateReservationStatus(ctx, reservation.ID, models.ReservationStatusFulfilled); err != nil {
		return nil, fmt.Errorf("failed to fulfill reservation: %w", err)
	}

	reservation.Status = models.ReservationStatusFulfilled
	return reservation, nil
}
