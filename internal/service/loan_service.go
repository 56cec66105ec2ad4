package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"circulation-service/internal/models"
	"circulation-service/internal/store"
	"circulation-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LoanService owns the loan lifecycle and the availability invariant:
// for every book, available_copies + outstanding (ISSUED/OVERDUE) loans
// = total_copies. Every mutation runs as one transactional unit under
// the book's lock.
type LoanService struct {
	store        *store.Store
	locks        *LockTable
	reservations *ReservationService
	events       EventPublisher
	cache        AvailabilityCache
	logger       *zap.Logger

	loanDurationDays int
	maxRenewals      int
}

// NewLoanService creates a new loan service
func NewLoanService(
	st *store.Store,
	locks *LockTable,
	reservations *ReservationService,
	events EventPublisher,
	cache AvailabilityCache,
	loanDurationDays int,
	maxRenewals int,
) *LoanService {
	return &LoanService{
		store:            st,
		locks:            locks,
		reservations:     reservations,
		events:           events,
		cache:            cache,
		logger:           util.GetLogger(),
		loanDurationDays: loanDurationDays,
		maxRenewals:      maxRenewals,
	}
}

// Issue creates a loan for (userID, bookID) and decrements the book's
// availability in the same unit.
func (s *LoanService) Issue(ctx context.Context, userID, bookID int64) (*models.Loan, error) {
	ctx, span := util.StartSpan(ctx, "LoanService.Issue")
	defer span.End()

	unlock := s.locks.Lock(bookID)
	defer unlock()

	now := time.Now()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	book, err := tx.GetBook(ctx, bookID)
	if errors.Is(err, store.ErrNotFound) {
		util.LoanOperationsFailedTotal.WithLabelValues("issue", "book_not_found").Inc()
		return nil, ErrBookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load book: %w", err)
	}

	if book.AvailableCopies < 1 {
		util.LoanOperationsFailedTotal.WithLabelValues("issue", "no_copies").Inc()
		return nil, ErrNoCopiesAvailable
	}

	existing, err := tx.FindOutstandingLoan(ctx, userID, bookID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing loan: %w", err)
	}
	if existing != nil {
		util.LoanOperationsFailedTotal.WithLabelValues("issue", "duplicate_loan").Inc()
		return nil, ErrDuplicateLoan
	}

	loan := &models.Loan{
		UserID:   userID,
		BookID:   bookID,
		IssuedAt: now,
		DueAt:    now.AddDate(0, 0, s.loanDurationDays),
		Status:   models.LoanStatusIssued,
	}

	if err := tx.InsertLoan(ctx, loan); err != nil {
		return nil, fmt.Errorf("failed to create loan: %w", err)
	}
	if err := tx.AdjustBookAvailability(ctx, bookID, -1, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit issue: %w", err)
	}

	util.LoansIssuedTotal.Inc()
	s.logger.Info("Loan issued",
		zap.Int64("loan_id", loan.ID),
		zap.Int64("user_id", userID),
		zap.Int64("book_id", bookID),
		zap.Time("due_at", loan.DueAt))

	event := &models.LoanIssuedEvent{
		BaseEvent: newBaseEvent(models.EventTypeLoanIssued),
		LoanID:    loan.ID,
		UserID:    userID,
		BookID:    bookID,
		DueAt:     loan.DueAt,
	}
	if err := s.events.PublishLoanIssued(ctx, event); err != nil {
		s.logger.Error("Failed to publish LoanIssued event", zap.Error(err))
	}

	s.refreshAvailability(ctx, bookID)

	return loan, nil
}

// Return marks a loan RETURNED, increments availability, and fulfills
// the oldest active reservation for the book within the same unit. The
// fulfilled reservation (if any) is returned so the caller can surface
// it; it does not create a loan for the reserving user.
func (s *LoanService) Return(ctx context.Context, loanID int64) (*models.Loan, *models.Reservation, error) {
	ctx, span := util.StartSpan(ctx, "LoanService.Return")
	defer span.End()

	// resolve the book before taking its lock
	loan, err := s.store.GetLoan(ctx, loanID)
	if errors.Is(err, store.ErrNotFound) {
		util.LoanOperationsFailedTotal.WithLabelValues("return", "loan_not_found").Inc()
		return nil, nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load loan: %w", err)
	}

	unlock := s.locks.Lock(loan.BookID)
	defer unlock()

	now := time.Now()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	// re-read under the lock
	loan, err = tx.GetLoan(ctx, loanID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load loan: %w", err)
	}
	if loan.Status == models.LoanStatusReturned {
		util.LoanOperationsFailedTotal.WithLabelValues("return", "already_returned").Inc()
		return nil, nil, ErrAlreadyReturned
	}

	if err := tx.MarkLoanReturned(ctx, loanID, now); err != nil {
		return nil, nil, fmt.Errorf("failed to mark loan returned: %w", err)
	}
	if err := tx.AdjustBookAvailability(ctx, loan.BookID, +1, now); err != nil {
		return nil, nil, err
	}

	fulfilled, err := s.reservations.fulfillNext(ctx, tx, loan.BookID)
	if err != nil {
		return nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("failed to commit return: %w", err)
	}

	loan.Status = models.LoanStatusReturned
	loan.ReturnedAt.Time, loan.ReturnedAt.Valid = now, true

	util.LoansReturnedTotal.Inc()
	s.logger.Info("Loan returned",
		zap.Int64("loan_id", loanID),
		zap.Int64("book_id", loan.BookID),
		zap.Bool("reservation_fulfilled", fulfilled != nil))

	event := &models.LoanReturnedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeLoanReturned),
		LoanID:     loanID,
		UserID:     loan.UserID,
		BookID:     loan.BookID,
		ReturnedAt: now,
	}
	if err := s.events.PublishLoanReturned(ctx, event); err != nil {
		s.logger.Error("Failed to publish LoanReturned event", zap.Error(err))
	}
	if fulfilled != nil {
		util.ReservationsFulfilledTotal.Inc()
		fulfilledEvent := &models.ReservationFulfilledEvent{
			BaseEvent:     newBaseEvent(models.EventTypeReservationFulfilled),
			ReservationID: fulfilled.ID,
			UserID:        fulfilled.UserID,
			BookID:        fulfilled.BookID,
		}
		if err := s.events.PublishReservationFulfilled(ctx, fulfilledEvent); err != nil {
			s.logger.Error("Failed to publish ReservationFulfilled event", zap.Error(err))
		}
	}

	s.refreshAvailability(ctx, loan.BookID)

	return loan, fulfilled, nil
}

// Renew extends a loan's due date from its current due date. Renewal
// never touches availability. Blocked when the loan is not ISSUED, the
// renewal cap is reached, or any active reservation exists for the book
// regardless of who holds it.
func (s *LoanService) Renew(ctx context.Context, loanID int64) (*models.Loan, error) {
	ctx, span := util.StartSpan(ctx, "LoanService.Renew")
	defer span.End()

	loan, err := s.store.GetLoan(ctx, loanID)
	if errors.Is(err, store.ErrNotFound) {
		util.LoanOperationsFailedTotal.WithLabelValues("renew", "loan_not_found").Inc()
		return nil, ErrLoanNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load loan: %w", err)
	}

	unlock := s.locks.Lock(loan.BookID)
	defer unlock()

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	loan, err = tx.GetLoan(ctx, loanID)
	if err != nil {
		return nil, fmt.Errorf("failed to load loan: %w", err)
	}

	if loan.Status != models.LoanStatusIssued {
		util.LoanOperationsFailedTotal.WithLabelValues("renew", "not_issued").Inc()
		return nil, ErrLoanNotIssued
	}
	if loan.RenewCount >= s.maxRenewals {
		util.LoanOperationsFailedTotal.WithLabelValues("renew", "limit_reached").Inc()
		return nil, ErrRenewalLimitReached
	}

	reserved, err := tx.HasActiveReservation(ctx, loan.BookID)
	if err != nil {
		return nil, fmt.Errorf("failed to check reservations: %w", err)
	}
	if reserved {
		util.LoanOperationsFailedTotal.WithLabelValues("renew", "blocked_by_reservation").Inc()
		return nil, ErrRenewalBlockedByReservation
	}

	newDueAt := loan.DueAt.AddDate(0, 0, s.loanDurationDays)
	if err := tx.RenewLoan(ctx, loanID, newDueAt); err != nil {
		return nil, fmt.Errorf("failed to renew loan: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit renewal: %w", err)
	}

	loan.DueAt = newDueAt
	loan.RenewCount++

	util.LoansRenewedTotal.Inc()
	s.logger.Info("Loan renewed",
		zap.Int64("loan_id", loanID),
		zap.Time("due_at", newDueAt),
		zap.Int("renew_count", loan.RenewCount))

	event := &models.LoanRenewedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeLoanRenewed),
		LoanID:     loanID,
		UserID:     loan.UserID,
		BookID:     loan.BookID,
		DueAt:      newDueAt,
		RenewCount: loan.RenewCount,
	}
	if err := s.events.PublishLoanRenewed(ctx, event); err != nil {
		s.logger.Error("Failed to publish LoanRenewed event", zap.Error(err))
	}

	return loan, nil
}

// ListLoans retrieves loans filtered by user and status, newest first
func (s *LoanService) ListLoans(ctx context.Context, userID int64, status string) ([]models.LoanWithBook, error) {
	return s.store.ListLoansByUser(ctx, userID, status)
}

// refreshAvailability mirrors the committed availability into the cache
func (s *LoanService) refreshAvailability(ctx context.Context, bookID int64) {
	book, err := s.store.GetBook(ctx, bookID)
	if err != nil {
		s.logger.Warn("Failed to read availability for cache refresh",
			zap.Int64("book_id", bookID), zap.Error(err))
		return
	}
	if err := s.cache.SetAvailability(ctx, bookID, book.AvailableCopies); err != nil {
		s.logger.Warn("Failed to refresh availability cache",
			zap.Int64("book_id", bookID), zap.Error(err))
	}
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
	}
}
