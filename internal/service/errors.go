package service

import "errors"

// Rejections returned synchronously to callers. None of them is retried
// internally; the API layer maps them to HTTP statuses.
var (
	// not found
	ErrBookNotFound        = errors.New("book not found")
	ErrLoanNotFound        = errors.New("loan not found")
	ErrReservationNotFound = errors.New("reservation not found")

	// conflicts
	ErrNoCopiesAvailable    = errors.New("no copies available for this book")
	ErrDuplicateLoan        = errors.New("user already has this book issued")
	ErrDuplicateReservation = errors.New("user already has an active reservation for this book")
	ErrAlreadyHolds         = errors.New("user already holds this book")

	// invalid state
	ErrAlreadyReturned      = errors.New("loan already returned")
	ErrLoanNotIssued        = errors.New("can only renew issued loans")
	ErrReservationNotActive = errors.New("can only cancel active reservations")

	// limits and permissions
	ErrRenewalLimitReached         = errors.New("maximum renewals reached")
	ErrRenewalBlockedByReservation = errors.New("cannot renew: book has active reservations")
	ErrForbidden                   = errors.New("cannot cancel another user's reservation")

	// dispatcher
	ErrSweepInProgress = errors.New("notification sweep already running")
)
