package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"circulation-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestIssueCreatesLoanAndDecrementsAvailability(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userID := env.seedUser(t, "alice@example.com", "Alice")
	bookID := env.seedBook(t, "The Go Programming Language", 2)

	loan, err := env.loans.Issue(ctx, userID, bookID)
	require.NoError(t, err)
	require.NotNil(t, loan)

	assert.Equal(t, models.LoanStatusIssued, loan.Status)
	assert.Equal(t, 0, loan.RenewCount)
	assert.WithinDuration(t, loan.IssuedAt.AddDate(0, 0, 14), loan.DueAt, time.Second)

	assert.Equal(t, 1, env.availableCopies(t, bookID))

	assert.Equal(t, []string{models.EventTypeLoanIssued}, env.events.published())

	cached, ok := env.cache.get(bookID)
	require.True(t, ok)
	assert.Equal(t, 1, cached)
}

func TestIssueRejectsWhenNoCopiesAvailable(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.seedUser(t, "alice@example.com", "Alice")
	bob := env.seedUser(t, "bob@example.com", "Bob")
	bookID := env.seedBook(t, "SICP", 1)

	_, err := env.loans.Issue(ctx, alice, bookID)
	require.NoError(t, err)

	_, err = env.loans.Issue(ctx, bob, bookID)
	assert.ErrorIs(t, err, ErrNoCopiesAvailable)
	assert.Equal(t, 0, env.availableCopies(t, bookID))
}

func TestIssueRejectsDuplicateLoan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userID := env.seedUser(t, "alice@example.com", "Alice")
	bookID := env.seedBook(t, "TAOCP", 3)

	_, err := env.loans.Issue(ctx, userID, bookID)
	require.NoError(t, err)

	_, err = env.loans.Issue(ctx, userID, bookID)
	assert.ErrorIs(t, err, ErrDuplicateLoan)

	// the failed issue must not touch the counter
	assert.Equal(t, 2, env.availableCopies(t, bookID))
}

func TestIssueUnknownBook(t *testing.T) {
	env := newTestEnv(t)

	userID := env.seedUser(t, "alice@example.com", "Alice")

	_, err := env.loans.Issue(context.Background(), userID, 99999)
	assert.ErrorIs(t, err, ErrBookNotFound)
}

func TestReturnIncrementsAvailability(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userID := env.seedUser(t, "alice@example.com", "Alice")
	bookID := env.seedBook(t, "PAIP", 1)

	loan, err := env.loans.Issue(ctx, userID, bookID)
	require.NoError(t, err)
	assert.Equal(t, 0, env.availableCopies(t, bookID))

	returned, fulfilled, err := env.loans.Return(ctx, loan.ID)
	require.NoError(t, err)
	assert.Nil(t, fulfilled)
	assert.Equal(t, models.LoanStatusReturned, returned.Status)
	assert.True(t, returned.ReturnedAt.Valid)
	assert.Equal(t, 1, env.availableCopies(t, bookID))
}

func TestReturnFulfillsOldestReservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.seedUser(t, "alice@example.com", "Alice")
	bob := env.seedUser(t, "bob@example.com", "Bob")
	carol := env.seedUser(t, "carol@example.com", "Carol")
	bookID := env.seedBook(t, "Refactoring", 1)

	loan, err := env.loans.Issue(ctx, alice, bookID)
	require.NoError(t, err)

	bobRes, err := env.reservations.Create(ctx, bob, bookID)
	require.NoError(t, err)
	carolRes, err := env.reservations.Create(ctx, carol, bookID)
	require.NoError(t, err)

	_, fulfilled, err := env.loans.Return(ctx, loan.ID)
	require.NoError(t, err)
	require.NotNil(t, fulfilled)
	assert.Equal(t, bobRes.ID, fulfilled.ID)
	assert.Equal(t, models.ReservationStatusFulfilled, fulfilled.Status)

	// fulfillment reserves no copy; the book goes back on the shelf
	assert.Equal(t, 1, env.availableCopies(t, bookID))

	got, err := env.store.GetReservation(ctx, carolRes.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationStatusActive, got.Status)

	assert.Equal(t, 1, env.events.count(models.EventTypeReservationFulfilled))
}

func TestReturnAlreadyReturned(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userID := env.seedUser(t, "alice@example.com", "Alice")
	bookID := env.seedBook(t, "Clean Code", 1)

	loan, err := env.loans.Issue(ctx, userID, bookID)
	require.NoError(t, err)

	_, _, err = env.loans.Return(ctx, loan.ID)
	require.NoError(t, err)

	_, _, err = env.loans.Return(ctx, loan.ID)
	assert.ErrorIs(t, err, ErrAlreadyReturned)

	// the double return must not inflate the counter
	assert.Equal(t, 1, env.availableCopies(t, bookID))
}

func TestReturnUnknownLoan(t *testing.T) {
	env := newTestEnv(t)

	_, _, err := env.loans.Return(context.Background(), 99999)
	assert.ErrorIs(t, err, ErrLoanNotFound)
}

func TestReturnOverdueLoan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userID := env.seedUser(t, "alice@example.com", "Alice")
	bookID := env.seedBook(t, "Programming Pearls", 1)

	loan, err := env.loans.Issue(ctx, userID, bookID)
	require.NoError(t, err)
	require.NoError(t, env.store.UpdateLoanStatus(ctx, loan.ID, models.LoanStatusOverdue))

	returned, _, err := env.loans.Return(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusReturned, returned.Status)
	assert.Equal(t, 1, env.availableCopies(t, bookID))
}

func TestRenewExtendsFromCurrentDueDate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userID := env.seedUser(t, "alice@example.com", "Alice")
	bookID := env.seedBook(t, "Domain-Driven Design", 1)

	loan, err := env.loans.Issue(ctx, userID, bookID)
	require.NoError(t, err)
	originalDueAt := loan.DueAt

	renewed, err := env.loans.Renew(ctx, loan.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, renewed.RenewCount)
	assert.WithinDuration(t, originalDueAt.AddDate(0, 0, 14), renewed.DueAt, time.Second)

	// renewal never touches availability
	assert.Equal(t, 0, env.availableCopies(t, bookID))
	assert.Equal(t, 1, env.events.count(models.EventTypeLoanRenewed))
}

func TestRenewLimitReached(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userID := env.seedUser(t, "alice@example.com", "Alice")
	bookID := env.seedBook(t, "The Mythical Man-Month", 1)

	loan, err := env.loans.Issue(ctx, userID, bookID)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err = env.loans.Renew(ctx, loan.ID)
		require.NoError(t, err)
	}

	_, err = env.loans.Renew(ctx, loan.ID)
	assert.ErrorIs(t, err, ErrRenewalLimitReached)
}

func TestRenewBlockedByAnyActiveReservation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.seedUser(t, "alice@example.com", "Alice")
	bob := env.seedUser(t, "bob@example.com", "Bob")
	bookID := env.seedBook(t, "Code Complete", 1)

	loan, err := env.loans.Issue(ctx, alice, bookID)
	require.NoError(t, err)

	// someone else's reservation still blocks the renewal
	res, err := env.reservations.Create(ctx, bob, bookID)
	require.NoError(t, err)

	_, err = env.loans.Renew(ctx, loan.ID)
	assert.ErrorIs(t, err, ErrRenewalBlockedByReservation)

	// cancelling it unblocks
	require.NoError(t, env.reservations.Cancel(ctx, res.ID, bob, false))
	_, err = env.loans.Renew(ctx, loan.ID)
	assert.NoError(t, err)
}

func TestRenewRequiresIssuedStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userID := env.seedUser(t, "alice@example.com", "Alice")
	bookID := env.seedBook(t, "The Pragmatic Programmer", 1)

	loan, err := env.loans.Issue(ctx, userID, bookID)
	require.NoError(t, err)

	_, _, err = env.loans.Return(ctx, loan.ID)
	require.NoError(t, err)

	_, err = env.loans.Renew(ctx, loan.ID)
	assert.ErrorIs(t, err, ErrLoanNotIssued)
}

func TestRenewUnknownLoan(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.loans.Renew(context.Background(), 99999)
	assert.ErrorIs(t, err, ErrLoanNotFound)
}

// TestConcurrentCirculation hammers one book from many goroutines and
// checks the counter never drifts from the loan rows.
func TestConcurrentCirculation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	const members = 8
	bookID := env.seedBook(t, "Concurrent Programming in Go", 3)

	userIDs := make([]int64, members)
	for i := range userIDs {
		userIDs[i] = env.seedUser(t, string(rune('a'+i))+"@example.com", "Member")
	}

	var wg sync.WaitGroup
	for _, userID := range userIDs {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			loan, err := env.loans.Issue(ctx, userID, bookID)
			if err != nil {
				return
			}
			_, _, _ = env.loans.Return(ctx, loan.ID)
			_, _ = env.loans.Issue(ctx, userID, bookID)
		}(userID)
	}
	wg.Wait()

	book, err := env.store.GetBook(ctx, bookID)
	require.NoError(t, err)
	outstanding, err := env.store.CountOutstandingLoans(ctx, bookID)
	require.NoError(t, err)

	assert.Equal(t, book.TotalCopies, book.AvailableCopies+outstanding)
	assert.GreaterOrEqual(t, book.AvailableCopies, 0)
	assert.LessOrEqual(t, book.AvailableCopies, book.TotalCopies)
}

// TestCirculationCounterProperty drives random issue/return/renew
// sequences and checks available + outstanding = total after every step.
func TestCirculationCounterProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		env := newTestEnv(t)
		ctx := context.Background()

		totalCopies := rapid.IntRange(1, 3).Draw(rt, "copies")
		bookID := env.seedBook(t, "Property Testing", totalCopies)

		userCount := rapid.IntRange(1, 4).Draw(rt, "users")
		userIDs := make([]int64, userCount)
		for i := range userIDs {
			userIDs[i] = env.seedUser(t, string(rune('a'+i))+"@prop.example.com", "Member")
		}

		var openLoans []int64

		steps := rapid.IntRange(1, 20).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 2).Draw(rt, "op") {
			case 0:
				userID := userIDs[rapid.IntRange(0, userCount-1).Draw(rt, "user")]
				if loan, err := env.loans.Issue(ctx, userID, bookID); err == nil {
					openLoans = append(openLoans, loan.ID)
				}
			case 1:
				if len(openLoans) > 0 {
					idx := rapid.IntRange(0, len(openLoans)-1).Draw(rt, "loan")
					if _, _, err := env.loans.Return(ctx, openLoans[idx]); err == nil {
						openLoans = append(openLoans[:idx], openLoans[idx+1:]...)
					}
				}
			case 2:
				if len(openLoans) > 0 {
					idx := rapid.IntRange(0, len(openLoans)-1).Draw(rt, "loan")
					_, _ = env.loans.Renew(ctx, openLoans[idx])
				}
			}

			book, err := env.store.GetBook(ctx, bookID)
			require.NoError(rt, err)
			outstanding, err := env.store.CountOutstandingLoans(ctx, bookID)
			require.NoError(rt, err)

			require.Equal(rt, book.TotalCopies, book.AvailableCopies+outstanding)
			require.GreaterOrEqual(rt, book.AvailableCopies, 0)
			require.LessOrEqual(rt, book.AvailableCopies, book.TotalCopies)
		}
	})
}
