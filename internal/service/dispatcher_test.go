package service

import (
	"context"
	"testing"
	"time"

	"circulation-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(env *testEnv, sender *senderStub, renotifyOverdue bool) *Dispatcher {
	return NewDispatcher(env.store, env.locks, sender, env.events, 2, renotifyOverdue, 5*time.Second)
}

// seedLoan inserts an ISSUED loan with an explicit due date, keeping the
// book's counter in step.
func seedLoan(t *testing.T, env *testEnv, userID, bookID int64, dueAt time.Time) int64 {
	t.Helper()
	ctx := context.Background()

	loan := &models.Loan{
		UserID:   userID,
		BookID:   bookID,
		IssuedAt: dueAt.AddDate(0, 0, -14),
		DueAt:    dueAt,
		Status:   models.LoanStatusIssued,
	}
	require.NoError(t, env.store.InsertLoan(ctx, loan))
	require.NoError(t, env.store.AdjustBookAvailability(ctx, bookID, -1, time.Now()))
	return loan.ID
}

func TestSweepMarksOverdueAndSendsNotice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userID := env.seedUser(t, "alice@example.com", "Alice")
	bookID := env.seedBook(t, "The Go Programming Language", 1)
	loanID := seedLoan(t, env, userID, bookID, time.Now().AddDate(0, 0, -3))

	sender := newSenderStub()
	d := newTestDispatcher(env, sender, false)

	result, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.OverdueSent)
	assert.Equal(t, 0, result.DueSoonSent)
	assert.Equal(t, 0, result.Errors)

	loan, err := env.store.GetLoan(ctx, loanID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusOverdue, loan.Status)

	notices := sender.notices()
	require.Len(t, notices, 1)
	assert.Equal(t, models.NotificationTypeOverdue, notices[0].Kind)
	assert.Equal(t, "alice@example.com", notices[0].To)
	assert.Equal(t, "The Go Programming Language", notices[0].BookTitle)

	rows, err := env.store.ListNotificationsByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.NotificationTypeOverdue, rows[0].Type)
	assert.Equal(t, models.NotificationStatusSent, rows[0].Status)
	assert.True(t, rows[0].SentAt.Valid)

	assert.Equal(t, 1, env.events.count(models.EventTypeLoanOverdue))
}

func TestSweepSendsDueSoonReminder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userID := env.seedUser(t, "bob@example.com", "Bob")
	bookID := env.seedBook(t, "SICP", 1)
	loanID := seedLoan(t, env, userID, bookID, time.Now().AddDate(0, 0, 1))

	sender := newSenderStub()
	d := newTestDispatcher(env, sender, false)

	result, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.DueSoonSent)
	assert.Equal(t, 0, result.OverdueSent)

	// a reminder never changes the loan
	loan, err := env.store.GetLoan(ctx, loanID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusIssued, loan.Status)

	rows, err := env.store.ListNotificationsByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, models.NotificationTypeDueSoon, rows[0].Type)
	assert.Equal(t, models.NotificationStatusSent, rows[0].Status)
}

func TestSweepIgnoresLoansOutsideWindow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userID := env.seedUser(t, "carol@example.com", "Carol")
	bookID := env.seedBook(t, "TAOCP", 1)
	seedLoan(t, env, userID, bookID, time.Now().AddDate(0, 0, 10))

	sender := newSenderStub()
	d := newTestDispatcher(env, sender, false)

	result, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)
	assert.Empty(t, sender.notices())
}

func TestSweepSendFailureDoesNotAbort(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	alice := env.seedUser(t, "alice@example.com", "Alice")
	bob := env.seedUser(t, "bob@example.com", "Bob")
	bookA := env.seedBook(t, "Book A", 1)
	bookB := env.seedBook(t, "Book B", 1)

	yesterday := time.Now().AddDate(0, 0, -1)
	aliceLoan := seedLoan(t, env, alice, bookA, yesterday)
	bobLoan := seedLoan(t, env, bob, bookB, yesterday)

	sender := newSenderStub()
	sender.failFor("alice@example.com")
	d := newTestDispatcher(env, sender, false)

	result, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.OverdueSent)
	assert.Equal(t, 1, result.Errors)

	// both loans still transition; the failed send only marks its row
	for _, loanID := range []int64{aliceLoan, bobLoan} {
		loan, err := env.store.GetLoan(ctx, loanID)
		require.NoError(t, err)
		assert.Equal(t, models.LoanStatusOverdue, loan.Status)
	}

	aliceRows, err := env.store.ListNotificationsByUser(ctx, alice)
	require.NoError(t, err)
	require.Len(t, aliceRows, 1)
	assert.Equal(t, models.NotificationStatusFailed, aliceRows[0].Status)
	assert.False(t, aliceRows[0].SentAt.Valid)

	bobRows, err := env.store.ListNotificationsByUser(ctx, bob)
	require.NoError(t, err)
	require.Len(t, bobRows, 1)
	assert.Equal(t, models.NotificationStatusSent, bobRows[0].Status)
}

func TestSweepNotifiesOverdueOnceByDefault(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userID := env.seedUser(t, "dave@example.com", "Dave")
	bookID := env.seedBook(t, "PAIP", 1)
	seedLoan(t, env, userID, bookID, time.Now().AddDate(0, 0, -2))

	sender := newSenderStub()
	d := newTestDispatcher(env, sender, false)

	result, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.OverdueSent)

	// second sweep finds the loan already OVERDUE and stays quiet
	result, err = d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, result)

	rows, err := env.store.ListNotificationsByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestSweepRenotifiesOverdueWhenEnabled(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userID := env.seedUser(t, "eve@example.com", "Eve")
	bookID := env.seedBook(t, "Refactoring", 1)
	seedLoan(t, env, userID, bookID, time.Now().AddDate(0, 0, -2))

	sender := newSenderStub()
	d := newTestDispatcher(env, sender, true)

	// the sweep that performs the transition notifies exactly once
	result, err := d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.OverdueSent)

	rows, err := env.store.ListNotificationsByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	result, err = d.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.OverdueSent)

	rows, err = env.store.ListNotificationsByUser(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	assert.Len(t, sender.notices(), 2)
}

func TestSweepSingleFlight(t *testing.T) {
	env := newTestEnv(t)

	sender := newSenderStub()
	d := newTestDispatcher(env, sender, false)

	d.running.Lock()
	_, err := d.Run(context.Background())
	assert.ErrorIs(t, err, ErrSweepInProgress)
	d.running.Unlock()

	_, err = d.Run(context.Background())
	assert.NoError(t, err)
}

func TestDueSoonSkipsLoanReturnedMidSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userID := env.seedUser(t, "grace@example.com", "Grace")
	bookID := env.seedBook(t, "Programming Pearls", 1)
	loanID := seedLoan(t, env, userID, bookID, time.Now().AddDate(0, 0, 1))

	require.NoError(t, env.store.MarkLoanReturned(ctx, loanID, time.Now()))

	sender := newSenderStub()
	d := newTestDispatcher(env, sender, false)

	loan := models.SweepLoan{
		ID:        loanID,
		UserID:    userID,
		BookID:    bookID,
		DueAt:     time.Now().AddDate(0, 0, 1),
		Status:    models.LoanStatusIssued,
		Email:     "grace@example.com",
		FullName:  "Grace",
		BookTitle: "Programming Pearls",
	}
	var result SweepResult
	d.notifyDueSoon(ctx, loan, time.Now(), &result)

	assert.Equal(t, SweepResult{}, result)
	assert.Empty(t, sender.notices())

	rows, err := env.store.ListNotificationsByUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestSweepSkipsLoanReturnedMidSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	userID := env.seedUser(t, "frank@example.com", "Frank")
	bookID := env.seedBook(t, "Clean Code", 1)
	loanID := seedLoan(t, env, userID, bookID, time.Now().AddDate(0, 0, -1))

	// the loan leaves ISSUED between the scan and the per-loan unit
	require.NoError(t, env.store.MarkLoanReturned(ctx, loanID, time.Now()))

	sender := newSenderStub()
	d := newTestDispatcher(env, sender, false)

	loan := models.SweepLoan{
		ID:        loanID,
		UserID:    userID,
		BookID:    bookID,
		DueAt:     time.Now().AddDate(0, 0, -1),
		Status:    models.LoanStatusIssued,
		Email:     "frank@example.com",
		FullName:  "Frank",
		BookTitle: "Clean Code",
	}
	var result SweepResult
	d.notifyOverdue(ctx, loan, time.Now(), true, &result)

	assert.Equal(t, SweepResult{}, result)
	assert.Empty(t, sender.notices())

	got, err := env.store.GetLoan(ctx, loanID)
	require.NoError(t, err)
	assert.Equal(t, models.LoanStatusReturned, got.Status)
}
