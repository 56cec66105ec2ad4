package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"circulation-service/internal/models"
	"circulation-service/internal/store"
	"circulation-service/internal/util"

	"go.uber.org/zap"
)

// Dispatcher is the periodic sweep over outstanding loans: it flips
// newly-late loans to OVERDUE, sends due-soon and overdue notices, and
// records every attempt as a Notification row. Each loan is processed
// in its own unit so one failure never stalls the rest of the sweep.
type Dispatcher struct {
	store  *store.Store
	locks  *LockTable
	sender EmailSender
	events EventPublisher
	logger *zap.Logger

	dueSoonDays     int
	renotifyOverdue bool
	sendTimeout     time.Duration

	running sync.Mutex
}

// SweepResult aggregates one sweep's outcome. Errors counts failed
// sends and per-loan store failures; neither is retried.
type SweepResult struct {
	DueSoonSent int `json:"due_soon_sent"`
	OverdueSent int `json:"overdue_sent"`
	Errors      int `json:"errors"`
}

// NewDispatcher creates a new notification dispatcher. When
// renotifyOverdue is set, every sweep re-sends overdue notices for loans
// already in OVERDUE instead of notifying only on the transition.
func NewDispatcher(
	st *store.Store,
	locks *LockTable,
	sender EmailSender,
	events EventPublisher,
	dueSoonDays int,
	renotifyOverdue bool,
	sendTimeout time.Duration,
) *Dispatcher {
	return &Dispatcher{
		store:           st,
		locks:           locks,
		sender:          sender,
		events:          events,
		logger:          util.GetLogger(),
		dueSoonDays:     dueSoonDays,
		renotifyOverdue: renotifyOverdue,
		sendTimeout:     sendTimeout,
	}
}

// Run executes one sweep. At most one sweep runs at a time; a trigger
// that finds one in flight returns ErrSweepInProgress without waiting.
func (d *Dispatcher) Run(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	if !d.running.TryLock() {
		util.SweepsSkippedTotal.Inc()
		return result, ErrSweepInProgress
	}
	defer d.running.Unlock()

	ctx, span := util.StartSpan(ctx, "Dispatcher.Run")
	defer span.End()

	start := time.Now()
	defer func() {
		util.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	loans, err := d.store.LoansForSweep(ctx, models.LoanStatusIssued)
	if err != nil {
		return result, fmt.Errorf("failed to scan loans: %w", err)
	}

	// snapshot the already-overdue set before any transition below
	// commits, so a loan going OVERDUE this run is notified once
	var alreadyOverdue []models.SweepLoan
	if d.renotifyOverdue {
		alreadyOverdue, err = d.store.LoansForSweep(ctx, models.LoanStatusOverdue)
		if err != nil {
			d.logger.Error("Failed to scan overdue loans", zap.Error(err))
			result.Errors++
		}
	}

	now := time.Now()
	dueSoonCutoff := now.AddDate(0, 0, d.dueSoonDays)

	for _, loan := range loans {
		switch {
		case loan.DueAt.Before(now):
			d.notifyOverdue(ctx, loan, now, true, &result)
		case !loan.DueAt.After(dueSoonCutoff):
			d.notifyDueSoon(ctx, loan, now, &result)
		}
	}

	for _, loan := range alreadyOverdue {
		d.notifyOverdue(ctx, loan, now, false, &result)
	}

	d.logger.Info("Notification sweep completed",
		zap.Int("due_soon_sent", result.DueSoonSent),
		zap.Int("overdue_sent", result.OverdueSent),
		zap.Int("errors", result.Errors),
		zap.Duration("took", time.Since(start)))

	return result, nil
}

// notifyOverdue handles one late loan. When transition is set the loan
// is flipped to OVERDUE together with the pending notification row in
// one unit; the send itself happens after commit, outside the book lock.
func (d *Dispatcher) notifyOverdue(ctx context.Context, loan models.SweepLoan, now time.Time, transition bool, result *SweepResult) {
	var notificationID int64

	if transition {
		id, skip, err := d.markOverdue(ctx, loan, now)
		if err != nil {
			d.logger.Error("Failed to mark loan overdue",
				zap.Int64("loan_id", loan.ID), zap.Error(err))
			result.Errors++
			return
		}
		if skip {
			return
		}
		notificationID = id

		util.LoansMarkedOverdueTotal.Inc()
		event := &models.LoanOverdueEvent{
			BaseEvent: newBaseEvent(models.EventTypeLoanOverdue),
			LoanID:    loan.ID,
			UserID:    loan.UserID,
			BookID:    loan.BookID,
			DueAt:     loan.DueAt,
		}
		if err := d.events.PublishLoanOverdue(ctx, event); err != nil {
			d.logger.Error("Failed to publish LoanOverdue event", zap.Error(err))
		}
	} else {
		notification := pendingNotification(loan, models.NotificationTypeOverdue, now)
		if err := d.store.InsertNotification(ctx, notification); err != nil {
			d.logger.Error("Failed to record notification",
				zap.Int64("loan_id", loan.ID), zap.Error(err))
			result.Errors++
			return
		}
		notificationID = notification.ID
	}

	sent := d.send(ctx, models.NotificationTypeOverdue, loan)
	d.finalize(ctx, notificationID, sent, now)

	if sent {
		util.NotificationsSentTotal.WithLabelValues(models.NotificationTypeOverdue).Inc()
		result.OverdueSent++
	} else {
		util.NotificationsFailedTotal.WithLabelValues(models.NotificationTypeOverdue).Inc()
		result.Errors++
	}
}

// notifyDueSoon sends a reminder for a loan inside the due-soon window.
// The loan itself is not touched; a loan that left ISSUED between the
// scan and here is skipped.
func (d *Dispatcher) notifyDueSoon(ctx context.Context, loan models.SweepLoan, now time.Time, result *SweepResult) {
	current, err := d.store.GetLoan(ctx, loan.ID)
	if err != nil {
		d.logger.Error("Failed to re-read loan",
			zap.Int64("loan_id", loan.ID), zap.Error(err))
		result.Errors++
		return
	}
	if current.Status != models.LoanStatusIssued {
		return
	}

	notification := pendingNotification(loan, models.NotificationTypeDueSoon, now)
	if err := d.store.InsertNotification(ctx, notification); err != nil {
		d.logger.Error("Failed to record notification",
			zap.Int64("loan_id", loan.ID), zap.Error(err))
		result.Errors++
		return
	}

	sent := d.send(ctx, models.NotificationTypeDueSoon, loan)
	d.finalize(ctx, notification.ID, sent, now)

	if sent {
		util.NotificationsSentTotal.WithLabelValues(models.NotificationTypeDueSoon).Inc()
		result.DueSoonSent++
	} else {
		util.NotificationsFailedTotal.WithLabelValues(models.NotificationTypeDueSoon).Inc()
		result.Errors++
	}
}

// markOverdue transitions the loan and inserts its pending notification
// in one unit under the book lock. Reports skip when the loan left
// ISSUED between the scan and the lock.
func (d *Dispatcher) markOverdue(ctx context.Context, loan models.SweepLoan, now time.Time) (int64, bool, error) {
	unlock := d.locks.Lock(loan.BookID)
	defer unlock()

	tx, err := d.store.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback()

	current, err := tx.GetLoan(ctx, loan.ID)
	if err != nil {
		return 0, false, err
	}
	if current.Status != models.LoanStatusIssued {
		return 0, true, nil
	}

	if err := tx.UpdateLoanStatus(ctx, loan.ID, models.LoanStatusOverdue); err != nil {
		return 0, false, err
	}

	notification := pendingNotification(loan, models.NotificationTypeOverdue, now)
	if err := tx.InsertNotification(ctx, notification); err != nil {
		return 0, false, err
	}

	if err := tx.Commit(); err != nil {
		return 0, false, err
	}
	return notification.ID, false, nil
}

// send attempts one delivery with a bounded timeout. Never called while
// holding a book lock. A timeout counts as a failed send; there is no
// retry within the sweep.
func (d *Dispatcher) send(ctx context.Context, noticeType string, loan models.SweepLoan) bool {
	ctx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	dueDate := loan.DueAt.Format("2006-01-02")

	var err error
	if noticeType == models.NotificationTypeOverdue {
		err = d.sender.SendOverdueNotice(ctx, loan.Email, loan.FullName, loan.BookTitle, dueDate)
	} else {
		err = d.sender.SendDueReminder(ctx, loan.Email, loan.FullName, loan.BookTitle, dueDate)
	}
	if err != nil {
		d.logger.Warn("Failed to send notice",
			zap.String("type", noticeType),
			zap.Int64("loan_id", loan.ID),
			zap.String("to", loan.Email),
			zap.Error(err))
		return false
	}
	return true
}

// finalize records the send outcome on the notification row
func (d *Dispatcher) finalize(ctx context.Context, notificationID int64, sent bool, now time.Time) {
	status := models.NotificationStatusFailed
	var sentAt sql.NullTime
	if sent {
		status = models.NotificationStatusSent
		sentAt = sql.NullTime{Time: now, Valid: true}
	}
	if err := d.store.FinalizeNotification(ctx, notificationID, status, sentAt); err != nil {
		d.logger.Error("Failed to finalize notification",
			zap.Int64("notification_id", notificationID), zap.Error(err))
	}
}

func pendingNotification(loan models.SweepLoan, noticeType string, now time.Time) *models.Notification {
	payload, _ := json.Marshal(map[string]string{
		"book_title": loan.BookTitle,
		"due_date":   loan.DueAt.Format("2006-01-02"),
	})
	return &models.Notification{
		UserID:       loan.UserID,
		Type:         noticeType,
		Channel:      "email",
		Payload:      string(payload),
		ScheduledFor: now,
		Status:       models.NotificationStatusPending,
	}
}
