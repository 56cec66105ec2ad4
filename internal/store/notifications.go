package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"circulation-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// InsertNotification inserts a PENDING notification row and fills in
// the generated id
func (q queries) InsertNotification(ctx context.Context, n *models.Notification) error {
	query := q.ext.Rebind(`
		INSERT INTO notifications (user_id, type, channel, payload, scheduled_for, status)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`)

	return sqlx.GetContext(ctx, q.ext, &n.ID, query,
		n.UserID, n.Type, n.Channel, n.Payload, n.ScheduledFor, n.Status)
}

// GetNotification retrieves a notification by id
func (q queries) GetNotification(ctx context.Context, id int64) (*models.Notification, error) {
	var n models.Notification
	err := sqlx.GetContext(ctx, q.ext, &n,
		q.ext.Rebind("SELECT * FROM notifications WHERE id = ?"), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &n, nil
}

// FinalizeNotification records the send outcome. sentAt is only set on
// success; notification rows are never mutated after this.
func (q queries) FinalizeNotification(ctx context.Context, id int64, status string, sentAt sql.NullTime) error {
	_, err := q.ext.ExecContext(ctx,
		q.ext.Rebind("UPDATE notifications SET status = ?, sent_at = ? WHERE id = ?"),
		status, sentAt, id)
	return err
}

// ListNotificationsByUser retrieves a user's notifications, newest first
func (q queries) ListNotificationsByUser(ctx context.Context, userID int64) ([]models.Notification, error) {
	var notifications []models.Notification
	err := sqlx.SelectContext(ctx, q.ext, &notifications, q.ext.Rebind(`
		SELECT * FROM notifications WHERE user_id = ?
		ORDER BY scheduled_for DESC, id DESC`), userID)
	return notifications, err
}
