package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cifer55/email-progress-tracker-sub002/internal/model"
)

// NotificationRepository persists alerts and enforces the one-unread-per
// (feature, type) rule for automated triggers.
type NotificationRepository struct {
	db *pgxpool.Pool
}

func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Insert stores a notification and fills in its generated id.
func (r *NotificationRepository) Insert(ctx context.Context, n *model.Notification) error {
	query := `
        INSERT INTO notifications (feature_key, type, message, is_read, created_at)
        VALUES (NULLIF($1, ''), $2, $3, false, NOW())
        RETURNING id, created_at
    `
	return r.db.QueryRow(ctx, query, n.FeatureKey, n.Type, n.Message).Scan(&n.ID, &n.CreatedAt)
}

// ExistsUnread reports whether an unread notification of the given type
// already exists for the feature. Automated triggers check this before
// inserting so an unresolved condition alerts once.
func (r *NotificationRepository) ExistsUnread(ctx context.Context, featureKey, typ string) (bool, error) {
	query := `
        SELECT EXISTS (
            SELECT 1 FROM notifications
            WHERE COALESCE(feature_key, '') = $1 AND type = $2 AND NOT is_read
        )
    `
	var exists bool
	err := r.db.QueryRow(ctx, query, featureKey, typ).Scan(&exists)
	return exists, err
}

// ListUnread returns all unread notifications, newest first.
func (r *NotificationRepository) ListUnread(ctx context.Context) ([]model.Notification, error) {
	query := `
        SELECT id, COALESCE(feature_key, ''), type, message, is_read, created_at
        FROM notifications
        WHERE NOT is_read
        ORDER BY created_at DESC
    `
	return r.scanList(ctx, query)
}

// ListByFeature returns all notifications for one feature, newest first.
func (r *NotificationRepository) ListByFeature(ctx context.Context, featureKey string) ([]model.Notification, error) {
	query := `
        SELECT id, COALESCE(feature_key, ''), type, message, is_read, created_at
        FROM notifications
        WHERE feature_key = $1
        ORDER BY created_at DESC
    `
	return r.scanList(ctx, query, featureKey)
}

// MarkRead marks one notification read.
func (r *NotificationRepository) MarkRead(ctx context.Context, id int) error {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET is_read = true WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	return nil
}

// MarkAllRead marks every unread notification read and returns the count.
func (r *NotificationRepository) MarkAllRead(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET is_read = true WHERE NOT is_read`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete removes one notification.
func (r *NotificationRepository) Delete(ctx context.Context, id int) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteOlderThan evicts notifications created more than the given number
// of days ago, returning how many were removed.
func (r *NotificationRepository) DeleteOlderThan(ctx context.Context, days int) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM notifications WHERE created_at < NOW() - make_interval(days => $1)`, days)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *NotificationRepository) scanList(ctx context.Context, query string, args ...any) ([]model.Notification, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []model.Notification
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.FeatureKey, &n.Type, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}
