// internal/store/notifications.go
package store

import (
	"context"
	"encoding/json"

	"github.com/josecentenodev/crm-aurelia-sub005/internal/models"
)

func (s *Store) InsertNotification(ctx context.Context, n models.Notification) (*models.Notification, error) {
	if len(n.Data) == 0 {
		n.Data = json.RawMessage(`{}`)
	}
	if n.Priority == "" {
		n.Priority = models.PriorityNormal
	}
	var out models.Notification
	err := s.db.GetContext(ctx, &out, `
		INSERT INTO notifications (client_id, user_id, type, title, body, priority, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *`,
		n.ClientID, n.UserID, n.Type, n.Title, n.Body, n.Priority, []byte(n.Data))
	if err != nil {
		return nil, mapError("insert_notification", err)
	}
	return &out, nil
}

func (s *Store) ListNotifications(ctx context.Context, userID string, unreadOnly bool, page Page) ([]models.Notification, error) {
	page = page.Normalize()
	var out []models.Notification
	err := s.db.SelectContext(ctx, &out, `
		SELECT * FROM notifications
		WHERE user_id = $1 AND ($2 = FALSE OR read_at IS NULL)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, userID, unreadOnly, page.Limit, page.Offset)
	return out, mapError("list_notifications", err)
}

func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = COALESCE(read_at, now())
		WHERE id = $1 AND user_id = $2`, id, userID)
	return expectAffected(res, err, "mark_notification_read", "notification", id)
}

func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET read_at = now() WHERE user_id = $1 AND read_at IS NULL`, userID)
	if err != nil {
		return 0, mapError("mark_all_notifications_read", err)
	}
	return res.RowsAffected()
}
