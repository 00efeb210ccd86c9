package db

import (
	"context"

	"jobboard/internal/types"
)

// NotificationRepository provides data access for the notifications table.
type NotificationRepository struct {
	db DBTX
}

// NewNotificationRepository creates a NotificationRepository backed by the
// given connection (pool or transaction).
func NewNotificationRepository(db DBTX) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// DispatchNotification inserts n keyed by its job id. It reports false when
// the row already existed, which happens when a job is redelivered after the
// insert committed.
func (r *NotificationRepository) DispatchNotification(ctx context.Context, n types.Notification) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO notifications (id, user_id, title, message, type, link, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (id) DO NOTHING`,
		n.ID,
		n.UserID,
		n.Title,
		n.Message,
		n.Type,
		n.Link,
		n.CreatedAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert notification", err)
	}
	return tag.RowsAffected() == 1, nil
}
