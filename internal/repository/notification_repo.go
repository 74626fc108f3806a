package repository

import (
	"context"
	"errors"

	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/notify"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NotificationRepository stores persistent user notifications.
type NotificationRepository struct {
	db       *gorm.DB
	notifier *notify.Notifier
}

// NewNotificationRepository creates a new NotificationRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//   - notifier: change event publisher; nil disables event emission.
// Returns:
//   - *NotificationRepository: repository instance bound to db.
func NewNotificationRepository(db *gorm.DB, notifier *notify.Notifier) *NotificationRepository {
	return &NotificationRepository{db: db, notifier: notifier}
}

// Create persists a notification and publishes a created event. When the
// notification is tied to a session, an existing notification of the same
// type for that session is returned instead of inserting a duplicate, so a
// session produces at most one completion and one failure notice.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - note: notification to persist; ID is filled in when absent.
// Returns:
//   - *domain.Notification: the stored notification (new or pre-existing).
//   - error: non-nil if the insert fails.
func (r *NotificationRepository) Create(ctx context.Context, note *domain.Notification) (*domain.Notification, error) {
	if note.SessionID != "" {
		var existing domain.Notification
		err := r.db.WithContext(ctx).
			First(&existing, "session_id = ? AND type = ?", note.SessionID, note.Type).Error
		if err == nil {
			return &existing, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if note.ID == "" {
		note.ID = uuid.New().String()
	}
	if err := r.db.WithContext(ctx).Create(note).Error; err != nil {
		return nil, err
	}
	r.notifier.NotificationCreated(ctx, note)
	return note, nil
}

// ListByUser retrieves a user's notifications, newest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owning user ID.
//   - unreadOnly: when true, only unread notifications are returned.
//   - limit: maximum number of records to return.
//   - offset: number of records to skip.
// Returns:
//   - []domain.Notification: matching notification records.
//   - error: non-nil if the query fails.
func (r *NotificationRepository) ListByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]domain.Notification, error) {
	var notes []domain.Notification
	query := r.db.WithContext(ctx).Where("user_id = ?", userID)
	if unreadOnly {
		query = query.Where("is_read = ?", false)
	}
	if err := query.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&notes).Error; err != nil {
		return nil, err
	}
	return notes, nil
}

// CountUnread counts a user's unread notifications.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owning user ID.
// Returns:
//   - int64: number of unread notifications.
//   - error: non-nil if the query fails.
func (r *NotificationRepository) CountUnread(ctx context.Context, userID string) (int64, error) {
	var count int64
	if err := r.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}

// MarkRead flags a notification as read. Scoped to the owning user so one
// user cannot acknowledge another's notifications.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: notification ID.
//   - userID: owning user ID.
// Returns:
//   - error: gorm.ErrRecordNotFound if no matching row; other store errors.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, userID string) error {
	res := r.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("id = ? AND user_id = ?", id, userID).
		Update("is_read", true)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// MarkAllRead flags all of a user's notifications as read.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owning user ID.
// Returns:
//   - int64: number of notifications updated.
//   - error: non-nil if the update fails.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	return res.RowsAffected, res.Error
}
