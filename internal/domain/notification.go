package domain

import "time"

// NotificationType categorizes user notifications.
type NotificationType string

const (
	NotificationProcessingComplete NotificationType = "processing_complete"
	NotificationProcessingFailed   NotificationType = "processing_failed"
)

// Notification is a persistent, user-owned record created by workers on
// terminal states. Surfaced through the state store rather than the push
// channel so it survives the user being offline.
type Notification struct {
	ID        string           `gorm:"type:text;primaryKey" json:"id"`
	UserID    string           `gorm:"type:text;not null;index" json:"user_id"`
	SessionID string           `gorm:"type:text;index" json:"session_id,omitempty"`
	Type      NotificationType `gorm:"type:text;not null" json:"type"`
	Title     string           `gorm:"type:text" json:"title"`
	Message   string           `gorm:"type:text" json:"message"`
	ActionURL string           `gorm:"type:text" json:"action_url,omitempty"`
	IsRead    bool             `gorm:"default:false;index" json:"is_read"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// TableName returns the database table name for Notification.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (Notification) TableName() string {
	return "notifications"
}
