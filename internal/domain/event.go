package domain

// Change-notification channels. The set is small and fixed; subscribers
// re-subscribe to all of them after a reconnect.
const (
	ChannelProgress     = "recording_progress_update"
	ChannelQueue        = "queue_status_update"
	ChannelNotification = "user_notification"
	ChannelJob          = "ai_job_update"
)

// AllChannels lists every named channel in subscription order.
var AllChannels = []string{
	ChannelProgress,
	ChannelQueue,
	ChannelNotification,
	ChannelJob,
}

// Event types carried on the channels.
const (
	EventProgressUpdate      = "progress_update"
	EventQueueUpdate         = "queue_update"
	EventNotificationCreated = "notification_created"
	EventJobUpdate           = "job_update"
)

// ChangeEvent is the ephemeral unit published by the change notifier and
// consumed by the realtime fan-out. It is never persisted; a client that
// missed one self-heals by polling the state store.
type ChangeEvent struct {
	Channel         string                 `json:"channel"`
	Type            string                 `json:"type"`
	UserID          string                 `json:"userId"`
	SessionID       string                 `json:"sessionId,omitempty"`
	Payload         map[string]interface{} `json:"payload,omitempty"`
	ServerTimestamp int64                  `json:"serverTimestamp"`
}
