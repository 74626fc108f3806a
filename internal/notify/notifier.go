package notify

import (
	"context"
	"time"

	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/logger"
)

// Notifier turns state-store mutations into change events on the named
// channels. Publish failures are logged and swallowed: events are refresh
// hints, never the source of truth.
type Notifier struct {
	pub Publisher
	log *logger.Logger
	now func() time.Time
}

// NewNotifier creates a notifier over the given publisher.
// Parameters:
//   - pub: destination for change events; nil produces a no-op notifier.
//   - log: logger; nil uses the default.
// Returns:
//   - *Notifier: initialized notifier.
func NewNotifier(pub Publisher, log *logger.Logger) *Notifier {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Notifier{pub: pub, log: log, now: time.Now}
}

func (n *Notifier) publish(ctx context.Context, event domain.ChangeEvent) {
	if n == nil || n.pub == nil {
		return
	}
	event.ServerTimestamp = n.now().UnixMilli()
	if err := n.pub.Publish(ctx, event); err != nil {
		n.log.WithFields(logger.Fields{
			logger.FieldChannel: event.Channel,
			"event_type":        event.Type,
		}).WithError(err).Warn("Failed to publish change event")
	}
}

// SessionProgress publishes a progress event for a stage-progress write.
func (n *Notifier) SessionProgress(ctx context.Context, s *domain.RecordingSession) {
	n.publish(ctx, domain.ChangeEvent{
		Channel:   domain.ChannelProgress,
		Type:      domain.EventProgressUpdate,
		UserID:    s.UserID,
		SessionID: s.ID,
		Payload: map[string]interface{}{
			"status":   string(s.Status),
			"stage":    string(s.ProcessingStage),
			"progress": s.ProcessingProgress,
		},
	})
}

// QueueUpdate publishes a queue-status event for a queue item transition.
func (n *Notifier) QueueUpdate(ctx context.Context, item *domain.QueueItem) {
	payload := map[string]interface{}{
		"stage":      string(item.Stage),
		"status":     string(item.Status),
		"retryCount": item.RetryCount,
	}
	if item.EstimatedCompletion != nil {
		payload["estimatedCompletion"] = item.EstimatedCompletion.UnixMilli()
	}
	n.publish(ctx, domain.ChangeEvent{
		Channel:   domain.ChannelQueue,
		Type:      domain.EventQueueUpdate,
		UserID:    item.UserID,
		SessionID: item.SessionID,
		Payload:   payload,
	})
}

// NotificationCreated publishes an event for a freshly persisted notification.
func (n *Notifier) NotificationCreated(ctx context.Context, note *domain.Notification) {
	n.publish(ctx, domain.ChangeEvent{
		Channel:   domain.ChannelNotification,
		Type:      domain.EventNotificationCreated,
		UserID:    note.UserID,
		SessionID: note.SessionID,
		Payload: map[string]interface{}{
			"notificationId": note.ID,
			"type":           string(note.Type),
			"title":          note.Title,
		},
	})
}

// JobUpdate publishes an event for an AI job write.
func (n *Notifier) JobUpdate(ctx context.Context, job *domain.AIJob) {
	sessionID := ""
	if job.SessionID != nil {
		sessionID = *job.SessionID
	}
	n.publish(ctx, domain.ChangeEvent{
		Channel:   domain.ChannelJob,
		Type:      domain.EventJobUpdate,
		UserID:    job.UserID,
		SessionID: sessionID,
		Payload: map[string]interface{}{
			"jobId":    job.ID,
			"jobType":  string(job.JobType),
			"status":   string(job.Status),
			"progress": job.Progress,
		},
	})
}
