package pipeline

import (
	"context"
	"fmt"

	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/logger"
	"github.com/dkessler/classpulse/internal/queue"
	"github.com/dkessler/classpulse/internal/repository"
)

// NewFailureHook builds the queue exhaustion hook shared by both pipeline
// stages. It runs once per permanently failed item: the session is marked
// failed and the user gets a single failure notification. Transient retries
// never reach this path.
// Parameters:
//   - recordings: session store.
//   - notifications: user notification store.
//   - log: logger; nil uses the default.
// Returns:
//   - queue.ExhaustedFunc: hook to register with the queue service.
func NewFailureHook(recordings *repository.RecordingRepository, notifications *repository.NotificationRepository, log *logger.Logger) queue.ExhaustedFunc {
	if log == nil {
		log = logger.GetDefault()
	}
	return func(ctx context.Context, item *domain.QueueItem, cause error) {
		entry := log.WithFields(logger.Fields{
			logger.FieldSessionID: item.SessionID,
			logger.FieldStage:     string(item.Stage),
		})

		session, err := recordings.Fail(ctx, item.SessionID, cause.Error())
		if err != nil {
			entry.WithError(err).Error("Failed to mark session failed")
			return
		}

		displayName := session.DisplayName
		if displayName == "" {
			displayName = session.ID
		}
		if _, err := notifications.Create(ctx, &domain.Notification{
			UserID:    session.UserID,
			SessionID: session.ID,
			Type:      domain.NotificationProcessingFailed,
			Title:     "Recording processing failed",
			Message:   fmt.Sprintf("Processing for %q stopped during %s. You can retry from the recording page.", displayName, item.Stage),
			ActionURL: "/recordings/" + session.ID,
		}); err != nil {
			entry.WithError(err).Error("Failed to create failure notification")
			return
		}
		entry.Info("Session failed, user notified")
	}
}
