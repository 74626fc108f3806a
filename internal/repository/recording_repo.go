package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/notify"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ErrStageRegression is returned when a progress write would move a session
// backwards through the pipeline stages.
var ErrStageRegression = errors.New("stage transition would regress pipeline order")

// RecordingRepository handles recording session data operations. Mutating
// writes publish change events after the row is persisted, so every event a
// client sees corresponds to committed state.
type RecordingRepository struct {
	db       *gorm.DB
	notifier *notify.Notifier
}

// NewRecordingRepository creates a new RecordingRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//   - notifier: change event publisher; nil disables event emission.
// Returns:
//   - *RecordingRepository: repository instance bound to db.
func NewRecordingRepository(db *gorm.DB, notifier *notify.Notifier) *RecordingRepository {
	return &RecordingRepository{db: db, notifier: notifier}
}

// Create inserts a new recording session, assigning an ID when absent.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - session: session record to persist.
// Returns:
//   - error: non-nil if the insert fails.
func (r *RecordingRepository) Create(ctx context.Context, session *domain.RecordingSession) error {
	if session.ID == "" {
		session.ID = uuid.New().String()
	}
	return r.db.WithContext(ctx).Create(session).Error
}

// Update saves an existing recording session record.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - session: session record with updated fields.
// Returns:
//   - error: non-nil if the update fails.
func (r *RecordingRepository) Update(ctx context.Context, session *domain.RecordingSession) error {
	return r.db.WithContext(ctx).Save(session).Error
}

// GetByID retrieves a recording session by its ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: session ID.
// Returns:
//   - *domain.RecordingSession: session record if found.
//   - error: non-nil if lookup fails.
func (r *RecordingRepository) GetByID(ctx context.Context, id string) (*domain.RecordingSession, error) {
	var session domain.RecordingSession
	if err := r.db.WithContext(ctx).First(&session, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &session, nil
}

// ListByUser retrieves a user's sessions, newest first, with pagination.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - userID: owning user ID.
//   - limit: maximum number of records to return.
//   - offset: number of records to skip.
// Returns:
//   - []domain.RecordingSession: matching session records.
//   - error: non-nil if the query fails.
func (r *RecordingRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]domain.RecordingSession, error) {
	var sessions []domain.RecordingSession
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&sessions).Error; err != nil {
		return nil, err
	}
	return sessions, nil
}

// UpdateStageProgress moves a session to the given stage and progress,
// enforcing the pipeline stage order and monotonic progress. A write that
// would lower progress is clamped to the stored value rather than rejected,
// so retried stages never roll visible progress back.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: session to update.
//   - stage: pipeline stage being entered or continued.
//   - progress: overall progress percentage (0-100).
// Returns:
//   - *domain.RecordingSession: updated session record.
//   - error: non-nil if lookup fails or the stage would regress.
func (r *RecordingRepository) UpdateStageProgress(ctx context.Context, sessionID string, stage domain.ProcessingStage, progress int) (*domain.RecordingSession, error) {
	var session domain.RecordingSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&session, "id = ?", sessionID).Error; err != nil {
			return err
		}
		if session.Terminal() {
			return fmt.Errorf("session %s is terminal (%s)", sessionID, session.Status)
		}
		if !domain.StageAdvances(session.ProcessingStage, stage) {
			return fmt.Errorf("%w: %s -> %s", ErrStageRegression, session.ProcessingStage, stage)
		}
		if progress < session.ProcessingProgress {
			progress = session.ProcessingProgress
		}
		if progress > 100 {
			progress = 100
		}
		session.ProcessingStage = stage
		session.ProcessingProgress = progress
		session.Status = domain.SessionStatusProcessing
		return tx.Model(&session).Updates(map[string]interface{}{
			"processing_stage":    session.ProcessingStage,
			"processing_progress": session.ProcessingProgress,
			"status":              session.Status,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	r.notifier.SessionProgress(ctx, &session)
	return &session, nil
}

// SetTranscriptID records the external transcript reference for a session.
// Persisted as soon as the transcript is accepted upstream so a worker crash
// never orphans the submission.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: session to update.
//   - transcriptID: provider-side transcript identifier.
// Returns:
//   - error: non-nil if the update fails.
func (r *RecordingRepository) SetTranscriptID(ctx context.Context, sessionID, transcriptID string) error {
	return r.db.WithContext(ctx).
		Model(&domain.RecordingSession{}).
		Where("id = ?", sessionID).
		Update("transcript_id", transcriptID).Error
}

// Complete marks a session as fully processed and stores both analysis
// results.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: session to complete.
//   - analysisResult: serialized classroom analysis result.
//   - coachingResult: serialized coaching recommendations.
// Returns:
//   - *domain.RecordingSession: updated session record.
//   - error: non-nil if lookup or the update fails.
func (r *RecordingRepository) Complete(ctx context.Context, sessionID, analysisResult, coachingResult string) (*domain.RecordingSession, error) {
	var session domain.RecordingSession
	now := time.Now()
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&session, "id = ?", sessionID).Error; err != nil {
			return err
		}
		session.Status = domain.SessionStatusCompleted
		session.ProcessingStage = domain.StageCompleted
		session.ProcessingProgress = 100
		session.AnalysisResult = analysisResult
		session.CoachingResult = coachingResult
		session.CompletedAt = &now
		return tx.Model(&session).Updates(map[string]interface{}{
			"status":              session.Status,
			"processing_stage":    session.ProcessingStage,
			"processing_progress": session.ProcessingProgress,
			"analysis_result":     session.AnalysisResult,
			"coaching_result":     session.CoachingResult,
			"completed_at":        session.CompletedAt,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	r.notifier.SessionProgress(ctx, &session)
	return &session, nil
}

// Fail marks a session as failed with a human-readable error detail. The
// processing stage is left where the failure happened so clients can show
// which step broke.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: session to fail.
//   - errDetail: description of the failure.
// Returns:
//   - *domain.RecordingSession: updated session record.
//   - error: non-nil if lookup or the update fails.
func (r *RecordingRepository) Fail(ctx context.Context, sessionID, errDetail string) (*domain.RecordingSession, error) {
	var session domain.RecordingSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&session, "id = ?", sessionID).Error; err != nil {
			return err
		}
		if session.Status == domain.SessionStatusCompleted {
			return fmt.Errorf("session %s already completed", sessionID)
		}
		session.Status = domain.SessionStatusFailed
		session.ErrorDetail = errDetail
		return tx.Model(&session).Updates(map[string]interface{}{
			"status":       session.Status,
			"error_detail": session.ErrorDetail,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	r.notifier.SessionProgress(ctx, &session)
	return &session, nil
}

// ResetForRetry returns a failed session to the pending state so processing
// can be enqueued again. Progress restarts from zero; the transcript
// reference is kept so a retry can reuse work that already succeeded.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: session to reset.
// Returns:
//   - *domain.RecordingSession: updated session record.
//   - error: non-nil if lookup fails or the session is not failed.
func (r *RecordingRepository) ResetForRetry(ctx context.Context, sessionID string) (*domain.RecordingSession, error) {
	var session domain.RecordingSession
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&session, "id = ?", sessionID).Error; err != nil {
			return err
		}
		if session.Status != domain.SessionStatusFailed {
			return fmt.Errorf("session %s is not failed (%s)", sessionID, session.Status)
		}
		session.Status = domain.SessionStatusPending
		session.ProcessingStage = domain.StagePending
		session.ProcessingProgress = 0
		session.ErrorDetail = ""
		return tx.Model(&session).Updates(map[string]interface{}{
			"status":              session.Status,
			"processing_stage":    session.ProcessingStage,
			"processing_progress": session.ProcessingProgress,
			"error_detail":        "",
		}).Error
	})
	if err != nil {
		return nil, err
	}
	r.notifier.SessionProgress(ctx, &session)
	return &session, nil
}

// Delete removes a recording session by ID.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - id: session ID to delete.
// Returns:
//   - error: non-nil if the delete fails.
func (r *RecordingRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Delete(&domain.RecordingSession{}, "id = ?", id).Error
}
