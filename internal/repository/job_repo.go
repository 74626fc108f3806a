package repository

import (
	"context"
	"time"

	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/notify"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AIJobRepository handles AI job records. Each (session, job type) pair owns
// exactly one row; retries reset and reuse the slot.
type AIJobRepository struct {
	db       *gorm.DB
	notifier *notify.Notifier
}

// NewAIJobRepository creates a new AIJobRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//   - notifier: change event publisher; nil disables event emission.
// Returns:
//   - *AIJobRepository: repository instance bound to db.
func NewAIJobRepository(db *gorm.DB, notifier *notify.Notifier) *AIJobRepository {
	return &AIJobRepository{db: db, notifier: notifier}
}

// Begin claims or resets the job slot for a session and job type, marking it
// processing with a fresh start time.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: owning session ID.
//   - userID: owning user ID.
//   - jobType: AI capability this slot tracks.
// Returns:
//   - *domain.AIJob: the active job row.
//   - error: non-nil if the upsert fails.
func (r *AIJobRepository) Begin(ctx context.Context, sessionID, userID string, jobType domain.JobType) (*domain.AIJob, error) {
	now := time.Now()
	job := &domain.AIJob{
		ID:        uuid.New().String(),
		SessionID: &sessionID,
		UserID:    userID,
		JobType:   jobType,
		Status:    domain.JobStatusProcessing,
		Progress:  0,
		StartedAt: &now,
	}
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}, {Name: "job_type"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"status":       domain.JobStatusProcessing,
			"progress":     0,
			"external_id":  "",
			"result":       "",
			"error_detail": "",
			"started_at":   now,
			"completed_at": nil,
		}),
	}).Create(job).Error
	if err != nil {
		return nil, err
	}
	stored, err := r.get(ctx, sessionID, jobType)
	if err != nil {
		return nil, err
	}
	r.notifier.JobUpdate(ctx, stored)
	return stored, nil
}

// SetProgress updates progress (and optionally the provider-side reference)
// on an active job slot.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: owning session ID.
//   - jobType: AI capability this slot tracks.
//   - progress: completion percentage (0-100).
//   - externalID: provider job reference; empty leaves the stored value.
// Returns:
//   - error: non-nil if the update fails.
func (r *AIJobRepository) SetProgress(ctx context.Context, sessionID string, jobType domain.JobType, progress int, externalID string) error {
	updates := map[string]interface{}{"progress": progress}
	if externalID != "" {
		updates["external_id"] = externalID
	}
	err := r.db.WithContext(ctx).
		Model(&domain.AIJob{}).
		Where("session_id = ? AND job_type = ?", sessionID, jobType).
		Updates(updates).Error
	if err != nil {
		return err
	}
	if job, err := r.get(ctx, sessionID, jobType); err == nil {
		r.notifier.JobUpdate(ctx, job)
	}
	return nil
}

// Complete marks the job slot completed and stores its result payload.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: owning session ID.
//   - jobType: AI capability this slot tracks.
//   - result: serialized job output.
// Returns:
//   - *domain.AIJob: updated job row.
//   - error: non-nil if the update fails.
func (r *AIJobRepository) Complete(ctx context.Context, sessionID string, jobType domain.JobType, result string) (*domain.AIJob, error) {
	now := time.Now()
	err := r.db.WithContext(ctx).
		Model(&domain.AIJob{}).
		Where("session_id = ? AND job_type = ?", sessionID, jobType).
		Updates(map[string]interface{}{
			"status":       domain.JobStatusCompleted,
			"progress":     100,
			"result":       result,
			"completed_at": now,
		}).Error
	if err != nil {
		return nil, err
	}
	job, err := r.get(ctx, sessionID, jobType)
	if err != nil {
		return nil, err
	}
	r.notifier.JobUpdate(ctx, job)
	return job, nil
}

// Fail marks the job slot failed with an error detail.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: owning session ID.
//   - jobType: AI capability this slot tracks.
//   - errDetail: description of the failure.
// Returns:
//   - error: non-nil if the update fails.
func (r *AIJobRepository) Fail(ctx context.Context, sessionID string, jobType domain.JobType, errDetail string) error {
	now := time.Now()
	err := r.db.WithContext(ctx).
		Model(&domain.AIJob{}).
		Where("session_id = ? AND job_type = ?", sessionID, jobType).
		Updates(map[string]interface{}{
			"status":       domain.JobStatusFailed,
			"error_detail": errDetail,
			"completed_at": now,
		}).Error
	if err != nil {
		return err
	}
	if job, err := r.get(ctx, sessionID, jobType); err == nil {
		r.notifier.JobUpdate(ctx, job)
	}
	return nil
}

// GetBySession retrieves all job slots for a session.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: owning session ID.
// Returns:
//   - []domain.AIJob: job rows for the session.
//   - error: non-nil if the query fails.
func (r *AIJobRepository) GetBySession(ctx context.Context, sessionID string) ([]domain.AIJob, error) {
	var jobs []domain.AIJob
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

// Get retrieves the job slot for a session and job type.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: owning session ID.
//   - jobType: AI capability this slot tracks.
// Returns:
//   - *domain.AIJob: job row if found.
//   - error: non-nil if lookup fails.
func (r *AIJobRepository) Get(ctx context.Context, sessionID string, jobType domain.JobType) (*domain.AIJob, error) {
	return r.get(ctx, sessionID, jobType)
}

func (r *AIJobRepository) get(ctx context.Context, sessionID string, jobType domain.JobType) (*domain.AIJob, error) {
	var job domain.AIJob
	if err := r.db.WithContext(ctx).
		First(&job, "session_id = ? AND job_type = ?", sessionID, jobType).Error; err != nil {
		return nil, err
	}
	return &job, nil
}
