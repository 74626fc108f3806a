package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/notify"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrNoJob is returned by Claim when no runnable item exists for the
	// requested stage.
	ErrNoJob = errors.New("no runnable queue item")
)

// StageCounts summarizes queue depth for one pipeline stage.
type StageCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// QueueRepository stores durable queue items. Enqueue is idempotent per job
// key; claiming uses a guarded update so concurrent workers never run the
// same item twice.
type QueueRepository struct {
	db       *gorm.DB
	notifier *notify.Notifier
}

// NewQueueRepository creates a new QueueRepository.
// Parameters:
//   - db: GORM database handle used for queries.
//   - notifier: change event publisher; nil disables event emission.
// Returns:
//   - *QueueRepository: repository instance bound to db.
func NewQueueRepository(db *gorm.DB, notifier *notify.Notifier) *QueueRepository {
	return &QueueRepository{db: db, notifier: notifier}
}

// Enqueue inserts a queue item unless a live item already holds the same job
// key, in which case the existing item is returned unchanged. The unique
// index on job_key enforces this even when two callers insert concurrently;
// the loser of that race recovers the winner's row.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - item: queue item to persist; ID, JobKey and PriorityRank are filled in.
// Returns:
//   - *domain.QueueItem: the stored item (new or pre-existing).
//   - bool: true if a new item was created.
//   - error: non-nil if the insert fails.
func (r *QueueRepository) Enqueue(ctx context.Context, item *domain.QueueItem) (*domain.QueueItem, bool, error) {
	if item.ID == "" {
		item.ID = uuid.New().String()
	}
	item.JobKey = domain.JobKey(item.Stage, item.SessionID)
	if item.Priority == "" {
		item.Priority = domain.PriorityNormal
	}
	item.PriorityRank = item.Priority.Rank()
	item.Status = domain.QueueStatusQueued

	var existing domain.QueueItem
	err := r.db.WithContext(ctx).
		Where("job_key = ?", item.JobKey).
		First(&existing).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	if err := r.db.WithContext(ctx).Create(item).Error; err != nil {
		// A concurrent Enqueue may have won the unique index; hand back
		// its row instead of surfacing the violation.
		if ferr := r.db.WithContext(ctx).
			Where("job_key = ?", item.JobKey).
			First(&existing).Error; ferr == nil {
			return &existing, false, nil
		}
		return nil, false, err
	}
	r.notifier.QueueUpdate(ctx, item)
	return item, true, nil
}

// Claim leases the next runnable item for a stage: highest priority first,
// FIFO within a tier, skipping items whose not_before is still in the
// future. The guarded update makes the lease race-safe across workers.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - stage: pipeline stage to claim for.
//   - owner: worker identity recorded on the lease.
// Returns:
//   - *domain.QueueItem: the leased item.
//   - error: ErrNoJob when nothing is runnable; other errors from the store.
func (r *QueueRepository) Claim(ctx context.Context, stage domain.Stage, owner string) (*domain.QueueItem, error) {
	now := time.Now()
	for attempt := 0; attempt < 3; attempt++ {
		var candidate domain.QueueItem
		err := r.db.WithContext(ctx).
			Where("stage = ? AND status = ?", stage, domain.QueueStatusQueued).
			Where("not_before IS NULL OR not_before <= ?", now).
			Order("priority_rank ASC, created_at ASC").
			First(&candidate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoJob
		}
		if err != nil {
			return nil, err
		}

		res := r.db.WithContext(ctx).
			Model(&domain.QueueItem{}).
			Where("id = ? AND status = ?", candidate.ID, domain.QueueStatusQueued).
			Updates(map[string]interface{}{
				"status":      domain.QueueStatusProcessing,
				"lease_owner": owner,
				"leased_at":   now,
				"started_at":  now,
			})
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// Lost the race to another worker, pick again
			continue
		}
		candidate.Status = domain.QueueStatusProcessing
		candidate.LeaseOwner = owner
		candidate.LeasedAt = &now
		candidate.StartedAt = &now
		r.notifier.QueueUpdate(ctx, &candidate)
		return &candidate, nil
	}
	return nil, ErrNoJob
}

// Complete marks a leased item as successfully finished. The job key is
// suffixed with the item ID so the bare key is free for a fresh enqueue.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - item: the leased item to complete.
// Returns:
//   - error: non-nil if the update fails.
func (r *QueueRepository) Complete(ctx context.Context, item *domain.QueueItem) error {
	now := time.Now()
	err := r.db.WithContext(ctx).
		Model(&domain.QueueItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]interface{}{
			"status":       domain.QueueStatusCompleted,
			"completed_at": now,
			"lease_owner":  "",
			"leased_at":    nil,
			"job_key":      gorm.Expr("job_key || ':' || id"),
		}).Error
	if err != nil {
		return err
	}
	item.Status = domain.QueueStatusCompleted
	item.CompletedAt = &now
	item.JobKey = item.JobKey + ":" + item.ID
	r.notifier.QueueUpdate(ctx, item)
	return nil
}

// Retry returns a failed attempt to the queue with an incremented retry
// count and a not-before time in the future.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - item: the leased item to requeue.
//   - errMsg: error from the failed attempt.
//   - delay: how long to hold the item before it becomes runnable again.
// Returns:
//   - error: non-nil if the update fails.
func (r *QueueRepository) Retry(ctx context.Context, item *domain.QueueItem, errMsg string, delay time.Duration) error {
	notBefore := time.Now().Add(delay)
	err := r.db.WithContext(ctx).
		Model(&domain.QueueItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]interface{}{
			"status":        domain.QueueStatusQueued,
			"retry_count":   gorm.Expr("retry_count + 1"),
			"error_message": errMsg,
			"not_before":    notBefore,
			"lease_owner":   "",
			"leased_at":     nil,
		}).Error
	if err != nil {
		return err
	}
	item.Status = domain.QueueStatusQueued
	item.RetryCount++
	item.ErrorMessage = errMsg
	item.NotBefore = &notBefore
	r.notifier.QueueUpdate(ctx, item)
	return nil
}

// Fail marks an item permanently failed. As with Complete, the job key is
// suffixed with the item ID so later enqueues are not blocked.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - item: the leased item to fail.
//   - errMsg: final error message.
// Returns:
//   - error: non-nil if the update fails.
func (r *QueueRepository) Fail(ctx context.Context, item *domain.QueueItem, errMsg string) error {
	now := time.Now()
	err := r.db.WithContext(ctx).
		Model(&domain.QueueItem{}).
		Where("id = ?", item.ID).
		Updates(map[string]interface{}{
			"status":        domain.QueueStatusFailed,
			"error_message": errMsg,
			"completed_at":  now,
			"lease_owner":   "",
			"leased_at":     nil,
			"job_key":       gorm.Expr("job_key || ':' || id"),
		}).Error
	if err != nil {
		return err
	}
	item.Status = domain.QueueStatusFailed
	item.ErrorMessage = errMsg
	item.CompletedAt = &now
	item.JobKey = item.JobKey + ":" + item.ID
	r.notifier.QueueUpdate(ctx, item)
	return nil
}

// SetEstimatedCompletion records a forecast finish time on an active item.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - itemID: queue item ID.
//   - eta: estimated completion time.
// Returns:
//   - error: non-nil if the update fails.
func (r *QueueRepository) SetEstimatedCompletion(ctx context.Context, itemID string, eta time.Time) error {
	return r.db.WithContext(ctx).
		Model(&domain.QueueItem{}).
		Where("id = ?", itemID).
		Update("estimated_completion", eta).Error
}

// ReapStale requeues items whose lease expired, typically after a worker
// crash. Retry counts are not incremented; the attempt never reported back.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - leaseTimeout: age beyond which a processing lease is considered dead.
// Returns:
//   - int64: number of items returned to the queue.
//   - error: non-nil if the update fails.
func (r *QueueRepository) ReapStale(ctx context.Context, leaseTimeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-leaseTimeout)
	res := r.db.WithContext(ctx).
		Model(&domain.QueueItem{}).
		Where("status = ? AND leased_at < ?", domain.QueueStatusProcessing, cutoff).
		Updates(map[string]interface{}{
			"status":      domain.QueueStatusQueued,
			"lease_owner": "",
			"leased_at":   nil,
		})
	return res.RowsAffected, res.Error
}

// CountsByStage returns queue depth counters for one stage.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - stage: pipeline stage to count.
// Returns:
//   - StageCounts: waiting/active/completed/failed counters.
//   - error: non-nil if a count query fails.
func (r *QueueRepository) CountsByStage(ctx context.Context, stage domain.Stage) (StageCounts, error) {
	var counts StageCounts
	type pair struct {
		status domain.QueueStatus
		dest   *int64
	}
	for _, p := range []pair{
		{domain.QueueStatusQueued, &counts.Waiting},
		{domain.QueueStatusProcessing, &counts.Active},
		{domain.QueueStatusCompleted, &counts.Completed},
		{domain.QueueStatusFailed, &counts.Failed},
	} {
		if err := r.db.WithContext(ctx).
			Model(&domain.QueueItem{}).
			Where("stage = ? AND status = ?", stage, p.status).
			Count(p.dest).Error; err != nil {
			return counts, err
		}
	}
	return counts, nil
}

// GetBySession retrieves all queue items for a session, oldest first.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - sessionID: owning session ID.
// Returns:
//   - []domain.QueueItem: queue items for the session.
//   - error: non-nil if the query fails.
func (r *QueueRepository) GetBySession(ctx context.Context, sessionID string) ([]domain.QueueItem, error) {
	var items []domain.QueueItem
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// CleanupTerminal deletes terminal items older than the retention window.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - maxAge: retention window for completed/failed/cancelled items.
// Returns:
//   - int64: number of rows deleted.
//   - error: non-nil if the delete fails.
func (r *QueueRepository) CleanupTerminal(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	res := r.db.WithContext(ctx).
		Where("status IN ? AND updated_at < ?", []domain.QueueStatus{
			domain.QueueStatusCompleted, domain.QueueStatusFailed, domain.QueueStatusCancelled,
		}, cutoff).
		Delete(&domain.QueueItem{})
	return res.RowsAffected, res.Error
}
