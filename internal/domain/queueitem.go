package domain

import (
	"fmt"
	"time"
)

// Stage is one step of the fixed transcription -> analysis pipeline as seen
// by the job store. The coaching sub-call runs inside the analysis stage.
type Stage string

const (
	QueueStageTranscription Stage = "transcription"
	QueueStageAnalysis      Stage = "analysis"
)

// Priority orders queued work. High before normal before low, FIFO within a
// tier.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// Rank maps a priority to its scheduling rank (lower runs first). Unknown
// priorities sort behind low.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	default:
		return 4
	}
}

// QueueStatus represents the status of a queue item.
type QueueStatus string

const (
	QueueStatusQueued     QueueStatus = "queued"
	QueueStatusProcessing QueueStatus = "processing"
	QueueStatusCompleted  QueueStatus = "completed"
	QueueStatusFailed     QueueStatus = "failed"
	QueueStatusCancelled  QueueStatus = "cancelled"
)

// Terminal reports whether the status is terminal.
func (s QueueStatus) Terminal() bool {
	return s == QueueStatusCompleted || s == QueueStatusFailed || s == QueueStatusCancelled
}

// JobKey builds the deterministic queue key for a (stage, session) pair.
// Re-enqueueing the same stage for the same session is idempotent because the
// key is unique and is only released, by suffixing the item ID, once the item
// reaches a terminal status.
func JobKey(stage Stage, sessionID string) string {
	return fmt.Sprintf("%s_%s", stage, sessionID)
}

// QueueItem is the durable unit actually scheduled to a worker pool.
type QueueItem struct {
	ID                  string      `gorm:"type:text;primaryKey" json:"id"`
	JobKey              string      `gorm:"type:text;not null;uniqueIndex" json:"job_key"`
	SessionID           string      `gorm:"type:text;not null;index" json:"session_id"`
	UserID              string      `gorm:"type:text;not null;index" json:"user_id"`
	Stage               Stage       `gorm:"type:text;not null;index" json:"stage"`
	Priority            Priority    `gorm:"default:normal" json:"priority"`
	PriorityRank        int         `gorm:"default:2;index" json:"-"`
	Status              QueueStatus `gorm:"default:queued;index" json:"status"`
	Payload             string      `gorm:"type:text" json:"payload"`
	RetryCount          int         `gorm:"default:0" json:"retry_count"`
	MaxRetries          int         `gorm:"default:3" json:"max_retries"`
	NotBefore           *time.Time  `json:"not_before,omitempty"`
	LeaseOwner          string      `gorm:"type:text" json:"lease_owner,omitempty"`
	LeasedAt            *time.Time  `json:"leased_at,omitempty"`
	EstimatedCompletion *time.Time  `json:"estimated_completion,omitempty"`
	ErrorMessage        string      `gorm:"type:text" json:"error_message,omitempty"`
	StartedAt           *time.Time  `json:"started_at,omitempty"`
	CompletedAt         *time.Time  `json:"completed_at,omitempty"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// TableName returns the database table name for QueueItem.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (QueueItem) TableName() string {
	return "processing_queue"
}
