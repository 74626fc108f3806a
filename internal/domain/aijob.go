package domain

import "time"

// JobType identifies which AI capability a job exercises.
type JobType string

const (
	JobTypeTranscription JobType = "transcription"
	JobTypeCIQAnalysis   JobType = "ciq_analysis"
	JobTypeCoaching      JobType = "coaching"
)

// JobStatus represents the status of an AI job.
// Values include JobStatusPending, JobStatusProcessing, JobStatusCompleted,
// JobStatusFailed, and JobStatusCancelled.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// AIJob represents one logical slot of AI work for a single stage of a single
// recording session. A retried stage reuses the same row, keyed by
// (session_id, job_type), so history stays bounded and queryable.
type AIJob struct {
	ID          string     `gorm:"type:text;primaryKey" json:"id"`
	SessionID   *string    `gorm:"type:text;index:idx_ai_jobs_session_type,unique" json:"session_id,omitempty"`
	UserID      string     `gorm:"type:text;not null;index" json:"user_id"`
	JobType     JobType    `gorm:"type:text;not null;index:idx_ai_jobs_session_type,unique" json:"job_type"`
	Status      JobStatus  `gorm:"default:pending" json:"status"`
	Progress    int        `gorm:"default:0" json:"progress"`
	ExternalID  string     `gorm:"type:text" json:"external_id,omitempty"`
	Result      string     `gorm:"type:text" json:"result,omitempty"`
	ErrorDetail string     `gorm:"type:text" json:"error_detail,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TableName returns the database table name for AIJob.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (AIJob) TableName() string {
	return "ai_jobs"
}
