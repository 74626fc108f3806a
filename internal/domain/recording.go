package domain

import "time"

// SessionStatus represents the coarse lifecycle of a recording session.
// Values include SessionStatusPending, SessionStatusProcessing,
// SessionStatusCompleted, and SessionStatusFailed.
type SessionStatus string

const (
	SessionStatusPending    SessionStatus = "pending"
	SessionStatusProcessing SessionStatus = "processing"
	SessionStatusCompleted  SessionStatus = "completed"
	SessionStatusFailed     SessionStatus = "failed"
)

// ProcessingStage represents the fine-grained pipeline position of a session.
type ProcessingStage string

const (
	StagePending      ProcessingStage = "pending"
	StageUploading    ProcessingStage = "uploading"
	StageTranscribing ProcessingStage = "transcribing"
	StageAnalyzing    ProcessingStage = "analyzing"
	StageCoaching     ProcessingStage = "coaching"
	StageCompleted    ProcessingStage = "completed"
	StageFailed       ProcessingStage = "failed"
)

// stageRank orders the non-terminal stages; failed is reachable from any of them.
var stageRank = map[ProcessingStage]int{
	StagePending:      0,
	StageUploading:    1,
	StageTranscribing: 2,
	StageAnalyzing:    3,
	StageCoaching:     4,
	StageCompleted:    5,
}

// StageAdvances reports whether moving from to next preserves the fixed
// stage order. A transition to StageFailed is always allowed from a
// non-terminal stage. Coaching back to analyzing is also allowed: the
// analysis worker redoes both sub-calls on a retried queue item, so a
// session left at coaching by a transient failure re-enters at analyzing.
func StageAdvances(from, to ProcessingStage) bool {
	if to == StageFailed {
		return from != StageCompleted
	}
	if from == StageCoaching && to == StageAnalyzing {
		return true
	}
	fr, ok := stageRank[from]
	if !ok {
		// from == failed: terminal, nothing advances out of it
		return false
	}
	tr, ok := stageRank[to]
	if !ok {
		return false
	}
	return tr >= fr
}

// RecordingSession represents a classroom audio recording and its processing
// lifecycle. Created on upload; mutated only by workers and the enqueue API.
type RecordingSession struct {
	ID                 string          `gorm:"type:text;primaryKey" json:"id"`
	UserID             string          `gorm:"type:text;not null;index" json:"user_id"`
	DisplayName        string          `gorm:"type:text" json:"display_name"`
	AudioURL           string          `gorm:"type:text" json:"audio_url"`
	DurationSeconds    int             `gorm:"default:0" json:"duration_seconds"`
	Status             SessionStatus   `gorm:"default:pending;index" json:"status"`
	ProcessingStage    ProcessingStage `gorm:"default:pending" json:"processing_stage"`
	ProcessingProgress int             `gorm:"default:0" json:"processing_progress"`
	TranscriptID       string          `gorm:"type:text" json:"transcript_id,omitempty"`
	AnalysisResult     string          `gorm:"type:text" json:"analysis_result,omitempty"`
	CoachingResult     string          `gorm:"type:text" json:"coaching_result,omitempty"`
	ErrorDetail        string          `gorm:"type:text" json:"error_detail,omitempty"`
	CompletedAt        *time.Time      `json:"completed_at,omitempty"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// TableName returns the database table name for RecordingSession.
// Parameters: none.
// Returns:
//   - string: table name for GORM mapping.
func (RecordingSession) TableName() string {
	return "recording_sessions"
}

// Terminal reports whether the session has reached a terminal status.
func (s *RecordingSession) Terminal() bool {
	return s.Status == SessionStatusCompleted || s.Status == SessionStatusFailed
}
