package logger

// Fields is an alias for map[string]interface{} for convenience.
type Fields map[string]interface{}

// ============================================
// Standard Tracing Fields (Context level)
// These fields are propagated through the call chain
// ============================================

const (
	// FieldRequestID is the HTTP request ID (UUID)
	FieldRequestID = "request_id"

	// FieldSessionID is the recording session ID
	FieldSessionID = "session_id"

	// FieldJobID is the queue item / AI job ID
	FieldJobID = "job_id"

	// FieldJobType is the AI job type (transcription, ciq_analysis, coaching)
	FieldJobType = "job_type"

	// FieldStage is the pipeline stage the work belongs to
	FieldStage = "stage"

	// FieldChannel is the change-notification channel name
	FieldChannel = "channel"

	// FieldComponent is the component/module name
	FieldComponent = "component"

	// FieldUserID is the user ID
	FieldUserID = "user_id"
)

// ============================================
// Standard Metric Fields (Entry level)
// These fields are used for aggregation and alerting
// ============================================

const (
	// FieldDurationMs is the execution duration in milliseconds
	FieldDurationMs = "duration_ms"

	// FieldCount is a generic count field
	FieldCount = "count"

	// FieldSize is the data size in bytes
	FieldSize = "size"

	// FieldStatus is the operation status
	FieldStatus = "status"

	// FieldProgress is the 0-100 processing progress
	FieldProgress = "progress"

	// FieldAttempt is the retry attempt number
	FieldAttempt = "attempt"
)
