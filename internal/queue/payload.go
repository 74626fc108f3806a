package queue

import (
	"encoding/json"
	"fmt"

	"github.com/dkessler/classpulse/internal/domain"
)

// TranscriptionJob is the payload carried by a transcription queue item.
// AudioKey is the object storage key for the audio; the worker uses it to
// stage audio with the provider when AudioURL is not publicly reachable.
type TranscriptionJob struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	AudioURL  string `json:"audio_url"`
	AudioKey  string `json:"audio_key"`
}

// AnalysisJob is the payload carried by an analysis queue item. TranscriptID
// references the provider-side transcript produced by the transcription
// stage.
type AnalysisJob struct {
	SessionID    string `json:"session_id"`
	UserID       string `json:"user_id"`
	TranscriptID string `json:"transcript_id"`
}

// EncodePayload serializes a job payload for storage on a queue item.
func EncodePayload(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode queue payload: %w", err)
	}
	return string(data), nil
}

// DecodeTranscription parses a transcription payload off a queue item.
// Parameters:
//   - item: queue item holding the payload.
// Returns:
//   - *TranscriptionJob: decoded payload.
//   - error: non-nil when the item is not a transcription item or the
//     payload is malformed.
func DecodeTranscription(item *domain.QueueItem) (*TranscriptionJob, error) {
	if item.Stage != domain.QueueStageTranscription {
		return nil, fmt.Errorf("queue item %s has stage %s, not transcription", item.ID, item.Stage)
	}
	var job TranscriptionJob
	if err := json.Unmarshal([]byte(item.Payload), &job); err != nil {
		return nil, fmt.Errorf("failed to decode transcription payload: %w", err)
	}
	return &job, nil
}

// DecodeAnalysis parses an analysis payload off a queue item.
// Parameters:
//   - item: queue item holding the payload.
// Returns:
//   - *AnalysisJob: decoded payload.
//   - error: non-nil when the item is not an analysis item or the payload is
//     malformed.
func DecodeAnalysis(item *domain.QueueItem) (*AnalysisJob, error) {
	if item.Stage != domain.QueueStageAnalysis {
		return nil, fmt.Errorf("queue item %s has stage %s, not analysis", item.ID, item.Stage)
	}
	var job AnalysisJob
	if err := json.Unmarshal([]byte(item.Payload), &job); err != nil {
		return nil, fmt.Errorf("failed to decode analysis payload: %w", err)
	}
	return &job, nil
}
