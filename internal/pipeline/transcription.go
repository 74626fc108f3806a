package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/logger"
	"github.com/dkessler/classpulse/internal/queue"
	"github.com/dkessler/classpulse/internal/repository"
	"github.com/dkessler/classpulse/internal/storage"
	"github.com/dkessler/classpulse/internal/transcriber"
)

// Overall session progress milestones. Transcription owns the first half of
// the bar, analysis the second.
const (
	progressTranscribeStart  = 10
	progressTranscribeSubmit = 25
	progressTranscribeDone   = 50
	progressAnalyzeStart     = 60
	progressScoringDone      = 75
	progressCoachingStart    = 80
)

// AnalysisEnqueuer queues the analysis stage after transcription completes.
// Satisfied by *queue.Service.
type AnalysisEnqueuer interface {
	EnqueueAnalysis(ctx context.Context, job queue.AnalysisJob, priority domain.Priority) (*domain.QueueItem, bool, error)
}

// TranscriptionWorker executes transcription queue items: it submits audio
// to the speech-to-text provider, persists the transcript reference before
// polling, and chains the analysis stage on success.
type TranscriptionWorker struct {
	recordings *repository.RecordingRepository
	jobs       *repository.AIJobRepository
	queueRepo  *repository.QueueRepository
	stt        transcriber.Service
	store      storage.ObjectStorage
	next       AnalysisEnqueuer
	log        *logger.Logger
}

// NewTranscriptionWorker creates a transcription stage worker.
// Parameters:
//   - recordings: session store.
//   - jobs: AI job slot store.
//   - queueRepo: queue store, used for completion estimates.
//   - stt: speech-to-text provider client.
//   - store: audio object storage, read when the provider cannot reach the
//     session's audio URL directly.
//   - next: analysis stage enqueuer for pipeline chaining.
//   - log: logger; nil uses the default.
// Returns:
//   - *TranscriptionWorker: initialized worker.
func NewTranscriptionWorker(recordings *repository.RecordingRepository, jobs *repository.AIJobRepository, queueRepo *repository.QueueRepository, stt transcriber.Service, store storage.ObjectStorage, next AnalysisEnqueuer, log *logger.Logger) *TranscriptionWorker {
	if log == nil {
		log = logger.GetDefault()
	}
	return &TranscriptionWorker{
		recordings: recordings,
		jobs:       jobs,
		queueRepo:  queueRepo,
		stt:        stt,
		store:      store,
		next:       next,
		log:        log,
	}
}

// Handle runs one transcription item end to end.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - item: claimed transcription queue item.
// Returns:
//   - error: nil on success; Permanent-wrapped when the provider rejected
//     the audio; plain error for retryable failures.
func (w *TranscriptionWorker) Handle(ctx context.Context, item *domain.QueueItem) error {
	job, err := queue.DecodeTranscription(item)
	if err != nil {
		return queue.Permanent(err)
	}
	entry := w.log.WithFields(logger.Fields{
		logger.FieldSessionID: job.SessionID,
		logger.FieldJobType:   string(domain.JobTypeTranscription),
	})

	session, err := w.recordings.GetByID(ctx, job.SessionID)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", job.SessionID, err)
	}

	if _, err := w.recordings.UpdateStageProgress(ctx, job.SessionID, domain.StageTranscribing, progressTranscribeStart); err != nil {
		return err
	}
	if _, err := w.jobs.Begin(ctx, job.SessionID, job.UserID, domain.JobTypeTranscription); err != nil {
		return err
	}
	w.setEstimate(ctx, item, session.DurationSeconds)

	// A retried item reuses the transcript submitted by an earlier
	// attempt; the reference was persisted before polling started
	transcriptID := session.TranscriptID
	if transcriptID == "" {
		audioURL, err := w.resolveAudioURL(ctx, job)
		if err != nil {
			return w.failJob(ctx, job, err)
		}
		submitted, err := w.stt.Submit(ctx, audioURL)
		if err != nil {
			return w.failJob(ctx, job, fmt.Errorf("transcript submission failed: %w", err))
		}
		transcriptID = submitted.ID
		if err := w.recordings.SetTranscriptID(ctx, job.SessionID, transcriptID); err != nil {
			return err
		}
		entry.WithField("transcript_id", transcriptID).Info("Submitted transcript")
	} else {
		entry.WithField("transcript_id", transcriptID).Info("Reusing transcript from earlier attempt")
	}

	if _, err := w.recordings.UpdateStageProgress(ctx, job.SessionID, domain.StageTranscribing, progressTranscribeSubmit); err != nil {
		return err
	}
	if err := w.jobs.SetProgress(ctx, job.SessionID, domain.JobTypeTranscription, 50, transcriptID); err != nil {
		return err
	}

	transcript, err := w.stt.Await(ctx, transcriptID, nil)
	if err != nil {
		return w.failJob(ctx, job, fmt.Errorf("transcript polling failed: %w", err))
	}
	if transcript.Status == transcriber.StatusError {
		// The provider will never produce a result for this audio
		return w.failJob(ctx, job, queue.Permanent(fmt.Errorf("transcription rejected: %s", transcript.Error)))
	}

	if _, err := w.jobs.Complete(ctx, job.SessionID, domain.JobTypeTranscription, transcript.Text); err != nil {
		return err
	}
	if _, err := w.recordings.UpdateStageProgress(ctx, job.SessionID, domain.StageTranscribing, progressTranscribeDone); err != nil {
		return err
	}

	if _, _, err := w.next.EnqueueAnalysis(ctx, queue.AnalysisJob{
		SessionID:    job.SessionID,
		UserID:       job.UserID,
		TranscriptID: transcriptID,
	}, item.Priority); err != nil {
		return fmt.Errorf("failed to chain analysis stage: %w", err)
	}
	entry.Info("Transcription completed, analysis queued")
	return nil
}

// resolveAudioURL returns a URL the provider can fetch the audio from. A
// relative AudioURL means the audio sits in storage behind this service, so
// the file is streamed to the provider's upload endpoint first.
func (w *TranscriptionWorker) resolveAudioURL(ctx context.Context, job *queue.TranscriptionJob) (string, error) {
	if strings.HasPrefix(job.AudioURL, "http://") || strings.HasPrefix(job.AudioURL, "https://") {
		return job.AudioURL, nil
	}
	if job.AudioKey == "" {
		return "", queue.Permanent(fmt.Errorf("audio url %q is not reachable and no storage key was recorded", job.AudioURL))
	}
	body, err := w.store.Download(ctx, job.AudioKey)
	if err != nil {
		return "", fmt.Errorf("failed to read audio %s from storage: %w", job.AudioKey, err)
	}
	defer body.Close()

	uploadURL, err := w.stt.Upload(ctx, body)
	if err != nil {
		return "", fmt.Errorf("audio upload failed: %w", err)
	}
	w.log.WithFields(logger.Fields{
		logger.FieldSessionID: job.SessionID,
	}).Info("Staged local audio with the transcription provider")
	return uploadURL, nil
}

// failJob records the failure on the AI job slot and passes the error back
// to the queue for retry classification.
func (w *TranscriptionWorker) failJob(ctx context.Context, job *queue.TranscriptionJob, err error) error {
	if ferr := w.jobs.Fail(ctx, job.SessionID, domain.JobTypeTranscription, err.Error()); ferr != nil {
		w.log.WithError(ferr).WithFields(logger.Fields{
			logger.FieldSessionID: job.SessionID,
		}).Warn("Failed to record job failure")
	}
	return err
}

// setEstimate forecasts completion from the recording length. Transcription
// providers typically run well under real time; half the audio duration with
// a floor keeps the estimate useful for short clips.
func (w *TranscriptionWorker) setEstimate(ctx context.Context, item *domain.QueueItem, durationSeconds int) {
	estimate := time.Duration(durationSeconds/2) * time.Second
	if estimate < 30*time.Second {
		estimate = 30 * time.Second
	}
	eta := time.Now().Add(estimate)
	if err := w.queueRepo.SetEstimatedCompletion(ctx, item.ID, eta); err != nil {
		w.log.WithError(err).Debug("Failed to store completion estimate")
	}
}
