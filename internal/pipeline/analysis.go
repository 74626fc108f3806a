package pipeline

import (
	"context"
	"fmt"

	"github.com/dkessler/classpulse/internal/analyzer"
	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/logger"
	"github.com/dkessler/classpulse/internal/queue"
	"github.com/dkessler/classpulse/internal/repository"
	"github.com/dkessler/classpulse/internal/transcriber"
)

// AnalysisWorker executes analysis queue items: it verifies the transcript
// is actually complete, runs scoring and coaching as separately persisted AI
// jobs, and completes the session when both succeed. A failure in either
// sub-call fails the whole item; the session never completes with partial
// results.
type AnalysisWorker struct {
	recordings    *repository.RecordingRepository
	jobs          *repository.AIJobRepository
	notifications *repository.NotificationRepository
	stt           transcriber.Service
	llm           analyzer.Service
	log           *logger.Logger
}

// NewAnalysisWorker creates an analysis stage worker.
// Parameters:
//   - recordings: session store.
//   - jobs: AI job slot store.
//   - notifications: user notification store.
//   - stt: speech-to-text provider client, used to fetch transcript text.
//   - llm: analysis model client.
//   - log: logger; nil uses the default.
// Returns:
//   - *AnalysisWorker: initialized worker.
func NewAnalysisWorker(recordings *repository.RecordingRepository, jobs *repository.AIJobRepository, notifications *repository.NotificationRepository, stt transcriber.Service, llm analyzer.Service, log *logger.Logger) *AnalysisWorker {
	if log == nil {
		log = logger.GetDefault()
	}
	return &AnalysisWorker{
		recordings:    recordings,
		jobs:          jobs,
		notifications: notifications,
		stt:           stt,
		llm:           llm,
		log:           log,
	}
}

// Handle runs one analysis item end to end.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - item: claimed analysis queue item.
// Returns:
//   - error: nil on success; Permanent-wrapped when the transcript can never
//     be analyzed; plain error for retryable failures.
func (w *AnalysisWorker) Handle(ctx context.Context, item *domain.QueueItem) error {
	job, err := queue.DecodeAnalysis(item)
	if err != nil {
		return queue.Permanent(err)
	}
	entry := w.log.WithFields(logger.Fields{
		logger.FieldSessionID: job.SessionID,
		logger.FieldStage:     string(domain.QueueStageAnalysis),
	})

	// The transcription stage reported success before this item ran, but
	// verify against the provider rather than trusting the handoff
	transcript, err := w.stt.Get(ctx, job.TranscriptID)
	if err != nil {
		return fmt.Errorf("failed to fetch transcript %s: %w", job.TranscriptID, err)
	}
	switch transcript.Status {
	case transcriber.StatusCompleted:
	case transcriber.StatusError:
		return queue.Permanent(fmt.Errorf("transcript %s is in error state: %s", job.TranscriptID, transcript.Error))
	default:
		return fmt.Errorf("transcript %s not ready (status %s)", job.TranscriptID, transcript.Status)
	}
	if transcript.Text == "" {
		return queue.Permanent(fmt.Errorf("transcript %s completed with empty text", job.TranscriptID))
	}

	if _, err := w.recordings.UpdateStageProgress(ctx, job.SessionID, domain.StageAnalyzing, progressAnalyzeStart); err != nil {
		return err
	}

	if _, err := w.jobs.Begin(ctx, job.SessionID, job.UserID, domain.JobTypeCIQAnalysis); err != nil {
		return err
	}
	analysis, err := w.llm.Score(ctx, transcript.Text)
	if err != nil {
		if ferr := w.jobs.Fail(ctx, job.SessionID, domain.JobTypeCIQAnalysis, err.Error()); ferr != nil {
			entry.WithError(ferr).Warn("Failed to record scoring failure")
		}
		return fmt.Errorf("classroom scoring failed: %w", err)
	}
	if _, err := w.jobs.Complete(ctx, job.SessionID, domain.JobTypeCIQAnalysis, analysis); err != nil {
		return err
	}
	if _, err := w.recordings.UpdateStageProgress(ctx, job.SessionID, domain.StageAnalyzing, progressScoringDone); err != nil {
		return err
	}

	if _, err := w.recordings.UpdateStageProgress(ctx, job.SessionID, domain.StageCoaching, progressCoachingStart); err != nil {
		return err
	}
	if _, err := w.jobs.Begin(ctx, job.SessionID, job.UserID, domain.JobTypeCoaching); err != nil {
		return err
	}
	coaching, err := w.llm.Recommend(ctx, transcript.Text, analysis)
	if err != nil {
		if ferr := w.jobs.Fail(ctx, job.SessionID, domain.JobTypeCoaching, err.Error()); ferr != nil {
			entry.WithError(ferr).Warn("Failed to record coaching failure")
		}
		return fmt.Errorf("coaching generation failed: %w", err)
	}
	if _, err := w.jobs.Complete(ctx, job.SessionID, domain.JobTypeCoaching, coaching); err != nil {
		return err
	}

	session, err := w.recordings.Complete(ctx, job.SessionID, analysis, coaching)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}

	if _, err := w.notifications.Create(ctx, &domain.Notification{
		UserID:    session.UserID,
		SessionID: session.ID,
		Type:      domain.NotificationProcessingComplete,
		Title:     "Recording analysis ready",
		Message:   fmt.Sprintf("Analysis for %q has finished.", session.DisplayName),
		ActionURL: "/recordings/" + session.ID,
	}); err != nil {
		// The session is done; a lost notice is not worth failing over
		entry.WithError(err).Warn("Failed to create completion notification")
	}

	entry.Info("Analysis completed, session finished")
	return nil
}
