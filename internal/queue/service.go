package queue

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dkessler/classpulse/internal/config"
	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/logger"
	"github.com/dkessler/classpulse/internal/repository"
)

// Handler executes the work carried by a claimed queue item. Returning a
// plain error schedules a retry; an error wrapped with Permanent fails the
// item immediately.
type Handler interface {
	Handle(ctx context.Context, item *domain.QueueItem) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, item *domain.QueueItem) error

// Handle calls the wrapped function.
func (f HandlerFunc) Handle(ctx context.Context, item *domain.QueueItem) error {
	return f(ctx, item)
}

// ExhaustedFunc runs once when an item's retries are used up or it fails
// permanently, after the item has been marked failed.
type ExhaustedFunc func(ctx context.Context, item *domain.QueueItem, err error)

type stageRunner struct {
	handler     Handler
	onExhausted ExhaustedFunc
	concurrency int
}

// StageHealth reports queue depth and worker allocation for one stage.
type StageHealth struct {
	repository.StageCounts
	Workers int `json:"workers"`
}

// Service schedules durable queue items onto per-stage worker pools.
// Enqueue is idempotent per (stage, session); items survive restarts in the
// state store and abandoned leases are reclaimed by the reaper.
type Service struct {
	repo     *repository.QueueRepository
	sessions *repository.RecordingRepository
	cfg      *config.QueueConfig
	log      *logger.Logger
	stages   map[domain.Stage]stageRunner

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewService creates a queue service.
// Parameters:
//   - repo: durable queue item store.
//   - sessions: session store, marked processing on enqueue; may be nil.
//   - cfg: queue configuration (worker counts, retry policy, intervals).
//   - log: logger; nil uses the default.
// Returns:
//   - *Service: initialized service with no handlers registered.
func NewService(repo *repository.QueueRepository, sessions *repository.RecordingRepository, cfg *config.QueueConfig, log *logger.Logger) *Service {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Service{
		repo:     repo,
		sessions: sessions,
		cfg:      cfg,
		log:      log,
		stages:   make(map[domain.Stage]stageRunner),
	}
}

// Register binds a handler to a stage with a fixed worker count. Must be
// called before Start.
// Parameters:
//   - stage: pipeline stage the handler serves.
//   - concurrency: number of workers for the stage; minimum 1.
//   - handler: item executor.
//   - onExhausted: optional hook run after an item fails permanently.
func (s *Service) Register(stage domain.Stage, concurrency int, handler Handler, onExhausted ExhaustedFunc) {
	if concurrency < 1 {
		concurrency = 1
	}
	s.stages[stage] = stageRunner{
		handler:     handler,
		onExhausted: onExhausted,
		concurrency: concurrency,
	}
}

// EnqueueTranscription queues the transcription stage for a session.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: transcription payload.
//   - priority: scheduling priority; empty defaults to normal.
// Returns:
//   - *domain.QueueItem: the stored item (new or pre-existing).
//   - bool: true if a new item was created.
//   - error: non-nil if persisting fails.
func (s *Service) EnqueueTranscription(ctx context.Context, job TranscriptionJob, priority domain.Priority) (*domain.QueueItem, bool, error) {
	payload, err := EncodePayload(job)
	if err != nil {
		return nil, false, err
	}
	item := &domain.QueueItem{
		SessionID:  job.SessionID,
		UserID:     job.UserID,
		Stage:      domain.QueueStageTranscription,
		Priority:   priority,
		Payload:    payload,
		MaxRetries: s.cfg.MaxRetries,
	}
	return s.enqueue(ctx, item)
}

// EnqueueAnalysis queues the analysis stage for a session. The item is held
// for the configured analysis delay before it becomes runnable, giving the
// transcription write time to settle.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - job: analysis payload.
//   - priority: scheduling priority; empty defaults to normal.
// Returns:
//   - *domain.QueueItem: the stored item (new or pre-existing).
//   - bool: true if a new item was created.
//   - error: non-nil if persisting fails.
func (s *Service) EnqueueAnalysis(ctx context.Context, job AnalysisJob, priority domain.Priority) (*domain.QueueItem, bool, error) {
	payload, err := EncodePayload(job)
	if err != nil {
		return nil, false, err
	}
	item := &domain.QueueItem{
		SessionID:  job.SessionID,
		UserID:     job.UserID,
		Stage:      domain.QueueStageAnalysis,
		Priority:   priority,
		Payload:    payload,
		MaxRetries: s.cfg.MaxRetries,
	}
	if s.cfg.AnalysisDelay > 0 {
		notBefore := time.Now().Add(s.cfg.AnalysisDelay)
		item.NotBefore = &notBefore
	}
	return s.enqueue(ctx, item)
}

func (s *Service) enqueue(ctx context.Context, item *domain.QueueItem) (*domain.QueueItem, bool, error) {
	stored, created, err := s.repo.Enqueue(ctx, item)
	if err != nil {
		return nil, false, err
	}
	entry := s.log.WithFields(logger.Fields{
		logger.FieldSessionID: item.SessionID,
		logger.FieldStage:     string(item.Stage),
		logger.FieldJobID:     stored.ID,
	})
	if created {
		entry.Info("Queued job")
		s.markProcessing(ctx, stored)
	} else {
		entry.Debug("Job already queued, reusing existing item")
	}
	return stored, created, nil
}

// markProcessing moves the session to processing with the stage the new item
// was queued for. The claimed worker writes the same stage again with its
// first progress milestone.
func (s *Service) markProcessing(ctx context.Context, item *domain.QueueItem) {
	if s.sessions == nil {
		return
	}
	stage := domain.StageTranscribing
	if item.Stage == domain.QueueStageAnalysis {
		stage = domain.StageAnalyzing
	}
	if _, err := s.sessions.UpdateStageProgress(ctx, item.SessionID, stage, 0); err != nil {
		s.log.WithError(err).WithFields(logger.Fields{
			logger.FieldSessionID: item.SessionID,
			logger.FieldStage:     string(item.Stage),
		}).Warn("Failed to mark session processing on enqueue")
	}
}

// Start launches the per-stage worker pools and the lease reaper.
// Parameters:
//   - ctx: parent context; Stop or ctx cancellation shuts workers down.
// Returns:
//   - error: non-nil if the service is already running.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("queue service already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.started = true

	hostname, _ := os.Hostname()
	for stage, runner := range s.stages {
		for i := 0; i < runner.concurrency; i++ {
			owner := fmt.Sprintf("%s/%s-%d", hostname, stage, i)
			s.wg.Add(1)
			go s.workerLoop(runCtx, stage, runner, owner)
		}
		s.log.WithFields(logger.Fields{
			logger.FieldStage: string(stage),
			logger.FieldCount: runner.concurrency,
		}).Info("Started queue workers")
	}

	s.wg.Add(1)
	go s.reaperLoop(runCtx)
	return nil
}

// Stop shuts down the worker pools and waits for in-flight items to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()
	s.wg.Wait()
	s.log.Info("Queue service stopped")
}

// Health reports queue depth and worker counts per registered stage.
// Parameters:
//   - ctx: context for cancellation and deadlines.
// Returns:
//   - map[string]StageHealth: per-stage counters keyed by stage name.
//   - error: non-nil if a count query fails.
func (s *Service) Health(ctx context.Context) (map[string]StageHealth, error) {
	out := make(map[string]StageHealth, len(s.stages))
	for stage, runner := range s.stages {
		counts, err := s.repo.CountsByStage(ctx, stage)
		if err != nil {
			return nil, err
		}
		out[string(stage)] = StageHealth{StageCounts: counts, Workers: runner.concurrency}
	}
	return out, nil
}

func (s *Service) workerLoop(ctx context.Context, stage domain.Stage, runner stageRunner, owner string) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		item, err := s.repo.Claim(ctx, stage, owner)
		if errors.Is(err, repository.ErrNoJob) {
			s.sleep(ctx, s.cfg.PollInterval)
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithError(err).WithFields(logger.Fields{
				logger.FieldStage: string(stage),
			}).Error("Failed to claim queue item")
			s.sleep(ctx, s.cfg.PollInterval)
			continue
		}

		s.runItem(ctx, item, runner)
	}
}

func (s *Service) runItem(ctx context.Context, item *domain.QueueItem, runner stageRunner) {
	entry := s.log.WithFields(logger.Fields{
		logger.FieldJobID:     item.ID,
		logger.FieldSessionID: item.SessionID,
		logger.FieldStage:     string(item.Stage),
		logger.FieldAttempt:   item.RetryCount + 1,
	})
	start := time.Now()
	err := runner.handler.Handle(ctx, item)
	elapsed := time.Since(start)

	if err == nil {
		if cerr := s.repo.Complete(ctx, item); cerr != nil {
			entry.WithError(cerr).Error("Failed to mark queue item completed")
			return
		}
		entry.WithFields(logger.Fields{
			logger.FieldDurationMs: elapsed.Milliseconds(),
		}).Info("Queue item completed")
		return
	}

	if ctx.Err() != nil {
		// Shutdown mid-item: leave the lease for the reaper so the
		// attempt is not double-counted
		entry.WithError(err).Warn("Queue item interrupted by shutdown")
		return
	}

	permanent := IsPermanent(err)
	exhausted := item.RetryCount >= item.MaxRetries
	if permanent || exhausted {
		if ferr := s.repo.Fail(ctx, item, err.Error()); ferr != nil {
			entry.WithError(ferr).Error("Failed to mark queue item failed")
			return
		}
		entry.WithError(err).WithFields(logger.Fields{
			"permanent": permanent,
		}).Error("Queue item failed permanently")
		if runner.onExhausted != nil {
			runner.onExhausted(ctx, item, err)
		}
		return
	}

	delay := s.retryDelay(item.RetryCount)
	if rerr := s.repo.Retry(ctx, item, err.Error(), delay); rerr != nil {
		entry.WithError(rerr).Error("Failed to requeue queue item")
		return
	}
	entry.WithError(err).WithFields(logger.Fields{
		"retry_in": delay.String(),
	}).Warn("Queue item failed, scheduled retry")
}

// retryDelay computes exponential backoff for the next attempt, capped at
// the configured maximum.
func (s *Service) retryDelay(retryCount int) time.Duration {
	delay := s.cfg.RetryBaseDelay
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= s.cfg.RetryMaxDelay {
			return s.cfg.RetryMaxDelay
		}
	}
	if delay > s.cfg.RetryMaxDelay {
		return s.cfg.RetryMaxDelay
	}
	return delay
}

func (s *Service) reaperLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.cfg.ReaperInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.repo.ReapStale(ctx, s.cfg.LeaseTimeout)
			if err != nil {
				s.log.WithError(err).Error("Lease reaper sweep failed")
				continue
			}
			if n > 0 {
				s.log.WithFields(logger.Fields{
					logger.FieldCount: n,
				}).Warn("Requeued items with expired leases")
			}

			if s.cfg.CleanupAge > 0 {
				removed, err := s.repo.CleanupTerminal(ctx, s.cfg.CleanupAge)
				if err != nil {
					s.log.WithError(err).Error("Terminal item cleanup failed")
					continue
				}
				if removed > 0 {
					s.log.WithFields(logger.Fields{
						logger.FieldCount: removed,
					}).Info("Removed old terminal queue items")
				}
			}
		}
	}
}

func (s *Service) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = 2 * time.Second
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
