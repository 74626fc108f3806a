package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkessler/classpulse/internal/analyzer"
	"github.com/dkessler/classpulse/internal/config"
	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/logger"
	"github.com/dkessler/classpulse/internal/notify"
	"github.com/dkessler/classpulse/internal/pipeline"
	"github.com/dkessler/classpulse/internal/queue"
	"github.com/dkessler/classpulse/internal/repository"
	"github.com/dkessler/classpulse/internal/storage"
	"github.com/dkessler/classpulse/internal/transcriber"
)

// Standalone worker binary for scale-out processing. The durable queue in
// the database is the coordination point, so extra workers can run beside
// the API process. Push events published here stay in-process; clients
// connected to the API self-heal through their polling fallback.
func main() {
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	appLog := logger.NewDefault()
	logger.SetDefaultLogger(appLog)
	defer logger.Sync()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize database")
	}

	bus := notify.NewBus(cfg.Realtime.SendBuffer, appLog)
	defer bus.Close()
	notifier := notify.NewNotifier(bus, appLog)

	recordings := repository.NewRecordingRepository(db, notifier)
	jobs := repository.NewAIJobRepository(db, notifier)
	queueRepo := repository.NewQueueRepository(db, notifier)
	notifications := repository.NewNotificationRepository(db, notifier)

	store, err := storage.NewStorage(&cfg.Storage)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize storage")
	}

	stt := transcriber.NewClient(&cfg.Transcriber)
	llm := analyzer.NewClient(&cfg.Analyzer)

	queueSvc := queue.NewService(queueRepo, recordings, &cfg.Queue, appLog)
	failureHook := pipeline.NewFailureHook(recordings, notifications, appLog)
	queueSvc.Register(domain.QueueStageTranscription, cfg.Queue.TranscriptionWorkers,
		pipeline.NewTranscriptionWorker(recordings, jobs, queueRepo, stt, store, queueSvc, appLog), failureHook)
	queueSvc.Register(domain.QueueStageAnalysis, cfg.Queue.AnalysisWorkers,
		pipeline.NewAnalysisWorker(recordings, jobs, notifications, stt, llm, appLog), failureHook)

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := queueSvc.Start(runCtx); err != nil {
		appLog.WithError(err).Fatal("Failed to start queue service")
	}
	appLog.Info("Worker started")

	<-runCtx.Done()
	appLog.Info("Shutting down worker...")
	queueSvc.Stop()
	appLog.Info("Worker exited")
}
