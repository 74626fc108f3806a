package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkessler/classpulse/internal/analyzer"
	"github.com/dkessler/classpulse/internal/api"
	"github.com/dkessler/classpulse/internal/auth"
	"github.com/dkessler/classpulse/internal/config"
	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/logger"
	"github.com/dkessler/classpulse/internal/notify"
	"github.com/dkessler/classpulse/internal/pipeline"
	"github.com/dkessler/classpulse/internal/queue"
	"github.com/dkessler/classpulse/internal/realtime"
	"github.com/dkessler/classpulse/internal/repository"
	"github.com/dkessler/classpulse/internal/storage"
	"github.com/dkessler/classpulse/internal/transcriber"
)

func main() {
	// Support CONFIG_PATH environment variable for production deployments
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

	// Change events flow through the in-process bus: repositories publish,
	// the realtime hub subscribes
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
	if s3, ok := store.(*storage.S3Storage); ok {
		if err := s3.EnsureBucket(context.Background()); err != nil {
			appLog.WithError(err).Fatal("Failed to ensure storage bucket")
		}
	}

	verifier, err := auth.NewHMACVerifier(cfg.Server.AuthSecret)
	if err != nil {
		appLog.WithError(err).Fatal("Failed to initialize token verifier")
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
	defer queueSvc.Stop()

	hub := realtime.NewHub(appLog)
	go func() {
		if err := hub.Run(runCtx, bus); err != nil && runCtx.Err() == nil {
			appLog.WithError(err).Error("Realtime hub stopped")
		}
	}()

	router := api.SetupRouter(&cfg.Server, api.Deps{
		Recordings:    recordings,
		Jobs:          jobs,
		QueueRepo:     queueRepo,
		Notifications: notifications,
		QueueSvc:      queueSvc,
		Hub:           hub,
		Store:         store,
		Verifier:      verifier,
		Realtime:      &cfg.Realtime,
		Log:           appLog,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLog.WithFields(logger.Fields{
			"port": cfg.Server.Port,
			"mode": cfg.Server.Mode,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-runCtx.Done()
	appLog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.WithError(err).Fatal("Server forced to shutdown")
	}

	appLog.Info("Server exited")
}
