package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/dkessler/classpulse/internal/config"
	"github.com/dkessler/classpulse/internal/domain"
	"github.com/dkessler/classpulse/internal/repository"
)

func newTestRepo(t *testing.T) *repository.QueueRepository {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&domain.QueueItem{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return repository.NewQueueRepository(db, nil)
}

func testConfig() *config.QueueConfig {
	return &config.QueueConfig{
		TranscriptionWorkers: 1,
		AnalysisWorkers:      1,
		MaxRetries:           2,
		RetryBaseDelay:       time.Millisecond,
		RetryMaxDelay:        5 * time.Millisecond,
		PollInterval:         5 * time.Millisecond,
		LeaseTimeout:         time.Minute,
		ReaperInterval:       time.Minute,
	}
}

func TestRetryDelay(t *testing.T) {
	svc := NewService(nil, nil, &config.QueueConfig{
		RetryBaseDelay: 2 * time.Second,
		RetryMaxDelay:  30 * time.Second,
	}, nil)

	tests := []struct {
		retryCount int
		want       time.Duration
	}{
		{0, 2 * time.Second},
		{1, 4 * time.Second},
		{2, 8 * time.Second},
		{3, 16 * time.Second},
		{4, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, tc := range tests {
		if got := svc.retryDelay(tc.retryCount); got != tc.want {
			t.Errorf("retryDelay(%d) = %s, want %s", tc.retryCount, got, tc.want)
		}
	}
}

func TestEnqueueMarksSessionProcessing(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("failed to open test database: %v", err)
	}
	if err := db.AutoMigrate(&domain.RecordingSession{}, &domain.QueueItem{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	recordings := repository.NewRecordingRepository(db, nil)
	svc := NewService(repository.NewQueueRepository(db, nil), recordings, testConfig(), nil)

	ctx := context.Background()
	session := &domain.RecordingSession{UserID: "user-1", DisplayName: "Period 3 algebra"}
	if err := recordings.Create(ctx, session); err != nil {
		t.Fatalf("create session failed: %v", err)
	}

	if _, _, err := svc.EnqueueTranscription(ctx, TranscriptionJob{
		SessionID: session.ID,
		UserID:    session.UserID,
		AudioURL:  "http://example.com/a.mp3",
	}, domain.PriorityNormal); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	got, err := recordings.GetByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("get session failed: %v", err)
	}
	if got.Status != domain.SessionStatusProcessing {
		t.Errorf("status after enqueue = %s, want processing", got.Status)
	}
	if got.ProcessingStage != domain.StageTranscribing {
		t.Errorf("stage after enqueue = %s, want transcribing", got.ProcessingStage)
	}
}

func TestServiceRunsHandlerToCompletion(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewService(repo, nil, testConfig(), nil)

	done := make(chan *domain.QueueItem, 1)
	svc.Register(domain.QueueStageTranscription, 1, HandlerFunc(func(ctx context.Context, item *domain.QueueItem) error {
		done <- item
		return nil
	}), nil)

	ctx := context.Background()
	item, created, err := svc.EnqueueTranscription(ctx, TranscriptionJob{
		SessionID: "s1",
		UserID:    "user-1",
		AudioURL:  "http://example.com/a.mp3",
	}, domain.PriorityNormal)
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if !created {
		t.Fatal("expected new item")
	}

	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer svc.Stop()

	select {
	case claimed := <-done:
		if claimed.ID != item.ID {
			t.Errorf("handled item %s, want %s", claimed.ID, item.ID)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}

	waitForStatus(t, repo, "s1", domain.QueueStatusCompleted)
}

func TestServiceRetriesThenExhausts(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewService(repo, nil, testConfig(), nil)

	var attempts atomic.Int32
	var mu sync.Mutex
	var exhausted []string
	svc.Register(domain.QueueStageTranscription, 1, HandlerFunc(func(ctx context.Context, item *domain.QueueItem) error {
		attempts.Add(1)
		return errors.New("provider unavailable")
	}), func(ctx context.Context, item *domain.QueueItem, err error) {
		mu.Lock()
		exhausted = append(exhausted, item.SessionID)
		mu.Unlock()
	})

	ctx := context.Background()
	if _, _, err := svc.EnqueueTranscription(ctx, TranscriptionJob{SessionID: "s1", UserID: "u"}, domain.PriorityNormal); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer svc.Stop()

	waitForStatus(t, repo, "s1", domain.QueueStatusFailed)

	// MaxRetries of 2 means 3 attempts total: the first plus two retries
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(exhausted) != 1 || exhausted[0] != "s1" {
		t.Errorf("exhausted hook calls = %v, want exactly one for s1", exhausted)
	}
}

func TestServicePermanentErrorSkipsRetries(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewService(repo, nil, testConfig(), nil)

	var attempts atomic.Int32
	svc.Register(domain.QueueStageTranscription, 1, HandlerFunc(func(ctx context.Context, item *domain.QueueItem) error {
		attempts.Add(1)
		return Permanent(errors.New("audio file is corrupt"))
	}), nil)

	ctx := context.Background()
	if _, _, err := svc.EnqueueTranscription(ctx, TranscriptionJob{SessionID: "s1", UserID: "u"}, domain.PriorityNormal); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if err := svc.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	defer svc.Stop()

	waitForStatus(t, repo, "s1", domain.QueueStatusFailed)
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, permanent error should not retry", got)
	}
}

func waitForStatus(t *testing.T, repo *repository.QueueRepository, sessionID string, want domain.QueueStatus) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		items, err := repo.GetBySession(context.Background(), sessionID)
		if err != nil {
			t.Fatalf("get by session failed: %v", err)
		}
		for _, item := range items {
			if item.Status == want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("queue item for %s never reached %s", sessionID, want)
}
