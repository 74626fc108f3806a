package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkessler/classpulse/internal/domain"
)

func newQueueItem(sessionID string, stage domain.Stage, priority domain.Priority) *domain.QueueItem {
	return &domain.QueueItem{
		SessionID:  sessionID,
		UserID:     "user-1",
		Stage:      stage,
		Priority:   priority,
		Payload:    "{}",
		MaxRetries: 3,
	}
}

func TestQueueRepository_EnqueueIdempotent(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t), nil)
	ctx := context.Background()

	first, created, err := repo.Enqueue(ctx, newQueueItem("s1", domain.QueueStageTranscription, domain.PriorityNormal))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	if !created {
		t.Fatal("first enqueue should create an item")
	}

	second, created, err := repo.Enqueue(ctx, newQueueItem("s1", domain.QueueStageTranscription, domain.PriorityHigh))
	if err != nil {
		t.Fatalf("second enqueue failed: %v", err)
	}
	if created {
		t.Error("second enqueue for the same stage and session should not create")
	}
	if second.ID != first.ID {
		t.Errorf("expected existing item %s, got %s", first.ID, second.ID)
	}

	// A different stage for the same session is a separate item
	_, created, err = repo.Enqueue(ctx, newQueueItem("s1", domain.QueueStageAnalysis, domain.PriorityNormal))
	if err != nil {
		t.Fatalf("analysis enqueue failed: %v", err)
	}
	if !created {
		t.Error("different stage should create a new item")
	}
}

func TestQueueRepository_EnqueueAfterTerminal(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t), nil)
	ctx := context.Background()

	item, _, err := repo.Enqueue(ctx, newQueueItem("s1", domain.QueueStageTranscription, domain.PriorityNormal))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	claimed, err := repo.Claim(ctx, domain.QueueStageTranscription, "w1")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := repo.Fail(ctx, claimed, "boom"); err != nil {
		t.Fatalf("fail failed: %v", err)
	}

	fresh, created, err := repo.Enqueue(ctx, newQueueItem("s1", domain.QueueStageTranscription, domain.PriorityNormal))
	if err != nil {
		t.Fatalf("re-enqueue failed: %v", err)
	}
	if !created {
		t.Error("enqueue after terminal item should create a new item")
	}
	if fresh.ID == item.ID {
		t.Error("new item should not reuse the failed item's ID")
	}
}

func TestQueueRepository_TerminalReleasesJobKey(t *testing.T) {
	db := newTestDB(t)
	repo := NewQueueRepository(db, nil)
	ctx := context.Background()

	bareKey := domain.JobKey(domain.QueueStageTranscription, "s1")

	if _, _, err := repo.Enqueue(ctx, newQueueItem("s1", domain.QueueStageTranscription, domain.PriorityNormal)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	claimed, err := repo.Claim(ctx, domain.QueueStageTranscription, "w1")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := repo.Complete(ctx, claimed); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if want := bareKey + ":" + claimed.ID; claimed.JobKey != want {
		t.Errorf("completed job key = %q, want %q", claimed.JobKey, want)
	}

	var stored domain.QueueItem
	if err := db.Where("id = ?", claimed.ID).First(&stored).Error; err != nil {
		t.Fatalf("load completed item: %v", err)
	}
	if stored.JobKey != claimed.JobKey {
		t.Errorf("stored job key = %q, want %q", stored.JobKey, claimed.JobKey)
	}

	// The bare key is free again, so the next enqueue takes it
	fresh, created, err := repo.Enqueue(ctx, newQueueItem("s1", domain.QueueStageTranscription, domain.PriorityNormal))
	if err != nil {
		t.Fatalf("re-enqueue failed: %v", err)
	}
	if !created {
		t.Fatal("enqueue after completion should create a new item")
	}
	if fresh.JobKey != bareKey {
		t.Errorf("fresh job key = %q, want %q", fresh.JobKey, bareKey)
	}

	reclaimed, err := repo.Claim(ctx, domain.QueueStageTranscription, "w1")
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if err := repo.Fail(ctx, reclaimed, "boom"); err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	if want := bareKey + ":" + reclaimed.ID; reclaimed.JobKey != want {
		t.Errorf("failed job key = %q, want %q", reclaimed.JobKey, want)
	}
}

func TestQueueRepository_ClaimPriorityOrder(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t), nil)
	ctx := context.Background()

	for _, tc := range []struct {
		session  string
		priority domain.Priority
	}{
		{"low-1", domain.PriorityLow},
		{"normal-1", domain.PriorityNormal},
		{"normal-2", domain.PriorityNormal},
		{"high-1", domain.PriorityHigh},
	} {
		if _, _, err := repo.Enqueue(ctx, newQueueItem(tc.session, domain.QueueStageTranscription, tc.priority)); err != nil {
			t.Fatalf("enqueue %s failed: %v", tc.session, err)
		}
		// Distinct created_at ordering under SQLite's timestamp resolution
		time.Sleep(5 * time.Millisecond)
	}

	wantOrder := []string{"high-1", "normal-1", "normal-2", "low-1"}
	for i, want := range wantOrder {
		item, err := repo.Claim(ctx, domain.QueueStageTranscription, "w1")
		if err != nil {
			t.Fatalf("claim %d failed: %v", i, err)
		}
		if item.SessionID != want {
			t.Errorf("claim %d: got %s, want %s", i, item.SessionID, want)
		}
	}

	if _, err := repo.Claim(ctx, domain.QueueStageTranscription, "w1"); !errors.Is(err, ErrNoJob) {
		t.Errorf("expected ErrNoJob on drained queue, got %v", err)
	}
}

func TestQueueRepository_ClaimHonorsNotBefore(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t), nil)
	ctx := context.Background()

	item := newQueueItem("s1", domain.QueueStageAnalysis, domain.PriorityNormal)
	future := time.Now().Add(time.Hour)
	item.NotBefore = &future
	if _, _, err := repo.Enqueue(ctx, item); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	if _, err := repo.Claim(ctx, domain.QueueStageAnalysis, "w1"); !errors.Is(err, ErrNoJob) {
		t.Errorf("held item should not be claimable, got %v", err)
	}
}

func TestQueueRepository_RetryAndFail(t *testing.T) {
	repo := NewQueueRepository(newTestDB(t), nil)
	ctx := context.Background()

	if _, _, err := repo.Enqueue(ctx, newQueueItem("s1", domain.QueueStageTranscription, domain.PriorityNormal)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	claimed, err := repo.Claim(ctx, domain.QueueStageTranscription, "w1")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	if err := repo.Retry(ctx, claimed, "transient", 0); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if claimed.RetryCount != 1 {
		t.Errorf("retry count = %d, want 1", claimed.RetryCount)
	}

	reclaimed, err := repo.Claim(ctx, domain.QueueStageTranscription, "w2")
	if err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if reclaimed.ID != claimed.ID {
		t.Error("retry should requeue the same item")
	}
	if reclaimed.RetryCount != 1 {
		t.Errorf("reclaimed retry count = %d, want 1", reclaimed.RetryCount)
	}

	if err := repo.Fail(ctx, reclaimed, "permanent"); err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	counts, err := repo.CountsByStage(ctx, domain.QueueStageTranscription)
	if err != nil {
		t.Fatalf("counts failed: %v", err)
	}
	if counts.Failed != 1 || counts.Waiting != 0 || counts.Active != 0 {
		t.Errorf("unexpected counts after fail: %+v", counts)
	}
}

func TestQueueRepository_ReapStale(t *testing.T) {
	db := newTestDB(t)
	repo := NewQueueRepository(db, nil)
	ctx := context.Background()

	if _, _, err := repo.Enqueue(ctx, newQueueItem("s1", domain.QueueStageTranscription, domain.PriorityNormal)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	claimed, err := repo.Claim(ctx, domain.QueueStageTranscription, "dead-worker")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	// Age the lease past the timeout
	old := time.Now().Add(-time.Hour)
	if err := db.Model(&domain.QueueItem{}).Where("id = ?", claimed.ID).Update("leased_at", old).Error; err != nil {
		t.Fatalf("failed to age lease: %v", err)
	}

	n, err := repo.ReapStale(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("reap failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("reaped %d items, want 1", n)
	}

	reclaimed, err := repo.Claim(ctx, domain.QueueStageTranscription, "w2")
	if err != nil {
		t.Fatalf("reclaim after reap failed: %v", err)
	}
	if reclaimed.RetryCount != 0 {
		t.Errorf("reap should not consume a retry, count = %d", reclaimed.RetryCount)
	}
}

func TestQueueRepository_CleanupTerminal(t *testing.T) {
	db := newTestDB(t)
	repo := NewQueueRepository(db, nil)
	ctx := context.Background()

	done, _, err := repo.Enqueue(ctx, newQueueItem("s1", domain.QueueStageTranscription, domain.PriorityNormal))
	if err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}
	claimed, err := repo.Claim(ctx, domain.QueueStageTranscription, "w1")
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if err := repo.Complete(ctx, claimed); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if _, _, err := repo.Enqueue(ctx, newQueueItem("s2", domain.QueueStageTranscription, domain.PriorityNormal)); err != nil {
		t.Fatalf("enqueue failed: %v", err)
	}

	// Age the completed item past the retention window
	old := time.Now().Add(-48 * time.Hour)
	if err := db.Model(&domain.QueueItem{}).Where("id = ?", done.ID).Update("updated_at", old).Error; err != nil {
		t.Fatalf("failed to age item: %v", err)
	}

	n, err := repo.CleanupTerminal(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("cleaned %d items, want 1", n)
	}

	// The waiting item must survive
	remaining, err := repo.GetBySession(ctx, "s2")
	if err != nil {
		t.Fatalf("get by session failed: %v", err)
	}
	if len(remaining) != 1 {
		t.Errorf("waiting item count = %d, want 1", len(remaining))
	}
	if gone, err := repo.GetBySession(ctx, "s1"); err != nil || len(gone) != 0 {
		t.Errorf("terminal item not removed: items=%d err=%v", len(gone), err)
	}
}
