package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/dkessler/classpulse/internal/domain"
)

func seedSession(t *testing.T, repo *RecordingRepository) *domain.RecordingSession {
	t.Helper()
	session := &domain.RecordingSession{
		UserID:          "user-1",
		DisplayName:     "Period 3 algebra",
		DurationSeconds: 1800,
	}
	if err := repo.Create(context.Background(), session); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return session
}

func TestRecordingRepository_ProgressIsMonotonic(t *testing.T) {
	repo := NewRecordingRepository(newTestDB(t), nil)
	ctx := context.Background()
	session := seedSession(t, repo)

	got, err := repo.UpdateStageProgress(ctx, session.ID, domain.StageTranscribing, 25)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if got.ProcessingProgress != 25 {
		t.Errorf("progress = %d, want 25", got.ProcessingProgress)
	}
	if got.Status != domain.SessionStatusProcessing {
		t.Errorf("status = %s, want processing", got.Status)
	}

	// Same stage with a lower value must not move the bar backwards
	got, err = repo.UpdateStageProgress(ctx, session.ID, domain.StageTranscribing, 10)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if got.ProcessingProgress != 25 {
		t.Errorf("regressed progress = %d, want 25", got.ProcessingProgress)
	}

	got, err = repo.UpdateStageProgress(ctx, session.ID, domain.StageAnalyzing, 150)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if got.ProcessingProgress != 100 {
		t.Errorf("progress = %d, want clamp to 100", got.ProcessingProgress)
	}
}

func TestRecordingRepository_StageRegressionRejected(t *testing.T) {
	repo := NewRecordingRepository(newTestDB(t), nil)
	ctx := context.Background()
	session := seedSession(t, repo)

	if _, err := repo.UpdateStageProgress(ctx, session.ID, domain.StageAnalyzing, 60); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	_, err := repo.UpdateStageProgress(ctx, session.ID, domain.StageTranscribing, 70)
	if !errors.Is(err, ErrStageRegression) {
		t.Errorf("expected ErrStageRegression, got %v", err)
	}

	got, err := repo.GetByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.ProcessingStage != domain.StageAnalyzing {
		t.Errorf("stage = %s, want analyzing untouched", got.ProcessingStage)
	}
}

func TestRecordingRepository_FailKeepsStage(t *testing.T) {
	repo := NewRecordingRepository(newTestDB(t), nil)
	ctx := context.Background()
	session := seedSession(t, repo)

	if _, err := repo.UpdateStageProgress(ctx, session.ID, domain.StageAnalyzing, 60); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	got, err := repo.Fail(ctx, session.ID, "model unavailable")
	if err != nil {
		t.Fatalf("fail failed: %v", err)
	}
	if got.Status != domain.SessionStatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
	if got.ProcessingStage != domain.StageAnalyzing {
		t.Errorf("stage = %s, failure should keep the stage it happened in", got.ProcessingStage)
	}
	if got.ErrorDetail != "model unavailable" {
		t.Errorf("error detail = %q", got.ErrorDetail)
	}

	// Failed sessions accept no further progress
	if _, err := repo.UpdateStageProgress(ctx, session.ID, domain.StageCoaching, 80); err == nil {
		t.Error("expected error updating a failed session")
	}
}

func TestRecordingRepository_Complete(t *testing.T) {
	repo := NewRecordingRepository(newTestDB(t), nil)
	ctx := context.Background()
	session := seedSession(t, repo)

	got, err := repo.Complete(ctx, session.ID, `{"score":4}`, `{"strengths":[]}`)
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if got.Status != domain.SessionStatusCompleted || got.ProcessingStage != domain.StageCompleted {
		t.Errorf("status=%s stage=%s, want completed/completed", got.Status, got.ProcessingStage)
	}
	if got.ProcessingProgress != 100 {
		t.Errorf("progress = %d, want 100", got.ProcessingProgress)
	}
	if got.CompletedAt == nil {
		t.Error("completed_at not set")
	}

	if _, err := repo.Fail(ctx, session.ID, "late failure"); err == nil {
		t.Error("completed session should not be failable")
	}
}

func TestRecordingRepository_ResetForRetry(t *testing.T) {
	repo := NewRecordingRepository(newTestDB(t), nil)
	ctx := context.Background()
	session := seedSession(t, repo)

	// Only failed sessions can be reset
	if _, err := repo.ResetForRetry(ctx, session.ID); err == nil {
		t.Error("expected error resetting a pending session")
	}

	if _, err := repo.UpdateStageProgress(ctx, session.ID, domain.StageTranscribing, 25); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if err := repo.SetTranscriptID(ctx, session.ID, "tr-abc"); err != nil {
		t.Fatalf("set transcript failed: %v", err)
	}
	if _, err := repo.Fail(ctx, session.ID, "provider timeout"); err != nil {
		t.Fatalf("fail failed: %v", err)
	}

	got, err := repo.ResetForRetry(ctx, session.ID)
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if got.Status != domain.SessionStatusPending || got.ProcessingStage != domain.StagePending {
		t.Errorf("status=%s stage=%s, want pending/pending", got.Status, got.ProcessingStage)
	}
	if got.ProcessingProgress != 0 || got.ErrorDetail != "" {
		t.Errorf("progress=%d errDetail=%q, want cleared", got.ProcessingProgress, got.ErrorDetail)
	}

	fresh, err := repo.GetByID(ctx, session.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if fresh.TranscriptID != "tr-abc" {
		t.Errorf("transcript_id = %q, reset should keep it for reuse", fresh.TranscriptID)
	}
}

func TestRecordingRepository_ListByUser(t *testing.T) {
	repo := NewRecordingRepository(newTestDB(t), nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		session := &domain.RecordingSession{UserID: "user-1"}
		if err := repo.Create(ctx, session); err != nil {
			t.Fatalf("create failed: %v", err)
		}
	}
	if err := repo.Create(ctx, &domain.RecordingSession{UserID: "user-2"}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	sessions, err := repo.ListByUser(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sessions) != 3 {
		t.Errorf("got %d sessions, want 3", len(sessions))
	}

	paged, err := repo.ListByUser(ctx, "user-1", 2, 2)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(paged) != 1 {
		t.Errorf("got %d sessions with offset 2, want 1", len(paged))
	}
}
