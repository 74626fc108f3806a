package domain

import "testing"

func TestStageAdvances(t *testing.T) {
	tests := []struct {
		name string
		from ProcessingStage
		to   ProcessingStage
		want bool
	}{
		{"pending to uploading", StagePending, StageUploading, true},
		{"uploading to transcribing", StageUploading, StageTranscribing, true},
		{"transcribing to analyzing", StageTranscribing, StageAnalyzing, true},
		{"analyzing to coaching", StageAnalyzing, StageCoaching, true},
		{"coaching to completed", StageCoaching, StageCompleted, true},
		{"same stage", StageTranscribing, StageTranscribing, true},
		{"coaching back to analyzing for retried analysis", StageCoaching, StageAnalyzing, true},
		{"analyzing back to transcribing", StageAnalyzing, StageTranscribing, false},
		{"completed back to pending", StageCompleted, StagePending, false},
		{"failed from transcribing", StageTranscribing, StageFailed, true},
		{"failed from completed", StageCompleted, StageFailed, false},
		{"out of failed", StageFailed, StageTranscribing, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StageAdvances(tt.from, tt.to); got != tt.want {
				t.Errorf("StageAdvances(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestJobKey(t *testing.T) {
	if got := JobKey(QueueStageTranscription, "sess-1"); got != "transcription_sess-1" {
		t.Errorf("unexpected job key %q", got)
	}
	if got := JobKey(QueueStageAnalysis, "sess-1"); got != "analysis_sess-1" {
		t.Errorf("unexpected job key %q", got)
	}
}

func TestPriorityRank(t *testing.T) {
	if PriorityHigh.Rank() >= PriorityNormal.Rank() {
		t.Error("high must rank before normal")
	}
	if PriorityNormal.Rank() >= PriorityLow.Rank() {
		t.Error("normal must rank before low")
	}
	if Priority("bogus").Rank() <= PriorityLow.Rank() {
		t.Error("unknown priorities must sort behind low")
	}
}

func TestQueueStatusTerminal(t *testing.T) {
	for _, s := range []QueueStatus{QueueStatusCompleted, QueueStatusFailed, QueueStatusCancelled} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []QueueStatus{QueueStatusQueued, QueueStatusProcessing} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}
