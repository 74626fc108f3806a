package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dkessler/classpulse/internal/config"
)

// fakeProvider emulates the transcription API: submissions return queued, and
// each status poll advances toward the scripted terminal state.
type fakeProvider struct {
	srv      *httptest.Server
	final    Transcript
	minPolls int32
	polls    atomic.Int32
}

func newFakeProvider(t *testing.T, final Transcript, minPolls int32) *fakeProvider {
	t.Helper()
	fp := &fakeProvider{final: final, minPolls: minPolls}
	mux := http.NewServeMux()
	mux.HandleFunc("/transcript", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if body["audio_url"] == "" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "audio_url is required"})
			return
		}
		json.NewEncoder(w).Encode(Transcript{ID: fp.final.ID, Status: StatusQueued})
	})
	mux.HandleFunc("/transcript/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/transcript/")
		if id != fp.final.ID {
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(map[string]string{"error": "transcript not found"})
			return
		}
		if fp.polls.Add(1) <= fp.minPolls {
			json.NewEncoder(w).Encode(Transcript{ID: id, Status: StatusProcessing})
			return
		}
		json.NewEncoder(w).Encode(fp.final)
	})
	fp.srv = httptest.NewServer(mux)
	t.Cleanup(fp.srv.Close)
	return fp
}

func newTestClient(fp *fakeProvider) *Client {
	return NewClient(&config.TranscriberConfig{
		APIKey:       "test-key",
		BaseURL:      fp.srv.URL,
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  2 * time.Second,
	})
}

func TestSubmitAndAwait(t *testing.T) {
	fp := newFakeProvider(t, Transcript{
		ID:     "tr-1",
		Status: StatusCompleted,
		Text:   "today we factor quadratics",
	}, 2)
	client := newTestClient(fp)
	ctx := context.Background()

	submitted, err := client.Submit(ctx, "http://store/audio/a.mp3")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if submitted.ID != "tr-1" || submitted.Status != StatusQueued {
		t.Errorf("submitted = %+v", submitted)
	}

	var observed []string
	transcript, err := client.Await(ctx, "tr-1", func(tr *Transcript) {
		observed = append(observed, tr.Status)
	})
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	if transcript.Status != StatusCompleted || transcript.Text != "today we factor quadratics" {
		t.Errorf("transcript = %+v", transcript)
	}
	if len(observed) < 3 {
		t.Errorf("observed %d polls, want the processing polls plus the terminal one", len(observed))
	}
}

func TestAwaitReturnsErrorStatus(t *testing.T) {
	fp := newFakeProvider(t, Transcript{
		ID:     "tr-1",
		Status: StatusError,
		Error:  "audio duration too short",
	}, 0)
	client := newTestClient(fp)

	transcript, err := client.Await(context.Background(), "tr-1", nil)
	if err != nil {
		t.Fatalf("await failed: %v", err)
	}
	// Provider-side rejection is a terminal result, not a transport error
	if transcript.Status != StatusError || transcript.Error != "audio duration too short" {
		t.Errorf("transcript = %+v", transcript)
	}
}

func TestAwaitTimesOut(t *testing.T) {
	// A transcript that never finishes
	fp := newFakeProvider(t, Transcript{ID: "tr-1", Status: StatusCompleted}, 1<<30)
	client := NewClient(&config.TranscriberConfig{
		APIKey:       "test-key",
		BaseURL:      fp.srv.URL,
		PollInterval: time.Millisecond,
		PollTimeout:  20 * time.Millisecond,
	})

	_, err := client.Await(context.Background(), "tr-1", nil)
	if !errors.Is(err, ErrPollTimeout) {
		t.Errorf("err = %v, want ErrPollTimeout", err)
	}
}

func TestAwaitHonorsContext(t *testing.T) {
	fp := newFakeProvider(t, Transcript{ID: "tr-1", Status: StatusCompleted}, 1<<30)
	client := newTestClient(fp)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := client.Await(ctx, "tr-1", nil)
	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
}

func TestGetNotFound(t *testing.T) {
	fp := newFakeProvider(t, Transcript{ID: "tr-1", Status: StatusCompleted}, 0)
	client := newTestClient(fp)

	if _, err := client.Get(context.Background(), "no-such-id"); err == nil {
		t.Error("expected error for unknown transcript")
	}
}

func TestTranscriptTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{StatusQueued, false},
		{StatusProcessing, false},
		{StatusCompleted, true},
		{StatusError, true},
	}
	for _, tc := range tests {
		tr := &Transcript{Status: tc.status}
		if got := tr.Terminal(); got != tc.want {
			t.Errorf("Terminal(%s) = %v, want %v", tc.status, got, tc.want)
		}
	}
}
