package analyzer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dkessler/classpulse/internal/config"
)

func newFakeModel(t *testing.T, handler func(req map[string]interface{}) map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var req map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		json.NewEncoder(w).Encode(handler(req))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestScore(t *testing.T) {
	var gotModel, gotPrompt string
	srv := newFakeModel(t, func(req map[string]interface{}) map[string]interface{} {
		gotModel, _ = req["model"].(string)
		gotPrompt, _ = req["prompt"].(string)
		if stream, _ := req["stream"].(bool); stream {
			t.Error("stream must be disabled")
		}
		return map[string]interface{}{"response": `{"questioning":4}`, "done": true}
	})

	client := NewClient(&config.AnalyzerConfig{
		BaseURL:      srv.URL,
		ScoringModel: "llama3.1",
	})
	result, err := client.Score(context.Background(), "today we factor quadratics")
	if err != nil {
		t.Fatalf("score failed: %v", err)
	}
	if result != `{"questioning":4}` {
		t.Errorf("result = %q", result)
	}
	if gotModel != "llama3.1" {
		t.Errorf("model = %q", gotModel)
	}
	if !strings.Contains(gotPrompt, "today we factor quadratics") {
		t.Errorf("prompt missing transcript: %q", gotPrompt)
	}
}

func TestRecommendIncludesAnalysis(t *testing.T) {
	var gotPrompt string
	srv := newFakeModel(t, func(req map[string]interface{}) map[string]interface{} {
		gotPrompt, _ = req["prompt"].(string)
		return map[string]interface{}{"response": `{"strengths":[]}`, "done": true}
	})

	client := NewClient(&config.AnalyzerConfig{
		BaseURL:       srv.URL,
		CoachingModel: "llama3.1",
	})
	result, err := client.Recommend(context.Background(), "transcript text", `{"questioning":4}`)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if result != `{"strengths":[]}` {
		t.Errorf("result = %q", result)
	}
	if !strings.Contains(gotPrompt, `{"questioning":4}`) || !strings.Contains(gotPrompt, "transcript text") {
		t.Errorf("prompt missing inputs: %q", gotPrompt)
	}
}

func TestGenerateSurfacesModelError(t *testing.T) {
	srv := newFakeModel(t, func(req map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"error": "model not found"}
	})

	client := NewClient(&config.AnalyzerConfig{BaseURL: srv.URL, ScoringModel: "missing"})
	if _, err := client.Score(context.Background(), "text"); err == nil {
		t.Error("expected model error to surface")
	}
}

func TestGenerateRejectsEmptyResponse(t *testing.T) {
	srv := newFakeModel(t, func(req map[string]interface{}) map[string]interface{} {
		return map[string]interface{}{"response": "", "done": true}
	})

	client := NewClient(&config.AnalyzerConfig{BaseURL: srv.URL, ScoringModel: "llama3.1"})
	if _, err := client.Score(context.Background(), "text"); err == nil {
		t.Error("expected error for empty response")
	}
}
