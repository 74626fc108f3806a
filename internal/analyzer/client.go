package analyzer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkessler/classpulse/internal/config"
	"github.com/dkessler/classpulse/internal/prompts"
	"github.com/go-resty/resty/v2"
)

// Service abstracts the analysis model backend so workers can be tested
// against a fake.
type Service interface {
	Score(ctx context.Context, transcript string) (string, error)
	Recommend(ctx context.Context, transcript, analysis string) (string, error)
}

// Client calls an Ollama-compatible generation API for transcript analysis.
type Client struct {
	client        *resty.Client
	baseURL       string
	scoringModel  string
	coachingModel string
}

// NewClient creates an analysis client from configuration.
// Parameters:
//   - cfg: analyzer configuration including base URL and model names.
// Returns:
//   - *Client: initialized client.
func NewClient(cfg *config.AnalyzerConfig) *Client {
	client := resty.New()
	client.SetHeader("Content-Type", "application/json")
	// Local models can be slow on long transcripts
	client.SetTimeout(5 * time.Minute)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	return &Client{
		client:        client,
		baseURL:       baseURL,
		scoringModel:  cfg.ScoringModel,
		coachingModel: cfg.CoachingModel,
	}
}

type generateRequest struct {
	Model  string `json:"model"`
	System string `json:"system,omitempty"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
	Format string `json:"format,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

func (c *Client) generate(ctx context.Context, model, system, prompt string) (string, error) {
	var resp generateResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(generateRequest{
			Model:  model,
			System: system,
			Prompt: prompt,
			Stream: false,
			Format: "json",
		}).
		SetResult(&resp).
		Post(c.baseURL + "/api/generate")
	if err != nil {
		return "", fmt.Errorf("failed to call analysis API: %w", err)
	}
	if httpResp.IsError() {
		return "", fmt.Errorf("analysis API returned HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
	}
	if resp.Error != "" {
		return "", fmt.Errorf("analysis API error: %s", resp.Error)
	}
	if resp.Response == "" {
		return "", errors.New("analysis API returned empty response")
	}
	return resp.Response, nil
}

// Score runs classroom interaction scoring over a transcript.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - transcript: full transcript text.
// Returns:
//   - string: serialized JSON analysis result.
//   - error: non-nil if the request fails or the model errors.
func (c *Client) Score(ctx context.Context, transcript string) (string, error) {
	return c.generate(ctx, c.scoringModel,
		prompts.ScoringSystemPrompt,
		fmt.Sprintf(prompts.ScoringUserPrompt, transcript))
}

// Recommend generates coaching recommendations from a transcript and its
// prior scoring result.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - transcript: full transcript text.
//   - analysis: serialized scoring result from Score.
// Returns:
//   - string: serialized JSON coaching result.
//   - error: non-nil if the request fails or the model errors.
func (c *Client) Recommend(ctx context.Context, transcript, analysis string) (string, error) {
	return c.generate(ctx, c.coachingModel,
		prompts.CoachingSystemPrompt,
		fmt.Sprintf(prompts.CoachingUserPrompt, analysis, transcript))
}
