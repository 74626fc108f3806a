package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/dkessler/classpulse/internal/config"
	"github.com/go-resty/resty/v2"
)

// Transcript statuses reported by the provider.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

// ErrPollTimeout is returned by Await when the transcript does not reach a
// terminal status within the configured poll timeout.
var ErrPollTimeout = errors.New("transcript polling timed out")

// Transcript is the provider-side transcription job state.
type Transcript struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"`
	Text       string  `json:"text"`
	Error      string  `json:"error,omitempty"`
	Words      int     `json:"words,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Terminal reports whether the transcript has finished, successfully or not.
func (t *Transcript) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusError
}

// Service abstracts the speech-to-text provider so workers can be tested
// against a fake.
type Service interface {
	Upload(ctx context.Context, audio io.Reader) (string, error)
	Submit(ctx context.Context, audioURL string) (*Transcript, error)
	Get(ctx context.Context, transcriptID string) (*Transcript, error)
	Await(ctx context.Context, transcriptID string, onPoll func(*Transcript)) (*Transcript, error)
}

// Client calls an AssemblyAI-compatible transcription API.
type Client struct {
	client       *resty.Client
	baseURL      string
	pollInterval time.Duration
	pollTimeout  time.Duration
}

// NewClient creates a transcription client from configuration.
// Parameters:
//   - cfg: transcriber configuration including API key and base URL.
// Returns:
//   - *Client: initialized client.
func NewClient(cfg *config.TranscriberConfig) *Client {
	client := resty.New()
	client.SetHeader("Authorization", cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")
	client.SetTimeout(60 * time.Second)

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.assemblyai.com/v2"
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 5 * time.Minute
	}

	return &Client{
		client:       client,
		baseURL:      baseURL,
		pollInterval: pollInterval,
		pollTimeout:  pollTimeout,
	}
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type submitRequest struct {
	AudioURL      string `json:"audio_url"`
	SpeakerLabels bool   `json:"speaker_labels"`
	Punctuate     bool   `json:"punctuate"`
}

type apiError struct {
	Error string `json:"error"`
}

// Upload streams raw audio to the provider's upload endpoint.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - audio: raw audio bytes.
// Returns:
//   - string: provider-hosted URL for the uploaded audio.
//   - error: non-nil if the upload fails.
func (c *Client) Upload(ctx context.Context, audio io.Reader) (string, error) {
	var resp uploadResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetBody(audio).
		SetResult(&resp).
		Post(c.baseURL + "/upload")
	if err != nil {
		return "", fmt.Errorf("failed to upload audio: %w", err)
	}
	if httpResp.IsError() {
		return "", fmt.Errorf("audio upload returned HTTP %d: %s", httpResp.StatusCode(), string(httpResp.Body()))
	}
	if resp.UploadURL == "" {
		return "", errors.New("audio upload returned empty upload_url")
	}
	return resp.UploadURL, nil
}

// Submit creates a transcription job for an already reachable audio URL.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - audioURL: URL of the audio to transcribe.
// Returns:
//   - *Transcript: accepted transcript with provider ID and initial status.
//   - error: non-nil if the submission fails.
func (c *Client) Submit(ctx context.Context, audioURL string) (*Transcript, error) {
	var resp Transcript
	var apiErr apiError
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(submitRequest{
			AudioURL:      audioURL,
			SpeakerLabels: true,
			Punctuate:     true,
		}).
		SetResult(&resp).
		SetError(&apiErr).
		Post(c.baseURL + "/transcript")
	if err != nil {
		return nil, fmt.Errorf("failed to submit transcript: %w", err)
	}
	if httpResp.IsError() {
		return nil, fmt.Errorf("transcript submission returned HTTP %d: %s", httpResp.StatusCode(), apiErr.Error)
	}
	if resp.ID == "" {
		return nil, errors.New("transcript submission returned empty id")
	}
	return &resp, nil
}

// Get fetches the current state of a transcription job.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - transcriptID: provider transcript ID.
// Returns:
//   - *Transcript: current transcript state, including text when completed.
//   - error: non-nil if the lookup fails.
func (c *Client) Get(ctx context.Context, transcriptID string) (*Transcript, error) {
	var resp Transcript
	var apiErr apiError
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetResult(&resp).
		SetError(&apiErr).
		Get(c.baseURL + "/transcript/" + transcriptID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch transcript %s: %w", transcriptID, err)
	}
	if httpResp.IsError() {
		return nil, fmt.Errorf("transcript fetch returned HTTP %d: %s", httpResp.StatusCode(), apiErr.Error)
	}
	return &resp, nil
}

// Await polls a transcription job until it reaches a terminal status.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - transcriptID: provider transcript ID.
//   - onPoll: optional callback invoked after each poll with the latest state.
// Returns:
//   - *Transcript: terminal transcript state.
//   - error: ErrPollTimeout after the poll window; ctx.Err on cancellation.
func (c *Client) Await(ctx context.Context, transcriptID string, onPoll func(*Transcript)) (*Transcript, error) {
	deadline := time.Now().Add(c.pollTimeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		transcript, err := c.Get(ctx, transcriptID)
		if err != nil {
			return nil, err
		}
		if onPoll != nil {
			onPoll(transcript)
		}
		if transcript.Terminal() {
			return transcript, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w after %s", ErrPollTimeout, c.pollTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
