// SPDX-License-Identifier: MIT

// Package transcribe calls a hosted speech-to-text service. The wire
// protocol is upload-then-poll: raw audio bytes are uploaded first, then a
// transcript job is created and polled until it settles.
package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/ManuGH/v2d/internal/decision"
	"github.com/ManuGH/v2d/internal/log"
)

// Config holds the transcription service settings.
type Config struct {
	BaseURL string
	APIKey  string
	// PollInterval between transcript status checks. Defaults to 2s.
	PollInterval time.Duration
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client implements the Transcriber collaborator over HTTP.
type Client struct {
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	http         *http.Client
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("transcribe: base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("transcribe: API key is required")
	}
	interval := cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:      cfg.BaseURL,
		apiKey:       cfg.APIKey,
		pollInterval: interval,
		http:         httpClient,
	}, nil
}

type uploadResponse struct {
	UploadURL string `json:"upload_url"`
}

type transcriptRequest struct {
	AudioURL string `json:"audio_url"`
}

type transcriptResponse struct {
	ID         string  `json:"id"`
	Status     string  `json:"status"` // queued | processing | completed | error
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	AudioMS    int64   `json:"audio_duration_ms"`
	Error      string  `json:"error"`
}

// Transcribe uploads the audio file at audioPath and waits for the service
// to produce a transcript. It returns as soon as the transcript job settles,
// the context expires, or the service reports an error.
func (c *Client) Transcribe(ctx context.Context, audioPath string) (decision.Transcript, error) {
	logger := log.WithComponentFromContext(ctx, "transcribe")

	audio, err := os.ReadFile(audioPath)
	if err != nil {
		return decision.Transcript{}, fmt.Errorf("transcribe: read audio: %w", err)
	}
	if len(audio) == 0 {
		return decision.Transcript{}, errors.New("transcribe: audio file is empty")
	}

	uploadURL, err := c.upload(ctx, audio)
	if err != nil {
		return decision.Transcript{}, err
	}

	id, err := c.createTranscript(ctx, uploadURL)
	if err != nil {
		return decision.Transcript{}, err
	}
	logger.Debug().
		Str("event", "transcribe.submitted").
		Str("transcript_id", id).
		Int(log.FieldBytes, len(audio)).
		Msg("transcript job submitted")

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return decision.Transcript{}, fmt.Errorf("transcribe: %w", ctx.Err())
		case <-ticker.C:
		}

		tr, err := c.getTranscript(ctx, id)
		if err != nil {
			return decision.Transcript{}, err
		}
		switch tr.Status {
		case "completed":
			return decision.Transcript{
				Text:       tr.Text,
				Confidence: tr.Confidence,
				DurationMS: tr.AudioMS,
			}, nil
		case "error":
			return decision.Transcript{}, fmt.Errorf("transcribe: service error: %s", tr.Error)
		case "queued", "processing":
			// keep polling
		default:
			return decision.Transcript{}, fmt.Errorf("transcribe: unknown status %q", tr.Status)
		}
	}
}

func (c *Client) upload(ctx context.Context, audio []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/upload", bytes.NewReader(audio))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")

	var out uploadResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("transcribe: upload failed: %w", err)
	}
	if out.UploadURL == "" {
		return "", errors.New("transcribe: upload response missing upload_url")
	}
	return out.UploadURL, nil
}

func (c *Client) createTranscript(ctx context.Context, audioURL string) (string, error) {
	body, err := json.Marshal(transcriptRequest{AudioURL: audioURL})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/transcript", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var out transcriptResponse
	if err := c.do(req, &out); err != nil {
		return "", fmt.Errorf("transcribe: create transcript failed: %w", err)
	}
	if out.ID == "" {
		return "", errors.New("transcribe: create response missing id")
	}
	return out.ID, nil
}

func (c *Client) getTranscript(ctx context.Context, id string) (*transcriptResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v2/transcript/"+id, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.apiKey)

	var out transcriptResponse
	if err := c.do(req, &out); err != nil {
		return nil, fmt.Errorf("transcribe: poll failed: %w", err)
	}
	return &out, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
	}
	return json.Unmarshal(body, out)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
