// SPDX-License-Identifier: MIT

// Package poll implements the client side of the recordings API: uploading
// audio and polling a job until it reaches a terminal state.
package poll

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"
)

// Defaults for the polling loop. Two seconds matches the progress cadence
// of the server-side pipeline; sixty attempts bounds a poll session at about
// two minutes.
const (
	DefaultInterval    = 2 * time.Second
	DefaultMaxAttempts = 60
)

// ErrPollTimeout is returned when the job did not settle within the attempt
// budget. The job may still finish server-side; polling can be resumed.
var ErrPollTimeout = errors.New("poll: job did not settle in time")

// PipelineError reports a job that ended in the failed state.
type PipelineError struct {
	Code    string
	Message string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("poll: job failed with %s: %s", e.Code, e.Message)
}

// Client talks to a v2d daemon.
type Client struct {
	baseURL     string
	token       string
	interval    time.Duration
	maxAttempts int
	http        *http.Client
}

// Option adjusts a Client.
type Option func(*Client)

// WithInterval overrides the poll interval.
func WithInterval(d time.Duration) Option {
	return func(c *Client) { c.interval = d }
}

// WithMaxAttempts overrides the attempt budget.
func WithMaxAttempts(n int) Option {
	return func(c *Client) { c.maxAttempts = n }
}

// WithHTTPClient overrides the HTTP client, mainly for tests.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// New builds a Client for the daemon at baseURL.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL:     baseURL,
		token:       token,
		interval:    DefaultInterval,
		maxAttempts: DefaultMaxAttempts,
		http:        &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// UploadResult is the server's acknowledgement of an accepted recording.
type UploadResult struct {
	JobID    string `json:"jobId"`
	Status   string `json:"status"`
	AudioURL string `json:"audioUrl"`
	Message  string `json:"message"`
}

// JobStatus is one observation of a job.
type JobStatus struct {
	JobID        string `json:"jobId"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	DecisionID   string `json:"decisionId"`
	ErrorMessage string `json:"errorMessage"`
	ErrorCode    string `json:"errorCode"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Upload sends audio as a multipart recording and returns the accepted job.
func (c *Client) Upload(ctx context.Context, filename string, audio []byte) (*UploadResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", filename)
	if err != nil {
		return nil, err
	}
	if _, err := fw.Write(audio); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/recordings/upload", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll: upload failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusAccepted {
		return nil, remoteError(resp.StatusCode, body)
	}

	var out UploadResult
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("poll: malformed upload response: %w", err)
	}
	if out.JobID == "" {
		return nil, errors.New("poll: upload response missing jobId")
	}
	return &out, nil
}

// Retry re-submits the same audio bytes after a failed or timed-out job.
// The server treats it as a fresh upload, so the result carries a new job ID
// unrelated to the previous attempt.
func (c *Client) Retry(ctx context.Context, filename string, audio []byte) (*UploadResult, error) {
	return c.Upload(ctx, filename, audio)
}

// Status fetches the current state of a job once.
func (c *Client) Status(ctx context.Context, jobID string) (*JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/recordings/"+jobID+"/status", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("poll: status request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, remoteError(resp.StatusCode, body)
	}

	var out JobStatus
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("poll: malformed status response: %w", err)
	}
	return &out, nil
}

// Wait polls the job until it settles. It returns the decision ID on
// completion, a *PipelineError on failure, ErrPollTimeout when the attempt
// budget runs out, and the context error on cancellation. A completed job
// without a decision ID is reported as an error rather than returned
// silently.
func (c *Client) Wait(ctx context.Context, jobID string, onProgress func(JobStatus)) (string, error) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		st, err := c.Status(ctx, jobID)
		if err != nil {
			return "", err
		}
		if onProgress != nil {
			onProgress(*st)
		}

		switch st.Status {
		case "completed":
			if st.DecisionID == "" {
				return "", fmt.Errorf("poll: job %s completed without a decision id", jobID)
			}
			return st.DecisionID, nil
		case "failed":
			return "", &PipelineError{Code: st.ErrorCode, Message: st.ErrorMessage}
		case "pending", "processing":
			// keep polling
		default:
			return "", fmt.Errorf("poll: unknown job status %q", st.Status)
		}
	}
	return "", ErrPollTimeout
}

func remoteError(status int, body []byte) error {
	var apiErr apiError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Code != "" {
		return fmt.Errorf("poll: server returned %d %s: %s", status, apiErr.Code, apiErr.Message)
	}
	return fmt.Errorf("poll: server returned %d", status)
}
