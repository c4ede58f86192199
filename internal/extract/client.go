// SPDX-License-Identifier: MIT

// Package extract turns a raw transcript into a structured decision using a
// chat-completions style language model API.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ManuGH/v2d/internal/decision"
	"github.com/ManuGH/v2d/internal/log"
)

const systemPrompt = `You analyze a spoken note about a decision the speaker is facing.
Respond with a single JSON object and nothing else:
{
  "title": "short decision question",
  "description": "one or two sentences of context",
  "options": [
    {"label": "option name",
     "pros": [{"text": "...", "weight": 1-10}],
     "cons": [{"text": "...", "weight": 1-10}]}
  ],
  "emotionalState": "calm|confident|anxious|excited|uncertain|stressed|neutral|hopeful|frustrated",
  "suggestedCategory": "short category such as Career, Personal, Finance, Health",
  "confidence": 0.0-1.0
}`

// fallbackConfidence marks an extraction where the model output could not be
// used and the transcript itself stands in as the decision title.
const fallbackConfidence = 0.3

const maxFallbackTitle = 120

// Config holds the extraction service settings.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	// HTTPClient overrides the default client, mainly for tests.
	HTTPClient *http.Client
}

// Client implements the Extractor collaborator over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("extract: base URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("extract: API key is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("extract: model is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{baseURL: cfg.BaseURL, apiKey: cfg.APIKey, model: cfg.Model, http: httpClient}, nil
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// modelExtraction mirrors the JSON shape the prompt demands.
type modelExtraction struct {
	Title             string            `json:"title"`
	Description       string            `json:"description"`
	Options           []decision.Option `json:"options"`
	EmotionalState    string            `json:"emotionalState"`
	SuggestedCategory string            `json:"suggestedCategory"`
	Confidence        float64           `json:"confidence"`
}

// Extract sends the transcript to the model and parses its structured reply.
// Transport and API errors propagate to the caller. If the model answers but
// its output cannot be parsed into a usable decision, Extract degrades to a
// low-confidence extraction that keeps the transcript as the title, so the
// speaker's recording is never silently lost.
func (c *Client) Extract(ctx context.Context, t decision.Transcript) (decision.Extraction, error) {
	logger := log.WithComponentFromContext(ctx, "extract")

	text := strings.TrimSpace(t.Text)
	if text == "" {
		return decision.Extraction{}, errors.New("extract: empty transcript")
	}

	raw, err := c.complete(ctx, text)
	if err != nil {
		return decision.Extraction{}, err
	}

	var parsed modelExtraction
	if err := json.Unmarshal([]byte(stripFences(raw)), &parsed); err != nil || strings.TrimSpace(parsed.Title) == "" {
		logger.Warn().
			Str("event", "extract.fallback").
			Int("raw_chars", len(raw)).
			Msg("model output unusable, keeping transcript as draft title")
		return fallback(t, text), nil
	}

	state := decision.EmotionalState(parsed.EmotionalState)
	if !state.Valid() {
		state = decision.EmotionNeutral
	}
	confidence := parsed.Confidence
	if confidence <= 0 || confidence > 1 {
		confidence = fallbackConfidence
	}

	return decision.Extraction{
		Title:             strings.TrimSpace(parsed.Title),
		Description:       strings.TrimSpace(parsed.Description),
		Options:           parsed.Options,
		EmotionalState:    state,
		SuggestedCategory: strings.TrimSpace(parsed.SuggestedCategory),
		Confidence:        confidence,
		Transcription:     text,
		DurationMS:        t.DurationMS,
	}, nil
}

func fallback(t decision.Transcript, transcript string) decision.Extraction {
	title := transcript
	if len(title) > maxFallbackTitle {
		title = title[:maxFallbackTitle] + "..."
	}
	return decision.Extraction{
		Title:          title,
		Options:        []decision.Option{},
		EmotionalState: decision.EmotionNeutral,
		Confidence:     fallbackConfidence,
		Transcription:  transcript,
		DurationMS:     t.DurationMS,
	}
}

func (c *Client) complete(ctx context.Context, transcript string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: transcript},
		},
		Temperature:    0.2,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("extract: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("extract: unexpected status %d", resp.StatusCode)
	}

	var out chatResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("extract: malformed response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("extract: api error: %s", out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", errors.New("extract: response has no choices")
	}
	return out.Choices[0].Message.Content, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON in
// one despite the prompt.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
