// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/v2d/internal/auth"
	"github.com/ManuGH/v2d/internal/decision"
	"github.com/ManuGH/v2d/internal/jobs"
	"github.com/ManuGH/v2d/internal/storage"
)

type stubTranscriber struct{}

func (stubTranscriber) Transcribe(context.Context, string) (decision.Transcript, error) {
	return decision.Transcript{Text: "should I adopt a dog", Confidence: 0.97}, nil
}

type stubExtractor struct{}

func (stubExtractor) Extract(_ context.Context, t decision.Transcript) (decision.Extraction, error) {
	return decision.Extraction{
		Title:          "Adopt a dog?",
		Options:        []decision.Option{{Label: "Yes"}, {Label: "Not yet"}},
		EmotionalState: decision.EmotionHopeful,
		Confidence:     0.9,
		Transcription:  t.Text,
	}, nil
}

// TestUploadToDecisionEndToEnd walks the whole path a client sees: upload a
// recording, poll until the job completes, then load the decision it
// produced.
func TestUploadToDecisionEndToEnd(t *testing.T) {
	dir := t.TempDir()

	blobs, err := storage.NewLocal(dir)
	require.NoError(t, err)

	store, err := decision.OpenStore(filepath.Join(dir, "decisions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	registry := jobs.NewMemoryRegistry()
	pipeline, err := jobs.NewPipeline(jobs.PipelineDeps{
		Registry:     registry,
		Transcriber:  stubTranscriber{},
		Extractor:    stubExtractor{},
		Decisions:    store,
		StageTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	srv := NewServer(Deps{
		Registry:       registry,
		Store:          blobs,
		Pipeline:       pipeline,
		Decisions:      store,
		Auth:           auth.NewAuthenticator(map[string]string{"tok-alice": "alice"}),
		MaxUploadBytes: 1 << 20,
	})
	handler := srv.Router()

	body, ct := multipartBody(t, "audio", "dog.webm", []byte("woof-audio"))
	req := httptest.NewRequest(http.MethodPost, "/recordings/upload", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer tok-alice")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var up uploadResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &up))

	pipeline.Wait()

	req = httptest.NewRequest(http.MethodGet, "/recordings/"+up.JobID+"/status", nil)
	req.Header.Set("Authorization", "Bearer tok-alice")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var st statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.Equal(t, "completed", st.Status)
	assert.Equal(t, 100, st.Progress)
	require.NotEmpty(t, st.DecisionID)
	assert.Empty(t, st.ErrorCode)

	d, err := store.Get(context.Background(), st.DecisionID)
	require.NoError(t, err)
	assert.Equal(t, "alice", d.UserID)
	assert.Equal(t, "Adopt a dog?", d.Title)
	assert.Equal(t, decision.EmotionHopeful, d.EmotionalState)
	assert.Equal(t, decision.DefaultCategory, d.Category, "missing model category falls back to the default")
	assert.Equal(t, up.AudioURL, d.AudioURL)
	assert.Equal(t, decision.StatusDraft, d.Status)
	require.Len(t, d.Options, 2)

	// The audio landed under the data dir.
	assert.True(t, bytes.HasPrefix([]byte(up.AudioURL), []byte("/audio/alice/")))

	// The decision is also reachable through the API.
	req = httptest.NewRequest(http.MethodGet, "/decisions/"+st.DecisionID, nil)
	req.Header.Set("Authorization", "Bearer tok-alice")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var fetched decision.Decision
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	assert.Equal(t, "Adopt a dog?", fetched.Title)
}
