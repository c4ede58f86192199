// SPDX-License-Identifier: MIT

package poll

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	opts = append([]Option{
		WithInterval(time.Millisecond),
		WithHTTPClient(srv.Client()),
	}, opts...)
	return New(srv.URL, "tok-alice", opts...)
}

func TestUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/recordings/upload", r.URL.Path)
		assert.Equal(t, "Bearer tok-alice", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		file, header, err := r.FormFile("audio")
		require.NoError(t, err)
		defer func() { _ = file.Close() }()
		assert.Equal(t, "note.webm", header.Filename)

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(UploadResult{
			JobID: "job-1", Status: "pending", AudioURL: "/audio/alice/note.webm",
		})
	}))
	defer srv.Close()

	res, err := newTestClient(srv).Upload(context.Background(), "note.webm", []byte("bytes"))
	require.NoError(t, err)
	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, "pending", res.Status)
}

func TestUploadRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "NO_AUDIO_FILE", "message": "no audio file provided"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Upload(context.Background(), "a.webm", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NO_AUDIO_FILE")
}

func TestRetryGetsFreshJob(t *testing.T) {
	var uploads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/recordings/upload", r.URL.Path)
		n := uploads.Add(1)
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(UploadResult{
			JobID: fmt.Sprintf("job-%d", n), Status: "pending",
		})
	}))
	defer srv.Close()

	c := newTestClient(srv)
	first, err := c.Upload(context.Background(), "note.webm", []byte("bytes"))
	require.NoError(t, err)

	// After a pipeline failure the same bytes go back up as a new job.
	second, err := c.Retry(context.Background(), "note.webm", []byte("bytes"))
	require.NoError(t, err)
	assert.NotEqual(t, first.JobID, second.JobID)
	assert.Equal(t, "pending", second.Status)
	assert.Equal(t, int32(2), uploads.Load())
}

func statusSequence(t *testing.T, responses []JobStatus) *httptest.Server {
	t.Helper()
	var calls atomic.Int32
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := int(calls.Add(1)) - 1
		if i >= len(responses) {
			i = len(responses) - 1
		}
		_ = json.NewEncoder(w).Encode(responses[i])
	}))
}

func TestWaitCompletes(t *testing.T) {
	srv := statusSequence(t, []JobStatus{
		{JobID: "job-1", Status: "pending", Progress: 0},
		{JobID: "job-1", Status: "processing", Progress: 30},
		{JobID: "job-1", Status: "processing", Progress: 70},
		{JobID: "job-1", Status: "completed", Progress: 100, DecisionID: "dec-5"},
	})
	defer srv.Close()

	var seen []int
	decisionID, err := newTestClient(srv).Wait(context.Background(), "job-1", func(st JobStatus) {
		seen = append(seen, st.Progress)
	})
	require.NoError(t, err)
	assert.Equal(t, "dec-5", decisionID)
	assert.Equal(t, []int{0, 30, 70, 100}, seen)
}

func TestWaitPipelineFailure(t *testing.T) {
	srv := statusSequence(t, []JobStatus{
		{JobID: "job-1", Status: "processing", Progress: 10},
		{JobID: "job-1", Status: "failed", Progress: 10, ErrorCode: "TRANSCRIPTION_FAILED", ErrorMessage: "upstream 503"},
	})
	defer srv.Close()

	_, err := newTestClient(srv).Wait(context.Background(), "job-1", nil)
	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "TRANSCRIPTION_FAILED", pe.Code)
	assert.Equal(t, "upstream 503", pe.Message)
}

func TestWaitTimeout(t *testing.T) {
	srv := statusSequence(t, []JobStatus{
		{JobID: "job-1", Status: "processing", Progress: 30},
	})
	defer srv.Close()

	_, err := newTestClient(srv, WithMaxAttempts(3)).Wait(context.Background(), "job-1", nil)
	assert.ErrorIs(t, err, ErrPollTimeout)
}

func TestWaitContextCancel(t *testing.T) {
	srv := statusSequence(t, []JobStatus{
		{JobID: "job-1", Status: "processing", Progress: 30},
	})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := newTestClient(srv, WithInterval(10*time.Millisecond)).Wait(ctx, "job-1", nil)
		done <- err
	}()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after cancel")
	}
}

func TestWaitCompletedWithoutDecisionID(t *testing.T) {
	srv := statusSequence(t, []JobStatus{
		{JobID: "job-1", Status: "completed", Progress: 100},
	})
	defer srv.Close()

	_, err := newTestClient(srv).Wait(context.Background(), "job-1", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "without a decision id")
}

func TestStatusNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"code": "JOB_NOT_FOUND", "message": "no such job"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv).Status(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JOB_NOT_FOUND")
}
