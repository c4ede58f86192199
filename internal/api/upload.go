// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/ManuGH/v2d/internal/log"
	"github.com/ManuGH/v2d/internal/metrics"
)

// uploadResponse is the 202 body for an accepted recording.
type uploadResponse struct {
	JobID    string `json:"jobId"`
	Status   string `json:"status"`
	AudioURL string `json:"audioUrl"`
	Message  string `json:"message"`
}

// handleUpload accepts a multipart recording, stores the blob, registers a
// pending job and launches the pipeline. It returns 202 before any
// processing happens; clients poll the status endpoint.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := log.UserIDFromContext(ctx)
	logger := log.WithComponentFromContext(ctx, "api.upload")

	r.Body = http.MaxBytesReader(w, r.Body, s.deps.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.deps.MaxUploadBytes); err != nil {
		if tooLarge(err) {
			metrics.UploadsRejected.WithLabelValues("too_large").Inc()
			RespondError(w, r, CodePayloadTooLarge, "recording exceeds the upload limit")
			return
		}
		metrics.UploadsRejected.WithLabelValues("bad_multipart").Inc()
		RespondError(w, r, CodeNoAudioFile, "request is not valid multipart form data")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		metrics.UploadsRejected.WithLabelValues("no_file").Inc()
		RespondError(w, r, CodeNoAudioFile, "no audio file provided in field 'audio'")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		if tooLarge(err) {
			metrics.UploadsRejected.WithLabelValues("too_large").Inc()
			RespondError(w, r, CodePayloadTooLarge, "recording exceeds the upload limit")
			return
		}
		metrics.UploadsRejected.WithLabelValues("read_failed").Inc()
		RespondError(w, r, CodeNoAudioFile, "could not read audio file")
		return
	}
	if len(data) == 0 {
		metrics.UploadsRejected.WithLabelValues("empty").Inc()
		RespondError(w, r, CodeNoAudioFile, "audio file is empty")
		return
	}

	stored, err := s.deps.Store.Put(ctx, userID, header.Filename, data)
	if err != nil {
		logger.Error().Err(err).
			Str("event", "upload.storage_failed").
			Msg("could not persist audio")
		metrics.UploadsRejected.WithLabelValues("storage").Inc()
		RespondError(w, r, CodeStorageFailed, "could not store the recording")
		return
	}

	job, err := s.deps.Registry.Create(ctx, userID, stored.URL)
	if err != nil {
		logger.Error().Err(err).
			Str("event", "upload.registry_failed").
			Msg("could not register job")
		RespondError(w, r, CodeInternal, "could not register the processing job")
		return
	}
	metrics.JobsCreated.Inc()

	s.deps.Pipeline.Launch(ctx, job, stored.Path)

	logger.Info().
		Str(log.FieldEvent, "upload.accepted").
		Str(log.FieldJobID, job.ID).
		Int(log.FieldBytes, len(data)).
		Str(log.FieldAudioURL, stored.URL).
		Msg("recording accepted for processing")

	RespondJSON(w, http.StatusAccepted, uploadResponse{
		JobID:    job.ID,
		Status:   string(job.Status),
		AudioURL: stored.URL,
		Message:  "Recording received. Poll the status endpoint for the result.",
	})
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
