// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/v2d/internal/jobs"
	"github.com/ManuGH/v2d/internal/log"
)

// statusResponse projects a job for polling clients. Terminal fields are
// omitted while empty so in-flight responses stay small.
type statusResponse struct {
	JobID        string `json:"jobId"`
	Status       string `json:"status"`
	Progress     int    `json:"progress"`
	DecisionID   string `json:"decisionId,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
}

// handleStatus returns the current state of a job. Jobs belonging to other
// users yield 403 so IDs cannot be probed across accounts; unknown IDs
// yield 404.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobID := chi.URLParam(r, "jobID")
	userID := log.UserIDFromContext(ctx)

	job, err := s.deps.Registry.Get(ctx, jobID)
	if errors.Is(err, jobs.ErrNotFound) {
		RespondError(w, r, CodeJobNotFound, "no such job")
		return
	}
	if err != nil {
		logger := log.WithComponentFromContext(ctx, "api.status")
		logger.Error().Err(err).
			Str("event", "status.lookup_failed").
			Str(log.FieldJobID, jobID).
			Msg("registry lookup failed")
		RespondError(w, r, CodeInternal, "could not look up job")
		return
	}

	if job.UserID != userID {
		RespondError(w, r, CodeForbidden, "job belongs to a different user")
		return
	}

	RespondJSON(w, http.StatusOK, statusResponse{
		JobID:        job.ID,
		Status:       string(job.Status),
		Progress:     job.Progress,
		DecisionID:   job.DecisionID,
		ErrorMessage: job.ErrorMessage,
		ErrorCode:    job.ErrorCode,
	})
}
