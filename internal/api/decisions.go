// SPDX-License-Identifier: MIT

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/ManuGH/v2d/internal/decision"
	"github.com/ManuGH/v2d/internal/log"
)

// handleListDecisions returns the caller's decisions, newest first. The
// optional limit query parameter caps the page size.
func (s *Server) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := log.UserIDFromContext(ctx)

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			RespondError(w, r, CodeInvalidRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	list, err := s.deps.Decisions.ListByUser(ctx, userID, limit)
	if err != nil {
		logger := log.WithComponentFromContext(ctx, "api.decisions")
		logger.Error().Err(err).
			Str("event", "decisions.list_failed").
			Msg("decision query failed")
		RespondError(w, r, CodeInternal, "could not list decisions")
		return
	}
	if list == nil {
		list = []decision.Decision{}
	}
	RespondJSON(w, http.StatusOK, map[string]any{"decisions": list})
}

// handleGetDecision returns one decision. Foreign decisions yield 403, the
// same shielding the status endpoint applies to jobs.
func (s *Server) handleGetDecision(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := log.UserIDFromContext(ctx)
	decisionID := chi.URLParam(r, "decisionID")

	d, err := s.deps.Decisions.Get(ctx, decisionID)
	if errors.Is(err, decision.ErrNotFound) {
		RespondError(w, r, CodeDecisionNotFound, "no such decision")
		return
	}
	if err != nil {
		logger := log.WithComponentFromContext(ctx, "api.decisions")
		logger.Error().Err(err).
			Str("event", "decisions.get_failed").
			Str(log.FieldDecisionID, decisionID).
			Msg("decision lookup failed")
		RespondError(w, r, CodeInternal, "could not look up decision")
		return
	}
	if d.UserID != userID {
		RespondError(w, r, CodeForbidden, "decision belongs to a different user")
		return
	}
	RespondJSON(w, http.StatusOK, d)
}
