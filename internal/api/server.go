// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/ManuGH/v2d/internal/auth"
	"github.com/ManuGH/v2d/internal/decision"
	"github.com/ManuGH/v2d/internal/jobs"
	"github.com/ManuGH/v2d/internal/log"
	"github.com/ManuGH/v2d/internal/metrics"
	"github.com/ManuGH/v2d/internal/storage"
)

// BlobStore persists uploaded audio.
type BlobStore interface {
	Put(ctx context.Context, userID, filename string, data []byte) (storage.Stored, error)
}

// Launcher starts background processing for an accepted job.
type Launcher interface {
	Launch(ctx context.Context, job jobs.Job, audioPath string)
}

// DecisionReader serves persisted decisions to their owners.
type DecisionReader interface {
	Get(ctx context.Context, id string) (*decision.Decision, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]decision.Decision, error)
}

// Deps bundles everything the HTTP server needs.
type Deps struct {
	Registry  jobs.Registry
	Store     BlobStore
	Pipeline  Launcher
	Decisions DecisionReader
	Auth      *auth.Authenticator

	// MaxUploadBytes caps the request body on the upload endpoint.
	MaxUploadBytes int64
	// UploadRateLimit is requests per minute per client IP; zero disables
	// rate limiting.
	UploadRateLimit int
}

// Server serves the recordings API.
type Server struct {
	deps Deps
}

// NewServer wires the handler dependencies.
func NewServer(deps Deps) *Server {
	return &Server{deps: deps}
}

// Router builds the chi handler with the full middleware stack. Order
// matters: recovery outermost, then request ID so every later log line and
// error envelope carries it.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(Recoverer)
	r.Use(RequestID)
	r.Use(metrics.Middleware())
	r.Use(log.Middleware())

	r.Get("/healthz", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(s.deps.Auth))

		r.Group(func(r chi.Router) {
			if s.deps.UploadRateLimit > 0 {
				r.Use(httprate.Limit(
					s.deps.UploadRateLimit,
					time.Minute,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(func(w http.ResponseWriter, req *http.Request) {
						RespondError(w, req, CodeRateLimited, "too many uploads, slow down")
					}),
				))
			}
			r.Post("/recordings/upload", s.handleUpload)
		})

		r.Get("/recordings/{jobID}/status", s.handleStatus)

		r.Get("/decisions", s.handleListDecisions)
		r.Get("/decisions/{decisionID}", s.handleGetDecision)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
