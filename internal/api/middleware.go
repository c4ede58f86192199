// SPDX-License-Identifier: MIT

package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/ManuGH/v2d/internal/auth"
	"github.com/ManuGH/v2d/internal/log"
)

const requestIDHeader = "X-Request-Id"

// RequestID assigns each request a UUID (or adopts the caller's) and places
// it in the context and the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" || len(id) > 64 {
			id = uuid.NewString()
		}
		ctx := log.ContextWithRequestID(r.Context(), id)
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Recoverer converts panics in handlers into a 500 envelope instead of
// tearing down the connection.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger := log.WithComponentFromContext(r.Context(), "api")
				logger.Error().
					Str("event", "api.panic").
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Msg("handler panicked")
				RespondError(w, r, CodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Authenticate resolves the bearer token to a user and stores the user ID in
// the context. Requests without a valid token get 401. With no tokens
// configured the API fails closed.
func Authenticate(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := a.Resolve(auth.ExtractToken(r))
			if !ok {
				RespondError(w, r, CodeUnauthorized, "missing or invalid token")
				return
			}
			ctx := log.ContextWithUserID(r.Context(), user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
