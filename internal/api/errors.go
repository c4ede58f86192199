// SPDX-License-Identifier: MIT

// Package api exposes the HTTP surface of the v2d daemon: recording upload,
// job status polling and health.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ManuGH/v2d/internal/log"
)

// APIError is the JSON error envelope. Code values are stable and part of
// the client contract.
type APIError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId,omitempty"`
}

// Error codes returned by the HTTP layer.
const (
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeForbidden        = "FORBIDDEN"
	CodeJobNotFound      = "JOB_NOT_FOUND"
	CodeDecisionNotFound = "DECISION_NOT_FOUND"
	CodeNoAudioFile      = "NO_AUDIO_FILE"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodePayloadTooLarge  = "PAYLOAD_TOO_LARGE"
	CodeStorageFailed    = "STORAGE_FAILED"
	CodeRateLimited      = "RATE_LIMITED"
	CodeInternal         = "INTERNAL_ERROR"
)

var errStatus = map[string]int{
	CodeUnauthorized:     http.StatusUnauthorized,
	CodeForbidden:        http.StatusForbidden,
	CodeJobNotFound:      http.StatusNotFound,
	CodeDecisionNotFound: http.StatusNotFound,
	CodeNoAudioFile:      http.StatusBadRequest,
	CodeInvalidRequest:   http.StatusBadRequest,
	CodePayloadTooLarge:  http.StatusRequestEntityTooLarge,
	CodeStorageFailed:    http.StatusInternalServerError,
	CodeRateLimited:      http.StatusTooManyRequests,
	CodeInternal:         http.StatusInternalServerError,
}

// RespondError writes the error envelope for code, tagging it with the
// request ID from the context.
func RespondError(w http.ResponseWriter, r *http.Request, code, message string) {
	status, ok := errStatus[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	RespondJSON(w, status, APIError{
		Code:      code,
		Message:   message,
		RequestID: log.RequestIDFromContext(r.Context()),
	})
}

// RespondJSON writes v with the given status. Encoding failures are logged,
// not surfaced; the status line is already on the wire.
func RespondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger := log.WithComponent("api")
		logger.Error().Err(err).
			Str("event", "api.encode_failed").
			Msg("failed to encode response body")
	}
}
