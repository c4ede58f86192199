// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID  = "request_id"
	FieldJobID      = "job_id"
	FieldUserID     = "user_id"
	FieldDecisionID = "decision_id"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldStage     = "stage"

	// State fields
	FieldOldStatus = "old_status"
	FieldNewStatus = "new_status"
	FieldProgress  = "progress"

	// Error taxonomy
	FieldErrorCode = "error_code"

	// Payload fields
	FieldAudioURL = "audio_url"
	FieldBytes    = "bytes"
)
