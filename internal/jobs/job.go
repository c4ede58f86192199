// SPDX-License-Identifier: MIT

// Package jobs tracks asynchronous voice-processing jobs: their lifecycle
// state machine, the registries that store them, and the pipeline that
// drives them from uploaded audio to a materialized decision.
package jobs

import (
	"errors"
	"fmt"
	"time"
)

// Status is the lifecycle state of a job. Transitions are monotonic:
// pending -> processing -> completed | failed. Terminal states never change.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether the state machine allows moving from s to
// next. Self-transitions are allowed for non-terminal states so progress
// updates need no special casing.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return !s.Terminal()
	}
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCompleted || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// Stable error codes attached to failed jobs. Clients branch on these, so
// they are part of the wire contract.
const (
	CodeTranscriptionFailed   = "TRANSCRIPTION_FAILED"
	CodeExtractionFailed      = "EXTRACTION_FAILED"
	CodeMaterializationFailed = "MATERIALIZATION_FAILED"
)

var (
	// ErrNotFound is returned when a job ID is unknown to the registry.
	ErrNotFound = errors.New("jobs: not found")
	// ErrTerminal is returned when an update targets a completed or failed job.
	ErrTerminal = errors.New("jobs: job already in terminal state")
)

// Job is the tracked state of one upload, from receipt to decision.
type Job struct {
	ID           string    `json:"jobId"`
	UserID       string    `json:"userId"`
	Status       Status    `json:"status"`
	Progress     int       `json:"progress"` // 0..100
	AudioURL     string    `json:"audioUrl"`
	DecisionID   string    `json:"decisionId,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	ErrorCode    string    `json:"errorCode,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Patch describes a partial update to a job. Nil fields are left unchanged.
type Patch struct {
	Status       *Status
	Progress     *int
	DecisionID   *string
	ErrorMessage *string
	ErrorCode    *string
}

// apply validates p against the current job state and returns the updated
// copy. The job value is not mutated.
func (j Job) apply(p Patch, now time.Time) (Job, error) {
	if j.Status.Terminal() {
		return j, ErrTerminal
	}

	next := j
	if p.Status != nil {
		if !j.Status.CanTransitionTo(*p.Status) {
			return j, fmt.Errorf("jobs: illegal transition %s -> %s", j.Status, *p.Status)
		}
		next.Status = *p.Status
	}
	if p.Progress != nil {
		if *p.Progress < 0 || *p.Progress > 100 {
			return j, fmt.Errorf("jobs: progress %d out of range", *p.Progress)
		}
		if *p.Progress < j.Progress {
			return j, fmt.Errorf("jobs: progress would regress %d -> %d", j.Progress, *p.Progress)
		}
		next.Progress = *p.Progress
	}
	if p.DecisionID != nil {
		next.DecisionID = *p.DecisionID
	}
	if p.ErrorMessage != nil {
		next.ErrorMessage = *p.ErrorMessage
	}
	if p.ErrorCode != nil {
		next.ErrorCode = *p.ErrorCode
	}

	// Terminal invariants: completed carries a decision and no error,
	// failed carries an error code and no decision.
	switch next.Status {
	case StatusCompleted:
		if next.DecisionID == "" {
			return j, errors.New("jobs: completed job requires decision id")
		}
		if next.ErrorCode != "" || next.ErrorMessage != "" {
			return j, errors.New("jobs: completed job must not carry an error")
		}
		next.Progress = 100
	case StatusFailed:
		if next.ErrorCode == "" {
			return j, errors.New("jobs: failed job requires error code")
		}
		if next.DecisionID != "" {
			return j, errors.New("jobs: failed job must not carry a decision id")
		}
	}

	next.UpdatedAt = now
	return next, nil
}

// Helpers for building patches without pointer noise at call sites.

func statusPtr(s Status) *Status { return &s }
func intPtr(i int) *int          { return &i }
func strPtr(s string) *string    { return &s }

// ProgressPatch moves a job to processing at the given progress.
func ProgressPatch(progress int) Patch {
	return Patch{Status: statusPtr(StatusProcessing), Progress: intPtr(progress)}
}

// CompletePatch finishes a job successfully with the materialized decision.
func CompletePatch(decisionID string) Patch {
	return Patch{Status: statusPtr(StatusCompleted), Progress: intPtr(100), DecisionID: strPtr(decisionID)}
}

// FailPatch finishes a job with a stable error code and operator message.
func FailPatch(code, message string) Patch {
	return Patch{Status: statusPtr(StatusFailed), ErrorCode: strPtr(code), ErrorMessage: strPtr(message)}
}
