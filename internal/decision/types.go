// SPDX-License-Identifier: MIT

// Package decision holds the domain model produced by the voice pipeline:
// transcripts, extracted decision structures, and the persisted decision
// records clients fetch after a job completes.
package decision

import "time"

// EmotionalState classifies the speaker's affect as inferred from the
// transcript.
type EmotionalState string

const (
	EmotionCalm       EmotionalState = "calm"
	EmotionConfident  EmotionalState = "confident"
	EmotionAnxious    EmotionalState = "anxious"
	EmotionExcited    EmotionalState = "excited"
	EmotionUncertain  EmotionalState = "uncertain"
	EmotionStressed   EmotionalState = "stressed"
	EmotionNeutral    EmotionalState = "neutral"
	EmotionHopeful    EmotionalState = "hopeful"
	EmotionFrustrated EmotionalState = "frustrated"
)

// Valid reports whether e is one of the known states.
func (e EmotionalState) Valid() bool {
	switch e {
	case EmotionCalm, EmotionConfident, EmotionAnxious, EmotionExcited,
		EmotionUncertain, EmotionStressed, EmotionNeutral, EmotionHopeful,
		EmotionFrustrated:
		return true
	}
	return false
}

// Transcript is the output of the speech-to-text stage.
type Transcript struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	DurationMS int64   `json:"durationMs,omitempty"`
}

// ProCon is a single argument for or against an option.
type ProCon struct {
	Text   string `json:"text"`
	Weight int    `json:"weight"` // 1..10
}

// Option is one candidate course of action within a decision.
type Option struct {
	ID    string   `json:"id,omitempty"`
	Label string   `json:"label"`
	Pros  []ProCon `json:"pros"`
	Cons  []ProCon `json:"cons"`
}

// Extraction is the structured decision pulled out of a transcript by the
// language-model stage. Confidence below 0.5 marks a degraded extraction
// where the raw transcript was kept as the decision title.
type Extraction struct {
	Title             string         `json:"title"`
	Description       string         `json:"description,omitempty"`
	Options           []Option       `json:"options"`
	EmotionalState    EmotionalState `json:"emotionalState"`
	SuggestedCategory string         `json:"suggestedCategory,omitempty"`
	Confidence        float64        `json:"confidence"`
	Transcription     string         `json:"transcription"`
	DurationMS        int64          `json:"durationMs,omitempty"`
}

// Decision is the persisted record materialized from an Extraction.
type Decision struct {
	ID              string         `json:"id"`
	UserID          string         `json:"userId"`
	Title           string         `json:"title"`
	Description     string         `json:"description,omitempty"`
	Category        string         `json:"category"`
	Options         []Option       `json:"options"`
	EmotionalState  EmotionalState `json:"emotionalState"`
	Transcription   string         `json:"transcription,omitempty"`
	AudioURL        string         `json:"audioUrl,omitempty"`
	AudioDurationMS int64          `json:"audioDurationMs,omitempty"`
	Status          string         `json:"status"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// StatusDraft is the initial status of a voice-captured decision; the user
// reviews and finalizes it in a later, interactive step.
const StatusDraft = "draft"

// DefaultCategory is used when the extractor did not suggest one.
const DefaultCategory = "Personal"
