// SPDX-License-Identifier: MIT

package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ManuGH/v2d/internal/decision"
	"github.com/ManuGH/v2d/internal/log"
	"github.com/ManuGH/v2d/internal/metrics"
)

// Transcriber converts stored audio into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (decision.Transcript, error)
}

// Extractor turns a transcript into a structured decision.
type Extractor interface {
	Extract(ctx context.Context, t decision.Transcript) (decision.Extraction, error)
}

// DecisionCreator persists an extraction and returns the decision ID.
type DecisionCreator interface {
	CreateFromExtraction(ctx context.Context, userID, audioURL string, ex decision.Extraction) (string, error)
}

// PipelineDeps bundles the collaborators a Pipeline needs.
type PipelineDeps struct {
	Registry    Registry
	Transcriber Transcriber
	Extractor   Extractor
	Decisions   DecisionCreator
	// StageTimeout bounds each stage. Zero means no per-stage deadline.
	StageTimeout time.Duration
}

// Pipeline drives a job through transcription, extraction and decision
// materialization. Each job runs in its own goroutine, detached from the
// upload request's context and guaranteed to leave the job in exactly one
// terminal state.
type Pipeline struct {
	deps PipelineDeps
	wg   sync.WaitGroup
}

// NewPipeline validates deps and returns a Pipeline.
func NewPipeline(deps PipelineDeps) (*Pipeline, error) {
	if deps.Registry == nil {
		return nil, fmt.Errorf("pipeline: registry is required")
	}
	if deps.Transcriber == nil {
		return nil, fmt.Errorf("pipeline: transcriber is required")
	}
	if deps.Extractor == nil {
		return nil, fmt.Errorf("pipeline: extractor is required")
	}
	if deps.Decisions == nil {
		return nil, fmt.Errorf("pipeline: decision creator is required")
	}
	return &Pipeline{deps: deps}, nil
}

// Launch starts processing job in the background and returns immediately.
// The worker survives cancellation of the caller's request context; only
// values (request ID) are inherited.
func (p *Pipeline) Launch(ctx context.Context, job Job, audioPath string) {
	detached := context.WithoutCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(detached, job, audioPath)
	}()
}

// Wait blocks until all launched jobs have reached a terminal state.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func (p *Pipeline) run(ctx context.Context, job Job, audioPath string) {
	ctx = log.ContextWithJobID(ctx, job.ID)
	logger := log.WithComponentFromContext(ctx, "jobs.pipeline")
	start := time.Now()

	stage := "transcription"
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str(log.FieldEvent, "pipeline.panic").
				Str(log.FieldStage, stage).
				Interface("panic", r).
				Msg("pipeline stage panicked")
			p.fail(ctx, logger, job.ID, stageCode(stage), fmt.Sprintf("internal error during %s", stage))
		}
	}()

	logger.Info().
		Str(log.FieldEvent, "pipeline.start").
		Str(log.FieldAudioURL, job.AudioURL).
		Msg("processing uploaded recording")

	if !p.update(ctx, logger, job.ID, ProgressPatch(10)) {
		return
	}

	// Milestones mark stage entry; a failure freezes progress at the stage
	// that was running.
	if !p.update(ctx, logger, job.ID, ProgressPatch(30)) {
		return
	}
	transcript, err := p.transcribe(ctx, audioPath)
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "pipeline.transcription.failed").
			Msg("transcription failed")
		p.fail(ctx, logger, job.ID, CodeTranscriptionFailed, "transcription failed: "+err.Error())
		return
	}
	logger.Debug().
		Str(log.FieldEvent, "pipeline.transcription.done").
		Int("chars", len(transcript.Text)).
		Float64("confidence", transcript.Confidence).
		Msg("transcript ready")
	if !p.update(ctx, logger, job.ID, ProgressPatch(60)) {
		return
	}

	stage = "extraction"
	if !p.update(ctx, logger, job.ID, ProgressPatch(70)) {
		return
	}
	extraction, err := p.extract(ctx, transcript)
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "pipeline.extraction.failed").
			Msg("decision extraction failed")
		p.fail(ctx, logger, job.ID, CodeExtractionFailed, "decision extraction failed: "+err.Error())
		return
	}

	stage = "materialization"
	decisionID, err := p.materialize(ctx, job, extraction)
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "pipeline.materialization.failed").
			Msg("decision persistence failed")
		p.fail(ctx, logger, job.ID, CodeMaterializationFailed, "saving decision failed: "+err.Error())
		return
	}

	if _, err := p.deps.Registry.Update(ctx, job.ID, CompletePatch(decisionID)); err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "pipeline.complete.update_failed").
			Msg("could not mark job completed")
		return
	}
	metrics.JobsCompleted.Inc()
	logger.Info().
		Str(log.FieldEvent, "pipeline.completed").
		Str(log.FieldDecisionID, decisionID).
		Dur("duration", time.Since(start)).
		Msg("recording processed")
}

func (p *Pipeline) transcribe(ctx context.Context, audioPath string) (decision.Transcript, error) {
	ctx, cancel := p.stageContext(ctx)
	defer cancel()
	start := time.Now()
	t, err := p.deps.Transcriber.Transcribe(ctx, audioPath)
	metrics.ObserveStageDuration("transcription", time.Since(start))
	return t, err
}

func (p *Pipeline) extract(ctx context.Context, t decision.Transcript) (decision.Extraction, error) {
	ctx, cancel := p.stageContext(ctx)
	defer cancel()
	start := time.Now()
	ex, err := p.deps.Extractor.Extract(ctx, t)
	metrics.ObserveStageDuration("extraction", time.Since(start))
	return ex, err
}

func (p *Pipeline) materialize(ctx context.Context, job Job, ex decision.Extraction) (string, error) {
	ctx, cancel := p.stageContext(ctx)
	defer cancel()
	start := time.Now()
	id, err := p.deps.Decisions.CreateFromExtraction(ctx, job.UserID, job.AudioURL, ex)
	metrics.ObserveStageDuration("materialization", time.Since(start))
	return id, err
}

func (p *Pipeline) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.deps.StageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.deps.StageTimeout)
}

func (p *Pipeline) update(ctx context.Context, logger zerolog.Logger, jobID string, patch Patch) bool {
	updated, err := p.deps.Registry.Update(ctx, jobID, patch)
	if err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "pipeline.update_failed").
			Msg("registry rejected progress update")
		return false
	}
	logger.Debug().
		Str(log.FieldEvent, "pipeline.progress").
		Int(log.FieldProgress, updated.Progress).
		Msg("job progressed")
	return true
}

func (p *Pipeline) fail(ctx context.Context, logger zerolog.Logger, jobID, code, message string) {
	if _, err := p.deps.Registry.Update(ctx, jobID, FailPatch(code, message)); err != nil {
		logger.Error().Err(err).
			Str(log.FieldEvent, "pipeline.fail_update_failed").
			Str(log.FieldErrorCode, code).
			Msg("could not mark job failed")
		return
	}
	metrics.JobsFailed.WithLabelValues(code).Inc()
}

func stageCode(stage string) string {
	switch stage {
	case "extraction":
		return CodeExtractionFailed
	case "materialization":
		return CodeMaterializationFailed
	}
	return CodeTranscriptionFailed
}
