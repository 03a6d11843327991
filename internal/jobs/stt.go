package jobs

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/voxgate/voxgate/pkg/models"
)

// STTProcessor handles plain speech-to-text jobs: one recognizer call, one
// usage row in audio seconds.
type STTProcessor struct {
	deps *Deps
}

func NewSTTProcessor(deps *Deps) *STTProcessor {
	return &STTProcessor{deps: deps}
}

func (p *STTProcessor) Type() models.JobType { return models.JobTypeSTT }

func (p *STTProcessor) Process(ctx context.Context, job *models.Job) error {
	var params models.STTParams
	if err := json.Unmarshal(job.Parameters, &params); err != nil {
		return fmt.Errorf("decoding parameters: %w", err)
	}

	audioURL, _, err := p.deps.Files.GetFileURL(ctx, params.FileID, job.UserID)
	if err != nil {
		return fmt.Errorf("resolving audio file: %w", err)
	}

	res, err := p.deps.Provider.Transcribe(ctx, audioURL)
	if err != nil {
		return fmt.Errorf("transcribing audio: %w", err)
	}
	seconds := float64(res.DurationMillis) / 1000.0

	if err := p.deps.Usage.Reconcile(ctx, job.UserID, job.Type, models.UsageMetrics{
		ModelUsed:             models.ModelSpeechRecognizer,
		AudioSecondsProcessed: seconds,
	}, params.APILogID); err != nil {
		return fmt.Errorf("reconciling usage: %w", err)
	}

	if err := p.deps.complete(ctx, job, models.STTResult{
		Message:          "Transcription completed successfully",
		Transcript:       res.Transcript(),
		SecondsProcessed: seconds,
	}); err != nil {
		return err
	}

	p.deps.cleanupFile(ctx, job, params.FileID)
	return nil
}
