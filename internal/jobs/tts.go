package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/voxgate/voxgate/internal/audio"
	"github.com/voxgate/voxgate/internal/textchunk"
	"github.com/voxgate/voxgate/pkg/models"
)

const (
	defaultVoice  = "en-US-AvaMultilingualNeural"
	defaultFormat = "mp3"

	// Matches the provider's mp3 output profile; used only when the
	// container cannot be parsed.
	fallbackBitrateKbps = 96
)

// TTSProcessor handles text-to-speech jobs: synthesize, measure the audio
// duration, store the artifact through the file service, and meter the
// input in estimated tokens.
type TTSProcessor struct {
	deps *Deps
}

func NewTTSProcessor(deps *Deps) *TTSProcessor {
	return &TTSProcessor{deps: deps}
}

func (p *TTSProcessor) Type() models.JobType { return models.JobTypeTTS }

func (p *TTSProcessor) Process(ctx context.Context, job *models.Job) error {
	var params models.TTSParams
	if err := json.Unmarshal(job.Parameters, &params); err != nil {
		return fmt.Errorf("decoding parameters: %w", err)
	}
	if params.Voice == "" {
		params.Voice = defaultVoice
	}
	if params.Format == "" {
		params.Format = defaultFormat
	}

	data, err := p.deps.Provider.Synthesize(ctx, params.Text, params.Voice, params.Format)
	if err != nil {
		return fmt.Errorf("synthesizing speech: %w", err)
	}

	seconds, err := audio.DurationSeconds(data, params.Format)
	if err != nil {
		if !errors.Is(err, audio.ErrUnsupportedFormat) {
			slog.Warn("audio duration parse failed, estimating from size",
				"job_id", job.ID, "format", params.Format, "error", err)
		}
		seconds = audio.EstimateSeconds(len(data), fallbackBitrateKbps)
	}

	fileName := fmt.Sprintf("tts-%s.%s", job.ID, params.Format)
	fileID, err := p.deps.Files.Upload(ctx, job.UserID, fileName, data, contentTypeFor(params.Format))
	if err != nil {
		return fmt.Errorf("storing synthesized audio: %w", err)
	}

	promptTokens := textchunk.EstimateTokens(params.Text)
	if err := p.deps.Usage.Reconcile(ctx, job.UserID, job.Type, models.UsageMetrics{
		ModelUsed:             p.deps.Provider.Name() + "_tts",
		AudioSecondsProcessed: seconds,
		Tokens: models.TokenUsage{
			PromptTokens: promptTokens,
			TotalTokens:  promptTokens,
		},
		FilesUploaded: 1,
	}, params.APILogID); err != nil {
		return fmt.Errorf("reconciling usage: %w", err)
	}

	return p.deps.complete(ctx, job, models.TTSResult{
		Message:          "Speech synthesis completed successfully",
		FileID:           fileID,
		SecondsGenerated: seconds,
		PromptTokens:     promptTokens,
	})
}

func contentTypeFor(format string) string {
	switch format {
	case "wav", "wave", "riff":
		return "audio/wav"
	default:
		return "audio/mpeg"
	}
}
