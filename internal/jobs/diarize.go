package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voxgate/voxgate/internal/textchunk"
	"github.com/voxgate/voxgate/pkg/models"
)

// DiarizeProcessor handles diarized speech-to-text jobs: recognizer first,
// then the enhancement LLM labels speakers chunk by chunk. The transcript is
// enhanced whole-or-nothing; a failed chunk fails the job and leaves the
// provisional usage row untouched.
type DiarizeProcessor struct {
	deps *Deps
}

func NewDiarizeProcessor(deps *Deps) *DiarizeProcessor {
	return &DiarizeProcessor{deps: deps}
}

func (p *DiarizeProcessor) Type() models.JobType { return models.JobTypeSTTDiarize }

func (p *DiarizeProcessor) Process(ctx context.Context, job *models.Job) error {
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
	transcript := res.Transcript()

	chunks := textchunk.Split(transcript, p.deps.Jobs.ChunkBudget, p.deps.Jobs.ChunkOverlap)

	var (
		enhanced = make([]string, 0, len(chunks))
		tokens   models.TokenUsage
	)
	for i, chunk := range chunks {
		text, usage, err := p.deps.Provider.Enhance(ctx, chunk.Text, i, len(chunks))
		if err != nil {
			return fmt.Errorf("enhancing chunk %d/%d: %w", i+1, len(chunks), err)
		}
		enhanced = append(enhanced, text)
		tokens.Add(usage)
	}

	if err := p.deps.Usage.ReconcileSplit(ctx, job.UserID, job.Type, params.APILogID, seconds, tokens); err != nil {
		return fmt.Errorf("reconciling usage: %w", err)
	}

	if err := p.deps.complete(ctx, job, models.DiarizeResult{
		Message:          "Diarized transcription completed successfully",
		Transcript:       strings.Join(enhanced, "\n\n"),
		SecondsProcessed: seconds,
		ChunksProcessed:  len(chunks),
		TotalTokens:      tokens.TotalTokens,
	}); err != nil {
		return err
	}

	p.deps.cleanupFile(ctx, job, params.FileID)
	return nil
}
