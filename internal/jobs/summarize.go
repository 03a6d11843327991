package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/voxgate/voxgate/internal/textchunk"
	"github.com/voxgate/voxgate/pkg/models"
)

// SummarizeProcessor handles document summarization jobs. Long inputs are
// chunked, each chunk summarized independently, and when the combined
// partial summaries still exceed the chunk budget a final reduction pass
// condenses them into one.
type SummarizeProcessor struct {
	deps *Deps
}

func NewSummarizeProcessor(deps *Deps) *SummarizeProcessor {
	return &SummarizeProcessor{deps: deps}
}

func (p *SummarizeProcessor) Type() models.JobType { return models.JobTypeSummarize }

func (p *SummarizeProcessor) Process(ctx context.Context, job *models.Job) error {
	var params models.SummarizeParams
	if err := json.Unmarshal(job.Parameters, &params); err != nil {
		return fmt.Errorf("decoding parameters: %w", err)
	}

	chunks := textchunk.Split(params.Text, p.deps.Jobs.ChunkBudget, p.deps.Jobs.ChunkOverlap)

	var (
		partials = make([]string, 0, len(chunks))
		tokens   models.TokenUsage
	)
	for i, chunk := range chunks {
		summary, usage, err := p.deps.Provider.Summarize(ctx, chunk.Text)
		if err != nil {
			return fmt.Errorf("summarizing chunk %d/%d: %w", i+1, len(chunks), err)
		}
		partials = append(partials, summary)
		tokens.Add(usage)
	}

	summary := strings.Join(partials, "\n\n")
	if len(partials) > 1 && len(summary) > p.deps.Jobs.ChunkBudget {
		reduced, usage, err := p.deps.Provider.Summarize(ctx, summary)
		if err != nil {
			return fmt.Errorf("reducing partial summaries: %w", err)
		}
		summary = reduced
		tokens.Add(usage)
	}

	if err := p.deps.Usage.Reconcile(ctx, job.UserID, job.Type, models.UsageMetrics{
		ModelUsed:          models.ModelLLMEnhance,
		Tokens:             tokens,
		DocumentsProcessed: 1,
	}, params.APILogID); err != nil {
		return fmt.Errorf("reconciling usage: %w", err)
	}

	return p.deps.complete(ctx, job, models.SummarizeResult{
		Message:         "Summarization completed successfully",
		Summary:         summary,
		ChunksProcessed: len(chunks),
		TotalTokens:     tokens.TotalTokens,
	})
}
