// Package mock provides a SpeechProvider test double with overridable
// behavior per capability.
package mock

import (
	"context"

	"github.com/voxgate/voxgate/pkg/models"
)

// Provider satisfies models.SpeechProvider for testing and local development.
type Provider struct {
	Name_          string
	TranscribeFunc func(ctx context.Context, audioURL string) (*models.TranscriptionResult, error)
	SynthesizeFunc func(ctx context.Context, text, voice, format string) ([]byte, error)
	EnhanceFunc    func(ctx context.Context, chunk string, index, total int) (string, models.TokenUsage, error)
	SummarizeFunc  func(ctx context.Context, chunk string) (string, models.TokenUsage, error)
}

func (m *Provider) Name() string { return m.Name_ }

func (m *Provider) Transcribe(ctx context.Context, audioURL string) (*models.TranscriptionResult, error) {
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, audioURL)
	}
	return &models.TranscriptionResult{}, nil
}

func (m *Provider) Synthesize(ctx context.Context, text, voice, format string) ([]byte, error) {
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text, voice, format)
	}
	return nil, nil
}

func (m *Provider) Enhance(ctx context.Context, chunk string, index, total int) (string, models.TokenUsage, error) {
	if m.EnhanceFunc != nil {
		return m.EnhanceFunc(ctx, chunk, index, total)
	}
	return chunk, models.TokenUsage{}, nil
}

func (m *Provider) Summarize(ctx context.Context, chunk string) (string, models.TokenUsage, error) {
	if m.SummarizeFunc != nil {
		return m.SummarizeFunc(ctx, chunk)
	}
	return chunk, models.TokenUsage{}, nil
}

// NewProvider returns a Provider with sensible default responses.
func NewProvider() *Provider {
	return &Provider{
		Name_: "mock",
		TranscribeFunc: func(_ context.Context, _ string) (*models.TranscriptionResult, error) {
			return &models.TranscriptionResult{
				CombinedPhrases: []string{"This is a simulated transcript."},
				DurationMillis:  45600,
			}, nil
		},
		SynthesizeFunc: func(_ context.Context, text, _, _ string) ([]byte, error) {
			return make([]byte, len(text)*100), nil
		},
		EnhanceFunc: func(_ context.Context, chunk string, _, _ int) (string, models.TokenUsage, error) {
			return "Speaker 1: " + chunk, models.TokenUsage{
				PromptTokens:     len(chunk) / 4,
				CompletionTokens: 50,
				TotalTokens:      len(chunk)/4 + 50,
			}, nil
		},
		SummarizeFunc: func(_ context.Context, chunk string) (string, models.TokenUsage, error) {
			return "Summary: " + firstN(chunk, 60), models.TokenUsage{
				PromptTokens:     len(chunk) / 4,
				CompletionTokens: 20,
				TotalTokens:      len(chunk)/4 + 20,
			}, nil
		},
	}
}

// NewFailingProvider returns a Provider whose every call fails with err.
func NewFailingProvider(err error) *Provider {
	return &Provider{
		Name_: "mock-failing",
		TranscribeFunc: func(_ context.Context, _ string) (*models.TranscriptionResult, error) {
			return nil, err
		},
		SynthesizeFunc: func(_ context.Context, _, _, _ string) ([]byte, error) {
			return nil, err
		},
		EnhanceFunc: func(_ context.Context, _ string, _, _ int) (string, models.TokenUsage, error) {
			return "", models.TokenUsage{}, err
		},
		SummarizeFunc: func(_ context.Context, _ string) (string, models.TokenUsage, error) {
			return "", models.TokenUsage{}, err
		},
	}
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Compile-time check that Provider implements SpeechProvider.
var _ models.SpeechProvider = (*Provider)(nil)
