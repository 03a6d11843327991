package models

import "context"

// TranscriptionResult is the recognizer's output. DurationMillis is the
// provider-reported audio duration; usage metering derives seconds from it
// rather than measuring wall-clock time.
type TranscriptionResult struct {
	CombinedPhrases []string
	DurationMillis  int64
}

// Transcript returns the primary combined phrase, or "" when empty.
func (r *TranscriptionResult) Transcript() string {
	if len(r.CombinedPhrases) == 0 {
		return ""
	}
	return r.CombinedPhrases[0]
}

// Recognizer converts audio into text.
type Recognizer interface {
	Transcribe(ctx context.Context, audioURL string) (*TranscriptionResult, error)
}

// Synthesizer converts text into audio bytes in the requested format.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice, format string) ([]byte, error)
}

// Enhancer runs LLM passes over transcript or document chunks and reports
// token usage per call.
type Enhancer interface {
	// Enhance adds speaker and timing structure to a transcript chunk.
	// index is the chunk's zero-based position among total chunks when the
	// text was split; implementations render it one-based for prompts.
	Enhance(ctx context.Context, chunk string, index, total int) (string, TokenUsage, error)
	// Summarize condenses a document chunk into a partial summary.
	Summarize(ctx context.Context, chunk string) (string, TokenUsage, error)
}

// SpeechProvider bundles all external AI capabilities behind one injectable
// value. Never call specific vendors directly — always inject this interface.
type SpeechProvider interface {
	Recognizer
	Synthesizer
	Enhancer
	Name() string
}
