package models

import (
	"time"

	"github.com/google/uuid"
)

// Sentinel model_used tags for split usage rows. A diarized transcription
// spans two cost models: the recognizer billed in audio seconds and the
// enhancement LLM billed in tokens.
const (
	ModelSpeechRecognizer = "ms_stt"
	ModelLLMEnhance       = "llm_enhance"
)

// UsageRecord is one metered-usage fact tied to a user and an endpoint.
// A provisional row (all quantities zero) is written at admission time and
// reconciled with measured values once the async processor finishes.
type UsageRecord struct {
	ID                    uuid.UUID  `db:"id"                      json:"id"`
	UserID                uuid.UUID  `db:"user_id"                 json:"user_id"`
	EndpointID            uuid.UUID  `db:"endpoint_id"             json:"endpoint_id"`
	Timestamp             time.Time  `db:"timestamp"               json:"timestamp"`
	ModelUsed             string     `db:"model_used"              json:"model_used"`
	AudioSecondsProcessed float64    `db:"audio_seconds_processed" json:"audio_seconds_processed"`
	PromptTokens          int        `db:"prompt_tokens"           json:"prompt_tokens"`
	CompletionTokens      int        `db:"completion_tokens"       json:"completion_tokens"`
	TotalTokens           int        `db:"total_tokens"            json:"total_tokens"`
	CachedTokens          int        `db:"cached_tokens"           json:"cached_tokens"`
	FilesUploaded         int        `db:"files_uploaded"          json:"files_uploaded"`
	PagesProcessed        int        `db:"pages_processed"         json:"pages_processed"`
	ImagesGenerated       int        `db:"images_generated"        json:"images_generated"`
	DocumentsProcessed    int        `db:"documents_processed"     json:"documents_processed"`
	APILogID              *uuid.UUID `db:"api_log_id"              json:"api_log_id,omitempty"`
}

// TokenUsage aggregates LLM token counts across one or more calls.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	CachedTokens     int `json:"cached_tokens"`
}

// Add accumulates another call's usage into u.
func (u *TokenUsage) Add(other TokenUsage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
	u.CachedTokens += other.CachedTokens
}

// UsageMetrics carries the measured quantities a processor hands to
// reconciliation. Zero-valued fields leave the provisional value untouched
// in meaning (they overwrite with zero, matching the provisional default).
type UsageMetrics struct {
	ModelUsed             string
	AudioSecondsProcessed float64
	Tokens                TokenUsage
	FilesUploaded         int
	PagesProcessed        int
	ImagesGenerated       int
	DocumentsProcessed    int
}
