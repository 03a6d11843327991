package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobType identifies which processor handles a job.
type JobType string

const (
	JobTypeSTT        JobType = "stt"
	JobTypeSTTDiarize JobType = "stt_diarize"
	JobTypeTTS        JobType = "tts"
	JobTypeSummarize  JobType = "summarize"
)

// AllJobTypes lists every type the scheduler polls for.
var AllJobTypes = []JobType{JobTypeSTT, JobTypeSTTDiarize, JobTypeTTS, JobTypeSummarize}

const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job is one asynchronous unit of work. The API returns a job_id on
// POST /api/v1/jobs/{type}; the client polls GET /api/v1/jobs/{job_id}
// until status is completed or failed.
type Job struct {
	ID           uuid.UUID       `db:"id"            json:"id"`
	Type         JobType         `db:"type"          json:"type"`
	UserID       uuid.UUID       `db:"user_id"       json:"user_id"`
	Parameters   json.RawMessage `db:"parameters"    json:"parameters,omitempty"`
	Status       string          `db:"status"        json:"status"`
	Result       json.RawMessage `db:"result"        json:"result,omitempty"`
	ErrorMessage *string         `db:"error_message" json:"error_message,omitempty"`
	RetryCount   int             `db:"retry_count"   json:"retry_count"`
	CreatedAt    time.Time       `db:"created_at"    json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at"    json:"updated_at"`
}

// IsTerminal reports whether the job reached a final state.
func (j *Job) IsTerminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// STTParams are the parameters for stt and stt_diarize jobs.
type STTParams struct {
	FileID   uuid.UUID `json:"file_id"`
	Language string    `json:"language,omitempty"`
	APILogID uuid.UUID `json:"api_log_id,omitempty"`
}

// TTSParams are the parameters for tts jobs.
type TTSParams struct {
	Text     string    `json:"text"`
	Voice    string    `json:"voice,omitempty"`
	Format   string    `json:"format,omitempty"`
	APILogID uuid.UUID `json:"api_log_id,omitempty"`
}

// SummarizeParams are the parameters for summarize jobs.
type SummarizeParams struct {
	Text     string    `json:"text"`
	APILogID uuid.UUID `json:"api_log_id,omitempty"`
}

// STTResult is the success payload for stt jobs.
type STTResult struct {
	Message          string  `json:"message"`
	Transcript       string  `json:"transcript"`
	SecondsProcessed float64 `json:"seconds_processed"`
}

// DiarizeResult is the success payload for stt_diarize jobs.
type DiarizeResult struct {
	Message          string  `json:"message"`
	Transcript       string  `json:"transcript"`
	SecondsProcessed float64 `json:"seconds_processed"`
	ChunksProcessed  int     `json:"chunks_processed"`
	TotalTokens      int     `json:"total_tokens"`
}

// TTSResult is the success payload for tts jobs.
type TTSResult struct {
	Message          string  `json:"message"`
	FileID           uuid.UUID `json:"file_id"`
	SecondsGenerated float64 `json:"seconds_generated"`
	PromptTokens     int     `json:"prompt_tokens"`
}

// SummarizeResult is the success payload for summarize jobs.
type SummarizeResult struct {
	Message         string `json:"message"`
	Summary         string `json:"summary"`
	ChunksProcessed int    `json:"chunks_processed"`
	TotalTokens     int    `json:"total_tokens"`
}
