// Package handler contains the HTTP handlers behind the router.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/voxgate/voxgate/internal/api/middleware"
	"github.com/voxgate/voxgate/internal/api/response"
	"github.com/voxgate/voxgate/internal/store"
	"github.com/voxgate/voxgate/pkg/models"
)

// Text limits enforced at submission. The TTS cap matches what a single
// synthesis request can carry; the summarize cap only guards against
// pathological payloads, chunking handles everything below it.
const (
	maxTTSTextLen       = 5000
	maxSummarizeTextLen = 1 << 20
)

// JobStore is the slice of the store the job handlers depend on.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Job, error)
}

// StatusCache serves poll requests for in-flight jobs without a database
// round trip.
type StatusCache interface {
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (string, bool, error)
}

// Jobs handles job submission and polling.
type Jobs struct {
	store JobStore
	cache StatusCache
}

// NewJobs creates the job handlers.
func NewJobs(st JobStore, c StatusCache) *Jobs {
	return &Jobs{store: st, cache: c}
}

// Submit returns the POST handler for one job type. The request is already
// admitted and charged by the metering middleware; all that remains is
// validating parameters and queuing the job.
func (h *Jobs) Submit(jobType models.JobType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := mw.GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
			return
		}
		apiLogID, _ := mw.GetAPILogID(r)

		params, err := decodeParams(r, jobType, apiLogID)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		}

		now := time.Now().UTC()
		job := &models.Job{
			ID:         uuid.New(),
			Type:       jobType,
			UserID:     userID,
			Parameters: params,
			Status:     models.JobStatusQueued,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := h.store.CreateJob(r.Context(), job); err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to queue job", nil)
			return
		}

		response.Accepted(w, submitResponse{
			JobID:  job.ID,
			Type:   jobType,
			Status: models.JobStatusQueued,
		})
	}
}

// Poll handles GET /api/v1/jobs/{jobID}. The cache answers for jobs still
// in flight; terminal jobs come from the store with their result payload.
func (h *Jobs) Poll(w http.ResponseWriter, r *http.Request) {
	userID, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
		return
	}

	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "job id must be a valid UUID", nil)
		return
	}

	if status, found, err := h.cache.GetJobStatus(r.Context(), jobID); err == nil && found &&
		(status == models.JobStatusQueued || status == models.JobStatusProcessing) {
		response.JSON(w, pollResponse{ID: jobID, Status: status})
		return
	}

	job, err := h.store.GetJob(r.Context(), jobID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "No such job", nil)
			return
		}
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to look up job", nil)
		return
	}

	resp := pollResponse{
		ID:        job.ID,
		Status:    job.Status,
		Type:      job.Type,
		Result:    job.Result,
		CreatedAt: &job.CreatedAt,
		UpdatedAt: &job.UpdatedAt,
	}
	if job.ErrorMessage != nil {
		resp.Error = *job.ErrorMessage
	}
	response.JSON(w, resp)
}

// decodeParams validates the type-specific request body and threads the
// admission audit id into the stored parameters.
func decodeParams(r *http.Request, jobType models.JobType, apiLogID uuid.UUID) (json.RawMessage, error) {
	switch jobType {
	case models.JobTypeSTT, models.JobTypeSTTDiarize:
		var p models.STTParams
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			return nil, errors.New("invalid JSON body")
		}
		if p.FileID == uuid.Nil {
			return nil, errors.New("file_id is required")
		}
		p.APILogID = apiLogID
		return json.Marshal(p)

	case models.JobTypeTTS:
		var p models.TTSParams
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			return nil, errors.New("invalid JSON body")
		}
		if p.Text == "" {
			return nil, errors.New("text is required")
		}
		if len(p.Text) > maxTTSTextLen {
			return nil, errors.New("text exceeds the maximum length for synthesis")
		}
		p.APILogID = apiLogID
		return json.Marshal(p)

	case models.JobTypeSummarize:
		var p models.SummarizeParams
		if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
			return nil, errors.New("invalid JSON body")
		}
		if p.Text == "" {
			return nil, errors.New("text is required")
		}
		if len(p.Text) > maxSummarizeTextLen {
			return nil, errors.New("text exceeds the maximum document size")
		}
		p.APILogID = apiLogID
		return json.Marshal(p)

	default:
		return nil, errors.New("unsupported job type")
	}
}

type submitResponse struct {
	JobID  uuid.UUID      `json:"job_id"`
	Type   models.JobType `json:"type"`
	Status string         `json:"status"`
}

type pollResponse struct {
	ID        uuid.UUID       `json:"id"`
	Status    string          `json:"status"`
	Type      models.JobType  `json:"type,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt *time.Time      `json:"created_at,omitempty"`
	UpdatedAt *time.Time      `json:"updated_at,omitempty"`
}
