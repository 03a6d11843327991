package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/voxgate/voxgate/internal/store"
	"github.com/voxgate/voxgate/pkg/models"
)

// jobPathPrefix maps a job type to its billable endpoint path.
const jobPathPrefix = "/api/v1/jobs/"

// reconcileWindow bounds the fallback lookup for a provisional usage row
// when no audit id was carried through the job parameters.
const reconcileWindow = time.Hour

// UsageRecorder reconciles provisional usage rows with measured values once
// async processing completes. Usage is never silently lost: a missing
// provisional row produces a fallback insert and a warning.
type UsageRecorder struct {
	store store.Store
}

// NewUsageRecorder creates a new UsageRecorder.
func NewUsageRecorder(st store.Store) *UsageRecorder {
	return &UsageRecorder{store: st}
}

// Reconcile updates the provisional usage row for one completed job with
// the measured metrics. The row is located by apiLogID when set; the
// recent-window heuristic is only a fallback for jobs admitted without one.
func (r *UsageRecorder) Reconcile(ctx context.Context, userID uuid.UUID, jobType models.JobType, metrics models.UsageMetrics, apiLogID uuid.UUID) error {
	endpoint, err := r.store.GetEndpointByPath(ctx, jobPathPrefix+string(jobType))
	if err != nil {
		return fmt.Errorf("resolving endpoint for %s: %w", jobType, err)
	}

	rec, err := r.findProvisional(ctx, userID, endpoint.ID, apiLogID)
	if err != nil {
		return err
	}

	if rec == nil {
		slog.Warn("no provisional usage row found, inserting fallback",
			"user_id", userID, "job_type", jobType, "api_log_id", apiLogID)
		rec = &models.UsageRecord{
			ID:         uuid.New(),
			UserID:     userID,
			EndpointID: endpoint.ID,
			Timestamp:  time.Now().UTC(),
		}
		if apiLogID != uuid.Nil {
			rec.APILogID = &apiLogID
		}
		applyMetrics(rec, metrics)
		if err := r.store.CreateUsage(ctx, rec); err != nil {
			return fmt.Errorf("inserting fallback usage: %w", err)
		}
		return nil
	}

	applyMetrics(rec, metrics)
	if err := r.store.UpdateUsage(ctx, rec); err != nil {
		return fmt.Errorf("updating usage: %w", err)
	}
	return nil
}

// ReconcileSplit replaces one provisional row with exactly two rows for a
// job spanning two cost models: the recognizer billed in audio seconds and
// the enhancement LLM billed in tokens. Both rows share the originating
// audit reference, and the audit entry's primary usage pointer is re-aimed
// at the recognizer row.
func (r *UsageRecorder) ReconcileSplit(ctx context.Context, userID uuid.UUID, jobType models.JobType, apiLogID uuid.UUID, audioSeconds float64, tokens models.TokenUsage) error {
	endpoint, err := r.store.GetEndpointByPath(ctx, jobPathPrefix+string(jobType))
	if err != nil {
		return fmt.Errorf("resolving endpoint for %s: %w", jobType, err)
	}

	provisional, err := r.findProvisional(ctx, userID, endpoint.ID, apiLogID)
	if err != nil {
		return err
	}

	var auditRef *uuid.UUID
	timestamp := time.Now().UTC()
	if provisional != nil {
		auditRef = provisional.APILogID
		timestamp = provisional.Timestamp
		if err := r.store.DeleteUsage(ctx, provisional.ID); err != nil {
			return fmt.Errorf("removing provisional usage: %w", err)
		}
	} else {
		slog.Warn("no provisional usage row found for split reconciliation",
			"user_id", userID, "job_type", jobType, "api_log_id", apiLogID)
	}
	if auditRef == nil && apiLogID != uuid.Nil {
		auditRef = &apiLogID
	}

	recognizerRow := &models.UsageRecord{
		ID:                    uuid.New(),
		UserID:                userID,
		EndpointID:            endpoint.ID,
		Timestamp:             timestamp,
		ModelUsed:             models.ModelSpeechRecognizer,
		AudioSecondsProcessed: audioSeconds,
		APILogID:              auditRef,
	}
	if err := r.store.CreateUsage(ctx, recognizerRow); err != nil {
		return fmt.Errorf("inserting recognizer usage: %w", err)
	}

	enhanceRow := &models.UsageRecord{
		ID:               uuid.New(),
		UserID:           userID,
		EndpointID:       endpoint.ID,
		Timestamp:        timestamp.Add(time.Millisecond),
		ModelUsed:        models.ModelLLMEnhance,
		PromptTokens:     tokens.PromptTokens,
		CompletionTokens: tokens.CompletionTokens,
		TotalTokens:      tokens.TotalTokens,
		CachedTokens:     tokens.CachedTokens,
		APILogID:         auditRef,
	}
	if err := r.store.CreateUsage(ctx, enhanceRow); err != nil {
		return fmt.Errorf("inserting enhancement usage: %w", err)
	}

	if auditRef != nil {
		if err := r.store.SetAPILogPrimaryUsage(ctx, *auditRef, recognizerRow.ID); err != nil {
			// The usage rows are already durable; a dangling audit pointer
			// is an observability problem, not a billing one.
			slog.Warn("failed to re-point audit primary usage",
				"api_log_id", *auditRef, "usage_id", recognizerRow.ID, "error", err)
		}
	}
	return nil
}

// findProvisional locates the admission-time usage row: direct audit-id
// lookup first, then the most recent row in the trailing window.
func (r *UsageRecorder) findProvisional(ctx context.Context, userID, endpointID, apiLogID uuid.UUID) (*models.UsageRecord, error) {
	if apiLogID != uuid.Nil {
		rec, err := r.store.GetUsageByAPILog(ctx, apiLogID)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("looking up usage by audit id: %w", err)
		}
	}

	rec, err := r.store.FindRecentUsage(ctx, userID, endpointID, time.Now().UTC().Add(-reconcileWindow))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("looking up recent usage: %w", err)
	}
	return nil, nil
}

func applyMetrics(rec *models.UsageRecord, m models.UsageMetrics) {
	rec.ModelUsed = m.ModelUsed
	rec.AudioSecondsProcessed = m.AudioSecondsProcessed
	rec.PromptTokens = m.Tokens.PromptTokens
	rec.CompletionTokens = m.Tokens.CompletionTokens
	rec.TotalTokens = m.Tokens.TotalTokens
	rec.CachedTokens = m.Tokens.CachedTokens
	rec.FilesUploaded = m.FilesUploaded
	rec.PagesProcessed = m.PagesProcessed
	rec.ImagesGenerated = m.ImagesGenerated
	rec.DocumentsProcessed = m.DocumentsProcessed
}
