// Package jobs contains the polling scheduler and the per-type processors
// that execute queued work against the external AI providers.
package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/voxgate/voxgate/internal/billing"
	"github.com/voxgate/voxgate/internal/cache"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/files"
	"github.com/voxgate/voxgate/internal/store"
	"github.com/voxgate/voxgate/pkg/models"
)

// statusTTL bounds how long a job's status lives in the cache after its
// last transition.
const statusTTL = 30 * time.Minute

// jobPathPrefix maps a job type to the endpoint it was admitted through.
const jobPathPrefix = "/api/v1/jobs/"

// Processor handles one job type end to end. Process runs after the worker
// has claimed the job: it acquires inputs, drives the provider calls,
// reconciles usage, and completes the job. A returned error means the job
// failed as a whole; the worker records it and no usage is reconciled.
type Processor interface {
	Type() models.JobType
	Process(ctx context.Context, job *models.Job) error
}

// Deps bundles the collaborators every processor needs.
type Deps struct {
	Store    store.Store
	Cache    cache.Cache
	Usage    *billing.UsageRecorder
	Ledger   *billing.Ledger
	Files    files.Client
	Provider models.SpeechProvider
	Jobs     config.JobsConfig
	Billing  config.BillingConfig
}

// complete marshals the result payload, finalizes the job, and refreshes
// the cached status.
func (d *Deps) complete(ctx context.Context, job *models.Job, result any) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}
	if err := d.Store.CompleteJob(ctx, job.ID, payload); err != nil {
		return fmt.Errorf("completing job: %w", err)
	}
	_ = d.Cache.SetJobStatus(ctx, job.ID, models.JobStatusCompleted, statusTTL)
	return nil
}

// fail records the failure, refreshes the cached status, and refunds the
// admission charge when configured to.
func (d *Deps) fail(ctx context.Context, job *models.Job, cause error) {
	slog.Error("job failed", "job_id", job.ID, "type", job.Type, "error", cause)

	if err := d.Store.FailJob(ctx, job.ID, cause.Error()); err != nil {
		slog.Error("failed to record job failure", "job_id", job.ID, "error", err)
	}
	_ = d.Cache.SetJobStatus(ctx, job.ID, models.JobStatusFailed, statusTTL)

	if d.Billing.RefundOnFailure {
		d.refund(ctx, job)
	}
}

// refund returns the endpoint cost charged at admission. Best effort: a
// failed refund is logged, never retried here.
func (d *Deps) refund(ctx context.Context, job *models.Job) {
	endpoint, err := d.Store.GetEndpointByPath(ctx, jobPathPrefix+string(job.Type))
	if err != nil {
		slog.Error("refund skipped, endpoint not resolvable",
			"job_id", job.ID, "type", job.Type, "error", err)
		return
	}
	if _, err := d.Ledger.Credit(ctx, job.UserID, endpoint.ID, endpoint.Cost); err != nil {
		slog.Error("refund failed", "job_id", job.ID, "user_id", job.UserID, "error", err)
		return
	}
	slog.Info("refunded failed job", "job_id", job.ID, "user_id", job.UserID, "amount", endpoint.Cost)
}

// cleanupFile deletes a transient input once processing succeeded. Failure
// is logged only: the deliverable is already durable.
func (d *Deps) cleanupFile(ctx context.Context, job *models.Job, fileID uuid.UUID) {
	if fileID == uuid.Nil {
		return
	}
	if err := d.Files.Delete(ctx, fileID, job.UserID); err != nil {
		slog.Warn("cleanup of input file failed", "job_id", job.ID, "file_id", fileID, "error", err)
	}
}
