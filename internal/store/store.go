package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/voxgate/voxgate/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when a job status update violates the
// queued -> processing -> {completed, failed} state machine. Terminal states
// are never re-opened; hitting this is a logic error worth surfacing.
var ErrInvalidTransition = errors.New("invalid job status transition")

// ErrInsufficientBalance is returned by DeductBalance when the user's
// remaining credits do not cover the requested amount. Nothing is mutated.
var ErrInsufficientBalance = errors.New("insufficient balance")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error

	GetEndpoint(ctx context.Context, id uuid.UUID) (*models.Endpoint, error)
	GetEndpointByPath(ctx context.Context, path string) (*models.Endpoint, error)

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Job, error)
	ListPendingJobs(ctx context.Context, jobType models.JobType, limit int) ([]*models.Job, error)
	// ClaimJob atomically transitions a job from queued to processing.
	// The affected-row count is the proof of exclusive ownership: false
	// means another worker claimed it first and the caller must not touch it.
	ClaimJob(ctx context.Context, id uuid.UUID) (bool, error)
	CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) error
	FailJob(ctx context.Context, id uuid.UUID, errMsg string) error
	// RequeueStaleJobs re-queues processing jobs untouched for longer than
	// olderThan, failing permanently those already retried maxRetries times.
	RequeueStaleJobs(ctx context.Context, olderThan time.Duration, maxRetries int) (requeued int, failed int, err error)

	// InitBalance creates the month's balance row if absent; calling it
	// again for the same (user, month) is a no-op.
	InitBalance(ctx context.Context, userID uuid.UUID, month time.Time, credits float64) error
	GetBalance(ctx context.Context, userID uuid.UUID, month time.Time) (*models.BalanceRecord, error)
	// DeductBalance runs the read-compare-write inside a transaction with a
	// row lock and appends the audit transaction row. Two concurrent calls
	// can never both succeed on one remaining unit of balance.
	DeductBalance(ctx context.Context, userID uuid.UUID, month time.Time, endpointID uuid.UUID, amount float64) (float64, error)
	CreditBalance(ctx context.Context, userID uuid.UUID, month time.Time, endpointID uuid.UUID, amount float64) (float64, error)
	UpsertBalance(ctx context.Context, userID uuid.UUID, month time.Time, newBalance float64) error

	CreateUsage(ctx context.Context, rec *models.UsageRecord) error
	GetUsageByAPILog(ctx context.Context, apiLogID uuid.UUID) (*models.UsageRecord, error)
	ListUsageByAPILog(ctx context.Context, apiLogID uuid.UUID) ([]*models.UsageRecord, error)
	FindRecentUsage(ctx context.Context, userID uuid.UUID, endpointID uuid.UUID, since time.Time) (*models.UsageRecord, error)
	UpdateUsage(ctx context.Context, rec *models.UsageRecord) error
	DeleteUsage(ctx context.Context, id uuid.UUID) error

	CreateAPILog(ctx context.Context, log *models.APILog) error
	SetAPILogPrimaryUsage(ctx context.Context, apiLogID uuid.UUID, usageID uuid.UUID) error
}
