package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/voxgate/voxgate/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

func (s *PostgresStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, tier, custom_monthly_credits, created_at, updated_at FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Email, &u.Tier, &u.CustomMonthlyCredits, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &u, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID uuid.UUID) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE user_id = $1 AND deleted_at IS NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, userID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET deleted_at = NOW(), updated_at = NOW()
		 WHERE id = $1 AND user_id = $2 AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Endpoints ---

func (s *PostgresStore) GetEndpoint(ctx context.Context, id uuid.UUID) (*models.Endpoint, error) {
	var e models.Endpoint
	err := s.pool.QueryRow(ctx,
		`SELECT id, path, name, cost, created_at FROM endpoints WHERE id = $1`, id,
	).Scan(&e.ID, &e.Path, &e.Name, &e.Cost, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get endpoint: %w", err)
	}
	return &e, nil
}

func (s *PostgresStore) GetEndpointByPath(ctx context.Context, path string) (*models.Endpoint, error) {
	var e models.Endpoint
	err := s.pool.QueryRow(ctx,
		`SELECT id, path, name, cost, created_at FROM endpoints WHERE path = $1`, path,
	).Scan(&e.ID, &e.Path, &e.Name, &e.Cost, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get endpoint by path: %w", err)
	}
	return &e, nil
}

// --- Jobs ---

const jobColumns = `id, type, user_id, parameters, status, result, error_message, retry_count, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	err := row.Scan(&j.ID, &j.Type, &j.UserID, &j.Parameters, &j.Status, &j.Result,
		&j.ErrorMessage, &j.RetryCount, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO jobs (id, type, user_id, parameters, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		job.ID, job.Type, job.UserID, job.Parameters, job.Status, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, userID uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND user_id = $2`, id, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListPendingJobs(ctx context.Context, jobType models.JobType, limit int) ([]*models.Job, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = $1 AND type = $2 ORDER BY created_at ASC LIMIT $3`,
		models.JobStatusQueued, jobType, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) ClaimJob(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`,
		id, models.JobStatusProcessing, models.JobStatusQueued)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) CompleteJob(ctx context.Context, id uuid.UUID, result json.RawMessage) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, result = $3, updated_at = NOW()
		 WHERE id = $1 AND status = $4`,
		id, models.JobStatusCompleted, result, models.JobStatusProcessing)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, models.JobStatusCompleted)
	}
	return nil
}

func (s *PostgresStore) FailJob(ctx context.Context, id uuid.UUID, errMsg string) error {
	// Failing from queued is allowed for admission-adjacent early failures.
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, error_message = $3, updated_at = NOW()
		 WHERE id = $1 AND status IN ($4, $5)`,
		id, models.JobStatusFailed, errMsg, models.JobStatusProcessing, models.JobStatusQueued)
	if err != nil {
		return fmt.Errorf("fail job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionError(ctx, id, models.JobStatusFailed)
	}
	return nil
}

// transitionError distinguishes a missing job from a state machine violation
// after a conditional update matched zero rows.
func (s *PostgresStore) transitionError(ctx context.Context, id uuid.UUID, target string) error {
	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get job status: %w", err)
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, target)
}

func (s *PostgresStore) RequeueStaleJobs(ctx context.Context, olderThan time.Duration, maxRetries int) (int, int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	failTag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, error_message = $2, updated_at = NOW()
		 WHERE status = $3 AND updated_at < $4 AND retry_count >= $5`,
		models.JobStatusFailed, "job stalled and exceeded the retry limit",
		models.JobStatusProcessing, cutoff, maxRetries)
	if err != nil {
		return 0, 0, fmt.Errorf("fail stale jobs: %w", err)
	}

	requeueTag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, retry_count = retry_count + 1, updated_at = NOW()
		 WHERE status = $2 AND updated_at < $3 AND retry_count < $4`,
		models.JobStatusQueued, models.JobStatusProcessing, cutoff, maxRetries)
	if err != nil {
		return 0, int(failTag.RowsAffected()), fmt.Errorf("requeue stale jobs: %w", err)
	}

	return int(requeueTag.RowsAffected()), int(failTag.RowsAffected()), nil
}

// --- Balances ---

func (s *PostgresStore) InitBalance(ctx context.Context, userID uuid.UUID, month time.Time, credits float64) error {
	// ON CONFLICT DO NOTHING makes initialization idempotent: a month's
	// record is never re-seeded once it exists.
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_balances (user_id, balance_month, current_balance, last_updated)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id, balance_month) DO NOTHING`,
		userID, month, credits)
	if err != nil {
		return fmt.Errorf("init balance: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID uuid.UUID, month time.Time) (*models.BalanceRecord, error) {
	var b models.BalanceRecord
	err := s.pool.QueryRow(ctx,
		`SELECT user_id, balance_month, current_balance, last_updated
		 FROM user_balances WHERE user_id = $1 AND balance_month = $2`, userID, month,
	).Scan(&b.UserID, &b.BalanceMonth, &b.CurrentBalance, &b.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) DeductBalance(ctx context.Context, userID uuid.UUID, month time.Time, endpointID uuid.UUID, amount float64) (float64, error) {
	return s.adjustBalance(ctx, userID, month, endpointID, amount, true)
}

func (s *PostgresStore) CreditBalance(ctx context.Context, userID uuid.UUID, month time.Time, endpointID uuid.UUID, amount float64) (float64, error) {
	return s.adjustBalance(ctx, userID, month, endpointID, -amount, false)
}

// adjustBalance applies a signed deduction inside a transaction. The row
// lock serializes concurrent calls for the same user so the compare and the
// write cannot interleave.
func (s *PostgresStore) adjustBalance(ctx context.Context, userID uuid.UUID, month time.Time, endpointID uuid.UUID, amount float64, enforce bool) (float64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin balance tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var current float64
	err = tx.QueryRow(ctx,
		`SELECT current_balance FROM user_balances
		 WHERE user_id = $1 AND balance_month = $2 FOR UPDATE`, userID, month,
	).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("lock balance: %w", err)
	}

	if enforce && current < amount {
		return current, ErrInsufficientBalance
	}

	var newBalance float64
	err = tx.QueryRow(ctx,
		`UPDATE user_balances SET current_balance = current_balance - $3, last_updated = NOW()
		 WHERE user_id = $1 AND balance_month = $2
		 RETURNING current_balance`, userID, month, amount,
	).Scan(&newBalance)
	if err != nil {
		return 0, fmt.Errorf("update balance: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO balance_transactions (id, user_id, endpoint_id, deducted_amount, balance_after, transaction_date)
		 VALUES ($1, $2, $3, $4, $5, NOW())`,
		uuid.New(), userID, endpointID, amount, newBalance)
	if err != nil {
		return 0, fmt.Errorf("record balance transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit balance tx: %w", err)
	}
	return newBalance, nil
}

func (s *PostgresStore) UpsertBalance(ctx context.Context, userID uuid.UUID, month time.Time, newBalance float64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_balances (user_id, balance_month, current_balance, last_updated)
		 VALUES ($1, $2, $3, NOW())
		 ON CONFLICT (user_id, balance_month) DO UPDATE SET
		   current_balance = EXCLUDED.current_balance,
		   last_updated = NOW()`,
		userID, month, newBalance)
	if err != nil {
		return fmt.Errorf("upsert balance: %w", err)
	}
	return nil
}

// --- Usage ---

const usageColumns = `id, user_id, endpoint_id, timestamp, model_used, audio_seconds_processed,
	prompt_tokens, completion_tokens, total_tokens, cached_tokens,
	files_uploaded, pages_processed, images_generated, documents_processed, api_log_id`

func scanUsage(row pgx.Row) (*models.UsageRecord, error) {
	var u models.UsageRecord
	err := row.Scan(&u.ID, &u.UserID, &u.EndpointID, &u.Timestamp, &u.ModelUsed, &u.AudioSecondsProcessed,
		&u.PromptTokens, &u.CompletionTokens, &u.TotalTokens, &u.CachedTokens,
		&u.FilesUploaded, &u.PagesProcessed, &u.ImagesGenerated, &u.DocumentsProcessed, &u.APILogID)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) CreateUsage(ctx context.Context, rec *models.UsageRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO user_usage (id, user_id, endpoint_id, timestamp, model_used, audio_seconds_processed,
		   prompt_tokens, completion_tokens, total_tokens, cached_tokens,
		   files_uploaded, pages_processed, images_generated, documents_processed, api_log_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		rec.ID, rec.UserID, rec.EndpointID, rec.Timestamp, rec.ModelUsed, rec.AudioSecondsProcessed,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.CachedTokens,
		rec.FilesUploaded, rec.PagesProcessed, rec.ImagesGenerated, rec.DocumentsProcessed, rec.APILogID)
	if err != nil {
		return fmt.Errorf("create usage: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUsageByAPILog(ctx context.Context, apiLogID uuid.UUID) (*models.UsageRecord, error) {
	u, err := scanUsage(s.pool.QueryRow(ctx,
		`SELECT `+usageColumns+` FROM user_usage
		 WHERE api_log_id = $1 ORDER BY timestamp ASC LIMIT 1`, apiLogID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get usage by api log: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) ListUsageByAPILog(ctx context.Context, apiLogID uuid.UUID) ([]*models.UsageRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+usageColumns+` FROM user_usage
		 WHERE api_log_id = $1 ORDER BY timestamp ASC`, apiLogID)
	if err != nil {
		return nil, fmt.Errorf("list usage by api log: %w", err)
	}
	defer rows.Close()

	var recs []*models.UsageRecord
	for rows.Next() {
		u, err := scanUsage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		recs = append(recs, u)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) FindRecentUsage(ctx context.Context, userID uuid.UUID, endpointID uuid.UUID, since time.Time) (*models.UsageRecord, error) {
	u, err := scanUsage(s.pool.QueryRow(ctx,
		`SELECT `+usageColumns+` FROM user_usage
		 WHERE user_id = $1 AND endpoint_id = $2 AND timestamp >= $3
		 ORDER BY timestamp DESC LIMIT 1`, userID, endpointID, since))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find recent usage: %w", err)
	}
	return u, nil
}

func (s *PostgresStore) UpdateUsage(ctx context.Context, rec *models.UsageRecord) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE user_usage SET model_used = $2, audio_seconds_processed = $3,
		   prompt_tokens = $4, completion_tokens = $5, total_tokens = $6, cached_tokens = $7,
		   files_uploaded = $8, pages_processed = $9, images_generated = $10, documents_processed = $11
		 WHERE id = $1`,
		rec.ID, rec.ModelUsed, rec.AudioSecondsProcessed,
		rec.PromptTokens, rec.CompletionTokens, rec.TotalTokens, rec.CachedTokens,
		rec.FilesUploaded, rec.PagesProcessed, rec.ImagesGenerated, rec.DocumentsProcessed)
	if err != nil {
		return fmt.Errorf("update usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteUsage(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM user_usage WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- API Logs ---

func (s *PostgresStore) CreateAPILog(ctx context.Context, log *models.APILog) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_logs (id, user_id, endpoint_id, timestamp) VALUES ($1, $2, $3, $4)`,
		log.ID, log.UserID, log.EndpointID, log.Timestamp)
	if err != nil {
		return fmt.Errorf("create api log: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetAPILogPrimaryUsage(ctx context.Context, apiLogID uuid.UUID, usageID uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_logs SET primary_usage_id = $2 WHERE id = $1`, apiLogID, usageID)
	if err != nil {
		return fmt.Errorf("set api log primary usage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}
