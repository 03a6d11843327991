package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/voxgate/voxgate/internal/store"
	"github.com/voxgate/voxgate/pkg/models"
)

// mockStore is an in-memory store.Store covering what the job pipeline
// touches: the job state machine, endpoints, usage rows, audit entries, and
// balances for the refund path.
type mockStore struct {
	mu        sync.Mutex
	jobs      map[uuid.UUID]*models.Job
	endpoints map[uuid.UUID]*models.Endpoint
	usage     map[uuid.UUID]*models.UsageRecord
	apiLogs   map[uuid.UUID]*models.APILog
	balances  map[uuid.UUID]float64
	users     map[uuid.UUID]*models.User

	denyClaims bool
}

func newMockStore() *mockStore {
	return &mockStore{
		jobs:      make(map[uuid.UUID]*models.Job),
		endpoints: make(map[uuid.UUID]*models.Endpoint),
		usage:     make(map[uuid.UUID]*models.UsageRecord),
		apiLogs:   make(map[uuid.UUID]*models.APILog),
		balances:  make(map[uuid.UUID]float64),
		users:     make(map[uuid.UUID]*models.User),
	}
}

func (m *mockStore) addEndpoint(path string, cost float64) *models.Endpoint {
	e := &models.Endpoint{ID: uuid.New(), Path: path, Name: path, Cost: cost}
	m.endpoints[e.ID] = e
	return e
}

// addJob stores a job in the given status and returns it.
func (m *mockStore) addJob(userID uuid.UUID, jobType models.JobType, status string, params any) *models.Job {
	raw, _ := json.Marshal(params)
	now := time.Now().UTC()
	job := &models.Job{
		ID: uuid.New(), Type: jobType, UserID: userID,
		Parameters: raw, Status: status, CreatedAt: now, UpdatedAt: now,
	}
	m.jobs[job.ID] = job
	return job
}

func (m *mockStore) jobStatus(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return j.Status
	}
	return ""
}

func (m *mockStore) jobResult(id uuid.UUID) json.RawMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok {
		return j.Result
	}
	return nil
}

func (m *mockStore) usageRows() []*models.UsageRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.UsageRecord, 0, len(m.usage))
	for _, rec := range m.usage {
		copied := *rec
		out = append(out, &copied)
	}
	for i := range out {
		for j := i + 1; j < len(out); j++ {
			if out[j].Timestamp.Before(out[i].Timestamp) {
				out[i], out[j] = out[j], out[i]
			}
		}
	}
	return out
}

func (m *mockStore) Ping(context.Context) error { return nil }

func (m *mockStore) GetUser(_ context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) GetEndpoint(_ context.Context, id uuid.UUID) (*models.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.endpoints[id]; ok {
		return e, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) GetEndpointByPath(_ context.Context, path string) (*models.Endpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.endpoints {
		if e.Path == path {
			return e, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) CreateJob(_ context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *job
	m.jobs[job.ID] = &copied
	return nil
}

func (m *mockStore) GetJob(_ context.Context, id, userID uuid.UUID) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[id]; ok && j.UserID == userID {
		copied := *j
		return &copied, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) ListPendingJobs(_ context.Context, jobType models.JobType, limit int) ([]*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Job
	for _, j := range m.jobs {
		if j.Type == jobType && j.Status == models.JobStatusQueued && len(out) < limit {
			copied := *j
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockStore) ClaimJob(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denyClaims {
		return false, nil
	}
	j, ok := m.jobs[id]
	if !ok || j.Status != models.JobStatusQueued {
		return false, nil
	}
	j.Status = models.JobStatusProcessing
	return true, nil
}

func (m *mockStore) CompleteJob(_ context.Context, id uuid.UUID, result json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != models.JobStatusProcessing {
		return store.ErrInvalidTransition
	}
	j.Status = models.JobStatusCompleted
	j.Result = result
	return nil
}

func (m *mockStore) FailJob(_ context.Context, id uuid.UUID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return store.ErrNotFound
	}
	if j.Status != models.JobStatusProcessing && j.Status != models.JobStatusQueued {
		return store.ErrInvalidTransition
	}
	j.Status = models.JobStatusFailed
	j.ErrorMessage = &errMsg
	return nil
}

func (m *mockStore) RequeueStaleJobs(context.Context, time.Duration, int) (int, int, error) {
	return 0, 0, nil
}

func (m *mockStore) InitBalance(_ context.Context, userID uuid.UUID, _ time.Time, credits float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.balances[userID]; !ok {
		m.balances[userID] = credits
	}
	return nil
}

func (m *mockStore) GetBalance(_ context.Context, userID uuid.UUID, month time.Time) (*models.BalanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[userID]; ok {
		return &models.BalanceRecord{UserID: userID, BalanceMonth: month, CurrentBalance: b}, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) DeductBalance(_ context.Context, userID uuid.UUID, _ time.Time, _ uuid.UUID, amount float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	if b < amount {
		return b, store.ErrInsufficientBalance
	}
	m.balances[userID] = b - amount
	return b - amount, nil
}

func (m *mockStore) CreditBalance(_ context.Context, userID uuid.UUID, _ time.Time, _ uuid.UUID, amount float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[userID]
	if !ok {
		return 0, store.ErrNotFound
	}
	m.balances[userID] = b + amount
	return b + amount, nil
}

func (m *mockStore) UpsertBalance(_ context.Context, userID uuid.UUID, _ time.Time, newBalance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[userID] = newBalance
	return nil
}

func (m *mockStore) CreateUsage(_ context.Context, rec *models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *rec
	m.usage[rec.ID] = &copied
	return nil
}

func (m *mockStore) GetUsageByAPILog(_ context.Context, apiLogID uuid.UUID) (*models.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.usage {
		if rec.APILogID != nil && *rec.APILogID == apiLogID {
			copied := *rec
			return &copied, nil
		}
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) ListUsageByAPILog(_ context.Context, apiLogID uuid.UUID) ([]*models.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.UsageRecord
	for _, rec := range m.usage {
		if rec.APILogID != nil && *rec.APILogID == apiLogID {
			copied := *rec
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *mockStore) FindRecentUsage(_ context.Context, userID, endpointID uuid.UUID, since time.Time) (*models.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.UsageRecord
	for _, rec := range m.usage {
		if rec.UserID != userID || rec.EndpointID != endpointID || rec.Timestamp.Before(since) {
			continue
		}
		if best == nil || rec.Timestamp.After(best.Timestamp) {
			best = rec
		}
	}
	if best == nil {
		return nil, store.ErrNotFound
	}
	copied := *best
	return &copied, nil
}

func (m *mockStore) UpdateUsage(_ context.Context, rec *models.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.usage[rec.ID]; !ok {
		return store.ErrNotFound
	}
	copied := *rec
	m.usage[rec.ID] = &copied
	return nil
}

func (m *mockStore) DeleteUsage(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.usage[id]; !ok {
		return store.ErrNotFound
	}
	delete(m.usage, id)
	return nil
}

func (m *mockStore) CreateAPILog(_ context.Context, log *models.APILog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *log
	m.apiLogs[log.ID] = &copied
	return nil
}

func (m *mockStore) SetAPILogPrimaryUsage(_ context.Context, apiLogID, usageID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log, ok := m.apiLogs[apiLogID]
	if !ok {
		return store.ErrNotFound
	}
	log.PrimaryUsageID = &usageID
	return nil
}

var errNotExercised = errors.New("mockStore: method not exercised by jobs")

func (m *mockStore) GetAPIKeyByPrefix(context.Context, string) ([]*models.APIKey, error) {
	return nil, errNotExercised
}
func (m *mockStore) UpdateAPIKeyLastUsed(context.Context, uuid.UUID) error { return errNotExercised }
func (m *mockStore) CreateAPIKey(context.Context, *models.APIKey) error    { return errNotExercised }
func (m *mockStore) ListAPIKeys(context.Context, uuid.UUID) ([]*models.APIKey, error) {
	return nil, errNotExercised
}
func (m *mockStore) RevokeAPIKey(context.Context, uuid.UUID, uuid.UUID) error {
	return errNotExercised
}

// mockCache is an in-memory cache.Cache tracking job status writes.
type mockCache struct {
	mu       sync.Mutex
	statuses map[uuid.UUID]string
}

func newMockCache() *mockCache {
	return &mockCache{statuses: make(map[uuid.UUID]string)}
}

func (c *mockCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (c *mockCache) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (c *mockCache) Delete(context.Context, string) error                     { return nil }
func (c *mockCache) Ping(context.Context) error                               { return nil }
func (c *mockCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, nil
}

func (c *mockCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status string, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[jobID] = status
	return nil
}

func (c *mockCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[jobID]
	return status, ok, nil
}

// mockFiles is an in-memory files.Client.
type mockFiles struct {
	mu         sync.Mutex
	uploads    map[uuid.UUID][]byte
	deleted    []uuid.UUID
	failDelete error
	failGetURL error
}

func newMockFiles() *mockFiles {
	return &mockFiles{uploads: make(map[uuid.UUID][]byte)}
}

func (f *mockFiles) GetFileURL(_ context.Context, fileID, _ uuid.UUID) (string, string, error) {
	if f.failGetURL != nil {
		return "", "", f.failGetURL
	}
	return "https://files.test/" + fileID.String(), "input.wav", nil
}

func (f *mockFiles) Upload(_ context.Context, _ uuid.UUID, _ string, data []byte, _ string) (uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.New()
	f.uploads[id] = data
	return id, nil
}

func (f *mockFiles) Delete(_ context.Context, fileID, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDelete != nil {
		return f.failDelete
	}
	f.deleted = append(f.deleted, fileID)
	return nil
}

func (f *mockFiles) deletedIDs() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uuid.UUID(nil), f.deleted...)
}
