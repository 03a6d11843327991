package billing_test

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

// mockStore is an in-memory store.Store for exercising the billing logic
// without a database. Only the methods billing touches are stateful; the
// rest error out loudly if reached.
type mockStore struct {
	mu        sync.Mutex
	users     map[uuid.UUID]*models.User
	endpoints map[uuid.UUID]*models.Endpoint
	balances  map[string]*models.BalanceRecord
	usage     map[uuid.UUID]*models.UsageRecord
	apiLogs   map[uuid.UUID]*models.APILog

	deductCalls    int
	failSetPrimary bool
}

func newMockStore() *mockStore {
	return &mockStore{
		users:     make(map[uuid.UUID]*models.User),
		endpoints: make(map[uuid.UUID]*models.Endpoint),
		balances:  make(map[string]*models.BalanceRecord),
		usage:     make(map[uuid.UUID]*models.UsageRecord),
		apiLogs:   make(map[uuid.UUID]*models.APILog),
	}
}

func (m *mockStore) addUser(u *models.User) {
	m.users[u.ID] = u
}

func (m *mockStore) addEndpoint(path string, cost float64) *models.Endpoint {
	e := &models.Endpoint{ID: uuid.New(), Path: path, Name: path, Cost: cost}
	m.endpoints[e.ID] = e
	return e
}

func balanceKey(userID uuid.UUID, month time.Time) string {
	return userID.String() + "|" + month.Format("2006-01")
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

func (m *mockStore) InitBalance(_ context.Context, userID uuid.UUID, month time.Time, credits float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := balanceKey(userID, month)
	if _, ok := m.balances[key]; ok {
		return nil
	}
	m.balances[key] = &models.BalanceRecord{
		UserID: userID, BalanceMonth: month, CurrentBalance: credits, LastUpdated: time.Now().UTC(),
	}
	return nil
}

func (m *mockStore) GetBalance(_ context.Context, userID uuid.UUID, month time.Time) (*models.BalanceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.balances[balanceKey(userID, month)]; ok {
		copied := *b
		return &copied, nil
	}
	return nil, store.ErrNotFound
}

func (m *mockStore) DeductBalance(_ context.Context, userID uuid.UUID, month time.Time, _ uuid.UUID, amount float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deductCalls++
	b, ok := m.balances[balanceKey(userID, month)]
	if !ok {
		return 0, store.ErrNotFound
	}
	if b.CurrentBalance < amount {
		return b.CurrentBalance, store.ErrInsufficientBalance
	}
	b.CurrentBalance -= amount
	return b.CurrentBalance, nil
}

func (m *mockStore) CreditBalance(_ context.Context, userID uuid.UUID, month time.Time, _ uuid.UUID, amount float64) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.balances[balanceKey(userID, month)]
	if !ok {
		return 0, store.ErrNotFound
	}
	b.CurrentBalance += amount
	return b.CurrentBalance, nil
}

func (m *mockStore) UpsertBalance(_ context.Context, userID uuid.UUID, month time.Time, newBalance float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := balanceKey(userID, month)
	if b, ok := m.balances[key]; ok {
		b.CurrentBalance = newBalance
		return nil
	}
	m.balances[key] = &models.BalanceRecord{
		UserID: userID, BalanceMonth: month, CurrentBalance: newBalance, LastUpdated: time.Now().UTC(),
	}
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
	if m.failSetPrimary {
		return errors.New("injected failure")
	}
	log, ok := m.apiLogs[apiLogID]
	if !ok {
		return store.ErrNotFound
	}
	log.PrimaryUsageID = &usageID
	return nil
}

// usageRows returns the stored usage rows sorted by timestamp.
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

// Methods outside billing's reach.

var errNotExercised = errors.New("mockStore: method not exercised by billing")

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
func (m *mockStore) CreateJob(context.Context, *models.Job) error { return errNotExercised }
func (m *mockStore) GetJob(context.Context, uuid.UUID, uuid.UUID) (*models.Job, error) {
	return nil, errNotExercised
}
func (m *mockStore) ListPendingJobs(context.Context, models.JobType, int) ([]*models.Job, error) {
	return nil, errNotExercised
}
func (m *mockStore) ClaimJob(context.Context, uuid.UUID) (bool, error) {
	return false, errNotExercised
}
func (m *mockStore) CompleteJob(context.Context, uuid.UUID, json.RawMessage) error {
	return errNotExercised
}
func (m *mockStore) FailJob(context.Context, uuid.UUID, string) error { return errNotExercised }
func (m *mockStore) RequeueStaleJobs(context.Context, time.Duration, int) (int, int, error) {
	return 0, 0, errNotExercised
}
