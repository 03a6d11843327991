package api_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/voxgate/voxgate/internal/api"
	mw "github.com/voxgate/voxgate/internal/api/middleware"
	"github.com/voxgate/voxgate/internal/billing"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/store"
	"github.com/voxgate/voxgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const rawKey = "vg_routertestkey0001"

// routerStore backs the full middleware chain for routing tests.
type routerStore struct {
	store.Store

	keys     []*models.APIKey
	endpoint *models.Endpoint
	balance  float64
}

func (s *routerStore) GetAPIKeyByPrefix(context.Context, string) ([]*models.APIKey, error) {
	return s.keys, nil
}

func (s *routerStore) UpdateAPIKeyLastUsed(context.Context, uuid.UUID) error { return nil }

func (s *routerStore) GetEndpointByPath(_ context.Context, path string) (*models.Endpoint, error) {
	if s.endpoint != nil && s.endpoint.Path == path {
		return s.endpoint, nil
	}
	return nil, store.ErrNotFound
}

func (s *routerStore) GetEndpoint(_ context.Context, id uuid.UUID) (*models.Endpoint, error) {
	if s.endpoint != nil && s.endpoint.ID == id {
		return s.endpoint, nil
	}
	return nil, store.ErrNotFound
}

func (s *routerStore) GetUser(context.Context, uuid.UUID) (*models.User, error) {
	return nil, store.ErrNotFound
}

func (s *routerStore) InitBalance(context.Context, uuid.UUID, time.Time, float64) error {
	return nil
}

func (s *routerStore) DeductBalance(_ context.Context, _ uuid.UUID, _ time.Time, _ uuid.UUID, amount float64) (float64, error) {
	if s.balance < amount {
		return s.balance, store.ErrInsufficientBalance
	}
	s.balance -= amount
	return s.balance, nil
}

func (s *routerStore) CreateAPILog(context.Context, *models.APILog) error     { return nil }
func (s *routerStore) CreateUsage(context.Context, *models.UsageRecord) error { return nil }

// routerCache satisfies cache.Cache with a permissive rate limit counter.
type routerCache struct{}

func (routerCache) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (routerCache) Get(context.Context, string) ([]byte, bool, error)        { return nil, false, nil }
func (routerCache) Delete(context.Context, string) error                     { return nil }
func (routerCache) Ping(context.Context) error                               { return nil }
func (routerCache) SetJobStatus(context.Context, uuid.UUID, string, time.Duration) error {
	return nil
}
func (routerCache) GetJobStatus(context.Context, uuid.UUID) (string, bool, error) {
	return "", false, nil
}
func (routerCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 1, nil
}

func stub(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(status) }
}

// newTestRouter builds a router over one API key with the given scopes and
// starting balance.
func newTestRouter(t *testing.T, scopes []string, balance float64) (http.Handler, *routerStore) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(rawKey), bcrypt.MinCost)
	require.NoError(t, err)

	st := &routerStore{
		keys: []*models.APIKey{{
			ID: uuid.New(), UserID: uuid.New(),
			KeyHash: string(hash), KeyPrefix: rawKey[:8], Scopes: scopes,
		}},
		endpoint: &models.Endpoint{ID: uuid.New(), Path: "/api/v1/jobs/stt", Name: "stt", Cost: 1},
		balance:  balance,
	}
	ledger := billing.NewLedger(st, config.BillingConfig{
		TierCredits:     map[string]float64{"free": 50},
		FallbackCredits: 10,
	})

	router := api.NewRouter(api.Dependencies{
		Auth:            mw.NewAuth(st),
		RateLimit:       mw.NewRateLimit(routerCache{}, 60),
		Metering:        mw.NewMetering(st, ledger),
		HealthHandler:   stub(http.StatusOK),
		SubmitSTT:       stub(http.StatusAccepted),
		PollJobHandler:  stub(http.StatusOK),
		BalanceHandler:  stub(http.StatusOK),
		AdminSetBalance: stub(http.StatusOK),
	})
	return router, st
}

func request(method, path, token string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestRouter_HealthIsPublic(t *testing.T) {
	router, _ := newTestRouter(t, []string{"api"}, 10)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, request(http.MethodGet, "/api/v1/health", ""))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_ProtectedRoutesRequireToken(t *testing.T) {
	router, _ := newTestRouter(t, []string{"api"}, 10)

	for _, tc := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/balance"},
		{http.MethodPost, "/api/v1/jobs/stt"},
		{http.MethodGet, "/api/v1/jobs/" + uuid.NewString()},
		{http.MethodPut, "/api/v1/admin/balance"},
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, request(tc.method, tc.path, ""))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.path)
	}
}

func TestRouter_ValidTokenReachesHandler(t *testing.T) {
	router, _ := newTestRouter(t, []string{"api"}, 10)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, request(http.MethodGet, "/api/v1/balance", rawKey))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_SubmissionPassesThroughMetering(t *testing.T) {
	router, st := newTestRouter(t, []string{"api"}, 10)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, request(http.MethodPost, "/api/v1/jobs/stt", rawKey))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.InDelta(t, 9, st.balance, 0.0001)
}

func TestRouter_InsufficientBalanceBlocksSubmission(t *testing.T) {
	router, _ := newTestRouter(t, []string{"api"}, 0)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, request(http.MethodPost, "/api/v1/jobs/stt", rawKey))

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestRouter_AdminRoutesRequireAdminScope(t *testing.T) {
	router, _ := newTestRouter(t, []string{"api"}, 10)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, request(http.MethodPut, "/api/v1/admin/balance", rawKey))

	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRouter_AdminScopeAllowed(t *testing.T) {
	router, _ := newTestRouter(t, []string{"api", "admin"}, 10)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, request(http.MethodPut, "/api/v1/admin/balance", rawKey))

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRouter_MissingHandlerIs501(t *testing.T) {
	router, _ := newTestRouter(t, []string{"api", "admin"}, 10)
	rec := httptest.NewRecorder()

	// No CreateKeyHandler was wired in.
	router.ServeHTTP(rec, request(http.MethodPost, "/api/v1/admin/keys", rawKey))

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestRouter_UnknownRoute(t *testing.T) {
	router, _ := newTestRouter(t, []string{"api"}, 10)
	rec := httptest.NewRecorder()

	router.ServeHTTP(rec, request(http.MethodGet, "/api/v1/unknown", rawKey))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
