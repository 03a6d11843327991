package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/voxgate/voxgate/internal/billing"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func billingConfig() config.BillingConfig {
	return config.BillingConfig{
		TierCredits:     map[string]float64{"free": 50, "pro": 500},
		FallbackCredits: 10,
	}
}

func floatPtr(f float64) *float64 { return &f }

func TestMonthOf(t *testing.T) {
	ts := time.Date(2026, 8, 28, 17, 45, 3, 0, time.FixedZone("CEST", 2*3600))
	month := billing.MonthOf(ts)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), month)
}

func TestEnsureMonthInitialized_TierCredits(t *testing.T) {
	st := newMockStore()
	user := &models.User{ID: uuid.New(), Tier: "pro"}
	st.addUser(user)
	ledger := billing.NewLedger(st, billingConfig())

	month, err := ledger.EnsureMonthInitialized(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, billing.MonthOf(time.Now()), month)

	b, err := st.GetBalance(context.Background(), user.ID, month)
	require.NoError(t, err)
	assert.InDelta(t, 500, b.CurrentBalance, 0.0001)
}

func TestEnsureMonthInitialized_CustomCreditsOverrideTier(t *testing.T) {
	st := newMockStore()
	user := &models.User{ID: uuid.New(), Tier: "pro", CustomMonthlyCredits: floatPtr(1234)}
	st.addUser(user)
	ledger := billing.NewLedger(st, billingConfig())

	month, err := ledger.EnsureMonthInitialized(context.Background(), user.ID)
	require.NoError(t, err)

	b, err := st.GetBalance(context.Background(), user.ID, month)
	require.NoError(t, err)
	assert.InDelta(t, 1234, b.CurrentBalance, 0.0001)
}

func TestEnsureMonthInitialized_UnknownTierFallsBack(t *testing.T) {
	st := newMockStore()
	user := &models.User{ID: uuid.New(), Tier: "enterprise"}
	st.addUser(user)
	ledger := billing.NewLedger(st, billingConfig())

	month, err := ledger.EnsureMonthInitialized(context.Background(), user.ID)
	require.NoError(t, err)

	b, err := st.GetBalance(context.Background(), user.ID, month)
	require.NoError(t, err)
	assert.InDelta(t, 10, b.CurrentBalance, 0.0001)
}

func TestEnsureMonthInitialized_UnknownUserFallsBack(t *testing.T) {
	st := newMockStore()
	ledger := billing.NewLedger(st, billingConfig())
	userID := uuid.New()

	month, err := ledger.EnsureMonthInitialized(context.Background(), userID)
	require.NoError(t, err)

	b, err := st.GetBalance(context.Background(), userID, month)
	require.NoError(t, err)
	assert.InDelta(t, 10, b.CurrentBalance, 0.0001)
}

func TestEnsureMonthInitialized_NeverReseeds(t *testing.T) {
	st := newMockStore()
	user := &models.User{ID: uuid.New(), Tier: "free"}
	st.addUser(user)
	ledger := billing.NewLedger(st, billingConfig())
	ctx := context.Background()

	month, err := ledger.EnsureMonthInitialized(ctx, user.ID)
	require.NoError(t, err)

	// Spend some, then re-run the lazy init.
	endpoint := st.addEndpoint("/api/v1/jobs/stt", 1)
	_, err = ledger.CheckAndDeduct(ctx, user.ID, endpoint.ID, nil)
	require.NoError(t, err)

	_, err = ledger.EnsureMonthInitialized(ctx, user.ID)
	require.NoError(t, err)

	b, err := st.GetBalance(ctx, user.ID, month)
	require.NoError(t, err)
	assert.InDelta(t, 49, b.CurrentBalance, 0.0001)
}

func TestCheckAndDeduct_UsesEndpointCost(t *testing.T) {
	st := newMockStore()
	user := &models.User{ID: uuid.New(), Tier: "free"}
	st.addUser(user)
	endpoint := st.addEndpoint("/api/v1/jobs/stt_diarize", 2)
	ledger := billing.NewLedger(st, billingConfig())

	newBalance, err := ledger.CheckAndDeduct(context.Background(), user.ID, endpoint.ID, nil)
	require.NoError(t, err)
	assert.InDelta(t, 48, newBalance, 0.0001)
}

func TestCheckAndDeduct_ExplicitAmount(t *testing.T) {
	st := newMockStore()
	user := &models.User{ID: uuid.New(), Tier: "free"}
	st.addUser(user)
	endpoint := st.addEndpoint("/api/v1/jobs/stt", 1)
	ledger := billing.NewLedger(st, billingConfig())

	newBalance, err := ledger.CheckAndDeduct(context.Background(), user.ID, endpoint.ID, floatPtr(7.5))
	require.NoError(t, err)
	assert.InDelta(t, 42.5, newBalance, 0.0001)
}

func TestCheckAndDeduct_Insufficient(t *testing.T) {
	st := newMockStore()
	user := &models.User{ID: uuid.New(), Tier: "free", CustomMonthlyCredits: floatPtr(1)}
	st.addUser(user)
	endpoint := st.addEndpoint("/api/v1/jobs/stt_diarize", 2)
	ledger := billing.NewLedger(st, billingConfig())
	ctx := context.Background()

	balance, err := ledger.CheckAndDeduct(ctx, user.ID, endpoint.ID, nil)
	require.ErrorIs(t, err, billing.ErrInsufficientBalance)
	// The remaining balance rides along for the error response.
	assert.InDelta(t, 1, balance, 0.0001)

	// Nothing was spent.
	b, err := st.GetBalance(ctx, user.ID, billing.MonthOf(time.Now()))
	require.NoError(t, err)
	assert.InDelta(t, 1, b.CurrentBalance, 0.0001)
}

func TestCheckAndDeduct_UnknownEndpoint(t *testing.T) {
	st := newMockStore()
	ledger := billing.NewLedger(st, billingConfig())

	_, err := ledger.CheckAndDeduct(context.Background(), uuid.New(), uuid.New(), nil)
	require.Error(t, err)
	// The endpoint lookup fails before any balance work happens.
	assert.Zero(t, st.deductCalls)
}

func TestCredit_RestoresBalance(t *testing.T) {
	st := newMockStore()
	user := &models.User{ID: uuid.New(), Tier: "free"}
	st.addUser(user)
	endpoint := st.addEndpoint("/api/v1/jobs/tts", 1)
	ledger := billing.NewLedger(st, billingConfig())
	ctx := context.Background()

	_, err := ledger.CheckAndDeduct(ctx, user.ID, endpoint.ID, nil)
	require.NoError(t, err)

	newBalance, err := ledger.Credit(ctx, user.ID, endpoint.ID, 1)
	require.NoError(t, err)
	assert.InDelta(t, 50, newBalance, 0.0001)
}

func TestGetCurrentBalance(t *testing.T) {
	st := newMockStore()
	user := &models.User{ID: uuid.New(), Tier: "pro"}
	st.addUser(user)
	ledger := billing.NewLedger(st, billingConfig())

	info, err := ledger.GetCurrentBalance(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, user.ID, info.UserID)
	assert.Equal(t, "pro", info.Tier)
	assert.InDelta(t, 500, info.CurrentBalance, 0.0001)
	assert.InDelta(t, 500, info.MonthlyCredits, 0.0001)
	assert.Equal(t, billing.MonthOf(time.Now()), info.BalanceMonth)
}

func TestAdminSetBalance(t *testing.T) {
	st := newMockStore()
	user := &models.User{ID: uuid.New(), Tier: "free"}
	st.addUser(user)
	ledger := billing.NewLedger(st, billingConfig())
	ctx := context.Background()

	require.NoError(t, ledger.AdminSetBalance(ctx, user.ID, 9000))

	info, err := ledger.GetCurrentBalance(ctx, user.ID)
	require.NoError(t, err)
	assert.InDelta(t, 9000, info.CurrentBalance, 0.0001)
}
