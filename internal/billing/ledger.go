// Package billing owns the credit ledger and usage metering. All balance
// mutation goes through here; nothing else writes user_balances rows.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/store"
	"github.com/voxgate/voxgate/pkg/models"
)

// ErrInsufficientBalance is surfaced to admission when the user cannot
// cover an endpoint's cost. Distinguished from processing errors: it fires
// before any job is queued.
var ErrInsufficientBalance = store.ErrInsufficientBalance

// Ledger enforces the monthly credit budget per user.
type Ledger struct {
	store store.Store
	cfg   config.BillingConfig
}

// NewLedger creates a new Ledger.
func NewLedger(st store.Store, cfg config.BillingConfig) *Ledger {
	return &Ledger{store: st, cfg: cfg}
}

// MonthOf normalizes t to the first day of its calendar month in UTC, the
// key under which balances are tracked.
func MonthOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// monthlyCredits resolves the seed allotment for a user: custom override,
// else tier default, else the hard-coded fallback.
func (l *Ledger) monthlyCredits(user *models.User) float64 {
	if user == nil {
		return l.cfg.FallbackCredits
	}
	if user.CustomMonthlyCredits != nil {
		return *user.CustomMonthlyCredits
	}
	if credits, ok := l.cfg.TierCredits[user.Tier]; ok {
		return credits
	}
	return l.cfg.FallbackCredits
}

// EnsureMonthInitialized lazily creates the current month's balance record.
// Safe to call redundantly: an existing record is never re-seeded.
func (l *Ledger) EnsureMonthInitialized(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	month := MonthOf(time.Now())

	user, err := l.store.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return month, fmt.Errorf("resolving user for balance init: %w", err)
	}

	if err := l.store.InitBalance(ctx, userID, month, l.monthlyCredits(user)); err != nil {
		return month, fmt.Errorf("initializing month balance: %w", err)
	}
	return month, nil
}

// CheckAndDeduct verifies the user can cover amount and deducts it in one
// serialized step. When amount is nil the endpoint's configured cost is
// used. Returns the new balance, or ErrInsufficientBalance with nothing
// mutated.
func (l *Ledger) CheckAndDeduct(ctx context.Context, userID, endpointID uuid.UUID, amount *float64) (float64, error) {
	amt, err := l.resolveAmount(ctx, endpointID, amount)
	if err != nil {
		return 0, err
	}

	month, err := l.EnsureMonthInitialized(ctx, userID)
	if err != nil {
		return 0, err
	}

	newBalance, err := l.store.DeductBalance(ctx, userID, month, endpointID, amt)
	if err != nil {
		if errors.Is(err, ErrInsufficientBalance) {
			return newBalance, ErrInsufficientBalance
		}
		return 0, fmt.Errorf("deducting balance: %w", err)
	}
	return newBalance, nil
}

// Credit returns amount to the user's current month, recorded as a negative
// deduction in the audit trail. Used by the refund-on-failure path.
func (l *Ledger) Credit(ctx context.Context, userID, endpointID uuid.UUID, amount float64) (float64, error) {
	month, err := l.EnsureMonthInitialized(ctx, userID)
	if err != nil {
		return 0, err
	}

	newBalance, err := l.store.CreditBalance(ctx, userID, month, endpointID, amount)
	if err != nil {
		return 0, fmt.Errorf("crediting balance: %w", err)
	}
	return newBalance, nil
}

// GetCurrentBalance initializes the month if needed and returns the balance
// with tier metadata for display.
func (l *Ledger) GetCurrentBalance(ctx context.Context, userID uuid.UUID) (*models.BalanceInfo, error) {
	month, err := l.EnsureMonthInitialized(ctx, userID)
	if err != nil {
		return nil, err
	}

	record, err := l.store.GetBalance(ctx, userID, month)
	if err != nil {
		return nil, fmt.Errorf("reading balance: %w", err)
	}

	user, err := l.store.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("resolving user tier: %w", err)
	}

	info := &models.BalanceInfo{
		UserID:         userID,
		BalanceMonth:   record.BalanceMonth,
		CurrentBalance: record.CurrentBalance,
		MonthlyCredits: l.monthlyCredits(user),
	}
	if user != nil {
		info.Tier = user.Tier
	}
	return info, nil
}

// AdminSetBalance overwrites the current month's balance directly,
// bypassing cost calculation. Administrative override only.
func (l *Ledger) AdminSetBalance(ctx context.Context, userID uuid.UUID, newBalance float64) error {
	if err := l.store.UpsertBalance(ctx, userID, MonthOf(time.Now()), newBalance); err != nil {
		return fmt.Errorf("admin set balance: %w", err)
	}
	return nil
}

func (l *Ledger) resolveAmount(ctx context.Context, endpointID uuid.UUID, amount *float64) (float64, error) {
	if amount != nil {
		return *amount, nil
	}
	endpoint, err := l.store.GetEndpoint(ctx, endpointID)
	if err != nil {
		return 0, fmt.Errorf("resolving endpoint cost: %w", err)
	}
	return endpoint.Cost, nil
}
