package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/voxgate/voxgate/internal/api/response"
	"github.com/voxgate/voxgate/internal/billing"
	"github.com/voxgate/voxgate/internal/store"
	"github.com/voxgate/voxgate/pkg/models"
)

// Metering admits billable requests: it deducts the endpoint's cost before
// the handler runs, then writes the audit entry and the provisional usage
// row the async processor later reconciles. A user who cannot cover the
// cost is rejected with 402 and no job is ever created.
type Metering struct {
	store  store.Store
	ledger *billing.Ledger
}

// NewMetering creates a new Metering middleware.
func NewMetering(s store.Store, l *billing.Ledger) *Metering {
	return &Metering{store: s, ledger: l}
}

// Meter charges the endpoint cost and threads the audit id into the request
// context. Deduction happens first; the audit trail is best effort after the
// charge is durable.
func (m *Metering) Meter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, ok := GetUserID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Authentication required", nil)
			return
		}

		endpoint, err := m.store.GetEndpointByPath(r.Context(), r.URL.Path)
		if err != nil {
			slog.Error("endpoint not in catalog", "path", r.URL.Path, "error", err)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Endpoint is not configured for billing", nil)
			return
		}

		newBalance, err := m.ledger.CheckAndDeduct(r.Context(), userID, endpoint.ID, nil)
		if err != nil {
			if errors.Is(err, billing.ErrInsufficientBalance) {
				response.Error(w, http.StatusPaymentRequired,
					"INSUFFICIENT_BALANCE", "Not enough credits to use this endpoint", map[string]any{
						"required_credits": endpoint.Cost,
						"current_balance":  newBalance,
					})
				return
			}
			slog.Error("balance deduction failed", "user_id", userID, "path", r.URL.Path, "error", err)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to process billing", nil)
			return
		}

		apiLog := &models.APILog{
			ID:         uuid.New(),
			UserID:     userID,
			EndpointID: endpoint.ID,
			Timestamp:  time.Now().UTC(),
		}
		if err := m.store.CreateAPILog(r.Context(), apiLog); err != nil {
			// The charge is already durable; reconciliation falls back to the
			// recent-window lookup when no audit id is available.
			slog.Warn("audit log insert failed", "user_id", userID, "path", r.URL.Path, "error", err)
			apiLog.ID = uuid.Nil
		}

		provisional := &models.UsageRecord{
			ID:         uuid.New(),
			UserID:     userID,
			EndpointID: endpoint.ID,
			Timestamp:  apiLog.Timestamp,
		}
		if apiLog.ID != uuid.Nil {
			provisional.APILogID = &apiLog.ID
		}
		if err := m.store.CreateUsage(r.Context(), provisional); err != nil {
			slog.Warn("provisional usage insert failed", "user_id", userID, "path", r.URL.Path, "error", err)
		}

		if apiLog.ID != uuid.Nil {
			r = r.WithContext(SetAPILogID(r.Context(), apiLog.ID))
		}
		next.ServeHTTP(w, r)
	})
}
