package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/voxgate/voxgate/internal/api/middleware"
	"github.com/voxgate/voxgate/internal/api/response"
	"github.com/voxgate/voxgate/pkg/models"
)

// BalanceService is the slice of the ledger the balance handlers use.
type BalanceService interface {
	GetCurrentBalance(ctx context.Context, userID uuid.UUID) (*models.BalanceInfo, error)
	AdminSetBalance(ctx context.Context, userID uuid.UUID, newBalance float64) error
}

// Balance handles balance lookup and the administrative override.
type Balance struct {
	ledger BalanceService
}

// NewBalance creates the balance handlers.
func NewBalance(l BalanceService) *Balance {
	return &Balance{ledger: l}
}

// Get handles GET /api/v1/balance for the authenticated user. The current
// month is initialized on first touch, so a fresh user sees their full
// allotment rather than an error.
func (h *Balance) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := mw.GetUserID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing user", nil)
		return
	}

	info, err := h.ledger.GetCurrentBalance(r.Context(), userID)
	if err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to read balance", nil)
		return
	}
	response.JSON(w, info)
}

// AdminSet handles PUT /api/v1/admin/balance, overwriting a user's balance
// for the current month.
func (h *Balance) AdminSet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID     uuid.UUID `json:"user_id"`
		NewBalance *float64  `json:"new_balance"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return
	}
	if req.UserID == uuid.Nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id is required", nil)
		return
	}
	if req.NewBalance == nil || *req.NewBalance < 0 {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "new_balance must be zero or positive", nil)
		return
	}

	if err := h.ledger.AdminSetBalance(r.Context(), req.UserID, *req.NewBalance); err != nil {
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update balance", nil)
		return
	}
	response.JSON(w, map[string]any{
		"user_id":     req.UserID,
		"new_balance": *req.NewBalance,
	})
}
