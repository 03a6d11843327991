package models

import (
	"time"

	"github.com/google/uuid"
)

// BalanceRecord tracks a user's remaining credits for one calendar month.
// balance_month is always the first day of the month in UTC; at most one
// record exists per (user_id, balance_month).
type BalanceRecord struct {
	UserID         uuid.UUID `db:"user_id"         json:"user_id"`
	BalanceMonth   time.Time `db:"balance_month"   json:"balance_month"`
	CurrentBalance float64   `db:"current_balance" json:"current_balance"`
	LastUpdated    time.Time `db:"last_updated"    json:"last_updated"`
}

// BalanceTransaction is an append-only audit row written for every
// successful deduction (or refund, recorded as a negative deduction).
type BalanceTransaction struct {
	ID              uuid.UUID `db:"id"               json:"id"`
	UserID          uuid.UUID `db:"user_id"          json:"user_id"`
	EndpointID      uuid.UUID `db:"endpoint_id"      json:"endpoint_id"`
	DeductedAmount  float64   `db:"deducted_amount"  json:"deducted_amount"`
	BalanceAfter    float64   `db:"balance_after"    json:"balance_after"`
	TransactionDate time.Time `db:"transaction_date" json:"transaction_date"`
}

// BalanceInfo is the display shape returned by the balance endpoint.
type BalanceInfo struct {
	UserID         uuid.UUID `json:"user_id"`
	BalanceMonth   time.Time `json:"balance_month"`
	CurrentBalance float64   `json:"current_balance"`
	MonthlyCredits float64   `json:"monthly_credits"`
	Tier           string    `json:"tier"`
}
