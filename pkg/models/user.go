package models

import (
	"time"

	"github.com/google/uuid"
)

// Tier names used for monthly credit allotments.
const (
	TierFree = "free"
	TierPro  = "pro"
)

// User owns API keys, jobs, usage rows, and a monthly credit balance.
// CustomMonthlyCredits, when set, overrides the tier default allotment.
type User struct {
	ID                   uuid.UUID `db:"id"                     json:"id"`
	Email                string    `db:"email"                  json:"email"`
	Tier                 string    `db:"tier"                   json:"tier"`
	CustomMonthlyCredits *float64  `db:"custom_monthly_credits" json:"custom_monthly_credits,omitempty"`
	CreatedAt            time.Time `db:"created_at"             json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at"             json:"updated_at"`
}
