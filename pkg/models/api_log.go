// Package models contains shared data models used across the VoxGate codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// APILog is the admission-time audit entry for a billable request. Its id
// travels through the job parameters so reconciliation can find the
// provisional usage row by direct reference instead of guessing by time.
type APILog struct {
	ID             uuid.UUID  `db:"id"               json:"id"`
	UserID         uuid.UUID  `db:"user_id"          json:"user_id"`
	EndpointID     uuid.UUID  `db:"endpoint_id"      json:"endpoint_id"`
	Timestamp      time.Time  `db:"timestamp"        json:"timestamp"`
	PrimaryUsageID *uuid.UUID `db:"primary_usage_id" json:"primary_usage_id,omitempty"`
}
