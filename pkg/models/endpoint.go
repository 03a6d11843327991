package models

import (
	"time"

	"github.com/google/uuid"
)

// Endpoint is a billable API surface with a fixed per-call credit cost.
// Paths follow the route layout, e.g. "/api/v1/jobs/stt".
type Endpoint struct {
	ID        uuid.UUID `db:"id"         json:"id"`
	Path      string    `db:"path"       json:"path"`
	Name      string    `db:"name"       json:"name"`
	Cost      float64   `db:"cost"       json:"cost"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
