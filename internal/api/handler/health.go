package handler

import (
	"context"
	"net/http"

	"github.com/voxgate/voxgate/internal/api/response"
)

// Pinger reports liveness of a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewHealth returns the GET /api/v1/health handler. A down database makes
// the service unhealthy; a down cache only degrades it, requests still work
// without caching.
func NewHealth(db Pinger, cache Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := map[string]string{
			"status":   "ok",
			"database": "up",
			"cache":    "up",
		}

		if err := db.Ping(r.Context()); err != nil {
			status["status"] = "unhealthy"
			status["database"] = "down"
			response.Error(w, http.StatusServiceUnavailable, "UNHEALTHY", "Database is unreachable", status)
			return
		}
		if err := cache.Ping(r.Context()); err != nil {
			status["status"] = "degraded"
			status["cache"] = "down"
		}

		response.JSON(w, status)
	}
}
