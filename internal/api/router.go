// Package api wires the middleware stack and routes.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/voxgate/voxgate/internal/api/middleware"
	"github.com/voxgate/voxgate/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	Metering  *mw.Metering

	HealthHandler http.HandlerFunc

	SubmitSTT       http.HandlerFunc
	SubmitDiarize   http.HandlerFunc
	SubmitTTS       http.HandlerFunc
	SubmitSummarize http.HandlerFunc
	PollJobHandler  http.HandlerFunc

	BalanceHandler http.HandlerFunc

	AdminSetBalance  http.HandlerFunc
	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		// Billable submissions pass through metering: cost is deducted and
		// the provisional usage row written before the handler queues a job.
		r.Group(func(r chi.Router) {
			r.Use(deps.Metering.Meter)

			r.Post("/api/v1/jobs/stt", orNotImplemented(deps.SubmitSTT))
			r.Post("/api/v1/jobs/stt_diarize", orNotImplemented(deps.SubmitDiarize))
			r.Post("/api/v1/jobs/tts", orNotImplemented(deps.SubmitTTS))
			r.Post("/api/v1/jobs/summarize", orNotImplemented(deps.SubmitSummarize))
		})

		r.Get("/api/v1/jobs/{jobID}", orNotImplemented(deps.PollJobHandler))
		r.Get("/api/v1/balance", orNotImplemented(deps.BalanceHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Put("/api/v1/admin/balance", orNotImplemented(deps.AdminSetBalance))
			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
