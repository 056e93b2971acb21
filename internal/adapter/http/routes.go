package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router. ws may be nil.
func MountRoutes(r chi.Router, h *Handlers, ws http.HandlerFunc) {
	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Ready)
	if ws != nil {
		r.Get("/ws", ws)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		r.Get("/disputes", h.ListDisputes)
		r.Route("/disputes/{key}", func(r chi.Router) {
			r.Post("/evaluate", h.EvaluateDispute)
			r.Post("/replay", h.ReplayDispute)
			r.Get("/verify", h.VerifyDispute)
			r.Get("/commitment", h.GetCommitment)
		})

		r.Get("/evaluations", h.ListEvaluations)
		r.Get("/payments/{hash}", h.GetPayment)
	})
}
