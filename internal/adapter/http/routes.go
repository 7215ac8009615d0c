package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers the health check and the /api/v1 routes on r.
// rateLimit, if non-nil, guards message submission.
func MountRoutes(r chi.Router, h *Handlers, rateLimit func(http.Handler) http.Handler) {
	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		send := http.Handler(http.HandlerFunc(h.SendMessage))
		if rateLimit != nil {
			send = rateLimit(send)
		}
		r.Method(http.MethodPost, "/messages", send)
		r.Get("/connections", h.ConnectionCount)
	})
}
