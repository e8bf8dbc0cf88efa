package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Public — no auth required.
	r.Get("/health", g.handleHealth())
	if g.registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(g.registry, promhttp.HandlerOpts{}))
	}

	// Inbound webhook — HMAC-validated when a secret is configured.
	r.Post("/webhook/inbound", g.handleInbound())

	// API — bearer auth required; not mounted if no auth configured.
	if g.config.Auth.IsConfigured() {
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware(g.config.Auth))
			r.Route("/api", func(r chi.Router) {
				r.Post("/threads", g.handleOpenThread())
				r.Get("/threads/{id}", g.handleGetThread())
			})
		})
	}

	return r
}
