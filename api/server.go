/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards and tooling

ROUTE GROUPS:
  /api/events/*        Event processing
  /api/consumers/*     Consumer profiles, balances, history
  /api/rules/*         Rule catalog projections and reload
  /api/health          Liveness probe
  /metrics             Prometheus collectors
  /                    Endpoint index page

SECURITY NOTE:
  No authentication middleware currently. All endpoints are public.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new router with all routes configured. allowedOrigins
// feeds the CORS middleware; an empty list allows any origin.
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Event routes
		r.Route("/events", func(r chi.Router) {
			r.Post("/process", h.ProcessEvent)
		})

		// Consumer routes
		r.Route("/consumers", func(r chi.Router) {
			r.Get("/{id}", h.GetConsumer)
			r.Put("/{id}", h.UpsertConsumer)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/history", h.GetHistory)
		})

		// Rule catalog routes
		r.Route("/rules", func(r chi.Router) {
			r.Get("/", h.ListRules)
			r.Get("/defaults", h.ListDefaultRules)
			r.Get("/campaigns", h.ListCampaignRules)
			r.Post("/reload", h.ReloadRules)
		})

		r.Get("/health", h.Health)
	})

	// Prometheus collectors
	r.Handle("/metrics", promhttp.Handler())

	// Endpoint index
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Loyalty Rules Engine</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Loyalty Rules Engine API</h1>
<h2>API Endpoints</h2>
<ul>
<li><code>POST /api/events/process</code> - Process a business event</li>
<li><a href="/api/rules">/api/rules</a> - Active rule catalog</li>
<li><a href="/api/rules/defaults">/api/rules/defaults</a> - Non-campaign rules</li>
<li><a href="/api/rules/campaigns">/api/rules/campaigns</a> - Campaign rules</li>
<li><a href="/api/health">/api/health</a> - Liveness probe</li>
<li><a href="/metrics">/metrics</a> - Prometheus collectors</li>
</ul>
</body>
</html>`))
	})

	return r
}
