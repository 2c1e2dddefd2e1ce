package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires every API route.
func NewRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RealIP)

	r.Get("/health", HealthCheck)
	if Metrics != nil {
		r.Method(http.MethodGet, "/metrics", Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/state", GetSessionState)
		r.Post("/connect", ConnectSession)
		r.Post("/disconnect", DisconnectSession)

		r.Get("/pods", ListPods)
		r.Get("/pods/search", SearchPods)
		r.Get("/pods/{name}/describe", DescribePod)
		r.Get("/pods/{name}/top", TopPod)
		r.Get("/pods/{name}/logs", StreamPodLogs)

		r.Get("/events", GetEvents)
		r.Get("/audit", GetAuditLogs)
		r.Get("/logs", GetServerLogs)
		r.Delete("/logs", ClearServerLogs)
	})
	return r
}
