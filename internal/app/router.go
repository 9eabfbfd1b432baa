// Package app wires the HTTP surface of the matching backend.
package app

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/fairyhunter13/resume-matcher/internal/adapter/httpserver"
	"github.com/fairyhunter13/resume-matcher/internal/adapter/observability"
	"github.com/fairyhunter13/resume-matcher/internal/config"
	"github.com/fairyhunter13/resume-matcher/internal/ratelimit"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming
// spaces. An empty input allows every origin.
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middleware and routes.
// Every route, including health probes, passes the admission limiter first.
func BuildRouter(cfg config.Config, srv *httpserver.Server, limiter *ratelimit.Limiter) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(cfg.HTTPWriteTimeout))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)
	if limiter != nil {
		r.Use(httpserver.RateLimit(limiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Post("/v1/applications", srv.SubmitApplicationHandler())
	r.Get("/v1/applications/{jobID}", srv.JobStatusHandler())
	r.Post("/v1/match", srv.MatchHandler())

	r.Route("/v1/admin", func(ar chi.Router) {
		if cfg.AdminEnabled() {
			guard, err := httpserver.NewBasicAuthGuard(cfg.AdminUsername, cfg.AdminPassword)
			if err != nil {
				// Fail closed rather than exposing operator routes.
				ar.Use(func(http.Handler) http.Handler {
					return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
						http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
					})
				})
			} else {
				ar.Use(guard.Middleware)
			}
		}
		ar.Get("/system", srv.AdminSystemHandler())
		ar.Post("/control", srv.AdminControlHandler())
	})

	r.Get("/healthz", httpserver.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Method(http.MethodGet, "/metrics", httpserver.MetricsHandler())

	return httpserver.SecurityHeaders(r)
}
