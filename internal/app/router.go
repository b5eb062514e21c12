// Package app assembles the HTTP router and readiness probes over the
// service factory.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/retail-reco/internal/adapter/httpserver"
	"github.com/fairyhunter13/retail-reco/internal/adapter/observability"
	"github.com/fairyhunter13/retail-reco/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(30 * time.Second))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	// Rate limit mutating endpoints
	r.Group(func(wr chi.Router) {
		wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
		wr.Post("/v1/recommend", srv.RecommendHandler())
		wr.Post("/v1/events", srv.EventHandler())
	})

	// Read-only endpoints
	r.Get("/v1/users/{id}/profile", srv.ProfileHandler())
	r.Get("/v1/products/{id}", srv.ProductHandler())

	// Health and metrics
	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	// Operational endpoints, only with credentials configured
	if cfg.OpsEnabled() {
		r.Group(func(ops chi.Router) {
			ops.Use(srv.OpsGuard())
			ops.Use(httprate.LimitByIP(cfg.RateLimitPerMin, 1*time.Minute))
			ops.Post("/v1/ops/cache/invalidate/{userID}", srv.InvalidateUserHandler())
			ops.Post("/v1/ops/warmup", srv.WarmupHandler())
			ops.Post("/v1/ops/recovery", srv.RecoveryHandler())
			ops.Get("/v1/ops/status", srv.OpsStatusHandler())
		})
	}

	return httpserver.SecurityHeaders(r)
}
