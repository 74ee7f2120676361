// Package httptransport assembles the gateway's HTTP surface: upload routes
// behind identity, body-limit, and admission middleware, plus health and
// metrics endpoints outside of them.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pixgate/internal/platform/health"
	"pixgate/internal/platform/middleware"
	"pixgate/internal/quota"
	ratelimitMW "pixgate/internal/ratelimit/middleware"
	"pixgate/internal/upload/handler"
)

// RouterConfig carries the wired dependencies for route assembly.
type RouterConfig struct {
	Uploads          *handler.Handler
	RateLimit        *ratelimitMW.Middleware
	Health           *health.Handler
	SessionVerifyKey string
	Logger           *slog.Logger
}

// NewRouter wires all public endpoints with middleware.
//
// Upload routes carry no blanket timeout middleware: the service layer sets
// per-call deadlines (bulk forwards get a longer one than single uploads), and
// a transport-level cap would silently override them.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Logger))

	cfg.Health.Register(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity(cfg.SessionVerifyKey, cfg.Logger))
		r.Use(middleware.BodyLimit(quota.MaxRequestBytes()))

		// Uploads and token issuance sit behind admission; status polling
		// does not, so a slow batch can be polled to completion at any rate.
		r.Group(func(r chi.Router) {
			r.Use(cfg.RateLimit.RateLimit)
			cfg.Uploads.Register(r)
		})
		cfg.Uploads.RegisterStatus(r)
	})

	return r
}
