// Package httpapi exposes the payment webhook, health and metrics endpoints.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Proton-105/premium-bot/internal/health"
	"github.com/Proton-105/premium-bot/pkg/logger"
)

const DefaultWebhookPath = "/payment_webhook"

// HealthReporter is satisfied by *health.Checker.
type HealthReporter interface {
	Check(ctx context.Context) health.Report
}

type Deps struct {
	Webhook     http.Handler
	WebhookPath string
	Health      HealthReporter
	Log         *slog.Logger
}

// NewRouter registers all HTTP routes.
func NewRouter(deps Deps) http.Handler {
	log := deps.Log
	if log == nil {
		log = slog.Default()
	}
	path := deps.WebhookPath
	if path == "" {
		path = DefaultWebhookPath
	}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		logger.Middleware,
		RequestLogger(log),
	)

	// The callback allowlist checks the socket peer, so forwarding headers are never trusted here.
	if deps.Webhook != nil {
		r.Group(func(r chi.Router) {
			r.Use(RejectOnPanic(log))
			r.Post(path, deps.Webhook.ServeHTTP)
		})
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RealIP, middleware.Recoverer)
		r.Get("/healthz", healthHandler(deps.Health))
		r.Handle("/metrics", promhttp.Handler())
	})

	return r
}

func healthHandler(reporter HealthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if reporter == nil {
			render.JSON(w, r, health.Report{Healthy: true, Components: map[string]string{}})
			return
		}

		report := reporter.Check(r.Context())
		if !report.Healthy {
			render.Status(r, http.StatusServiceUnavailable)
		}
		render.JSON(w, r, report)
	}
}
