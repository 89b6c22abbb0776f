package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/slipbook/slipbook/internal/observability"
	"github.com/slipbook/slipbook/internal/ops"
)

// Pinger reports whether a backing store answers.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger     *slog.Logger
	Config     *Config
	Metrics    *observability.Metrics
	OpsHandler *ops.Handler
	// JobsHandler mounts under /jobs when the worker queue is reachable.
	JobsHandler interface{ MountRoutes(chi.Router) }
	Health      Pinger
}

// NewRouter constructs the chi.Router serving health, metrics and ops routes.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if params.Health != nil {
			if err := params.Health.Ping(r.Context()); err != nil {
				if params.Logger != nil {
					params.Logger.Warn("health check failed", slog.Any("error", err))
				}
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	if params.OpsHandler != nil {
		r.Route("/ops", params.OpsHandler.MountRoutes)
	}
	if params.JobsHandler != nil {
		r.Route("/jobs", params.JobsHandler.MountRoutes)
	}
	return r
}
