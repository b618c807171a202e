// Package httptransport assembles the public HTTP surface.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"humanitylink/internal/platform/metrics"
	"humanitylink/internal/platform/middleware"
	"humanitylink/pkg/platform/httputil"
	"humanitylink/pkg/platform/middleware/metadata"
	"humanitylink/pkg/platform/middleware/requesttime"
)

// healthTimeout bounds a single dependency check.
const healthTimeout = 2 * time.Second

// Registrar mounts a feature's routes.
type Registrar interface {
	Register(r chi.Router)
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck func(ctx context.Context) error

// Deps are the collaborators the router needs. A nil Gatherer serves the
// default Prometheus registry.
type Deps struct {
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
	Checks   map[string]HealthCheck
	Handlers []Registrar
}

// NewRouter wires the middleware chain, the operational endpoints and every
// feature handler.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.LatencyMiddleware(deps.Metrics))

	r.Get("/healthz", healthHandler(deps.Checks))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.ContentTypeJSON)
		for _, h := range deps.Handlers {
			h.Register(r)
		}
	})
	return r
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{Status: "ok"}
		status := http.StatusOK
		if len(checks) > 0 {
			resp.Checks = make(map[string]string, len(checks))
		}
		for name, check := range checks {
			ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
			err := check(ctx)
			cancel()
			if err != nil {
				resp.Checks[name] = err.Error()
				resp.Status = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			resp.Checks[name] = "ok"
		}
		httputil.WriteJSON(w, status, resp)
	}
}
