package httptransport

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"humanitylink/internal/platform/metrics"
	"humanitylink/pkg/platform/httputil"
	"humanitylink/pkg/requestcontext"
	"humanitylink/pkg/testutil"
)

type echoHandler struct{}

func (echoHandler) Register(r chi.Router) {
	r.Post("/echo", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{
			"request_id": requestcontext.RequestID(r.Context()),
			"year":       requestcontext.Now(r.Context()).Year(),
		})
	})
}

func newTestRouter(checks map[string]HealthCheck) http.Handler {
	reg := prometheus.NewRegistry()
	return NewRouter(Deps{
		Metrics:  metrics.NewWithRegisterer(reg),
		Gatherer: reg,
		Checks:   checks,
		Handlers: []Registrar{echoHandler{}},
	})
}

func TestRouterMountsHandlersBehindMiddleware(t *testing.T) {
	router := newTestRouter(nil)

	rr := testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/echo", map[string]any{}))

	testutil.AssertStatusOK(t, rr)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	body := testutil.UnmarshalResponse[map[string]any](t, rr)
	assert.Equal(t, rr.Header().Get("X-Request-ID"), (*body)["request_id"])
	assert.NotZero(t, (*body)["year"])
}

func TestRouterRejectsNonJSONBodies(t *testing.T) {
	router := newTestRouter(nil)

	req := testutil.NewRequestWithBody(t, http.MethodPost, "/echo", "a=b")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := testutil.DoRequest(router, req)

	testutil.AssertStatus(t, rr, http.StatusBadRequest)
}

func TestHealthz(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		router := newTestRouter(map[string]HealthCheck{
			"redis": func(context.Context) error { return nil },
		})
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		testutil.AssertStatusOK(t, rr)
		testutil.AssertJSONContains(t, rr, "status", "ok")
	})

	t.Run("failing dependency", func(t *testing.T) {
		router := newTestRouter(map[string]HealthCheck{
			"directory": func(context.Context) error { return errors.New("circuit open") },
		})
		rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/healthz"))
		testutil.AssertStatus(t, rr, http.StatusServiceUnavailable)
		resp := testutil.UnmarshalResponse[healthResponse](t, rr)
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "circuit open", resp.Checks["directory"])
	})
}

func TestMetricsEndpoint(t *testing.T) {
	router := newTestRouter(nil)

	testutil.DoRequest(router, testutil.NewJSONRequest(t, http.MethodPost, "/echo", map[string]any{}))
	rr := testutil.DoRequest(router, testutil.NewRequest(t, http.MethodGet, "/metrics"))

	testutil.AssertStatusOK(t, rr)
	body := string(testutil.ReadBody(t, rr))
	require.Contains(t, body, "humanitylink_http_request_duration_seconds")
	assert.Contains(t, body, `route="/echo"`)
}
