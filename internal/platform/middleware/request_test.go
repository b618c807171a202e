package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"humanitylink/internal/platform/metrics"
	"humanitylink/pkg/requestcontext"
)

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("mints an id when absent", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("reuses inbound id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		h.ServeHTTP(httptest.NewRecorder(), req)
		assert.Equal(t, "req-42", seen)
	})
}

func TestRecovery(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	h := Recovery(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, false, body["success"])
	assert.Contains(t, logs.String(), "panic recovered")
}

func TestLoggerLevels(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))

	req := httptest.NewRequest(http.MethodGet, "/profile", nil)
	ctx := requestcontext.WithClientMetadata(req.Context(), "203.0.113.7",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	h.ServeHTTP(httptest.NewRecorder(), req.WithContext(ctx))

	out := logs.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "status=404")
	assert.Contains(t, out, "client_ip=203.0.113.7")
	assert.Contains(t, out, "browser=Chrome")
}

func TestLoggerReadsClientMetadataFromContext(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	h := Logger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.NotContains(t, logs.String(), "browser=")
}

func TestLatencyMiddlewareUsesRoutePattern(t *testing.T) {
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	r := chi.NewRouter()
	r.Use(LatencyMiddleware(m))
	r.Get("/profile", func(w http.ResponseWriter, r *http.Request) {})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/profile?wallet=x", nil))

	assert.Equal(t, 1, testutil.CollectAndCount(m.HTTPLatency))
}

func TestContentTypeJSON(t *testing.T) {
	h := ContentTypeJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("rejects form bodies", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/attest", strings.NewReader("birthYear=2000"))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("accepts json with charset", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/attest", strings.NewReader(`{"birthYear":2000}`))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}
