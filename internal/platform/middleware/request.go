package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/mssola/useragent"

	"humanitylink/internal/platform/metrics"
	dErrors "humanitylink/pkg/domain-errors"
	"humanitylink/pkg/platform/httputil"
	"humanitylink/pkg/requestcontext"
)

// RequestIDHeader is echoed back on every response.
const RequestIDHeader = "X-Request-ID"

// GetRequestID retrieves the request ID from the context.
var GetRequestID = requestcontext.RequestID

// RequestID reuses an inbound X-Request-ID or mints a new one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, requestID)
		ctx := requestcontext.WithRequestID(r.Context(), requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Recovery turns handler panics into a 500 envelope and logs the stack.
func Recovery(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.ErrorContext(r.Context(), "panic recovered",
						"request_id", GetRequestID(r.Context()),
						"panic", fmt.Sprint(rec),
						"stack", string(debug.Stack()),
					)
					httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "internal server error"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Logger writes one structured line per request.
func Logger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			ctx := r.Context()
			attrs := []any{
				"request_id", GetRequestID(ctx),
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
			}
			if ip := requestcontext.ClientIP(ctx); ip != "" {
				attrs = append(attrs, "client_ip", ip)
			}
			if ua := requestcontext.UserAgent(ctx); ua != "" {
				parsed := useragent.New(ua)
				browser, _ := parsed.Browser()
				attrs = append(attrs, "browser", browser, "os", parsed.OS(), "bot", parsed.Bot())
			}

			switch {
			case sw.status >= http.StatusInternalServerError:
				logger.ErrorContext(ctx, "request completed", attrs...)
			case sw.status >= http.StatusBadRequest:
				logger.WarnContext(ctx, "request completed", attrs...)
			default:
				logger.InfoContext(ctx, "request completed", attrs...)
			}
		})
	}
}

// LatencyMiddleware observes request latency labelled by chi route pattern.
func LatencyMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := r.URL.Path
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			m.ObserveHTTP(route, r.Method, strconv.Itoa(sw.status/100)+"xx", time.Since(start))
		})
	}
}

// ContentTypeJSON rejects bodies that are not declared as JSON.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength != 0 && r.Method != http.MethodGet && r.Method != http.MethodDelete {
			ct := r.Header.Get("Content-Type")
			if ct != "" && !isJSON(ct) {
				httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "content type must be application/json"))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func isJSON(contentType string) bool {
	const mime = "application/json"
	return len(contentType) >= len(mime) && contentType[:len(mime)] == mime
}

type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.wroteHeader = true
	}
	return w.ResponseWriter.Write(b)
}
