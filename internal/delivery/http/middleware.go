package http

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fogmask_http_requests_total",
		Help: "HTTP requests by path and status code.",
	}, []string{"path", "code"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "fogmask_http_request_duration_seconds",
		Help:    "HTTP request latency by path.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})
)

// maxLoggedBody is how much of a request or response body is logged.
const maxLoggedBody = 1024

// responseWriter is a wrapper for http.ResponseWriter that captures the status code and response body
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           &bytes.Buffer{},
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if room := maxLoggedBody - rw.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		rw.body.Write(b[:room])
	}
	return rw.ResponseWriter.Write(b)
}

// Flush implements the http.Flusher interface
func (rw *responseWriter) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func textual(contentType string) bool {
	return contentType == "" || strings.HasPrefix(contentType, "application/json") || strings.HasPrefix(contentType, "text/")
}

func truncate(b []byte) string {
	if len(b) > maxLoggedBody {
		return string(b[:maxLoggedBody]) + "..."
	}
	return string(b)
}

// LoggingMiddleware logs request and response details and records request
// metrics.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		var requestBody []byte
		if r.Body != nil {
			requestBody, _ = io.ReadAll(io.LimitReader(r.Body, maxBodySize))
			r.Body = io.NopCloser(bytes.NewBuffer(requestBody))
		}

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)
		duration := time.Since(start)

		requestsTotal.WithLabelValues(r.URL.Path, strconv.Itoa(rw.statusCode)).Inc()
		requestDuration.WithLabelValues(r.URL.Path).Observe(duration.Seconds())

		fields := []any{
			"method", r.Method,
			"path", r.URL.Path,
			"query", r.URL.RawQuery,
			"status_code", rw.statusCode,
			"duration_ms", duration.Milliseconds(),
			"request_id", w.Header().Get("X-Request-ID"),
		}
		if len(requestBody) > 0 {
			fields = append(fields, "request_body", truncate(requestBody))
		}
		if textual(rw.Header().Get("Content-Type")) && rw.body.Len() > 0 {
			fields = append(fields, "response", rw.body.String())
		}

		if rw.statusCode >= http.StatusInternalServerError {
			logger.Errorw("request failed", fields...)
			return
		}
		logger.Debugw("request", fields...)
	})
}

// ApplyMiddleware applies multiple middleware to a handler
func ApplyMiddleware(handler http.Handler, middleware ...func(http.Handler) http.Handler) http.Handler {
	for _, m := range middleware {
		handler = m(handler)
	}
	return handler
}
