package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/eldtechnologies/parley/internal/metrics"
)

// Metrics returns middleware that records Prometheus metrics. The wrapped
// writer keeps http.Flusher and http.Hijacker so streams and upgrades work.
func Metrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		metrics.HTTPRequestsTotal.WithLabelValues(
			r.Method, path, strconv.Itoa(statusOf(ww, r)),
		).Inc()

		metrics.HTTPRequestDuration.WithLabelValues(
			r.Method, path,
		).Observe(duration)
	})
}

// statusOf returns the recorded status. Hijacked websocket upgrades never
// call WriteHeader on the wrapper.
func statusOf(ww chimw.WrapResponseWriter, r *http.Request) int {
	if status := ww.Status(); status != 0 {
		return status
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return http.StatusSwitchingProtocols
	}
	return http.StatusOK
}

// normalizePath normalizes paths to avoid high cardinality in metrics.
func normalizePath(path string) string {
	if strings.HasPrefix(path, "/room/") && len(path) > len("/room/") {
		if strings.HasSuffix(path, "/participants") {
			return "/room/:id/participants"
		}
		return "/room/:id"
	}
	return path
}
