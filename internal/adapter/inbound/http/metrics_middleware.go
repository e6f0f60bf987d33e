package http

import (
	"net/http"
	"strings"
	"time"
)

// observedPath reports whether requests to path feed the duration histogram
// and the access log. Scrapes and probes would only add noise.
func observedPath(path string) bool {
	return path != "/metrics" && !strings.HasPrefix(path, "/health")
}

// MetricsMiddleware times each observed request and records it on the
// request duration histogram, labeled by method and outcome.
func MetricsMiddleware(metrics *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !observedPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			tap := &statusTap{ResponseWriter: w, status: http.StatusOK}
			start := time.Now()
			next.ServeHTTP(tap, r)

			metrics.RequestDuration.
				WithLabelValues(r.Method, statusToLabel(tap.status)).
				Observe(time.Since(start).Seconds())
		})
	}
}

// statusTap remembers the status code the handler wrote so the outcome can
// be labeled after the fact.
type statusTap struct {
	http.ResponseWriter
	status int
}

func (t *statusTap) WriteHeader(code int) {
	t.status = code
	t.ResponseWriter.WriteHeader(code)
}

func (t *statusTap) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// statusToLabel buckets a status code for the outcome label. Everything
// below 400, redirects included, counts as ok.
func statusToLabel(code int) string {
	if code >= http.StatusBadRequest {
		return "error"
	}
	return "ok"
}
