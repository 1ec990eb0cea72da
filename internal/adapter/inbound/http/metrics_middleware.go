package http

import (
	"net/http"
	"time"
)

// statusRecorder captures the response status code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the underlying writer so streaming still works when the
// recorder wraps it.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// MetricsMiddleware records request counts and durations per dialect.
func MetricsMiddleware(m *Metrics, dialect string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(rec, r)

			status := "ok"
			switch {
			case rec.status == http.StatusForbidden:
				status = "blocked"
			case rec.status >= 400:
				status = "error"
			}
			m.RequestsTotal.WithLabelValues(dialect, status).Inc()
			m.RequestDuration.WithLabelValues(dialect).Observe(time.Since(start).Seconds())
		})
	}
}
