package http

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestMetricsMiddlewareRecordsDuration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	handler := MetricsMiddleware(metrics, "openai")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	families, err := reg.Gather()
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, mf := range families {
		if mf.GetName() != "promptgate_request_duration_seconds" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, lp := range m.GetLabel() {
				if lp.GetName() == "dialect" && lp.GetValue() == "openai" {
					if m.GetHistogram().GetSampleCount() != 1 {
						t.Errorf("expected 1 observation, got %d", m.GetHistogram().GetSampleCount())
					}
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected request_duration_seconds metric with dialect=openai")
	}
}

func TestMetricsMiddlewareStatusBuckets(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		code       int
		wantStatus string
	}{
		{name: "ok", code: http.StatusOK, wantStatus: "ok"},
		{name: "blocked", code: http.StatusForbidden, wantStatus: "blocked"},
		{name: "error", code: http.StatusBadGateway, wantStatus: "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			reg := prometheus.NewRegistry()
			metrics := NewMetrics(reg)
			handler := MetricsMiddleware(metrics, "anthropic")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.code)
			}))

			req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			var m dto.Metric
			if err := metrics.RequestsTotal.WithLabelValues("anthropic", tt.wantStatus).Write(&m); err != nil {
				t.Fatal(err)
			}
			if m.Counter.GetValue() != 1 {
				t.Errorf("requests_total{status=%q} = %f, want 1", tt.wantStatus, m.Counter.GetValue())
			}
		})
	}
}

func TestMetricsMiddlewareImplicitOK(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	// A handler that writes a body without calling WriteHeader counts as ok.
	handler := MetricsMiddleware(metrics, "ollama")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var m dto.Metric
	if err := metrics.RequestsTotal.WithLabelValues("ollama", "ok").Write(&m); err != nil {
		t.Fatal(err)
	}
	if m.Counter.GetValue() != 1 {
		t.Errorf("requests_total = %f, want 1", m.Counter.GetValue())
	}
}
