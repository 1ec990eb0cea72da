package riskdb

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/Prompt-Gate/Promptgate/internal/domain/pkgrisk"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/packages/pypi/evil-pkg":
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(`{"classification":"malicious","report_url":"https://risk.example/pypi/evil-pkg"}`))
		case "/v1/packages/pypi/unlisted":
			http.NotFound(w, r)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	ctx := context.Background()

	report, err := c.Classify(ctx, pkgrisk.EcosystemPyPI, "evil-pkg")
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if report.Classification != pkgrisk.ClassMalicious || report.ReportURL == "" {
		t.Errorf("report = %+v", report)
	}

	// Absent from the database means safe, not unknown.
	report, err = c.Classify(ctx, pkgrisk.EcosystemPyPI, "unlisted")
	if err != nil {
		t.Fatalf("Classify(unlisted) error = %v", err)
	}
	if report.Classification != pkgrisk.ClassSafe {
		t.Errorf("unlisted classification = %s", report.Classification)
	}

	// Server errors propagate.
	if _, err := c.Classify(ctx, pkgrisk.EcosystemNPM, "anything"); err == nil {
		t.Error("5xx should surface as an error")
	}
}

func TestClassifyCaches(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"classification":"suspicious"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := c.Classify(context.Background(), pkgrisk.EcosystemNPM, "left-pad"); err != nil {
			t.Fatalf("Classify() error = %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Errorf("server saw %d lookups, want 1 (cached)", hits.Load())
	}
}

func TestClassifyScopedNameEscaped(t *testing.T) {
	t.Parallel()

	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewClient(srv.URL)
	if _, err := c.Classify(context.Background(), pkgrisk.EcosystemNPM, "@org/validator"); err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if gotPath != "/v1/packages/npm/@org%2Fvalidator" {
		t.Errorf("request path = %q", gotPath)
	}
}
