// Package riskdb provides an HTTP client for the package-risk database
// service, implementing the pkgrisk.Lookup port.
package riskdb

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/Prompt-Gate/Promptgate/internal/domain/pkgrisk"
)

// defaultTimeout bounds one lookup round-trip.
const defaultTimeout = 5 * time.Second

// cacheTTL is how long a classification is reused before re-querying.
const cacheTTL = 5 * time.Minute

type cacheEntry struct {
	report  pkgrisk.Report
	expires time.Time
}

// Client queries a risk database over HTTP. Classifications are cached
// briefly so a burst of requests naming the same package costs one lookup.
type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewClient creates a risk database client for the given base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: defaultTimeout,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
			},
		},
		cache: make(map[string]cacheEntry),
	}
}

type lookupResponse struct {
	Classification string `json:"classification"`
	ReportURL      string `json:"report_url"`
}

// Classify implements pkgrisk.Lookup. Unlisted packages classify as safe;
// lookup failures propagate so the caller can decide how to degrade.
func (c *Client) Classify(ctx context.Context, eco pkgrisk.Ecosystem, name string) (pkgrisk.Report, error) {
	key := string(eco) + "/" + name
	c.mu.RLock()
	entry, ok := c.cache[key]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.report, nil
	}

	u := fmt.Sprintf("%s/v1/packages/%s/%s", c.baseURL, url.PathEscape(string(eco)), url.PathEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return pkgrisk.Report{}, fmt.Errorf("build lookup request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return pkgrisk.Report{}, fmt.Errorf("risk lookup for %s: %w", key, err)
	}
	defer resp.Body.Close()

	report := pkgrisk.Report{Ecosystem: eco, Name: name}
	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
		if err != nil {
			return pkgrisk.Report{}, fmt.Errorf("read lookup response for %s: %w", key, err)
		}
		var lr lookupResponse
		if err := json.Unmarshal(body, &lr); err != nil {
			return pkgrisk.Report{}, fmt.Errorf("decode lookup response for %s: %w", key, err)
		}
		report.Classification = pkgrisk.Classification(lr.Classification)
		report.ReportURL = lr.ReportURL
		if report.Classification == "" {
			report.Classification = pkgrisk.ClassUnknown
		}
	case http.StatusNotFound:
		// Not listed in the database means no known risk.
		report.Classification = pkgrisk.ClassSafe
	default:
		return pkgrisk.Report{}, fmt.Errorf("risk lookup for %s: unexpected status %d", key, resp.StatusCode)
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{report: report, expires: time.Now().Add(cacheTTL)}
	c.mu.Unlock()
	return report, nil
}

// Compile-time interface verification.
var _ pkgrisk.Lookup = (*Client)(nil)
