// Package upstream implements the forwarding port over HTTP: it renders a
// canonical request in the provider's dialect, streams the response body,
// and decodes it back into canonical chunks.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Prompt-Gate/Promptgate/internal/adapter/dialect"
	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
	"github.com/Prompt-Gate/Promptgate/internal/domain/upstream"
)

// readBufferSize is the transport read granularity for streamed bodies.
const readBufferSize = 32 * 1024

// errorBodyLimit caps how much of an upstream error body is retained.
const errorBodyLimit = 4 * 1024

// anthropicVersion is the API version header required by that dialect.
const anthropicVersion = "2023-06-01"

// Forwarder is the HTTP implementation of the upstream.Forwarder port.
type Forwarder struct {
	dialects *dialect.Registry
	client   *http.Client
}

// NewForwarder creates a forwarder. No overall client timeout is set:
// streams are long-lived and bounded by the request context instead.
func NewForwarder(dialects *dialect.Registry) *Forwarder {
	return &Forwarder{
		dialects: dialects,
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 60 * time.Second,
				MaxIdleConnsPerHost:   8,
			},
		},
	}
}

// chatURL builds the dialect's chat endpoint under the provider base URL.
func chatURL(p mux.Provider, model string, stream bool) string {
	base := strings.TrimRight(p.BaseURL, "/")
	switch p.Type {
	case mux.ProviderAnthropic:
		return base + "/messages"
	case mux.ProviderOllama:
		return base + "/api/chat"
	case mux.ProviderGemini:
		if stream {
			return fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", base, model)
		}
		return fmt.Sprintf("%s/models/%s:generateContent", base, model)
	default:
		return base + "/chat/completions"
	}
}

// setAuth applies the provider's credential in the dialect's header scheme.
func setAuth(req *http.Request, p mux.Provider) {
	if p.AuthKey == "" {
		return
	}
	switch p.Type {
	case mux.ProviderAnthropic:
		req.Header.Set("x-api-key", p.AuthKey)
		req.Header.Set("anthropic-version", anthropicVersion)
	case mux.ProviderGemini:
		req.Header.Set("x-goog-api-key", p.AuthKey)
	default:
		req.Header.Set("Authorization", "Bearer "+p.AuthKey)
	}
}

// Forward implements upstream.Forwarder.
func (f *Forwarder) Forward(ctx context.Context, provider mux.Provider, req *canon.Request, emit func(canon.Chunk) error) error {
	adapter, err := f.dialects.ForType(provider.Type)
	if err != nil {
		return err
	}
	body, err := adapter.RenderRequest(req)
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, chatURL(provider, req.Model, req.Stream), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Stream && provider.Type != mux.ProviderOllama {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	setAuth(httpReq, provider)

	resp, err := f.client.Do(httpReq)
	if err != nil {
		if isTimeout(err) {
			return &upstream.TimeoutError{ProviderName: provider.Name, Err: err}
		}
		return fmt.Errorf("upstream %s: %w", provider.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, errorBodyLimit))
		return &upstream.StatusError{
			ProviderName: provider.Name,
			StatusCode:   resp.StatusCode,
			Body:         string(raw),
		}
	}

	if !req.Stream {
		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			if isTimeout(err) {
				return &upstream.TimeoutError{ProviderName: provider.Name, Err: err}
			}
			return fmt.Errorf("read upstream %s response: %w", provider.Name, err)
		}
		chunk, err := adapter.ParseResponse(raw)
		if err != nil {
			return err
		}
		return emit(chunk)
	}

	decoder := adapter.NewStreamDecoder()
	buf := make([]byte, readBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			chunks, err := decoder.Feed(buf[:n])
			if err != nil {
				return err
			}
			for _, c := range chunks {
				if err := emit(c); err != nil {
					return err
				}
				if c.Done() {
					return nil
				}
			}
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				chunks, err := decoder.Finish()
				if err != nil {
					return err
				}
				for _, c := range chunks {
					if err := emit(c); err != nil {
						return err
					}
				}
				return nil
			}
			if isTimeout(readErr) {
				return &upstream.TimeoutError{ProviderName: provider.Name, Err: readErr}
			}
			return fmt.Errorf("read upstream %s stream: %w", provider.Name, readErr)
		}
	}
}

// isTimeout reports whether an error is a deadline or timeout condition.
func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var timeout interface{ Timeout() bool }
	return errors.As(err, &timeout) && timeout.Timeout()
}

// Compile-time interface verification.
var _ upstream.Forwarder = (*Forwarder)(nil)
