package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Prompt-Gate/Promptgate/internal/adapter/dialect"
	"github.com/Prompt-Gate/Promptgate/internal/adapter/outbound/memory"
	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
	"github.com/Prompt-Gate/Promptgate/internal/domain/pipeline"
	"github.com/Prompt-Gate/Promptgate/internal/domain/upstream"
	"github.com/Prompt-Gate/Promptgate/internal/domain/workspace"
	"github.com/Prompt-Gate/Promptgate/internal/service"
)

// scriptedForwarder emits canned canonical chunks for any provider.
type scriptedForwarder struct {
	chunks []canon.Chunk
	err    error
}

func (f *scriptedForwarder) Forward(ctx context.Context, provider mux.Provider, req *canon.Request, emit func(canon.Chunk) error) error {
	if f.err != nil {
		return f.err
	}
	for _, c := range f.chunks {
		if err := emit(c); err != nil {
			return err
		}
	}
	return nil
}

func newTestMux(t *testing.T, forwarder upstream.Forwarder) *http.ServeMux {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := workspace.NewRegistry(memory.NewWorkspaceStore(), memory.NewSessionStore())
	if err := registry.EnsureDefault(ctx); err != nil {
		t.Fatalf("EnsureDefault() error = %v", err)
	}
	rules := []mux.Rule{{ProviderName: "backend", ProviderType: mux.ProviderOpenAI, Matcher: mux.MatcherCatchAll}}
	if err := registry.ReplaceRules(ctx, workspace.DefaultWorkspaceID, rules); err != nil {
		t.Fatalf("ReplaceRules() error = %v", err)
	}
	providers := memory.NewProviderStore()
	if err := providers.Add(ctx, &mux.Provider{Name: "backend", Type: mux.ProviderOpenAI, BaseURL: "https://api.openai.com/v1"}); err != nil {
		t.Fatalf("Add(provider) error = %v", err)
	}

	gateway := service.NewGatewayService(
		registry,
		mux.NewEngine(registry),
		providers,
		pipeline.NewEngine(nil, nil, logger),
		forwarder,
		memory.NewAlertStore(),
		memory.NewUsageStore(),
		noop.NewTracerProvider().Tracer("test"),
		logger,
	)

	m := http.NewServeMux()
	handler := NewGatewayHandler(gateway, dialect.NewRegistry(), NewMetrics(prometheus.NewRegistry()))
	handler.Routes(m)
	return m
}

func replyChunks(text string) []canon.Chunk {
	return []canon.Chunk{
		{Delta: text, Model: "gpt-4o"},
		{FinishReason: canon.FinishStop, Model: "gpt-4o", Usage: &canon.Usage{InputTokens: 3, OutputTokens: 1}},
	}
}

func TestChatCompletionsStreaming(t *testing.T) {
	t.Parallel()

	m := newTestMux(t, &scriptedForwarder{chunks: replyChunks("Hello!")})
	body := `{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
	out := rec.Body.String()
	if !strings.Contains(out, `"content":"Hello!"`) {
		t.Errorf("stream missing content: %q", out)
	}
	if !strings.HasSuffix(out, "data: [DONE]\n\n") {
		t.Errorf("stream missing [DONE]: %q", out)
	}
}

func TestChatCompletionsUnary(t *testing.T) {
	t.Parallel()

	m := newTestMux(t, &scriptedForwarder{chunks: replyChunks("Hello!")})
	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens int `json:"prompt_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("response is not JSON: %v", err)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Message.Content != "Hello!" {
		t.Errorf("response = %s", rec.Body.String())
	}
	if resp.Usage.PromptTokens != 3 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestChatCompletionsMalformedBody(t *testing.T) {
	t.Parallel()

	m := newTestMux(t, &scriptedForwarder{})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{not json`))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestAnthropicMessagesEndpoint(t *testing.T) {
	t.Parallel()

	m := newTestMux(t, &scriptedForwarder{chunks: replyChunks("Hello!")})
	body := `{"model":"claude-sonnet","max_tokens":100,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"text":"Hello!"`) {
		t.Errorf("response = %s", rec.Body.String())
	}
}

func TestGeminiEndpointOperations(t *testing.T) {
	t.Parallel()

	m := newTestMux(t, &scriptedForwarder{chunks: replyChunks("Hello!")})
	body := `{"contents":[{"role":"user","parts":[{"text":"hi"}]}]}`

	req := httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-pro:generateContent", strings.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("generateContent status = %d, body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"text":"Hello!"`) {
		t.Errorf("response = %s", rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/v1beta/models/gemini-pro:countTokens", strings.NewReader(body))
	rec = httptest.NewRecorder()
	m.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown operation status = %d", rec.Code)
	}
}

func TestStreamingErrorBeforeFirstByte(t *testing.T) {
	t.Parallel()

	m := newTestMux(t, &scriptedForwarder{err: &upstream.TimeoutError{ProviderName: "backend", Err: errors.New("deadline")}})
	body := `{"model":"gpt-4o","stream":true,"messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	rec := httptest.NewRecorder()
	m.ServeHTTP(rec, req)

	// Nothing streamed yet, so the failure maps to a plain HTTP status.
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "policy block",
			err:        &pipeline.PolicyBlockError{StepName: "policy", Reason: "nope"},
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "routing miss",
			err:        &mux.RoutingError{WorkspaceID: "default", Model: "x"},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "upstream timeout",
			err:        &upstream.TimeoutError{ProviderName: "p", Err: errors.New("deadline")},
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "upstream status",
			err:        &upstream.StatusError{ProviderName: "p", StatusCode: 429},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "protocol error",
			err:        &dialect.ProtocolError{Dialect: mux.ProviderOpenAI, Reason: "bad frame"},
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "unregistered provider",
			err:        mux.ErrProviderNotFound,
			wantStatus: http.StatusBadGateway,
		},
		{
			name:       "unknown error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			status, msg := mapError(tt.err)
			if status != tt.wantStatus {
				t.Errorf("mapError() status = %d, want %d", status, tt.wantStatus)
			}
			if msg == "" {
				t.Error("mapError() message is empty")
			}
		})
	}

	// Internal details never leak into the public message.
	if _, msg := mapError(errors.New("dial tcp 10.0.0.1: connection refused")); strings.Contains(msg, "10.0.0.1") {
		t.Errorf("public message leaks internals: %q", msg)
	}
}

func TestResolveSessionID(t *testing.T) {
	t.Parallel()

	r := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	r.Header.Set("X-Session-ID", "my-session")
	if got := resolveSessionID(r); got != "my-session" {
		t.Errorf("explicit header: %q", got)
	}

	// A credential-derived session never contains the raw key.
	r = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	r.Header.Set("Authorization", "Bearer sk-secret")
	got := resolveSessionID(r)
	if !strings.HasPrefix(got, "key-") || strings.Contains(got, "sk-secret") {
		t.Errorf("credential session: %q", got)
	}
	// Same credential, same session.
	if again := resolveSessionID(r); again != got {
		t.Errorf("credential session unstable: %q vs %q", got, again)
	}

	// Anonymous requests fall back to the client address.
	r = httptest.NewRequest(http.MethodPost, "/v1/chat/completions", nil)
	if got := resolveSessionID(r); !strings.HasPrefix(got, "ip-") {
		t.Errorf("anonymous session: %q", got)
	}
}
