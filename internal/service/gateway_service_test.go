package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/Prompt-Gate/Promptgate/internal/adapter/outbound/memory"
	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
	"github.com/Prompt-Gate/Promptgate/internal/domain/pipeline"
	"github.com/Prompt-Gate/Promptgate/internal/domain/workspace"
)

// markStep is an InputStep driven by test callbacks.
type markStep struct {
	name  string
	apply func(req *canon.Request, pctx *pipeline.Context) (*canon.Request, *pipeline.ShortCircuit, error)
}

func (s *markStep) Name() string { return s.name }

func (s *markStep) Apply(ctx context.Context, req *canon.Request, pctx *pipeline.Context) (*canon.Request, *pipeline.ShortCircuit, error) {
	return s.apply(req, pctx)
}

// fakeForwarder emits a canned chunk sequence and records what it was asked
// to forward.
type fakeForwarder struct {
	chunks   []canon.Chunk
	err      error
	called   bool
	provider mux.Provider
	req      *canon.Request
}

func (f *fakeForwarder) Forward(ctx context.Context, provider mux.Provider, req *canon.Request, emit func(canon.Chunk) error) error {
	f.called = true
	f.provider = provider
	f.req = req
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

type gatewayFixture struct {
	svc       *GatewayService
	registry  *workspace.Registry
	forwarder *fakeForwarder
	alerts    *memory.AlertStore
	usage     *memory.UsageStore
}

func newGatewayFixture(t *testing.T, steps []pipeline.InputStep, forwarder *fakeForwarder) *gatewayFixture {
	t.Helper()
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := workspace.NewRegistry(memory.NewWorkspaceStore(), memory.NewSessionStore())
	if err := registry.EnsureDefault(ctx); err != nil {
		t.Fatalf("EnsureDefault() error = %v", err)
	}
	rules := []mux.Rule{
		{ProviderName: "local", ProviderType: mux.ProviderOllama, Matcher: mux.MatcherCatchAll},
	}
	if err := registry.ReplaceRules(ctx, workspace.DefaultWorkspaceID, rules); err != nil {
		t.Fatalf("ReplaceRules() error = %v", err)
	}

	providers := memory.NewProviderStore()
	provider := &mux.Provider{Name: "local", Type: mux.ProviderOllama, BaseURL: "http://localhost:11434"}
	if err := providers.Add(ctx, provider); err != nil {
		t.Fatalf("Add(provider) error = %v", err)
	}

	alerts := memory.NewAlertStore()
	usage := memory.NewUsageStore()
	svc := NewGatewayService(
		registry,
		mux.NewEngine(registry),
		providers,
		pipeline.NewEngine(steps, nil, logger),
		forwarder,
		alerts,
		usage,
		noop.NewTracerProvider().Tracer("test"),
		logger,
	)
	return &gatewayFixture{svc: svc, registry: registry, forwarder: forwarder, alerts: alerts, usage: usage}
}

func chatRequest() *canon.Request {
	return &canon.Request{
		Model:    "llama3",
		Stream:   true,
		Messages: []canon.Message{canon.TextMessage(canon.RoleUser, "hello")},
	}
}

func TestChatStreamsAndRecordsUsage(t *testing.T) {
	t.Parallel()

	forwarder := &fakeForwarder{chunks: []canon.Chunk{
		{Delta: "Hel", Model: "llama3"},
		{Delta: "lo", Model: "llama3"},
		{FinishReason: canon.FinishStop, Model: "llama3", Usage: &canon.Usage{InputTokens: 9, OutputTokens: 2}},
	}}
	fx := newGatewayFixture(t, nil, forwarder)

	var emitted []canon.Chunk
	err := fx.svc.Chat(context.Background(), "session-1", chatRequest(), func(c canon.Chunk) error {
		emitted = append(emitted, c)
		return nil
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if !forwarder.called || forwarder.provider.Name != "local" {
		t.Errorf("forwarder = %+v", forwarder)
	}
	if len(emitted) != 3 || emitted[0].Delta != "Hel" || !emitted[2].Done() {
		t.Fatalf("emitted = %+v", emitted)
	}

	recs, err := fx.usage.ListByWorkspace(context.Background(), workspace.DefaultWorkspaceID, 0)
	if err != nil {
		t.Fatalf("ListByWorkspace() error = %v", err)
	}
	if len(recs) != 1 || recs[0].InputTokens != 9 || recs[0].OutputTokens != 2 || recs[0].Model != "llama3" {
		t.Errorf("usage records = %+v", recs)
	}
}

func TestChatAppendsSecretsNotice(t *testing.T) {
	t.Parallel()

	redacting := &markStep{name: "redactor", apply: func(req *canon.Request, pctx *pipeline.Context) (*canon.Request, *pipeline.ShortCircuit, error) {
		pctx.SecretsRedacted = 2
		return req, nil, nil
	}}
	forwarder := &fakeForwarder{chunks: []canon.Chunk{
		{Delta: "done", Model: "llama3"},
		{FinishReason: canon.FinishStop, Model: "llama3"},
	}}
	fx := newGatewayFixture(t, []pipeline.InputStep{redacting}, forwarder)

	var emitted []canon.Chunk
	if err := fx.svc.Chat(context.Background(), "session-1", chatRequest(), func(c canon.Chunk) error {
		emitted = append(emitted, c)
		return nil
	}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	// The notice rides immediately before the terminal chunk.
	if len(emitted) != 3 {
		t.Fatalf("emitted = %+v", emitted)
	}
	notice := emitted[1].Delta
	if !strings.Contains(notice, "prevented 2 secret(s)") {
		t.Errorf("notice = %q", notice)
	}
	if !emitted[2].Done() {
		t.Errorf("last chunk not terminal: %+v", emitted[2])
	}
}

func TestChatShortCircuitSkipsUpstream(t *testing.T) {
	t.Parallel()

	blocking := &markStep{name: "gatekeeper", apply: func(req *canon.Request, pctx *pipeline.Context) (*canon.Request, *pipeline.ShortCircuit, error) {
		return nil, &pipeline.ShortCircuit{Reply: "request declined", StepName: "gatekeeper"}, nil
	}}
	forwarder := &fakeForwarder{}
	fx := newGatewayFixture(t, []pipeline.InputStep{blocking}, forwarder)

	var emitted []canon.Chunk
	if err := fx.svc.Chat(context.Background(), "session-1", chatRequest(), func(c canon.Chunk) error {
		emitted = append(emitted, c)
		return nil
	}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	if forwarder.called {
		t.Error("short-circuited request must not reach upstream")
	}
	if len(emitted) != 2 || emitted[0].Delta != "request declined" || !emitted[1].Done() {
		t.Errorf("emitted = %+v", emitted)
	}
}

func TestChatPolicyBlockIsFatal(t *testing.T) {
	t.Parallel()

	vetoing := &markStep{name: "policy", apply: func(req *canon.Request, pctx *pipeline.Context) (*canon.Request, *pipeline.ShortCircuit, error) {
		return nil, nil, &pipeline.PolicyBlockError{StepName: "policy", Reason: "not allowed"}
	}}
	forwarder := &fakeForwarder{}
	fx := newGatewayFixture(t, []pipeline.InputStep{vetoing}, forwarder)

	err := fx.svc.Chat(context.Background(), "session-1", chatRequest(), func(canon.Chunk) error { return nil })
	var block *pipeline.PolicyBlockError
	if !errors.As(err, &block) {
		t.Fatalf("Chat() error = %v, want *PolicyBlockError", err)
	}
	if forwarder.called {
		t.Error("blocked request must not reach upstream")
	}
}

func TestChatRouteMiss(t *testing.T) {
	t.Parallel()

	forwarder := &fakeForwarder{}
	fx := newGatewayFixture(t, nil, forwarder)
	// Strip the catch-all so nothing matches.
	if err := fx.registry.ReplaceRules(context.Background(), workspace.DefaultWorkspaceID, nil); err != nil {
		t.Fatalf("ReplaceRules() error = %v", err)
	}

	err := fx.svc.Chat(context.Background(), "session-1", chatRequest(), func(canon.Chunk) error { return nil })
	var routing *mux.RoutingError
	if !errors.As(err, &routing) {
		t.Errorf("Chat() error = %v, want *RoutingError", err)
	}
}

func TestChatPersistsAlerts(t *testing.T) {
	t.Parallel()

	alerting := &markStep{name: "scanner", apply: func(req *canon.Request, pctx *pipeline.Context) (*canon.Request, *pipeline.ShortCircuit, error) {
		pctx.AddAlert(pipeline.SeverityWarning, pipeline.CodeSecretLeak, "credential withheld")
		return req, nil, nil
	}}
	forwarder := &fakeForwarder{chunks: []canon.Chunk{{FinishReason: canon.FinishStop, Model: "llama3"}}}
	fx := newGatewayFixture(t, []pipeline.InputStep{alerting}, forwarder)

	if err := fx.svc.Chat(context.Background(), "session-1", chatRequest(), func(canon.Chunk) error { return nil }); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}

	alerts, err := fx.alerts.ListByWorkspace(context.Background(), workspace.DefaultWorkspaceID, 0)
	if err != nil {
		t.Fatalf("ListByWorkspace() error = %v", err)
	}
	if len(alerts) != 1 || alerts[0].Code != pipeline.CodeSecretLeak || alerts[0].Message != "credential withheld" {
		t.Errorf("alerts = %+v", alerts)
	}
}

func TestChatForwardErrorPropagates(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("upstream unreachable")
	fx := newGatewayFixture(t, nil, &fakeForwarder{err: sentinel})

	err := fx.svc.Chat(context.Background(), "session-1", chatRequest(), func(canon.Chunk) error { return nil })
	if !errors.Is(err, sentinel) {
		t.Errorf("Chat() error = %v, want forwarder error", err)
	}
}
