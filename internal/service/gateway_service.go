// Package service contains application services orchestrating domain logic
// and outbound ports.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
	"github.com/Prompt-Gate/Promptgate/internal/domain/pipeline"
	"github.com/Prompt-Gate/Promptgate/internal/domain/upstream"
	"github.com/Prompt-Gate/Promptgate/internal/domain/workspace"
)

// GatewayService runs one completion request end to end: workspace
// resolution, the input pipeline, routing, upstream forwarding, and the
// output pipeline over the response stream.
type GatewayService struct {
	registry  *workspace.Registry
	router    *mux.Engine
	providers mux.ProviderStore
	pipeline  *pipeline.Engine
	forwarder upstream.Forwarder
	alerts    pipeline.AlertStore
	usage     workspace.UsageStore
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewGatewayService creates the gateway service.
func NewGatewayService(
	registry *workspace.Registry,
	router *mux.Engine,
	providers mux.ProviderStore,
	pipe *pipeline.Engine,
	forwarder upstream.Forwarder,
	alerts pipeline.AlertStore,
	usage workspace.UsageStore,
	tracer trace.Tracer,
	logger *slog.Logger,
) *GatewayService {
	return &GatewayService{
		registry:  registry,
		router:    router,
		providers: providers,
		pipeline:  pipe,
		forwarder: forwarder,
		alerts:    alerts,
		usage:     usage,
		tracer:    tracer,
		logger:    logger,
	}
}

// Chat processes one completion request. Response chunks are delivered in
// order through emit; the last delivered chunk is terminal. Chunks already
// emitted stay emitted when the request later fails — the caller closes the
// stream with a valid terminal error frame in that case.
func (s *GatewayService) Chat(ctx context.Context, sessionID string, req *canon.Request, emit func(canon.Chunk) error) error {
	ctx, span := s.tracer.Start(ctx, "gateway.chat",
		trace.WithAttributes(
			attribute.String("gen_ai.request.model", req.Model),
			attribute.Bool("gen_ai.request.stream", req.Stream),
		))
	defer span.End()

	ws, err := s.registry.ActiveWorkspace(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, "workspace resolution failed")
		return fmt.Errorf("resolve active workspace: %w", err)
	}
	span.SetAttributes(attribute.String("promptgate.workspace", ws.ID))

	pctx := pipeline.NewContext(ws.ID, sessionID)
	logger := s.logger.With("request_id", pctx.RequestID, "workspace", ws.ID, "model", req.Model)
	logger.Info("request accepted", "session", sessionID, "messages", len(req.Messages))

	defer s.persistAlerts(pctx)

	processed, sc, err := s.pipeline.RunInput(ctx, req, pctx)
	if err != nil {
		span.SetStatus(codes.Error, "input pipeline rejected request")
		return err
	}
	if sc != nil {
		logger.Info("request short-circuited", "step", sc.StepName)
		return s.emitReply(sc.Reply, req.Model, emit)
	}

	dest, err := s.router.Route(ctx, ws.ID, processed.Model)
	if err != nil {
		span.SetStatus(codes.Error, "no matching route")
		return err
	}
	provider, err := s.providers.Get(ctx, dest.ProviderName)
	if err != nil {
		span.SetStatus(codes.Error, "provider lookup failed")
		return fmt.Errorf("resolve provider %q: %w", dest.ProviderName, err)
	}
	span.SetAttributes(
		attribute.String("promptgate.provider", provider.Name),
		attribute.String("promptgate.provider_type", string(provider.Type)),
	)
	logger.Info("request routed", "provider", provider.Name, "provider_type", provider.Type)

	out := s.pipeline.NewOutputStream(pctx)
	deliver := func(c canon.Chunk) error {
		if c.Usage != nil {
			pctx.InputTokens = c.Usage.InputTokens
			pctx.OutputTokens = c.Usage.OutputTokens
		}
		chunks, err := out.Process(ctx, c)
		if err != nil {
			return err
		}
		return s.emitAll(chunks, pctx, emit)
	}

	if err := s.forwarder.Forward(ctx, *provider, processed, deliver); err != nil {
		span.SetStatus(codes.Error, "upstream forwarding failed")
		return err
	}
	held, err := out.Flush(ctx)
	if err != nil {
		return err
	}
	if err := s.emitAll(held, pctx, emit); err != nil {
		return err
	}

	s.recordUsage(ws.ID, provider.Name, req.Model, pctx)
	logger.Info("request completed",
		"input_tokens", pctx.InputTokens,
		"output_tokens", pctx.OutputTokens,
		"secrets_redacted", pctx.SecretsRedacted,
		"alerts", len(pctx.Alerts()))
	return nil
}

// emitAll forwards processed chunks downstream. When redaction happened on
// the way in, a notice is appended ahead of the terminal chunk so the user
// learns values were withheld without seeing them.
func (s *GatewayService) emitAll(chunks []canon.Chunk, pctx *pipeline.Context, emit func(canon.Chunk) error) error {
	for _, c := range chunks {
		if c.Done() && pctx.SecretsRedacted > 0 {
			notice := fmt.Sprintf("\n\nPromptgate prevented %d secret(s) from being sent upstream.", pctx.SecretsRedacted)
			if err := emit(canon.Chunk{Delta: notice, Model: c.Model}); err != nil {
				return err
			}
			pctx.SecretsRedacted = 0
		}
		if err := emit(c); err != nil {
			return err
		}
	}
	return nil
}

// emitReply answers on the model's behalf for short-circuited requests.
func (s *GatewayService) emitReply(reply, model string, emit func(canon.Chunk) error) error {
	if err := emit(canon.Chunk{Delta: reply, Model: model}); err != nil {
		return err
	}
	return emit(canon.Chunk{FinishReason: canon.FinishStop, Model: model})
}

// persistAlerts stores alerts raised during the request. Persistence runs on
// a fresh context so a canceled request still leaves its audit trail.
func (s *GatewayService) persistAlerts(pctx *pipeline.Context) {
	raised := pctx.Alerts()
	if len(raised) == 0 {
		return
	}
	if err := s.alerts.Append(context.Background(), raised...); err != nil {
		s.logger.Error("persisting alerts failed", "request_id", pctx.RequestID, "error", err)
	}
}

func (s *GatewayService) recordUsage(workspaceID, providerName, model string, pctx *pipeline.Context) {
	if pctx.InputTokens == 0 && pctx.OutputTokens == 0 {
		return
	}
	rec := workspace.UsageRecord{
		WorkspaceID:  workspaceID,
		ProviderName: providerName,
		Model:        model,
		InputTokens:  pctx.InputTokens,
		OutputTokens: pctx.OutputTokens,
		Timestamp:    time.Now().UTC(),
	}
	if err := s.usage.Record(context.Background(), rec); err != nil {
		s.logger.Error("recording usage failed", "request_id", pctx.RequestID, "error", err)
	}
}
