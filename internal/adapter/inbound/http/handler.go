package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Prompt-Gate/Promptgate/internal/adapter/dialect"
	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
	"github.com/Prompt-Gate/Promptgate/internal/domain/pipeline"
	"github.com/Prompt-Gate/Promptgate/internal/domain/upstream"
	"github.com/Prompt-Gate/Promptgate/internal/service"
)

// maxRequestBody caps inbound request bodies.
const maxRequestBody = 10 << 20

// GatewayHandler serves the dialect endpoints clients point their tooling
// at. Each endpoint parses its dialect, runs the request through the
// gateway service, and re-encodes the response in the same dialect.
type GatewayHandler struct {
	gateway  *service.GatewayService
	dialects *dialect.Registry
	metrics  *Metrics
}

// NewGatewayHandler creates the dialect-endpoint handler.
func NewGatewayHandler(gateway *service.GatewayService, dialects *dialect.Registry, metrics *Metrics) *GatewayHandler {
	return &GatewayHandler{gateway: gateway, dialects: dialects, metrics: metrics}
}

// Routes mounts the dialect endpoints, each wrapped with its per-dialect
// metrics middleware.
func (h *GatewayHandler) Routes(m *http.ServeMux) {
	m.Handle("POST /v1/chat/completions", h.instrumented(mux.ProviderOpenAI, h.chatEndpoint(mux.ProviderOpenAI)))
	m.Handle("POST /v1/messages", h.instrumented(mux.ProviderAnthropic, h.chatEndpoint(mux.ProviderAnthropic)))
	m.Handle("POST /api/chat", h.instrumented(mux.ProviderOllama, h.chatEndpoint(mux.ProviderOllama)))
	m.Handle("POST /v1beta/models/{model}", h.instrumented(mux.ProviderGemini, http.HandlerFunc(h.geminiEndpoint)))
}

func (h *GatewayHandler) instrumented(t mux.ProviderType, next http.Handler) http.Handler {
	return MetricsMiddleware(h.metrics, string(t))(next)
}

// chatEndpoint builds the handler for one dialect's chat path.
func (h *GatewayHandler) chatEndpoint(t mux.ProviderType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.serveChat(w, r, t, "", false)
	}
}

// geminiEndpoint handles /v1beta/models/{model}:generateContent and
// :streamGenerateContent. The model and streaming mode ride in the URL in
// this dialect, not the body.
func (h *GatewayHandler) geminiEndpoint(w http.ResponseWriter, r *http.Request) {
	segment := r.PathValue("model")
	model, op, ok := strings.Cut(segment, ":")
	if !ok || model == "" {
		writeJSONError(w, http.StatusNotFound, "unknown gemini operation")
		return
	}
	switch op {
	case "generateContent":
		h.serveChat(w, r, mux.ProviderGemini, model, false)
	case "streamGenerateContent":
		h.serveChat(w, r, mux.ProviderGemini, model, true)
	default:
		writeJSONError(w, http.StatusNotFound, "unknown gemini operation")
	}
}

// serveChat runs one completion request end to end for a dialect.
func (h *GatewayHandler) serveChat(w http.ResponseWriter, r *http.Request, t mux.ProviderType, urlModel string, urlStream bool) {
	logger := LoggerFromContext(r.Context())
	adapter, err := h.dialects.ForType(t)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "unsupported dialect")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	req, err := adapter.ParseRequest(body)
	if err != nil {
		logger.Warn("request rejected", "dialect", t, "error", err)
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}
	if urlModel != "" {
		req.Model = urlModel
		req.Stream = urlStream
	}
	sessionID := SessionIDFromContext(r.Context())

	if req.Stream {
		h.serveStream(w, r, adapter, req, sessionID)
		return
	}
	h.serveUnary(w, r, adapter, req, sessionID)
}

// chat runs the gateway and records the routing outcome.
func (h *GatewayHandler) chat(ctx context.Context, sessionID string, req *canon.Request, emit func(canon.Chunk) error) error {
	err := h.gateway.Chat(ctx, sessionID, req, emit)
	var routing *mux.RoutingError
	switch {
	case err == nil:
		h.metrics.RoutingDecisions.WithLabelValues("matched").Inc()
	case errors.As(err, &routing):
		h.metrics.RoutingDecisions.WithLabelValues("unmatched").Inc()
	}
	return err
}

// serveStream streams the response in the dialect's framing. The response
// header is written lazily so pre-stream failures still map to proper HTTP
// status codes; once bytes are out, failures close the stream with a valid
// terminal error frame instead.
func (h *GatewayHandler) serveStream(w http.ResponseWriter, r *http.Request, adapter dialect.Adapter, req *canon.Request, sessionID string) {
	logger := LoggerFromContext(r.Context())
	enc := adapter.NewStreamEncoder(req.Model)
	flusher, _ := w.(http.Flusher)
	started := false

	h.metrics.ActiveStreams.Inc()
	defer h.metrics.ActiveStreams.Dec()

	emit := func(c canon.Chunk) error {
		frames, err := enc.Encode(c)
		if err != nil {
			return err
		}
		if len(frames) == 0 {
			return nil
		}
		if !started {
			started = true
			w.Header().Set("Content-Type", streamContentType(adapter.Type()))
			w.Header().Set("Cache-Control", "no-cache")
			w.WriteHeader(http.StatusOK)
		}
		if _, err := w.Write(frames); err != nil {
			return err
		}
		if flusher != nil {
			flusher.Flush()
		}
		return nil
	}

	if err := h.chat(r.Context(), sessionID, req, emit); err != nil {
		logger.Warn("chat request failed", "dialect", adapter.Type(), "streaming", true, "error", err)
		if !started {
			status, msg := mapError(err)
			writeJSONError(w, status, msg)
			return
		}
		// Bytes are already out: terminate with a well-formed error frame.
		if frame := enc.EncodeError(publicMessage(err)); len(frame) > 0 {
			_, _ = w.Write(frame)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

// serveUnary aggregates the full response and renders it as one body.
func (h *GatewayHandler) serveUnary(w http.ResponseWriter, r *http.Request, adapter dialect.Adapter, req *canon.Request, sessionID string) {
	logger := LoggerFromContext(r.Context())
	var (
		text   strings.Builder
		finish canon.FinishReason
		usage  *canon.Usage
		model  = req.Model
	)
	emit := func(c canon.Chunk) error {
		text.WriteString(c.Delta)
		if c.FinishReason != "" {
			finish = c.FinishReason
		}
		if c.Usage != nil {
			usage = c.Usage
		}
		return nil
	}
	if err := h.chat(r.Context(), sessionID, req, emit); err != nil {
		logger.Warn("chat request failed", "dialect", adapter.Type(), "streaming", false, "error", err)
		status, msg := mapError(err)
		writeJSONError(w, status, msg)
		return
	}
	body, err := adapter.RenderResponse(model, text.String(), finish, usage)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

// streamContentType returns the dialect's streaming content type.
func streamContentType(t mux.ProviderType) string {
	if t == mux.ProviderOllama {
		return "application/x-ndjson"
	}
	return "text/event-stream"
}

// mapError translates gateway errors into an HTTP status and a safe message.
func mapError(err error) (int, string) {
	var (
		block    *pipeline.PolicyBlockError
		protocol *dialect.ProtocolError
		routing  *mux.RoutingError
		timeout  *upstream.TimeoutError
		status   *upstream.StatusError
	)
	switch {
	case errors.As(err, &block):
		return http.StatusForbidden, block.Error()
	case errors.As(err, &protocol):
		return http.StatusBadGateway, "upstream sent a malformed response"
	case errors.As(err, &routing):
		return http.StatusNotFound, routing.Error()
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout, "upstream timed out"
	case errors.As(err, &status):
		return http.StatusBadGateway, status.Error()
	case errors.Is(err, mux.ErrProviderNotFound):
		return http.StatusBadGateway, "route points at an unregistered provider"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// publicMessage is the user-safe message for mid-stream failures.
func publicMessage(err error) string {
	_, msg := mapError(err)
	return msg
}

// writeJSONError writes a minimal JSON error body.
func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"message": message},
	})
}
