// Package admin provides the JSON control-plane API for Promptgate:
// workspace lifecycle, mux rules, provider registration, and the alert and
// usage views.
package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/Prompt-Gate/Promptgate/internal/service"
)

// Handler provides JSON API endpoints for the admin interface.
type Handler struct {
	workspaces *service.WorkspaceService
	providers  *service.ProviderService
	apiKeyHash string
	logger     *slog.Logger
}

// Option configures a Handler dependency.
type Option func(*Handler)

// WithWorkspaceService sets the workspace admin service.
func WithWorkspaceService(s *service.WorkspaceService) Option {
	return func(h *Handler) { h.workspaces = s }
}

// WithProviderService sets the provider admin service.
func WithProviderService(s *service.ProviderService) Option {
	return func(h *Handler) { h.providers = s }
}

// WithAPIKeyHash sets the Argon2id hash remote admin requests must present
// a matching key for. When empty, the admin API is localhost-only.
func WithAPIKeyHash(hash string) Option {
	return func(h *Handler) { h.apiKeyHash = hash }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) { h.logger = l }
}

// NewHandler creates a Handler with the given options.
func NewHandler(opts ...Option) *Handler {
	h := &Handler{logger: slog.Default()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the admin API handler with auth applied.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()

	// Workspace lifecycle.
	mux.HandleFunc("GET /admin/api/workspaces", h.handleListWorkspaces)
	mux.HandleFunc("POST /admin/api/workspaces", h.handleCreateWorkspace)
	mux.HandleFunc("GET /admin/api/workspaces/{id}", h.handleGetWorkspace)
	mux.HandleFunc("POST /admin/api/workspaces/{id}/archive", h.handleArchiveWorkspace)
	mux.HandleFunc("POST /admin/api/workspaces/{id}/recover", h.handleRecoverWorkspace)
	mux.HandleFunc("DELETE /admin/api/workspaces/{id}", h.handleDeleteWorkspace)

	// Mux rules.
	mux.HandleFunc("PUT /admin/api/workspaces/{id}/rules", h.handleReplaceRules)

	// Per-workspace alert and usage views.
	mux.HandleFunc("GET /admin/api/workspaces/{id}/alerts", h.handleListAlerts)
	mux.HandleFunc("GET /admin/api/workspaces/{id}/usage", h.handleListUsage)

	// Session activation.
	mux.HandleFunc("POST /admin/api/sessions/{id}/activate", h.handleActivateSession)

	// Provider CRUD.
	mux.HandleFunc("GET /admin/api/providers", h.handleListProviders)
	mux.HandleFunc("POST /admin/api/providers", h.handleCreateProvider)
	mux.HandleFunc("DELETE /admin/api/providers/{name}", h.handleDeleteProvider)

	return h.authMiddleware(mux)
}

// --- JSON helper methods ---

// respondJSON writes a JSON response with the given status code and data.
func (h *Handler) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode JSON response", "error", err)
	}
}

// respondError writes a JSON error response with the given status code and message.
func (h *Handler) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// readJSON decodes the request body into the given value.
func (h *Handler) readJSON(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// limitParam reads the ?limit query parameter, defaulting when absent or
// invalid.
func limitParam(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
