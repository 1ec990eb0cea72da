package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
)

// providerRequest is the JSON body for the register provider endpoint.
// The auth key is accepted raw and stored; it is never echoed back.
type providerRequest struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	BaseURL string `json:"base_url"`
	AuthKey string `json:"auth_key,omitempty"`
}

// providerResponse is the JSON representation of a provider. AuthKey is
// deliberately absent.
type providerResponse struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	BaseURL   string `json:"base_url"`
	HasAuth   bool   `json:"has_auth"`
	CreatedAt string `json:"created_at"`
}

func toProviderResponse(p mux.Provider) providerResponse {
	return providerResponse{
		Name:      p.Name,
		Type:      string(p.Type),
		BaseURL:   p.BaseURL,
		HasAuth:   p.AuthKey != "",
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// handleListProviders returns all registered providers.
// GET /admin/api/providers
func (h *Handler) handleListProviders(w http.ResponseWriter, r *http.Request) {
	providers, err := h.providers.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list providers", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list providers")
		return
	}
	result := make([]providerResponse, 0, len(providers))
	for _, p := range providers {
		result = append(result, toProviderResponse(p))
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleCreateProvider registers a new provider endpoint.
// POST /admin/api/providers
func (h *Handler) handleCreateProvider(w http.ResponseWriter, r *http.Request) {
	var req providerRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p := &mux.Provider{
		Name:    req.Name,
		Type:    mux.ProviderType(req.Type),
		BaseURL: req.BaseURL,
		AuthKey: req.AuthKey,
	}
	if err := h.providers.Register(r.Context(), p); err != nil {
		if errors.Is(err, mux.ErrDuplicateProviderName) {
			h.respondError(w, http.StatusConflict, "provider name already exists")
			return
		}
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respondJSON(w, http.StatusCreated, toProviderResponse(*p))
}

// handleDeleteProvider removes a provider endpoint.
// DELETE /admin/api/providers/{name}
func (h *Handler) handleDeleteProvider(w http.ResponseWriter, r *http.Request) {
	if err := h.providers.Remove(r.Context(), r.PathValue("name")); err != nil {
		if errors.Is(err, mux.ErrProviderNotFound) {
			h.respondError(w, http.StatusNotFound, "provider not found")
			return
		}
		h.logger.Error("failed to delete provider", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to delete provider")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
