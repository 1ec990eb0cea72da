package admin

import (
	"errors"
	"net/http"
	"time"

	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
	"github.com/Prompt-Gate/Promptgate/internal/domain/pipeline"
	"github.com/Prompt-Gate/Promptgate/internal/domain/workspace"
)

// workspaceRequest is the JSON body for the create workspace endpoint.
type workspaceRequest struct {
	Name               string `json:"name"`
	CustomInstructions string `json:"custom_instructions"`
}

// workspaceResponse is the JSON representation of a workspace.
type workspaceResponse struct {
	ID                 string         `json:"id"`
	Name               string         `json:"name"`
	CustomInstructions string         `json:"custom_instructions,omitempty"`
	Rules              []ruleResponse `json:"rules"`
	Archived           bool           `json:"archived"`
	CreatedAt          string         `json:"created_at"`
	UpdatedAt          string         `json:"updated_at"`
}

// ruleRequest is one mux rule in the replace-rules body.
type ruleRequest struct {
	ProviderName string `json:"provider_name"`
	ProviderType string `json:"provider_type"`
	Matcher      string `json:"matcher"`
	Pattern      string `json:"pattern,omitempty"`
}

// ruleResponse is the JSON representation of a mux rule.
type ruleResponse struct {
	ProviderName string `json:"provider_name"`
	ProviderType string `json:"provider_type"`
	Matcher      string `json:"matcher"`
	Pattern      string `json:"pattern,omitempty"`
	Position     int    `json:"position"`
}

func toWorkspaceResponse(w *workspace.Workspace) workspaceResponse {
	rules := make([]ruleResponse, 0, len(w.Rules))
	for _, r := range w.Rules {
		rules = append(rules, ruleResponse{
			ProviderName: r.ProviderName,
			ProviderType: string(r.ProviderType),
			Matcher:      string(r.Matcher),
			Pattern:      r.Pattern,
			Position:     r.Position,
		})
	}
	return workspaceResponse{
		ID:                 w.ID,
		Name:               w.Name,
		CustomInstructions: w.CustomInstructions,
		Rules:              rules,
		Archived:           w.Archived,
		CreatedAt:          w.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:          w.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// workspaceError maps domain errors onto admin API status codes.
func (h *Handler) workspaceError(w http.ResponseWriter, err error) {
	var state *workspace.StateError
	switch {
	case errors.As(err, &state):
		h.respondError(w, http.StatusConflict, state.Error())
	case errors.Is(err, workspace.ErrWorkspaceNotFound):
		h.respondError(w, http.StatusNotFound, "workspace not found")
	case errors.Is(err, workspace.ErrDuplicateWorkspaceName):
		h.respondError(w, http.StatusConflict, "workspace name already exists")
	default:
		h.logger.Error("workspace operation failed", "error", err)
		h.respondError(w, http.StatusBadRequest, err.Error())
	}
}

// handleListWorkspaces returns all workspaces, including archived ones.
// GET /admin/api/workspaces
func (h *Handler) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	workspaces, err := h.workspaces.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list workspaces", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list workspaces")
		return
	}
	result := make([]workspaceResponse, 0, len(workspaces))
	for i := range workspaces {
		result = append(result, toWorkspaceResponse(&workspaces[i]))
	}
	h.respondJSON(w, http.StatusOK, result)
}

// handleCreateWorkspace creates a new active workspace.
// POST /admin/api/workspaces
func (h *Handler) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var req workspaceRequest
	if err := h.readJSON(r, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	ws, err := h.workspaces.Create(r.Context(), req.Name, req.CustomInstructions)
	if err != nil {
		h.workspaceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, toWorkspaceResponse(ws))
}

// handleGetWorkspace returns one workspace.
// GET /admin/api/workspaces/{id}
func (h *Handler) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := h.workspaces.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.workspaceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, toWorkspaceResponse(ws))
}

// handleArchiveWorkspace archives a workspace.
// POST /admin/api/workspaces/{id}/archive
func (h *Handler) handleArchiveWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := h.workspaces.Archive(r.Context(), r.PathValue("id")); err != nil {
		h.workspaceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "archived"})
}

// handleRecoverWorkspace recovers an archived workspace.
// POST /admin/api/workspaces/{id}/recover
func (h *Handler) handleRecoverWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := h.workspaces.Recover(r.Context(), r.PathValue("id")); err != nil {
		h.workspaceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "active"})
}

// handleDeleteWorkspace permanently deletes an archived workspace.
// DELETE /admin/api/workspaces/{id}
func (h *Handler) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := h.workspaces.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.workspaceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// handleReplaceRules swaps a workspace's ordered mux-rule list. The body is
// the full replacement list; rule positions follow array order.
// PUT /admin/api/workspaces/{id}/rules
func (h *Handler) handleReplaceRules(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rules []ruleRequest `json:"rules"`
	}
	if err := h.readJSON(r, &body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	rules := make([]mux.Rule, 0, len(body.Rules))
	for i, rr := range body.Rules {
		rule := mux.Rule{
			ProviderName: rr.ProviderName,
			ProviderType: mux.ProviderType(rr.ProviderType),
			Matcher:      mux.MatcherType(rr.Matcher),
			Pattern:      rr.Pattern,
			Position:     i,
		}
		if err := rule.Validate(); err != nil {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		rules = append(rules, rule)
	}
	if err := h.workspaces.ReplaceRules(r.Context(), r.PathValue("id"), rules); err != nil {
		h.workspaceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"rules": len(rules)})
}

// handleActivateSession points a session at a workspace.
// POST /admin/api/sessions/{id}/activate
func (h *Handler) handleActivateSession(w http.ResponseWriter, r *http.Request) {
	var body struct {
		WorkspaceID string `json:"workspace_id"`
	}
	if err := h.readJSON(r, &body); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.WorkspaceID == "" {
		h.respondError(w, http.StatusBadRequest, "workspace_id is required")
		return
	}
	if err := h.workspaces.Activate(r.Context(), r.PathValue("id"), body.WorkspaceID); err != nil {
		h.workspaceError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{
		"session":   r.PathValue("id"),
		"workspace": body.WorkspaceID,
	})
}

// alertResponse is the JSON representation of a pipeline alert.
type alertResponse struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Message     string `json:"message"`
	Timestamp   string `json:"timestamp"`
}

// handleListAlerts returns a workspace's alerts, newest first.
// GET /admin/api/workspaces/{id}/alerts?limit=N
func (h *Handler) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.workspaces.Alerts(r.Context(), r.PathValue("id"), limitParam(r, 100))
	if err != nil {
		h.logger.Error("failed to list alerts", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	result := make([]alertResponse, 0, len(alerts))
	for _, a := range alerts {
		result = append(result, toAlertResponse(a))
	}
	h.respondJSON(w, http.StatusOK, result)
}

func toAlertResponse(a pipeline.Alert) alertResponse {
	return alertResponse{
		ID:          a.ID,
		WorkspaceID: a.WorkspaceID,
		Severity:    string(a.Severity),
		Code:        a.Code,
		Message:     a.Message,
		Timestamp:   a.Timestamp.UTC().Format(time.RFC3339),
	}
}

// usageResponse is the JSON representation of one usage record.
type usageResponse struct {
	WorkspaceID  string `json:"workspace_id"`
	ProviderName string `json:"provider_name"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Timestamp    string `json:"timestamp"`
}

// handleListUsage returns a workspace's usage records, newest first.
// GET /admin/api/workspaces/{id}/usage?limit=N
func (h *Handler) handleListUsage(w http.ResponseWriter, r *http.Request) {
	records, err := h.workspaces.Usage(r.Context(), r.PathValue("id"), limitParam(r, 100))
	if err != nil {
		h.logger.Error("failed to list usage", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list usage")
		return
	}
	result := make([]usageResponse, 0, len(records))
	for _, rec := range records {
		result = append(result, usageResponse{
			WorkspaceID:  rec.WorkspaceID,
			ProviderName: rec.ProviderName,
			Model:        rec.Model,
			InputTokens:  rec.InputTokens,
			OutputTokens: rec.OutputTokens,
			Timestamp:    rec.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	h.respondJSON(w, http.StatusOK, result)
}
