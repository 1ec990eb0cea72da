package service

import (
	"context"
	"log/slog"

	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
	"github.com/Prompt-Gate/Promptgate/internal/domain/pipeline"
	"github.com/Prompt-Gate/Promptgate/internal/domain/workspace"
)

// WorkspaceService exposes workspace administration: lifecycle, mux rules,
// session activation, and the per-workspace alert and usage views.
type WorkspaceService struct {
	registry *workspace.Registry
	alerts   pipeline.AlertStore
	usage    workspace.UsageStore
	logger   *slog.Logger
}

// NewWorkspaceService creates the workspace admin service.
func NewWorkspaceService(registry *workspace.Registry, alerts pipeline.AlertStore, usage workspace.UsageStore, logger *slog.Logger) *WorkspaceService {
	return &WorkspaceService{registry: registry, alerts: alerts, usage: usage, logger: logger}
}

// Create adds a new active workspace.
func (s *WorkspaceService) Create(ctx context.Context, name, customInstructions string) (*workspace.Workspace, error) {
	w, err := s.registry.Create(ctx, name, customInstructions)
	if err != nil {
		return nil, err
	}
	s.logger.Info("workspace created", "workspace", w.ID, "name", w.Name)
	return w, nil
}

// List returns all workspaces, including archived ones.
func (s *WorkspaceService) List(ctx context.Context) ([]workspace.Workspace, error) {
	return s.registry.List(ctx)
}

// Get returns a workspace by id.
func (s *WorkspaceService) Get(ctx context.Context, id string) (*workspace.Workspace, error) {
	return s.registry.Get(ctx, id)
}

// Archive transitions a workspace to archived.
func (s *WorkspaceService) Archive(ctx context.Context, id string) error {
	if err := s.registry.Archive(ctx, id); err != nil {
		return err
	}
	s.logger.Info("workspace archived", "workspace", id)
	return nil
}

// Recover transitions an archived workspace back to active.
func (s *WorkspaceService) Recover(ctx context.Context, id string) error {
	if err := s.registry.Recover(ctx, id); err != nil {
		return err
	}
	s.logger.Info("workspace recovered", "workspace", id)
	return nil
}

// Delete permanently removes an archived workspace.
func (s *WorkspaceService) Delete(ctx context.Context, id string) error {
	if err := s.registry.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("workspace deleted", "workspace", id)
	return nil
}

// Activate points a session at a workspace.
func (s *WorkspaceService) Activate(ctx context.Context, sessionID, workspaceID string) error {
	if err := s.registry.Activate(ctx, sessionID, workspaceID); err != nil {
		return err
	}
	s.logger.Info("session activated", "session", sessionID, "workspace", workspaceID)
	return nil
}

// ReplaceRules swaps a workspace's ordered mux-rule list.
func (s *WorkspaceService) ReplaceRules(ctx context.Context, workspaceID string, rules []mux.Rule) error {
	if err := s.registry.ReplaceRules(ctx, workspaceID, rules); err != nil {
		return err
	}
	s.logger.Info("mux rules replaced", "workspace", workspaceID, "rules", len(rules))
	return nil
}

// Alerts returns a workspace's alerts, newest first, up to limit.
func (s *WorkspaceService) Alerts(ctx context.Context, workspaceID string, limit int) ([]pipeline.Alert, error) {
	return s.alerts.ListByWorkspace(ctx, workspaceID, limit)
}

// Usage returns a workspace's usage records, newest first, up to limit.
func (s *WorkspaceService) Usage(ctx context.Context, workspaceID string, limit int) ([]workspace.UsageRecord, error) {
	return s.usage.ListByWorkspace(ctx, workspaceID, limit)
}
