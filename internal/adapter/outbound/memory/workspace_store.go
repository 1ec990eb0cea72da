// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sync"

	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
	"github.com/Prompt-Gate/Promptgate/internal/domain/workspace"
)

// WorkspaceStore implements workspace.Store with an in-memory map.
// Thread-safe for concurrent access via sync.RWMutex.
// Returns deep copies to prevent external mutation of stored data.
type WorkspaceStore struct {
	workspaces map[string]*workspace.Workspace
	mu         sync.RWMutex
}

// NewWorkspaceStore creates a new in-memory workspace store.
func NewWorkspaceStore() *WorkspaceStore {
	return &WorkspaceStore{
		workspaces: make(map[string]*workspace.Workspace),
	}
}

// List returns all workspaces, including archived ones, as deep copies.
func (s *WorkspaceStore) List(ctx context.Context) ([]workspace.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]workspace.Workspace, 0, len(s.workspaces))
	for _, w := range s.workspaces {
		result = append(result, *copyWorkspace(w))
	}
	return result, nil
}

// Get returns a workspace by id as a deep copy.
// Returns ErrWorkspaceNotFound if the workspace does not exist.
func (s *WorkspaceStore) Get(ctx context.Context, id string) (*workspace.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workspaces[id]
	if !ok {
		return nil, workspace.ErrWorkspaceNotFound
	}
	return copyWorkspace(w), nil
}

// GetByName returns a workspace by name as a deep copy.
// Returns ErrWorkspaceNotFound if no workspace has the name.
func (s *WorkspaceStore) GetByName(ctx context.Context, name string) (*workspace.Workspace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, w := range s.workspaces {
		if w.Name == name {
			return copyWorkspace(w), nil
		}
	}
	return nil, workspace.ErrWorkspaceNotFound
}

// Add stores a new workspace. Stores a deep copy to prevent external mutation.
// Returns ErrDuplicateWorkspaceName when the name is taken.
func (s *WorkspaceStore) Add(ctx context.Context, w *workspace.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.workspaces {
		if existing.Name == w.Name {
			return workspace.ErrDuplicateWorkspaceName
		}
	}
	s.workspaces[w.ID] = copyWorkspace(w)
	return nil
}

// Update replaces an existing workspace with a deep copy.
// Returns ErrWorkspaceNotFound if the workspace does not exist.
func (s *WorkspaceStore) Update(ctx context.Context, w *workspace.Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workspaces[w.ID]; !ok {
		return workspace.ErrWorkspaceNotFound
	}
	s.workspaces[w.ID] = copyWorkspace(w)
	return nil
}

// Delete removes a workspace by id.
// Returns ErrWorkspaceNotFound if the workspace does not exist.
func (s *WorkspaceStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.workspaces[id]; !ok {
		return workspace.ErrWorkspaceNotFound
	}
	delete(s.workspaces, id)
	return nil
}

// copyWorkspace creates a deep copy of a Workspace to prevent mutation.
func copyWorkspace(w *workspace.Workspace) *workspace.Workspace {
	c := &workspace.Workspace{
		ID:                 w.ID,
		Name:               w.Name,
		CustomInstructions: w.CustomInstructions,
		Archived:           w.Archived,
		CreatedAt:          w.CreatedAt,
		UpdatedAt:          w.UpdatedAt,
	}
	if w.Rules != nil {
		c.Rules = make([]mux.Rule, len(w.Rules))
		copy(c.Rules, w.Rules)
	}
	return c
}

// Compile-time interface verification.
var _ workspace.Store = (*WorkspaceStore)(nil)
