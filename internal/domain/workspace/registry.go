package workspace

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
)

// Registry owns workspace lifecycle (active ⇄ archived → deleted) and
// session activation. Writes are serialized; reads are safe under arbitrary
// concurrent readers because the stores hand out copies.
type Registry struct {
	store    Store
	sessions SessionStore

	// mu serializes lifecycle and activation writes so no request can
	// observe a half-updated workspace/session pair.
	mu sync.Mutex
}

// NewRegistry creates a registry over the given stores.
func NewRegistry(store Store, sessions SessionStore) *Registry {
	return &Registry{store: store, sessions: sessions}
}

// EnsureDefault creates the default workspace if it does not exist yet.
// Called once at startup.
func (r *Registry) EnsureDefault(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.store.Get(ctx, DefaultWorkspaceID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrWorkspaceNotFound) {
		return err
	}
	now := time.Now().UTC()
	return r.store.Add(ctx, &Workspace{
		ID:        DefaultWorkspaceID,
		Name:      DefaultWorkspaceName,
		Rules:     nil,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// Create adds a new active workspace.
func (r *Registry) Create(ctx context.Context, name, customInstructions string) (*Workspace, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	w := &Workspace{
		ID:                 uuid.NewString(),
		Name:               name,
		CustomInstructions: customInstructions,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := r.store.Add(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// Get returns a workspace by id.
func (r *Registry) Get(ctx context.Context, id string) (*Workspace, error) {
	return r.store.Get(ctx, id)
}

// List returns all workspaces.
func (r *Registry) List(ctx context.Context) ([]Workspace, error) {
	return r.store.List(ctx)
}

// Archive transitions a workspace from active to archived. The default
// workspace is always rejected. Sessions whose active workspace is archived
// cascade back to the default workspace.
func (r *Registry) Archive(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if w.IsDefault() {
		return &StateError{Op: "archive", WorkspaceID: id, Reason: "the default workspace cannot be archived"}
	}
	if w.Archived {
		return &StateError{Op: "archive", WorkspaceID: id, Reason: "workspace is already archived"}
	}
	w.Archived = true
	w.UpdatedAt = time.Now().UTC()
	if err := r.store.Update(ctx, w); err != nil {
		return err
	}
	return r.cascadeSessions(ctx, id)
}

// Recover transitions a workspace from archived back to active.
func (r *Registry) Recover(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if !w.Archived {
		return &StateError{Op: "recover", WorkspaceID: id, Reason: "workspace is not archived"}
	}
	w.Archived = false
	w.UpdatedAt = time.Now().UTC()
	return r.store.Update(ctx, w)
}

// Delete permanently removes an archived workspace. Hard delete is terminal
// and irreversible; it is legal only from the archived state and never for
// the default workspace.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if w.IsDefault() {
		return &StateError{Op: "delete", WorkspaceID: id, Reason: "the default workspace cannot be deleted"}
	}
	if !w.Archived {
		return &StateError{Op: "delete", WorkspaceID: id, Reason: "workspace must be archived first"}
	}
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	// Archiving already cascaded sessions, but a session written between
	// archive and delete would otherwise dangle.
	return r.cascadeSessions(ctx, id)
}

// Activate points a session at a workspace. Archived workspaces are
// rejected. The session pointer and the effective rule set change
// atomically: routing reads either the old or the new workspace, never a
// mix.
func (r *Registry) Activate(ctx context.Context, sessionID, workspaceID string) error {
	if sessionID == "" {
		return fmt.Errorf("session id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.store.Get(ctx, workspaceID)
	if err != nil {
		return err
	}
	if w.Archived {
		return &StateError{Op: "activate", WorkspaceID: workspaceID, Reason: "workspace is archived"}
	}
	return r.sessions.Upsert(ctx, &Session{
		ID:                sessionID,
		ActiveWorkspaceID: workspaceID,
		LastUpdate:        time.Now().UTC(),
	})
}

// ActiveWorkspace resolves the workspace serving a session. Unknown
// sessions are created on first use, pointing at the default workspace.
func (r *Registry) ActiveWorkspace(ctx context.Context, sessionID string) (*Workspace, error) {
	sess, err := r.sessions.Get(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		r.mu.Lock()
		err = r.sessions.Upsert(ctx, &Session{
			ID:                sessionID,
			ActiveWorkspaceID: DefaultWorkspaceID,
			LastUpdate:        time.Now().UTC(),
		})
		r.mu.Unlock()
		if err != nil {
			return nil, err
		}
		return r.store.Get(ctx, DefaultWorkspaceID)
	}
	if err != nil {
		return nil, err
	}
	return r.store.Get(ctx, sess.ActiveWorkspaceID)
}

// ReplaceRules swaps a workspace's ordered mux-rule list. Positions are
// normalized to the slice order. In-flight requests that already
// snapshotted the old list are unaffected.
func (r *Registry) ReplaceRules(ctx context.Context, workspaceID string, rules []mux.Rule) error {
	for i := range rules {
		rules[i].Position = i
		if err := rules[i].Validate(); err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	w, err := r.store.Get(ctx, workspaceID)
	if err != nil {
		return err
	}
	w.Rules = rules
	w.UpdatedAt = time.Now().UTC()
	return r.store.Update(ctx, w)
}

// SnapshotRules implements mux.RuleSource. The store's Get hands out a
// copy, so the returned slice is a point-in-time snapshot.
func (r *Registry) SnapshotRules(ctx context.Context, workspaceID string) ([]mux.Rule, error) {
	w, err := r.store.Get(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	return w.Rules, nil
}

// cascadeSessions moves every session pointing at the given workspace back
// to the default workspace.
func (r *Registry) cascadeSessions(ctx context.Context, workspaceID string) error {
	sessions, err := r.sessions.List(ctx)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, s := range sessions {
		if s.ActiveWorkspaceID != workspaceID {
			continue
		}
		s.ActiveWorkspaceID = DefaultWorkspaceID
		s.LastUpdate = now
		if err := r.sessions.Upsert(ctx, &s); err != nil {
			return err
		}
	}
	return nil
}

// Compile-time check that Registry implements mux.RuleSource.
var _ mux.RuleSource = (*Registry)(nil)
