package workspace

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for workspace store operations.
var (
	// ErrWorkspaceNotFound is returned when no workspace has the given id.
	ErrWorkspaceNotFound = errors.New("workspace not found")
	// ErrDuplicateWorkspaceName is returned when a workspace name is taken.
	ErrDuplicateWorkspaceName = errors.New("duplicate workspace name")
	// ErrSessionNotFound is returned when no session has the given id.
	ErrSessionNotFound = errors.New("session not found")
)

// Store persists workspaces and their mux rules.
// Interface owned by the domain per hexagonal architecture.
// Implementations: in-memory (memory package), sqlite.
type Store interface {
	// List returns all workspaces, including archived ones.
	List(ctx context.Context) ([]Workspace, error)
	// Get returns a workspace by id.
	// Returns ErrWorkspaceNotFound if it does not exist.
	Get(ctx context.Context, id string) (*Workspace, error)
	// GetByName returns a workspace by name.
	// Returns ErrWorkspaceNotFound if it does not exist.
	GetByName(ctx context.Context, name string) (*Workspace, error)
	// Add stores a new workspace.
	// Returns ErrDuplicateWorkspaceName if the name is taken.
	Add(ctx context.Context, w *Workspace) error
	// Update replaces an existing workspace.
	// Returns ErrWorkspaceNotFound if it does not exist.
	Update(ctx context.Context, w *Workspace) error
	// Delete removes a workspace permanently.
	// Returns ErrWorkspaceNotFound if it does not exist.
	Delete(ctx context.Context, id string) error
}

// SessionStore persists the active-workspace-per-session mapping.
type SessionStore interface {
	// Get returns a session by id.
	// Returns ErrSessionNotFound if it does not exist.
	Get(ctx context.Context, id string) (*Session, error)
	// List returns all sessions.
	List(ctx context.Context) ([]Session, error)
	// Upsert creates or replaces a session.
	Upsert(ctx context.Context, s *Session) error
	// Delete removes a session.
	Delete(ctx context.Context, id string) error
}

// UsageRecord is one request's token accounting.
type UsageRecord struct {
	// WorkspaceID is the workspace the request ran under.
	WorkspaceID string
	// ProviderName is the backend that served the request.
	ProviderName string
	// Model is the client-visible model name.
	Model string
	// InputTokens and OutputTokens are upstream-reported counts.
	InputTokens  int
	OutputTokens int
	// Timestamp is when the request completed (UTC).
	Timestamp time.Time
}

// UsageStore persists token-usage records across restarts.
type UsageStore interface {
	// Record appends a usage record.
	Record(ctx context.Context, rec UsageRecord) error
	// ListByWorkspace returns records for a workspace, newest first, up to limit.
	ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]UsageRecord, error)
}
