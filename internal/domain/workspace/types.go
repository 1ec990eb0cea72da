// Package workspace owns workspace lifecycle and the active-workspace-per-
// session mapping that parameterizes routing.
package workspace

import (
	"fmt"
	"regexp"
	"time"

	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
)

// DefaultWorkspaceID is the fixed identifier of the default workspace.
// Exactly one workspace is the default at all times; it can never be
// archived or deleted.
const DefaultWorkspaceID = "default"

// DefaultWorkspaceName is the reserved name of the default workspace.
const DefaultWorkspaceName = "default"

// reservedNames cannot be used for new workspaces.
var reservedNames = map[string]struct{}{
	DefaultWorkspaceName: {},
	"active":             {},
}

// namePattern allows alphanumeric, spaces, hyphens, and underscores.
var namePattern = regexp.MustCompile(`^[a-zA-Z0-9 _-]+$`)

// nameMaxLength is the maximum allowed length for a workspace name.
const nameMaxLength = 100

// Workspace groups mux rules and custom instructions under a name.
type Workspace struct {
	// ID is the unique identifier.
	ID string
	// Name is the unique display name.
	Name string
	// CustomInstructions are prepended to requests served under this
	// workspace (empty = none).
	CustomInstructions string
	// Rules is the ordered mux-rule list.
	Rules []mux.Rule
	// Archived marks the workspace as inactive.
	Archived bool
	// CreatedAt and UpdatedAt are UTC timestamps.
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsDefault reports whether this is the default workspace.
func (w *Workspace) IsDefault() bool {
	return w.ID == DefaultWorkspaceID
}

// ValidateName checks a proposed workspace name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("workspace name cannot be empty")
	}
	if len(name) > nameMaxLength {
		return fmt.Errorf("workspace name must be %d characters or less", nameMaxLength)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("workspace name contains invalid characters (allowed: alphanumeric, spaces, hyphens, underscores)")
	}
	if _, reserved := reservedNames[name]; reserved {
		return fmt.Errorf("workspace name %q is reserved", name)
	}
	return nil
}

// Session tracks which workspace is active for a stream of requests.
type Session struct {
	// ID identifies the session.
	ID string
	// ActiveWorkspaceID is the workspace serving this session's requests.
	ActiveWorkspaceID string
	// LastUpdate is when the pointer last changed (UTC).
	LastUpdate time.Time
}

// StateError is an illegal lifecycle transition. The operation is rejected
// and state is unchanged.
type StateError struct {
	// Op is the attempted operation (archive, recover, delete, activate).
	Op string
	// WorkspaceID is the target workspace.
	WorkspaceID string
	// Reason explains the rejection.
	Reason string
}

// Error implements the error interface.
func (e *StateError) Error() string {
	return fmt.Sprintf("cannot %s workspace %s: %s", e.Op, e.WorkspaceID, e.Reason)
}
