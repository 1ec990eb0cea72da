package pipeline

import (
	"time"

	"github.com/google/uuid"
)

// Context is the per-request mutable state threaded through every step.
// It is owned exclusively by the request's lifetime and discarded at
// completion; steps never share a Context across requests.
type Context struct {
	// RequestID correlates log lines, alerts, and spans for one request.
	RequestID string
	// WorkspaceID is the workspace resolved for this request.
	WorkspaceID string
	// SessionID scopes redaction mappings and other sensitive state.
	SessionID string

	// SecretsRedacted counts redactions performed on the input so the
	// client-visible response can report "N secrets prevented" without
	// revealing values.
	SecretsRedacted int
	// InputTokens and OutputTokens tally upstream-reported usage.
	InputTokens  int
	OutputTokens int

	alerts []Alert
}

// NewContext creates a Context for one request.
func NewContext(workspaceID, sessionID string) *Context {
	return &Context{
		RequestID:   uuid.NewString(),
		WorkspaceID: workspaceID,
		SessionID:   sessionID,
	}
}

// AddAlert appends an alert raised by a step. The alert is stamped with the
// context's workspace and the current time.
func (c *Context) AddAlert(severity Severity, code, message string) {
	c.alerts = append(c.alerts, Alert{
		ID:          uuid.NewString(),
		WorkspaceID: c.WorkspaceID,
		Severity:    severity,
		Code:        code,
		Message:     message,
		Timestamp:   time.Now().UTC(),
	})
}

// Alerts returns the alerts raised so far.
func (c *Context) Alerts() []Alert {
	return c.alerts
}
