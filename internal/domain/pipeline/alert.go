package pipeline

import (
	"context"
	"time"
)

// Severity classifies how urgent an alert is.
type Severity string

const (
	// SeverityInfo is informational (e.g. an ambiguous risk classification).
	SeverityInfo Severity = "info"
	// SeverityWarning flags a recovered failure or suspicious content.
	SeverityWarning Severity = "warning"
	// SeverityCritical flags confirmed leakage or malicious content.
	SeverityCritical Severity = "critical"
)

// Alert codes raised by the built-in steps.
const (
	// CodeSecretLeak is raised when a credential-shaped value is redacted.
	CodeSecretLeak = "secret_leak"
	// CodeRiskyPackage is raised when a flagged package is referenced.
	CodeRiskyPackage = "risky_package"
	// CodeRiskUnknown is raised when a risk lookup is ambiguous or failed.
	CodeRiskUnknown = "risk_unknown"
	// CodeStepFailure is raised when a step fails internally and content
	// passes through unmodified.
	CodeStepFailure = "step_failure"
)

// Alert is an append-only record of a notable pipeline event. Alerts are
// never edited or deleted after creation.
type Alert struct {
	// ID is the unique alert identifier (UUID).
	ID string
	// WorkspaceID is the workspace the request ran under.
	WorkspaceID string
	// Severity classifies the alert.
	Severity Severity
	// Code is a stable machine-readable alert code.
	Code string
	// Message is the human-readable detail.
	Message string
	// Timestamp is when the alert was raised (UTC).
	Timestamp time.Time
}

// AlertStore persists alerts. Append-only: implementations expose no update
// or delete for individual records.
type AlertStore interface {
	// Append stores alerts.
	Append(ctx context.Context, alerts ...Alert) error
	// ListByWorkspace returns alerts for a workspace, newest first, up to limit.
	ListByWorkspace(ctx context.Context, workspaceID string, limit int) ([]Alert, error)
}
