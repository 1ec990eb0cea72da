// Package mux resolves which upstream backend serves a client-visible model
// name, using workspace-scoped ordered rules.
package mux

import (
	"context"
	"errors"
	"fmt"
)

// MatcherType selects how a rule matches a requested model name.
type MatcherType string

const (
	// MatcherExact matches the literal model name.
	MatcherExact MatcherType = "exact"
	// MatcherCatchAll accepts any model name.
	MatcherCatchAll MatcherType = "catch_all"
)

// ProviderType identifies the wire dialect an upstream endpoint speaks.
type ProviderType string

const (
	// ProviderOpenAI speaks the OpenAI chat-completions dialect.
	ProviderOpenAI ProviderType = "openai"
	// ProviderAnthropic speaks the Anthropic messages dialect.
	ProviderAnthropic ProviderType = "anthropic"
	// ProviderOllama speaks the Ollama NDJSON dialect.
	ProviderOllama ProviderType = "ollama"
	// ProviderGemini speaks the Gemini generateContent dialect.
	ProviderGemini ProviderType = "gemini"
)

// Valid reports whether t names a supported dialect.
func (t ProviderType) Valid() bool {
	switch t {
	case ProviderOpenAI, ProviderAnthropic, ProviderOllama, ProviderGemini:
		return true
	}
	return false
}

// Rule maps model names to a provider. Rules belong to exactly one workspace
// and are totally ordered by Position; the lowest-position satisfying rule
// wins.
type Rule struct {
	// ProviderName references a registered provider endpoint.
	ProviderName string
	// ProviderType is the endpoint's dialect.
	ProviderType ProviderType
	// Matcher selects the matching strategy.
	Matcher MatcherType
	// Pattern is the literal model name for MatcherExact; ignored for
	// MatcherCatchAll.
	Pattern string
	// Position is the rule's place in the workspace's total order.
	Position int
}

// Matches reports whether the rule accepts the requested model name.
func (r Rule) Matches(model string) bool {
	switch r.Matcher {
	case MatcherExact:
		return r.Pattern == model
	case MatcherCatchAll:
		return true
	}
	return false
}

// Validate checks rule fields.
func (r Rule) Validate() error {
	switch r.Matcher {
	case MatcherExact:
		if r.Pattern == "" {
			return errors.New("exact matcher requires a pattern")
		}
	case MatcherCatchAll:
	default:
		return fmt.Errorf("unknown matcher type %q", r.Matcher)
	}
	if r.ProviderName == "" {
		return errors.New("provider name is required")
	}
	if !r.ProviderType.Valid() {
		return fmt.Errorf("unknown provider type %q", r.ProviderType)
	}
	return nil
}

// Destination is a routing decision: the backend that will serve the
// request. Model is always the name the caller asked for — routing changes
// the backend, never the model name.
type Destination struct {
	ProviderName string
	ProviderType ProviderType
	Model        string
}

// RoutingError is returned when no rule matched. It is surfaced with an
// explicit message; the engine never silently falls back.
type RoutingError struct {
	WorkspaceID string
	Model       string
}

// Error implements the error interface.
func (e *RoutingError) Error() string {
	return fmt.Sprintf("no mux rule matches model %q in workspace %s", e.Model, e.WorkspaceID)
}

// RuleSource supplies the rule list for a workspace. Implementations must
// return a copy: a snapshot taken at dispatch time is never affected by
// concurrent rule edits.
type RuleSource interface {
	// SnapshotRules returns a point-in-time copy of the workspace's rules
	// in ascending position order.
	SnapshotRules(ctx context.Context, workspaceID string) ([]Rule, error)
}
