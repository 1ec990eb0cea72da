package mux

import (
	"context"
	"sort"
)

// Engine makes routing decisions from workspace-scoped rules.
type Engine struct {
	source RuleSource
}

// NewEngine creates a routing engine backed by the given rule source.
func NewEngine(source RuleSource) *Engine {
	return &Engine{source: source}
}

// Route resolves the backend for a requested model name. Rules are
// snapshotted once, at dispatch time, then evaluated in ascending position
// order; the first rule whose matcher accepts wins. No match yields a
// *RoutingError.
func (e *Engine) Route(ctx context.Context, workspaceID, model string) (Destination, error) {
	rules, err := e.source.SnapshotRules(ctx, workspaceID)
	if err != nil {
		return Destination{}, err
	}

	// The source returns position order, but a snapshot from a store under
	// concurrent replacement must not depend on that.
	sort.SliceStable(rules, func(i, j int) bool { return rules[i].Position < rules[j].Position })

	for _, rule := range rules {
		if rule.Matches(model) {
			return Destination{
				ProviderName: rule.ProviderName,
				ProviderType: rule.ProviderType,
				Model:        model,
			}, nil
		}
	}
	return Destination{}, &RoutingError{WorkspaceID: workspaceID, Model: model}
}
