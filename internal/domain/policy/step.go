// Package policy contains the workspace custom-policy pipeline step:
// operator-written expressions that can veto a request before it reaches
// upstream.
package policy

import (
	"context"
	"fmt"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
	"github.com/Prompt-Gate/Promptgate/internal/domain/pipeline"
)

// Rule is one operator-defined policy expression.
type Rule struct {
	// Name identifies the rule in logs and block messages.
	Name string
	// Expression is a CEL expression over the request. Evaluating to true
	// blocks the request.
	Expression string
	// Message is the user-visible explanation when the rule blocks.
	Message string
}

// Input is the request view exposed to policy expressions.
type Input struct {
	// Model is the client-visible model name.
	Model string
	// WorkspaceID is the workspace serving the request.
	WorkspaceID string
	// MessageCount is the number of messages in the conversation.
	MessageCount int
	// LastUserMessage is the text of the most recent user message.
	LastUserMessage string
}

// Evaluator compiles and evaluates policy expressions.
// Implemented by the cel adapter.
type Evaluator interface {
	// Validate checks an expression at configuration time.
	Validate(expression string) error
	// Evaluate runs an expression against a request view.
	Evaluate(ctx context.Context, expression string, input Input) (bool, error)
}

// Step evaluates the configured policy rules in order during the input
// phase. The first rule that evaluates to true vetoes the request.
type Step struct {
	rules     []Rule
	evaluator Evaluator
}

// NewStep creates the policy step.
func NewStep(rules []Rule, evaluator Evaluator) *Step {
	return &Step{rules: rules, evaluator: evaluator}
}

// Name implements pipeline.InputStep.
func (s *Step) Name() string { return "custom-policy" }

// Apply implements pipeline.InputStep. A rule evaluating to true raises a
// policy block; an evaluation error is an internal failure recovered by the
// engine.
func (s *Step) Apply(ctx context.Context, req *canon.Request, pctx *pipeline.Context) (*canon.Request, *pipeline.ShortCircuit, error) {
	input := Input{
		Model:           req.Model,
		WorkspaceID:     pctx.WorkspaceID,
		MessageCount:    len(req.Messages),
		LastUserMessage: req.LastUserText(),
	}
	for _, rule := range s.rules {
		matched, err := s.evaluator.Evaluate(ctx, rule.Expression, input)
		if err != nil {
			return nil, nil, fmt.Errorf("evaluate policy %q: %w", rule.Name, err)
		}
		if matched {
			msg := rule.Message
			if msg == "" {
				msg = fmt.Sprintf("request blocked by policy %q", rule.Name)
			}
			return nil, nil, &pipeline.PolicyBlockError{StepName: s.Name(), Reason: msg}
		}
	}
	return req, nil, nil
}

// Compile-time check that Step implements pipeline.InputStep.
var _ pipeline.InputStep = (*Step)(nil)
