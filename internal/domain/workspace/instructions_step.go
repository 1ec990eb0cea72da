package workspace

import (
	"context"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
	"github.com/Prompt-Gate/Promptgate/internal/domain/pipeline"
)

// InstructionsStep prepends the active workspace's custom instructions to
// the outgoing request. No-op when the workspace has none.
type InstructionsStep struct {
	registry *Registry
}

// NewInstructionsStep creates the custom-instructions input step.
func NewInstructionsStep(registry *Registry) *InstructionsStep {
	return &InstructionsStep{registry: registry}
}

// Name implements pipeline.InputStep.
func (s *InstructionsStep) Name() string { return "workspace-instructions" }

// Apply prepends the instructions as a system message, or merges them into
// an existing leading system message.
func (s *InstructionsStep) Apply(ctx context.Context, req *canon.Request, pctx *pipeline.Context) (*canon.Request, *pipeline.ShortCircuit, error) {
	w, err := s.registry.Get(ctx, pctx.WorkspaceID)
	if err != nil {
		return nil, nil, err
	}
	if w.CustomInstructions == "" {
		return req, nil, nil
	}

	out := req.Clone()
	if len(out.Messages) > 0 && out.Messages[0].Role == canon.RoleSystem {
		merged := w.CustomInstructions + "\n\n" + out.Messages[0].Text()
		out.Messages[0] = out.Messages[0].WithText(merged)
		return out, nil, nil
	}
	msgs := make([]canon.Message, 0, len(out.Messages)+1)
	msgs = append(msgs, canon.TextMessage(canon.RoleSystem, w.CustomInstructions))
	msgs = append(msgs, out.Messages...)
	out.Messages = msgs
	return out, nil, nil
}

// Compile-time check that InstructionsStep implements pipeline.InputStep.
var _ pipeline.InputStep = (*InstructionsStep)(nil)
