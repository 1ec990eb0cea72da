// Package pipeline contains the security-transform pipeline: ordered input
// steps over canonical requests and output steps over streamed response
// chunks. Steps compose sequentially — each step's output is the next step's
// input — and internal step failures are recovered so a broken transform
// never takes down the request.
package pipeline

import (
	"context"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
)

// ShortCircuit is a step-supplied reply that skips the upstream call
// entirely. Used for hard policy blocks where the gateway answers on the
// model's behalf.
type ShortCircuit struct {
	// Reply is the user-visible text returned to the client.
	Reply string
	// StepName identifies the step that short-circuited.
	StepName string
}

// InputStep transforms a canonical request before it is forwarded upstream.
type InputStep interface {
	// Name identifies the step in logs and alerts.
	Name() string

	// Apply inspects the request and returns a (possibly new) request, or a
	// ShortCircuit to answer without calling upstream. Returning an error
	// wrapped in *PolicyBlockError vetoes the request; any other error is
	// treated as an internal failure, recorded as an alert, and the request
	// passes through this step unmodified.
	Apply(ctx context.Context, req *canon.Request, pctx *Context) (*canon.Request, *ShortCircuit, error)
}

// OutputStep transforms streamed response chunks. Implementations maintain a
// bounded look-back buffer sized to their longest match window; content held
// beyond that window must be released, and Flush drains whatever remains when
// the stream ends. A step may never withhold content indefinitely.
type OutputStep interface {
	// Name identifies the step in logs and alerts.
	Name() string

	// Window is the step's maximum look-back in bytes. The engine's peak
	// memory per request is bounded by the sum of all step windows.
	Window() int

	// ProcessChunk consumes one chunk and returns zero or more chunks to
	// emit. Returning an empty slice holds content back (within Window).
	ProcessChunk(ctx context.Context, chunk canon.Chunk, pctx *Context) ([]canon.Chunk, error)

	// Flush releases any buffered content at end of stream.
	Flush(ctx context.Context, pctx *Context) ([]canon.Chunk, error)
}

// PolicyBlockError is a deliberate veto raised by a step. Unlike internal
// step failures it is fatal to the request and surfaced to the caller with
// the step-provided explanation.
type PolicyBlockError struct {
	// StepName identifies the vetoing step.
	StepName string
	// Reason is the user-visible explanation.
	Reason string
}

// Error implements the error interface.
func (e *PolicyBlockError) Error() string {
	return "blocked by " + e.StepName + ": " + e.Reason
}
