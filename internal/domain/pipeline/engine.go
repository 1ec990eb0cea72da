package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
)

// OutputStepFactory builds a fresh output step instance. Output steps hold
// per-stream look-back buffers, so every response gets its own instances.
type OutputStepFactory func() OutputStep

// Engine composes input and output steps in configured order.
type Engine struct {
	inputs  []InputStep
	outputs []OutputStepFactory
	logger  *slog.Logger
}

// NewEngine creates an engine running the given steps in order.
func NewEngine(inputs []InputStep, outputs []OutputStepFactory, logger *slog.Logger) *Engine {
	return &Engine{inputs: inputs, outputs: outputs, logger: logger}
}

// RunInput runs the input phase. Each step's output is the next step's
// input. A step returning *PolicyBlockError aborts the request; any other
// step error is recovered: an alert is recorded and the request passes
// through that step unmodified.
func (e *Engine) RunInput(ctx context.Context, req *canon.Request, pctx *Context) (*canon.Request, *ShortCircuit, error) {
	current := req
	for _, step := range e.inputs {
		next, sc, err := step.Apply(ctx, current, pctx)
		if err != nil {
			var block *PolicyBlockError
			if errors.As(err, &block) {
				return nil, nil, err
			}
			e.logger.Warn("input step failed, passing through",
				"step", step.Name(), "request_id", pctx.RequestID, "error", err)
			pctx.AddAlert(SeverityWarning, CodeStepFailure,
				"input step "+step.Name()+" failed: "+err.Error())
			continue
		}
		if sc != nil {
			sc.StepName = step.Name()
			return nil, sc, nil
		}
		if next != nil {
			current = next
		}
	}
	return current, nil, nil
}

// NewOutputStream creates a streaming instance of the output phase for one
// response. Each instance owns its steps' buffers for the request lifetime.
func (e *Engine) NewOutputStream(pctx *Context) *OutputStream {
	steps := make([]OutputStep, len(e.outputs))
	for i, build := range e.outputs {
		steps[i] = build()
	}
	return &OutputStream{steps: steps, pctx: pctx, logger: e.logger}
}

// OutputStream pushes canonical chunks through the output steps
// incrementally, preserving streaming semantics.
type OutputStream struct {
	steps  []OutputStep
	pctx   *Context
	logger *slog.Logger
}

// Window returns the sum of the steps' look-back windows. Peak buffered
// memory per in-flight request is bounded by this value, not by total
// response size.
func (s *OutputStream) Window() int {
	total := 0
	for _, step := range s.steps {
		total += step.Window()
	}
	return total
}

// Process feeds one upstream chunk through all steps and returns the chunks
// ready to emit downstream. An internal step failure is recovered: the
// chunk passes through that step unmodified and an alert is recorded.
func (s *OutputStream) Process(ctx context.Context, chunk canon.Chunk) ([]canon.Chunk, error) {
	return s.through(ctx, []canon.Chunk{chunk}, 0)
}

// Flush drains every step's buffered content in order. Content released by
// an earlier step's flush still flows through the later steps before those
// are flushed themselves.
func (s *OutputStream) Flush(ctx context.Context) ([]canon.Chunk, error) {
	var out []canon.Chunk
	for i, step := range s.steps {
		held, err := step.Flush(ctx, s.pctx)
		if err != nil {
			s.recover(step, err)
			continue
		}
		emitted, err := s.through(ctx, held, i+1)
		if err != nil {
			return nil, err
		}
		out = append(out, emitted...)
	}
	return out, nil
}

// through pushes chunks through steps[from:] sequentially.
func (s *OutputStream) through(ctx context.Context, chunks []canon.Chunk, from int) ([]canon.Chunk, error) {
	current := chunks
	for _, step := range s.steps[from:] {
		var next []canon.Chunk
		for _, c := range current {
			emitted, err := step.ProcessChunk(ctx, c, s.pctx)
			if err != nil {
				s.recover(step, err)
				emitted = []canon.Chunk{c}
			}
			next = append(next, emitted...)
		}
		current = next
	}
	return current, nil
}

func (s *OutputStream) recover(step OutputStep, err error) {
	s.logger.Warn("output step failed, passing through",
		"step", step.Name(), "request_id", s.pctx.RequestID, "error", err)
	s.pctx.AddAlert(SeverityWarning, CodeStepFailure,
		"output step "+step.Name()+" failed: "+err.Error())
}
