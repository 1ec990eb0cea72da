package pkgrisk

import (
	"context"
	"fmt"
	"strings"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
	"github.com/Prompt-Gate/Promptgate/internal/domain/pipeline"
)

// maxLineWindow bounds the output step's look-back buffer. Import
// declarations longer than this are passed through unexamined rather than
// buffered indefinitely.
const maxLineWindow = 4096

// CheckStep is the input-phase step: it extracts package references from the
// user's messages and records alerts for flagged or ambiguous packages. It
// never blocks the request.
type CheckStep struct {
	lookup Lookup
}

// NewCheckStep creates the input-phase package check step.
func NewCheckStep(lookup Lookup) *CheckStep {
	return &CheckStep{lookup: lookup}
}

// Name implements pipeline.InputStep.
func (s *CheckStep) Name() string { return "package-risk-check" }

// Apply looks up every distinct package reference in the request and records
// alerts. The request itself is never modified.
func (s *CheckStep) Apply(ctx context.Context, req *canon.Request, pctx *pipeline.Context) (*canon.Request, *pipeline.ShortCircuit, error) {
	seen := make(map[Ref]struct{})
	for _, msg := range req.Messages {
		for _, ref := range ExtractRefs(msg.Text()) {
			if _, dup := seen[ref]; dup {
				continue
			}
			seen[ref] = struct{}{}

			report, err := s.lookup.Classify(ctx, ref.Ecosystem, ref.Name)
			if err != nil {
				pctx.AddAlert(pipeline.SeverityInfo, pipeline.CodeRiskUnknown,
					fmt.Sprintf("risk lookup failed for %s/%s: %v", ref.Ecosystem, ref.Name, err))
				continue
			}
			switch {
			case report.Classification.Flagged():
				pctx.AddAlert(pipeline.SeverityCritical, pipeline.CodeRiskyPackage,
					fmt.Sprintf("package %s/%s is %s (%s)",
						ref.Ecosystem, ref.Name, report.Classification, report.ReportURL))
			case report.Classification == ClassUnknown:
				pctx.AddAlert(pipeline.SeverityInfo, pipeline.CodeRiskUnknown,
					fmt.Sprintf("package %s/%s could not be classified", ref.Ecosystem, ref.Name))
			}
		}
	}
	return req, nil, nil
}

// AdvisoryStep is the output-phase step: generated code importing a flagged
// package is replaced with guidance text and an advisory carrying the
// canonical report reference. Unrelated code in the same response is left
// untouched.
type AdvisoryStep struct {
	lookup Lookup
	buf    strings.Builder
	cache  map[Ref]Report
}

// NewAdvisoryStep creates a fresh output-phase advisory step. One instance
// serves exactly one response stream.
func NewAdvisoryStep(lookup Lookup) *AdvisoryStep {
	return &AdvisoryStep{lookup: lookup, cache: make(map[Ref]Report)}
}

// Name implements pipeline.OutputStep.
func (s *AdvisoryStep) Name() string { return "package-risk-advisory" }

// Window implements pipeline.OutputStep. The step buffers at most one line
// of generated code.
func (s *AdvisoryStep) Window() int { return maxLineWindow }

// ProcessChunk buffers text until a newline so import declarations split
// across chunk boundaries are seen whole, then rewrites flagged lines.
func (s *AdvisoryStep) ProcessChunk(ctx context.Context, chunk canon.Chunk, pctx *pipeline.Context) ([]canon.Chunk, error) {
	if chunk.ToolCall != nil && chunk.Delta == "" && !chunk.Done() {
		out := s.drain(ctx, pctx, chunk)
		return append(out, chunk), nil
	}

	s.buf.WriteString(chunk.Delta)

	if chunk.Done() {
		out := s.drain(ctx, pctx, chunk)
		terminal := chunk
		terminal.Delta = ""
		return append(out, terminal), nil
	}

	text := s.buf.String()
	cut := strings.LastIndexByte(text, '\n')
	if cut < 0 {
		if s.buf.Len() > maxLineWindow {
			// Oversized line: release it unexamined rather than withhold.
			s.buf.Reset()
			c := chunk
			c.Delta = text
			c.ToolCall = nil
			return []canon.Chunk{c}, nil
		}
		return nil, nil
	}

	emit := s.rewrite(ctx, pctx, text[:cut+1])
	s.buf.Reset()
	s.buf.WriteString(text[cut+1:])
	if emit == "" {
		return nil, nil
	}
	c := chunk
	c.Delta = emit
	c.ToolCall = nil
	return []canon.Chunk{c}, nil
}

// Flush implements pipeline.OutputStep.
func (s *AdvisoryStep) Flush(ctx context.Context, pctx *pipeline.Context) ([]canon.Chunk, error) {
	return s.drain(ctx, pctx, canon.Chunk{}), nil
}

func (s *AdvisoryStep) drain(ctx context.Context, pctx *pipeline.Context, tmpl canon.Chunk) []canon.Chunk {
	if s.buf.Len() == 0 {
		return nil
	}
	text := s.rewrite(ctx, pctx, s.buf.String())
	s.buf.Reset()
	if text == "" {
		return nil
	}
	return []canon.Chunk{{Delta: text, Model: tmpl.Model, Extras: tmpl.Extras}}
}

// rewrite replaces lines that import a flagged package with guidance text.
func (s *AdvisoryStep) rewrite(ctx context.Context, pctx *pipeline.Context, text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		refs := ExtractRefs(line)
		if len(refs) == 0 {
			continue
		}
		for _, ref := range refs {
			report, ok := s.classify(ctx, pctx, ref)
			if !ok || !report.Classification.Flagged() {
				continue
			}
			lines[i] = fmt.Sprintf(
				"// Promptgate removed an import of %q: the package is %s. See %s",
				ref.Name, report.Classification, report.ReportURL)
			pctx.AddAlert(pipeline.SeverityCritical, pipeline.CodeRiskyPackage,
				fmt.Sprintf("generated code imported %s/%s (%s), rewritten with advisory %s",
					ref.Ecosystem, ref.Name, report.Classification, report.ReportURL))
			break
		}
	}
	return strings.Join(lines, "\n")
}

// classify queries the risk index with a per-stream cache. Lookup failures
// surface as alerts, never as blocks.
func (s *AdvisoryStep) classify(ctx context.Context, pctx *pipeline.Context, ref Ref) (Report, bool) {
	if report, ok := s.cache[ref]; ok {
		return report, true
	}
	report, err := s.lookup.Classify(ctx, ref.Ecosystem, ref.Name)
	if err != nil {
		pctx.AddAlert(pipeline.SeverityInfo, pipeline.CodeRiskUnknown,
			fmt.Sprintf("risk lookup failed for %s/%s: %v", ref.Ecosystem, ref.Name, err))
		return Report{}, false
	}
	s.cache[ref] = report
	return report, true
}

// Compile-time checks that the steps satisfy the pipeline contracts.
var (
	_ pipeline.InputStep  = (*CheckStep)(nil)
	_ pipeline.OutputStep = (*AdvisoryStep)(nil)
)
