package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
)

// fakeInputStep is a configurable input step for engine tests.
type fakeInputStep struct {
	name  string
	apply func(req *canon.Request, pctx *Context) (*canon.Request, *ShortCircuit, error)
}

func (s *fakeInputStep) Name() string { return s.name }

func (s *fakeInputStep) Apply(ctx context.Context, req *canon.Request, pctx *Context) (*canon.Request, *ShortCircuit, error) {
	return s.apply(req, pctx)
}

// appendStep tags the last user message so ordering is observable.
func appendStep(name, tag string) InputStep {
	return &fakeInputStep{name: name, apply: func(req *canon.Request, pctx *Context) (*canon.Request, *ShortCircuit, error) {
		out := req.Clone()
		out.Messages[0] = out.Messages[0].WithText(out.Messages[0].Text() + tag)
		return out, nil, nil
	}}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRequest() *canon.Request {
	return &canon.Request{
		Model:    "gpt-4o",
		Messages: []canon.Message{canon.TextMessage(canon.RoleUser, "x")},
	}
}

func TestRunInputOrder(t *testing.T) {
	t.Parallel()

	engine := NewEngine([]InputStep{appendStep("a", "-a"), appendStep("b", "-b")}, nil, testLogger())
	pctx := NewContext("default", "s1")

	out, sc, err := engine.RunInput(context.Background(), testRequest(), pctx)
	if err != nil {
		t.Fatalf("RunInput() error = %v", err)
	}
	if sc != nil {
		t.Fatal("unexpected short circuit")
	}
	if got := out.Messages[0].Text(); got != "x-a-b" {
		t.Errorf("steps ran out of order: %q", got)
	}
}

func TestRunInputShortCircuit(t *testing.T) {
	t.Parallel()

	short := &fakeInputStep{name: "stopper", apply: func(req *canon.Request, pctx *Context) (*canon.Request, *ShortCircuit, error) {
		return nil, &ShortCircuit{Reply: "answered locally"}, nil
	}}
	after := &fakeInputStep{name: "after", apply: func(req *canon.Request, pctx *Context) (*canon.Request, *ShortCircuit, error) {
		t.Error("step after short circuit must not run")
		return req, nil, nil
	}}

	engine := NewEngine([]InputStep{short, after}, nil, testLogger())
	_, sc, err := engine.RunInput(context.Background(), testRequest(), NewContext("default", "s1"))
	if err != nil {
		t.Fatalf("RunInput() error = %v", err)
	}
	if sc == nil {
		t.Fatal("expected short circuit")
	}
	if sc.Reply != "answered locally" || sc.StepName != "stopper" {
		t.Errorf("short circuit = %+v", sc)
	}
}

func TestRunInputRecoversInternalFailure(t *testing.T) {
	t.Parallel()

	failing := &fakeInputStep{name: "broken", apply: func(req *canon.Request, pctx *Context) (*canon.Request, *ShortCircuit, error) {
		return nil, nil, errors.New("boom")
	}}

	engine := NewEngine([]InputStep{failing, appendStep("a", "-a")}, nil, testLogger())
	pctx := NewContext("default", "s1")

	out, _, err := engine.RunInput(context.Background(), testRequest(), pctx)
	if err != nil {
		t.Fatalf("internal step failure must not abort the request: %v", err)
	}
	if got := out.Messages[0].Text(); got != "x-a" {
		t.Errorf("later steps should still run: %q", got)
	}

	alerts := pctx.Alerts()
	if len(alerts) != 1 {
		t.Fatalf("got %d alerts, want 1", len(alerts))
	}
	if alerts[0].Code != CodeStepFailure {
		t.Errorf("alert code = %q, want %q", alerts[0].Code, CodeStepFailure)
	}
	if !strings.Contains(alerts[0].Message, "broken") {
		t.Errorf("alert should name the failed step: %q", alerts[0].Message)
	}
}

func TestRunInputPolicyBlockIsFatal(t *testing.T) {
	t.Parallel()

	blocking := &fakeInputStep{name: "policy", apply: func(req *canon.Request, pctx *Context) (*canon.Request, *ShortCircuit, error) {
		return nil, nil, &PolicyBlockError{StepName: "policy", Reason: "model not allowed"}
	}}

	engine := NewEngine([]InputStep{blocking}, nil, testLogger())
	_, _, err := engine.RunInput(context.Background(), testRequest(), NewContext("default", "s1"))

	var block *PolicyBlockError
	if !errors.As(err, &block) {
		t.Fatalf("expected *PolicyBlockError, got %v", err)
	}
	if block.Reason != "model not allowed" {
		t.Errorf("reason = %q", block.Reason)
	}
}

// upperStep upper-cases deltas; holdStep buffers one chunk of look-back.
type upperStep struct{}

func (upperStep) Name() string { return "upper" }
func (upperStep) Window() int  { return 0 }
func (upperStep) Flush(ctx context.Context, pctx *Context) ([]canon.Chunk, error) {
	return nil, nil
}
func (upperStep) ProcessChunk(ctx context.Context, chunk canon.Chunk, pctx *Context) ([]canon.Chunk, error) {
	chunk.Delta = strings.ToUpper(chunk.Delta)
	return []canon.Chunk{chunk}, nil
}

type holdStep struct {
	held []canon.Chunk
}

func (s *holdStep) Name() string { return "hold" }
func (s *holdStep) Window() int  { return 64 }
func (s *holdStep) ProcessChunk(ctx context.Context, chunk canon.Chunk, pctx *Context) ([]canon.Chunk, error) {
	s.held = append(s.held, chunk)
	return nil, nil
}
func (s *holdStep) Flush(ctx context.Context, pctx *Context) ([]canon.Chunk, error) {
	out := s.held
	s.held = nil
	return out, nil
}

type failingOutputStep struct{}

func (failingOutputStep) Name() string { return "flaky" }
func (failingOutputStep) Window() int  { return 0 }
func (failingOutputStep) ProcessChunk(ctx context.Context, chunk canon.Chunk, pctx *Context) ([]canon.Chunk, error) {
	return nil, errors.New("output boom")
}
func (failingOutputStep) Flush(ctx context.Context, pctx *Context) ([]canon.Chunk, error) {
	return nil, nil
}

func TestOutputStreamFlushRunsLaterSteps(t *testing.T) {
	t.Parallel()

	// Content held by the first step must still pass through the second
	// step when flushed.
	engine := NewEngine(nil, []OutputStepFactory{
		func() OutputStep { return &holdStep{} },
		func() OutputStep { return upperStep{} },
	}, testLogger())

	stream := engine.NewOutputStream(NewContext("default", "s1"))
	out, err := stream.Process(context.Background(), canon.Chunk{Delta: "held text"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("chunk should be held, got %d chunks", len(out))
	}

	flushed, err := stream.Flush(context.Background())
	if err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	var b strings.Builder
	for _, c := range flushed {
		b.WriteString(c.Delta)
	}
	if b.String() != "HELD TEXT" {
		t.Errorf("flushed text = %q, want HELD TEXT", b.String())
	}
}

func TestOutputStreamRecoversStepFailure(t *testing.T) {
	t.Parallel()

	engine := NewEngine(nil, []OutputStepFactory{
		func() OutputStep { return failingOutputStep{} },
	}, testLogger())

	pctx := NewContext("default", "s1")
	stream := engine.NewOutputStream(pctx)
	out, err := stream.Process(context.Background(), canon.Chunk{Delta: "survives"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(out) != 1 || out[0].Delta != "survives" {
		t.Errorf("chunk should pass through the failing step: %+v", out)
	}
	if len(pctx.Alerts()) != 1 {
		t.Errorf("got %d alerts, want 1", len(pctx.Alerts()))
	}
}

func TestOutputStreamWindowSums(t *testing.T) {
	t.Parallel()

	engine := NewEngine(nil, []OutputStepFactory{
		func() OutputStep { return &holdStep{} },
		func() OutputStep { return upperStep{} },
	}, testLogger())
	if got := engine.NewOutputStream(NewContext("default", "s1")).Window(); got != 64 {
		t.Errorf("Window() = %d, want 64", got)
	}
}
