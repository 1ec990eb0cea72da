package dialect

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
)

func TestOpenAIParseRequestPassThrough(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "system", "content": "be terse"},
			{"role": "user", "content": "hello"}
		],
		"stream": true,
		"temperature": 0.2,
		"x_experimental_flag": {"nested": true}
	}`)
	req, err := NewOpenAI().ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if req.Model != "gpt-4o" || !req.Stream {
		t.Errorf("req = %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != canon.RoleSystem || req.Messages[1].Text() != "hello" {
		t.Errorf("messages = %+v", req.Messages)
	}
	if _, ok := req.Params["temperature"]; !ok {
		t.Error("temperature should land in Params")
	}
	// Unknown fields ride along untouched.
	if _, ok := req.Extras["x_experimental_flag"]; !ok {
		t.Error("unknown field should land in Extras")
	}

	rendered, err := NewOpenAI().RenderRequest(req)
	if err != nil {
		t.Fatalf("RenderRequest() error = %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(rendered, &out); err != nil {
		t.Fatalf("rendered body is not JSON: %v", err)
	}
	if _, ok := out["temperature"]; !ok {
		t.Error("rendered body lost temperature")
	}
	if _, ok := out["x_experimental_flag"]; !ok {
		t.Error("rendered body lost the unknown field")
	}
}

func TestOpenAIParseRequestContentParts(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"model": "gpt-4o",
		"messages": [
			{"role": "user", "content": [
				{"type": "text", "text": "part one "},
				{"type": "text", "text": "part two"}
			]}
		]
	}`)
	req, err := NewOpenAI().ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if got := req.Messages[0].Text(); got != "part one part two" {
		t.Errorf("flattened content = %q", got)
	}
}

func TestOpenAIParseRequestErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{name: "invalid json", raw: `{not json`},
		{name: "missing model", raw: `{"messages": [{"role": "user", "content": "x"}]}`},
		{name: "missing messages", raw: `{"model": "gpt-4o"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := NewOpenAI().ParseRequest([]byte(tt.raw))
			var perr *ProtocolError
			if !errors.As(err, &perr) {
				t.Errorf("ParseRequest() error = %v, want *ProtocolError", err)
			}
		})
	}
}

func TestOpenAIStreamDecoder(t *testing.T) {
	t.Parallel()

	stream := strings.Join([]string{
		`data: {"model":"gpt-4o","choices":[{"delta":{"content":"Hel"}}]}`,
		"",
		`data: {"model":"gpt-4o","choices":[{"delta":{"content":"lo"}}]}`,
		"",
		`data: {"model":"gpt-4o","choices":[{"delta":{},"finish_reason":"stop"}]}`,
		"",
		`data: {"model":"gpt-4o","choices":[],"usage":{"prompt_tokens":12,"completion_tokens":5}}`,
		"",
		`data: [DONE]`,
		"",
		"",
	}, "\n")

	d := NewOpenAI().NewStreamDecoder()
	var chunks []canon.Chunk
	// Fragmented transport reads.
	for i := 0; i < len(stream); i += 7 {
		end := i + 7
		if end > len(stream) {
			end = len(stream)
		}
		out, err := d.Feed([]byte(stream[i:end]))
		if err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
		chunks = append(chunks, out...)
	}

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3: %+v", len(chunks), chunks)
	}
	if chunks[0].Delta != "Hel" || chunks[1].Delta != "lo" {
		t.Errorf("deltas = %q, %q", chunks[0].Delta, chunks[1].Delta)
	}
	final := chunks[2]
	if !final.Done() || final.FinishReason != canon.FinishStop {
		t.Fatalf("terminal chunk = %+v", final)
	}
	// The trailing usage frame merges into the held-back terminal.
	if final.Usage == nil || final.Usage.InputTokens != 12 || final.Usage.OutputTokens != 5 {
		t.Errorf("terminal usage = %+v", final.Usage)
	}

	// Bytes after [DONE] are ignored.
	if out, err := d.Feed([]byte("data: junk\n\n")); err != nil || len(out) != 0 {
		t.Errorf("post-DONE Feed() = %v, %v", out, err)
	}
}

func TestOpenAIDecoderSynthesizesTerminal(t *testing.T) {
	t.Parallel()

	d := NewOpenAI().NewStreamDecoder()
	if _, err := d.Feed([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")); err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	chunks, err := d.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if len(chunks) != 1 || chunks[0].FinishReason != canon.FinishStop {
		t.Errorf("Finish() = %+v, want synthesized stop", chunks)
	}
}

func TestOpenAIStreamEncoder(t *testing.T) {
	t.Parallel()

	e := NewOpenAI().NewStreamEncoder("gpt-4o")
	frame, err := e.Encode(canon.Chunk{Delta: "hello"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.HasPrefix(string(frame), "data: ") || !strings.HasSuffix(string(frame), "\n\n") {
		t.Errorf("frame framing wrong: %q", frame)
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(string(frame), "data: "))), &body); err != nil {
		t.Fatalf("frame payload is not JSON: %v", err)
	}
	if body["model"] != "gpt-4o" || body["object"] != "chat.completion.chunk" {
		t.Errorf("frame body = %+v", body)
	}

	terminal, err := e.Encode(canon.Chunk{
		FinishReason: canon.FinishStop,
		Usage:        &canon.Usage{InputTokens: 3, OutputTokens: 2},
	})
	if err != nil {
		t.Fatalf("Encode(terminal) error = %v", err)
	}
	if !strings.Contains(string(terminal), `"finish_reason":"stop"`) {
		t.Errorf("terminal missing finish_reason: %q", terminal)
	}
	if !strings.HasSuffix(string(terminal), "data: [DONE]\n\n") {
		t.Errorf("terminal missing [DONE] sentinel: %q", terminal)
	}

	// Nothing after the sentinel.
	if extra, err := e.Encode(canon.Chunk{Delta: "late"}); err != nil || len(extra) != 0 {
		t.Errorf("post-terminal Encode() = %q, %v", extra, err)
	}
}

func TestOpenAIResponseRoundTrip(t *testing.T) {
	t.Parallel()

	a := NewOpenAI()
	raw, err := a.RenderResponse("gpt-4o", "all done", canon.FinishStop, &canon.Usage{InputTokens: 8, OutputTokens: 4})
	if err != nil {
		t.Fatalf("RenderResponse() error = %v", err)
	}
	c, err := a.ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	if c.Delta != "all done" || c.FinishReason != canon.FinishStop {
		t.Errorf("parsed chunk = %+v", c)
	}
	if c.Usage == nil || c.Usage.InputTokens != 8 || c.Usage.OutputTokens != 4 {
		t.Errorf("parsed usage = %+v", c.Usage)
	}
}
