package dialect

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
)

func TestAnthropicParseRequest(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"model": "claude-sonnet",
		"system": "be helpful",
		"messages": [
			{"role": "user", "content": "hello"},
			{"role": "assistant", "content": [{"type": "text", "text": "hi there"}]}
		],
		"max_tokens": 1024,
		"anthropic_beta_header": "tools-2024"
	}`)
	req, err := NewAnthropic().ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if req.Model != "claude-sonnet" {
		t.Errorf("model = %q", req.Model)
	}
	// The top-level system field becomes the leading system message.
	if len(req.Messages) != 3 || req.Messages[0].Role != canon.RoleSystem || req.Messages[0].Text() != "be helpful" {
		t.Fatalf("messages = %+v", req.Messages)
	}
	if req.Messages[2].Text() != "hi there" {
		t.Errorf("block content = %q", req.Messages[2].Text())
	}
	if _, ok := req.Params["max_tokens"]; !ok {
		t.Error("max_tokens should land in Params")
	}
	if _, ok := req.Extras["anthropic_beta_header"]; !ok {
		t.Error("unknown field should land in Extras")
	}
}

func TestAnthropicRenderRequestDefaults(t *testing.T) {
	t.Parallel()

	req := &canon.Request{
		Model: "claude-sonnet",
		Messages: []canon.Message{
			canon.TextMessage(canon.RoleSystem, "be terse"),
			canon.TextMessage(canon.RoleUser, "hello"),
		},
	}
	raw, err := NewAnthropic().RenderRequest(req)
	if err != nil {
		t.Fatalf("RenderRequest() error = %v", err)
	}
	var out struct {
		System    string `json:"system"`
		MaxTokens int    `json:"max_tokens"`
		Messages  []struct {
			Role string `json:"role"`
		} `json:"messages"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("rendered body is not JSON: %v", err)
	}
	if out.System != "be terse" {
		t.Errorf("system = %q", out.System)
	}
	// max_tokens is mandatory on this wire; a default is filled in.
	if out.MaxTokens == 0 {
		t.Error("max_tokens default missing")
	}
	if len(out.Messages) != 1 || out.Messages[0].Role != "user" {
		t.Errorf("messages = %+v", out.Messages)
	}
}

func TestAnthropicStreamDecoder(t *testing.T) {
	t.Parallel()

	events := []string{
		`event: message_start` + "\n" + `data: {"type":"message_start","message":{"model":"claude-sonnet","usage":{"input_tokens":7}}}`,
		`event: content_block_start` + "\n" + `data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`,
		`event: content_block_delta` + "\n" + `data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Hi"}}`,
		`event: content_block_delta` + "\n" + `data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" there"}}`,
		`event: content_block_stop` + "\n" + `data: {"type":"content_block_stop","index":0}`,
		`event: message_delta` + "\n" + `data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":3}}`,
		`event: message_stop` + "\n" + `data: {"type":"message_stop"}`,
	}

	d := NewAnthropic().NewStreamDecoder()
	var chunks []canon.Chunk
	for _, ev := range events {
		out, err := d.Feed([]byte(ev + "\n\n"))
		if err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
		chunks = append(chunks, out...)
	}

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3: %+v", len(chunks), chunks)
	}
	if chunks[0].Delta != "Hi" || chunks[1].Delta != " there" {
		t.Errorf("deltas = %q, %q", chunks[0].Delta, chunks[1].Delta)
	}
	final := chunks[2]
	if final.FinishReason != canon.FinishStop || final.Model != "claude-sonnet" {
		t.Errorf("terminal = %+v", final)
	}
	if final.Usage == nil || final.Usage.InputTokens != 7 || final.Usage.OutputTokens != 3 {
		t.Errorf("terminal usage = %+v", final.Usage)
	}
}

func TestAnthropicStreamDecoderToolUse(t *testing.T) {
	t.Parallel()

	events := []string{
		`data: {"type":"message_start","message":{"model":"claude-sonnet","usage":{"input_tokens":1}}}`,
		`data: {"type":"content_block_start","index":0,"content_block":{"type":"tool_use","id":"toolu_1","name":"read_file"}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"{\"path\":"}}`,
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"input_json_delta","partial_json":"\"a.go\"}"}}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"output_tokens":2}}`,
		`data: {"type":"message_stop"}`,
	}

	d := NewAnthropic().NewStreamDecoder()
	var chunks []canon.Chunk
	for _, ev := range events {
		out, err := d.Feed([]byte(ev + "\n\n"))
		if err != nil {
			t.Fatalf("Feed() error = %v", err)
		}
		chunks = append(chunks, out...)
	}

	if len(chunks) != 4 {
		t.Fatalf("got %d chunks: %+v", len(chunks), chunks)
	}
	if chunks[0].ToolCall == nil || chunks[0].ToolCall.ID != "toolu_1" || chunks[0].ToolCall.Name != "read_file" {
		t.Errorf("tool start chunk = %+v", chunks[0])
	}
	args := chunks[1].ToolCall.Arguments + chunks[2].ToolCall.Arguments
	if args != `{"path":"a.go"}` {
		t.Errorf("reassembled arguments = %q", args)
	}
	if chunks[3].FinishReason != canon.FinishToolCalls {
		t.Errorf("terminal finish = %s", chunks[3].FinishReason)
	}
}

// The encoder must produce the full event ladder clients expect.
func TestAnthropicStreamEncoderEventSequence(t *testing.T) {
	t.Parallel()

	e := NewAnthropic().NewStreamEncoder("claude-sonnet")
	var wire []byte
	for _, c := range []canon.Chunk{
		{Delta: "Hi"},
		{Delta: " there"},
		{FinishReason: canon.FinishStop, Usage: &canon.Usage{OutputTokens: 3}},
	} {
		out, err := e.Encode(c)
		if err != nil {
			t.Fatalf("Encode() error = %v", err)
		}
		wire = append(wire, out...)
	}

	var events []string
	var split sseSplitter
	for _, frame := range split.feed(wire) {
		events = append(events, sseEventName(frame))
	}
	want := []string{
		"message_start",
		"content_block_start",
		"content_block_delta",
		"content_block_delta",
		"content_block_stop",
		"message_delta",
		"message_stop",
	}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, events[i], want[i])
		}
	}
}

func TestAnthropicEncodeError(t *testing.T) {
	t.Parallel()

	e := NewAnthropic().NewStreamEncoder("claude-sonnet")
	out := e.EncodeError("upstream unreachable")
	if !strings.Contains(string(out), "event: error") || !strings.Contains(string(out), "upstream unreachable") {
		t.Errorf("error frame = %q", out)
	}
	if extra := e.EncodeError("again"); extra != nil {
		t.Error("second EncodeError should emit nothing")
	}
}

func TestAnthropicResponseRoundTrip(t *testing.T) {
	t.Parallel()

	a := NewAnthropic()
	raw, err := a.RenderResponse("claude-sonnet", "done", canon.FinishLength, &canon.Usage{InputTokens: 5, OutputTokens: 9})
	if err != nil {
		t.Fatalf("RenderResponse() error = %v", err)
	}
	c, err := a.ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	if c.Delta != "done" || c.FinishReason != canon.FinishLength {
		t.Errorf("parsed chunk = %+v", c)
	}
	if c.Usage == nil || c.Usage.OutputTokens != 9 {
		t.Errorf("parsed usage = %+v", c.Usage)
	}
}
