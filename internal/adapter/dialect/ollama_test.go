package dialect

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
)

func TestOllamaParseRequestStreamDefault(t *testing.T) {
	t.Parallel()

	// Streaming is on by default in this dialect.
	req, err := NewOllama().ParseRequest([]byte(`{"model":"llama3","messages":[{"role":"user","content":"hi"}]}`))
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if !req.Stream {
		t.Error("stream should default to true")
	}

	req, err = NewOllama().ParseRequest([]byte(`{"model":"llama3","messages":[{"role":"user","content":"hi"}],"stream":false}`))
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if req.Stream {
		t.Error("explicit stream:false should be honored")
	}
}

func TestOllamaParseRequestPassThrough(t *testing.T) {
	t.Parallel()

	raw := []byte(`{
		"model": "llama3",
		"messages": [{"role": "user", "content": "hi"}],
		"options": {"temperature": 0.1},
		"custom_field": 42
	}`)
	req, err := NewOllama().ParseRequest(raw)
	if err != nil {
		t.Fatalf("ParseRequest() error = %v", err)
	}
	if _, ok := req.Params["options"]; !ok {
		t.Error("options should land in Params")
	}
	if _, ok := req.Extras["custom_field"]; !ok {
		t.Error("unknown field should land in Extras")
	}

	rendered, err := NewOllama().RenderRequest(req)
	if err != nil {
		t.Fatalf("RenderRequest() error = %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(rendered, &out); err != nil {
		t.Fatalf("rendered body is not JSON: %v", err)
	}
	if _, ok := out["options"]; !ok {
		t.Error("rendered body lost options")
	}
	if _, ok := out["custom_field"]; !ok {
		t.Error("rendered body lost the unknown field")
	}
}

func TestOllamaStreamDecoder(t *testing.T) {
	t.Parallel()

	stream := strings.Join([]string{
		`{"model":"llama3","message":{"role":"assistant","content":"Hel"},"done":false}`,
		`{"model":"llama3","message":{"role":"assistant","content":"lo"},"done":false}`,
		`{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"done_reason":"stop","prompt_eval_count":10,"eval_count":4}`,
		``,
	}, "\n")

	d := NewOllama().NewStreamDecoder()
	var chunks []canon.Chunk
	// Lines arrive fragmented.
	for i := 0; i < len(stream); i += 13 {
		end := i + 13
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
	if final.FinishReason != canon.FinishStop || final.Model != "llama3" {
		t.Errorf("terminal = %+v", final)
	}
	if final.Usage == nil || final.Usage.InputTokens != 10 || final.Usage.OutputTokens != 4 {
		t.Errorf("terminal usage = %+v", final.Usage)
	}
}

func TestOllamaDecoderTrailingLineWithoutNewline(t *testing.T) {
	t.Parallel()

	d := NewOllama().NewStreamDecoder()
	// The final line arrives without a trailing newline.
	if _, err := d.Feed([]byte(`{"model":"llama3","message":{"role":"assistant","content":""},"done":true,"done_reason":"length"}`)); err != nil {
		t.Fatalf("Feed() error = %v", err)
	}
	chunks, err := d.Finish()
	if err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if len(chunks) != 1 || chunks[0].FinishReason != canon.FinishLength {
		t.Errorf("Finish() = %+v", chunks)
	}
}

func TestOllamaStreamEncoder(t *testing.T) {
	t.Parallel()

	e := NewOllama().NewStreamEncoder("llama3")
	line, err := e.Encode(canon.Chunk{Delta: "hello"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if !strings.HasSuffix(string(line), "\n") {
		t.Errorf("line not newline-terminated: %q", line)
	}
	var body ollamaLine
	if err := json.Unmarshal(line, &body); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if body.Done || body.Message.Content != "hello" || body.Model != "llama3" {
		t.Errorf("line = %+v", body)
	}

	terminal, err := e.Encode(canon.Chunk{
		FinishReason: canon.FinishStop,
		Usage:        &canon.Usage{InputTokens: 10, OutputTokens: 4},
	})
	if err != nil {
		t.Fatalf("Encode(terminal) error = %v", err)
	}
	if err := json.Unmarshal(terminal, &body); err != nil {
		t.Fatalf("terminal is not JSON: %v", err)
	}
	if !body.Done || body.DoneReason != "stop" || body.PromptEvalCount != 10 || body.EvalCount != 4 {
		t.Errorf("terminal = %+v", body)
	}

	if extra, err := e.Encode(canon.Chunk{Delta: "late"}); err != nil || extra != nil {
		t.Errorf("post-terminal Encode() = %q, %v", extra, err)
	}
}

func TestOllamaResponseRoundTrip(t *testing.T) {
	t.Parallel()

	a := NewOllama()
	raw, err := a.RenderResponse("llama3", "done", canon.FinishStop, &canon.Usage{InputTokens: 2, OutputTokens: 3})
	if err != nil {
		t.Fatalf("RenderResponse() error = %v", err)
	}
	c, err := a.ParseResponse(raw)
	if err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	if c.Delta != "done" || c.FinishReason != canon.FinishStop || c.Model != "llama3" {
		t.Errorf("parsed chunk = %+v", c)
	}
	if c.Usage == nil || c.Usage.OutputTokens != 3 {
		t.Errorf("parsed usage = %+v", c.Usage)
	}
}
