package dialect

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
)

// ollamaParamKeys are the tuning fields carried in Params.
var ollamaParamKeys = map[string]struct{}{
	"options":    {},
	"format":     {},
	"keep_alive": {},
}

// Ollama implements the ollama chat dialect: newline-delimited JSON
// streaming where the final object carries "done": true.
type Ollama struct{}

// NewOllama creates the ollama dialect adapter.
func NewOllama() *Ollama { return &Ollama{} }

// Type implements Adapter.
func (*Ollama) Type() mux.ProviderType { return mux.ProviderOllama }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ParseRequest implements Adapter. Streaming defaults to on in this dialect
// when the field is absent.
func (a *Ollama) ParseRequest(raw []byte) (*canon.Request, error) {
	var body struct {
		Model    string          `json:"model"`
		Messages []ollamaMessage `json:"messages"`
		Stream   *bool           `json:"stream"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &ProtocolError{Dialect: a.Type(), Reason: "invalid request body", Err: err}
	}
	if body.Model == "" {
		return nil, &ProtocolError{Dialect: a.Type(), Reason: "model is required"}
	}
	if len(body.Messages) == 0 {
		return nil, &ProtocolError{Dialect: a.Type(), Reason: "messages is required"}
	}

	req := &canon.Request{Model: body.Model, Stream: true}
	if body.Stream != nil {
		req.Stream = *body.Stream
	}
	for _, m := range body.Messages {
		req.Messages = append(req.Messages, canon.TextMessage(canon.Role(m.Role), m.Content))
	}

	var all map[string]any
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, &ProtocolError{Dialect: a.Type(), Reason: "invalid request body", Err: err}
	}
	for k, v := range all {
		switch k {
		case "model", "messages", "stream":
			continue
		}
		if _, ok := ollamaParamKeys[k]; ok {
			if req.Params == nil {
				req.Params = make(map[string]any)
			}
			req.Params[k] = v
		} else {
			if req.Extras == nil {
				req.Extras = make(map[string]any)
			}
			req.Extras[k] = v
		}
	}
	return req, nil
}

// RenderRequest implements Adapter.
func (a *Ollama) RenderRequest(req *canon.Request) ([]byte, error) {
	out := make(map[string]any)
	for k, v := range req.Extras {
		out[k] = v
	}
	for k, v := range req.Params {
		out[k] = v
	}
	out["model"] = req.Model
	out["stream"] = req.Stream

	msgs := make([]ollamaMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, ollamaMessage{Role: m.Role.String(), Content: m.Text()})
	}
	out["messages"] = msgs
	return json.Marshal(out)
}

// ollamaFinish maps a done_reason to the canonical finish reason.
func ollamaFinish(reason string) canon.FinishReason {
	switch reason {
	case "length":
		return canon.FinishLength
	default:
		return canon.FinishStop
	}
}

type ollamaLine struct {
	Model   string        `json:"model"`
	Message ollamaMessage `json:"message"`
	Done    bool          `json:"done"`
	// Final-line fields.
	DoneReason      string `json:"done_reason"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

type ollamaStreamDecoder struct {
	adapter *Ollama
	buf     bytes.Buffer
	done    bool
}

// NewStreamDecoder implements Adapter.
func (a *Ollama) NewStreamDecoder() StreamDecoder {
	return &ollamaStreamDecoder{adapter: a}
}

func (d *ollamaStreamDecoder) Feed(p []byte) ([]canon.Chunk, error) {
	if d.done {
		return nil, nil
	}
	d.buf.Write(p)
	var out []canon.Chunk
	for {
		data := d.buf.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			return out, nil
		}
		line := bytes.TrimSpace(data[:idx])
		d.buf.Next(idx + 1)
		if len(line) == 0 {
			continue
		}
		var body ollamaLine
		if err := json.Unmarshal(line, &body); err != nil {
			return nil, &ProtocolError{Dialect: d.adapter.Type(), Reason: "invalid stream line", Err: err}
		}
		if body.Done {
			d.done = true
			c := canon.Chunk{
				Delta:        body.Message.Content,
				FinishReason: ollamaFinish(body.DoneReason),
				Model:        body.Model,
			}
			if body.PromptEvalCount > 0 || body.EvalCount > 0 {
				c.Usage = &canon.Usage{InputTokens: body.PromptEvalCount, OutputTokens: body.EvalCount}
			}
			out = append(out, c)
			return out, nil
		}
		if body.Message.Content != "" {
			out = append(out, canon.Chunk{Delta: body.Message.Content, Model: body.Model})
		}
	}
}

func (d *ollamaStreamDecoder) Finish() ([]canon.Chunk, error) {
	if d.done {
		return nil, nil
	}
	d.done = true
	var out []canon.Chunk
	// A trailing line without a newline is still a frame at end of stream.
	if line := bytes.TrimSpace(d.buf.Bytes()); len(line) > 0 {
		var body ollamaLine
		if err := json.Unmarshal(line, &body); err == nil {
			if body.Done {
				c := canon.Chunk{
					Delta:        body.Message.Content,
					FinishReason: ollamaFinish(body.DoneReason),
					Model:        body.Model,
				}
				if body.PromptEvalCount > 0 || body.EvalCount > 0 {
					c.Usage = &canon.Usage{InputTokens: body.PromptEvalCount, OutputTokens: body.EvalCount}
				}
				return append(out, c), nil
			}
			if body.Message.Content != "" {
				out = append(out, canon.Chunk{Delta: body.Message.Content, Model: body.Model})
			}
		}
	}
	return append(out, canon.Chunk{FinishReason: canon.FinishStop}), nil
}

type ollamaStreamEncoder struct {
	model string
	done  bool
}

// NewStreamEncoder implements Adapter.
func (a *Ollama) NewStreamEncoder(model string) StreamEncoder {
	return &ollamaStreamEncoder{model: model}
}

func (e *ollamaStreamEncoder) line(content string, done bool, reason string, usage *canon.Usage) []byte {
	body := map[string]any{
		"model":      e.model,
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
		"message":    ollamaMessage{Role: "assistant", Content: content},
		"done":       done,
	}
	if done {
		body["done_reason"] = reason
		if usage != nil {
			body["prompt_eval_count"] = usage.InputTokens
			body["eval_count"] = usage.OutputTokens
		}
	}
	raw, _ := json.Marshal(body)
	return append(raw, '\n')
}

func (e *ollamaStreamEncoder) Encode(c canon.Chunk) ([]byte, error) {
	if e.done {
		return nil, nil
	}
	if c.Done() {
		e.done = true
		reason := "stop"
		if c.FinishReason == canon.FinishLength {
			reason = "length"
		}
		return e.line(c.Delta, true, reason, c.Usage), nil
	}
	if c.Delta == "" {
		return nil, nil
	}
	return e.line(c.Delta, false, "", nil), nil
}

func (e *ollamaStreamEncoder) EncodeError(message string) []byte {
	if e.done {
		return nil
	}
	e.done = true
	raw, _ := json.Marshal(map[string]any{"error": message})
	return append(raw, '\n')
}

// RenderResponse implements Adapter.
func (a *Ollama) RenderResponse(model, text string, finish canon.FinishReason, usage *canon.Usage) ([]byte, error) {
	body := map[string]any{
		"model":      model,
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
		"message":    ollamaMessage{Role: "assistant", Content: text},
		"done":       true,
		"done_reason": func() string {
			if finish == canon.FinishLength {
				return "length"
			}
			return "stop"
		}(),
	}
	if usage != nil {
		body["prompt_eval_count"] = usage.InputTokens
		body["eval_count"] = usage.OutputTokens
	}
	return json.Marshal(body)
}

// ParseResponse implements Adapter.
func (a *Ollama) ParseResponse(raw []byte) (canon.Chunk, error) {
	var body ollamaLine
	if err := json.Unmarshal(raw, &body); err != nil {
		return canon.Chunk{}, &ProtocolError{Dialect: a.Type(), Reason: "invalid response body", Err: err}
	}
	c := canon.Chunk{
		Delta:        body.Message.Content,
		FinishReason: ollamaFinish(body.DoneReason),
		Model:        body.Model,
	}
	if body.PromptEvalCount > 0 || body.EvalCount > 0 {
		c.Usage = &canon.Usage{InputTokens: body.PromptEvalCount, OutputTokens: body.EvalCount}
	}
	return c, nil
}

// Compile-time check.
var _ Adapter = (*Ollama)(nil)
