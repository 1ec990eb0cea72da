package dialect

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
)

// openaiParamKeys are the sampling parameters the openai dialect carries in
// the canonical Params bag. Anything else unknown lands in Extras.
var openaiParamKeys = map[string]struct{}{
	"temperature":           {},
	"top_p":                 {},
	"max_tokens":            {},
	"max_completion_tokens": {},
	"stop":                  {},
	"presence_penalty":      {},
	"frequency_penalty":     {},
	"seed":                  {},
	"n":                     {},
	"logprobs":              {},
	"top_logprobs":          {},
	"response_format":       {},
	"user":                  {},
	"stream_options":        {},
}

// OpenAI implements the openai chat-completions dialect: JSON request
// bodies and "data: {json}\n\n" SSE streaming terminated by "data: [DONE]".
type OpenAI struct{}

// NewOpenAI creates the openai dialect adapter.
func NewOpenAI() *OpenAI { return &OpenAI{} }

// Type implements Adapter.
func (*OpenAI) Type() mux.ProviderType { return mux.ProviderOpenAI }

type oaiToolCall struct {
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type oaiMessage struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []oaiToolCall   `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

type oaiTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string          `json:"name"`
		Description string          `json:"description,omitempty"`
		Parameters  json.RawMessage `json:"parameters,omitempty"`
	} `json:"function"`
}

type oaiRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
	Stream   bool         `json:"stream,omitempty"`
	Tools    []oaiTool    `json:"tools,omitempty"`
}

// oaiContentText flattens a message content field: either a JSON string or
// an array of typed parts where text parts carry {"type":"text","text":...}.
func oaiContentText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return "", fmt.Errorf("content is neither string nor part array")
	}
	var out string
	for _, p := range parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out, nil
}

// ParseRequest implements Adapter.
func (a *OpenAI) ParseRequest(raw []byte) (*canon.Request, error) {
	var body oaiRequest
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &ProtocolError{Dialect: a.Type(), Reason: "invalid request body", Err: err}
	}
	if body.Model == "" {
		return nil, &ProtocolError{Dialect: a.Type(), Reason: "model is required"}
	}
	if len(body.Messages) == 0 {
		return nil, &ProtocolError{Dialect: a.Type(), Reason: "messages is required"}
	}

	req := &canon.Request{Model: body.Model, Stream: body.Stream}
	for i, m := range body.Messages {
		text, err := oaiContentText(m.Content)
		if err != nil {
			return nil, &ProtocolError{Dialect: a.Type(), Reason: fmt.Sprintf("message %d: %v", i, err)}
		}
		msg := canon.Message{Role: canon.Role(m.Role), ToolCallID: m.ToolCallID}
		if text != "" || len(m.ToolCalls) == 0 {
			msg.Parts = append(msg.Parts, canon.Part{Text: text})
		}
		for _, tc := range m.ToolCalls {
			msg.Parts = append(msg.Parts, canon.Part{ToolCall: &canon.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}})
		}
		req.Messages = append(req.Messages, msg)
	}
	for _, t := range body.Tools {
		req.Tools = append(req.Tools, canon.ToolDefinition{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Schema:      append([]byte(nil), t.Function.Parameters...),
		})
	}

	var all map[string]any
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, &ProtocolError{Dialect: a.Type(), Reason: "invalid request body", Err: err}
	}
	for k, v := range all {
		switch k {
		case "model", "messages", "stream", "tools":
			continue
		}
		if _, ok := openaiParamKeys[k]; ok {
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
func (a *OpenAI) RenderRequest(req *canon.Request) ([]byte, error) {
	out := make(map[string]any)
	for k, v := range req.Extras {
		out[k] = v
	}
	for k, v := range req.Params {
		out[k] = v
	}
	out["model"] = req.Model
	if req.Stream {
		out["stream"] = true
	} else {
		delete(out, "stream")
	}

	msgs := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		jm := map[string]any{"role": m.Role.String()}
		if text := m.Text(); text != "" || m.Role != canon.RoleAssistant {
			jm["content"] = text
		}
		if m.ToolCallID != "" {
			jm["tool_call_id"] = m.ToolCallID
		}
		var calls []oaiToolCall
		for _, p := range m.Parts {
			if p.ToolCall == nil {
				continue
			}
			tc := oaiToolCall{ID: p.ToolCall.ID, Type: "function"}
			tc.Function.Name = p.ToolCall.Name
			tc.Function.Arguments = p.ToolCall.Arguments
			calls = append(calls, tc)
		}
		if len(calls) > 0 {
			jm["tool_calls"] = calls
		}
		msgs = append(msgs, jm)
	}
	out["messages"] = msgs

	if len(req.Tools) > 0 {
		tools := make([]oaiTool, 0, len(req.Tools))
		for _, t := range req.Tools {
			jt := oaiTool{Type: "function"}
			jt.Function.Name = t.Name
			jt.Function.Description = t.Description
			jt.Function.Parameters = json.RawMessage(t.Schema)
			tools = append(tools, jt)
		}
		out["tools"] = tools
	}
	return json.Marshal(out)
}

type oaiChunkBody struct {
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type oaiStreamDecoder struct {
	adapter *OpenAI
	split   sseSplitter
	// final is held back until the [DONE] sentinel so a trailing usage
	// frame can still be merged into it.
	final *canon.Chunk
	done  bool
}

// NewStreamDecoder implements Adapter.
func (a *OpenAI) NewStreamDecoder() StreamDecoder {
	return &oaiStreamDecoder{adapter: a}
}

func (d *oaiStreamDecoder) Feed(p []byte) ([]canon.Chunk, error) {
	if d.done {
		return nil, nil
	}
	var out []canon.Chunk
	for _, frame := range d.split.feed(p) {
		data := sseDataLine(frame)
		if data == nil {
			continue
		}
		if string(data) == "[DONE]" {
			out = append(out, d.terminal())
			d.done = true
			return out, nil
		}
		var body oaiChunkBody
		if err := json.Unmarshal(data, &body); err != nil {
			return nil, &ProtocolError{Dialect: d.adapter.Type(), Reason: "invalid stream chunk", Err: err}
		}
		usage := chunkUsage(body)
		if len(body.Choices) == 0 {
			if usage != nil && d.final != nil {
				d.final.Usage = usage
			}
			continue
		}
		choice := body.Choices[0]
		if choice.FinishReason != nil && *choice.FinishReason != "" {
			d.final = &canon.Chunk{
				FinishReason: canon.FinishReason(*choice.FinishReason),
				Model:        body.Model,
				Usage:        usage,
			}
			continue
		}
		c := canon.Chunk{Delta: choice.Delta.Content, Model: body.Model, Usage: usage}
		for _, tc := range choice.Delta.ToolCalls {
			c.ToolCall = &canon.ToolCallDelta{
				Index:     tc.Index,
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}
			break
		}
		out = append(out, c)
	}
	return out, nil
}

func (d *oaiStreamDecoder) Finish() ([]canon.Chunk, error) {
	if d.done {
		return nil, nil
	}
	d.done = true
	return []canon.Chunk{d.terminal()}, nil
}

// terminal returns the held-back terminal chunk, synthesizing one when the
// upstream never sent a finish_reason.
func (d *oaiStreamDecoder) terminal() canon.Chunk {
	if d.final != nil {
		return *d.final
	}
	return canon.Chunk{FinishReason: canon.FinishStop}
}

func chunkUsage(body oaiChunkBody) *canon.Usage {
	if body.Usage == nil {
		return nil
	}
	return &canon.Usage{
		InputTokens:  body.Usage.PromptTokens,
		OutputTokens: body.Usage.CompletionTokens,
	}
}

type oaiStreamEncoder struct {
	id      string
	model   string
	created int64
	done    bool
}

// NewStreamEncoder implements Adapter.
func (a *OpenAI) NewStreamEncoder(model string) StreamEncoder {
	return &oaiStreamEncoder{
		id:      "chatcmpl-" + uuid.NewString(),
		model:   model,
		created: time.Now().Unix(),
	}
}

func (e *oaiStreamEncoder) frame(delta map[string]any, finish *string, usage *canon.Usage) []byte {
	choice := map[string]any{"index": 0, "delta": delta, "finish_reason": finish}
	body := map[string]any{
		"id":      e.id,
		"object":  "chat.completion.chunk",
		"created": e.created,
		"model":   e.model,
		"choices": []any{choice},
	}
	if usage != nil {
		body["usage"] = map[string]any{
			"prompt_tokens":     usage.InputTokens,
			"completion_tokens": usage.OutputTokens,
			"total_tokens":      usage.InputTokens + usage.OutputTokens,
		}
	}
	raw, _ := json.Marshal(body)
	return append(append([]byte("data: "), raw...), '\n', '\n')
}

func (e *oaiStreamEncoder) Encode(c canon.Chunk) ([]byte, error) {
	if e.done {
		return nil, nil
	}
	if c.Done() {
		e.done = true
		finish := string(c.FinishReason)
		var out []byte
		if c.Delta != "" {
			out = append(out, e.frame(map[string]any{"content": c.Delta}, nil, nil)...)
		}
		out = append(out, e.frame(map[string]any{}, &finish, c.Usage)...)
		out = append(out, []byte("data: [DONE]\n\n")...)
		return out, nil
	}
	delta := make(map[string]any)
	if c.Delta != "" {
		delta["content"] = c.Delta
	}
	if c.ToolCall != nil {
		call := map[string]any{
			"index":    c.ToolCall.Index,
			"function": map[string]any{"name": c.ToolCall.Name, "arguments": c.ToolCall.Arguments},
		}
		if c.ToolCall.ID != "" {
			call["id"] = c.ToolCall.ID
			call["type"] = "function"
		}
		delta["tool_calls"] = []any{call}
	}
	if len(delta) == 0 {
		return nil, nil
	}
	return e.frame(delta, nil, c.Usage), nil
}

func (e *oaiStreamEncoder) EncodeError(message string) []byte {
	if e.done {
		return nil
	}
	e.done = true
	raw, _ := json.Marshal(map[string]any{
		"error": map[string]any{"message": message, "type": "upstream_error"},
	})
	out := append(append([]byte("data: "), raw...), '\n', '\n')
	return append(out, []byte("data: [DONE]\n\n")...)
}

// RenderResponse implements Adapter.
func (a *OpenAI) RenderResponse(model, text string, finish canon.FinishReason, usage *canon.Usage) ([]byte, error) {
	if finish == "" {
		finish = canon.FinishStop
	}
	body := map[string]any{
		"id":      "chatcmpl-" + uuid.NewString(),
		"object":  "chat.completion",
		"created": time.Now().Unix(),
		"model":   model,
		"choices": []any{map[string]any{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": text},
			"finish_reason": string(finish),
		}},
	}
	if usage != nil {
		body["usage"] = map[string]any{
			"prompt_tokens":     usage.InputTokens,
			"completion_tokens": usage.OutputTokens,
			"total_tokens":      usage.InputTokens + usage.OutputTokens,
		}
	}
	return json.Marshal(body)
}

// ParseResponse implements Adapter.
func (a *OpenAI) ParseResponse(raw []byte) (canon.Chunk, error) {
	var body struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage *struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return canon.Chunk{}, &ProtocolError{Dialect: a.Type(), Reason: "invalid response body", Err: err}
	}
	if len(body.Choices) == 0 {
		return canon.Chunk{}, &ProtocolError{Dialect: a.Type(), Reason: "response has no choices"}
	}
	c := canon.Chunk{
		Delta:        body.Choices[0].Message.Content,
		FinishReason: canon.FinishReason(body.Choices[0].FinishReason),
		Model:        body.Model,
	}
	if c.FinishReason == "" {
		c.FinishReason = canon.FinishStop
	}
	if body.Usage != nil {
		c.Usage = &canon.Usage{InputTokens: body.Usage.PromptTokens, OutputTokens: body.Usage.CompletionTokens}
	}
	return c, nil
}

// Compile-time check.
var _ Adapter = (*OpenAI)(nil)
