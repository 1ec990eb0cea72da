package dialect

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
)

// anthropicParamKeys are the sampling parameters carried in Params.
var anthropicParamKeys = map[string]struct{}{
	"max_tokens":     {},
	"temperature":    {},
	"top_p":          {},
	"top_k":          {},
	"stop_sequences": {},
	"metadata":       {},
}

// Anthropic implements the anthropic messages dialect: a top-level system
// field, content-block messages, and event-typed SSE framing
// ("event: <type>\ndata: {json}\n\n") from message_start to message_stop.
type Anthropic struct{}

// NewAnthropic creates the anthropic dialect adapter.
func NewAnthropic() *Anthropic { return &Anthropic{} }

// Type implements Adapter.
func (*Anthropic) Type() mux.ProviderType { return mux.ProviderAnthropic }

type antBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	// tool_use fields.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
	// tool_result fields.
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

type antMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type antTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

type antRequest struct {
	Model    string          `json:"model"`
	System   json.RawMessage `json:"system,omitempty"`
	Messages []antMessage    `json:"messages"`
	Stream   bool            `json:"stream,omitempty"`
	Tools    []antTool       `json:"tools,omitempty"`
}

// antBlocks decodes a content field that is either a plain string or an
// array of typed blocks.
func antBlocks(raw json.RawMessage) ([]antBlock, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []antBlock{{Type: "text", Text: s}}, nil
	}
	var blocks []antBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, fmt.Errorf("content is neither string nor block array")
	}
	return blocks, nil
}

// ParseRequest implements Adapter.
func (a *Anthropic) ParseRequest(raw []byte) (*canon.Request, error) {
	var body antRequest
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
	if len(body.System) > 0 {
		blocks, err := antBlocks(body.System)
		if err != nil {
			return nil, &ProtocolError{Dialect: a.Type(), Reason: fmt.Sprintf("system: %v", err)}
		}
		var text string
		for _, b := range blocks {
			text += b.Text
		}
		if text != "" {
			req.Messages = append(req.Messages, canon.TextMessage(canon.RoleSystem, text))
		}
	}
	for i, m := range body.Messages {
		blocks, err := antBlocks(m.Content)
		if err != nil {
			return nil, &ProtocolError{Dialect: a.Type(), Reason: fmt.Sprintf("message %d: %v", i, err)}
		}
		msg := canon.Message{Role: canon.Role(m.Role)}
		for _, b := range blocks {
			switch b.Type {
			case "text":
				msg.Parts = append(msg.Parts, canon.Part{Text: b.Text})
			case "tool_use":
				msg.Parts = append(msg.Parts, canon.Part{ToolCall: &canon.ToolCall{
					ID:        b.ID,
					Name:      b.Name,
					Arguments: string(b.Input),
				}})
			case "tool_result":
				var text string
				if inner, err := antBlocks(b.Content); err == nil {
					for _, ib := range inner {
						text += ib.Text
					}
				}
				req.Messages = append(req.Messages, canon.Message{
					Role:       canon.RoleTool,
					Parts:      []canon.Part{{Text: text}},
					ToolCallID: b.ToolUseID,
				})
			}
		}
		if len(msg.Parts) > 0 {
			req.Messages = append(req.Messages, msg)
		}
	}
	for _, t := range body.Tools {
		req.Tools = append(req.Tools, canon.ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			Schema:      append([]byte(nil), t.InputSchema...),
		})
	}

	var all map[string]any
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, &ProtocolError{Dialect: a.Type(), Reason: "invalid request body", Err: err}
	}
	for k, v := range all {
		switch k {
		case "model", "system", "messages", "stream", "tools":
			continue
		}
		if _, ok := anthropicParamKeys[k]; ok {
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
func (a *Anthropic) RenderRequest(req *canon.Request) ([]byte, error) {
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
	// max_tokens is mandatory in this dialect.
	if _, ok := out["max_tokens"]; !ok {
		out["max_tokens"] = 4096
	}

	var system string
	msgs := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case canon.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Text()
		case canon.RoleTool:
			msgs = append(msgs, map[string]any{
				"role": "user",
				"content": []any{map[string]any{
					"type":        "tool_result",
					"tool_use_id": m.ToolCallID,
					"content":     m.Text(),
				}},
			})
		default:
			var blocks []any
			for _, p := range m.Parts {
				if p.ToolCall != nil {
					input := json.RawMessage(p.ToolCall.Arguments)
					if len(input) == 0 {
						input = json.RawMessage("{}")
					}
					blocks = append(blocks, map[string]any{
						"type":  "tool_use",
						"id":    p.ToolCall.ID,
						"name":  p.ToolCall.Name,
						"input": input,
					})
				} else if p.Text != "" {
					blocks = append(blocks, map[string]any{"type": "text", "text": p.Text})
				}
			}
			if len(blocks) == 0 {
				continue
			}
			msgs = append(msgs, map[string]any{"role": m.Role.String(), "content": blocks})
		}
	}
	if system != "" {
		out["system"] = system
	}
	out["messages"] = msgs

	if len(req.Tools) > 0 {
		tools := make([]antTool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, antTool{
				Name:        t.Name,
				Description: t.Description,
				InputSchema: json.RawMessage(t.Schema),
			})
		}
		out["tools"] = tools
	}
	return json.Marshal(out)
}

// antFinish maps an anthropic stop_reason to the canonical finish reason.
func antFinish(stop string) canon.FinishReason {
	switch stop {
	case "max_tokens":
		return canon.FinishLength
	case "tool_use":
		return canon.FinishToolCalls
	default:
		return canon.FinishStop
	}
}

// antStopReason maps a canonical finish reason back to a stop_reason.
func antStopReason(f canon.FinishReason) string {
	switch f {
	case canon.FinishLength:
		return "max_tokens"
	case canon.FinishToolCalls:
		return "tool_use"
	default:
		return "end_turn"
	}
}

type antStreamDecoder struct {
	adapter *Anthropic
	split   sseSplitter
	model   string
	input   int
	output  int
	finish  canon.FinishReason
	// block index -> running tool-call index for input_json_delta routing.
	toolIndex map[int]int
	nextTool  int
	done      bool
}

// NewStreamDecoder implements Adapter.
func (a *Anthropic) NewStreamDecoder() StreamDecoder {
	return &antStreamDecoder{adapter: a, toolIndex: make(map[int]int)}
}

func (d *antStreamDecoder) Feed(p []byte) ([]canon.Chunk, error) {
	if d.done {
		return nil, nil
	}
	var out []canon.Chunk
	for _, frame := range d.split.feed(p) {
		data := sseDataLine(frame)
		if data == nil {
			continue
		}
		var ev struct {
			Type    string `json:"type"`
			Index   int    `json:"index"`
			Message *struct {
				Model string `json:"model"`
				Usage struct {
					InputTokens int `json:"input_tokens"`
				} `json:"usage"`
			} `json:"message"`
			ContentBlock *struct {
				Type string `json:"type"`
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"content_block"`
			Delta struct {
				Type        string `json:"type"`
				Text        string `json:"text"`
				PartialJSON string `json:"partial_json"`
				StopReason  string `json:"stop_reason"`
			} `json:"delta"`
			Usage *struct {
				OutputTokens int `json:"output_tokens"`
			} `json:"usage"`
			Error *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, &ProtocolError{Dialect: d.adapter.Type(), Reason: "invalid stream event", Err: err}
		}
		switch ev.Type {
		case "message_start":
			if ev.Message != nil {
				d.model = ev.Message.Model
				d.input = ev.Message.Usage.InputTokens
			}
		case "content_block_start":
			if ev.ContentBlock != nil && ev.ContentBlock.Type == "tool_use" {
				idx := d.nextTool
				d.nextTool++
				d.toolIndex[ev.Index] = idx
				out = append(out, canon.Chunk{
					Model: d.model,
					ToolCall: &canon.ToolCallDelta{
						Index: idx,
						ID:    ev.ContentBlock.ID,
						Name:  ev.ContentBlock.Name,
					},
				})
			}
		case "content_block_delta":
			switch ev.Delta.Type {
			case "text_delta":
				if ev.Delta.Text != "" {
					out = append(out, canon.Chunk{Delta: ev.Delta.Text, Model: d.model})
				}
			case "input_json_delta":
				idx, ok := d.toolIndex[ev.Index]
				if !ok {
					idx = 0
				}
				out = append(out, canon.Chunk{
					Model:    d.model,
					ToolCall: &canon.ToolCallDelta{Index: idx, Arguments: ev.Delta.PartialJSON},
				})
			}
		case "message_delta":
			if ev.Delta.StopReason != "" {
				d.finish = antFinish(ev.Delta.StopReason)
			}
			if ev.Usage != nil {
				d.output = ev.Usage.OutputTokens
			}
		case "message_stop":
			d.done = true
			out = append(out, d.terminal())
			return out, nil
		case "error":
			msg := "upstream error"
			if ev.Error != nil && ev.Error.Message != "" {
				msg = ev.Error.Message
			}
			return out, &ProtocolError{Dialect: d.adapter.Type(), Reason: msg}
		}
	}
	return out, nil
}

func (d *antStreamDecoder) Finish() ([]canon.Chunk, error) {
	if d.done {
		return nil, nil
	}
	d.done = true
	return []canon.Chunk{d.terminal()}, nil
}

func (d *antStreamDecoder) terminal() canon.Chunk {
	finish := d.finish
	if finish == "" {
		finish = canon.FinishStop
	}
	return canon.Chunk{
		FinishReason: finish,
		Model:        d.model,
		Usage:        &canon.Usage{InputTokens: d.input, OutputTokens: d.output},
	}
}

type antStreamEncoder struct {
	id        string
	model     string
	started   bool
	blockOpen bool
	blockIdx  int
	toolOpen  bool
	done      bool
}

// NewStreamEncoder implements Adapter.
func (a *Anthropic) NewStreamEncoder(model string) StreamEncoder {
	return &antStreamEncoder{id: "msg_" + uuid.NewString(), model: model}
}

func antFrame(event string, body any) []byte {
	raw, _ := json.Marshal(body)
	return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event, raw))
}

// start emits message_start. The text content block opens lazily so a
// tool-only response does not produce an empty text block.
func (e *antStreamEncoder) start() []byte {
	if e.started {
		return nil
	}
	e.started = true
	return antFrame("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":            e.id,
			"type":          "message",
			"role":          "assistant",
			"model":         e.model,
			"content":       []any{},
			"stop_reason":   nil,
			"stop_sequence": nil,
			"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})
}

func (e *antStreamEncoder) closeBlock() []byte {
	if !e.blockOpen {
		return nil
	}
	e.blockOpen = false
	e.toolOpen = false
	out := antFrame("content_block_stop", map[string]any{
		"type":  "content_block_stop",
		"index": e.blockIdx,
	})
	e.blockIdx++
	return out
}

func (e *antStreamEncoder) Encode(c canon.Chunk) ([]byte, error) {
	if e.done {
		return nil, nil
	}
	var out []byte
	out = append(out, e.start()...)

	if c.Done() {
		e.done = true
		if c.Delta != "" {
			out = append(out, e.textDelta(c.Delta)...)
		}
		out = append(out, e.closeBlock()...)
		usage := map[string]any{"output_tokens": 0}
		if c.Usage != nil {
			usage["output_tokens"] = c.Usage.OutputTokens
		}
		out = append(out, antFrame("message_delta", map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": antStopReason(c.FinishReason), "stop_sequence": nil},
			"usage": usage,
		})...)
		out = append(out, antFrame("message_stop", map[string]any{"type": "message_stop"})...)
		return out, nil
	}

	if c.ToolCall != nil {
		if c.ToolCall.ID != "" || c.ToolCall.Name != "" {
			out = append(out, e.closeBlock()...)
			e.blockOpen = true
			e.toolOpen = true
			out = append(out, antFrame("content_block_start", map[string]any{
				"type":  "content_block_start",
				"index": e.blockIdx,
				"content_block": map[string]any{
					"type":  "tool_use",
					"id":    c.ToolCall.ID,
					"name":  c.ToolCall.Name,
					"input": map[string]any{},
				},
			})...)
		}
		if c.ToolCall.Arguments != "" {
			out = append(out, antFrame("content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": e.blockIdx,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": c.ToolCall.Arguments},
			})...)
		}
		return out, nil
	}
	if c.Delta != "" {
		out = append(out, e.textDelta(c.Delta)...)
	}
	return out, nil
}

func (e *antStreamEncoder) textDelta(text string) []byte {
	var out []byte
	if e.toolOpen {
		out = append(out, e.closeBlock()...)
	}
	if !e.blockOpen {
		e.blockOpen = true
		out = append(out, antFrame("content_block_start", map[string]any{
			"type":          "content_block_start",
			"index":         e.blockIdx,
			"content_block": map[string]any{"type": "text", "text": ""},
		})...)
	}
	out = append(out, antFrame("content_block_delta", map[string]any{
		"type":  "content_block_delta",
		"index": e.blockIdx,
		"delta": map[string]any{"type": "text_delta", "text": text},
	})...)
	return out
}

func (e *antStreamEncoder) EncodeError(message string) []byte {
	if e.done {
		return nil
	}
	e.done = true
	return antFrame("error", map[string]any{
		"type":  "error",
		"error": map[string]any{"type": "api_error", "message": message},
	})
}

// RenderResponse implements Adapter.
func (a *Anthropic) RenderResponse(model, text string, finish canon.FinishReason, usage *canon.Usage) ([]byte, error) {
	u := map[string]any{"input_tokens": 0, "output_tokens": 0}
	if usage != nil {
		u["input_tokens"] = usage.InputTokens
		u["output_tokens"] = usage.OutputTokens
	}
	return json.Marshal(map[string]any{
		"id":            "msg_" + uuid.NewString(),
		"type":          "message",
		"role":          "assistant",
		"model":         model,
		"content":       []any{map[string]any{"type": "text", "text": text}},
		"stop_reason":   antStopReason(finish),
		"stop_sequence": nil,
		"usage":         u,
	})
}

// ParseResponse implements Adapter.
func (a *Anthropic) ParseResponse(raw []byte) (canon.Chunk, error) {
	var body struct {
		Model      string     `json:"model"`
		Content    []antBlock `json:"content"`
		StopReason string     `json:"stop_reason"`
		Usage      *struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return canon.Chunk{}, &ProtocolError{Dialect: a.Type(), Reason: "invalid response body", Err: err}
	}
	var text string
	for _, b := range body.Content {
		if b.Type == "text" {
			text += b.Text
		}
	}
	c := canon.Chunk{
		Delta:        text,
		FinishReason: antFinish(body.StopReason),
		Model:        body.Model,
	}
	if body.Usage != nil {
		c.Usage = &canon.Usage{InputTokens: body.Usage.InputTokens, OutputTokens: body.Usage.OutputTokens}
	}
	return c, nil
}

// Compile-time check.
var _ Adapter = (*Anthropic)(nil)
