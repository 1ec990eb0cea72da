package dialect

import (
	"encoding/json"

	"github.com/Prompt-Gate/Promptgate/internal/domain/canon"
	"github.com/Prompt-Gate/Promptgate/internal/domain/mux"
)

// geminiParamKeys are the tuning fields carried in Params.
var geminiParamKeys = map[string]struct{}{
	"generationConfig": {},
	"safetySettings":   {},
}

// Gemini implements the gemini generateContent dialect: role "model" for
// assistant turns, parts-based contents, and "data: {json}\n\n" SSE
// streaming without a terminal sentinel (the last candidate carries a
// finishReason).
type Gemini struct{}

// NewGemini creates the gemini dialect adapter.
func NewGemini() *Gemini { return &Gemini{} }

// Type implements Adapter.
func (*Gemini) Type() mux.ProviderType { return mux.ProviderGemini }

type gemPart struct {
	Text         string `json:"text,omitempty"`
	FunctionCall *struct {
		Name string          `json:"name"`
		Args json.RawMessage `json:"args,omitempty"`
	} `json:"functionCall,omitempty"`
	FunctionResponse *struct {
		Name     string          `json:"name"`
		Response json.RawMessage `json:"response,omitempty"`
	} `json:"functionResponse,omitempty"`
}

type gemContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []gemPart `json:"parts"`
}

// geminiRole maps a wire role to the canonical role.
func geminiRole(role string) canon.Role {
	if role == "model" {
		return canon.RoleAssistant
	}
	return canon.RoleUser
}

// ParseRequest implements Adapter. The model name is not part of the
// request body in this dialect (it rides in the URL), so the caller sets it
// afterwards when parsing inbound requests; here an embedded "model" field
// is honored when present.
func (a *Gemini) ParseRequest(raw []byte) (*canon.Request, error) {
	var body struct {
		Model             string      `json:"model"`
		Contents          []gemContent `json:"contents"`
		SystemInstruction *gemContent `json:"systemInstruction"`
		Tools             []struct {
			FunctionDeclarations []struct {
				Name        string          `json:"name"`
				Description string          `json:"description"`
				Parameters  json.RawMessage `json:"parameters"`
			} `json:"functionDeclarations"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, &ProtocolError{Dialect: a.Type(), Reason: "invalid request body", Err: err}
	}
	if len(body.Contents) == 0 {
		return nil, &ProtocolError{Dialect: a.Type(), Reason: "contents is required"}
	}

	req := &canon.Request{Model: body.Model, Stream: true}
	if body.SystemInstruction != nil {
		var text string
		for _, p := range body.SystemInstruction.Parts {
			text += p.Text
		}
		if text != "" {
			req.Messages = append(req.Messages, canon.TextMessage(canon.RoleSystem, text))
		}
	}
	for _, c := range body.Contents {
		msg := canon.Message{Role: geminiRole(c.Role)}
		for _, p := range c.Parts {
			switch {
			case p.FunctionCall != nil:
				msg.Parts = append(msg.Parts, canon.Part{ToolCall: &canon.ToolCall{
					Name:      p.FunctionCall.Name,
					Arguments: string(p.FunctionCall.Args),
				}})
			case p.FunctionResponse != nil:
				req.Messages = append(req.Messages, canon.Message{
					Role:       canon.RoleTool,
					Parts:      []canon.Part{{Text: string(p.FunctionResponse.Response)}},
					ToolCallID: p.FunctionResponse.Name,
				})
			default:
				msg.Parts = append(msg.Parts, canon.Part{Text: p.Text})
			}
		}
		if len(msg.Parts) > 0 {
			req.Messages = append(req.Messages, msg)
		}
	}
	for _, t := range body.Tools {
		for _, fd := range t.FunctionDeclarations {
			req.Tools = append(req.Tools, canon.ToolDefinition{
				Name:        fd.Name,
				Description: fd.Description,
				Schema:      append([]byte(nil), fd.Parameters...),
			})
		}
	}

	var all map[string]any
	if err := json.Unmarshal(raw, &all); err != nil {
		return nil, &ProtocolError{Dialect: a.Type(), Reason: "invalid request body", Err: err}
	}
	for k, v := range all {
		switch k {
		case "model", "contents", "systemInstruction", "tools":
			continue
		}
		if _, ok := geminiParamKeys[k]; ok {
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
func (a *Gemini) RenderRequest(req *canon.Request) ([]byte, error) {
	out := make(map[string]any)
	for k, v := range req.Extras {
		out[k] = v
	}
	for k, v := range req.Params {
		out[k] = v
	}

	var system string
	var contents []map[string]any
	for _, m := range req.Messages {
		switch m.Role {
		case canon.RoleSystem:
			if system != "" {
				system += "\n\n"
			}
			system += m.Text()
		case canon.RoleTool:
			contents = append(contents, map[string]any{
				"role": "user",
				"parts": []any{map[string]any{
					"functionResponse": map[string]any{
						"name":     m.ToolCallID,
						"response": map[string]any{"content": m.Text()},
					},
				}},
			})
		default:
			role := "user"
			if m.Role == canon.RoleAssistant {
				role = "model"
			}
			var parts []any
			for _, p := range m.Parts {
				if p.ToolCall != nil {
					args := json.RawMessage(p.ToolCall.Arguments)
					if len(args) == 0 {
						args = json.RawMessage("{}")
					}
					parts = append(parts, map[string]any{
						"functionCall": map[string]any{"name": p.ToolCall.Name, "args": args},
					})
				} else if p.Text != "" {
					parts = append(parts, map[string]any{"text": p.Text})
				}
			}
			if len(parts) == 0 {
				continue
			}
			contents = append(contents, map[string]any{"role": role, "parts": parts})
		}
	}
	if system != "" {
		out["systemInstruction"] = map[string]any{
			"parts": []any{map[string]any{"text": system}},
		}
	}
	out["contents"] = contents

	if len(req.Tools) > 0 {
		decls := make([]map[string]any, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  json.RawMessage(t.Schema),
			})
		}
		out["tools"] = []any{map[string]any{"functionDeclarations": decls}}
	}
	return json.Marshal(out)
}

// geminiFinish maps a finishReason to the canonical finish reason.
func geminiFinish(reason string) canon.FinishReason {
	switch reason {
	case "MAX_TOKENS":
		return canon.FinishLength
	case "SAFETY", "RECITATION":
		return canon.FinishContentFilter
	default:
		return canon.FinishStop
	}
}

// geminiReason maps a canonical finish reason back to the wire form.
func geminiReason(f canon.FinishReason) string {
	switch f {
	case canon.FinishLength:
		return "MAX_TOKENS"
	case canon.FinishContentFilter:
		return "SAFETY"
	default:
		return "STOP"
	}
}

type gemChunkBody struct {
	Candidates []struct {
		Content      gemContent `json:"content"`
		FinishReason string     `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

type gemStreamDecoder struct {
	adapter *Gemini
	split   sseSplitter
	final   *canon.Chunk
	done    bool
}

// NewStreamDecoder implements Adapter.
func (a *Gemini) NewStreamDecoder() StreamDecoder {
	return &gemStreamDecoder{adapter: a}
}

func (d *gemStreamDecoder) decode(data []byte) ([]canon.Chunk, error) {
	var body gemChunkBody
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, &ProtocolError{Dialect: d.adapter.Type(), Reason: "invalid stream chunk", Err: err}
	}
	var out []canon.Chunk
	var usage *canon.Usage
	if body.UsageMetadata != nil {
		usage = &canon.Usage{
			InputTokens:  body.UsageMetadata.PromptTokenCount,
			OutputTokens: body.UsageMetadata.CandidatesTokenCount,
		}
	}
	for _, cand := range body.Candidates {
		var text string
		for _, p := range cand.Content.Parts {
			if p.FunctionCall != nil {
				out = append(out, canon.Chunk{
					Model: body.ModelVersion,
					ToolCall: &canon.ToolCallDelta{
						Name:      p.FunctionCall.Name,
						Arguments: string(p.FunctionCall.Args),
					},
				})
				continue
			}
			text += p.Text
		}
		if cand.FinishReason != "" {
			// Hold the terminal back until end of transport: later frames
			// may still carry final usage metadata.
			if text != "" {
				out = append(out, canon.Chunk{Delta: text, Model: body.ModelVersion})
			}
			d.final = &canon.Chunk{
				FinishReason: geminiFinish(cand.FinishReason),
				Model:        body.ModelVersion,
				Usage:        usage,
			}
			continue
		}
		if text != "" {
			out = append(out, canon.Chunk{Delta: text, Model: body.ModelVersion})
		}
		break
	}
	if usage != nil && d.final != nil {
		d.final.Usage = usage
	}
	return out, nil
}

func (d *gemStreamDecoder) Feed(p []byte) ([]canon.Chunk, error) {
	if d.done {
		return nil, nil
	}
	var out []canon.Chunk
	for _, frame := range d.split.feed(p) {
		data := sseDataLine(frame)
		if data == nil {
			continue
		}
		chunks, err := d.decode(data)
		if err != nil {
			return nil, err
		}
		out = append(out, chunks...)
	}
	return out, nil
}

func (d *gemStreamDecoder) Finish() ([]canon.Chunk, error) {
	if d.done {
		return nil, nil
	}
	d.done = true
	var out []canon.Chunk
	if rest := d.split.rest(); len(rest) > 0 {
		if data := sseDataLine(rest); data != nil {
			if chunks, err := d.decode(data); err == nil {
				out = append(out, chunks...)
			}
		}
	}
	if d.final != nil {
		return append(out, *d.final), nil
	}
	return append(out, canon.Chunk{FinishReason: canon.FinishStop}), nil
}

type gemStreamEncoder struct {
	model string
	done  bool
}

// NewStreamEncoder implements Adapter.
func (a *Gemini) NewStreamEncoder(model string) StreamEncoder {
	return &gemStreamEncoder{model: model}
}

func (e *gemStreamEncoder) frame(parts []any, finish string, usage *canon.Usage) []byte {
	cand := map[string]any{
		"content": map[string]any{"role": "model", "parts": parts},
		"index":   0,
	}
	if finish != "" {
		cand["finishReason"] = finish
	}
	body := map[string]any{
		"candidates":   []any{cand},
		"modelVersion": e.model,
	}
	if usage != nil {
		body["usageMetadata"] = map[string]any{
			"promptTokenCount":     usage.InputTokens,
			"candidatesTokenCount": usage.OutputTokens,
			"totalTokenCount":      usage.InputTokens + usage.OutputTokens,
		}
	}
	raw, _ := json.Marshal(body)
	return append(append([]byte("data: "), raw...), '\n', '\n')
}

func (e *gemStreamEncoder) Encode(c canon.Chunk) ([]byte, error) {
	if e.done {
		return nil, nil
	}
	if c.Done() {
		e.done = true
		parts := []any{map[string]any{"text": c.Delta}}
		return e.frame(parts, geminiReason(c.FinishReason), c.Usage), nil
	}
	if c.ToolCall != nil {
		args := json.RawMessage(c.ToolCall.Arguments)
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		parts := []any{map[string]any{
			"functionCall": map[string]any{"name": c.ToolCall.Name, "args": args},
		}}
		return e.frame(parts, "", nil), nil
	}
	if c.Delta == "" {
		return nil, nil
	}
	return e.frame([]any{map[string]any{"text": c.Delta}}, "", nil), nil
}

func (e *gemStreamEncoder) EncodeError(message string) []byte {
	if e.done {
		return nil
	}
	e.done = true
	raw, _ := json.Marshal(map[string]any{
		"error": map[string]any{"code": 502, "message": message, "status": "UNAVAILABLE"},
	})
	return append(append([]byte("data: "), raw...), '\n', '\n')
}

// RenderResponse implements Adapter.
func (a *Gemini) RenderResponse(model, text string, finish canon.FinishReason, usage *canon.Usage) ([]byte, error) {
	body := map[string]any{
		"candidates": []any{map[string]any{
			"content":      map[string]any{"role": "model", "parts": []any{map[string]any{"text": text}}},
			"finishReason": geminiReason(finish),
			"index":        0,
		}},
		"modelVersion": model,
	}
	if usage != nil {
		body["usageMetadata"] = map[string]any{
			"promptTokenCount":     usage.InputTokens,
			"candidatesTokenCount": usage.OutputTokens,
			"totalTokenCount":      usage.InputTokens + usage.OutputTokens,
		}
	}
	return json.Marshal(body)
}

// ParseResponse implements Adapter.
func (a *Gemini) ParseResponse(raw []byte) (canon.Chunk, error) {
	var body gemChunkBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return canon.Chunk{}, &ProtocolError{Dialect: a.Type(), Reason: "invalid response body", Err: err}
	}
	if len(body.Candidates) == 0 {
		return canon.Chunk{}, &ProtocolError{Dialect: a.Type(), Reason: "response has no candidates"}
	}
	cand := body.Candidates[0]
	var text string
	for _, p := range cand.Content.Parts {
		text += p.Text
	}
	c := canon.Chunk{
		Delta:        text,
		FinishReason: geminiFinish(cand.FinishReason),
		Model:        body.ModelVersion,
	}
	if body.UsageMetadata != nil {
		c.Usage = &canon.Usage{
			InputTokens:  body.UsageMetadata.PromptTokenCount,
			OutputTokens: body.UsageMetadata.CandidatesTokenCount,
		}
	}
	return c, nil
}

// Compile-time check.
var _ Adapter = (*Gemini)(nil)
