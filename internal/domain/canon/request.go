package canon

// ToolDefinition describes a tool offered to the model. The schema is kept
// as raw JSON so dialects can round-trip it without interpretation.
type ToolDefinition struct {
	// Name is the tool name.
	Name string
	// Description is the human-readable tool description.
	Description string
	// Schema is the raw JSON input schema.
	Schema []byte
}

// Request is the canonical form of an inbound completion request.
type Request struct {
	// Model is the client-visible model name. Routing never changes the
	// name the caller asked for, only the backend serving it.
	Model string
	// Messages is the ordered conversation.
	Messages []Message
	// Stream indicates the client expects a streamed response.
	Stream bool
	// Tools are the tool definitions offered to the model.
	Tools []ToolDefinition
	// Params carries opaque sampling parameters (temperature, top_p, ...)
	// passed through to the upstream untouched.
	Params map[string]any
	// Extras preserves dialect fields this gateway does not model, so
	// re-encoding untouched requests is lossless.
	Extras map[string]any
}

// Clone returns a deep copy of the request. Pipeline steps operate on
// copies so an earlier step's view is never mutated by a later one.
func (r *Request) Clone() *Request {
	out := &Request{
		Model:  r.Model,
		Stream: r.Stream,
	}
	out.Messages = make([]Message, len(r.Messages))
	for i, m := range r.Messages {
		cm := m
		cm.Parts = make([]Part, len(m.Parts))
		for j, p := range m.Parts {
			cp := p
			if p.ToolCall != nil {
				tc := *p.ToolCall
				cp.ToolCall = &tc
			}
			cm.Parts[j] = cp
		}
		out.Messages[i] = cm
	}
	if r.Tools != nil {
		out.Tools = make([]ToolDefinition, len(r.Tools))
		for i, t := range r.Tools {
			ct := t
			ct.Schema = append([]byte(nil), t.Schema...)
			out.Tools[i] = ct
		}
	}
	out.Params = copyBag(r.Params)
	out.Extras = copyBag(r.Extras)
	return out
}

// LastUserText returns the text of the last user message, or "" when the
// request has none.
func (r *Request) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if r.Messages[i].Role == RoleUser {
			return r.Messages[i].Text()
		}
	}
	return ""
}

// copyBag shallow-copies an opaque bag. Values are treated as immutable:
// the gateway never reaches into them.
func copyBag(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
