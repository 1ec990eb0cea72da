// Package canon defines the canonical request/message/chunk model: a
// protocol-agnostic representation of LLM traffic flowing through Promptgate.
// Every request — regardless of wire dialect (openai, anthropic, ollama,
// gemini) — is normalized into this model for uniform pipeline processing.
package canon

// Role identifies the author of a message.
type Role string

const (
	// RoleSystem is an instruction message from the operator or client tooling.
	RoleSystem Role = "system"
	// RoleUser is an end-user message.
	RoleUser Role = "user"
	// RoleAssistant is a model-generated message.
	RoleAssistant Role = "assistant"
	// RoleTool is a tool-execution result message.
	RoleTool Role = "tool"
)

// String returns the string representation of the Role.
func (r Role) String() string {
	return string(r)
}

// ToolCall references a tool invocation requested by the assistant.
type ToolCall struct {
	// ID is the dialect-assigned call identifier.
	ID string
	// Name is the tool being invoked.
	Name string
	// Arguments is the raw JSON-encoded argument payload.
	Arguments string
}

// Part is one unit of message content: text or a tool-call reference.
// Exactly one field is populated.
type Part struct {
	// Text is plain text content. Empty when ToolCall is set.
	Text string
	// ToolCall is a tool invocation reference, nil for text parts.
	ToolCall *ToolCall
}

// Message is one entry in a conversation. Messages are immutable once
// constructed: pipeline steps produce new messages rather than mutating
// in place.
type Message struct {
	// Role identifies the author.
	Role Role
	// Parts is the ordered content of the message.
	Parts []Part
	// ToolCallID links a tool-role message to the call it answers.
	ToolCallID string
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		out += p.Text
	}
	return out
}

// WithText returns a copy of the message with its text parts replaced by a
// single part holding the given text. Tool-call parts are preserved in order
// after the text.
func (m Message) WithText(text string) Message {
	parts := make([]Part, 0, len(m.Parts))
	parts = append(parts, Part{Text: text})
	for _, p := range m.Parts {
		if p.ToolCall != nil {
			tc := *p.ToolCall
			parts = append(parts, Part{ToolCall: &tc})
		}
	}
	out := m
	out.Parts = parts
	return out
}

// TextMessage constructs a single-part text message.
func TextMessage(role Role, text string) Message {
	return Message{Role: role, Parts: []Part{{Text: text}}}
}
