package canon

// FinishReason explains why a response stream ended.
type FinishReason string

const (
	// FinishStop is a natural end of turn.
	FinishStop FinishReason = "stop"
	// FinishLength means the model hit its output token limit.
	FinishLength FinishReason = "length"
	// FinishToolCalls means the model stopped to call tools.
	FinishToolCalls FinishReason = "tool_calls"
	// FinishContentFilter means the upstream filtered the output.
	FinishContentFilter FinishReason = "content_filter"
)

// ToolCallDelta is an incremental fragment of a tool call under construction.
type ToolCallDelta struct {
	// Index identifies which tool call the fragment belongs to.
	Index int
	// ID is set on the first fragment of a call.
	ID string
	// Name is set on the first fragment of a call.
	Name string
	// Arguments is an incremental JSON fragment.
	Arguments string
}

// Usage is the token accounting reported by the upstream, when present.
type Usage struct {
	// InputTokens is the prompt token count.
	InputTokens int
	// OutputTokens is the completion token count.
	OutputTokens int
}

// Chunk is one incremental unit of assistant output. Chunks for one response
// form an ordered, finite sequence terminated by exactly one chunk with a
// non-empty FinishReason.
type Chunk struct {
	// Delta is the incremental text content.
	Delta string
	// ToolCall is an incremental tool-call fragment, nil when absent.
	ToolCall *ToolCallDelta
	// FinishReason is non-empty on the terminal chunk only.
	FinishReason FinishReason
	// Usage is token accounting, usually attached to the terminal chunk.
	Usage *Usage
	// Model is the upstream-reported model identifier.
	Model string
	// Extras preserves dialect fields not modeled by the gateway.
	Extras map[string]any
}

// Done reports whether this is the terminal chunk of a stream.
func (c Chunk) Done() bool {
	return c.FinishReason != ""
}
