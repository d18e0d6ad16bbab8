package llm

// ToolCall is a complete function call surfaced by a model provider, unified
// across vendors so downstream logic does not need per-provider branching.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string of arguments
}

// ToolDef declaratively exposes a callable tool to the model.
// InputSchema is a JSON Schema object (minimal subset expected).
type ToolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Chunk is a single event in a streaming completion.
//
// Partial chunks carry a TextDelta. The final chunk has Done set and carries
// the stop reason, any complete tool calls requested by the model, and usage
// metrics when the provider reports them.
type Chunk struct {
	// TextDelta is the incremental text content of this chunk.
	TextDelta string `json:"text_delta,omitempty"`

	// Done marks the final chunk of the stream.
	Done bool `json:"done"`

	// StopReason is only present on the final chunk
	// (e.g. "stop", "end_turn", "tool_calls", "max_tokens").
	StopReason string `json:"stop_reason,omitempty"`

	// ToolCalls holds fully-assembled tool calls, present on the final chunk
	// when the model paused generation to request tool execution.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// Usage metrics, typically only present on the final chunk.
	Usage *Usage `json:"usage,omitempty"`
}

// Usage contains token counts reported by a provider. Telemetry only; never
// part of correctness logic.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}
