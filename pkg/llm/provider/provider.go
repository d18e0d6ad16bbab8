// Package provider
package provider

import (
	"context"

	"github.com/weftlabs/weft/pkg/llm"
)

// Request captures the normalized input for one streaming completion.
type Request struct {
	// Model is the concrete model handle resolved by the router.
	Model string

	// System prompt, handled separately from messages for providers that
	// require it at the top level.
	System string

	// Messages is the ordered conversation, including any tool_use and
	// tool_result blocks from earlier round-trips of the same turn.
	Messages []llm.Message

	// Tools exposed to the model for this request. Empty means plain
	// generation.
	Tools []llm.ToolDef

	// Generation parameters.
	Temperature float64
	MaxTokens   int64
}

// Client is the minimal interface a provider backend must implement to drive
// tool-augmented streaming generation.
//
// Stream returns a chunk channel and an error channel. Both are closed when
// the stream ends. Chunks are forwarded in the order the provider emits them.
// Implementations must respect ctx cancellation by closing the underlying
// provider stream.
type Client interface {
	// Name returns the canonical provider name
	// (e.g. "openai", "anthropic", "google", "ollama").
	Name() string

	Stream(ctx context.Context, req Request) (<-chan llm.Chunk, <-chan error)
}
