// Package anthropic implements provider.Client for the Anthropic Messages
// API, streaming with tool-use block accumulation.
package anthropic

import (
	"context"
	"encoding/json"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/llm/provider"
)

// defaultMaxTokens applies when the request does not set a limit; the
// Messages API requires max_tokens on every call.
const defaultMaxTokens = 4096

// Config for the Anthropic client.
type Config struct {
	APIKey string
}

// Client wraps the Anthropic Messages API behind provider.Client.
type Client struct {
	client anthropic.Client
}

// New creates a new Anthropic streaming client.
func New(cfg Config) *Client {
	return &Client{
		client: anthropic.NewClient(option.WithAPIKey(cfg.APIKey)),
	}
}

// Name returns "anthropic".
func (c *Client) Name() string { return "anthropic" }

// Stream implements provider.Client. The SDK's message accumulator
// reassembles text and tool_use blocks from the event stream; text deltas are
// forwarded as they arrive and the accumulated message yields the final chunk.
func (c *Client) Stream(ctx context.Context, req provider.Request) (<-chan llm.Chunk, <-chan error) {
	out := make(chan llm.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := c.buildParams(req)
		stream := c.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		message := anthropic.Message{}
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				errCh <- llm.ProviderError{Provider: c.Name(), Err: err}
				return
			}

			switch eventVariant := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				switch deltaVariant := eventVariant.Delta.AsAny().(type) {
				case anthropic.TextDelta:
					if deltaVariant.Text == "" {
						continue
					}
					select {
					case out <- llm.Chunk{TextDelta: deltaVariant.Text}:
					case <-ctx.Done():
						return
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			errCh <- llm.ProviderError{Provider: c.Name(), Err: err}
			return
		}

		final := llm.Chunk{
			Done:       true,
			StopReason: string(message.StopReason),
			Usage: &llm.Usage{
				PromptTokens:     int(message.Usage.InputTokens),
				CompletionTokens: int(message.Usage.OutputTokens),
				TotalTokens:      int(message.Usage.InputTokens + message.Usage.OutputTokens),
			},
		}
		for _, block := range message.Content {
			if toolBlock, ok := block.AsAny().(anthropic.ToolUseBlock); ok {
				args := "{}"
				if argsBytes, err := json.Marshal(toolBlock.Input); err == nil {
					args = string(argsBytes)
				}
				final.ToolCalls = append(final.ToolCalls, llm.ToolCall{
					ID:        toolBlock.ID,
					Name:      toolBlock.Name,
					Arguments: args,
				})
			}
		}

		select {
		case out <- final:
		case <-ctx.Done():
		}
	}()

	return out, errCh
}

// buildParams assembles the Messages API request from the normalized history.
// Assistant tool_use blocks stay on assistant messages; tool results ride in
// user messages per the Messages API contract.
func (c *Client) buildParams(req provider.Request) anthropic.MessageNewParams {
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Text()})

		case llm.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			for _, block := range m.Content {
				switch block.Type {
				case "text":
					if block.Text != "" {
						content = append(content, anthropic.NewTextBlock(block.Text))
					}
				case "tool_use":
					var input any
					if len(block.ToolInput) > 0 {
						if err := json.Unmarshal(block.ToolInput, &input); err != nil {
							input = string(block.ToolInput)
						}
					}
					content = append(content, anthropic.NewToolUseBlock(block.ToolUseID, input, block.ToolName))
				}
			}
			if len(content) > 0 {
				params.Messages = append(params.Messages, anthropic.NewAssistantMessage(content...))
			}

		case llm.RoleTool:
			var content []anthropic.ContentBlockParamUnion
			for _, block := range m.Content {
				if block.Type == "tool_result" {
					content = append(content, anthropic.NewToolResultBlock(block.ToolResultID, block.ToolOutput, block.IsError))
				}
			}
			if len(content) > 0 {
				params.Messages = append(params.Messages, anthropic.NewUserMessage(content...))
			}

		default:
			if text := m.Text(); text != "" {
				params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(text)))
			}
		}
	}

	if len(req.Tools) > 0 {
		params.Tools = buildTools(req.Tools)
	}

	return params
}

// buildTools converts normalized tool definitions into the Messages API tool
// format, lifting properties/required out of the JSON Schema object.
func buildTools(tools []llm.ToolDef) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))
	for i, tdef := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if tdef.InputSchema != nil {
			if properties, exists := tdef.InputSchema["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := tdef.InputSchema["required"]; exists {
				switch req := required.(type) {
				case []string:
					inputSchema.Required = req
				case []any:
					for _, r := range req {
						if s, ok := r.(string); ok {
							inputSchema.Required = append(inputSchema.Required, s)
						}
					}
				}
			}
		}
		anthropicTools[i] = anthropic.ToolUnionParamOfTool(inputSchema, tdef.Name)
	}
	return anthropicTools
}

var _ provider.Client = (*Client)(nil)
