// Package openai implements provider.Client on top of the OpenAI Chat
// Completions API (streaming + function/tool calling). An overridable base
// URL makes it usable against API-compatible third parties, and the Gemini
// adapter reuses it against Google's OpenAI-compatible surface.
package openai

import (
	"context"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/llm/provider"
)

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// so complete calls can be reconstructed on the final chunk.
type aggCall struct{ id, name, args string }

// Config for the OpenAI-compatible client.
type Config struct {
	// APIKey authenticates against the backend.
	APIKey string

	// BaseURL overrides the API endpoint for OpenAI-compatible third parties.
	// Empty means the official OpenAI endpoint.
	BaseURL string

	// Vendor is the canonical provider name reported by Name(). Defaults to
	// "openai"; the Gemini adapter sets "google".
	Vendor string
}

// Client wraps the OpenAI Chat Completions API behind provider.Client.
type Client struct {
	client openai.Client
	vendor string
}

// New creates a new OpenAI-compatible streaming client.
func New(cfg Config) *Client {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	vendor := cfg.Vendor
	if vendor == "" {
		vendor = "openai"
	}

	return &Client{
		client: openai.NewClient(opts...),
		vendor: vendor,
	}
}

// Name returns the vendor label for this client.
func (c *Client) Name() string { return c.vendor }

// Stream implements provider.Client. Text deltas are forwarded as partial
// chunks in provider order; tool calls and usage are assembled and delivered
// on the final chunk once the upstream stream ends.
func (c *Client) Stream(ctx context.Context, req provider.Request) (<-chan llm.Chunk, <-chan error) {
	out := make(chan llm.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := c.buildParams(req)
		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		var (
			finishReason string
			usage        *llm.Usage
			toolAgg      = map[int64]*aggCall{}
			toolOrder    []int64
		)

		for stream.Next() {
			ck := stream.Current()

			if ck.Usage.TotalTokens > 0 {
				usage = &llm.Usage{
					PromptTokens:     int(ck.Usage.PromptTokens),
					CompletionTokens: int(ck.Usage.CompletionTokens),
					TotalTokens:      int(ck.Usage.TotalTokens),
				}
			}

			for _, choice := range ck.Choices {
				if choice.Delta.Content != "" {
					select {
					case out <- llm.Chunk{TextDelta: choice.Delta.Content}:
					case <-ctx.Done():
						return
					}
				}

				for _, tc := range choice.Delta.ToolCalls {
					ac, ok := toolAgg[tc.Index]
					if !ok {
						ac = &aggCall{}
						toolAgg[tc.Index] = ac
						toolOrder = append(toolOrder, tc.Index)
					}
					if tc.ID != "" {
						ac.id = tc.ID
					}
					if tc.Function.Name != "" {
						ac.name = tc.Function.Name
					}
					ac.args += tc.Function.Arguments
				}

				if choice.FinishReason != "" {
					finishReason = choice.FinishReason
				}
			}
		}

		if err := stream.Err(); err != nil {
			errCh <- llm.ProviderError{Provider: c.vendor, Err: err}
			return
		}

		final := llm.Chunk{
			Done:       true,
			StopReason: finishReason,
			Usage:      usage,
		}
		for _, idx := range toolOrder {
			ac := toolAgg[idx]
			final.ToolCalls = append(final.ToolCalls, llm.ToolCall{
				ID:        ac.id,
				Name:      ac.name,
				Arguments: ac.args,
			})
		}

		select {
		case out <- final:
		case <-ctx.Done():
		}
	}()

	return out, errCh
}

// buildParams assembles the chat completion parameters, converting the
// normalized message history (including tool round-trips) into the SDK's
// union message format.
func (c *Client) buildParams(req provider.Request) openai.ChatCompletionNewParams {
	var messages []openai.ChatCompletionMessageParamUnion

	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Text()))

		case llm.RoleAssistant:
			toolCalls := extractToolCalls(m)
			if len(toolCalls) == 0 {
				messages = append(messages, openai.AssistantMessage(m.Text()))
				continue
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})

		case llm.RoleTool:
			for _, block := range m.Content {
				if block.Type == "tool_result" {
					messages = append(messages, openai.ToolMessage(block.ToolOutput, block.ToolResultID))
				}
			}

		default:
			messages = append(messages, openai.UserMessage(m.Text()))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       req.Model,
		Temperature: openai.Float(req.Temperature),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(req.MaxTokens)
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, tdef := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tdef.Name,
					Description: openai.String(tdef.Description),
					Parameters:  tdef.InputSchema,
				},
			}
		}
		params.Tools = tools
	}

	return params
}

// extractToolCalls converts tool_use blocks into SDK tool call params.
func extractToolCalls(m llm.Message) []openai.ChatCompletionMessageToolCallParam {
	var toolCalls []openai.ChatCompletionMessageToolCallParam
	for _, block := range m.Content {
		if block.Type != "tool_use" {
			continue
		}
		args := strings.TrimSpace(string(block.ToolInput))
		if args == "" {
			args = "{}"
		}
		toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
			ID:   block.ToolUseID,
			Type: "function",
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      block.ToolName,
				Arguments: args,
			},
		})
	}
	return toolCalls
}

var _ provider.Client = (*Client)(nil)
