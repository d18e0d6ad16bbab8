// Package ollama implements provider.Client for a local Ollama inference
// endpoint using its native chat API (NDJSON streaming, optional tools).
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/llm/provider"
)

// DefaultBaseURL is the default Ollama API URL.
const DefaultBaseURL = "http://localhost:11434"

// Config for the Ollama client.
type Config struct {
	// BaseURL is the Ollama API URL (e.g. "http://localhost:11434").
	// Defaults to DefaultBaseURL if empty.
	BaseURL string
}

// Client talks to Ollama's /api/chat endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new Ollama streaming client.
func New(cfg Config) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			// Local inference can be slow on first load
			Timeout: 5 * time.Minute,
		},
	}
}

// Name returns "ollama".
func (c *Client) Name() string { return "ollama" }

// chatRequest is Ollama's native chat request format.
type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Tools    []chatTool     `json:"tools,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	ToolName  string         `json:"tool_name,omitempty"`
	ToolCalls []chatToolCall `json:"tool_calls,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type chatToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// chatChunk is a single NDJSON line from the streaming response.
type chatChunk struct {
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason,omitempty"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
	EvalCount       int         `json:"eval_count,omitempty"`
}

// Stream implements provider.Client over Ollama's NDJSON chat stream.
func (c *Client) Stream(ctx context.Context, req provider.Request) (<-chan llm.Chunk, <-chan error) {
	out := make(chan llm.Chunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		body, err := json.Marshal(c.buildRequest(req))
		if err != nil {
			errCh <- llm.ProviderError{Provider: c.Name(), Err: fmt.Errorf("marshaling request: %w", err)}
			return
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
		if err != nil {
			errCh <- llm.ProviderError{Provider: c.Name(), Err: fmt.Errorf("creating request: %w", err)}
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			errCh <- llm.ProviderError{Provider: c.Name(), Err: fmt.Errorf("sending request: %w", err)}
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			errCh <- llm.ProviderError{
				Provider: c.Name(),
				Err:      fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(respBody)),
			}
			return
		}

		var toolCalls []llm.ToolCall

		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(bytes.TrimSpace(line)) == 0 {
				continue
			}

			var ck chatChunk
			if err := json.Unmarshal(line, &ck); err != nil {
				errCh <- llm.ProviderError{Provider: c.Name(), Err: fmt.Errorf("decoding chunk: %w", err)}
				return
			}

			for _, tc := range ck.Message.ToolCalls {
				// Ollama does not assign call ids; mint one so tool
				// results can reference their call.
				toolCalls = append(toolCalls, llm.ToolCall{
					ID:        uuid.NewString(),
					Name:      tc.Function.Name,
					Arguments: string(tc.Function.Arguments),
				})
			}

			if ck.Done {
				final := llm.Chunk{
					Done:       true,
					StopReason: ck.DoneReason,
					ToolCalls:  toolCalls,
				}
				if ck.EvalCount > 0 || ck.PromptEvalCount > 0 {
					final.Usage = &llm.Usage{
						PromptTokens:     ck.PromptEvalCount,
						CompletionTokens: ck.EvalCount,
						TotalTokens:      ck.PromptEvalCount + ck.EvalCount,
					}
				}
				select {
				case out <- final:
				case <-ctx.Done():
				}
				return
			}

			if ck.Message.Content != "" {
				select {
				case out <- llm.Chunk{TextDelta: ck.Message.Content}:
				case <-ctx.Done():
					return
				}
			}
		}

		if err := scanner.Err(); err != nil {
			errCh <- llm.ProviderError{Provider: c.Name(), Err: fmt.Errorf("reading stream: %w", err)}
		}
	}()

	return out, errCh
}

// buildRequest converts the normalized request into Ollama's chat format.
func (c *Client) buildRequest(req provider.Request) chatRequest {
	out := chatRequest{
		Model:  req.Model,
		Stream: true,
		Options: map[string]any{
			"temperature": req.Temperature,
		},
	}
	if req.MaxTokens > 0 {
		out.Options["num_predict"] = req.MaxTokens
	}

	if req.System != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: req.System})
	}

	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleAssistant:
			msg := chatMessage{Role: "assistant", Content: m.Text()}
			for _, block := range m.Content {
				if block.Type == "tool_use" {
					var tc chatToolCall
					tc.Function.Name = block.ToolName
					tc.Function.Arguments = block.ToolInput
					msg.ToolCalls = append(msg.ToolCalls, tc)
				}
			}
			out.Messages = append(out.Messages, msg)

		case llm.RoleTool:
			for _, block := range m.Content {
				if block.Type == "tool_result" {
					out.Messages = append(out.Messages, chatMessage{
						Role:     "tool",
						Content:  block.ToolOutput,
						ToolName: block.ToolName,
					})
				}
			}

		default:
			out.Messages = append(out.Messages, chatMessage{Role: m.Role, Content: m.Text()})
		}
	}

	for _, tdef := range req.Tools {
		out.Tools = append(out.Tools, chatTool{
			Type: "function",
			Function: chatFunction{
				Name:        tdef.Name,
				Description: tdef.Description,
				Parameters:  tdef.InputSchema,
			},
		})
	}

	return out
}

var _ provider.Client = (*Client)(nil)
