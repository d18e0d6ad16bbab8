// Package toolgateway connects to a remote tool-execution server over the
// Model Context Protocol's streamable HTTP transport. Each turn authenticates
// with a single-use, named, short-lived bearer credential; a prior credential
// by the same name is revoked before a new one is minted so a stale token is
// never reused.
package toolgateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/utils"
)

// ErrUnavailable indicates the gateway could not be reached or refused the
// session. Non-fatal for tool listing once a stream is underway; fatal when
// first contact fails before any generation begins.
var ErrUnavailable = errors.New("tool gateway unavailable")

// Session is one authenticated gateway session, valid for a single turn.
type Session interface {
	// Tools lists the callable tools exposed by the gateway.
	Tools(ctx context.Context) (map[string]llm.ToolDef, error)

	// Invoke executes a tool. A tool-side failure is reported through the
	// isError flag, not the error return, so it can be fed back to the
	// model as a tool-error result.
	Invoke(ctx context.Context, name string, args json.RawMessage) (output string, isError bool, err error)

	// Close terminates the session.
	Close() error
}

// Connector mints a credential and opens a session for one turn.
type Connector interface {
	Connect(ctx context.Context, sessionName string) (Session, error)
}

// Config for the gateway client.
type Config struct {
	// Endpoint is the gateway's MCP streamable HTTP endpoint.
	Endpoint string

	// Minter issues the per-turn session credentials.
	Minter Minter

	// Logger is the configured zap logger.
	Logger *zap.Logger
}

// Gateway implements Connector against a remote MCP server.
type Gateway struct {
	config Config
}

// New creates a gateway client.
func New(config Config) (*Gateway, error) {
	if config.Endpoint == "" {
		return nil, errors.New("gateway endpoint is required")
	}
	if config.Minter == nil {
		return nil, errors.New("credential minter is required")
	}
	if config.Logger == nil {
		return nil, errors.New("logger is required")
	}

	return &Gateway{config: config}, nil
}

// Connect revokes any prior credential with the session's name, mints a fresh
// one, and opens an MCP session authenticated with it.
func (g *Gateway) Connect(ctx context.Context, sessionName string) (Session, error) {
	if err := g.config.Minter.Revoke(ctx, sessionName); err != nil {
		// A missing prior credential is the common case; anything else is
		// logged and the mint proceeds.
		g.config.Logger.Debug("revoking prior gateway credential",
			zap.String("credential", sessionName),
			zap.Error(err),
		)
	}

	cred, err := g.config.Minter.Mint(ctx, sessionName)
	if err != nil {
		return nil, fmt.Errorf("%w: minting credential: %w", ErrUnavailable, err)
	}

	client := mcp.NewClient(&mcp.Implementation{
		Name:    "weft",
		Version: utils.Version,
	}, nil)

	transport := &mcp.StreamableClientTransport{
		Endpoint: g.config.Endpoint,
		HTTPClient: &http.Client{
			Transport: &bearerTransport{token: cred.Token},
			Timeout:   2 * time.Minute,
		},
	}

	cs, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: connecting: %w", ErrUnavailable, err)
	}

	return &mcpSession{cs: cs}, nil
}

// bearerTransport injects the session credential into every request.
type bearerTransport struct {
	token string
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return http.DefaultTransport.RoundTrip(clone)
}

// mcpSession adapts an MCP client session to the Session interface.
type mcpSession struct {
	cs *mcp.ClientSession
}

// Tools lists the gateway's tools as normalized definitions.
func (s *mcpSession) Tools(ctx context.Context) (map[string]llm.ToolDef, error) {
	res, err := s.cs.ListTools(ctx, &mcp.ListToolsParams{})
	if err != nil {
		return nil, fmt.Errorf("%w: listing tools: %w", ErrUnavailable, err)
	}

	tools := make(map[string]llm.ToolDef, len(res.Tools))
	for _, tool := range res.Tools {
		def := llm.ToolDef{
			Name:        tool.Name,
			Description: tool.Description,
		}
		if tool.InputSchema != nil {
			raw, err := json.Marshal(tool.InputSchema)
			if err != nil {
				return nil, fmt.Errorf("marshaling tool schema %q: %w", tool.Name, err)
			}
			if err := json.Unmarshal(raw, &def.InputSchema); err != nil {
				return nil, fmt.Errorf("decoding tool schema %q: %w", tool.Name, err)
			}
		}
		tools[tool.Name] = def
	}

	return tools, nil
}

// Invoke executes one tool call. Tool-side failures come back through the
// isError flag so the caller can feed them to the model as a tool-error
// result instead of aborting the turn.
func (s *mcpSession) Invoke(ctx context.Context, name string, args json.RawMessage) (string, bool, error) {
	res, err := s.cs.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	if err != nil {
		return "", false, fmt.Errorf("%w: invoking %q: %w", ErrUnavailable, name, err)
	}

	var parts []string
	for _, content := range res.Content {
		if text, ok := content.(*mcp.TextContent); ok {
			parts = append(parts, text.Text)
		}
	}

	return strings.Join(parts, "\n"), res.IsError, nil
}

// Close terminates the MCP session.
func (s *mcpSession) Close() error {
	return s.cs.Close()
}

var _ Connector = (*Gateway)(nil)
