package api

import (
	"bufio"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/llm/router"
	"github.com/weftlabs/weft/pkg/orchestrator"
	"github.com/weftlabs/weft/pkg/sse"
)

// ErrorResponse is the JSON error body for non-streaming failures.
type ErrorResponse struct {
	Error string `json:"error"`
}

// MessageRequest is the body of POST /conversations/:id/messages.
type MessageRequest struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
	Tier  string `json:"tier,omitempty"` // "high" (default) or "low"
}

// DeltaEvent carries one streamed text fragment.
type DeltaEvent struct {
	Delta string `json:"delta"`
}

// DoneEvent closes a successful stream.
type DoneEvent struct {
	SessionID   string    `json:"session_id"`
	AgentTurnID string    `json:"agent_turn_id"`
	Text        string    `json:"text"`
	Steps       int       `json:"steps"`
	Usage       llm.Usage `json:"usage"`
}

// StreamErrorEvent closes a failed stream.
type StreamErrorEvent struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// ConversationResponse is the body of GET /conversations/:id.
type ConversationResponse struct {
	ConversationID string         `json:"conversation_id"`
	Turns          []TurnResponse `json:"turns"`
}

// TurnResponse is one persisted turn.
type TurnResponse struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// EmbedRequest is the body of POST /embed.
type EmbedRequest struct {
	Text string `json:"text"`
}

// EmbedResponse carries the computed vector.
type EmbedResponse struct {
	Embedding  []float32 `json:"embedding"`
	Dimensions int       `json:"dimensions"`
	Strategy   string    `json:"strategy,omitempty"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handlePostMessage submits one user message and streams the agent's reply
// over SSE: zero or more "delta" events followed by a single "done" or
// "error" event.
func (s *Server) handlePostMessage(c *fiber.Ctx) error {
	conversationID := c.Params("id")

	var body MessageRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(body.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "text is required"})
	}

	tier := router.TierHigh
	if strings.EqualFold(body.Tier, "low") {
		tier = router.TierLow
	}

	req := orchestrator.TurnRequest{
		ConversationID: conversationID,
		Text:           body.Text,
		Model:          body.Model,
		Tier:           tier,
	}

	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")

	// The request ctx doubles as the turn context so a client disconnect
	// cancels the stream.
	reqCtx := c.Context()
	reqCtx.SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		writer := sse.NewWriter(w)

		result, err := s.runner.Run(reqCtx, req, func(delta string) {
			_ = writer.SendJSON("delta", DeltaEvent{Delta: delta})
		})
		if err != nil {
			s.logger.Warn("turn failed",
				zap.String("conversation_id", conversationID),
				zap.Error(err))
			_ = writer.SendJSON("error", StreamErrorEvent{
				Error: err.Error(),
				Code:  errorCode(err),
			})
			return
		}

		_ = writer.SendJSON("done", DoneEvent{
			SessionID:   result.SessionID,
			AgentTurnID: result.AgentTurnID,
			Text:        result.Text,
			Steps:       result.Steps,
			Usage:       result.Usage,
		})
	}))

	return nil
}

// errorCode maps well-known failures to stable codes clients can branch on.
func errorCode(err error) string {
	var configErr llm.ConfigurationError
	switch {
	case errors.Is(err, orchestrator.ErrTurnInFlight):
		return "turn_in_flight"
	case errors.As(err, &configErr):
		return "provider_not_configured"
	default:
		return ""
	}
}

// handleGetConversation returns the persisted turns, oldest first.
func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	conversationID := c.Params("id")

	turns, err := s.store.History(c.Context(), conversationID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{Error: "failed to load conversation"})
	}

	resp := ConversationResponse{
		ConversationID: conversationID,
		Turns:          make([]TurnResponse, 0, len(turns)),
	}
	for _, turn := range turns {
		resp.Turns = append(resp.Turns, TurnResponse{
			ID:        turn.ID,
			Role:      turn.Role,
			Text:      turn.Text,
			CreatedAt: turn.CreatedAt,
		})
	}

	return c.JSON(resp)
}

// handleEmbed computes an embedding for arbitrary text using the configured
// strategy chain.
func (s *Server) handleEmbed(c *fiber.Ctx) error {
	if s.embedder == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(ErrorResponse{Error: "embeddings not configured"})
	}

	var body EmbedRequest
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "invalid request body"})
	}
	if strings.TrimSpace(body.Text) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: "text is required"})
	}

	vector, err := s.embedder.Embed(c.Context(), body.Text)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(ErrorResponse{Error: "embedding failed"})
	}

	return c.JSON(EmbedResponse{
		Embedding:  vector,
		Dimensions: len(vector),
		Strategy:   s.embedder.Name(),
	})
}
