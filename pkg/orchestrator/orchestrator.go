// Package orchestrator drives one streaming conversation turn end to end:
// persist the user turn, resolve a model binding, open a tool session, run
// the generation loop with bounded tool round-trips, then persist the agent
// turn exactly once.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/pkg/conversation"
	"github.com/weftlabs/weft/pkg/eventstream"
	"github.com/weftlabs/weft/pkg/eventstream/nop"
	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/llm/provider"
	"github.com/weftlabs/weft/pkg/llm/router"
	"github.com/weftlabs/weft/pkg/toolgateway"
	"github.com/weftlabs/weft/pkg/utils"
)

// DefaultStepBudget bounds how many tool round-trips a single turn may make.
const DefaultStepBudget = 8

// ErrTurnInFlight is returned when a conversation already has an active turn.
// Turns within one conversation are strictly serial.
var ErrTurnInFlight = errors.New("a turn is already in flight for this conversation")

// Resolver maps a requested model name and tier to a concrete binding.
// *router.Router satisfies this.
type Resolver interface {
	Resolve(modelName string, tier router.Tier) (*router.Binding, error)
}

// TurnRequest is one user message submitted to a conversation.
type TurnRequest struct {
	ConversationID string
	Text           string
	Model          string
	Tier           router.Tier
}

// TurnResult reports the completed turn.
type TurnResult struct {
	SessionID   string
	AgentTurnID string
	Text        string
	Usage       llm.Usage
	Steps       int
}

// Config assembles an Orchestrator. Resolver, Store, and Logger are required;
// Gateway and Publisher are optional.
type Config struct {
	Resolver  Resolver
	Store     conversation.Store
	Gateway   toolgateway.Connector
	Publisher eventstream.Publisher
	Logger    *zap.Logger

	// SystemPrompt is prepended to every provider request.
	SystemPrompt string

	// StepBudget caps tool round-trips per turn. Zero means DefaultStepBudget.
	StepBudget int

	// OnStatus observes session lifecycle transitions. Called synchronously.
	OnStatus func(sessionID string, status Status)

	// AnswerProduced and ClarifyingQuestion decide whether the latest emitted
	// text ends the turn even though the model requested more tool calls.
	// Nil selects the defaults.
	AnswerProduced     func(text string) bool
	ClarifyingQuestion func(text string) bool
}

// Orchestrator runs streaming turns. Safe for concurrent use; concurrency
// within one conversation is rejected with ErrTurnInFlight.
type Orchestrator struct {
	config Config

	mu       sync.Mutex
	inflight map[string]struct{}
	cancels  map[string]context.CancelFunc
}

var answerMarker = regexp.MustCompile(`(?i)\bfinal answer\b`)

func defaultAnswerProduced(text string) bool {
	return answerMarker.MatchString(text)
}

func defaultClarifyingQuestion(text string) bool {
	return strings.HasSuffix(strings.TrimSpace(text), "?")
}

// New validates the config and returns an Orchestrator.
func New(config Config) (*Orchestrator, error) {
	if config.Resolver == nil {
		return nil, fmt.Errorf("orchestrator requires a resolver")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("orchestrator requires a conversation store")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("orchestrator requires a logger")
	}
	if config.Publisher == nil {
		config.Publisher = nop.NewPublisher()
	}
	if config.StepBudget <= 0 {
		config.StepBudget = DefaultStepBudget
	}
	if config.AnswerProduced == nil {
		config.AnswerProduced = defaultAnswerProduced
	}
	if config.ClarifyingQuestion == nil {
		config.ClarifyingQuestion = defaultClarifyingQuestion
	}

	return &Orchestrator{
		config:   config,
		inflight: make(map[string]struct{}),
		cancels:  make(map[string]context.CancelFunc),
	}, nil
}

// Cancel tears down the session's in-flight stream, if any. Returns whether
// a session was found. Used by stall supervision to end a wedged turn.
func (o *Orchestrator) Cancel(sessionID string) bool {
	o.mu.Lock()
	cancel, ok := o.cancels[sessionID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Run executes one turn. Text deltas are forwarded to onDelta as they arrive.
// The user turn is persisted before any model call; the agent turn is
// persisted exactly once on completion. Cancellation mid-stream discards the
// partial agent turn.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest, onDelta func(delta string)) (*TurnResult, error) {
	if req.ConversationID == "" {
		return nil, fmt.Errorf("turn request requires a conversation id")
	}
	if onDelta == nil {
		onDelta = func(string) {}
	}
	if !o.acquire(req.ConversationID) {
		return nil, ErrTurnInFlight
	}
	defer o.release(req.ConversationID)

	sessionID := uuid.NewString()
	agentTurnID := uuid.NewString()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	o.mu.Lock()
	o.cancels[sessionID] = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.cancels, sessionID)
		o.mu.Unlock()
	}()

	o.setStatus(sessionID, StatusIdle)

	history, err := o.config.Store.History(ctx, req.ConversationID)
	if err != nil {
		o.setStatus(sessionID, StatusError)
		return nil, fmt.Errorf("loading conversation history: %w", err)
	}
	isFirst := len(history) == 0

	userTurn := conversation.Turn{
		ID:   uuid.NewString(),
		Role: conversation.RoleUser,
		Text: req.Text,
	}
	if _, err := o.config.Store.Append(ctx, req.ConversationID, userTurn); err != nil {
		o.setStatus(sessionID, StatusError)
		return nil, fmt.Errorf("persisting user turn: %w", err)
	}
	o.setStatus(sessionID, StatusSubmitted)

	binding, err := o.config.Resolver.Resolve(req.Model, req.Tier)
	if err != nil {
		o.setStatus(sessionID, StatusError)
		return nil, err
	}

	session, tools, err := o.openToolSession(ctx, sessionID)
	if err != nil {
		// First contact failed before any tokens streamed: fail the turn
		// rather than silently answer without tools.
		o.setStatus(sessionID, StatusError)
		return nil, err
	}
	if session != nil {
		defer session.Close()
	}

	messages := buildHistory(history)
	messages = append(messages, llm.NewTextMessage(llm.RoleUser, req.Text))

	result, err := o.generate(ctx, generation{
		sessionID: sessionID,
		binding:   binding,
		session:   session,
		tools:     tools,
		messages:  messages,
		onDelta:   onDelta,
	})
	if err != nil {
		if ctx.Err() != nil {
			// Cancelled mid-stream: the partial agent turn is discarded.
			// Cancellation is still terminal, so stall supervision lets
			// go of the session instead of recovering a finished turn.
			o.setStatus(sessionID, StatusCancelled)
			return nil, ctx.Err()
		}
		o.setStatus(sessionID, StatusError)
		return nil, err
	}
	if ctx.Err() != nil {
		o.setStatus(sessionID, StatusCancelled)
		return nil, ctx.Err()
	}

	if err := o.PersistFinal(ctx, req.ConversationID, agentTurnID, result.text); err != nil {
		o.setStatus(sessionID, StatusError)
		return nil, err
	}

	if isFirst {
		o.enqueueTitleJob(req.ConversationID, req.Text)
	}

	o.setStatus(sessionID, StatusSuccess)
	return &TurnResult{
		SessionID:   sessionID,
		AgentTurnID: agentTurnID,
		Text:        result.text,
		Usage:       result.usage,
		Steps:       result.steps,
	}, nil
}

// PersistFinal appends the completed agent turn. The turn id is minted once
// per session, so a retried or duplicated call lands on the same row and the
// store keeps a single copy.
func (o *Orchestrator) PersistFinal(ctx context.Context, conversationID, turnID, text string) error {
	turn := conversation.Turn{
		ID:   turnID,
		Role: conversation.RoleAgent,
		Text: text,
	}
	if _, err := o.config.Store.Append(ctx, conversationID, turn); err != nil {
		return fmt.Errorf("persisting agent turn: %w", err)
	}
	return nil
}

type generation struct {
	sessionID string
	binding   *router.Binding
	session   toolgateway.Session
	tools     map[string]llm.ToolDef
	messages  []llm.Message
	onDelta   func(string)
}

type generationResult struct {
	text  string
	usage llm.Usage
	steps int
}

func (o *Orchestrator) generate(ctx context.Context, g generation) (*generationResult, error) {
	result := &generationResult{}
	streaming := false
	toolDefs := toolDefList(g.tools)

	for {
		req := provider.Request{
			Model:       g.binding.Model,
			System:      o.config.SystemPrompt,
			Messages:    g.messages,
			Tools:       toolDefs,
			Temperature: g.binding.Temperature,
		}

		chunks, errs := g.binding.Client.Stream(ctx, req)

		var roundText strings.Builder
		var final llm.Chunk
		for chunk := range chunks {
			if !streaming {
				streaming = true
				o.setStatus(g.sessionID, StatusStreaming)
			}
			if chunk.TextDelta != "" {
				roundText.WriteString(chunk.TextDelta)
				g.onDelta(chunk.TextDelta)
			}
			if chunk.Done {
				final = chunk
			}
		}
		if err := <-errs; err != nil {
			return nil, fmt.Errorf("provider %s: %w", g.binding.Client.Name(), err)
		}

		result.text += roundText.String()
		if final.Usage != nil {
			result.usage.PromptTokens += final.Usage.PromptTokens
			result.usage.CompletionTokens += final.Usage.CompletionTokens
			result.usage.TotalTokens += final.Usage.TotalTokens
		}

		if len(final.ToolCalls) == 0 {
			return result, nil
		}
		latest := roundText.String()
		if o.config.AnswerProduced(latest) || o.config.ClarifyingQuestion(latest) {
			return result, nil
		}
		if result.steps >= o.config.StepBudget {
			o.config.Logger.Warn("step budget exhausted, ending turn",
				zap.String("session_id", g.sessionID),
				zap.Int("budget", o.config.StepBudget))
			return result, nil
		}
		if g.session == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		results, ok := o.invokeTools(ctx, g.sessionID, g.session, final.ToolCalls)
		g.messages = append(g.messages,
			assistantToolMessage(latest, final.ToolCalls),
			toolResultMessage(final.ToolCalls, results))
		result.steps++

		if !ok {
			// The gateway dropped mid-turn. Results carry the error back to
			// the model; no further invocations are attempted.
			g.session = nil
		}
	}
}

// openToolSession connects the gateway and lists its tools. A dial failure is
// fatal; a listing failure degrades the turn to an empty tool set with a
// single warning.
func (o *Orchestrator) openToolSession(ctx context.Context, sessionID string) (toolgateway.Session, map[string]llm.ToolDef, error) {
	if o.config.Gateway == nil {
		return nil, nil, nil
	}

	session, err := o.config.Gateway.Connect(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting tool gateway: %w", err)
	}

	tools, err := session.Tools(ctx)
	if err != nil {
		o.config.Logger.Warn("tool gateway unavailable, continuing without tools",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return session, nil, nil
	}
	return session, tools, nil
}

type toolOutcome struct {
	output  string
	isError bool
}

// invokeTools runs each requested call in order. The second return is false
// when the gateway itself failed, as opposed to a tool returning an error
// result.
func (o *Orchestrator) invokeTools(ctx context.Context, sessionID string, session toolgateway.Session, calls []llm.ToolCall) ([]toolOutcome, bool) {
	outcomes := make([]toolOutcome, len(calls))
	healthy := true
	for i, call := range calls {
		if !healthy || ctx.Err() != nil {
			outcomes[i] = toolOutcome{output: "tool gateway unavailable", isError: true}
			continue
		}
		output, isErr, err := session.Invoke(ctx, call.Name, json.RawMessage(call.Arguments))
		if err != nil {
			o.config.Logger.Warn("tool invocation failed",
				zap.String("session_id", sessionID),
				zap.String("tool", call.Name),
				zap.Error(err))
			outcomes[i] = toolOutcome{output: "tool gateway unavailable", isError: true}
			healthy = false
			continue
		}
		outcomes[i] = toolOutcome{output: output, isError: isErr}
	}
	return outcomes, healthy
}

func (o *Orchestrator) enqueueTitleJob(conversationID, userText string) {
	event := &eventstream.TitleRequestedEvent{
		SchemaVersion:  eventstream.SchemaVersionV1,
		EventType:      eventstream.EventTypeTitleRequested,
		EventID:        uuid.NewString(),
		EmittedAt:      time.Now().UTC(),
		ConversationID: conversationID,
		Text:           utils.StripHTML(userText),
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := o.config.Publisher.PublishTitleRequest(ctx, event); err != nil {
			o.config.Logger.Warn("publishing title request failed",
				zap.String("conversation_id", conversationID),
				zap.Error(err))
		}
	}()
}

func (o *Orchestrator) setStatus(sessionID string, status Status) {
	if o.config.OnStatus != nil {
		o.config.OnStatus(sessionID, status)
	}
}

func (o *Orchestrator) acquire(conversationID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, busy := o.inflight[conversationID]; busy {
		return false
	}
	o.inflight[conversationID] = struct{}{}
	return true
}

func (o *Orchestrator) release(conversationID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.inflight, conversationID)
}

func buildHistory(turns []conversation.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(turns)+1)
	for _, turn := range turns {
		role := llm.RoleUser
		if turn.Role == conversation.RoleAgent {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.NewTextMessage(role, turn.Text))
	}
	return messages
}

func toolDefList(tools map[string]llm.ToolDef) []llm.ToolDef {
	if len(tools) == 0 {
		return nil
	}
	defs := make([]llm.ToolDef, 0, len(tools))
	for _, def := range tools {
		defs = append(defs, def)
	}
	return defs
}

func assistantToolMessage(text string, calls []llm.ToolCall) llm.Message {
	blocks := make([]llm.ContentBlock, 0, len(calls)+1)
	if text != "" {
		blocks = append(blocks, llm.ContentBlock{Type: llm.BlockTypeText, Text: text})
	}
	for _, call := range calls {
		blocks = append(blocks, llm.ContentBlock{
			Type:      llm.BlockTypeToolUse,
			ToolUseID: call.ID,
			ToolName:  call.Name,
			ToolInput: json.RawMessage(call.Arguments),
		})
	}
	return llm.Message{Role: llm.RoleAssistant, Content: blocks}
}

func toolResultMessage(calls []llm.ToolCall, outcomes []toolOutcome) llm.Message {
	blocks := make([]llm.ContentBlock, 0, len(calls))
	for i, call := range calls {
		blocks = append(blocks, llm.ContentBlock{
			Type:         llm.BlockTypeToolResult,
			ToolResultID: call.ID,
			ToolName:     call.Name,
			ToolOutput:   outcomes[i].output,
			IsError:      outcomes[i].isError,
		})
	}
	return llm.Message{Role: llm.RoleTool, Content: blocks}
}
