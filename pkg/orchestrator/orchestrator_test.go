package orchestrator_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/weftlabs/weft/pkg/conversation"
	"github.com/weftlabs/weft/pkg/conversation/inmemory"
	"github.com/weftlabs/weft/pkg/llm"
	"github.com/weftlabs/weft/pkg/orchestrator"
	"github.com/weftlabs/weft/pkg/toolgateway"
)

type statusRecorder struct {
	mu       sync.Mutex
	statuses []orchestrator.Status
}

func (r *statusRecorder) record(_ string, status orchestrator.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

func (r *statusRecorder) all() []orchestrator.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]orchestrator.Status(nil), r.statuses...)
}

func textRound(text string) scriptedRound {
	return scriptedRound{chunks: []llm.Chunk{
		{TextDelta: text},
		{Done: true, StopReason: "stop", Usage: &llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}},
	}}
}

func toolRound(text, callID, tool, args string) scriptedRound {
	return scriptedRound{chunks: []llm.Chunk{
		{TextDelta: text},
		{Done: true, StopReason: "tool_calls", ToolCalls: []llm.ToolCall{
			{ID: callID, Name: tool, Arguments: args},
		}},
	}}
}

var _ = Describe("Orchestrator", func() {
	var (
		store     *inmemory.Store
		publisher *fakePublisher
		recorder  *statusRecorder
		logs      *observer.ObservedLogs
		logger    *zap.Logger
	)

	BeforeEach(func() {
		store = inmemory.NewStore()
		publisher = &fakePublisher{}
		recorder = &statusRecorder{}
		core, observed := observer.New(zap.WarnLevel)
		logs = observed
		logger = zap.New(core)
	})

	newOrchestrator := func(config orchestrator.Config) *orchestrator.Orchestrator {
		config.Store = store
		config.Publisher = publisher
		config.Logger = logger
		config.OnStatus = recorder.record
		o, err := orchestrator.New(config)
		Expect(err).NotTo(HaveOccurred())
		return o
	}

	Describe("a plain text turn", func() {
		It("streams deltas, persists both turns, and ends in success", func() {
			client := &fakeClient{rounds: []scriptedRound{textRound("Hello there.")}}
			o := newOrchestrator(orchestrator.Config{Resolver: resolverFor(client)})

			var deltas []string
			result, err := o.Run(context.Background(), orchestrator.TurnRequest{
				ConversationID: "conv-1",
				Text:           "hi",
			}, func(delta string) { deltas = append(deltas, delta) })

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Text).To(Equal("Hello there."))
			Expect(result.Steps).To(Equal(0))
			Expect(result.Usage.TotalTokens).To(Equal(15))
			Expect(deltas).To(Equal([]string{"Hello there."}))

			turns, err := store.History(context.Background(), "conv-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(2))
			Expect(turns[0].Role).To(Equal(conversation.RoleUser))
			Expect(turns[0].Text).To(Equal("hi"))
			Expect(turns[1].Role).To(Equal(conversation.RoleAgent))
			Expect(turns[1].Text).To(Equal("Hello there."))
			Expect(turns[1].ID).To(Equal(result.AgentTurnID))

			Expect(recorder.all()).To(Equal([]orchestrator.Status{
				orchestrator.StatusIdle,
				orchestrator.StatusSubmitted,
				orchestrator.StatusStreaming,
				orchestrator.StatusSuccess,
			}))
		})

		It("sends prior history plus the new user message to the provider", func() {
			_, err := store.Append(context.Background(), "conv-1", conversation.Turn{
				ID: "t1", Role: conversation.RoleUser, Text: "earlier question",
			})
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Append(context.Background(), "conv-1", conversation.Turn{
				ID: "t2", Role: conversation.RoleAgent, Text: "earlier answer",
			})
			Expect(err).NotTo(HaveOccurred())

			client := &fakeClient{rounds: []scriptedRound{textRound("Sure.")}}
			o := newOrchestrator(orchestrator.Config{Resolver: resolverFor(client)})

			_, err = o.Run(context.Background(), orchestrator.TurnRequest{
				ConversationID: "conv-1",
				Text:           "follow-up",
			}, nil)
			Expect(err).NotTo(HaveOccurred())

			requests := client.Requests()
			Expect(requests).To(HaveLen(1))
			messages := requests[0].Messages
			Expect(messages).To(HaveLen(3))
			Expect(messages[0].Role).To(Equal(llm.RoleUser))
			Expect(messages[0].Text()).To(Equal("earlier question"))
			Expect(messages[1].Role).To(Equal(llm.RoleAssistant))
			Expect(messages[2].Text()).To(Equal("follow-up"))
		})
	})

	Describe("title jobs", func() {
		It("publishes exactly one stripped title request for the first message", func() {
			client := &fakeClient{rounds: []scriptedRound{textRound("Done.")}}
			o := newOrchestrator(orchestrator.Config{Resolver: resolverFor(client)})

			_, err := o.Run(context.Background(), orchestrator.TurnRequest{
				ConversationID: "conv-1",
				Text:           "<b>Deploy</b> the <i>staging</i> build",
			}, nil)
			Expect(err).NotTo(HaveOccurred())

			Eventually(publisher.Events).Should(HaveLen(1))
			event := publisher.Events()[0]
			Expect(event.ConversationID).To(Equal("conv-1"))
			Expect(event.Text).To(Equal("Deploy the staging build"))
			Expect(event.EventID).NotTo(BeEmpty())
		})

		It("does not publish for subsequent messages", func() {
			client := &fakeClient{rounds: []scriptedRound{textRound("One."), textRound("Two.")}}
			o := newOrchestrator(orchestrator.Config{Resolver: resolverFor(client)})

			_, err := o.Run(context.Background(), orchestrator.TurnRequest{ConversationID: "conv-1", Text: "first"}, nil)
			Expect(err).NotTo(HaveOccurred())
			_, err = o.Run(context.Background(), orchestrator.TurnRequest{ConversationID: "conv-1", Text: "second"}, nil)
			Expect(err).NotTo(HaveOccurred())

			Eventually(publisher.Events).Should(HaveLen(1))
			Consistently(publisher.Events).Should(HaveLen(1))
		})
	})

	Describe("tool round-trips", func() {
		var session *fakeSession

		BeforeEach(func() {
			session = &fakeSession{
				tools: map[string]llm.ToolDef{
					"search": {Name: "search", Description: "Search the index", InputSchema: map[string]any{"type": "object"}},
				},
				invoke: func(string, json.RawMessage) (string, bool, error) {
					return "3 results", false, nil
				},
			}
		})

		It("executes requested calls and feeds results back into the next round", func() {
			client := &fakeClient{rounds: []scriptedRound{
				toolRound("Looking that up.", "call-1", "search", `{"q":"weather"}`),
				textRound("It will rain."),
			}}
			o := newOrchestrator(orchestrator.Config{
				Resolver: resolverFor(client),
				Gateway:  &fakeConnector{session: session},
			})

			result, err := o.Run(context.Background(), orchestrator.TurnRequest{
				ConversationID: "conv-1",
				Text:           "weather tomorrow, please",
			}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Steps).To(Equal(1))
			Expect(result.Text).To(Equal("Looking that up.It will rain."))

			invocations := session.Invocations()
			Expect(invocations).To(HaveLen(1))
			Expect(invocations[0].name).To(Equal("search"))
			Expect(string(invocations[0].args)).To(Equal(`{"q":"weather"}`))

			requests := client.Requests()
			Expect(requests).To(HaveLen(2))
			Expect(requests[0].Tools).To(HaveLen(1))

			second := requests[1].Messages
			assistant := second[len(second)-2]
			Expect(assistant.Role).To(Equal(llm.RoleAssistant))
			Expect(assistant.Content).To(ContainElement(And(
				HaveField("Type", llm.BlockTypeToolUse),
				HaveField("ToolName", "search"),
			)))
			toolMsg := second[len(second)-1]
			Expect(toolMsg.Role).To(Equal(llm.RoleTool))
			Expect(toolMsg.Content[0].ToolOutput).To(Equal("3 results"))
			Expect(toolMsg.Content[0].IsError).To(BeFalse())
		})

		It("never exceeds the step budget", func() {
			client := &fakeClient{rounds: []scriptedRound{
				toolRound("Working.", "call-1", "search", `{}`),
			}}
			o := newOrchestrator(orchestrator.Config{
				Resolver:   resolverFor(client),
				Gateway:    &fakeConnector{session: session},
				StepBudget: 2,
			})

			result, err := o.Run(context.Background(), orchestrator.TurnRequest{
				ConversationID: "conv-1",
				Text:           "loop forever",
			}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Steps).To(Equal(2))
			Expect(session.Invocations()).To(HaveLen(2))
		})

		It("stops without invoking tools when the model asked a clarifying question", func() {
			client := &fakeClient{rounds: []scriptedRound{
				toolRound("Which city do you mean?", "call-1", "search", `{}`),
			}}
			o := newOrchestrator(orchestrator.Config{
				Resolver: resolverFor(client),
				Gateway:  &fakeConnector{session: session},
			})

			result, err := o.Run(context.Background(), orchestrator.TurnRequest{
				ConversationID: "conv-1",
				Text:           "weather",
			}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Text).To(Equal("Which city do you mean?"))
			Expect(session.Invocations()).To(BeEmpty())
		})

		It("stops when the latest text declares a final answer", func() {
			client := &fakeClient{rounds: []scriptedRound{
				toolRound("Final answer: 42.", "call-1", "search", `{}`),
			}}
			o := newOrchestrator(orchestrator.Config{
				Resolver: resolverFor(client),
				Gateway:  &fakeConnector{session: session},
			})

			result, err := o.Run(context.Background(), orchestrator.TurnRequest{
				ConversationID: "conv-1",
				Text:           "meaning of life",
			}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Text).To(Equal("Final answer: 42."))
			Expect(session.Invocations()).To(BeEmpty())
		})
	})

	Describe("tool gateway degradation", func() {
		It("fails the turn when the gateway cannot be dialed", func() {
			client := &fakeClient{rounds: []scriptedRound{textRound("unused")}}
			o := newOrchestrator(orchestrator.Config{
				Resolver: resolverFor(client),
				Gateway:  &fakeConnector{dialErr: toolgateway.ErrUnavailable},
			})

			_, err := o.Run(context.Background(), orchestrator.TurnRequest{
				ConversationID: "conv-1",
				Text:           "hi",
			}, nil)
			Expect(err).To(MatchError(toolgateway.ErrUnavailable))

			turns, herr := store.History(context.Background(), "conv-1")
			Expect(herr).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(1))
			Expect(turns[0].Role).To(Equal(conversation.RoleUser))

			statuses := recorder.all()
			Expect(statuses[len(statuses)-1]).To(Equal(orchestrator.StatusError))
		})

		It("completes without tools and logs one warning when listing fails", func() {
			session := &fakeSession{toolsErr: errors.New("listing tools: connection reset")}
			client := &fakeClient{rounds: []scriptedRound{textRound("Answer anyway.")}}
			o := newOrchestrator(orchestrator.Config{
				Resolver: resolverFor(client),
				Gateway:  &fakeConnector{session: session},
			})

			result, err := o.Run(context.Background(), orchestrator.TurnRequest{
				ConversationID: "conv-1",
				Text:           "hi",
			}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Text).To(Equal("Answer anyway."))

			Expect(client.Requests()[0].Tools).To(BeEmpty())
			unavailable := logs.FilterMessage("tool gateway unavailable, continuing without tools")
			Expect(unavailable.Len()).To(Equal(1))
		})

		It("stops invoking tools after a mid-turn gateway failure", func() {
			session := &fakeSession{
				tools: map[string]llm.ToolDef{"search": {Name: "search"}},
				invoke: func(string, json.RawMessage) (string, bool, error) {
					return "", false, errors.New("gateway went away")
				},
			}
			client := &fakeClient{rounds: []scriptedRound{
				toolRound("Trying.", "call-1", "search", `{}`),
				textRound("Best effort."),
			}}
			o := newOrchestrator(orchestrator.Config{
				Resolver: resolverFor(client),
				Gateway:  &fakeConnector{session: session},
			})

			result, err := o.Run(context.Background(), orchestrator.TurnRequest{
				ConversationID: "conv-1",
				Text:           "hi",
			}, nil)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Text).To(Equal("Trying.Best effort."))
			Expect(session.Invocations()).To(HaveLen(1))

			toolMsg := client.Requests()[1].Messages
			Expect(toolMsg[len(toolMsg)-1].Content[0].IsError).To(BeTrue())
		})
	})

	Describe("single-flight per conversation", func() {
		It("rejects a second turn while one is in flight", func() {
			hanging := &hangingClient{started: make(chan struct{})}
			o := newOrchestrator(orchestrator.Config{Resolver: resolverFor(hanging)})

			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			go func() {
				defer close(done)
				_, _ = o.Run(ctx, orchestrator.TurnRequest{ConversationID: "conv-1", Text: "first"}, nil)
			}()
			Eventually(hanging.started).Should(BeClosed())

			_, err := o.Run(context.Background(), orchestrator.TurnRequest{ConversationID: "conv-1", Text: "second"}, nil)
			Expect(err).To(MatchError(orchestrator.ErrTurnInFlight))

			// A different conversation is unaffected.
			client := &fakeClient{rounds: []scriptedRound{textRound("ok")}}
			other := newOrchestrator(orchestrator.Config{Resolver: resolverFor(client)})
			_, err = other.Run(context.Background(), orchestrator.TurnRequest{ConversationID: "conv-2", Text: "hi"}, nil)
			Expect(err).NotTo(HaveOccurred())

			cancel()
			Eventually(done).Should(BeClosed())
		})
	})

	Describe("cancellation", func() {
		It("does not persist a partial agent turn", func() {
			hanging := &hangingClient{started: make(chan struct{})}
			o := newOrchestrator(orchestrator.Config{Resolver: resolverFor(hanging)})

			ctx, cancel := context.WithCancel(context.Background())
			errCh := make(chan error, 1)
			go func() {
				_, err := o.Run(ctx, orchestrator.TurnRequest{ConversationID: "conv-1", Text: "hi"}, nil)
				errCh <- err
			}()
			Eventually(hanging.started).Should(BeClosed())
			cancel()

			var err error
			Eventually(errCh).Should(Receive(&err))
			Expect(err).To(MatchError(context.Canceled))

			turns, herr := store.History(context.Background(), "conv-1")
			Expect(herr).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(1))
			Expect(turns[0].Role).To(Equal(conversation.RoleUser))
		})

		It("ends the session with a terminal cancelled status", func() {
			hanging := &hangingClient{started: make(chan struct{})}
			o := newOrchestrator(orchestrator.Config{Resolver: resolverFor(hanging)})

			ctx, cancel := context.WithCancel(context.Background())
			errCh := make(chan error, 1)
			go func() {
				_, err := o.Run(ctx, orchestrator.TurnRequest{ConversationID: "conv-1", Text: "hi"}, nil)
				errCh <- err
			}()
			Eventually(hanging.started).Should(BeClosed())
			cancel()
			Eventually(errCh).Should(Receive(MatchError(context.Canceled)))

			statuses := recorder.all()
			last := statuses[len(statuses)-1]
			Expect(last).To(Equal(orchestrator.StatusCancelled))
			Expect(last.Terminal()).To(BeTrue())
		})
	})

	Describe("Cancel", func() {
		It("tears down an in-flight session by id", func() {
			hanging := &hangingClient{started: make(chan struct{})}
			var mu sync.Mutex
			var sessionID string
			o, err := orchestrator.New(orchestrator.Config{
				Resolver: resolverFor(hanging),
				Store:    store,
				Logger:   logger,
				OnStatus: func(id string, _ orchestrator.Status) {
					mu.Lock()
					sessionID = id
					mu.Unlock()
				},
			})
			Expect(err).NotTo(HaveOccurred())

			errCh := make(chan error, 1)
			go func() {
				_, rerr := o.Run(context.Background(), orchestrator.TurnRequest{ConversationID: "conv-1", Text: "hi"}, nil)
				errCh <- rerr
			}()
			Eventually(hanging.started).Should(BeClosed())

			mu.Lock()
			id := sessionID
			mu.Unlock()
			Expect(o.Cancel(id)).To(BeTrue())

			var rerr error
			Eventually(errCh).Should(Receive(&rerr))
			Expect(rerr).To(MatchError(context.Canceled))

			Expect(o.Cancel(id)).To(BeFalse())
		})
	})

	Describe("idempotent completion", func() {
		It("keeps a single agent turn when the final persist fires twice", func() {
			client := &fakeClient{rounds: []scriptedRound{textRound("Once.")}}
			o := newOrchestrator(orchestrator.Config{Resolver: resolverFor(client)})

			result, err := o.Run(context.Background(), orchestrator.TurnRequest{
				ConversationID: "conv-1",
				Text:           "hi",
			}, nil)
			Expect(err).NotTo(HaveOccurred())

			Expect(o.PersistFinal(context.Background(), "conv-1", result.AgentTurnID, result.Text)).To(Succeed())

			turns, herr := store.History(context.Background(), "conv-1")
			Expect(herr).NotTo(HaveOccurred())
			Expect(turns).To(HaveLen(2))
		})
	})

	Describe("status names", func() {
		It("renders lowercase names", func() {
			Expect(orchestrator.StatusIdle.String()).To(Equal("idle"))
			Expect(orchestrator.StatusStreaming.String()).To(Equal("streaming"))
			Expect(orchestrator.StatusCancelled.String()).To(Equal("cancelled"))
			Expect(orchestrator.StatusSuccess.Terminal()).To(BeTrue())
			Expect(orchestrator.StatusCancelled.Terminal()).To(BeTrue())
			Expect(orchestrator.StatusSubmitted.Terminal()).To(BeFalse())
		})
	})
})

var _ = Describe("New", func() {
	It("requires a resolver, store, and logger", func() {
		_, err := orchestrator.New(orchestrator.Config{})
		Expect(err).To(HaveOccurred())
		Expect(strings.Contains(err.Error(), "resolver")).To(BeTrue())
	})
})

var _ = Describe("turn timing", func() {
	It("finishes a scripted turn quickly", func() {
		store := inmemory.NewStore()
		client := &fakeClient{rounds: []scriptedRound{textRound("fast")}}
		o, err := orchestrator.New(orchestrator.Config{
			Resolver: resolverFor(client),
			Store:    store,
			Logger:   zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())

		start := time.Now()
		_, err = o.Run(context.Background(), orchestrator.TurnRequest{ConversationID: "c", Text: "hi"}, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(time.Since(start)).To(BeNumerically("<", time.Second))
	})
})
