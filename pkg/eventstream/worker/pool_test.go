package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/pkg/eventstream"
)

// recordingPublisher captures delivered events; optionally fails.
type recordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.TitleRequestedEvent
	err    error
	closed bool
}

func (p *recordingPublisher) PublishTitleRequest(_ context.Context, event *eventstream.TitleRequestedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *recordingPublisher) Events() []*eventstream.TitleRequestedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*eventstream.TitleRequestedEvent(nil), p.events...)
}

func titleEvent(conversationID string) *eventstream.TitleRequestedEvent {
	return &eventstream.TitleRequestedEvent{
		SchemaVersion:  eventstream.SchemaVersionV1,
		EventType:      eventstream.EventTypeTitleRequested,
		EventID:        "evt-" + conversationID,
		EmittedAt:      time.Now().UTC(),
		ConversationID: conversationID,
		Text:           "first message",
	}
}

var _ = Describe("Pool", func() {
	var downstream *recordingPublisher

	BeforeEach(func() {
		downstream = &recordingPublisher{}
	})

	newTestPool := func() *Pool {
		wp, err := NewPool(&Config{
			Publisher: downstream,
			Logger:    zap.NewNop(),
		})
		Expect(err).NotTo(HaveOccurred())
		return wp
	}

	Describe("NewPool", func() {
		It("requires a downstream publisher", func() {
			_, err := NewPool(&Config{Logger: zap.NewNop()})
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("PublishTitleRequest", func() {
		It("delivers enqueued events to the downstream publisher", func() {
			wp := newTestPool()

			Expect(wp.PublishTitleRequest(context.Background(), titleEvent("conv-1"))).To(Succeed())
			Expect(wp.PublishTitleRequest(context.Background(), titleEvent("conv-2"))).To(Succeed())
			Expect(wp.Close()).To(Succeed())

			events := downstream.Events()
			Expect(events).To(HaveLen(2))
			ids := []string{events[0].ConversationID, events[1].ConversationID}
			Expect(ids).To(ConsistOf("conv-1", "conv-2"))
		})

		It("rejects a nil event", func() {
			wp := newTestPool()
			defer wp.Close()

			Expect(wp.PublishTitleRequest(context.Background(), nil)).To(MatchError(eventstream.ErrNilEvent))
		})

		It("swallows downstream failures", func() {
			downstream.err = errors.New("broker down")
			wp := newTestPool()

			Expect(wp.PublishTitleRequest(context.Background(), titleEvent("conv-1"))).To(Succeed())
			Expect(wp.Close()).To(Succeed())

			Expect(downstream.Events()).To(BeEmpty())
		})
	})

	Describe("Close", func() {
		It("drains in-flight jobs and closes the downstream publisher", func() {
			wp := newTestPool()

			for i := 0; i < 10; i++ {
				Expect(wp.PublishTitleRequest(context.Background(), titleEvent("conv-n"))).To(Succeed())
			}
			Expect(wp.Close()).To(Succeed())

			Expect(downstream.Events()).To(HaveLen(10))
			Expect(downstream.closed).To(BeTrue())
		})
	})
})
