package watchdog_test

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/pkg/orchestrator"
	"github.com/weftlabs/weft/pkg/watchdog"
)

// fakeTimer is hand-fired from the specs instead of waiting out real time.
type fakeTimer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
	resets  []time.Duration
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.resets = append(t.resets, d)
	was := !t.stopped
	t.stopped = false
	return was
}

func (t *fakeTimer) fire() {
	t.mu.Lock()
	stopped := t.stopped
	f := t.f
	t.mu.Unlock()
	if !stopped && f != nil {
		f()
	}
}

type timerFactory struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (tf *timerFactory) newTimer(_ time.Duration, f func()) watchdog.Timer {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	t := &fakeTimer{f: f}
	tf.timers = append(tf.timers, t)
	return t
}

func (tf *timerFactory) last() *fakeTimer {
	tf.mu.Lock()
	defer tf.mu.Unlock()
	Expect(tf.timers).NotTo(BeEmpty())
	return tf.timers[len(tf.timers)-1]
}

var _ = Describe("Watchdog", func() {
	var (
		timers   *timerFactory
		recovers []string
		reloads  []string
		dog      *watchdog.Watchdog
	)

	BeforeEach(func() {
		timers = &timerFactory{}
		recovers = nil
		reloads = nil

		var err error
		dog, err = watchdog.New(watchdog.Config{
			Recover:  func(id string) { recovers = append(recovers, id) },
			Reload:   func(id string) { reloads = append(reloads, id) },
			Logger:   zap.NewNop(),
			NewTimer: timers.newTimer,
		})
		Expect(err).NotTo(HaveOccurred())
	})

	It("requires recover, reload, and a logger", func() {
		_, err := watchdog.New(watchdog.Config{Logger: zap.NewNop()})
		Expect(err).To(HaveOccurred())
	})

	It("arms one timer per session and resets it on progress", func() {
		dog.Observe("s1", orchestrator.StatusSubmitted)
		dog.Observe("s1", orchestrator.StatusStreaming)
		dog.Heartbeat("s1")

		Expect(timers.timers).To(HaveLen(1))
		Expect(timers.last().resets).To(HaveLen(2))
	})

	It("retires the session on success without recovering", func() {
		dog.Observe("s1", orchestrator.StatusStreaming)
		dog.Observe("s1", orchestrator.StatusSuccess)
		Expect(timers.last().stopped).To(BeTrue())

		timers.last().fire()
		Expect(recovers).To(BeEmpty())
		Expect(reloads).To(BeEmpty())
	})

	It("retires the session on cancellation without recovering", func() {
		dog.Observe("s1", orchestrator.StatusStreaming)
		dog.Observe("s1", orchestrator.StatusCancelled)
		Expect(timers.last().stopped).To(BeTrue())

		timers.last().fire()
		Expect(recovers).To(BeEmpty())
		Expect(reloads).To(BeEmpty())
	})

	It("recovers twice on stalls, then reloads", func() {
		dog.Observe("s1", orchestrator.StatusStreaming)
		timer := timers.last()

		timer.fire()
		Expect(recovers).To(Equal([]string{"s1"}))

		timer.fire()
		Expect(recovers).To(Equal([]string{"s1", "s1"}))
		Expect(reloads).To(BeEmpty())

		timer.fire()
		Expect(recovers).To(HaveLen(2))
		Expect(reloads).To(Equal([]string{"s1"}))
	})

	It("applies the same policy to error transitions", func() {
		dog.Observe("s1", orchestrator.StatusStreaming)

		dog.Observe("s1", orchestrator.StatusError)
		dog.Observe("s1", orchestrator.StatusError)
		Expect(recovers).To(HaveLen(2))
		Expect(reloads).To(BeEmpty())

		dog.Observe("s1", orchestrator.StatusError)
		Expect(recovers).To(HaveLen(2))
		Expect(reloads).To(Equal([]string{"s1"}))
	})

	It("resets the recovery budget for a fresh session id", func() {
		dog.Observe("s1", orchestrator.StatusStreaming)
		timer := timers.last()
		timer.fire()
		timer.fire()
		timer.fire()
		Expect(reloads).To(Equal([]string{"s1"}))

		dog.Observe("s2", orchestrator.StatusStreaming)
		timers.last().fire()
		Expect(recovers).To(Equal([]string{"s1", "s1", "s2"}))
		Expect(reloads).To(Equal([]string{"s1"}))
	})

	It("tracks sessions independently", func() {
		dog.Observe("s1", orchestrator.StatusStreaming)
		first := timers.last()
		dog.Observe("s2", orchestrator.StatusStreaming)
		second := timers.last()
		Expect(first).NotTo(BeIdenticalTo(second))

		first.fire()
		Expect(recovers).To(Equal([]string{"s1"}))
	})

	It("stops every timer on shutdown", func() {
		dog.Observe("s1", orchestrator.StatusStreaming)
		dog.Observe("s2", orchestrator.StatusStreaming)
		dog.Stop()

		for _, timer := range timers.timers {
			timer.fire()
		}
		Expect(recovers).To(BeEmpty())
		Expect(reloads).To(BeEmpty())
	})
})
