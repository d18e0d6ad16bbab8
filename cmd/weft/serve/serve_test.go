package servecmder

import (
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/weftlabs/weft/pkg/config"
	"github.com/weftlabs/weft/pkg/orchestrator"
	"github.com/weftlabs/weft/pkg/watchdog"
)

// stallTimer is hand-fired from the specs instead of waiting out real time.
type stallTimer struct {
	mu      sync.Mutex
	f       func()
	stopped bool
}

func (t *stallTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = true
	return was
}

func (t *stallTimer) Reset(time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := !t.stopped
	t.stopped = false
	return was
}

func (t *stallTimer) fire() {
	t.mu.Lock()
	stopped := t.stopped
	f := t.f
	t.mu.Unlock()
	if !stopped && f != nil {
		f()
	}
}

var _ = Describe("stall supervision wiring", func() {
	var (
		timer   *stallTimer
		cancels []string
		dog     *watchdog.Watchdog
	)

	BeforeEach(func() {
		timer = nil
		cancels = nil

		var err error
		dog, err = newWatchdog(
			config.NewDefaultConfig(),
			zap.NewNop(),
			func(sessionID string) bool {
				cancels = append(cancels, sessionID)
				return true
			},
			func(_ time.Duration, f func()) watchdog.Timer {
				timer = &stallTimer{f: f}
				return timer
			},
		)
		Expect(err).NotTo(HaveOccurred())
	})

	It("cancels the wedged stream on the first stall", func() {
		dog.Observe("s1", orchestrator.StatusStreaming)

		timer.fire()
		Expect(cancels).To(Equal([]string{"s1"}))
	})

	It("keeps cancelling on every attempt through the reload", func() {
		dog.Observe("s1", orchestrator.StatusStreaming)

		timer.fire()
		timer.fire()
		timer.fire()
		Expect(cancels).To(Equal([]string{"s1", "s1", "s1"}))

		// The session is retired after the reload.
		timer.fire()
		Expect(cancels).To(HaveLen(3))
	})

	It("uses the configured stall budget", func() {
		cfg := config.NewDefaultConfig()
		Expect(cfg.Watchdog.StallTimeoutSec).To(Equal(30))
		Expect(cfg.Watchdog.MaxRecoveries).To(Equal(2))
	})
})
