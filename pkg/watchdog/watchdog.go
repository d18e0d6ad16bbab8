// Package watchdog supervises streaming sessions. A session that stops making
// progress is recovered in place a bounded number of times, then reloaded.
package watchdog

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/pkg/orchestrator"
)

const (
	// DefaultStallTimeout is how long a session may go without a status
	// change or a streamed delta before it is considered stalled.
	DefaultStallTimeout = 30 * time.Second

	// DefaultMaxRecoveries is how many in-place recoveries are attempted
	// before the session is reloaded.
	DefaultMaxRecoveries = 2
)

// ErrStreamStalled marks a session that produced no progress within the
// stall timeout.
var ErrStreamStalled = errors.New("stream stalled")

// Timer is the subset of *time.Timer the watchdog needs. Tests substitute a
// hand-fired implementation.
type Timer interface {
	Stop() bool
	Reset(d time.Duration) bool
}

// Config assembles a Watchdog. Recover and Reload are required.
type Config struct {
	// StallTimeout overrides DefaultStallTimeout when positive.
	StallTimeout time.Duration

	// MaxRecoveries overrides DefaultMaxRecoveries when positive.
	MaxRecoveries int

	// Recover attempts to resume a stalled session in place.
	Recover func(sessionID string)

	// Reload tears the session down and starts over. Invoked once the
	// recovery budget is spent.
	Reload func(sessionID string)

	Logger *zap.Logger

	// NewTimer defaults to time.AfterFunc.
	NewTimer func(d time.Duration, f func()) Timer
}

// Watchdog tracks active sessions by id. Safe for concurrent use.
type Watchdog struct {
	config Config

	mu       sync.Mutex
	sessions map[string]*sessionState
}

type sessionState struct {
	timer      Timer
	recoveries int
}

// New validates the config and returns a Watchdog.
func New(config Config) (*Watchdog, error) {
	if config.Recover == nil || config.Reload == nil {
		return nil, fmt.Errorf("watchdog requires recover and reload handlers")
	}
	if config.Logger == nil {
		return nil, fmt.Errorf("watchdog requires a logger")
	}
	if config.StallTimeout <= 0 {
		config.StallTimeout = DefaultStallTimeout
	}
	if config.MaxRecoveries <= 0 {
		config.MaxRecoveries = DefaultMaxRecoveries
	}
	if config.NewTimer == nil {
		config.NewTimer = func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		}
	}
	return &Watchdog{
		config:   config,
		sessions: make(map[string]*sessionState),
	}, nil
}

// Observe feeds one status transition. Non-terminal statuses arm or reset the
// stall timer; Success and Cancelled retire the session; Error drives the
// same recovery policy a stall does.
func (w *Watchdog) Observe(sessionID string, status orchestrator.Status) {
	switch status {
	case orchestrator.StatusSuccess, orchestrator.StatusCancelled:
		w.retire(sessionID)
	case orchestrator.StatusError:
		w.escalate(sessionID)
	default:
		w.Heartbeat(sessionID)
	}
}

// Heartbeat notes progress on a session, resetting its stall timer. Unknown
// session ids start being tracked.
func (w *Watchdog) Heartbeat(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if state, ok := w.sessions[sessionID]; ok {
		state.timer.Reset(w.config.StallTimeout)
		return
	}
	state := &sessionState{}
	state.timer = w.config.NewTimer(w.config.StallTimeout, func() {
		w.stalled(sessionID)
	})
	w.sessions[sessionID] = state
}

// Stop retires every tracked session.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, state := range w.sessions {
		state.timer.Stop()
		delete(w.sessions, id)
	}
}

func (w *Watchdog) retire(sessionID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if state, ok := w.sessions[sessionID]; ok {
		state.timer.Stop()
		delete(w.sessions, sessionID)
	}
}

func (w *Watchdog) stalled(sessionID string) {
	w.config.Logger.Warn("session stalled",
		zap.String("session_id", sessionID),
		zap.Duration("timeout", w.config.StallTimeout),
		zap.Error(ErrStreamStalled))
	w.escalate(sessionID)
}

// escalate applies the recovery policy: recover in place while budget
// remains, then reload and retire the session.
func (w *Watchdog) escalate(sessionID string) {
	w.mu.Lock()
	state, ok := w.sessions[sessionID]
	if !ok {
		state = &sessionState{
			timer: w.config.NewTimer(w.config.StallTimeout, func() {
				w.stalled(sessionID)
			}),
		}
		w.sessions[sessionID] = state
	}

	if state.recoveries >= w.config.MaxRecoveries {
		state.timer.Stop()
		delete(w.sessions, sessionID)
		w.mu.Unlock()

		w.config.Logger.Warn("recovery budget spent, reloading session",
			zap.String("session_id", sessionID),
			zap.Int("recoveries", state.recoveries))
		w.config.Reload(sessionID)
		return
	}

	state.recoveries++
	attempt := state.recoveries
	state.timer.Reset(w.config.StallTimeout)
	w.mu.Unlock()

	w.config.Logger.Info("recovering session",
		zap.String("session_id", sessionID),
		zap.Int("attempt", attempt))
	w.config.Recover(sessionID)
}
