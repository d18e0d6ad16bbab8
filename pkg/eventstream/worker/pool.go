// Package worker provides an asynchronous worker pool for publishing title
// events using the provided eventstream.Publisher.
//
// The pool decouples publishing from the turn's streaming hot path so that a
// slow or unreachable broker never delays a reply to the user.
package worker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/weftlabs/weft/pkg/eventstream"
)

var (
	defaultNumWorkers   uint = 3
	defaultJobQueueSize uint = 256
)

// publishTimeout bounds one delivery attempt.
const publishTimeout = 10 * time.Second

// Config is the configuration options for the worker pool.
type Config struct {
	// Publisher is the downstream publisher jobs are delivered to.
	Publisher eventstream.Publisher

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool delivers title events asynchronously via a worker pool. It implements
// eventstream.Publisher itself, so it can wrap any downstream publisher.
type Pool struct {
	config *Config
	queue  chan *eventstream.TitleRequestedEvent
	wg     sync.WaitGroup
	logger *zap.Logger
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Publisher == nil {
		return nil, fmt.Errorf("downstream publisher is required")
	}
	if c.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	wp := &Pool{
		config: c,
		queue:  make(chan *eventstream.TitleRequestedEvent, c.QueueSize),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// PublishTitleRequest enqueues the event for background delivery. A full
// queue drops the event; title generation is best effort.
func (p *Pool) PublishTitleRequest(_ context.Context, event *eventstream.TitleRequestedEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	select {
	case p.queue <- event:
		p.logger.Debug("title job queued",
			zap.String("conversation_id", event.ConversationID),
			zap.String("event_id", event.EventID),
		)
	default:
		p.logger.Error("title job not queued, queue full, job dropped",
			zap.String("conversation_id", event.ConversationID),
			zap.String("event_id", event.EventID),
		)
	}
	return nil
}

// Close signals workers to stop, waits for in-flight jobs to drain, then
// closes the downstream publisher. Call this during graceful shutdown after
// the HTTP server has stopped.
func (p *Pool) Close() error {
	close(p.queue)
	p.wg.Wait()
	return p.config.Publisher.Close()
}

// worker is the inner worker thread that continuously pulls jobs off the queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for event := range p.queue {
		p.deliver(event)
	}

	p.logger.Debug("publish worker stopped", zap.Uint("worker_id", id))
}

// deliver publishes one event. Errors are logged but not surfaced; a missed
// title never fails a conversation turn.
func (p *Pool) deliver(event *eventstream.TitleRequestedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := p.config.Publisher.PublishTitleRequest(ctx, event); err != nil {
		p.logger.Error("async title publish failed",
			zap.String("conversation_id", event.ConversationID),
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		return
	}

	p.logger.Info("title job published",
		zap.String("conversation_id", event.ConversationID),
		zap.String("event_id", event.EventID),
	)
}

var _ eventstream.Publisher = (*Pool)(nil)
