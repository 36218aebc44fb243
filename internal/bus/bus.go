package bus

import (
	"log/slog"
	"sync"
	"time"

	"openbridge/internal/domain"
)

const publishTimeout = 10 * time.Second

// Emitter hands outbound messages and turn errors to the host sink on a
// separate goroutine so the caller's stack unwinds before the sink runs.
// Sink calls never overlap and happen in the order they were scheduled.
type Emitter struct {
	sink   domain.Sink
	wg     sync.WaitGroup
	mu     sync.Mutex
	tail   chan struct{} // closed when the latest scheduled delivery returns
	closed bool
	logger *slog.Logger
}

func NewEmitter(sink domain.Sink, logger *slog.Logger) *Emitter {
	return &Emitter{sink: sink, logger: logger}
}

// Deliver schedules msg for the sink. A nil msg is ignored.
func (e *Emitter) Deliver(msg *domain.OutboundMessage) {
	if msg == nil {
		return
	}
	e.dispatch(msg, nil)
}

// Fail schedules err for the sink's error path. A nil err is ignored.
func (e *Emitter) Fail(err error) {
	if err == nil {
		return
	}
	e.dispatch(nil, err)
}

func (e *Emitter) dispatch(msg *domain.OutboundMessage, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		e.logger.Warn("attempted to emit on closed emitter", "error", err)
		return
	}
	if e.sink == nil {
		e.logger.Warn("no sink registered, dropping turn result", "error", err)
		return
	}

	prev, done := e.tail, make(chan struct{})
	e.tail = done

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("sink panicked", "panic", r)
			}
		}()
		if prev != nil {
			<-prev
		}
		e.sink(msg, err)
	}()
}

// Wait blocks until every scheduled delivery has returned.
func (e *Emitter) Wait() {
	e.wg.Wait()
}

// Close rejects further deliveries and waits for outstanding ones.
func (e *Emitter) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

// Result is one sink invocation captured by a ChannelSink.
type Result struct {
	Message *domain.OutboundMessage
	Err     error
}

// ChannelSink adapts the sink callback to a buffered channel for callers
// that want to block on the next turn result.
type ChannelSink struct {
	results chan Result
	logger  *slog.Logger
}

func NewChannelSink(bufferSize int, logger *slog.Logger) *ChannelSink {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &ChannelSink{
		results: make(chan Result, bufferSize),
		logger:  logger,
	}
}

// Sink returns the callback to hand to the bridge.
func (c *ChannelSink) Sink() domain.Sink {
	return c.publish
}

// Blocks up to 10 seconds if the buffer is full instead of dropping.
func (c *ChannelSink) publish(msg *domain.OutboundMessage, err error) {
	r := Result{Message: msg, Err: err}
	select {
	case c.results <- r:
	default:
		c.logger.Warn("result buffer full, waiting...")
		timer := time.NewTimer(publishTimeout)
		defer timer.Stop()
		select {
		case c.results <- r:
		case <-timer.C:
			c.logger.Error("turn result dropped: buffer full for 10s", "error", err)
		}
	}
}

func (c *ChannelSink) Results() <-chan Result {
	return c.results
}
