// Package subscriber provides the base worker loop every bus consumer
// embeds: a dedicated goroutine, a bounded FIFO inbox, and the idle
// barrier the datafeed relies on for bar-at-a-time determinism.
//
// This is the Go realization of the source system's Component base class,
// which backs its inbox with a Python queue.Queue and tracks idleness via
// Queue.join()/task_done(). Go channels have no equivalent built-in, so the
// queued/in-flight bookkeeping here is explicit.
package subscriber

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Handler is implemented by the concrete subscriber type (broker, strategy,
// recorder, ...) to process one event off the inbox.
type Handler interface {
	// OnEvent processes one event. A panic here is recovered by the worker
	// loop and routed to OnException.
	OnEvent(event any)
	// OnException is invoked when OnEvent panics. The default behavior for
	// most subscribers is to swallow and continue (§7); a subscriber that
	// wants to escalate overrides this.
	OnException(err error)
	// OnShutdown runs once, on the worker goroutine, after the poison pill
	// is dequeued and before the goroutine exits. Used to flush buffers
	// and release resources (e.g. the recorder's database handle).
	OnShutdown()
}

type shutdownSentinel struct{}

// Base is embedded by every subscriber. It must be constructed with New
// and Start must be called once, passing the concrete Handler (which is
// usually the embedding type itself).
type Base struct {
	name   string
	logger *zap.Logger

	inbox chan any

	mu       sync.Mutex
	cond     *sync.Cond
	queued   int
	inFlight int
	running  bool

	shutdownOnce sync.Once
	doneCh       chan struct{}
}

// New constructs a subscriber base with the given inbox capacity. name is
// used only for logging.
func New(name string, logger *zap.Logger, inboxCapacity int) *Base {
	b := &Base{
		name:   name,
		logger: logger,
		inbox:  make(chan any, inboxCapacity),
		doneCh: make(chan struct{}),
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Start launches the dedicated worker goroutine. handler.OnEvent is invoked
// once per enqueued event, strictly in FIFO order, never concurrently with
// itself.
func (b *Base) Start(handler Handler) {
	b.mu.Lock()
	b.running = true
	b.mu.Unlock()
	go b.workerLoop(handler)
}

// Receive enqueues event if and only if the subscriber is still running;
// otherwise the event is dropped silently, matching §4.2's contract.
func (b *Base) Receive(event any) {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	b.queued++
	b.mu.Unlock()

	b.inbox <- event
}

// WaitUntilIdle blocks until the inbox is empty and no handler invocation
// is in flight. It must not be implemented as "channel empty" alone: a
// worker that has dequeued an event and is still running its handler has
// an empty channel but is not idle.
func (b *Base) WaitUntilIdle() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.queued > 0 || b.inFlight > 0 {
		b.cond.Wait()
	}
}

// Shutdown is idempotent: it stops accepting new events, enqueues the
// poison pill, and blocks until the worker goroutine has run OnShutdown
// and exited. Calling it from the worker goroutine itself would deadlock
// on the join, so callers must never invoke Shutdown from inside OnEvent.
func (b *Base) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.mu.Lock()
		b.running = false
		b.mu.Unlock()
		b.inbox <- shutdownSentinel{}
	})
	<-b.doneCh
}

// Name returns the subscriber's logging name.
func (b *Base) Name() string { return b.name }

func (b *Base) workerLoop(handler Handler) {
	defer close(b.doneCh)
	for raw := range b.inbox {
		if _, isShutdown := raw.(shutdownSentinel); isShutdown {
			handler.OnShutdown()
			return
		}
		b.mu.Lock()
		b.queued--
		b.inFlight++
		b.mu.Unlock()

		b.dispatch(handler, raw)

		b.mu.Lock()
		b.inFlight--
		b.cond.Broadcast()
		b.mu.Unlock()
	}
}

// dispatch invokes the handler with panic recovery, grounded on the
// teacher's worker-pool executeTask pattern: a panic inside user code must
// never take down the subscriber's goroutine.
func (b *Base) dispatch(handler Handler, event any) {
	defer func() {
		if r := recover(); r != nil {
			if b.logger != nil {
				b.logger.Error("subscriber handler panicked",
					zap.String("subscriber", b.name),
					zap.Any("panic", r),
				)
			}
			handler.OnException(fmt.Errorf("panic: %v", r))
		}
	}()
	handler.OnEvent(event)
}
