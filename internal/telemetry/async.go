package telemetry

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// emitTimeout is the max time allowed for a single async emit.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long Close waits for buffered events before giving up. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// DefaultBufferSize is the async emitter queue length when none is given.
const DefaultBufferSize = 1024

// AsyncEmitter queues events for a single background goroutine so callers never wait on the
// downstream emitter. When the queue is full the event is dropped and counted.
type AsyncEmitter struct {
	next    EventEmitter
	queue   chan *Event
	done    chan struct{}
	dropped atomic.Int64

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

var _ EventEmitter = (*AsyncEmitter)(nil)

// NewAsyncEmitter starts the delivery goroutine. bufferSize <= 0 uses DefaultBufferSize.
func NewAsyncEmitter(next EventEmitter, bufferSize int) *AsyncEmitter {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	a := &AsyncEmitter{
		next:  next,
		queue: make(chan *Event, bufferSize),
		done:  make(chan struct{}),
	}
	go a.run()
	return a
}

// Emit enqueues event without blocking. It always returns nil.
func (a *AsyncEmitter) Emit(_ context.Context, event *Event) error {
	if a == nil || event == nil {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		a.dropped.Add(1)
		return nil
	}
	select {
	case a.queue <- event:
	default:
		a.dropped.Add(1)
	}
	return nil
}

// Dropped returns how many events were discarded because the queue was full or closed.
func (a *AsyncEmitter) Dropped() int64 {
	if a == nil {
		return 0
	}
	return a.dropped.Load()
}

// Close stops accepting events and waits up to ShutdownDrainDuration (or ctx) for the queue to drain.
func (a *AsyncEmitter) Close(ctx context.Context) error {
	if a == nil {
		return nil
	}
	a.closeOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		close(a.queue)
		a.mu.Unlock()
	})
	timer := time.NewTimer(ShutdownDrainDuration)
	defer timer.Stop()
	select {
	case <-a.done:
		if n := a.Dropped(); n > 0 {
			log.Printf("telemetry: async emitter dropped %d events", n)
		}
		return nil
	case <-timer.C:
		return context.DeadlineExceeded
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *AsyncEmitter) run() {
	defer close(a.done)
	for event := range a.queue {
		if a.next == nil {
			continue
		}
		emitCtx, cancel := context.WithTimeout(context.Background(), emitTimeout)
		if err := a.next.Emit(emitCtx, event); err != nil {
			log.Printf("telemetry: async emit failed: %v", err)
		}
		cancel()
	}
}
