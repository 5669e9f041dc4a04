package streams

import (
	"sync"
	"time"

	"github.com/capra-ai/capra/fault"
)

// pollInterval is how often Next re-checks the queue while blocking.
const pollInterval = 5 * time.Millisecond

// Buffer is the single-producer/single-consumer FIFO backing every
// streaming capability. It is not safe for sharing a single role between
// goroutines; one producer pushes, one consumer drains.
type Buffer struct {
	mu       sync.Mutex
	queue    []Event
	finished bool
	failure  *fault.Fault
	closed   bool

	closer func()
	sink   func([]byte) error
}

// Option configures a Buffer at construction time.
type Option func(*Buffer)

// WithCloser registers a function releasing the underlying transport when
// the buffer is closed.
func WithCloser(fn func()) Option {
	return func(b *Buffer) { b.closer = fn }
}

// WithInput makes the buffer bidirectional. Each SendInput call forwards one
// chunk to sink; message boundaries are preserved, never coalesced. Input
// writes are ordered with each other but unordered with respect to output
// events.
func WithInput(sink func([]byte) error) Option {
	return func(b *Buffer) { b.sink = sink }
}

// NewBuffer creates an empty, unfinished buffer.
func NewBuffer(opts ...Option) *Buffer {
	b := &Buffer{}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Push appends an event in emission order. Pushing after a terminal event
// is a no-op.
func (b *Buffer) Push(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finished || b.closed {
		return
	}
	b.queue = append(b.queue, ev)
	if ev.Terminal() {
		b.finished = true
		if ev.Type == EventFailure {
			b.failure = ev.Failure
		}
	}
}

// TryNext returns the next event without blocking. ok is false when no
// event is pending; combined with IsFinished that signals end-of-stream.
func (b *Buffer) TryNext() (ev Event, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.popLocked()
}

func (b *Buffer) popLocked() (Event, bool) {
	if len(b.queue) == 0 {
		return Event{}, false
	}
	ev := b.queue[0]
	b.queue = b.queue[1:]
	return ev, true
}

// Next blocks until an event arrives, the buffer is finished and drained,
// or the timeout expires.
func (b *Buffer) Next(timeout time.Duration) (Event, bool) {
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		ev, ok := b.popLocked()
		done := b.finished || b.closed
		b.mu.Unlock()
		if ok {
			return ev, true
		}
		if done || !time.Now().Before(deadline) {
			return Event{}, false
		}
		time.Sleep(pollInterval)
	}
}

// Drain returns every pending event in push order and empties the queue.
func (b *Buffer) Drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.queue
	b.queue = nil
	return out
}

// IsFinished reports whether a terminal event has been pushed.
func (b *Buffer) IsFinished() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.finished
}

// IsClosed reports whether Close has been called.
func (b *Buffer) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Failure returns the sticky terminal failure, if any.
func (b *Buffer) Failure() *fault.Fault {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failure
}

// SendInput forwards one chunk upstream on a bidirectional stream.
func (b *Buffer) SendInput(chunk []byte) error {
	b.mu.Lock()
	sink := b.sink
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return fault.New(fault.KindNotFound, "stream is closed")
	}
	if sink == nil {
		return fault.Unsupported("send-input")
	}
	return sink(chunk)
}

// Close releases the underlying transport and discards pending events.
// It is idempotent.
func (b *Buffer) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.queue = nil
	closer := b.closer
	b.closer = nil
	b.mu.Unlock()
	if closer != nil {
		closer()
	}
}
