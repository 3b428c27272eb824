package stream

import (
	"sync"
)

// Stream is the per-session event feed. One writer (the orchestrator and its
// workers, serialized by the caller), one consumer (the transport). Delivery
// is FIFO; when a consumer is attached and slow, Emit blocks (back-pressure).
// The full history stays available through Events for snapshot reads.
type Stream struct {
	mu       sync.Mutex
	history  []Event
	consumer chan Event
	closed   bool
	done     chan struct{}
}

// New creates an empty stream.
func New() *Stream {
	return &Stream{done: make(chan struct{})}
}

// Emit appends the event to the history and, if a consumer is attached,
// blocks until the consumer takes it or the stream closes.
func (s *Stream) Emit(e Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.history = append(s.history, e)
	consumer := s.consumer
	s.mu.Unlock()

	if consumer == nil {
		return
	}
	select {
	case consumer <- e:
	case <-s.done:
	}
}

// Attach registers the single downstream consumer. Events emitted before
// attachment are queued into the returned channel so the consumer sees the
// full ordered history. The channel is never closed by the stream; consumers
// select on Done to learn the stream ended.
func (s *Stream) Attach(buffer int) <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	if buffer < len(s.history) {
		buffer = len(s.history)
	}
	ch := make(chan Event, buffer)
	for _, e := range s.history {
		ch <- e
	}
	s.consumer = ch
	return ch
}

// Done is closed when the stream closes. A consumer should drain its channel
// and then stop once Done is closed.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Close ends the stream and unblocks any pending Emit. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
}

// Events returns a copy of the full event history.
func (s *Stream) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.history...)
}

// Len returns the number of emitted events.
func (s *Stream) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}
