package events

import "context"

// Stream is the single fan-in channel a run's components emit into and the
// Orchestrator drains from, one event at a time, in emit order (§5 "Ordering
// guarantees"). There is deliberately no per-topic subscriber table: every
// emitter holds a *Stream and calls Emit; every consumer is the one loop that
// ranges over Events().
type Stream struct {
	ch chan Event
}

// NewStream creates a Stream with the given buffer depth. A modest buffer
// lets bursts of sentinel-file events (e.g. done.flag plus a stale CRP scan)
// queue briefly without blocking the emitting goroutine.
func NewStream(buffer int) *Stream {
	if buffer <= 0 {
		buffer = 1
	}
	return &Stream{ch: make(chan Event, buffer)}
}

// Emit sends an event, blocking if the buffer is full, unless ctx is done.
func (s *Stream) Emit(ctx context.Context, ev Event) {
	select {
	case s.ch <- ev:
	case <-ctx.Done():
	}
}

// Events returns the receive-only channel consumers drain.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Close closes the underlying channel. Callers must ensure no further Emit
// calls occur after Close, matching the teacher's stop-before-wait ordering
// discipline (agent/session.go: producers are stopped before the consumer is
// allowed to observe channel closure).
func (s *Stream) Close() {
	close(s.ch)
}
