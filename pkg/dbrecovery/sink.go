package dbrecovery

import (
	"context"
	"errors"
	"sync"
)

// ErrSinkClosed is returned by ChannelSink.Receive after Close once every
// published event has been received.
var ErrSinkClosed = errors.New("progress sink closed")

// Event is a progress or phase notification from an orchestrator.
type Event struct {
	Phase    Phase
	Stage    Stage
	Progress float64
	// Err is set on the PhaseFailed event.
	Err error
}

// Sink receives orchestrator events. Publish is called from the
// orchestrator's goroutine and should not block for long.
type Sink interface {
	Publish(ev Event)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(ev Event)

// Publish calls f(ev).
func (f SinkFunc) Publish(ev Event) {
	f(ev)
}

type discardSink struct{}

func (discardSink) Publish(Event) {}

// ChannelSink hands events to a consumer on another goroutine.
//
// Running events coalesce: a slow consumer sees the latest one, and the
// progress it sees never goes backwards. The terminal event is never
// dropped and nothing published after it is delivered.
type ChannelSink struct {
	mu        sync.Mutex
	latest    Event
	published bool
	pending   bool
	terminal  bool
	closed    bool
	notify    chan struct{}
}

// NewChannelSink creates an empty ChannelSink.
func NewChannelSink() *ChannelSink {
	return &ChannelSink{notify: make(chan struct{}, 1)}
}

// Publish implements Sink.
func (s *ChannelSink) Publish(ev Event) {
	s.mu.Lock()
	if s.terminal || s.closed {
		s.mu.Unlock()
		return
	}
	if ev.Progress < s.latest.Progress {
		ev.Progress = s.latest.Progress
	}
	s.latest = ev
	s.published = true
	s.pending = true
	s.terminal = ev.Phase.Terminal()
	s.mu.Unlock()

	s.signal()
}

// Receive blocks until an event is available, the context is done, or the
// sink is closed and drained.
func (s *ChannelSink) Receive(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		if s.pending {
			s.pending = false
			ev := s.latest
			s.mu.Unlock()
			return ev, nil
		}
		if s.closed || s.terminal {
			s.mu.Unlock()
			return Event{}, ErrSinkClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Latest returns the most recent event and whether any was published.
func (s *ChannelSink) Latest() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.latest, s.published
}

// Close stops accepting events and wakes blocked receivers.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.signal()
}

func (s *ChannelSink) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}
