package sink

import (
	"context"
	"ephemeral-chat/contract"
	"ephemeral-chat/domain/event"
	"sync"
	"sync/atomic"
)

var _ contract.EventSink = (*StreamSink)(nil)

// StreamSink buffers the events of one live subscriber.
// Consume never blocks: when the reader lags and the buffer is full the
// oldest pending event is dropped to make room. Events keep their publish
// order.
type StreamSink struct {
	mu      sync.Mutex
	events  chan event.DomainEvent
	closed  bool
	dropped atomic.Int64
}

func NewStreamSink(size int) *StreamSink {
	if size < 1 {
		size = 1
	}
	return &StreamSink{events: make(chan event.DomainEvent, size)}
}

func (s *StreamSink) Consume(_ context.Context, e event.DomainEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	for {
		select {
		case s.events <- e:
			return nil
		default:
		}
		select {
		case <-s.events:
			s.dropped.Add(1)
		default:
		}
	}
}

// Events is closed once Close has been called.
func (s *StreamSink) Events() <-chan event.DomainEvent {
	return s.events
}

// Dropped counts the events discarded because the reader fell behind.
func (s *StreamSink) Dropped() int64 {
	return s.dropped.Load()
}

func (s *StreamSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.events)
}
