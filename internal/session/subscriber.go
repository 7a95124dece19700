package session

import (
	"sync"

	"github.com/haasonsaas/forge/internal/protocol"
)

// subscriberQueue is the bounded outbound buffer for one connected
// client. A slow client overflows rather than blocking the turn; on
// overflow the queue degrades to a coarse status event so the client
// knows it missed detail.
const subscriberQueue = 512

// Subscriber receives a session's event stream. A subscriber created
// for replay starts gated: broadcast events park aside until the whole
// replay sequence has been enqueued, so a running turn never
// interleaves with the snapshot.
type Subscriber struct {
	ch       chan protocol.Event
	mu       sync.Mutex
	closed   bool
	overflow bool
	gated    bool
	pending  []protocol.Event
}

// NewSubscriber creates a subscriber with the standard queue bound.
func NewSubscriber() *Subscriber {
	return &Subscriber{ch: make(chan protocol.Event, subscriberQueue)}
}

// Events is the receive side consumed by the transport.
func (s *Subscriber) Events() <-chan protocol.Event { return s.ch }

// Close stops delivery. Safe to call twice.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// send enqueues without blocking. Returns false when the event was
// dropped. While gated, events park for release.
func (s *Subscriber) send(ev protocol.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if s.gated {
		if len(s.pending) >= subscriberQueue {
			s.overflow = true
			return false
		}
		s.pending = append(s.pending, ev)
		return true
	}
	return s.enqueue(ev)
}

// sendNow bypasses the gate; replay frames use it so they precede any
// live event parked during the replay.
func (s *Subscriber) sendNow(ev protocol.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return s.enqueue(ev)
}

// release opens the gate and flushes the parked events, in order, after
// the replay frames already on the channel.
func (s *Subscriber) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gated = false
	if s.closed {
		s.pending = nil
		return
	}
	for _, ev := range s.pending {
		s.enqueue(ev)
	}
	s.pending = nil
}

// enqueue delivers onto the channel. After an overflow, the recovery
// notice goes out ahead of the next accepted event so the client learns
// of the gap before the stream resumes. Callers hold s.mu.
func (s *Subscriber) enqueue(ev protocol.Event) bool {
	if s.overflow {
		select {
		case s.ch <- protocol.Event{Type: protocol.EventStatus, Content: "some events were dropped; state may be stale until next replay"}:
			s.overflow = false
		default:
		}
	}
	select {
	case s.ch <- ev:
		return true
	default:
		s.overflow = true
		return false
	}
}
