package registry

import (
	"sync"
	"sync/atomic"

	"github.com/AssetsArt/nylon-ring/abi"
)

// Frame is one delivery into a stream sink: a status plus an owned,
// host-copied payload. Status is Ok for every frame but the last, which
// carries one of the terminal statuses (Err, Invalid, Unsupported,
// StreamEnd).
type Frame struct {
	Status  abi.Status
	Payload []byte
}

// UnaryResult is the single delivery a unary slot expects.
type UnaryResult struct {
	Status  abi.Status
	Payload []byte
}

// UnarySlot is a one-shot sink: it accepts exactly one delivery, silently
// dropping any delivery after the first.
type UnarySlot struct {
	ch        chan UnaryResult
	delivered atomic.Bool
}

// NewUnarySlot constructs a ready-to-register unary slot.
func NewUnarySlot() *UnarySlot {
	return &UnarySlot{ch: make(chan UnaryResult, 1)}
}

// Deliver attempts the one allowed delivery. It reports whether this call
// performed the delivery (false means a prior delivery already happened and
// this one was dropped).
func (s *UnarySlot) Deliver(status abi.Status, payload []byte) bool {
	if !s.delivered.CompareAndSwap(false, true) {
		return false
	}
	s.ch <- UnaryResult{Status: status, Payload: payload}
	return true
}

// Recv blocks until the slot's one delivery arrives, or the slot's channel
// is closed (see Drop).
func (s *UnarySlot) Recv() <-chan UnaryResult {
	return s.ch
}

// Drop closes the slot's channel without a delivery, used when a caller
// abandons an awaiting handle. This does not remove the SID from the
// registry; a late delivery from the plugin is simply dropped by
// Deliver's CompareAndSwap, leaving the registry entry to be reclaimed when
// the Router eventually observes it.
func (s *UnarySlot) Drop() {
	if s.delivered.CompareAndSwap(false, true) {
		close(s.ch)
	}
}

// StreamSink is an unbounded multi-producer/single-consumer queue of
// frames, closing itself on the first terminal status it receives.
// Ordering within a single sink matches send_result invocation order.
type StreamSink struct {
	mu     sync.Mutex
	frames []Frame
	closed bool
	notify chan struct{}
}

// NewStreamSink constructs an open, empty stream sink.
func NewStreamSink() *StreamSink {
	return &StreamSink{notify: make(chan struct{}, 1)}
}

// Deliver enqueues a frame if the sink is not already closed. It reports
// whether this frame was the one that closed the sink (status.TerminalForStream()
// and the sink was previously open), which the caller (the Router) uses to
// decide whether to also remove the SID from the registry and state store.
func (s *StreamSink) Deliver(status abi.Status, payload []byte) (accepted, closedNow bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false, false
	}
	s.frames = append(s.frames, Frame{Status: status, Payload: payload})
	if status.TerminalForStream() {
		s.closed = true
		closedNow = true
	}
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true, closedNow
}

// Next blocks until a frame is available or the sink is closed with no
// frames left, returning ok=false in the latter case (end of stream).
func (s *StreamSink) Next() (frame Frame, ok bool) {
	for {
		s.mu.Lock()
		if len(s.frames) > 0 {
			frame = s.frames[0]
			s.frames = s.frames[1:]
			s.mu.Unlock()
			return frame, true
		}
		if s.closed {
			s.mu.Unlock()
			return Frame{}, false
		}
		s.mu.Unlock()
		<-s.notify
	}
}

// Closed reports whether the sink has received a terminal frame. It does
// not report whether every buffered frame has been drained by the consumer.
func (s *StreamSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
