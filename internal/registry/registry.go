// Package registry implements the Completion Registry: a sharded,
// high-concurrency map from SID to either a unary slot or a stream sink,
// plus the fast-path thread-local slot used by call_response_fast.
package registry

import (
	"errors"
	"sync"
)

// ErrAlreadyRegistered is returned by RegisterUnary/RegisterStream when the
// SID is already present. Given the allocator's uniqueness contract this
// should be unreachable; its presence here is a defect elsewhere.
var ErrAlreadyRegistered = errors.New("registry: sid already registered")

// shardCount is fixed and small. A power of two lets the shard index be
// computed with a mask instead of a modulo.
const shardCount = 64

type entryKind uint8

const (
	kindUnary entryKind = iota + 1
	kindStream
)

type entry struct {
	kind   entryKind
	unary  *UnarySlot
	stream *StreamSink
}

type shard struct {
	mu      sync.Mutex
	entries map[uint64]entry
}

// Registry is the sharded Completion Registry. The zero value is not
// usable; construct with New.
type Registry struct {
	shards [shardCount]*shard
}

// New constructs an empty Registry with shardCount independently-locked
// shards.
func New() *Registry {
	r := &Registry{}
	for i := range r.shards {
		r.shards[i] = &shard{entries: make(map[uint64]entry)}
	}
	return r
}

func (r *Registry) shardFor(sid uint64) *shard {
	// fibonacci hashing spreads sequential SIDs (dense by construction,
	// see the sid package) evenly across shards despite the mask.
	const mul = 0x9E3779B97F4A7C15
	h := (sid * mul) >> 58 // top 6 bits of a 64-bit golden-ratio hash, for shardCount==64
	return r.shards[h&(shardCount-1)]
}

// RegisterUnary inserts a new unary slot for sid. It fails with
// ErrAlreadyRegistered if sid is already present, which given the SID
// allocator's contract should never happen in practice.
func (r *Registry) RegisterUnary(sid uint64, slot *UnarySlot) error {
	s := r.shardFor(sid)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[sid]; exists {
		return ErrAlreadyRegistered
	}
	s.entries[sid] = entry{kind: kindUnary, unary: slot}
	return nil
}

// RegisterStream inserts a new stream sink for sid. Same failure mode as
// RegisterUnary.
func (r *Registry) RegisterStream(sid uint64, sink *StreamSink) error {
	s := r.shardFor(sid)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[sid]; exists {
		return ErrAlreadyRegistered
	}
	s.entries[sid] = entry{kind: kindStream, stream: sink}
	return nil
}

// TakeUnary atomically removes and returns the unary slot for sid, if
// present and shaped as a unary completion.
func (r *Registry) TakeUnary(sid uint64) (*UnarySlot, bool) {
	s := r.shardFor(sid)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sid]
	if !ok || e.kind != kindUnary {
		return nil, false
	}
	delete(s.entries, sid)
	return e.unary, true
}

// LookupStream returns the stream sink for sid without removing it, if
// present and shaped as a stream completion. The Router uses this to
// deliver frames while the stream stays open, and removes the entry itself
// (via Remove) once a terminal frame closes it.
func (r *Registry) LookupStream(sid uint64) (*StreamSink, bool) {
	s := r.shardFor(sid)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[sid]
	if !ok || e.kind != kindStream {
		return nil, false
	}
	return e.stream, true
}

// Remove deletes sid's entry unconditionally, regardless of shape. Used by
// the Router once a completion reaches a terminal state, and by callers
// that abandon an in-flight call.
func (r *Registry) Remove(sid uint64) {
	s := r.shardFor(sid)
	s.mu.Lock()
	delete(s.entries, sid)
	s.mu.Unlock()
}

// Len returns the total number of live entries across all shards. Intended
// for tests asserting that no SID lingers after a call completes.
func (r *Registry) Len() int {
	total := 0
	for _, s := range r.shards {
		s.mu.Lock()
		total += len(s.entries)
		s.mu.Unlock()
	}
	return total
}
