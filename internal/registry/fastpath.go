package registry

import (
	"sync"

	"github.com/joeycumines/goroutineid"
)

// FastPath is the thread-local-equivalent fast path for call_response_fast:
// a synchronous caller parks a sentinel keyed by its own goroutine identity
// rather than in the sharded Registry, paying zero cross-core cache traffic
// for the common single-goroutine case. The Router checks this slot before
// the sharded registry, as the first step of its delivery waterfall.
type FastPath struct {
	mu   sync.Mutex
	slot map[int64]*fastSlot
}

type fastSlot struct {
	sid  uint64
	unary *UnarySlot
}

// NewFastPath constructs an empty fast-path table.
func NewFastPath() *FastPath {
	return &FastPath{slot: make(map[int64]*fastSlot)}
}

// Park installs slot as the current goroutine's fast-path sentinel for sid.
// Only the owning goroutine is expected to call Park/Clear; it must not be
// shared across goroutines (doing so is a documented contract violation of
// the *_fast operations).
func (f *FastPath) Park(sid uint64, slot *UnarySlot) {
	gid := goroutineid.Get()
	f.mu.Lock()
	f.slot[gid] = &fastSlot{sid: sid, unary: slot}
	f.mu.Unlock()
}

// Clear removes the current goroutine's fast-path sentinel, regardless of
// which SID it was parked for. Callers invoke this once they stop awaiting,
// successfully or otherwise, so a stale sentinel never outlives its call.
func (f *FastPath) Clear() {
	gid := goroutineid.Get()
	f.mu.Lock()
	delete(f.slot, gid)
	f.mu.Unlock()
}

// MatchCurrentGoroutine returns the unary slot parked by the calling
// goroutine for sid, if any. This is only a match when send_result is
// invoked synchronously, from the same goroutine that is blocked awaiting
// it inline (the fast path's entire reason for existing); delivery from any
// other goroutine falls through to the sharded registry lookup.
func (f *FastPath) MatchCurrentGoroutine(sid uint64) (*UnarySlot, bool) {
	gid := goroutineid.Get()
	f.mu.Lock()
	s, ok := f.slot[gid]
	f.mu.Unlock()
	if !ok || s.sid != sid {
		return nil, false
	}
	return s.unary, true
}
