// Package router implements the Callback Router: the send_result
// implementation plugins invoke, the routing waterfall that finds the
// awaiting consumer for a SID, and the thin wrappers around the State
// Store that back the host extension vtable's set_state/get_state. Every
// entry point here is reachable from a plugin thread and is therefore run
// through the panic barrier.
package router

import (
	"github.com/rs/zerolog"

	"github.com/AssetsArt/nylon-ring/abi"
	"github.com/AssetsArt/nylon-ring/internal/bufpool"
	"github.com/AssetsArt/nylon-ring/internal/registry"
	"github.com/AssetsArt/nylon-ring/internal/state"
	"github.com/AssetsArt/nylon-ring/panicbarrier"
)

// Router owns the Completion Registry, fast-path table and State Store a
// single loaded plugin's callbacks route through.
type Router struct {
	registry *registry.Registry
	fastpath *registry.FastPath
	state    *state.Store
	log      zerolog.Logger
}

// New constructs a Router over the given Registry, FastPath table and
// Store. All three are expected to be exclusively owned by the Host this
// Router belongs to.
func New(reg *registry.Registry, fp *registry.FastPath, st *state.Store, log zerolog.Logger) *Router {
	return &Router{registry: reg, fastpath: fp, state: st, log: log}
}

// SendResult is the host vtable function plugins invoke to deliver a
// completion. It is safe to call from any thread/goroutine, including one
// the host never scheduled. Panics raised while routing are
// caught by the panic barrier and converted into a discarded delivery
// (there is no well-defined "awaiting consumer" to hand an Internal error
// to once routing itself has failed; the plugin-call-panicked case, where
// the SID is known, is handled one layer up, at the plugin dispatch call
// site, not here).
func (r *Router) SendResult(sid uint64, status abi.Status, payload []byte) {
	panicbarrier.GuardSendResult(func() {
		r.route(sid, status, payload)
	}, func(recovered any) {
		r.log.Error().Uint64("sid", sid).Interface("panic", recovered).Msg("panic routing send_result")
	})
}

// route implements the four-step delivery waterfall: fast-path slot, then
// unary registry entry, then stream registry entry, then silent drop.
func (r *Router) route(sid uint64, status abi.Status, payload []byte) {
	// Step 1: fast-path slot of the current (calling) goroutine.
	if slot, ok := r.fastpath.MatchCurrentGoroutine(sid); ok {
		owned := bufpool.Copy(payload)
		if slot.Deliver(status, owned) {
			r.state.Destroy(sid)
		} else {
			// Slot was already filled by a prior delivery; owned never
			// escaped to a caller, so it is free to recycle.
			bufpool.Put(owned)
		}
		return
	}

	// Step 2: sharded registry, unary shape.
	if slot, ok := r.registry.TakeUnary(sid); ok {
		owned := bufpool.Copy(payload)
		if !slot.Deliver(status, owned) {
			// TakeUnary gives exclusive ownership of slot, so this only
			// happens if the caller already abandoned it (UnarySlot.Drop on
			// context cancellation); owned never escaped, so recycle it.
			bufpool.Put(owned)
		}
		r.state.Destroy(sid)
		return
	}

	// Step 3: sharded registry, stream shape.
	if sink, ok := r.registry.LookupStream(sid); ok {
		owned := bufpool.Copy(payload)
		accepted, closedNow := sink.Deliver(status, owned)
		if !accepted {
			// Sink already closed; the frame was discarded rather than
			// stored, so owned never escaped this function.
			bufpool.Put(owned)
		}
		if accepted && closedNow {
			r.registry.Remove(sid)
			r.state.Destroy(sid)
		}
		return
	}

	// Step 4: no live completion for this SID. Drop silently.
	r.log.Debug().Uint64("sid", sid).Msg("send_result for unknown sid, dropped")
}

// SetState implements the set_state extension vtable entry: it stores
// value under key for sid and returns the prior value as an owned copy.
func (r *Router) SetState(sid uint64, key string, value []byte) (prior []byte) {
	_ = panicbarrier.Guard(func() error {
		prior = r.state.Set(sid, key, value)
		return nil
	})
	return prior
}

// GetState implements the get_state extension vtable entry: a view valid
// until the next mutation of (sid, key) or SID completion.
func (r *Router) GetState(sid uint64, key string) (value []byte, ok bool) {
	_ = panicbarrier.Guard(func() error {
		value, ok = r.state.Get(sid, key)
		return nil
	})
	return value, ok
}
