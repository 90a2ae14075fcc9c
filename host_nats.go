package nylonring

import (
	"github.com/nats-io/nats.go"

	"github.com/AssetsArt/nylon-ring/internal/registry"
	"github.com/AssetsArt/nylon-ring/internal/simplugin"
	"github.com/AssetsArt/nylon-ring/internal/state"
	"github.com/AssetsArt/nylon-ring/router"
	"github.com/AssetsArt/nylon-ring/sid"
)

// NewHostOverNATS wires a Host to a plugin reachable over the simulated
// NATS/msgpack transport in internal/simplugin, instead of a dlopen'd
// shared library. It exists for integration tests and demos that want to
// exercise the full SID lifecycle engine (allocator, registry, fast path,
// router, state store) against a process that genuinely runs on other
// goroutines and another NATS-dispatched thread, without building a C
// plugin. subject must match the RemotePlugin's request subject.
func NewHostOverNATS(conn *nats.Conn, subject string, opts ...Option) *Host {
	o := resolveOptions(opts)
	h := &Host{
		sid:      sid.NewAllocator(),
		registry: registry.New(),
		fastpath: registry.NewFastPath(),
		state:    state.New(),
		log:      o.log,
	}
	h.router = router.New(h.registry, h.fastpath, h.state, h.log)
	h.plugin = simplugin.NewAdapter(conn, subject, h.router)
	return h
}
