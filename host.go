// Package nylonring is the composition root: it wires the SID allocator,
// Completion Registry, State Store, Callback Router and a loaded Plugin
// into the Call Dispatcher's unary, fast-path, raw and streaming call
// operations.
package nylonring

import (
	"github.com/rs/zerolog"

	"github.com/AssetsArt/nylon-ring/abi"
	"github.com/AssetsArt/nylon-ring/internal/registry"
	"github.com/AssetsArt/nylon-ring/internal/state"
	"github.com/AssetsArt/nylon-ring/plugin"
	"github.com/AssetsArt/nylon-ring/router"
	"github.com/AssetsArt/nylon-ring/sid"
)

// pluginHandle is the subset of *plugin.Plugin the dispatcher depends on.
// Keeping it as an interface lets the dispatcher's SID-lifecycle logic be
// exercised by tests against a fake plugin, without a compiled shared
// library, while NewHost's production path always wires a real
// *plugin.Plugin loaded over cgo.
type pluginHandle interface {
	Name() string
	Version() string
	Handle(entry string, sid uint64, req *abi.RequestView, payload []byte) abi.Status
	HandleRaw(entry string, sid uint64, payload []byte) (abi.Status, bool)
	StreamData(sid uint64, data []byte) (abi.Status, bool)
	StreamClose(sid uint64) (abi.Status, bool)
	Unload()
}

// Host is one loaded plugin plus the SID lifecycle engine that routes its
// completions. The zero value is not usable; construct with NewHost.
type Host struct {
	sid      *sid.Allocator
	registry *registry.Registry
	fastpath *registry.FastPath
	state    *state.Store
	router   *router.Router
	log      zerolog.Logger
	plugin   pluginHandle
}

// Option configures a Host at construction time.
type Option func(*options)

type options struct {
	log zerolog.Logger
}

// WithLogger overrides the Host's structured logger. The default is a
// zerolog logger writing to zerolog.Nop() (silent), matching this library's
// posture as an embeddable engine rather than a standalone application.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

func resolveOptions(opts []Option) *options {
	o := &options{log: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// NewHost loads the plugin shared library at path and wires it into a
// fresh SID lifecycle engine. Every load failure, including a failed ABI
// compatibility check, is returned as a *Error with KindLoadFailure
// wrapping the loader's error; KindAbiVersionMismatch is not returned.
func NewHost(path string, opts ...Option) (*Host, error) {
	o := resolveOptions(opts)

	h := &Host{
		sid:      sid.NewAllocator(),
		registry: registry.New(),
		fastpath: registry.NewFastPath(),
		state:    state.New(),
		log:      o.log,
	}
	h.router = router.New(h.registry, h.fastpath, h.state, h.log)

	p, err := plugin.Load(path, h.router)
	if err != nil {
		return nil, newError(KindLoadFailure, "failed to load plugin "+path, err)
	}
	h.plugin = p

	h.log.Info().Str("name", p.Name()).Str("version", p.Version()).Str("path", path).Msg("plugin loaded")
	return h, nil
}

// hostCallbacks is the shape of plugin.Callbacks, restated here so test
// fakes can be handed the Host's Router without this package importing
// the plugin package's Callbacks type for a test-only seam.
type hostCallbacks interface {
	SendResult(sid uint64, status abi.Status, payload []byte)
	SetState(sid uint64, key string, value []byte) (prior []byte)
	GetState(sid uint64, key string) (value []byte, ok bool)
}

// newHostForTest builds a Host around a fake pluginHandle, bypassing
// plugin.Load (and therefore cgo and a real shared library) entirely.
// makePlugin receives the Host's Router so the fake can simulate a real
// plugin's send_result/set_state/get_state calls. Lowercase: used only by
// this module's own dispatcher tests.
func newHostForTest(makePlugin func(cbs hostCallbacks) pluginHandle, opts ...Option) *Host {
	o := resolveOptions(opts)
	h := &Host{
		sid:      sid.NewAllocator(),
		registry: registry.New(),
		fastpath: registry.NewFastPath(),
		state:    state.New(),
		log:      o.log,
	}
	h.router = router.New(h.registry, h.fastpath, h.state, h.log)
	h.plugin = makePlugin(h.router)
	return h
}

// Unload releases the underlying plugin. The Host must not be used again
// afterwards.
func (h *Host) Unload() {
	h.plugin.Unload()
}

// State exposes the Host's State Store for callers that want to inspect
// per-SID state outside of a plugin callback (e.g. tests). Production code
// reaches the State Store only indirectly, through the plugin's
// set_state/get_state calls the Router serves.
func (h *Host) State() *state.Store { return h.state }
