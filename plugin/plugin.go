//go:build cgo

// Package plugin loads a plugin shared library by filesystem path,
// resolves its discovery symbol, validates ABI compatibility, and invokes
// its vtable entries. It is the one place in
// this module that holds a cgo dependency end to end; everything above it
// (the dispatcher, router, registry, state store) is plain Go operating on
// []byte payloads and the abi.Status enum.
package plugin

/*
#cgo CFLAGS: -I${SRCDIR}/../abi/include
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdlib.h>
#include "nylon_ring_abi.h"

static inline void *nr_dlopen(const char *path) {
    return dlopen(path, RTLD_NOW | RTLD_LOCAL);
}

static inline nr_discovery_fn nr_dlsym_discovery(void *handle, const char *name) {
    return (nr_discovery_fn)dlsym(handle, name);
}

static inline const nr_plugin_info_t *nr_call_discovery(nr_discovery_fn fn) {
    return fn();
}

extern void nylonRingSendResult(void *host_ctx, uint64_t sid, nr_status_t status, nr_byte_view_t payload);
extern nr_byte_view_t nylonRingSetState(void *host_ctx, uint64_t sid, nr_string_view_t key, nr_byte_view_t value);
extern nr_byte_view_t nylonRingGetState(void *host_ctx, uint64_t sid, nr_string_view_t key);
*/
import "C"

import (
	"fmt"
	"runtime/cgo"
	"sync"
	"unsafe"

	"github.com/AssetsArt/nylon-ring/abi"
	"github.com/AssetsArt/nylon-ring/panicbarrier"
)

const discoverySymbol = "nylon_ring_get_plugin_v1"

// Callbacks is the set of host-side functions a loaded Plugin's init call
// wires up as the host vtable / extension vtable. Implementations are
// expected to come from a router.Router (SendResult, SetState, GetState);
// this package only knows their Go-level signatures, not their
// implementation, to avoid an import cycle back into router.
type Callbacks interface {
	SendResult(sid uint64, status abi.Status, payload []byte)
	SetState(sid uint64, key string, value []byte) (prior []byte)
	GetState(sid uint64, key string) (value []byte, ok bool)
}

// Plugin is a single loaded shared library, holding its vtable pointers for
// the lifetime of the load. The zero value is not usable; construct with
// Load.
type Plugin struct {
	handle     unsafe.Pointer
	info       *abi.PluginInfo
	vtable     *C.nr_plugin_vtable_t
	cgoHandle  cgo.Handle
	mu         sync.Mutex
	shutdown   bool
}

// Name returns the plugin-reported name from its PluginInfo.
func (p *Plugin) Name() string { return p.info.Name }

// Version returns the plugin-reported version string.
func (p *Plugin) Version() string { return p.info.Version }

// Load opens the shared library at path, resolves its discovery symbol,
// validates ABI compatibility, and calls its init vtable entry with a host
// vtable backed by cbs. Every failure (dlopen, missing symbol, ABI check,
// init) is returned as a plain error, to avoid this package depending on
// the root package; the error does not carry a separate type or sentinel
// for an ABI mismatch.
func Load(path string, cbs Callbacks) (*Plugin, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	handle := C.nr_dlopen(cPath)
	if handle == nil {
		return nil, fmt.Errorf("plugin: dlopen(%s) failed: %s", path, C.GoString(C.dlerror()))
	}

	cSym := C.CString(discoverySymbol)
	defer C.free(unsafe.Pointer(cSym))

	discover := C.nr_dlsym_discovery(handle, cSym)
	if discover == nil {
		C.dlclose(handle)
		return nil, fmt.Errorf("plugin: symbol %s not found in %s", discoverySymbol, path)
	}

	raw := C.nr_call_discovery(discover)
	if raw == nil {
		C.dlclose(handle)
		return nil, fmt.Errorf("plugin: %s returned nil in %s", discoverySymbol, path)
	}

	info := abi.LoadPluginInfo(unsafe.Pointer(raw))
	if err := abi.Compatible(info.ABIVersion, info.StructSize); err != nil {
		C.dlclose(handle)
		return nil, fmt.Errorf("plugin: %s: %w", path, err)
	}

	p := &Plugin{
		handle: handle,
		info:   info,
		// info.VTable was loaded via the abi package's own cgo-generated
		// type; it shares the identical memory layout (both compile the
		// same nylon_ring_abi.h) but is a distinct Go type, so the pointer
		// is re-cast through unsafe.Pointer rather than assigned directly.
		vtable: (*C.nr_plugin_vtable_t)(unsafe.Pointer(info.VTable)),
	}
	p.cgoHandle = cgo.NewHandle(cbs)

	hostVTable := &C.nr_host_vtable_t{
		send_result: (C.nr_send_result_fn)(C.nylonRingSendResult),
	}

	initStatus, guardErr := panicbarrier.GuardStatus(func() abi.Status {
		return abi.Status(C.nr_call_init(p.vtable.init, info.PluginCtx, unsafe.Pointer(uintptr(p.cgoHandle)), hostVTable))
	})
	if guardErr != nil {
		p.cgoHandle.Delete()
		C.dlclose(handle)
		return nil, fmt.Errorf("plugin: init panicked: %w", guardErr)
	}
	if initStatus != abi.StatusOk {
		p.cgoHandle.Delete()
		C.dlclose(handle)
		return nil, fmt.Errorf("plugin: init returned status %s", initStatus)
	}

	return p, nil
}

// Handle invokes the plugin's required handle entry.
func (p *Plugin) Handle(entry string, sid uint64, req *abi.RequestView, payload []byte) abi.Status {
	entryView := borrowString(entry)

	var cReq C.nr_request_t
	var headers []C.nr_header_t
	if req != nil {
		cReq.method = borrowString(req.Method)
		cReq.path = borrowString(req.Path)
		cReq.query = borrowString(req.Query)
		if len(req.Headers) > 0 {
			headers = make([]C.nr_header_t, len(req.Headers))
			for i, h := range req.Headers {
				headers[i] = C.nr_header_t{key: borrowString(h.Key), value: borrowString(h.Value)}
			}
			cReq.headers = (*C.nr_header_t)(unsafe.Pointer(&headers[0]))
			cReq.header_count = C.uint32_t(len(headers))
		}
	}

	status := C.nr_call_handle(p.vtable.handle, p.info.PluginCtx, entryView, C.uint64_t(sid), &cReq, borrowBytes(payload))
	return abi.Status(status)
}

// HandleRaw invokes the plugin's optional handle_raw entry. ok is false if
// the plugin did not implement it (a null vtable slot), which callers
// surface as KindUnsupported.
func (p *Plugin) HandleRaw(entry string, sid uint64, payload []byte) (status abi.Status, ok bool) {
	if p.vtable.handle_raw == nil {
		return 0, false
	}
	entryView := borrowString(entry)
	s := C.nr_call_handle_raw(p.vtable.handle_raw, p.info.PluginCtx, entryView, C.uint64_t(sid), borrowBytes(payload))
	return abi.Status(s), true
}

// StreamData invokes the plugin's optional stream_data entry.
func (p *Plugin) StreamData(sid uint64, data []byte) (status abi.Status, ok bool) {
	if p.vtable.stream_data == nil {
		return 0, false
	}
	s := C.nr_call_stream_data(p.vtable.stream_data, p.info.PluginCtx, C.uint64_t(sid), borrowBytes(data))
	return abi.Status(s), true
}

// StreamClose invokes the plugin's optional stream_close entry.
func (p *Plugin) StreamClose(sid uint64) (status abi.Status, ok bool) {
	if p.vtable.stream_close == nil {
		return 0, false
	}
	s := C.nr_call_stream_close(p.vtable.stream_close, p.info.PluginCtx, C.uint64_t(sid))
	return abi.Status(s), true
}

// Unload calls the plugin's shutdown entry (if any), releases the cgo
// handle backing its host_ctx, and dlcloses the library. Unload is
// idempotent.
func (p *Plugin) Unload() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return
	}
	p.shutdown = true

	C.nr_call_shutdown(p.vtable.shutdown, p.info.PluginCtx)
	p.cgoHandle.Delete()
	C.dlclose(p.handle)
}

func borrowString(s string) C.nr_string_view_t {
	if len(s) == 0 {
		return C.nr_string_view_t{}
	}
	return C.nr_string_view_t{
		data: (*C.char)(unsafe.Pointer(unsafe.StringData(s))),
		len:  C.uint32_t(len(s)),
	}
}

func borrowBytes(b []byte) C.nr_byte_view_t {
	if len(b) == 0 {
		return C.nr_byte_view_t{}
	}
	return C.nr_byte_view_t{
		data: (*C.uint8_t)(unsafe.Pointer(&b[0])),
		len:  C.uint64_t(len(b)),
	}
}

//export nylonRingSendResult
func nylonRingSendResult(hostCtx unsafe.Pointer, sid C.uint64_t, status C.nr_status_t, payload C.nr_byte_view_t) {
	h := cgo.Handle(uintptr(hostCtx))
	cbs, ok := h.Value().(Callbacks)
	if !ok {
		return
	}
	cbs.SendResult(uint64(sid), abi.Status(status), C.GoBytes(unsafe.Pointer(payload.data), C.int(payload.len)))
}

//export nylonRingSetState
func nylonRingSetState(hostCtx unsafe.Pointer, sid C.uint64_t, key C.nr_string_view_t, value C.nr_byte_view_t) C.nr_byte_view_t {
	h := cgo.Handle(uintptr(hostCtx))
	cbs, ok := h.Value().(Callbacks)
	if !ok {
		return C.nr_byte_view_t{}
	}
	k := C.GoStringN(key.data, C.int(key.len))
	v := C.GoBytes(unsafe.Pointer(value.data), C.int(value.len))
	prior := cbs.SetState(uint64(sid), k, v)
	return borrowBytes(prior)
}

//export nylonRingGetState
func nylonRingGetState(hostCtx unsafe.Pointer, sid C.uint64_t, key C.nr_string_view_t) C.nr_byte_view_t {
	h := cgo.Handle(uintptr(hostCtx))
	cbs, ok := h.Value().(Callbacks)
	if !ok {
		return C.nr_byte_view_t{}
	}
	k := C.GoStringN(key.data, C.int(key.len))
	v, _ := cbs.GetState(uint64(sid), k)
	return borrowBytes(v)
}

var (
	extVTableOnce sync.Once
	extVTablePtr  *C.nr_host_ext_vtable_t
)

// extVTable returns the (single, process-wide) extension vtable every
// loaded plugin resolves against. set_state/get_state dispatch on their
// host_ctx argument at call time (via the cgo.Handle lookups above), so one
// struct, allocated once in C-owned memory so its address outlives any one
// Go stack frame, serves every Host in the process.
func extVTable() *C.nr_host_ext_vtable_t {
	extVTableOnce.Do(func() {
		extVTablePtr = (*C.nr_host_ext_vtable_t)(C.malloc(C.size_t(unsafe.Sizeof(C.nr_host_ext_vtable_t{}))))
		extVTablePtr.set_state = (C.nr_set_state_fn)(C.nylonRingSetState)
		extVTablePtr.get_state = (C.nr_get_state_fn)(C.nylonRingGetState)
	})
	return extVTablePtr
}

// nylonRingResolveExtVTable resolves a host extension vtable: given the
// opaque host_ctx a plugin received in init, it returns the extension
// vtable for that host. A plugin reaches it via dlsym(RTLD_DEFAULT, ...) on
// its own process image, which requires the host binary to have been
// linked with its Go symbols exported to the dynamic symbol table (e.g.
// CGO_LDFLAGS="-rdynamic" at build time); this is an operational
// requirement of the process hosting plugins, not something this package
// can enforce at runtime.
//
//export nylonRingResolveExtVTable
func nylonRingResolveExtVTable(hostCtx unsafe.Pointer) *C.nr_host_ext_vtable_t {
	return extVTable()
}
