//go:build cgo

package abi

/*
#cgo CFLAGS: -I${SRCDIR}/include
#include "nylon_ring_abi.h"
*/
import "C"

import (
	"fmt"
	"unsafe"
)

// These aliases re-export the C type names under Go-friendly names for the rest
// of this package; other cgo packages in this module include the same
// nylon_ring_abi.h directly rather than reaching into these aliases, since
// cgo types are not shared across package boundaries.
type (
	CStringView  = C.nr_string_view_t
	CByteView    = C.nr_byte_view_t
	CHeader      = C.nr_header_t
	CRequest     = C.nr_request_t
	CPluginVTable = C.nr_plugin_vtable_t
	CPluginInfo  = C.nr_plugin_info_t
)

// PluginInfo mirrors nr_plugin_info_t for Go-side bookkeeping once the
// discovery symbol has been resolved and its strings copied out.
type PluginInfo struct {
	ABIVersion uint32
	StructSize uint32
	Name       string
	Version    string
	PluginCtx  unsafe.Pointer
	VTable     *CPluginVTable
}

// sizeOfPluginInfoC is the minimum struct_size this binary requires of a
// compatible plugin, i.e. sizeof(nr_plugin_info_t) as seen by the C side.
const sizeOfPluginInfoC = uint32(unsafe.Sizeof(C.nr_plugin_info_t{}))

// Compatible implements the ABI compatibility check: the plugin's reported
// abi_version must equal the version this binary implements, and its
// struct_size must be at least as large as this binary's PluginInfo layout.
// Smaller struct sizes indicate a truncated/incompatible struct; larger
// sizes are tolerated as additive forward-compatible fields.
func Compatible(abiVersion, structSize uint32) error {
	if abiVersion != ABIVersion {
		return fmt.Errorf("abi version mismatch: plugin=%d host=%d", abiVersion, ABIVersion)
	}
	if structSize < sizeOfPluginInfoC {
		return fmt.Errorf("plugin_info struct_size too small: got %d want >= %d", structSize, sizeOfPluginInfoC)
	}
	return nil
}

func goStringView(v C.nr_string_view_t) string {
	if v.data == nil || v.len == 0 {
		return ""
	}
	return C.GoStringN(v.data, C.int(v.len))
}

// LoadPluginInfo converts a raw nr_plugin_info_t pointer, as returned by the
// discovery symbol, into a Go-owned PluginInfo. It copies the name/version
// strings immediately since the underlying view is only guaranteed valid for
// the lifetime of the loaded library, not this call.
func LoadPluginInfo(raw unsafe.Pointer) *PluginInfo {
	c := (*C.nr_plugin_info_t)(raw)
	return &PluginInfo{
		ABIVersion: uint32(c.abi_version),
		StructSize: uint32(c.struct_size),
		Name:       goStringView(c.name),
		Version:    goStringView(c.version),
		PluginCtx:  unsafe.Pointer(c.plugin_ctx),
		VTable:     c.vtable,
	}
}

// BorrowString builds a non-owning nr_string_view_t over a Go string. The
// returned view is valid only as long as s is kept alive and unmoved, i.e.
// for the duration of the cgo call it is passed to.
func BorrowString(s string) C.nr_string_view_t {
	if len(s) == 0 {
		return C.nr_string_view_t{}
	}
	return C.nr_string_view_t{
		data: (*C.char)(unsafe.Pointer(unsafe.StringData(s))),
		len:  C.uint32_t(len(s)),
	}
}

// BorrowBytes builds a non-owning nr_byte_view_t over a Go byte slice. Same
// lifetime caveat as BorrowString.
func BorrowBytes(b []byte) C.nr_byte_view_t {
	if len(b) == 0 {
		return C.nr_byte_view_t{}
	}
	return C.nr_byte_view_t{
		data: (*C.uint8_t)(unsafe.Pointer(&b[0])),
		len:  C.uint64_t(len(b)),
	}
}

// CopyByteView copies the memory a nr_byte_view_t points at into a new,
// host-owned byte slice. This is mandatory at every point the Router
// receives a payload from a plugin: the plugin's memory is only valid for
// the duration of the call that carries it.
func CopyByteView(v C.nr_byte_view_t) []byte {
	if v.data == nil || v.len == 0 {
		return nil
	}
	return C.GoBytes(unsafe.Pointer(v.data), C.int(v.len))
}
