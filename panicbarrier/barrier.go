// Package panicbarrier implements the uniform catch-unwind wrapper every
// FFI-crossing function is run through, in both directions. An unwind
// never crosses the boundary as a language-level panic; it is converted
// into a Status/error the other side of the seam can consume, or handed to
// a caller-supplied handler after being recovered.
package panicbarrier

import (
	"fmt"

	"github.com/AssetsArt/nylon-ring/abi"
)

// Guard runs fn and recovers any panic it raises, returning an error
// describing the panic instead of letting it unwind further. Use this for
// host-side code that is about to be called from, or is about to call
// into, a plugin vtable function pointer.
func Guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panicbarrier: caught panic: %v", r)
		}
	}()
	return fn()
}

// GuardStatus runs fn, which is expected to return the Status a plugin
// vtable call produced, and recovers any panic into abi.StatusErr plus a
// descriptive error. This is the shape used when invoking handle/handle_raw
// /stream_data/stream_close/init: a panicking plugin must never terminate
// the host process, and is observed by the caller as an Internal error
// rather than a crash.
func GuardStatus(fn func() abi.Status) (status abi.Status, err error) {
	defer func() {
		if r := recover(); r != nil {
			status = abi.StatusErr
			err = fmt.Errorf("panicbarrier: plugin call panicked: %v", r)
		}
	}()
	return fn(), nil
}

// GuardSendResult wraps a send_result delivery (or set_state/get_state
// call) arriving from a plugin thread. If deliver panics, the panic is
// recovered and, when onPanic is non-nil, onPanic is invoked with the
// recovered value (the Router's SendResult uses it to log the panic; no
// delivery is made). With a nil onPanic the panic is simply discarded
// after being recovered.
func GuardSendResult(deliver func(), onPanic func(recovered any)) {
	defer func() {
		if r := recover(); r != nil && onPanic != nil {
			onPanic(r)
		}
	}()
	deliver()
}
