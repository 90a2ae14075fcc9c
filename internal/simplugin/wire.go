// Package simplugin simulates an out-of-process plugin speaking the
// teacher's NATS/msgpack wire protocol (sdk/go/sdk/plugin_nats.go), for
// integration tests that need the Router's full multi-thread delivery
// path without a compiled, dlopen'd shared library. A RemotePlugin plays
// the plugin's part; an Adapter plays the host's part, implementing the
// same interface the cgo-backed plugin.Plugin does.
package simplugin

import "strconv"

// protocolVersion is this harness's own wire version, independent of
// abi.ABIVersion: simplugin never crosses the C ABI boundary, only NATS.
const protocolVersion = 1

// wireRequest is the msgpack envelope the Adapter publishes to invoke one
// of the RemotePlugin's registered entries, mirroring a plugin request
// envelope shaped as version/session/phase/data, narrowed to this module's
// call shape (sid instead of session, entry name instead of phase number).
type wireRequest struct {
	Version uint16 `msgpack:"version"`
	Sid     uint64 `msgpack:"sid"`
	Entry   string `msgpack:"entry"`
	Raw     bool   `msgpack:"raw"`
	Frame   []byte `msgpack:"frame"`   // flatbuffers-encoded RequestFrame, empty for raw calls
	Payload []byte `msgpack:"payload"` // the call's opaque body
}

// wireAck is the synchronous response to a wireRequest: the RemotePlugin's
// accept/reject decision, standing in for a real plugin's handle() return
// value.
type wireAck struct {
	Version uint16 `msgpack:"version"`
	Status  uint32 `msgpack:"status"`
	Error   string `msgpack:"error,omitempty"`
}

// wireResult is one asynchronous delivery, published by the RemotePlugin
// on a per-sid result subject and forwarded by the Adapter into
// cbs.SendResult, mirroring a plugin response envelope of the same shape.
type wireResult struct {
	Version uint16 `msgpack:"version"`
	Sid     uint64 `msgpack:"sid"`
	Status  uint32 `msgpack:"status"`
	Payload []byte `msgpack:"payload,omitempty"`
	Final   bool   `msgpack:"final"`
}

func resultSubject(base string, sid uint64) string {
	return base + ".result." + strconv.FormatUint(sid, 10)
}
