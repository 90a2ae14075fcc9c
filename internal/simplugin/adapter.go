package simplugin

import (
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/AssetsArt/nylon-ring/abi"
)

// Callbacks mirrors plugin.Callbacks so this package does not import the
// cgo-tagged plugin package: a *router.Router satisfies both structurally.
type Callbacks interface {
	SendResult(sid uint64, status abi.Status, payload []byte)
	SetState(sid uint64, key string, value []byte) (prior []byte)
	GetState(sid uint64, key string) (value []byte, ok bool)
}

// Adapter plays the host side of the simulated NATS transport: it
// satisfies the same method set plugin.Plugin does (Name, Version,
// Handle, HandleRaw, StreamData, StreamClose, Unload), so a *Host can be
// built over either one interchangeably (see NewHostOverNATS in the root
// package).
type Adapter struct {
	conn    *nats.Conn
	subject string
	cbs     Callbacks
	timeout time.Duration

	mu      sync.Mutex
	streams map[uint64]*nats.Subscription
}

// NewAdapter wraps an established NATS connection. subject must match the
// RemotePlugin's request subject. cbs receives every asynchronous
// delivery the simulated plugin publishes, exactly as plugin.Load wires a
// cgo plugin's send_result export to the Router.
func NewAdapter(conn *nats.Conn, subject string, cbs Callbacks) *Adapter {
	return &Adapter{
		conn:    conn,
		subject: subject,
		cbs:     cbs,
		timeout: 5 * time.Second,
		streams: make(map[uint64]*nats.Subscription),
	}
}

func (a *Adapter) Name() string    { return "simplugin" }
func (a *Adapter) Version() string { return "0.0.0-simplugin" }

// Handle publishes entry's request and subscribes the result subject
// before the ack round-trip completes, so no delivery the RemotePlugin
// issues immediately after acking can be missed.
func (a *Adapter) Handle(entry string, sid uint64, req *abi.RequestView, payload []byte) abi.Status {
	var frame []byte
	if req != nil {
		frame = encodeRequestFrame(RequestFrame{Method: req.Method, Path: req.Path, Query: req.Query, Body: payload})
	}
	return a.call(entry, sid, frame, payload, false)
}

// HandleRaw is Handle without a structured Request frame.
func (a *Adapter) HandleRaw(entry string, sid uint64, payload []byte) (abi.Status, bool) {
	return a.call(entry, sid, nil, payload, true), true
}

func (a *Adapter) call(entry string, sid uint64, frame, payload []byte, raw bool) abi.Status {
	sub, err := a.conn.SubscribeSync(resultSubject(a.subject, sid))
	if err != nil {
		return abi.StatusErr
	}
	a.trackStream(sid, sub)
	go a.forwardResults(sid, sub)

	data, err := msgpack.Marshal(wireRequest{
		Version: protocolVersion,
		Sid:     sid,
		Entry:   entry,
		Raw:     raw,
		Frame:   frame,
		Payload: payload,
	})
	if err != nil {
		a.untrackStream(sid)
		return abi.StatusErr
	}

	resp, err := a.conn.Request(a.subject, data, a.timeout)
	if err != nil {
		a.untrackStream(sid)
		return abi.StatusErr
	}

	var ack wireAck
	if err := msgpack.Unmarshal(resp.Data, &ack); err != nil {
		a.untrackStream(sid)
		return abi.StatusErr
	}
	return abi.Status(ack.Status)
}

// forwardResults relays every wireResult published for sid into
// cbs.SendResult, the same delivery path a real plugin's send_result
// export takes, until a result marked Final arrives or no result arrives
// within the adapter's timeout.
func (a *Adapter) forwardResults(sid uint64, sub *nats.Subscription) {
	defer a.untrackStream(sid)
	for {
		msg, err := sub.NextMsg(a.timeout)
		if err != nil {
			return // subscription drained/unsubscribed, or no further deliveries arrived
		}
		var res wireResult
		if err := msgpack.Unmarshal(msg.Data, &res); err != nil {
			continue
		}
		a.cbs.SendResult(sid, abi.Status(res.Status), res.Payload)
		if res.Final {
			return
		}
	}
}

func (a *Adapter) trackStream(sid uint64, sub *nats.Subscription) {
	a.mu.Lock()
	a.streams[sid] = sub
	a.mu.Unlock()
}

func (a *Adapter) untrackStream(sid uint64) {
	a.mu.Lock()
	sub, ok := a.streams[sid]
	delete(a.streams, sid)
	a.mu.Unlock()
	if ok {
		sub.Unsubscribe()
	}
}

// StreamData and StreamClose are unsupported in this harness: the
// simulated wire protocol only models the plugin pushing frames to the
// host (the streaming scenario this harness models), not the reverse
// direction a real ABI's stream_data/stream_close vtable slots also allow.
func (a *Adapter) StreamData(sid uint64, data []byte) (abi.Status, bool) { return 0, false }
func (a *Adapter) StreamClose(sid uint64) (abi.Status, bool)             { return 0, false }

// Unload closes the NATS connection.
func (a *Adapter) Unload() {
	a.conn.Close()
}
