package simplugin

import (
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/AssetsArt/nylon-ring/abi"
)

// Handler implements one entry a RemotePlugin serves. deliver is called
// once for a plain unary completion (final=true), or repeatedly for a
// stream, with final=true only on the last call (call_stream and
// call_response invoke the identical handle entry; only the entry's own
// behavior distinguishes them, exactly as a real plugin would). Handler
// runs on its own goroutine, already detached from the NATS subscription
// callback.
type Handler func(sid uint64, req RequestFrame, payload []byte, deliver func(status abi.Status, payload []byte, final bool))

// RemotePlugin simulates an out-of-process plugin reachable over NATS:
// QueueSubscribe for load-balanced delivery, msgpack envelopes, and a
// synchronous ack followed by asynchronous result messages.
type RemotePlugin struct {
	conn    *nats.Conn
	subject string
	group   string
	log     zerolog.Logger

	mu       sync.RWMutex
	handlers map[string]Handler
}

// Dial connects to the NATS server at url and returns a RemotePlugin ready
// to register entries on. subject is the request subject it will
// QueueSubscribe once Serve is called.
func Dial(url, subject string, log zerolog.Logger) (*RemotePlugin, error) {
	conn, err := nats.Connect(url, nats.Name("simplugin"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, err
	}
	return &RemotePlugin{
		conn:     conn,
		subject:  subject,
		group:    "default",
		log:      log,
		handlers: make(map[string]Handler),
	}, nil
}

// Entry registers a Handler for entry name.
func (r *RemotePlugin) Entry(name string, h Handler) {
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

// Serve subscribes to the request subject with a queue group, a
// load-balanced QueueSubscribe pattern. It returns once
// subscribed; message handling happens on NATS's own dispatch goroutines.
func (r *RemotePlugin) Serve() error {
	_, err := r.conn.QueueSubscribe(r.subject, r.group, r.handleRequest)
	return err
}

// Close unsubscribes and drains the NATS connection.
func (r *RemotePlugin) Close() error {
	return r.conn.Drain()
}

func (r *RemotePlugin) handleRequest(msg *nats.Msg) {
	var req wireRequest
	if err := msgpack.Unmarshal(msg.Data, &req); err != nil {
		r.ack(msg, abi.StatusErr, err.Error())
		return
	}

	r.mu.RLock()
	handler, ok := r.handlers[req.Entry]
	r.mu.RUnlock()
	if !ok {
		r.ack(msg, abi.StatusInvalid, "unknown entry: "+req.Entry)
		return
	}

	r.ack(msg, abi.StatusOk, "")

	var frame RequestFrame
	if !req.Raw && len(req.Frame) > 0 {
		frame = decodeRequestFrame(req.Frame)
	}

	resultSubj := resultSubject(r.subject, req.Sid)
	go handler(req.Sid, frame, req.Payload, func(status abi.Status, payload []byte, final bool) {
		data, err := msgpack.Marshal(wireResult{
			Version: protocolVersion,
			Sid:     req.Sid,
			Status:  uint32(status),
			Payload: payload,
			Final:   final,
		})
		if err != nil {
			r.log.Error().Err(err).Uint64("sid", req.Sid).Msg("simplugin: failed to encode result")
			return
		}
		if err := r.conn.Publish(resultSubj, data); err != nil {
			r.log.Error().Err(err).Uint64("sid", req.Sid).Msg("simplugin: failed to publish result")
		}
	})
}

func (r *RemotePlugin) ack(msg *nats.Msg, status abi.Status, errMsg string) {
	data, err := msgpack.Marshal(wireAck{Version: protocolVersion, Status: uint32(status), Error: errMsg})
	if err != nil {
		r.log.Error().Err(err).Msg("simplugin: failed to encode ack")
		return
	}
	if err := msg.Respond(data); err != nil {
		r.log.Error().Err(err).Msg("simplugin: failed to send ack")
	}
}
