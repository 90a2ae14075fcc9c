package nylonring

import (
	"context"
	"fmt"

	"github.com/AssetsArt/nylon-ring/abi"
	"github.com/AssetsArt/nylon-ring/internal/registry"
	"github.com/AssetsArt/nylon-ring/panicbarrier"
)

// Call is the fire-and-forget dispatcher operation: it invokes the
// plugin's handle entry and discards whatever the plugin eventually
// delivers. No registry entry is ever created for its SID, so any
// send_result the plugin does issue falls through the routing waterfall's
// final step and is dropped.
func (h *Host) Call(entry string, req *abi.RequestView, payload []byte) {
	s := h.sid.Next()
	_, _ = panicbarrier.GuardStatus(func() abi.Status {
		return h.plugin.Handle(entry, s, req, payload)
	})
}

// CallResponse registers a unary slot, invokes handle, and awaits the
// single completion the plugin (eventually) delivers via send_result,
// honoring ctx for early cancellation.
func (h *Host) CallResponse(ctx context.Context, entry string, req *abi.RequestView, payload []byte) (abi.Status, []byte, error) {
	s := h.sid.Next()
	slot := registry.NewUnarySlot()
	if err := h.registry.RegisterUnary(s, slot); err != nil {
		return 0, nil, newError(KindInternal, "sid collision registering unary slot", err)
	}
	handleStatus, guardErr := panicbarrier.GuardStatus(func() abi.Status {
		return h.plugin.Handle(entry, s, req, payload)
	})
	if guardErr != nil {
		h.registry.Remove(s)
		h.state.Destroy(s)
		return 0, nil, newError(KindInternal, "plugin panicked during handle", guardErr)
	}
	return h.awaitUnary(ctx, s, slot, handleStatus)
}

// CallResponseFast is call_response's synchronous, inline counterpart: it
// parks the caller's goroutine-local fast-path sentinel instead of a
// sharded registry entry, at the cost of requiring the plugin to deliver
// its result from the same call stack before handle returns. There is no
// ctx parameter because there is nothing to wait on across goroutines; a
// plugin that calls back from a different goroutine hangs this call
// indefinitely rather than erroring, which is the documented price of the
// optimization.
func (h *Host) CallResponseFast(entry string, req *abi.RequestView, payload []byte) (abi.Status, []byte, error) {
	s := h.sid.Next()
	slot := registry.NewUnarySlot()
	h.fastpath.Park(s, slot)
	defer h.fastpath.Clear()

	handleStatus, guardErr := panicbarrier.GuardStatus(func() abi.Status {
		return h.plugin.Handle(entry, s, req, payload)
	})
	if guardErr != nil {
		h.state.Destroy(s)
		return 0, nil, newError(KindInternal, "plugin panicked during handle", guardErr)
	}
	return h.resolveFast(s, slot, handleStatus)
}

// CallRaw is call_response without a structured Request: the plugin's
// optional handle_raw entry receives only the payload. It returns a
// KindUnsupported error if the plugin does not implement handle_raw.
func (h *Host) CallRaw(ctx context.Context, entry string, payload []byte) (abi.Status, []byte, error) {
	s := h.sid.Next()
	slot := registry.NewUnarySlot()
	if err := h.registry.RegisterUnary(s, slot); err != nil {
		return 0, nil, newError(KindInternal, "sid collision registering unary slot", err)
	}
	var ok bool
	status, guardErr := panicbarrier.GuardStatus(func() abi.Status {
		var st abi.Status
		st, ok = h.plugin.HandleRaw(entry, s, payload)
		return st
	})
	if guardErr != nil {
		h.registry.Remove(s)
		h.state.Destroy(s)
		return 0, nil, newError(KindInternal, "plugin panicked during handle_raw", guardErr)
	}
	if !ok {
		h.registry.Remove(s)
		h.state.Destroy(s)
		return 0, nil, newError(KindUnsupported, "plugin does not implement handle_raw", nil)
	}
	return h.awaitUnary(ctx, s, slot, status)
}

// CallRawUnaryFast is CallRaw's fast-path counterpart, with the same
// synchronous-delivery restriction as CallResponseFast.
func (h *Host) CallRawUnaryFast(entry string, payload []byte) (abi.Status, []byte, error) {
	s := h.sid.Next()
	slot := registry.NewUnarySlot()
	h.fastpath.Park(s, slot)
	defer h.fastpath.Clear()

	var ok bool
	status, guardErr := panicbarrier.GuardStatus(func() abi.Status {
		var st abi.Status
		st, ok = h.plugin.HandleRaw(entry, s, payload)
		return st
	})
	if guardErr != nil {
		h.state.Destroy(s)
		return 0, nil, newError(KindInternal, "plugin panicked during handle_raw", guardErr)
	}
	if !ok {
		h.state.Destroy(s)
		return 0, nil, newError(KindUnsupported, "plugin does not implement handle_raw", nil)
	}
	return h.resolveFast(s, slot, status)
}

// awaitUnary resolves a unary call registered in the sharded registry. A
// non-Ok synchronous return from handle/handle_raw is only authoritative
// if the registry entry is still ours to take: the design permits a
// plugin to call send_result before its registering call even returns, in
// which case the registry has already been emptied by the Router and the
// real delivered result is waiting on slot's channel.
func (h *Host) awaitUnary(ctx context.Context, sid uint64, slot *registry.UnarySlot, handleStatus abi.Status) (abi.Status, []byte, error) {
	if handleStatus != abi.StatusOk {
		if taken, ok := h.registry.TakeUnary(sid); ok && taken == slot {
			h.state.Destroy(sid)
			return handleStatus, nil, statusError(handleStatus)
		}
	}
	select {
	case res, ok := <-slot.Recv():
		if !ok {
			return 0, nil, newError(KindCancelled, "call abandoned before delivery", nil)
		}
		return finishUnary(res)
	case <-ctx.Done():
		slot.Drop()
		h.registry.Remove(sid)
		h.state.Destroy(sid)
		return 0, nil, newError(KindCancelled, "context cancelled while awaiting completion", ctx.Err())
	}
}

// resolveFast is awaitUnary's fast-path counterpart: a non-Ok synchronous
// return is authoritative unless a delivery is already sitting in the
// slot's buffered channel (the plugin delivered before handle returned),
// checked with a non-blocking receive instead of TakeUnary since the fast
// path never touches the sharded registry.
func (h *Host) resolveFast(sid uint64, slot *registry.UnarySlot, handleStatus abi.Status) (abi.Status, []byte, error) {
	if handleStatus != abi.StatusOk {
		select {
		case res, ok := <-slot.Recv():
			if !ok {
				return 0, nil, newError(KindCancelled, "fast call abandoned before delivery", nil)
			}
			return finishUnary(res)
		default:
			h.state.Destroy(sid)
			return handleStatus, nil, statusError(handleStatus)
		}
	}
	res, ok := <-slot.Recv()
	if !ok {
		return 0, nil, newError(KindCancelled, "fast call abandoned before delivery", nil)
	}
	return finishUnary(res)
}

func finishUnary(res registry.UnaryResult) (abi.Status, []byte, error) {
	if res.Status != abi.StatusOk {
		return res.Status, res.Payload, statusError(res.Status)
	}
	return res.Status, res.Payload, nil
}

// Stream is a live call_stream completion: zero or more frames followed by
// exactly one terminal frame, read with Next.
type Stream struct {
	host *Host
	sid  uint64
	sink *registry.StreamSink
}

// SID returns the stream's identifier, for correlation with logs or a
// manual CloseStream/SendStreamData call.
func (s *Stream) SID() uint64 { return s.sid }

type streamNext struct {
	frame registry.Frame
	ok    bool
}

// Next blocks until the next frame arrives, the stream ends, or ctx is
// done. ok is false once the stream has ended with no error (a
// StatusStreamEnd terminal frame); a non-nil error means the stream ended
// with StatusErr, StatusInvalid or StatusUnsupported, or ctx expired.
//
// The underlying StreamSink has no ctx-aware receive of its own, so a
// cancellation races a background goroutine reading the sink against
// ctx.Done; that goroutine outlives the call on cancellation; it exits as
// soon as the next frame (routinely the stream's own terminal frame)
// arrives.
func (s *Stream) Next(ctx context.Context) (abi.Status, []byte, bool, error) {
	resCh := make(chan streamNext, 1)
	go func() {
		frame, ok := s.sink.Next()
		resCh <- streamNext{frame, ok}
	}()

	select {
	case r := <-resCh:
		if !r.ok {
			return 0, nil, false, nil
		}
		switch r.frame.Status {
		case abi.StatusStreamEnd:
			// The stream's own clean-end signal, not an error.
			return r.frame.Status, r.frame.Payload, false, nil
		case abi.StatusOk:
			return r.frame.Status, r.frame.Payload, true, nil
		default:
			return r.frame.Status, r.frame.Payload, false, statusError(r.frame.Status)
		}
	case <-ctx.Done():
		return 0, nil, false, newError(KindCancelled, "context cancelled while awaiting stream frame", ctx.Err())
	}
}

// Close tells the plugin this stream's consumer is done, via CloseStream.
func (s *Stream) Close() error {
	return s.host.CloseStream(s.sid)
}

// CallStream registers a stream sink and invokes handle, returning a
// Stream for the caller to read successive frames from.
func (h *Host) CallStream(entry string, req *abi.RequestView, payload []byte) (*Stream, error) {
	s := h.sid.Next()
	sink := registry.NewStreamSink()
	if err := h.registry.RegisterStream(s, sink); err != nil {
		return nil, newError(KindInternal, "sid collision registering stream sink", err)
	}

	status, guardErr := panicbarrier.GuardStatus(func() abi.Status {
		return h.plugin.Handle(entry, s, req, payload)
	})
	if guardErr != nil {
		h.registry.Remove(s)
		h.state.Destroy(s)
		return nil, newError(KindInternal, "plugin panicked during handle", guardErr)
	}
	if status != abi.StatusOk && !sink.Closed() {
		// The plugin rejected the stream synchronously and never delivered a
		// terminal frame of its own (had it, sink.Closed() would already be true, per
		// the same same-thread-delivery race awaitUnary accounts for).
		h.registry.Remove(s)
		h.state.Destroy(s)
		return nil, statusError(status)
	}
	return &Stream{host: h, sid: s, sink: sink}, nil
}

// SendStreamData invokes the plugin's optional stream_data entry for an
// already-open stream sid. It returns KindUnsupported if the plugin did
// not implement stream_data.
func (h *Host) SendStreamData(sid uint64, data []byte) error {
	var ok bool
	status, guardErr := panicbarrier.GuardStatus(func() abi.Status {
		var st abi.Status
		st, ok = h.plugin.StreamData(sid, data)
		return st
	})
	if guardErr != nil {
		return newError(KindInternal, "plugin panicked during stream_data", guardErr)
	}
	if !ok {
		return newError(KindUnsupported, "plugin does not implement stream_data", nil)
	}
	if status != abi.StatusOk {
		return statusError(status)
	}
	return nil
}

// CloseStream invokes the plugin's optional stream_close entry and
// unregisters sid from the registry and state store regardless of the
// plugin's response, since the host considers the stream over once its
// consumer asks to close it.
func (h *Host) CloseStream(sid uint64) error {
	var ok bool
	status, guardErr := panicbarrier.GuardStatus(func() abi.Status {
		var st abi.Status
		st, ok = h.plugin.StreamClose(sid)
		return st
	})
	h.registry.Remove(sid)
	h.state.Destroy(sid)
	if guardErr != nil {
		return newError(KindInternal, "plugin panicked during stream_close", guardErr)
	}
	if !ok {
		return newError(KindUnsupported, "plugin does not implement stream_close", nil)
	}
	if status != abi.StatusOk {
		return statusError(status)
	}
	return nil
}

// statusError converts a terminal, non-Ok abi.Status into the matching
// *Error kind.
func statusError(status abi.Status) error {
	switch status {
	case abi.StatusErr:
		return newError(KindPluginRejected, "plugin returned Err", nil)
	case abi.StatusInvalid:
		return newError(KindInvalidEntryPoint, "plugin returned Invalid", nil)
	case abi.StatusUnsupported:
		return newError(KindUnsupported, "plugin returned Unsupported", nil)
	case abi.StatusStreamEnd:
		return newError(KindStreamClosed, "plugin returned StreamEnd", nil)
	default:
		return newError(KindInternal, fmt.Sprintf("unexpected status %s", status), nil)
	}
}
