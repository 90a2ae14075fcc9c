package nylonring

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/AssetsArt/nylon-ring/abi"
)

// fakePlugin is a pluginHandle the dispatcher tests drive directly,
// standing in for a real *plugin.Plugin without a compiled shared
// library. A nil handleFn makes Handle return abi.StatusOk; a nil
// optional hook returns (0, false), matching a plugin that implements only
// handle.
type fakePlugin struct {
	cbs           hostCallbacks
	handleFn      func(entry string, sid uint64, req *abi.RequestView, payload []byte) abi.Status
	handleRawFn   func(entry string, sid uint64, payload []byte) (abi.Status, bool)
	streamDataFn  func(sid uint64, data []byte) (abi.Status, bool)
	streamCloseFn func(sid uint64) (abi.Status, bool)
}

func (f *fakePlugin) Name() string    { return "fake" }
func (f *fakePlugin) Version() string { return "0.0.0-test" }
func (f *fakePlugin) Unload()         {}

func (f *fakePlugin) Handle(entry string, sid uint64, req *abi.RequestView, payload []byte) abi.Status {
	if f.handleFn != nil {
		return f.handleFn(entry, sid, req, payload)
	}
	return abi.StatusOk
}

func (f *fakePlugin) HandleRaw(entry string, sid uint64, payload []byte) (abi.Status, bool) {
	if f.handleRawFn != nil {
		return f.handleRawFn(entry, sid, payload)
	}
	return 0, false
}

func (f *fakePlugin) StreamData(sid uint64, data []byte) (abi.Status, bool) {
	if f.streamDataFn != nil {
		return f.streamDataFn(sid, data)
	}
	return 0, false
}

func (f *fakePlugin) StreamClose(sid uint64) (abi.Status, bool) {
	if f.streamCloseFn != nil {
		return f.streamCloseFn(sid)
	}
	return 0, false
}

func newTestHost(build func(cbs hostCallbacks) *fakePlugin) (*Host, *fakePlugin) {
	var fp *fakePlugin
	h := newHostForTest(func(cbs hostCallbacks) pluginHandle {
		fp = build(cbs)
		fp.cbs = cbs
		return fp
	})
	return h, fp
}

func TestCallResponse_AsyncDelivery(t *testing.T) {
	h, _ := newTestHost(func(cbs hostCallbacks) *fakePlugin {
		return &fakePlugin{
			handleFn: func(entry string, sid uint64, req *abi.RequestView, payload []byte) abi.Status {
				go cbs.SendResult(sid, abi.StatusOk, []byte("echo: "+entry))
				return abi.StatusOk
			},
		}
	})

	status, body, err := h.CallResponse(context.Background(), "echo", nil, []byte("hi"))
	require.NoError(t, err)
	require.Equal(t, abi.StatusOk, status)
	require.Equal(t, "echo: echo", string(body))
	require.Equal(t, 0, h.registry.Len())
}

func TestCallResponse_SynchronousInvalidEntry(t *testing.T) {
	h, _ := newTestHost(func(cbs hostCallbacks) *fakePlugin {
		return &fakePlugin{
			handleFn: func(entry string, sid uint64, req *abi.RequestView, payload []byte) abi.Status {
				return abi.StatusInvalid
			},
		}
	})

	_, _, err := h.CallResponse(context.Background(), "nonexistent", nil, nil)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindInvalidEntryPoint, kind)
	require.Equal(t, 0, h.registry.Len())
}

func TestCallResponse_SynchronousDeliveryRaceUsesDeliveredResult(t *testing.T) {
	h, _ := newTestHost(func(cbs hostCallbacks) *fakePlugin {
		return &fakePlugin{
			handleFn: func(entry string, sid uint64, req *abi.RequestView, payload []byte) abi.Status {
				// Plugin delivers on the same call stack, then returns a
				// status unrelated to what it delivered: the delivered
				// result must win, not this return value.
				cbs.SendResult(sid, abi.StatusOk, []byte("already-delivered"))
				return abi.StatusInvalid
			},
		}
	})

	status, body, err := h.CallResponse(context.Background(), "entry", nil, nil)
	require.NoError(t, err)
	require.Equal(t, abi.StatusOk, status)
	require.Equal(t, "already-delivered", string(body))
}

func TestCallResponse_ContextCancelledWithNoDelivery(t *testing.T) {
	h, _ := newTestHost(func(cbs hostCallbacks) *fakePlugin {
		return &fakePlugin{
			handleFn: func(entry string, sid uint64, req *abi.RequestView, payload []byte) abi.Status {
				return abi.StatusOk // plugin "spawned work" that never arrives
			},
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := h.CallResponse(ctx, "entry", nil, nil)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindCancelled, kind)
	require.Equal(t, 0, h.registry.Len())
}

func TestCallResponseFast_SynchronousDelivery(t *testing.T) {
	h, _ := newTestHost(func(cbs hostCallbacks) *fakePlugin {
		return &fakePlugin{
			handleFn: func(entry string, sid uint64, req *abi.RequestView, payload []byte) abi.Status {
				cbs.SendResult(sid, abi.StatusOk, []byte("fast"))
				return abi.StatusOk
			},
		}
	})

	status, body, err := h.CallResponseFast("entry", nil, nil)
	require.NoError(t, err)
	require.Equal(t, abi.StatusOk, status)
	require.Equal(t, "fast", string(body))
}

func TestCallRaw_UnsupportedWhenHandleRawMissing(t *testing.T) {
	h, _ := newTestHost(func(cbs hostCallbacks) *fakePlugin {
		return &fakePlugin{}
	})

	_, _, err := h.CallRaw(context.Background(), "entry", nil)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindUnsupported, kind)
	require.Equal(t, 0, h.registry.Len())
}

func TestCallStream_FramesThenStreamEnd(t *testing.T) {
	h, _ := newTestHost(func(cbs hostCallbacks) *fakePlugin {
		return &fakePlugin{
			handleFn: func(entry string, sid uint64, req *abi.RequestView, payload []byte) abi.Status {
				go func() {
					for i := 0; i < 4; i++ {
						cbs.SendResult(sid, abi.StatusOk, []byte{byte(i)})
					}
					cbs.SendResult(sid, abi.StatusStreamEnd, nil)
				}()
				return abi.StatusOk
			},
		}
	})

	stream, err := h.CallStream("tail", nil, nil)
	require.NoError(t, err)

	var frames [][]byte
	for {
		status, body, ok, err := stream.Next(context.Background())
		if !ok {
			require.NoError(t, err)
			break
		}
		require.Equal(t, abi.StatusOk, status)
		frames = append(frames, body)
	}
	require.Len(t, frames, 4)
	// The terminal frame wakes this consumer before the Router's own
	// goroutine has necessarily finished removing the SID, so give it a
	// moment rather than asserting immediately.
	require.Eventually(t, func() bool { return h.registry.Len() == 0 }, time.Second, time.Millisecond)
}

func TestCallStream_SynchronousRejectionWithNoFrames(t *testing.T) {
	h, _ := newTestHost(func(cbs hostCallbacks) *fakePlugin {
		return &fakePlugin{
			handleFn: func(entry string, sid uint64, req *abi.RequestView, payload []byte) abi.Status {
				return abi.StatusInvalid
			},
		}
	})

	_, err := h.CallStream("tail", nil, nil)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindInvalidEntryPoint, kind)
	require.Equal(t, 0, h.registry.Len())
}

func TestSendStreamDataAndCloseStream(t *testing.T) {
	var gotData []byte
	closed := false

	h, _ := newTestHost(func(cbs hostCallbacks) *fakePlugin {
		return &fakePlugin{
			handleFn: func(entry string, sid uint64, req *abi.RequestView, payload []byte) abi.Status {
				return abi.StatusOk
			},
			streamDataFn: func(sid uint64, data []byte) (abi.Status, bool) {
				gotData = data
				return abi.StatusOk, true
			},
			streamCloseFn: func(sid uint64) (abi.Status, bool) {
				closed = true
				return abi.StatusOk, true
			},
		}
	})

	stream, err := h.CallStream("upload", nil, nil)
	require.NoError(t, err)

	require.NoError(t, h.SendStreamData(stream.SID(), []byte("chunk")))
	require.Equal(t, "chunk", string(gotData))

	require.NoError(t, stream.Close())
	require.True(t, closed)
	require.Equal(t, 0, h.registry.Len())
}

func TestCallResponse_HandlePanicConvertsToInternal(t *testing.T) {
	h, _ := newTestHost(func(cbs hostCallbacks) *fakePlugin {
		return &fakePlugin{
			handleFn: func(entry string, sid uint64, req *abi.RequestView, payload []byte) abi.Status {
				panic("boom")
			},
		}
	})

	var status abi.Status
	var err error
	require.NotPanics(t, func() {
		status, _, err = h.CallResponse(context.Background(), "entry", nil, nil)
	})
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindInternal, kind)
	require.Equal(t, abi.Status(0), status)
	require.Equal(t, 0, h.registry.Len())
}

func TestCallStream_HandlePanicConvertsToInternal(t *testing.T) {
	h, _ := newTestHost(func(cbs hostCallbacks) *fakePlugin {
		return &fakePlugin{
			handleFn: func(entry string, sid uint64, req *abi.RequestView, payload []byte) abi.Status {
				panic("stream boom")
			},
		}
	})

	var stream *Stream
	var err error
	require.NotPanics(t, func() {
		stream, err = h.CallStream("tail", nil, nil)
	})
	require.Nil(t, stream)
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	require.Equal(t, KindInternal, kind)
	require.Equal(t, 0, h.registry.Len())
}

func TestCall_FireAndForgetIgnoresLateDelivery(t *testing.T) {
	delivered := make(chan struct{})
	h, _ := newTestHost(func(cbs hostCallbacks) *fakePlugin {
		return &fakePlugin{
			handleFn: func(entry string, sid uint64, req *abi.RequestView, payload []byte) abi.Status {
				go func() {
					cbs.SendResult(sid, abi.StatusOk, []byte("ignored"))
					close(delivered)
				}()
				return abi.StatusOk
			},
		}
	})

	h.Call("notify", nil, []byte("event"))
	<-delivered
	require.Equal(t, 0, h.registry.Len())
}
