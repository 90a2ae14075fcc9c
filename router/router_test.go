package router

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/AssetsArt/nylon-ring/abi"
	"github.com/AssetsArt/nylon-ring/internal/registry"
	"github.com/AssetsArt/nylon-ring/internal/state"
)

func newTestRouter() (*Router, *registry.Registry, *registry.FastPath, *state.Store) {
	reg := registry.New()
	fp := registry.NewFastPath()
	st := state.New()
	return New(reg, fp, st, zerolog.Nop()), reg, fp, st
}

func TestRouter_UnaryMatchCleansUpRegistryAndState(t *testing.T) {
	r, reg, _, st := newTestRouter()
	const sid = uint64(42)

	slot := registry.NewUnarySlot()
	require.NoError(t, reg.RegisterUnary(sid, slot))
	st.Set(sid, "k", []byte("v"))

	r.SendResult(sid, abi.StatusOk, []byte("hi"))

	result := <-slot.Recv()
	require.Equal(t, abi.StatusOk, result.Status)
	require.Equal(t, []byte("hi"), result.Payload)

	require.Equal(t, 0, reg.Len())
	_, ok := st.Get(sid, "k")
	require.False(t, ok)
}

func TestRouter_SecondDeliveryToUnaryIsDropped(t *testing.T) {
	r, reg, _, _ := newTestRouter()
	const sid = uint64(7)

	slot := registry.NewUnarySlot()
	require.NoError(t, reg.RegisterUnary(sid, slot))

	r.SendResult(sid, abi.StatusOk, []byte("first"))
	// sid is no longer registered; this must be a silent no-op, not a panic.
	require.NotPanics(t, func() {
		r.SendResult(sid, abi.StatusOk, []byte("second"))
	})

	result := <-slot.Recv()
	require.Equal(t, []byte("first"), result.Payload)
}

func TestRouter_StreamFramesInOrderThenTerminal(t *testing.T) {
	r, reg, _, st := newTestRouter()
	const sid = uint64(99)

	sink := registry.NewStreamSink()
	require.NoError(t, reg.RegisterStream(sid, sink))
	st.Set(sid, "seq", []byte{1})

	for i := 1; i <= 5; i++ {
		r.SendResult(sid, abi.StatusOk, []byte{byte(i)})
	}
	r.SendResult(sid, abi.StatusStreamEnd, nil)

	for i := 1; i <= 5; i++ {
		frame, ok := sink.Next()
		require.True(t, ok)
		require.Equal(t, abi.StatusOk, frame.Status)
		require.Equal(t, []byte{byte(i)}, frame.Payload)
	}
	frame, ok := sink.Next()
	require.True(t, ok)
	require.Equal(t, abi.StatusStreamEnd, frame.Status)

	_, ok = sink.Next()
	require.False(t, ok, "expected end of stream after the terminal frame")

	require.Equal(t, 0, reg.Len())
	_, ok = st.Get(sid, "seq")
	require.False(t, ok)
}

func TestRouter_PostTerminalDeliveryDroppedNotPanicked(t *testing.T) {
	r, reg, _, _ := newTestRouter()
	const sid = uint64(5)

	sink := registry.NewStreamSink()
	require.NoError(t, reg.RegisterStream(sid, sink))

	r.SendResult(sid, abi.StatusStreamEnd, nil)
	require.NotPanics(t, func() {
		r.SendResult(sid, abi.StatusOk, []byte("too late"))
	})
}

func TestRouter_UnknownSidIsNoop(t *testing.T) {
	r, _, _, _ := newTestRouter()
	require.NotPanics(t, func() {
		r.SendResult(12345, abi.StatusOk, []byte("nobody home"))
	})
}

func TestRouter_FastPathTakesPriorityOverSharedRegistry(t *testing.T) {
	r, reg, fp, _ := newTestRouter()
	const sid = uint64(3)

	fastSlot := registry.NewUnarySlot()
	fp.Park(sid, fastSlot)
	defer fp.Clear()

	// Also register a (bogus, should never be reached) sharded slot for the
	// same SID to prove the fast path wins the waterfall.
	shardedSlot := registry.NewUnarySlot()
	require.NoError(t, reg.RegisterUnary(sid, shardedSlot))

	r.SendResult(sid, abi.StatusOk, []byte("fast"))

	result := <-fastSlot.Recv()
	require.Equal(t, []byte("fast"), result.Payload)
}

func TestRouter_SetStateThenGetStateRoundTrips(t *testing.T) {
	r, _, _, _ := newTestRouter()
	const sid = uint64(1)

	prior := r.SetState(sid, "seq", []byte{0x01})
	require.Nil(t, prior)

	v, ok := r.GetState(sid, "seq")
	require.True(t, ok)
	require.Equal(t, []byte{0x01}, v)

	prior = r.SetState(sid, "seq", []byte{0x02})
	require.Equal(t, []byte{0x01}, prior)

	v, ok = r.GetState(sid, "seq")
	require.True(t, ok)
	require.Equal(t, []byte{0x02}, v)
}
