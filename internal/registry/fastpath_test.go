package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFastPath_MatchOnlyForOwningGoroutineAndSID(t *testing.T) {
	fp := NewFastPath()
	slot := NewUnarySlot()
	fp.Park(1, slot)
	defer fp.Clear()

	got, ok := fp.MatchCurrentGoroutine(1)
	require.True(t, ok)
	require.Same(t, slot, got)

	_, ok = fp.MatchCurrentGoroutine(2)
	require.False(t, ok, "wrong sid on the same goroutine must not match")
}

func TestFastPath_OtherGoroutineNeverMatches(t *testing.T) {
	fp := NewFastPath()
	slot := NewUnarySlot()
	fp.Park(1, slot)
	defer fp.Clear()

	done := make(chan bool)
	go func() {
		_, ok := fp.MatchCurrentGoroutine(1)
		done <- ok
	}()
	require.False(t, <-done, "a different goroutine must never match another goroutine's parked sentinel")
}

func TestFastPath_ClearRemovesSentinel(t *testing.T) {
	fp := NewFastPath()
	fp.Park(1, NewUnarySlot())
	fp.Clear()

	_, ok := fp.MatchCurrentGoroutine(1)
	require.False(t, ok)
}
