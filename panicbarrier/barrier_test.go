package panicbarrier

import (
	"testing"

	"github.com/AssetsArt/nylon-ring/abi"
	"github.com/stretchr/testify/require"
)

func TestGuard_RecoversPanic(t *testing.T) {
	err := Guard(func() error {
		panic("boom")
	})
	require.Error(t, err)
}

func TestGuard_PassesThroughNormalReturn(t *testing.T) {
	err := Guard(func() error { return nil })
	require.NoError(t, err)
}

func TestGuardStatus_RecoversPanicAsErr(t *testing.T) {
	status, err := GuardStatus(func() abi.Status {
		panic("plugin exploded")
	})
	require.Error(t, err)
	require.Equal(t, abi.StatusErr, status)
}

func TestGuardStatus_PassesThroughStatus(t *testing.T) {
	status, err := GuardStatus(func() abi.Status { return abi.StatusOk })
	require.NoError(t, err)
	require.Equal(t, abi.StatusOk, status)
}

func TestGuardSendResult_InvokesOnPanicWithRecoveredValue(t *testing.T) {
	var captured any
	GuardSendResult(func() {
		panic("send_result blew up")
	}, func(r any) {
		captured = r
	})
	require.Equal(t, "send_result blew up", captured)
}

func TestGuardSendResult_NoPanicNoCallback(t *testing.T) {
	called := false
	GuardSendResult(func() {}, func(r any) { called = true })
	require.False(t, called)
}

func TestGuardSendResult_NilOnPanicDiscardsSilently(t *testing.T) {
	require.NotPanics(t, func() {
		GuardSendResult(func() { panic("discarded") }, nil)
	})
}
