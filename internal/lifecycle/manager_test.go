package lifecycle

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kardio/kardiod/internal/advertising"
	"github.com/kardio/kardiod/internal/gatt"
	"github.com/kardio/kardiod/internal/radio"
	"github.com/kardio/kardiod/internal/testutils"
)

func newTestManager(t *testing.T, stack *testutils.FakeStack) (*StateManager, *advertising.Controller, *gatt.Registry) {
	log := testutils.NewTestLogger(t)
	reg := gatt.NewRegistry(stack, log,
		testutils.HeartRateService(), testutils.PulseOximeterService())
	adv := advertising.NewController(stack, radio.AdvertisingOptions{Name: "Kardio", Connectable: true},
		10*time.Millisecond, 10*time.Millisecond, log)
	sm := NewStateManager(stack, adv, reg, 5*time.Millisecond, log)
	stack.SetEventHandler(sm)
	return sm, adv, reg
}

func TestEnable_TransitionsAndStartsAdvertising(t *testing.T) {
	stack := testutils.NewFakeStack()
	sm, adv, _ := newTestManager(t, stack)

	require.NoError(t, sm.Enable())
	assert.Equal(t, StateEnabled, sm.State())
	assert.True(t, adv.Active())

	// Idempotent; the stack is not touched again.
	require.NoError(t, sm.Enable())
	assert.Equal(t, 1, stack.EnableCalls())
}

func TestEnable_StackFailureKeepsStateOff(t *testing.T) {
	stack := testutils.NewFakeStack()
	stack.EnableErr = errors.New("controller unresponsive")
	sm, _, _ := newTestManager(t, stack)

	err := sm.Enable()
	require.Error(t, err)
	assert.True(t, radio.IsKind(err, radio.StackEnableFailed))
	assert.Equal(t, StateDisabled, sm.State())
}

func TestDisable_WhileConnectedFailsBusy(t *testing.T) {
	stack := testutils.NewFakeStack()
	sm, _, _ := newTestManager(t, stack)
	require.NoError(t, sm.Enable())
	stack.Connect("peer-1")

	err := sm.Disable()
	require.Error(t, err)
	assert.True(t, radio.IsKind(err, radio.StackBusy))
	assert.Equal(t, StateEnabled, sm.State())
	assert.True(t, sm.HasConnection())
}

func TestDisable_WhenIdle(t *testing.T) {
	stack := testutils.NewFakeStack()
	sm, adv, _ := newTestManager(t, stack)
	require.NoError(t, sm.Enable())

	require.NoError(t, sm.Disable())
	assert.Equal(t, StateDisabled, sm.State())
	assert.False(t, adv.Active())
	assert.False(t, stack.IsEnabled())

	// Disabling a disabled stack is a no-op success.
	require.NoError(t, sm.Disable())
	assert.Equal(t, 1, stack.DisableCalls())
}

func TestConnect_StopsAdvertisingAndBindsPeer(t *testing.T) {
	stack := testutils.NewFakeStack()
	sm, adv, reg := newTestManager(t, stack)
	require.NoError(t, sm.Enable())

	stack.Connect("peer-1")
	stack.Subscribe(radio.ServiceHeartRate, radio.SubscriptionNotify)

	assert.True(t, sm.HasConnection())
	assert.Equal(t, radio.Peer("peer-1"), sm.Peer())
	assert.False(t, adv.Active())

	require.NoError(t, reg.Notify(radio.ServiceHeartRate, []byte{0x06, 90}))
	sends := stack.Sends()
	require.Len(t, sends, 1)
	assert.Equal(t, radio.Peer("peer-1"), sends[0].Peer)
}

func TestConnect_LinkLayerErrorIgnored(t *testing.T) {
	stack := testutils.NewFakeStack()
	sm, _, _ := newTestManager(t, stack)
	require.NoError(t, sm.Enable())

	stack.ConnectWithError("peer-1", 0x3E)
	assert.False(t, sm.HasConnection())
}

func TestDisconnect_SchedulesRestartAndRunsHook(t *testing.T) {
	stack := testutils.NewFakeStack()
	sm, adv, reg := newTestManager(t, stack)
	var hookCalls atomic.Int32
	sm.SetDisconnectHook(func() { hookCalls.Add(1) })
	require.NoError(t, sm.Enable())
	stack.Connect("peer-1")
	stack.Subscribe(radio.ServiceHeartRate, radio.SubscriptionNotify)

	stack.Disconnect("peer-1", 0x13)

	assert.False(t, sm.HasConnection())
	assert.Equal(t, int32(1), hookCalls.Load())
	assert.Equal(t, radio.SubscriptionNone, reg.SubscriptionMode(radio.ServiceHeartRate))
	assert.Eventually(t, adv.Active, time.Second, time.Millisecond,
		"advertising must restart after disconnect")
}

// A peer connecting while a restart is pending cancels it: advertising is
// stopped, never started, after the connect event.
func TestConnect_CancelsPendingRestart(t *testing.T) {
	stack := testutils.NewFakeStack()
	sm, adv, _ := newTestManager(t, stack)
	require.NoError(t, sm.Enable())
	stack.Connect("peer-1")
	startCallsBefore := stack.StartAdvCalls()

	stack.Disconnect("peer-1", 0x13)
	require.True(t, adv.Snapshot().RestartPending)

	stack.Connect("peer-1")

	time.Sleep(50 * time.Millisecond)
	assert.False(t, adv.Active())
	assert.False(t, adv.Snapshot().RestartPending)
	assert.Equal(t, startCallsBefore, stack.StartAdvCalls(),
		"cancelled restart must never reach the stack")
}

// A second central's connect is ignored, so its disconnect must be ignored
// too: the bound peer keeps its link, its subscriptions, and advertising
// stays off.
func TestDisconnect_UnboundPeerIgnored(t *testing.T) {
	stack := testutils.NewFakeStack()
	sm, adv, reg := newTestManager(t, stack)
	var hookCalls atomic.Int32
	sm.SetDisconnectHook(func() { hookCalls.Add(1) })
	require.NoError(t, sm.Enable())
	stack.Connect("peer-1")
	stack.Subscribe(radio.ServiceHeartRate, radio.SubscriptionNotify)

	stack.Connect("peer-2")
	stack.Disconnect("peer-2", 0x13)

	assert.Equal(t, radio.Peer("peer-1"), sm.Peer(), "bound peer must survive the intruder's disconnect")
	assert.True(t, sm.HasConnection())
	assert.Equal(t, radio.SubscriptionNotify, reg.SubscriptionMode(radio.ServiceHeartRate))
	assert.Zero(t, hookCalls.Load(), "no idle power-down for an unbound peer")

	time.Sleep(50 * time.Millisecond)
	assert.False(t, adv.Active(), "advertising must stay off while the bound peer is connected")
	assert.False(t, adv.Snapshot().RestartPending)
}

func TestWaitForConnection(t *testing.T) {
	stack := testutils.NewFakeStack()
	sm, _, _ := newTestManager(t, stack)
	require.NoError(t, sm.Enable())

	t.Run("times out with no peer", func(t *testing.T) {
		err := sm.WaitForConnection(context.Background(), 30*time.Millisecond)
		require.Error(t, err)
		assert.True(t, radio.IsKind(err, radio.ConnectionTimeout))
	})

	t.Run("returns once a peer connects", func(t *testing.T) {
		go func() {
			time.Sleep(15 * time.Millisecond)
			stack.Connect("peer-1")
		}()
		assert.NoError(t, sm.WaitForConnection(context.Background(), time.Second))
	})

	t.Run("respects context cancellation", func(t *testing.T) {
		stack.Disconnect("peer-1", 0x13)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := sm.WaitForConnection(ctx, time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
