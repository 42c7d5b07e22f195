package advertising

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kardio/kardiod/internal/radio"
	"github.com/kardio/kardiod/internal/testutils"
)

const (
	testDelay   = 10 * time.Millisecond
	testBackoff = 10 * time.Millisecond
)

func newTestController(t *testing.T, stack *testutils.FakeStack) *Controller {
	opts := radio.AdvertisingOptions{Name: "Kardio", Connectable: true}
	return NewController(stack, opts, testDelay, testBackoff, testutils.NewTestLogger(t))
}

func TestStart_Idempotent(t *testing.T) {
	stack := testutils.NewFakeStack()
	c := newTestController(t, stack)

	require.NoError(t, c.Start())
	require.NoError(t, c.Start())

	assert.Equal(t, 1, stack.StartAdvCalls())
	assert.True(t, c.Active())
}

func TestStart_FailureSurfaced(t *testing.T) {
	stack := testutils.NewFakeStack()
	stack.StartAdvertisingErr = errors.New("controller busy")
	c := newTestController(t, stack)

	err := c.Start()
	require.Error(t, err)
	assert.True(t, radio.IsKind(err, radio.AdvertisingStartFailed))
	assert.False(t, c.Active())
}

// Stop always issues the underlying call, even when the local state already
// says stopped, and absorbs stop errors.
func TestStop_AlwaysCallsStackAndAbsorbsErrors(t *testing.T) {
	stack := testutils.NewFakeStack()
	stack.StopAdvertisingErr = errors.New("already stopped by stack")
	c := newTestController(t, stack)

	c.Stop()
	c.Stop()

	assert.Equal(t, 2, stack.StopAdvCalls())
	assert.False(t, c.Active())
}

func TestScheduleRestart_StartsAfterDelay(t *testing.T) {
	stack := testutils.NewFakeStack()
	c := newTestController(t, stack)

	c.ScheduleRestart()
	assert.True(t, c.Snapshot().RestartPending)

	assert.Eventually(t, c.Active, time.Second, time.Millisecond)
	assert.False(t, c.Snapshot().RestartPending)
}

func TestScheduleRestart_RetriesWithBackoff(t *testing.T) {
	stack := testutils.NewFakeStack()
	stack.FailStartAdvertisingTimes = 2
	c := newTestController(t, stack)

	c.ScheduleRestart()

	assert.Eventually(t, c.Active, time.Second, time.Millisecond)
	assert.GreaterOrEqual(t, stack.StartAdvCalls(), 3, "two failures then a success")
}

func TestCancelRestart_PreventsStart(t *testing.T) {
	stack := testutils.NewFakeStack()
	c := newTestController(t, stack)

	c.ScheduleRestart()
	c.CancelRestart()

	time.Sleep(5 * testDelay)
	assert.False(t, c.Active())
	assert.Zero(t, stack.StartAdvCalls())
	assert.False(t, c.Snapshot().RestartPending)
}

// A cancel racing a timer that already fired must not resurrect advertising:
// the generation bump invalidates the in-flight attempt's reschedule, and a
// Stop issued after the cancel wins regardless.
func TestCancelRestart_StaleGenerationIgnored(t *testing.T) {
	stack := testutils.NewFakeStack()
	c := newTestController(t, stack)

	c.ScheduleRestart()
	c.ScheduleRestart() // supersedes the first timer

	assert.Eventually(t, c.Active, time.Second, time.Millisecond)
	assert.Equal(t, 1, stack.StartAdvCalls(), "superseded timer must not start a second time")
}

func TestRestart_SkippedWhenAlreadyActive(t *testing.T) {
	stack := testutils.NewFakeStack()
	c := newTestController(t, stack)

	c.ScheduleRestart()
	require.NoError(t, c.Start())

	time.Sleep(5 * testDelay)
	assert.Equal(t, 1, stack.StartAdvCalls())
}
