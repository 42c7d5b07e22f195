package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kardio/kardiod/internal/testutils"
)

const testGrace = 20 * time.Millisecond

func newTestPowerManager(t *testing.T, stack *testutils.FakeStack) (*PowerManager, *StateManager) {
	sm, _, _ := newTestManager(t, stack)
	pm := NewPowerManager(sm, testGrace, testutils.NewTestLogger(t))
	return pm, sm
}

func TestDisableIfIdle_NoOpWhenDisabled(t *testing.T) {
	stack := testutils.NewFakeStack()
	pm, _ := newTestPowerManager(t, stack)

	require.NoError(t, pm.DisableIfIdle(context.Background()))
	assert.Zero(t, stack.DisableCalls())
}

// With a peer connected the stack stays on; success, no state change.
func TestDisableIfIdle_NoOpWhenConnected(t *testing.T) {
	stack := testutils.NewFakeStack()
	pm, sm := newTestPowerManager(t, stack)
	require.NoError(t, sm.Enable())
	stack.Connect("peer-1")

	require.NoError(t, pm.DisableIfIdle(context.Background()))

	assert.Equal(t, StateEnabled, sm.State())
	assert.True(t, sm.HasConnection())
	assert.Zero(t, stack.DisableCalls())
}

func TestDisableIfIdle_DisablesAfterGrace(t *testing.T) {
	stack := testutils.NewFakeStack()
	pm, sm := newTestPowerManager(t, stack)
	require.NoError(t, sm.Enable())

	start := time.Now()
	require.NoError(t, pm.DisableIfIdle(context.Background()))

	assert.GreaterOrEqual(t, time.Since(start), testGrace, "grace window must elapse first")
	assert.Equal(t, StateDisabled, sm.State())
	assert.False(t, stack.IsEnabled())
}

// A peer that connects during the grace window keeps the stack on.
func TestDisableIfIdle_ConnectionDuringGraceWindow(t *testing.T) {
	stack := testutils.NewFakeStack()
	pm, sm := newTestPowerManager(t, stack)
	require.NoError(t, sm.Enable())

	go func() {
		time.Sleep(testGrace / 4)
		stack.Connect("peer-1")
	}()

	require.NoError(t, pm.DisableIfIdle(context.Background()))
	assert.Equal(t, StateEnabled, sm.State())
	assert.True(t, sm.HasConnection())
}

func TestDisableIfIdle_ContextCancelledDuringGrace(t *testing.T) {
	stack := testutils.NewFakeStack()
	pm, sm := newTestPowerManager(t, stack)
	require.NoError(t, sm.Enable())

	ctx, cancel := context.WithTimeout(context.Background(), testGrace/4)
	defer cancel()
	err := pm.DisableIfIdle(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, StateEnabled, sm.State())
}
