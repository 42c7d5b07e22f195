package radio

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIs(t *testing.T) {
	cause := errors.New("dbus: connection closed")
	err := WrapError(StackEnableFailed, cause, "adapter %s", "hci0")

	assert.True(t, errors.Is(err, ErrStackEnableFailed))
	assert.False(t, errors.Is(err, ErrStackDisableFailed))
	assert.True(t, errors.Is(err, cause), "underlying cause must stay reachable")
	assert.Contains(t, err.Error(), "hci0")
}

func TestErrorIs_SurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("send cycle: %w", WrapError(ConnectionTimeout, nil, "after 10s"))
	assert.True(t, errors.Is(err, ErrConnectionTimeout))
	assert.True(t, IsKind(err, ConnectionTimeout))
	assert.False(t, IsKind(err, StackBusy))
}

func TestWrapError_NilStaysNil(t *testing.T) {
	assert.NoError(t, WrapError(StackEnableFailed, nil, ""))
}

func TestSubscriptionModeString(t *testing.T) {
	assert.Equal(t, "none", SubscriptionNone.String())
	assert.Equal(t, "notify", SubscriptionNotify.String())
	assert.Equal(t, "indicate", SubscriptionIndicate.String())
	assert.Equal(t, "notify|indicate", (SubscriptionNotify | SubscriptionIndicate).String())
}
