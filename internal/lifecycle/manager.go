// Package lifecycle holds the authoritative state machine for the radio
// stack and the idle-timeout policy that powers it back down. Every other
// component queries connection state through this package; nothing bypasses
// it.
package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kardio/kardiod/internal/advertising"
	"github.com/kardio/kardiod/internal/gatt"
	"github.com/kardio/kardiod/internal/radio"
)

// RadioState is the enable state of the host stack. It only transitions
// through explicit Enable/Disable requests on the StateManager.
type RadioState int32

const (
	StateDisabled RadioState = iota
	StateEnabling
	StateEnabled
)

func (s RadioState) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateEnabling:
		return "enabling"
	case StateEnabled:
		return "enabled"
	default:
		return "unknown"
	}
}

// StateManager is the single source of truth for "is the stack enabled" and
// "is a peer connected". It consumes the stack's connection callbacks and
// drives the advertising controller and service registry on transitions.
// One mutex guards the whole composite state so readers never observe a
// half-applied transition.
type StateManager struct {
	stack    radio.Stack
	adv      *advertising.Controller
	registry *gatt.Registry
	log      *logrus.Logger

	pollInterval time.Duration

	mu    sync.Mutex
	state RadioState
	peer  radio.Peer // empty while disconnected

	// onDisconnect runs after every peer disconnect, outside the state
	// lock. Wiring points it at the power manager's idle-down.
	onDisconnect func()
}

// NewStateManager creates a manager with the stack off.
func NewStateManager(stack radio.Stack, adv *advertising.Controller,
	registry *gatt.Registry, pollInterval time.Duration, log *logrus.Logger) *StateManager {
	return &StateManager{
		stack:        stack,
		adv:          adv,
		registry:     registry,
		pollInterval: pollInterval,
		log:          log,
	}
}

// SetDisconnectHook installs the callback run after each disconnect. Must
// be called before the manager is registered as the stack's event handler.
func (m *StateManager) SetDisconnectHook(fn func()) { m.onDisconnect = fn }

// Enable powers the stack on and starts advertising. Enabling an already
// enabled stack is a no-op success. On stack failure the state stays off
// and the error is surfaced; an advertising start failure leaves the stack
// enabled and propagates.
func (m *StateManager) Enable() error {
	m.mu.Lock()
	if m.state == StateEnabled {
		m.mu.Unlock()
		return nil
	}

	m.state = StateEnabling
	m.log.Info("Enabling radio stack")
	if err := m.stack.Enable(); err != nil {
		m.state = StateDisabled
		m.mu.Unlock()
		return radio.WrapError(radio.StackEnableFailed, err, "")
	}
	m.state = StateEnabled
	m.mu.Unlock()

	return m.adv.Start()
}

// Disable powers the stack off. Disabling while a peer is connected fails
// busy rather than forcibly dropping the peer; the caller must wait for the
// disconnect. A pending advertising restart is dropped first so a timer
// cannot re-arm advertising on a stack that is going away.
func (m *StateManager) Disable() error {
	m.mu.Lock()
	if m.state == StateDisabled {
		m.mu.Unlock()
		return nil
	}
	if m.peer != "" {
		peer := m.peer
		m.mu.Unlock()
		return radio.WrapError(radio.StackBusy, nil, "peer %s connected", peer)
	}
	m.mu.Unlock()

	m.adv.CancelRestart()
	m.adv.Stop()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.peer != "" { // connected while we were stopping advertising
		return radio.WrapError(radio.StackBusy, nil, "peer %s connected", m.peer)
	}
	m.log.Info("Disabling radio stack")
	if err := m.stack.Disable(); err != nil {
		return radio.WrapError(radio.StackDisableFailed, err, "")
	}
	m.state = StateDisabled
	return nil
}

// IsEnabled reports whether the stack is powered on.
func (m *StateManager) IsEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateEnabled
}

// HasConnection reports whether a peer is connected.
func (m *StateManager) HasConnection() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peer != ""
}

// Peer returns the connected peer, or empty.
func (m *StateManager) Peer() radio.Peer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peer
}

// State returns the current radio state.
func (m *StateManager) State() RadioState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// WaitForConnection blocks until a peer connects, polling at the configured
// interval. Deliberate cooperative backoff, not a busy spin. Returns a
// connection-timeout error when the window elapses, or the context error
// if the caller gives up first.
func (m *StateManager) WaitForConnection(ctx context.Context, timeout time.Duration) error {
	if m.HasConnection() {
		return nil
	}

	m.log.WithField("timeout", timeout).Info("Waiting for connection")
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(m.pollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return radio.WrapError(radio.ConnectionTimeout, nil, "after %s", timeout)
		case <-tick.C:
			if m.HasConnection() {
				m.log.Info("Connection established")
				return nil
			}
		}
	}
}

// HandleConnected implements radio.EventHandler. On success it cancels any
// pending advertising restart, stops advertising, and binds the peer to
// every service so notifications have a target.
func (m *StateManager) HandleConnected(peer radio.Peer, errCode uint8) {
	if errCode != 0 {
		m.log.WithFields(logrus.Fields{"peer": peer, "err_code": errCode}).
			Warn("Connection attempt failed")
		return
	}

	m.mu.Lock()
	if m.peer != "" {
		// Single-peer device; the stack should never deliver this.
		m.log.WithFields(logrus.Fields{"peer": peer, "bound": m.peer}).
			Warn("Second connection ignored")
		m.mu.Unlock()
		return
	}
	m.peer = peer
	m.mu.Unlock()

	m.log.WithField("peer", peer).Info("Peer connected")
	m.adv.CancelRestart()
	m.adv.Stop()
	m.registry.BindPeer(peer)
}

// HandleDisconnected implements radio.EventHandler. It unbinds the peer,
// re-arms advertising, and kicks the disconnect hook. A disconnect from a
// peer that was never bound - a second central whose connect was ignored -
// must not touch the bound peer's link state.
func (m *StateManager) HandleDisconnected(peer radio.Peer, reason uint8) {
	m.mu.Lock()
	if m.peer != peer {
		m.log.WithFields(logrus.Fields{"peer": peer, "bound": m.peer}).
			Warn("Disconnect for unbound peer ignored")
		m.mu.Unlock()
		return
	}
	m.peer = ""
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{"peer": peer, "reason": reason}).Info("Peer disconnected")
	m.registry.UnbindPeer()
	m.adv.ScheduleRestart()

	if m.onDisconnect != nil {
		m.onDisconnect()
	}
}

// HandleSubscriptionChanged implements radio.EventHandler.
func (m *StateManager) HandleSubscriptionChanged(service radio.ServiceID, mode radio.SubscriptionMode) {
	m.registry.OnSubscriptionChanged(service, mode)
}
