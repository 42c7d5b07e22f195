package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kardio/kardiod/internal/radio"
)

// PowerManager implements the idle-timeout policy: after data has been sent
// and no peer remains connected, the stack is powered down to save battery.
type PowerManager struct {
	sm    *StateManager
	grace time.Duration
	log   *logrus.Logger
}

// NewPowerManager creates a power manager with the given grace window.
func NewPowerManager(sm *StateManager, grace time.Duration, log *logrus.Logger) *PowerManager {
	return &PowerManager{sm: sm, grace: grace, log: log}
}

// DisableIfIdle powers the stack down unless a peer is connected. The grace
// window before the re-check absorbs a connection race: a peer may connect
// in the instant after a send completes, and powering down then would only
// re-trigger the expensive advertise-and-wait cycle.
func (p *PowerManager) DisableIfIdle(ctx context.Context) error {
	if !p.sm.IsEnabled() {
		p.log.Debug("Stack already disabled")
		return nil
	}
	if p.sm.HasConnection() {
		p.log.Debug("Peer connected, keeping stack enabled")
		return nil
	}

	select {
	case <-time.After(p.grace):
	case <-ctx.Done():
		return ctx.Err()
	}

	if p.sm.HasConnection() {
		p.log.Info("Peer connected during grace window, keeping stack enabled")
		return nil
	}

	p.log.Info("No peer connected, disabling stack")
	err := p.sm.Disable()
	if errors.Is(err, radio.ErrStackBusy) {
		// Lost the race to a connecting peer after the re-check; that is
		// exactly the situation the grace window exists for.
		p.log.Info("Peer connected during disable, keeping stack enabled")
		return nil
	}
	return err
}
