// Package manager is the producer-facing entry point of the control layer.
// Given a measurement it ensures a connection exists (enabling the radio
// and waiting, bounded by a timeout), pushes the encoded frame through the
// service registry, and asks the power manager to idle the radio back down.
package manager

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kardio/kardiod/internal/gatt"
	"github.com/kardio/kardiod/internal/lifecycle"
	"github.com/kardio/kardiod/internal/radio"
	"github.com/kardio/kardiod/internal/telemetry"
)

// Options are the send-path tunables.
type Options struct {
	// ConnectionTimeout bounds the wait for a peer on ordinary sends.
	ConnectionTimeout time.Duration

	// FirstConnectionTimeout bounds the very first wait after startup. It
	// is deliberately long to give the user time to pair.
	FirstConnectionTimeout time.Duration

	// SettleDelay is the pause after a fresh connection before the first
	// frame goes out, giving the peer time to enable subscriptions.
	SettleDelay time.Duration
}

// Manager orchestrates the send path.
type Manager struct {
	sm       *lifecycle.StateManager
	power    *lifecycle.PowerManager
	registry *gatt.Registry
	log      *logrus.Logger
	opts     Options

	firstAttemptDone atomic.Bool
}

// New creates a manager over the assembled control-layer components.
func New(sm *lifecycle.StateManager, power *lifecycle.PowerManager,
	registry *gatt.Registry, opts Options, log *logrus.Logger) *Manager {
	return &Manager{
		sm:       sm,
		power:    power,
		registry: registry,
		log:      log,
		opts:     opts,
	}
}

// SendHeartRate encodes bpm as a heart-rate measurement frame and pushes it
// to the heart-rate service. A missing peer is not an error: the value is
// dropped and the radio idles back down (fail open - retry-looping on a
// one-shot measurement would only burn battery).
func (m *Manager) SendHeartRate(ctx context.Context, bpm uint16) error {
	if bpm > 255 {
		m.log.WithField("bpm", bpm).Warn("Heart rate exceeds frame range, clamping")
	}
	return m.send(ctx, func() error {
		m.log.WithField("bpm", bpm).Info("Sending heart rate")
		return m.registry.Notify(radio.ServiceHeartRate, telemetry.EncodeHeartRate(bpm))
	})
}

// SendSpO2AndPulse encodes an oxygen-saturation/pulse-rate pair as a PLX
// continuous measurement frame and pushes it to the pulse-oximeter service.
// The pulse rate always rides along with the SpO2 value.
func (m *Manager) SendSpO2AndPulse(ctx context.Context, spo2Percent uint8, pulseBPM uint16) error {
	m.warnPLXRange(spo2Percent, pulseBPM)
	return m.send(ctx, func() error {
		m.log.WithFields(logrus.Fields{"spo2": spo2Percent, "pulse": pulseBPM}).
			Info("Sending SpO2 and pulse rate")
		return m.registry.Notify(radio.ServicePulseOximeter, telemetry.EncodePLX(spo2Percent, pulseBPM))
	})
}

// SendSensorData pushes one combined reading: the heart rate to the
// heart-rate service, and both values - heart rate as the pulse rate - to
// the pulse-oximeter service. Both frames share a single connection window.
func (m *Manager) SendSensorData(ctx context.Context, heartRateBPM uint16, spo2Percent uint8) error {
	if heartRateBPM > 255 {
		m.log.WithField("bpm", heartRateBPM).Warn("Heart rate exceeds frame range, clamping")
	}
	m.warnPLXRange(spo2Percent, heartRateBPM)
	return m.send(ctx, func() error {
		m.log.WithFields(logrus.Fields{"bpm": heartRateBPM, "spo2": spo2Percent}).
			Info("Sending combined sensor data")
		return errors.Join(
			m.registry.Notify(radio.ServiceHeartRate, telemetry.EncodeHeartRate(heartRateBPM)),
			m.registry.Notify(radio.ServicePulseOximeter, telemetry.EncodePLX(spo2Percent, heartRateBPM)),
		)
	})
}

func (m *Manager) warnPLXRange(spo2Percent uint8, pulseBPM uint16) {
	if spo2Percent > 100 {
		m.log.WithField("spo2", spo2Percent).Warn("SpO2 exceeds 100 percent, clamping")
	}
	if pulseBPM > 300 {
		m.log.WithField("pulse", pulseBPM).Warn("Pulse rate exceeds frame range, clamping")
	}
}

// send runs one transmit cycle: ensure a connection, emit, and always ask
// the power manager to idle the radio down before returning, whether or
// not the emit succeeded, so the device never sits idle with the radio on.
func (m *Manager) send(ctx context.Context, emit func() error) error {
	connected, err := m.ensureConnected(ctx)
	if err != nil {
		m.idleDown(ctx)
		return err
	}
	if !connected {
		m.log.Info("No peer available, measurement dropped")
		m.idleDown(ctx)
		return nil
	}

	emitErr := emit()
	m.idleDown(ctx)
	return emitErr
}

// ensureConnected enables the stack if needed and waits for a peer. It
// reports (false, nil) when the wait times out: no peer right now is a
// normal outcome of a send cycle, not a failure.
func (m *Manager) ensureConnected(ctx context.Context) (bool, error) {
	if !m.sm.IsEnabled() {
		if err := m.sm.Enable(); err != nil {
			return false, err
		}
	}
	if m.sm.HasConnection() {
		return true, nil
	}

	timeout := m.opts.ConnectionTimeout
	if m.firstAttemptDone.CompareAndSwap(false, true) {
		timeout = m.opts.FirstConnectionTimeout
	}

	err := m.sm.WaitForConnection(ctx, timeout)
	if radio.IsKind(err, radio.ConnectionTimeout) {
		m.log.WithField("timeout", timeout).Warn("No peer connected within window")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	// Fresh connection: give the peer a moment to enable subscriptions
	// before the first frame goes out.
	if m.opts.SettleDelay > 0 {
		select {
		case <-time.After(m.opts.SettleDelay):
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return true, nil
}

func (m *Manager) idleDown(ctx context.Context) {
	if err := m.power.DisableIfIdle(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.log.WithError(err).Error("Idle power-down failed")
	}
}

// WaitForFirstConnection enables the stack and blocks until a peer connects,
// bounded by the first-connection timeout. Unlike the send path the timeout
// is surfaced here, since the caller explicitly asked to wait.
func (m *Manager) WaitForFirstConnection(ctx context.Context) error {
	if err := m.sm.Enable(); err != nil {
		return err
	}
	timeout := m.opts.ConnectionTimeout
	if m.firstAttemptDone.CompareAndSwap(false, true) {
		timeout = m.opts.FirstConnectionTimeout
	}
	return m.sm.WaitForConnection(ctx, timeout)
}

// IsEnabled reports whether the radio stack is powered on.
func (m *Manager) IsEnabled() bool { return m.sm.IsEnabled() }

// HasConnection reports whether a peer is connected.
func (m *Manager) HasConnection() bool { return m.sm.HasConnection() }
