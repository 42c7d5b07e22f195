// Package simulator provides the periodic measurement producers. They ramp
// through realistic physiological ranges and push readings through the send
// orchestrator; each tick first checks the subscription mode so a connected
// but unsubscribed peer costs no encoding or radio work.
package simulator

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kardio/kardiod/internal/gatt"
	"github.com/kardio/kardiod/internal/radio"
	"github.com/kardio/kardiod/pkg/manager"
)

// Heart-rate ramp bounds (bpm).
const (
	heartRateMin = 90
	heartRateMax = 160
)

// SpO2 ramp bounds (percent) and pulse ramp bounds (bpm).
const (
	spo2Min  = 95
	spo2Max  = 100
	pulseMin = 90
	pulseMax = 100
)

// HeartRate produces a ramping heart-rate reading on a fixed period.
type HeartRate struct {
	mgr    *manager.Manager
	reg    *gatt.Registry
	log    *logrus.Logger
	period time.Duration
	bpm    uint16
}

// NewHeartRate creates a heart-rate producer starting at the ramp floor.
func NewHeartRate(mgr *manager.Manager, reg *gatt.Registry,
	period time.Duration, log *logrus.Logger) *HeartRate {
	return &HeartRate{mgr: mgr, reg: reg, log: log, period: period, bpm: heartRateMin}
}

// next advances the ramp and returns the reading to send.
func (s *HeartRate) next() uint16 {
	v := s.bpm
	s.bpm++
	if s.bpm > heartRateMax {
		s.bpm = heartRateMin
	}
	return v
}

// Run emits readings until the context is done.
func (s *HeartRate) Run(ctx context.Context) {
	s.log.WithField("period", s.period).Info("Heart-rate producer started")
	tick := time.NewTicker(s.period)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("Heart-rate producer stopped")
			return
		case <-tick.C:
			bpm := s.next()
			if s.skipUnsubscribed(radio.ServiceHeartRate) {
				continue
			}
			if err := s.mgr.SendHeartRate(ctx, bpm); err != nil {
				s.log.WithError(err).Error("Heart-rate send failed")
			}
		}
	}
}

func (s *HeartRate) skipUnsubscribed(id radio.ServiceID) bool {
	if s.mgr.HasConnection() && s.reg.SubscriptionMode(id) == radio.SubscriptionNone {
		s.log.WithField("service", id).Debug("Peer not subscribed, skipping reading")
		return true
	}
	return false
}

// ToggleOptions drives the one-shot service unregister/re-register exercise
// the SpO2 producer can run on startup to verify toggle idempotency on a
// live stack.
type ToggleOptions struct {
	Enabled         bool
	UnregisterFor   time.Duration
	ReregisterAfter time.Duration
}

// SpO2 produces ramping oxygen-saturation and pulse-rate readings.
type SpO2 struct {
	mgr    *manager.Manager
	reg    *gatt.Registry
	log    *logrus.Logger
	period time.Duration
	toggle ToggleOptions

	spo2  uint8
	pulse uint16
}

// NewSpO2 creates a pulse-oximetry producer starting at the ramp floors.
func NewSpO2(mgr *manager.Manager, reg *gatt.Registry, period time.Duration,
	toggle ToggleOptions, log *logrus.Logger) *SpO2 {
	return &SpO2{
		mgr: mgr, reg: reg, log: log, period: period, toggle: toggle,
		spo2: spo2Min, pulse: pulseMin,
	}
}

// next advances both ramps and returns the reading pair to send.
func (s *SpO2) next() (uint8, uint16) {
	spo2, pulse := s.spo2, s.pulse
	s.spo2++
	if s.spo2 > spo2Max {
		s.spo2 = spo2Min
	}
	s.pulse++
	if s.pulse > pulseMax {
		s.pulse = pulseMin
	}
	return spo2, pulse
}

// Run emits readings until the context is done, running the toggle exercise
// first when enabled.
func (s *SpO2) Run(ctx context.Context) {
	s.log.WithField("period", s.period).Info("SpO2 producer started")
	if s.toggle.Enabled {
		s.runToggleExercise(ctx)
	}

	tick := time.NewTicker(s.period)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("SpO2 producer stopped")
			return
		case <-tick.C:
			spo2, pulse := s.next()
			if s.mgr.HasConnection() &&
				s.reg.SubscriptionMode(radio.ServicePulseOximeter) == radio.SubscriptionNone {
				s.log.Debug("Peer not subscribed, skipping reading")
				continue
			}
			if err := s.mgr.SendSpO2AndPulse(ctx, spo2, pulse); err != nil {
				s.log.WithError(err).Error("SpO2 send failed")
			}
		}
	}
}

// runToggleExercise unregisters the pulse-oximeter service, leaves it down
// for a while, and re-registers it. Subscriptions reset across the toggle,
// so a connected peer has to re-subscribe afterwards.
func (s *SpO2) runToggleExercise(ctx context.Context) {
	s.log.Info("Toggle exercise: unregistering pulse-oximeter service")
	if err := s.reg.Unregister(radio.ServicePulseOximeter); err != nil {
		s.log.WithError(err).Error("Toggle exercise: unregister failed")
		return
	}

	select {
	case <-time.After(s.toggle.UnregisterFor):
	case <-ctx.Done():
		return
	}

	s.log.Info("Toggle exercise: re-registering pulse-oximeter service")
	if err := s.reg.Register(radio.ServicePulseOximeter); err != nil {
		s.log.WithError(err).Error("Toggle exercise: re-register failed")
		return
	}

	select {
	case <-time.After(s.toggle.ReregisterAfter):
	case <-ctx.Done():
	}
}
