// Package testutils provides the fake radio stack and shared helpers used
// by the control-layer tests.
package testutils

import (
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/kardio/kardiod/internal/radio"
)

// NewTestLogger returns a debug-level logger whose output is discarded
// unless the test runs with -v, in which case entries go to the test log.
func NewTestLogger(t *testing.T) *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	if testing.Verbose() {
		logger.SetOutput(testWriter{t})
	} else {
		logger.SetOutput(io.Discard)
	}
	return logger
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func errOrDefault(err error, msg string) error {
	if err != nil {
		return err
	}
	return errors.New(msg)
}

// HeartRateService returns the heart-rate service description used across
// tests, including its body-sensor-location metadata.
func HeartRateService() *radio.ServiceDescription {
	return &radio.ServiceDescription{
		ID:              radio.ServiceHeartRate,
		UUID:            "180D",
		MeasurementUUID: "2A37",
		Static:          []radio.StaticValue{{UUID: "2A38", Value: []byte{0x01}}},
	}
}

// PulseOximeterService returns the pulse-oximeter service description used
// across tests; it supports indications in addition to notifications.
func PulseOximeterService() *radio.ServiceDescription {
	return &radio.ServiceDescription{
		ID:               radio.ServicePulseOximeter,
		UUID:             "1822",
		MeasurementUUID:  "2A5F",
		SupportsIndicate: true,
	}
}
