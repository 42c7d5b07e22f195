package main

import (
	"errors"

	"github.com/kardio/kardiod/internal/radio"
)

// FormatUserError maps classified radio errors to actionable messages;
// anything unrecognized is printed as-is.
func FormatUserError(err error) string {
	var rerr *radio.Error
	if !errors.As(err, &rerr) {
		return err.Error()
	}

	switch rerr.Kind {
	case radio.StackEnableFailed:
		return "could not power the Bluetooth adapter on - check that bluetoothd is running and the adapter exists (" + err.Error() + ")"
	case radio.StackBusy:
		return "the radio is busy with a connected peer - disconnect it first (" + err.Error() + ")"
	case radio.ServiceRegistrationFailed:
		return "could not register a measurement service with BlueZ (" + err.Error() + ")"
	case radio.ConnectionTimeout:
		return "no central device connected within the wait window (" + err.Error() + ")"
	default:
		return err.Error()
	}
}
