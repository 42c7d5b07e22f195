// Package radio defines the boundary between the control layer and the
// underlying wireless host stack. The control layer only ever talks to a
// Stack; production wiring plugs in the BlueZ adapter, tests plug in a fake.
package radio

import "time"

// ServiceID identifies one exposed measurement service.
type ServiceID string

const (
	ServiceHeartRate     ServiceID = "heart_rate"
	ServicePulseOximeter ServiceID = "pulse_oximeter"
)

// Peer identifies the remote central consuming notifications. Empty means
// no peer. Only a single peer is supported by design.
type Peer string

// SubscriptionMode is the peer-controlled delivery setting for a service's
// measurement characteristic. It is a bitmask: a peer may enable notify,
// indicate, both, or neither.
type SubscriptionMode uint8

const (
	SubscriptionNone     SubscriptionMode = 0
	SubscriptionNotify   SubscriptionMode = 1 << 0
	SubscriptionIndicate SubscriptionMode = 1 << 1
)

// CanNotify reports whether the peer enabled unacknowledged notifications.
func (m SubscriptionMode) CanNotify() bool { return m&SubscriptionNotify != 0 }

// CanIndicate reports whether the peer enabled acknowledged indications.
func (m SubscriptionMode) CanIndicate() bool { return m&SubscriptionIndicate != 0 }

func (m SubscriptionMode) String() string {
	switch {
	case m.CanNotify() && m.CanIndicate():
		return "notify|indicate"
	case m.CanNotify():
		return "notify"
	case m.CanIndicate():
		return "indicate"
	default:
		return "none"
	}
}

// StaticValue is a read-only characteristic carried as service metadata,
// such as the heart-rate body sensor location.
type StaticValue struct {
	UUID  string
	Value []byte
}

// ServiceDescription describes one measurement service to register with
// the stack.
type ServiceDescription struct {
	ID               ServiceID
	UUID             string // service UUID, 16-bit short form or full 128-bit
	MeasurementUUID  string // measurement characteristic UUID
	SupportsIndicate bool   // whether the measurement characteristic offers indications
	Static           []StaticValue
}

// AdvertisingOptions configures connectable discoverability advertising.
type AdvertisingOptions struct {
	Name         string
	ServiceUUIDs []string
	IntervalMin  time.Duration
	IntervalMax  time.Duration
	Connectable  bool
}

// EventHandler receives stack callbacks. Connection-lifecycle callbacks are
// delivered strictly serially for the single supported peer.
type EventHandler interface {
	// HandleConnected is invoked when a peer connects; errCode is non-zero
	// when the connection attempt failed at the link layer.
	HandleConnected(peer Peer, errCode uint8)

	// HandleDisconnected is invoked when the peer link drops; reason is the
	// stack's disconnect reason code.
	HandleDisconnected(peer Peer, reason uint8)

	// HandleSubscriptionChanged is invoked when the peer writes the
	// subscription control value for a service.
	HandleSubscriptionChanged(service ServiceID, mode SubscriptionMode)
}

// Stack is the set of host-stack operations the control layer consumes.
type Stack interface {
	Enable() error
	Disable() error

	StartAdvertising(opts AdvertisingOptions) error
	StopAdvertising() error

	RegisterService(desc *ServiceDescription) error
	UnregisterService(id ServiceID) error

	// Notify and Indicate push a measurement frame to the bound peer.
	// Frame ownership transfers to the stack; callers must not reuse it.
	Notify(id ServiceID, peer Peer, frame []byte) error
	Indicate(id ServiceID, peer Peer, frame []byte) error

	SetEventHandler(h EventHandler)
}
