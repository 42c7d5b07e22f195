// Package bluez implements radio.Stack on top of the BlueZ D-Bus API:
// Adapter1 for power, LEAdvertisingManager1 for advertising, GattManager1
// for service registration, and Device1 PropertiesChanged signals for
// connection tracking.
package bluez

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"
	"github.com/sirupsen/logrus"

	"github.com/kardio/kardiod/internal/groutine"
	"github.com/kardio/kardiod/internal/radio"
)

const (
	bluezBus     = "org.bluez"
	adapterIface = "org.bluez.Adapter1"
	deviceIface  = "org.bluez.Device1"

	advManagerIface  = "org.bluez.LEAdvertisingManager1"
	advIface         = "org.bluez.LEAdvertisement1"
	gattManagerIface = "org.bluez.GattManager1"
	serviceIface     = "org.bluez.GattService1"
	charIface        = "org.bluez.GattCharacteristic1"

	propsIface      = "org.freedesktop.DBus.Properties"
	objManagerIface = "org.freedesktop.DBus.ObjectManager"

	appPath = dbus.ObjectPath("/com/kardio/kardiod")
	advPath = dbus.ObjectPath("/com/kardio/kardiod/advertisement0")
)

// Stack is the BlueZ-backed radio stack. All D-Bus object export and
// registration happens lazily so the daemon can start with the radio off.
type Stack struct {
	log         *logrus.Logger
	conn        *dbus.Conn
	adapterPath dbus.ObjectPath

	mu            sync.Mutex
	handler       radio.EventHandler
	services      map[radio.ServiceID]*gattService
	nextService   int
	appRegistered bool
	advertised    bool

	sigCh   chan *dbus.Signal
	stopSig chan struct{}
}

// NewStack connects to the system bus and binds to the given adapter
// (e.g. "hci0").
func NewStack(adapterID string, log *logrus.Logger) (*Stack, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system D-Bus: %w", err)
	}
	return &Stack{
		log:         log,
		conn:        conn,
		adapterPath: dbus.ObjectPath("/org/bluez/" + adapterID),
		services:    make(map[radio.ServiceID]*gattService),
	}, nil
}

func (s *Stack) adapter() dbus.BusObject {
	return s.conn.Object(bluezBus, s.adapterPath)
}

// SetEventHandler installs the control layer's callback sink. Must be
// called before Enable.
func (s *Stack) SetEventHandler(h radio.EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Enable powers the adapter on and starts watching Device1 connection
// signals.
func (s *Stack) Enable() error {
	if err := s.adapter().Call(propsIface+".Set", 0,
		adapterIface, "Powered", dbus.MakeVariant(true)).Err; err != nil {
		return fmt.Errorf("power adapter on: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sigCh == nil {
		if err := s.conn.AddMatchSignal(
			dbus.WithMatchInterface(propsIface),
			dbus.WithMatchMember("PropertiesChanged"),
		); err != nil {
			return fmt.Errorf("add signal match: %w", err)
		}
		s.sigCh = make(chan *dbus.Signal, 64)
		s.stopSig = make(chan struct{})
		s.conn.Signal(s.sigCh)
		groutine.Go(nil, "bluez-signal-pump", func(_ context.Context) {
			s.pumpSignals(s.sigCh, s.stopSig)
		})
	}
	s.log.WithField("adapter", s.adapterPath).Info("Adapter powered on")
	return nil
}

// Disable powers the adapter off and stops the signal watcher.
func (s *Stack) Disable() error {
	s.mu.Lock()
	if s.sigCh != nil {
		close(s.stopSig)
		s.conn.RemoveSignal(s.sigCh)
		_ = s.conn.RemoveMatchSignal(
			dbus.WithMatchInterface(propsIface),
			dbus.WithMatchMember("PropertiesChanged"),
		)
		s.sigCh = nil
	}
	s.mu.Unlock()

	if err := s.adapter().Call(propsIface+".Set", 0,
		adapterIface, "Powered", dbus.MakeVariant(false)).Err; err != nil {
		return fmt.Errorf("power adapter off: %w", err)
	}
	s.log.WithField("adapter", s.adapterPath).Info("Adapter powered off")
	return nil
}

// pumpSignals translates Device1 Connected property flips into control
// layer events. BlueZ delivers these serially per device, which is the
// ordering guarantee the state machine relies on.
func (s *Stack) pumpSignals(ch chan *dbus.Signal, stop chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			if sig == nil || sig.Name != propsIface+".PropertiesChanged" || len(sig.Body) < 2 {
				continue
			}
			iface, _ := sig.Body[0].(string)
			if iface != deviceIface {
				continue
			}
			changed, _ := sig.Body[1].(map[string]dbus.Variant)
			v, ok := changed["Connected"]
			if !ok {
				continue
			}
			connected, _ := v.Value().(bool)

			s.mu.Lock()
			handler := s.handler
			s.mu.Unlock()
			if handler == nil {
				continue
			}

			peer := radio.Peer(sig.Path)
			if connected {
				handler.HandleConnected(peer, 0)
			} else {
				// BlueZ does not surface the HCI reason code here.
				handler.HandleDisconnected(peer, 0)
			}
		}
	}
}

// StartAdvertising exports the advertisement object and registers it with
// the adapter's advertising manager.
func (s *Stack) StartAdvertising(opts radio.AdvertisingOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.advertised {
		return nil
	}

	adv := &advertisement{log: s.log}
	if err := s.conn.Export(adv, advPath, advIface); err != nil {
		return fmt.Errorf("export advertisement: %w", err)
	}

	advProps := map[string]*prop.Prop{
		"Type":         {Value: "peripheral", Emit: prop.EmitConst},
		"LocalName":    {Value: opts.Name, Emit: prop.EmitConst},
		"ServiceUUIDs": {Value: opts.ServiceUUIDs, Emit: prop.EmitConst},
		"Discoverable": {Value: true, Emit: prop.EmitConst},
	}
	if _, err := prop.Export(s.conn, advPath, prop.Map{advIface: advProps}); err != nil {
		return fmt.Errorf("export advertisement properties: %w", err)
	}

	if err := s.adapter().Call(advManagerIface+".RegisterAdvertisement", 0,
		advPath, map[string]dbus.Variant{}).Err; err != nil {
		return fmt.Errorf("register advertisement: %w", err)
	}
	s.advertised = true
	return nil
}

// StopAdvertising unregisters the advertisement. BlueZ reports an error
// when it already dropped the advertisement on connect; callers treat stop
// failures as non-fatal.
func (s *Stack) StopAdvertising() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advertised = false

	err := s.adapter().Call(advManagerIface+".UnregisterAdvertisement", 0, advPath).Err
	_ = s.conn.Export(nil, advPath, advIface) // drop the exported object either way
	if err != nil {
		return fmt.Errorf("unregister advertisement: %w", err)
	}
	return nil
}

// RegisterService exports the service's object tree and (re)registers the
// GATT application. BlueZ registers applications wholesale, so changing
// the service set means re-registering the application.
func (s *Stack) RegisterService(desc *radio.ServiceDescription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.services[desc.ID]; exists {
		return nil
	}

	svc := newGATTService(s, desc, s.nextService)
	s.nextService++
	if err := svc.export(); err != nil {
		return err
	}
	s.services[desc.ID] = svc
	return s.reregisterApplicationLocked()
}

// UnregisterService removes the service's objects and re-registers the
// application without it.
func (s *Stack) UnregisterService(id radio.ServiceID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	svc, exists := s.services[id]
	if !exists {
		return nil
	}
	svc.unexport()
	delete(s.services, id)
	return s.reregisterApplicationLocked()
}

func (s *Stack) reregisterApplicationLocked() error {
	gm := s.adapter()
	if s.appRegistered {
		if err := gm.Call(gattManagerIface+".UnregisterApplication", 0, appPath).Err; err != nil {
			s.log.WithError(err).Warn("Unregister GATT application failed")
		}
		s.appRegistered = false
	}
	if len(s.services) == 0 {
		return nil
	}

	app := newApplication(s.services)
	if err := s.conn.Export(app, appPath, objManagerIface); err != nil {
		return fmt.Errorf("export object manager: %w", err)
	}
	if err := gm.Call(gattManagerIface+".RegisterApplication", 0,
		appPath, map[string]dbus.Variant{}).Err; err != nil {
		return fmt.Errorf("register GATT application: %w", err)
	}
	s.appRegistered = true
	return nil
}

// Notify pushes a frame by flipping the characteristic's Value property;
// BlueZ turns the PropertiesChanged emission into a GATT notification.
func (s *Stack) Notify(id radio.ServiceID, peer radio.Peer, frame []byte) error {
	return s.push(id, peer, frame)
}

// Indicate uses the same property-flip transport; BlueZ picks indication
// when that is what the peer's CCC descriptor enabled, and handles the
// confirmation itself.
func (s *Stack) Indicate(id radio.ServiceID, peer radio.Peer, frame []byte) error {
	return s.push(id, peer, frame)
}

func (s *Stack) push(id radio.ServiceID, peer radio.Peer, frame []byte) error {
	s.mu.Lock()
	svc, exists := s.services[id]
	s.mu.Unlock()
	if !exists {
		return fmt.Errorf("service %q not registered", id)
	}
	s.log.WithFields(logrus.Fields{
		"service": id, "peer": peer, "len": len(frame),
	}).Debug("Pushing measurement frame")
	return svc.measurement.setValue(frame)
}
