package bluez

import (
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/prop"

	"github.com/kardio/kardiod/internal/radio"
)

// advertisement is the object exported under org.bluez.LEAdvertisement1.
// BlueZ calls Release when it drops the advertisement on its own.
type advertisement struct {
	log logrusFieldLogger
}

func (a *advertisement) Release() *dbus.Error {
	a.log.Debug("Advertisement released by BlueZ")
	return nil
}

// application answers GetManagedObjects so BlueZ can enumerate the GATT
// object tree at RegisterApplication time. It carries a snapshot of the
// tree: BlueZ calls back into this object while RegisterApplication is
// still blocking, so it must not touch the stack lock.
type application struct {
	objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
}

func newApplication(services map[radio.ServiceID]*gattService) *application {
	objects := make(map[dbus.ObjectPath]map[string]map[string]dbus.Variant)
	for _, svc := range services {
		objects[svc.path] = map[string]map[string]dbus.Variant{
			serviceIface: svc.properties(),
		}
		for _, c := range svc.characteristics {
			objects[c.path] = map[string]map[string]dbus.Variant{
				charIface: c.properties(),
			}
		}
	}
	return &application{objects: objects}
}

func (a *application) GetManagedObjects() (map[dbus.ObjectPath]map[string]map[string]dbus.Variant, *dbus.Error) {
	return a.objects, nil
}

// gattService is one exported GATT primary service with its measurement
// characteristic and any static metadata characteristics.
type gattService struct {
	stack *Stack
	desc  *radio.ServiceDescription
	path  dbus.ObjectPath

	measurement     *gattCharacteristic
	characteristics []*gattCharacteristic
}

func newGATTService(stack *Stack, desc *radio.ServiceDescription, index int) *gattService {
	svc := &gattService{
		stack: stack,
		desc:  desc,
		path:  dbus.ObjectPath(fmt.Sprintf("%s/service%d", appPath, index)),
	}

	flags := []string{"notify"}
	if desc.SupportsIndicate {
		flags = append(flags, "indicate")
	}
	svc.measurement = &gattCharacteristic{
		stack:   stack,
		service: svc,
		path:    dbus.ObjectPath(fmt.Sprintf("%s/char0", svc.path)),
		uuid:    desc.MeasurementUUID,
		flags:   flags,
	}
	svc.characteristics = []*gattCharacteristic{svc.measurement}

	for i, sv := range desc.Static {
		svc.characteristics = append(svc.characteristics, &gattCharacteristic{
			stack:   stack,
			service: svc,
			path:    dbus.ObjectPath(fmt.Sprintf("%s/char%d", svc.path, i+1)),
			uuid:    sv.UUID,
			flags:   []string{"read"},
			value:   sv.Value,
		})
	}
	return svc
}

func (svc *gattService) properties() map[string]dbus.Variant {
	return map[string]dbus.Variant{
		"UUID":    dbus.MakeVariant(svc.desc.UUID),
		"Primary": dbus.MakeVariant(true),
	}
}

func (svc *gattService) export() error {
	if err := svc.stack.conn.Export(nil, svc.path, serviceIface); err != nil {
		return fmt.Errorf("export service %s: %w", svc.desc.ID, err)
	}
	svcProps := prop.Map{serviceIface: {
		"UUID":    {Value: svc.desc.UUID, Emit: prop.EmitConst},
		"Primary": {Value: true, Emit: prop.EmitConst},
	}}
	if _, err := prop.Export(svc.stack.conn, svc.path, svcProps); err != nil {
		return fmt.Errorf("export service %s properties: %w", svc.desc.ID, err)
	}

	for _, c := range svc.characteristics {
		if err := c.export(); err != nil {
			return err
		}
	}
	return nil
}

func (svc *gattService) unexport() {
	for _, c := range svc.characteristics {
		_ = svc.stack.conn.Export(nil, c.path, charIface)
		_ = svc.stack.conn.Export(nil, c.path, propsIface)
	}
	_ = svc.stack.conn.Export(nil, svc.path, serviceIface)
	_ = svc.stack.conn.Export(nil, svc.path, propsIface)
}

// gattCharacteristic is one exported characteristic. BlueZ invokes
// ReadValue/StartNotify/StopNotify on it; the Value property carries
// outgoing measurement frames. godbus dispatches incoming method calls on
// their own goroutines, so value and props change under the mutex.
type gattCharacteristic struct {
	stack   *Stack
	service *gattService
	path    dbus.ObjectPath
	uuid    string
	flags   []string

	mu    sync.Mutex
	value []byte
	props *prop.Properties
}

func (c *gattCharacteristic) properties() map[string]dbus.Variant {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]dbus.Variant{
		"UUID":    dbus.MakeVariant(c.uuid),
		"Service": dbus.MakeVariant(c.service.path),
		"Flags":   dbus.MakeVariant(c.flags),
		"Value":   dbus.MakeVariant(c.value),
	}
}

func (c *gattCharacteristic) export() error {
	if err := c.stack.conn.Export(c, c.path, charIface); err != nil {
		return fmt.Errorf("export characteristic %s: %w", c.uuid, err)
	}
	props := prop.Map{charIface: {
		"UUID":    {Value: c.uuid, Emit: prop.EmitConst},
		"Service": {Value: c.service.path, Emit: prop.EmitConst},
		"Flags":   {Value: c.flags, Emit: prop.EmitConst},
		"Value":   {Value: c.value, Emit: prop.EmitTrue},
	}}
	p, err := prop.Export(c.stack.conn, c.path, props)
	if err != nil {
		return fmt.Errorf("export characteristic %s properties: %w", c.uuid, err)
	}
	c.mu.Lock()
	c.props = p
	c.mu.Unlock()
	return nil
}

// setValue publishes a frame. The prop layer emits PropertiesChanged,
// which BlueZ forwards to subscribed peers as a notification/indication.
func (c *gattCharacteristic) setValue(frame []byte) error {
	c.mu.Lock()
	c.value = frame
	props := c.props
	c.mu.Unlock()

	if props == nil {
		return fmt.Errorf("characteristic %s not exported", c.uuid)
	}
	if dberr := props.Set(charIface, "Value", dbus.MakeVariant(frame)); dberr != nil {
		return dberr
	}
	return nil
}

// ReadValue serves peer reads of static metadata (and the last frame).
func (c *gattCharacteristic) ReadValue(_ map[string]dbus.Variant) ([]byte, *dbus.Error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value, nil
}

// StartNotify is BlueZ's signal that the peer enabled the characteristic's
// CCC. BlueZ does not say whether notify or indicate was chosen, so the
// mode reported upward is everything the characteristic offers.
func (c *gattCharacteristic) StartNotify() *dbus.Error {
	c.stack.dispatchSubscription(c.service.desc.ID, c.subscriptionMode())
	return nil
}

// StopNotify reports the peer disabling the CCC.
func (c *gattCharacteristic) StopNotify() *dbus.Error {
	c.stack.dispatchSubscription(c.service.desc.ID, radio.SubscriptionNone)
	return nil
}

func (c *gattCharacteristic) subscriptionMode() radio.SubscriptionMode {
	mode := radio.SubscriptionNone
	for _, f := range c.flags {
		switch f {
		case "notify":
			mode |= radio.SubscriptionNotify
		case "indicate":
			mode |= radio.SubscriptionIndicate
		}
	}
	return mode
}

func (s *Stack) dispatchSubscription(id radio.ServiceID, mode radio.SubscriptionMode) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler != nil {
		handler.HandleSubscriptionChanged(id, mode)
	}
}

// logrusFieldLogger is the slice of the logrus API the exported D-Bus
// objects need.
type logrusFieldLogger interface {
	Debug(args ...interface{})
}
