package testutils

import (
	"sync"

	"github.com/kardio/kardiod/internal/radio"
)

// Send records one Notify or Indicate call issued to the fake stack.
type Send struct {
	Service  radio.ServiceID
	Peer     radio.Peer
	Frame    []byte
	Indicate bool
}

// FakeStack is an in-memory radio.Stack for tests. Failures are injected
// per operation; FailStartAdvertisingTimes makes the next N start calls
// fail, which is how advertising-restart backoff is exercised.
type FakeStack struct {
	mu      sync.Mutex
	handler radio.EventHandler

	enabled     bool
	advertising bool
	registered  map[radio.ServiceID]bool

	EnableErr                 error
	DisableErr                error
	StartAdvertisingErr       error
	FailStartAdvertisingTimes int
	StopAdvertisingErr        error
	RegisterErr               error
	UnregisterErr             error
	NotifyErr                 error
	IndicateErr               error

	enableCalls     int
	disableCalls    int
	startAdvCalls   int
	stopAdvCalls    int
	registerCalls   int
	unregisterCalls int

	sends []Send
}

// NewFakeStack returns a disabled fake stack with no registered services.
func NewFakeStack() *FakeStack {
	return &FakeStack{registered: make(map[radio.ServiceID]bool)}
}

func (f *FakeStack) Enable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enableCalls++
	if f.EnableErr != nil {
		return f.EnableErr
	}
	f.enabled = true
	return nil
}

func (f *FakeStack) Disable() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disableCalls++
	if f.DisableErr != nil {
		return f.DisableErr
	}
	f.enabled = false
	f.advertising = false
	return nil
}

func (f *FakeStack) StartAdvertising(_ radio.AdvertisingOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startAdvCalls++
	if f.FailStartAdvertisingTimes > 0 {
		f.FailStartAdvertisingTimes--
		return errOrDefault(f.StartAdvertisingErr, "advertising start refused")
	}
	if f.StartAdvertisingErr != nil {
		return f.StartAdvertisingErr
	}
	f.advertising = true
	return nil
}

func (f *FakeStack) StopAdvertising() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopAdvCalls++
	f.advertising = false
	return f.StopAdvertisingErr
}

func (f *FakeStack) RegisterService(desc *radio.ServiceDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.registerCalls++
	if f.RegisterErr != nil {
		return f.RegisterErr
	}
	f.registered[desc.ID] = true
	return nil
}

func (f *FakeStack) UnregisterService(id radio.ServiceID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unregisterCalls++
	if f.UnregisterErr != nil {
		return f.UnregisterErr
	}
	delete(f.registered, id)
	return nil
}

func (f *FakeStack) Notify(id radio.ServiceID, peer radio.Peer, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.NotifyErr != nil {
		return f.NotifyErr
	}
	f.sends = append(f.sends, Send{Service: id, Peer: peer, Frame: frame})
	return nil
}

func (f *FakeStack) Indicate(id radio.ServiceID, peer radio.Peer, frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.IndicateErr != nil {
		return f.IndicateErr
	}
	f.sends = append(f.sends, Send{Service: id, Peer: peer, Frame: frame, Indicate: true})
	return nil
}

func (f *FakeStack) SetEventHandler(h radio.EventHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = h
}

// Connect simulates the stack reporting a successful peer connection.
func (f *FakeStack) Connect(peer radio.Peer) {
	f.eventHandler().HandleConnected(peer, 0)
}

// ConnectWithError simulates a failed link-layer connection attempt.
func (f *FakeStack) ConnectWithError(peer radio.Peer, errCode uint8) {
	f.eventHandler().HandleConnected(peer, errCode)
}

// Disconnect simulates the peer link dropping.
func (f *FakeStack) Disconnect(peer radio.Peer, reason uint8) {
	f.eventHandler().HandleDisconnected(peer, reason)
}

// Subscribe simulates the peer writing a service's subscription control value.
func (f *FakeStack) Subscribe(id radio.ServiceID, mode radio.SubscriptionMode) {
	f.eventHandler().HandleSubscriptionChanged(id, mode)
}

func (f *FakeStack) eventHandler() radio.EventHandler {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.handler == nil {
		panic("fake stack: no event handler set")
	}
	return f.handler
}

func (f *FakeStack) IsEnabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *FakeStack) IsAdvertising() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.advertising
}

func (f *FakeStack) IsRegistered(id radio.ServiceID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.registered[id]
}

// Sends returns a copy of all recorded Notify/Indicate calls.
func (f *FakeStack) Sends() []Send {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Send, len(f.sends))
	copy(out, f.sends)
	return out
}

func (f *FakeStack) EnableCalls() int     { f.mu.Lock(); defer f.mu.Unlock(); return f.enableCalls }
func (f *FakeStack) DisableCalls() int    { f.mu.Lock(); defer f.mu.Unlock(); return f.disableCalls }
func (f *FakeStack) StartAdvCalls() int   { f.mu.Lock(); defer f.mu.Unlock(); return f.startAdvCalls }
func (f *FakeStack) StopAdvCalls() int    { f.mu.Lock(); defer f.mu.Unlock(); return f.stopAdvCalls }
func (f *FakeStack) RegisterCalls() int   { f.mu.Lock(); defer f.mu.Unlock(); return f.registerCalls }
func (f *FakeStack) UnregisterCalls() int { f.mu.Lock(); defer f.mu.Unlock(); return f.unregisterCalls }
