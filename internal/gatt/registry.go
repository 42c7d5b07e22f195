// Package gatt tracks the exposed measurement services: their registration
// against the radio stack, the peer's subscription mode for each, and the
// peer binding used to target notifications.
package gatt

import (
	"sync"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"

	"github.com/kardio/kardiod/internal/radio"
)

// serviceHandle is the per-service state. registered and mode change under
// the handle mutex so readers never observe a half-applied transition.
type serviceHandle struct {
	desc *radio.ServiceDescription

	mu         sync.Mutex
	registered bool
	mode       radio.SubscriptionMode
	peer       radio.Peer
}

// Registry owns every exposed service handle. Handles are added once at
// construction time; the handle map itself is never mutated afterwards.
type Registry struct {
	stack   radio.Stack
	log     *logrus.Logger
	handles *hashmap.Map[string, *serviceHandle]
}

// NewRegistry creates a registry over the given stack with the services it
// will manage. Services start unregistered.
func NewRegistry(stack radio.Stack, log *logrus.Logger, descs ...*radio.ServiceDescription) *Registry {
	r := &Registry{
		stack:   stack,
		log:     log,
		handles: hashmap.New[string, *serviceHandle](),
	}
	for _, d := range descs {
		r.handles.Set(string(d.ID), &serviceHandle{desc: d})
	}
	return r
}

// Services returns the IDs of all managed services.
func (r *Registry) Services() []radio.ServiceID {
	var ids []radio.ServiceID
	r.handles.Range(func(_ string, h *serviceHandle) bool {
		ids = append(ids, h.desc.ID)
		return true
	})
	return ids
}

// Register registers the service with the stack. Registering a service
// that is already registered is a no-op success.
func (r *Registry) Register(id radio.ServiceID) error {
	h, ok := r.handles.Get(string(id))
	if !ok {
		return radio.WrapError(radio.ServiceUnknown, nil, "service %q", id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.registered {
		r.log.WithField("service", id).Debug("Service already registered")
		return nil
	}

	if err := r.stack.RegisterService(h.desc); err != nil {
		return radio.WrapError(radio.ServiceRegistrationFailed, err, "service %q", id)
	}
	h.registered = true
	r.log.WithField("service", id).Info("Service registered")
	return nil
}

// Unregister removes the service from the stack. Unregistering a service
// that is not registered is a no-op success. On success the subscription
// mode resets to none; a peer must re-subscribe after re-registration.
func (r *Registry) Unregister(id radio.ServiceID) error {
	h, ok := r.handles.Get(string(id))
	if !ok {
		return radio.WrapError(radio.ServiceUnknown, nil, "service %q", id)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.registered {
		r.log.WithField("service", id).Debug("Service already unregistered")
		return nil
	}

	if err := r.stack.UnregisterService(id); err != nil {
		return radio.WrapError(radio.ServiceUnregistrationFailed, err, "service %q", id)
	}
	h.registered = false
	h.mode = radio.SubscriptionNone
	r.log.WithField("service", id).Info("Service unregistered")
	return nil
}

// RegisterAll registers every managed service, stopping at the first failure.
func (r *Registry) RegisterAll() error {
	var firstErr error
	r.handles.Range(func(_ string, h *serviceHandle) bool {
		if err := r.Register(h.desc.ID); err != nil {
			firstErr = err
			return false
		}
		return true
	})
	return firstErr
}

// IsRegistered reports whether the service is currently registered.
func (r *Registry) IsRegistered(id radio.ServiceID) bool {
	h, ok := r.handles.Get(string(id))
	if !ok {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registered
}

// OnSubscriptionChanged records the peer's new subscription mode for a
// service. Invoked from the stack's event context.
func (r *Registry) OnSubscriptionChanged(id radio.ServiceID, mode radio.SubscriptionMode) {
	h, ok := r.handles.Get(string(id))
	if !ok {
		r.log.WithField("service", id).Warn("Subscription change for unknown service")
		return
	}
	h.mu.Lock()
	h.mode = mode
	h.mu.Unlock()
	r.log.WithFields(logrus.Fields{"service": id, "mode": mode.String()}).
		Info("Subscription mode changed")
}

// SubscriptionMode returns the peer's current subscription mode for a
// service. Producers query this before every send.
func (r *Registry) SubscriptionMode(id radio.ServiceID) radio.SubscriptionMode {
	h, ok := r.handles.Get(string(id))
	if !ok {
		return radio.SubscriptionNone
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

// BindPeer targets all services at the connected peer.
func (r *Registry) BindPeer(peer radio.Peer) {
	r.handles.Range(func(_ string, h *serviceHandle) bool {
		h.mu.Lock()
		h.peer = peer
		h.mu.Unlock()
		return true
	})
	r.log.WithField("peer", peer).Debug("Peer bound to services")
}

// UnbindPeer clears the peer binding and subscription mode on all services.
func (r *Registry) UnbindPeer() {
	r.handles.Range(func(_ string, h *serviceHandle) bool {
		h.mu.Lock()
		h.peer = ""
		h.mode = radio.SubscriptionNone
		h.mu.Unlock()
		return true
	})
	r.log.Debug("Peer unbound from services")
}

// Notify pushes a frame to the bound peer. Indications are preferred when
// the service offers them and the peer enabled them, because they carry
// delivery confirmation; otherwise a plain notification is used. With no
// subscription the frame is dropped silently - there is no peer to receive
// it and that is not an error.
func (r *Registry) Notify(id radio.ServiceID, frame []byte) error {
	h, ok := r.handles.Get(string(id))
	if !ok {
		return radio.WrapError(radio.ServiceUnknown, nil, "service %q", id)
	}

	h.mu.Lock()
	mode := h.mode
	peer := h.peer
	indicate := h.desc.SupportsIndicate
	h.mu.Unlock()

	switch {
	case indicate && mode.CanIndicate():
		return r.stack.Indicate(id, peer, frame)
	case mode.CanNotify():
		return r.stack.Notify(id, peer, frame)
	default:
		r.log.WithField("service", id).Debug("No subscriber, frame dropped")
		return nil
	}
}
