// Package advertising owns discoverability: starting and stopping the
// connectable advertising set and re-arming it after a disconnect.
package advertising

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kardio/kardiod/internal/radio"
)

// State is a snapshot of the controller. Active and RestartPending are
// mutually exclusive.
type State struct {
	Active          bool
	RestartPending  bool
	RestartAttempts int
	NextAttempt     time.Time
}

// Controller drives the stack's advertising set. A restart after disconnect
// is deferred briefly so the stack can release per-connection resources,
// and retried with a fixed backoff without bound: the device's sole purpose
// is to be discoverable, so giving up is not an option. A generation
// counter guards scheduled restarts against cancellation races; bumping the
// generation invalidates any timer already in flight.
type Controller struct {
	stack radio.Stack
	log   *logrus.Logger
	opts  radio.AdvertisingOptions

	restartDelay   time.Duration
	restartBackoff time.Duration

	mu              sync.Mutex
	active          bool
	restartGen      uint64
	restartTimer    *time.Timer
	restartAttempts int
	nextAttempt     time.Time
}

// NewController creates a stopped controller. restartDelay is the pause
// before the first post-disconnect start attempt, restartBackoff the pause
// between failed attempts.
func NewController(stack radio.Stack, opts radio.AdvertisingOptions,
	restartDelay, restartBackoff time.Duration, log *logrus.Logger) *Controller {
	return &Controller{
		stack:          stack,
		log:            log,
		opts:           opts,
		restartDelay:   restartDelay,
		restartBackoff: restartBackoff,
	}
}

// Start begins advertising. A controller that is already active returns
// success without touching the stack.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.startLocked()
}

func (c *Controller) startLocked() error {
	if c.active {
		c.log.Debug("Advertising already active")
		return nil
	}
	if err := c.stack.StartAdvertising(c.opts); err != nil {
		return radio.WrapError(radio.AdvertisingStartFailed, err, "name %q", c.opts.Name)
	}
	c.active = true
	c.log.WithField("name", c.opts.Name).Info("Advertising started")
	return nil
}

// Stop halts advertising. The underlying stop call is issued even when the
// local state already says stopped, because the stack's view can diverge
// (it auto-stops advertising when a peer connects). Stop errors are
// absorbed: the net effect - not advertising - is what the caller needs,
// and the local state is force-set to stopped either way.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.stack.StopAdvertising(); err != nil {
		c.log.WithError(err).Warn("Advertising stop failed, treating as stopped")
	}
	c.active = false
}

// ScheduleRestart arms a deferred start attempt. Any previously pending
// restart is superseded.
func (c *Controller) ScheduleRestart() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancelRestartLocked()
	c.restartGen++
	gen := c.restartGen
	c.restartAttempts = 0
	c.nextAttempt = time.Now().Add(c.restartDelay)
	c.restartTimer = time.AfterFunc(c.restartDelay, func() { c.restartFired(gen) })
	c.log.WithField("delay", c.restartDelay).Debug("Advertising restart scheduled")
}

// CancelRestart drops any pending restart. Called the instant a peer
// connects; a timer that already fired is neutralized by the generation
// bump and the subsequent Stop.
func (c *Controller) CancelRestart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelRestartLocked()
}

func (c *Controller) cancelRestartLocked() {
	c.restartGen++
	if c.restartTimer != nil {
		c.restartTimer.Stop()
		c.restartTimer = nil
		c.log.Debug("Pending advertising restart cancelled")
	}
}

func (c *Controller) restartFired(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.restartGen {
		return // superseded or cancelled while the timer was in flight
	}
	c.restartTimer = nil

	if c.active {
		return
	}

	err := c.startLocked()
	if err == nil {
		c.restartAttempts = 0
		return
	}

	c.restartAttempts++
	c.nextAttempt = time.Now().Add(c.restartBackoff)
	c.log.WithError(err).WithFields(logrus.Fields{
		"attempt": c.restartAttempts,
		"backoff": c.restartBackoff,
	}).Warn("Advertising restart failed, retrying")
	c.restartTimer = time.AfterFunc(c.restartBackoff, func() { c.restartFired(gen) })
}

// Active reports whether advertising is currently on.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Snapshot returns the controller state for inspection.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := State{
		Active:          c.active,
		RestartPending:  c.restartTimer != nil,
		RestartAttempts: c.restartAttempts,
	}
	if s.RestartPending {
		s.NextAttempt = c.nextAttempt
	}
	return s
}
