// Package restart serializes disruptive bundle reloads and times them
// against the host's foreground and background transitions.
package restart

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/spicysparks/sparks-client/internal/bundle"
)

// Host is the application runtime that loads bundles.
type Host interface {
	// InstallActiveBundle makes path the bundle used by the next Reload.
	InstallActiveBundle(path string) error
	Reload(reason string) error
	// RestartApplication is the fallback when a reload cannot be performed.
	RestartApplication() error
}

// LiveReloader is implemented by hosts with a development live reload mode.
type LiveReloader interface {
	LiveReloadEnabled() bool
}

// Dispatcher runs fn on the thread that owns the host's rendering state.
type Dispatcher interface {
	Dispatch(fn func())
}

type DispatcherFunc func(fn func())

func (f DispatcherFunc) Dispatch(fn func()) { f(fn) }

// Inline runs fn on the calling goroutine.
var Inline Dispatcher = DispatcherFunc(func(fn func()) { fn() })

// Lifecycle is the part of the update lifecycle a reload drives.
type Lifecycle interface {
	ResolveBundle(bundleName string) (string, error)
	InitializeUpdateAfterRestart() error
	ClearDebugCacheIfNeeded(liveReloadEnabled bool) error
}

type PendingChecker interface {
	IsPendingUpdate(hash string) (bool, error)
}

// Timer is a cancellable deferred call.
type Timer interface {
	Stop() bool
}

type AfterFunc func(d time.Duration, f func()) Timer

const reloadReason = "Sparks triggers reload"

// Coordinator runs at most one reload at a time. Requests that arrive while
// a reload runs or while restarts are disallowed are queued and served in
// arrival order.
type Coordinator struct {
	mu         sync.Mutex
	host       Host
	lifecycle  Lifecycle
	pending    PendingChecker
	dispatcher Dispatcher
	afterFunc  AfterFunc
	now        func() time.Time

	allowed    bool
	inProgress bool
	queue      []bool
	reloads    int

	listening     bool
	installMode   bundle.InstallMode
	minBackground time.Duration
	lastPaused    time.Time
	suspendTimer  Timer
	// suspendGen invalidates timer callbacks that fired before Stop.
	suspendGen uint64
}

type Option func(*Coordinator)

func WithDispatcher(d Dispatcher) Option {
	return func(c *Coordinator) { c.dispatcher = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithAfterFunc replaces time.AfterFunc for the suspend timer.
func WithAfterFunc(f AfterFunc) Option {
	return func(c *Coordinator) { c.afterFunc = f }
}

func New(host Host, lc Lifecycle, pending PendingChecker, opts ...Option) *Coordinator {
	c := &Coordinator{
		host:       host,
		lifecycle:  lc,
		pending:    pending,
		dispatcher: Inline,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		now:     time.Now,
		allowed: true,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Restart reloads the bundle. With onlyIfPending the reload only happens
// when an installed update waits to be loaded.
func (c *Coordinator) Restart(onlyIfPending bool) error {
	c.mu.Lock()
	if c.inProgress {
		log.Info("restart request queued until the current restart is completed")
		c.queue = append(c.queue, onlyIfPending)
		c.mu.Unlock()
		return nil
	}
	if !c.allowed {
		log.Info("restart request queued until restarts are re-allowed")
		c.queue = append(c.queue, onlyIfPending)
		c.mu.Unlock()
		return nil
	}
	return c.serve(onlyIfPending)
}

// serve is called with c.mu held and releases it.
func (c *Coordinator) serve(onlyIfPending bool) error {
	for {
		c.inProgress = true
		c.mu.Unlock()

		proceed := true
		if onlyIfPending {
			pending, err := c.pending.IsPendingUpdate("")
			if err != nil {
				c.mu.Lock()
				c.inProgress = false
				c.mu.Unlock()
				return err
			}
			proceed = pending
		}
		if proceed {
			log.Info("restarting app")
			c.dispatcher.Dispatch(c.loadBundle)
			return nil
		}

		c.mu.Lock()
		c.inProgress = false
		if len(c.queue) == 0 || !c.allowed {
			c.mu.Unlock()
			return nil
		}
		onlyIfPending = c.queue[0]
		c.queue = c.queue[1:]
	}
}

func (c *Coordinator) loadBundle() {
	c.clearLifecycleListener()

	liveReload := false
	if lr, ok := c.host.(LiveReloader); ok {
		liveReload = lr.LiveReloadEnabled()
	}
	if err := c.lifecycle.ClearDebugCacheIfNeeded(liveReload); err != nil {
		log.Warnf("failed to clear debug cache: %v", err)
	}

	if err := c.reload(); err != nil {
		log.Warnf("failed to load the bundle, falling back to restarting the application: %v", err)
		if err := c.host.RestartApplication(); err != nil {
			log.Errorf("failed to restart the application: %v", err)
		}
	}

	// Requests queued by the replaced session do not carry over.
	c.mu.Lock()
	c.inProgress = false
	c.queue = nil
	c.reloads++
	c.mu.Unlock()
}

func (c *Coordinator) reload() error {
	path, err := c.lifecycle.ResolveBundle("")
	if err != nil {
		return err
	}
	if err := c.host.InstallActiveBundle(path); err != nil {
		return err
	}
	if err := c.host.Reload(reloadReason); err != nil {
		return err
	}
	return c.lifecycle.InitializeUpdateAfterRestart()
}

// Allow re-enables restarts and serves the oldest queued request.
func (c *Coordinator) Allow() error {
	log.Info("re-allowing restarts")
	c.mu.Lock()
	c.allowed = true
	if len(c.queue) == 0 || c.inProgress {
		c.mu.Unlock()
		return nil
	}
	log.Info("executing pending restart")
	next := c.queue[0]
	c.queue = c.queue[1:]
	return c.serve(next)
}

func (c *Coordinator) Disallow() {
	log.Info("disallowing restarts")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowed = false
}

// ClearPendingRestart drops queued requests without running them.
func (c *Coordinator) ClearPendingRestart() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.queue = nil
}

// OnInstall arms the foreground/background listener for the install modes
// that reload on a lifecycle transition. The latest install decides the
// mode and the minimum background duration.
func (c *Coordinator) OnInstall(mode bundle.InstallMode, minBackground time.Duration) {
	switch mode {
	case bundle.InstallImmediate, bundle.InstallOnNextResume, bundle.InstallOnNextSuspend:
	default:
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.installMode = mode
	c.minBackground = minBackground
	if !c.listening {
		c.listening = true
		c.lastPaused = time.Time{}
	}
}

// OnPause records the background transition and, for on-next-suspend
// installs with a pending update, schedules the reload.
func (c *Coordinator) OnPause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.listening {
		return
	}
	c.lastPaused = c.now()

	if c.installMode != bundle.InstallOnNextSuspend {
		return
	}
	pending, err := c.pending.IsPendingUpdate("")
	if err != nil {
		log.Warnf("failed to read pending update: %v", err)
		return
	}
	if !pending {
		return
	}
	c.stopSuspendTimerLocked()
	gen := c.suspendGen
	c.suspendTimer = c.afterFunc(c.minBackground, func() {
		c.mu.Lock()
		stale := gen != c.suspendGen
		if !stale {
			c.suspendTimer = nil
		}
		c.mu.Unlock()
		if stale {
			return
		}
		log.Info("loading bundle on suspend")
		if err := c.Restart(false); err != nil {
			log.Errorf("restart on suspend failed: %v", err)
		}
	})
}

// OnResume cancels a scheduled suspend reload and reloads when the app was
// in the background long enough.
func (c *Coordinator) OnResume() error {
	c.mu.Lock()
	if !c.listening {
		c.mu.Unlock()
		return nil
	}
	c.stopSuspendTimerLocked()
	// the first resume can arrive before any pause
	if c.lastPaused.IsZero() {
		c.mu.Unlock()
		return nil
	}
	inBackground := c.now().Sub(c.lastPaused)
	reload := c.installMode == bundle.InstallImmediate || inBackground >= c.minBackground
	c.mu.Unlock()

	if !reload {
		return nil
	}
	log.Info("loading bundle on resume")
	return c.Restart(false)
}

func (c *Coordinator) clearLifecycleListener() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listening = false
	c.lastPaused = time.Time{}
	c.stopSuspendTimerLocked()
}

func (c *Coordinator) stopSuspendTimerLocked() {
	c.suspendGen++
	if c.suspendTimer != nil {
		c.suspendTimer.Stop()
		c.suspendTimer = nil
	}
}

// Close cancels a scheduled suspend reload.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopSuspendTimerLocked()
}

func (c *Coordinator) Allowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allowed
}

func (c *Coordinator) InProgress() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inProgress
}

// Queued returns a copy of the queued requests, oldest first.
func (c *Coordinator) Queued() []bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]bool(nil), c.queue...)
}

// Reloads counts completed reloads, including fallbacks to a full restart.
func (c *Coordinator) Reloads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reloads
}

// Listening reports whether a lifecycle driven install mode is armed.
func (c *Coordinator) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listening
}
