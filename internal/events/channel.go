// Package events provides the scoped event channel used by pipeline runs.
//
// Listeners registered while a scope is open are recorded against the
// innermost scope and removed when that scope is left. Finalizers queued with
// Finally run after listener teardown, in registration order.
package events

import (
	"sync"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
)

// Event names emitted by the lifecycle and the plugin manager.
const (
	UploadProgress        = "upload-progress"
	BeforeTransform       = "before-transform"
	BeforeUpload          = "before-upload"
	AfterUpload           = "after-upload"
	UploadFinished        = "upload-finished"
	UploadFailed          = "upload-failed"
	NotificationEvent     = "notification"
	PluginInstalled       = "plugin-installed"
	PluginInstallFailed   = "plugin-install-failed"
	PluginUninstalled     = "plugin-uninstalled"
	PluginUninstallFailed = "plugin-uninstall-failed"
	PluginUpdated         = "plugin-updated"
	PluginUpdateFailed    = "plugin-update-failed"
)

var (
	ErrNoScope        = ferrors.RuntimeError("no scope is open").Build()
	ErrScopeReentered = ferrors.RuntimeError("scope is already open").Build()
	ErrScopeMismatch  = ferrors.RuntimeError("scope is not the innermost open scope").Build()
)

// Listener receives the arguments passed to Emit.
type Listener func(args ...any)

// Notification is the payload of the notification event.
type Notification struct {
	Title string
	Body  string
}

type listenerEntry struct {
	id   uint64
	fn   Listener
	once bool
}

type frame struct {
	name       string
	listeners  []func()
	finalizers []func()
}

// Channel dispatches named events synchronously to listeners in
// registration order.
type Channel struct {
	mu        sync.Mutex
	listeners map[string][]*listenerEntry
	scopes    []*frame
	nextID    uint64
}

// NewChannel returns an empty channel with no open scopes.
func NewChannel() *Channel {
	return &Channel{listeners: make(map[string][]*listenerEntry)}
}

// On registers fn for event and returns a func that removes it again.
func (c *Channel) On(event string, fn Listener) func() {
	return c.add(event, fn, false)
}

// Once registers fn so it is removed after its first invocation.
func (c *Channel) Once(event string, fn Listener) func() {
	return c.add(event, fn, true)
}

func (c *Channel) add(event string, fn Listener, once bool) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID
	c.listeners[event] = append(c.listeners[event], &listenerEntry{id: id, fn: fn, once: once})

	var removeOnce sync.Once
	remove := func() {
		removeOnce.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			c.removeLocked(event, id)
		})
	}

	if n := len(c.scopes); n > 0 {
		top := c.scopes[n-1]
		top.listeners = append(top.listeners, remove)
	}
	return remove
}

func (c *Channel) removeLocked(event string, id uint64) {
	list := c.listeners[event]
	for i, l := range list {
		if l.id == id {
			c.listeners[event] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(c.listeners[event]) == 0 {
		delete(c.listeners, event)
	}
}

// Emit invokes the listeners of event in registration order and reports
// whether any listener was called. Listeners may register or remove
// listeners while being dispatched.
func (c *Channel) Emit(event string, args ...any) bool {
	c.mu.Lock()
	snapshot := append([]*listenerEntry(nil), c.listeners[event]...)
	for _, l := range snapshot {
		if l.once {
			c.removeLocked(event, l.id)
		}
	}
	c.mu.Unlock()

	for _, l := range snapshot {
		l.fn(args...)
	}
	return len(snapshot) > 0
}

// ListenerCount returns the number of listeners registered for event.
func (c *Channel) ListenerCount(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners[event])
}

// Enter opens a new innermost scope. A scope name may not be open twice.
func (c *Channel) Enter(scope string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, f := range c.scopes {
		if f.name == scope {
			return ErrScopeReentered.WithContext("scope", scope)
		}
	}
	c.scopes = append(c.scopes, &frame{name: scope})
	return nil
}

// Leave closes scope, which must be the innermost open scope. Listeners
// recorded in the scope are removed first, then its finalizers run.
func (c *Channel) Leave(scope string) error {
	c.mu.Lock()
	n := len(c.scopes)
	if n == 0 {
		c.mu.Unlock()
		return ErrNoScope.WithContext("scope", scope)
	}
	top := c.scopes[n-1]
	if top.name != scope {
		c.mu.Unlock()
		return ErrScopeMismatch.WithContext("scope", scope).WithContext("innermost", top.name)
	}
	c.scopes = c.scopes[:n-1]
	c.mu.Unlock()

	for _, remove := range top.listeners {
		remove()
	}
	for _, fn := range top.finalizers {
		fn()
	}
	return nil
}

// Finally queues fn to run when the innermost scope is left.
func (c *Channel) Finally(fn func()) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.scopes)
	if n == 0 {
		return ErrNoScope
	}
	c.scopes[n-1].finalizers = append(c.scopes[n-1].finalizers, fn)
	return nil
}

// Scope runs fn inside scope. The scope is left even if fn fails or panics.
func (c *Channel) Scope(scope string, fn func() error) (err error) {
	if err := c.Enter(scope); err != nil {
		return err
	}
	defer func() {
		if leaveErr := c.Leave(scope); err == nil {
			err = leaveErr
		}
	}()
	return fn()
}

// Depth returns the number of open scopes.
func (c *Channel) Depth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.scopes)
}
