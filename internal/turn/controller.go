// Package turn implements the Turn Controller state machine (spec.md
// §4.5): idle -> starting -> active -> idle, with a closing terminal
// state and a pending-cancel flag that cooperates with whatever is
// currently driving the ACP client.
package turn

import (
	"sync"

	"github.com/acpxdev/acpx/internal/errs"
)

// Lifecycle is the Turn Controller's state.
type Lifecycle string

const (
	Idle     Lifecycle = "idle"
	Starting Lifecycle = "starting"
	Active   Lifecycle = "active"
	Closing  Lifecycle = "closing"
)

// ActiveController is the narrow surface the Turn Controller needs from
// whatever is driving the current prompt (normally the ACP client) to
// cooperatively cancel it. It is a non-owning, weak-by-contract handle:
// cleared via Controller.ClearActiveController when the ACP client closes.
type ActiveController interface {
	RequestCancel()
}

// Controller is the Turn Controller. All exported methods are safe for
// concurrent use; transitions are mutually exclusive under mu.
type Controller struct {
	mu            sync.Mutex
	lifecycle     Lifecycle
	pendingCancel bool
	active        ActiveController
}

// New returns a Controller in the idle state.
func New() *Controller {
	return &Controller{lifecycle: Idle}
}

// State returns the current lifecycle and pending-cancel flag.
func (c *Controller) State() (Lifecycle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifecycle, c.pendingCancel
}

// BeginTurn transitions idle -> starting. Returns an error if the
// controller is closing or already mid-turn.
func (c *Controller) BeginTurn() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lifecycle == Closing {
		return closingError()
	}
	if c.lifecycle != Idle {
		return errs.Newf(errs.CodeRuntime, errs.OriginRuntime, "cannot begin turn from state %s", c.lifecycle)
	}
	c.lifecycle = Starting
	return nil
}

// MarkPromptActive transitions starting -> active, attaching the handle
// used to cooperatively cancel the now-active prompt. If a cancel was
// requested while starting, it is applied immediately.
func (c *Controller) MarkPromptActive(active ActiveController) {
	c.mu.Lock()
	c.lifecycle = Active
	c.active = active
	pending := c.pendingCancel
	c.mu.Unlock()

	if pending && active != nil {
		active.RequestCancel()
	}
}

// EndTurn transitions starting|active -> idle, clearing pendingCancel and
// detaching the active controller handle.
func (c *Controller) EndTurn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lifecycle == Closing {
		return
	}
	c.lifecycle = Idle
	c.pendingCancel = false
	c.active = nil
}

// BeginClosing transitions to the terminal closing state from any state.
// Once closing, further control ops are rejected.
func (c *Controller) BeginClosing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lifecycle = Closing
}

// ClearActiveController drops the weak reference to the active driver
// without changing lifecycle, used when the ACP client closes out from
// under an in-flight turn.
func (c *Controller) ClearActiveController() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active = nil
}

// RequestCancel accepts a cancel request. If a prompt is active, the
// cancel is applied immediately via the active controller and this
// returns true. If starting, pendingCancel is set for application at the
// starting->active transition and this returns true. Otherwise (idle or
// closing) this returns false: there is nothing to cancel.
func (c *Controller) RequestCancel() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.lifecycle {
	case Active:
		if c.active != nil {
			c.active.RequestCancel()
		}
		return true
	case Starting:
		c.pendingCancel = true
		return true
	default:
		return false
	}
}

// ApplyPendingCancel invokes the active controller's cancel path if a
// cancel is pending and a controller is attached. It is a no-op
// otherwise. MarkPromptActive performs the same check inline when it
// attaches a controller.
func (c *Controller) ApplyPendingCancel() {
	c.mu.Lock()
	pending := c.pendingCancel
	active := c.active
	c.mu.Unlock()

	if pending && active != nil {
		active.RequestCancel()
	}
}

// IsClosing reports whether the controller has entered the closing state.
func (c *Controller) IsClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lifecycle == Closing
}

func closingError() *errs.Error {
	return errs.New(errs.CodeRuntime, errs.OriginRuntime, "queue owner is closing").WithDetail("QUEUE_OWNER_CLOSING")
}

// ClosingError is exported so callers routing control ops through the
// controller (setSessionMode/setSessionConfigOption) can return the exact
// error spec.md §4.5 describes when lifecycle is closing.
func ClosingError() *errs.Error { return closingError() }
